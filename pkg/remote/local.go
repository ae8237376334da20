package remote

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"sync"

	"github.com/mesolab/batchkeeper/pkg/job"
)

// Local is a Service that executes jobs as child processes on the local
// host. It serves single-host deployments where the manager runs on the
// compute machine itself, and doubles as the integration backend in tests.
//
// Jobs run their command list sequentially through the shell, with stdout
// and stderr captured to the job's log files, mirroring what the batch
// scheduler does with a submission script.
type Local struct {
	mu    sync.Mutex
	next  int64
	procs map[int64]*localProc
}

type localProc struct {
	done chan struct{}
	err  error
}

// Ensure Local implements the full remote capability surface.
var _ Service = (*Local)(nil)

// NewLocal returns a Local execution service.
func NewLocal() *Local {
	return &Local{procs: make(map[int64]*localProc)}
}

// Submit starts the job's commands in a child shell and returns immediately
// with a handle. The job's working directory is created if absent.
func (l *Local) Submit(ctx context.Context, j *job.Job) (Handle, error) {
	if err := j.Validate(); err != nil {
		return Handle{}, &OpError{Op: "Submit", Err: err}
	}
	if err := os.MkdirAll(j.WorkingDir, 0755); err != nil {
		return Handle{}, &OpError{Op: "Submit", Path: j.WorkingDir, Err: err}
	}

	stdout, err := os.Create(j.OutputLog)
	if err != nil {
		return Handle{}, &OpError{Op: "Submit", Path: j.OutputLog, Err: err}
	}
	stderr, err := os.Create(j.ErrorLog)
	if err != nil {
		_ = stdout.Close()
		return Handle{}, &OpError{Op: "Submit", Path: j.ErrorLog, Err: err}
	}

	script := ""
	for _, cmd := range j.Commands() {
		script += cmd + "\n"
	}
	cmd := exec.Command("/bin/sh", "-e", "-c", script)
	cmd.Dir = j.WorkingDir
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	cmd.Env = os.Environ()

	if err := cmd.Start(); err != nil {
		_ = stdout.Close()
		_ = stderr.Close()
		return Handle{}, &OpError{Op: "Submit", Err: fmt.Errorf("start job %s: %w", j.Name, err)}
	}

	proc := &localProc{done: make(chan struct{})}
	l.mu.Lock()
	l.next++
	id := l.next
	l.procs[id] = proc
	l.mu.Unlock()

	go func() {
		proc.err = cmd.Wait()
		_ = stdout.Close()
		_ = stderr.Close()
		close(proc.done)
	}()

	return Handle{JobID: j.ID, SchedulerID: id}, nil
}

// IsComplete reports whether the child process has exited. Like the real
// scheduler, a non-zero exit still counts as terminal; logical success is
// the tracker's concern.
func (l *Local) IsComplete(ctx context.Context, h Handle) (bool, error) {
	l.mu.Lock()
	proc, ok := l.procs[h.SchedulerID]
	l.mu.Unlock()
	if !ok {
		return false, &OpError{Op: "IsComplete", Err: fmt.Errorf("%w: %d", ErrUnknownHandle, h.SchedulerID)}
	}
	select {
	case <-proc.done:
		return true, nil
	default:
		return false, nil
	}
}

// PullFile copies remotePath to localPath, creating parent directories.
func (l *Local) PullFile(ctx context.Context, remotePath, localPath string) error {
	src, err := os.Open(remotePath)
	if err != nil {
		if os.IsNotExist(err) {
			return &OpError{Op: "PullFile", Path: remotePath, Err: ErrNotFound}
		}
		return &OpError{Op: "PullFile", Path: remotePath, Err: err}
	}
	defer func() { _ = src.Close() }()

	if err := os.MkdirAll(filepath.Dir(localPath), 0755); err != nil {
		return &OpError{Op: "PullFile", Path: localPath, Err: err}
	}
	dst, err := os.Create(localPath)
	if err != nil {
		return &OpError{Op: "PullFile", Path: localPath, Err: err}
	}
	defer func() { _ = dst.Close() }()

	if _, err := io.Copy(dst, src); err != nil {
		return &OpError{Op: "PullFile", Path: localPath, Err: err}
	}
	return nil
}

// CreateDirectory creates path and any missing parents.
func (l *Local) CreateDirectory(ctx context.Context, path string) error {
	if err := os.MkdirAll(path, 0755); err != nil {
		return &OpError{Op: "CreateDirectory", Path: path, Err: err}
	}
	return nil
}

// Remove deletes path; with recursive set, directories go with their
// contents. Removing a missing path is not an error.
func (l *Local) Remove(ctx context.Context, path string, recursive bool) error {
	var err error
	if recursive {
		err = os.RemoveAll(path)
	} else {
		err = os.Remove(path)
		if os.IsNotExist(err) {
			err = nil
		}
	}
	if err != nil {
		return &OpError{Op: "Remove", Path: path, Err: err}
	}
	return nil
}
