// Package remote defines the narrow capability interface through which the
// coordination core reaches the compute cluster's batch scheduler and its
// filesystem.
//
// The interface is deliberately thin: submit a job, poll a handle, and move
// files. Everything the scheduler does beyond that (queueing, fairness,
// preemption) is outside this core. Implementations should never block past
// submission acknowledgment; completion waits are realized by the caller
// polling IsComplete.
package remote

import (
	"context"

	"github.com/mesolab/batchkeeper/pkg/job"
)

// Handle identifies one submitted job on the scheduler.
type Handle struct {
	// JobID is the submitting job's id.
	JobID string

	// SchedulerID is the scheduler-assigned numeric id for the submission.
	SchedulerID int64
}

// Executor submits jobs to the batch scheduler and polls their state.
type Executor interface {
	// Submit enqueues one job and returns its handle. Returns after
	// submission acknowledgment; never waits for the job to run.
	Submit(ctx context.Context, j *job.Job) (Handle, error)

	// IsComplete reports whether the handle has reached a terminal
	// scheduler state. Scheduler-terminal means the job left the queue for
	// any reason (finished, killed, timed out); it says nothing about
	// whether the job's own logic succeeded. Non-blocking.
	IsComplete(ctx context.Context, h Handle) (bool, error)
}

// Filesystem exposes plain file operations against the remote host.
type Filesystem interface {
	// PullFile copies remotePath on the remote host to localPath.
	PullFile(ctx context.Context, remotePath, localPath string) error

	// CreateDirectory creates path (and parents) on the remote host.
	CreateDirectory(ctx context.Context, path string) error

	// Remove deletes path on the remote host. With recursive set,
	// directories are removed with their contents.
	Remove(ctx context.Context, path string, recursive bool) error
}

// Service is the full remote execution capability consumed by the pipeline
// executor.
type Service interface {
	Executor
	Filesystem
}
