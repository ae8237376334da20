// Package statefile provides a durable, lock-protected state document shared
// across processes and machines via a common filesystem mount.
//
// A state file is a small YAML snapshot paired with a companion advisory lock
// file (the snapshot path plus a ".lock" suffix). All read-modify-write
// sequences run inside a bounded-wait exclusive lock on the companion file,
// so two processes racing the same snapshot observe a total order of updates.
//
// The snapshot file is created lazily on first load: a load against a missing
// file persists the caller's defaults before returning. The lock file carries
// no semantic content; only its advisory lock matters.
package statefile

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"
	"gopkg.in/yaml.v3"
)

// DefaultLockTimeout bounds how long a caller waits for the companion lock.
// Indefinite waits on a shared-filesystem lock are a deadlock vector when the
// holder may be a crashed process on another machine, so the wait is always
// bounded and expiry is surfaced as ErrLockTimeout rather than retried.
const DefaultLockTimeout = 10 * time.Second

// lockRetryInterval is the poll cadence while waiting for the advisory lock.
const lockRetryInterval = 50 * time.Millisecond

// ErrLockTimeout indicates the companion lock could not be acquired within
// the bounded window. Recoverable by retrying later, or by operator
// intervention if the holder crashed without releasing.
var ErrLockTimeout = errors.New("state file lock timeout")

// LockSuffix is appended to the snapshot path to derive the companion
// lock-file path.
const LockSuffix = ".lock"

// File is a handle to one on-disk state snapshot and its companion lock.
//
// File is cheap to construct and holds no open descriptors between
// operations; it is safe to create one per call site for the same path, as
// mutual exclusion is keyed by the derived lock-file path, not the handle.
type File struct {
	path     string
	lockPath string
	timeout  time.Duration
}

// Option configures a File.
type Option func(*File)

// WithLockTimeout overrides DefaultLockTimeout.
func WithLockTimeout(d time.Duration) Option {
	return func(f *File) {
		if d > 0 {
			f.timeout = d
		}
	}
}

// New returns a File for the given snapshot path. The lock-file path is
// purely derived: path + ".lock".
func New(path string, opts ...Option) *File {
	f := &File{
		path:     path,
		lockPath: path + LockSuffix,
		timeout:  DefaultLockTimeout,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Path returns the snapshot path.
func (f *File) Path() string { return f.path }

// LockPath returns the derived companion lock-file path.
func (f *File) LockPath() string { return f.lockPath }

// WithLock acquires the companion advisory lock, runs fn, and releases the
// lock. The wait for the lock is bounded by the File's timeout; on expiry
// WithLock returns ErrLockTimeout without invoking fn.
//
// The snapshot's parent directory is created if absent, since the lock file
// must be creatable before the first snapshot write.
func (f *File) WithLock(fn func() error) error {
	if err := os.MkdirAll(filepath.Dir(f.path), 0755); err != nil {
		return fmt.Errorf("create state dir: %w", err)
	}

	lock := flock.New(f.lockPath)
	ctx, cancel := context.WithTimeout(context.Background(), f.timeout)
	defer cancel()

	locked, err := lock.TryLockContext(ctx, lockRetryInterval)
	if err != nil && !errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("acquire lock %s: %w", f.lockPath, err)
	}
	if !locked {
		return fmt.Errorf("%w: %s held for longer than %s", ErrLockTimeout, f.lockPath, f.timeout)
	}
	defer func() { _ = lock.Unlock() }()

	return fn()
}

// Load reads the current on-disk snapshot into out. If the snapshot file does
// not exist yet, the current contents of out (the caller's defaults) are
// persisted first, so a tracker file is self-initializing on first touch.
//
// Load must be called inside WithLock; it performs no locking of its own.
func (f *File) Load(out any) error {
	data, err := os.ReadFile(f.path)
	if err != nil {
		if os.IsNotExist(err) {
			return f.Save(out)
		}
		return fmt.Errorf("read state file %s: %w", f.path, err)
	}
	if err := yaml.Unmarshal(data, out); err != nil {
		// The snapshot format is fixed within a pipeline run; a parse
		// failure means the file was corrupted or hand-edited and is fatal.
		return fmt.Errorf("parse state file %s: %w", f.path, err)
	}
	return nil
}

// Save atomically overwrites the on-disk snapshot with in. The write goes to
// a temp file in the same directory followed by a rename, so readers on other
// machines never observe a torn snapshot.
//
// Save must be called inside WithLock; it performs no locking of its own.
func (f *File) Save(in any) error {
	data, err := yaml.Marshal(in)
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}

	dir := filepath.Dir(f.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create state dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(f.path)+".tmp.*")
	if err != nil {
		return fmt.Errorf("create temp state file: %w", err)
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write temp state file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp state file: %w", err)
	}
	if err := os.Rename(tmpName, f.path); err != nil {
		return fmt.Errorf("rename state file: %w", err)
	}
	return nil
}

// Update is the common read-modify-write sequence: under the exclusive lock,
// load the snapshot into out (initializing it if absent), apply fn, and save
// the result if fn reports a mutation.
//
// fn returns (save, err): save=false with a nil error means the operation was
// a read or a no-op and the snapshot is left untouched.
func (f *File) Update(out any, fn func() (bool, error)) error {
	return f.WithLock(func() error {
		if err := f.Load(out); err != nil {
			return err
		}
		save, err := fn()
		if err != nil {
			return err
		}
		if save {
			return f.Save(out)
		}
		return nil
	})
}

// IsLockTimeout reports whether err indicates the bounded lock wait expired.
func IsLockTimeout(err error) bool {
	return errors.Is(err, ErrLockTimeout)
}
