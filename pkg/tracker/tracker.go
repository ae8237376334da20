// Package tracker implements the durable, ownership-gated state machines that
// coordinate pipeline runs across processes and machines sharing a filesystem.
//
// Two state containers are provided:
//
//   - Tracker: records one pipeline run's ownership and progress (who owns
//     it, how many jobs are scheduled and done, whether it succeeded or
//     failed). Remote jobs report completion into the tracker file; the
//     manager process reads it to decide whether to advance the pipeline.
//   - SessionLock: single-owner mutual exclusion for a data resource that
//     needs no job counting.
//
// Both are thin state machines over a statefile.File: every mutating verb
// acquires the companion lock, reloads the on-disk snapshot, validates it,
// applies the transition, and persists. Queries always reload from disk,
// never from an in-memory cache, because the writer of record may be a
// different process on a different machine.
package tracker

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/mesolab/batchkeeper/pkg/statefile"
)

// UnownedID is the manager id recorded when no manager owns the resource.
const UnownedID = -1

// JobStatus is the lifecycle status of one tracked job.
//
// NOTE: These values are persisted in tracker files and are part of the
// stable on-disk contract. Unknown values fail validation on load.
type JobStatus string

const (
	JobScheduled JobStatus = "scheduled"
	JobRunning   JobStatus = "running"
	JobSucceeded JobStatus = "succeeded"
	JobFailed    JobStatus = "failed"
)

func (s JobStatus) valid() bool {
	switch s {
	case JobScheduled, JobRunning, JobSucceeded, JobFailed:
		return true
	}
	return false
}

// JobRecord is the per-job entry kept when a run is started with job-level
// granularity.
type JobRecord struct {
	ID string `yaml:"id"`

	Status JobStatus `yaml:"status"`

	// Handle is the scheduler-assigned numeric id, zero until the worker
	// reports it via StartJob.
	Handle int64 `yaml:"handle,omitempty"`
}

// State is one pipeline run's on-disk snapshot.
//
// Exactly one of {running, complete-for-this-attempt, errored, unowned-idle}
// holds at any observation; Manager != UnownedID if and only if Running.
type State struct {
	Running       bool                 `yaml:"running"`
	Complete      bool                 `yaml:"complete"`
	Error         bool                 `yaml:"error"`
	Manager       int                  `yaml:"manager"`
	JobCount      int                  `yaml:"job_count"`
	CompletedJobs int                  `yaml:"completed_jobs"`
	Jobs          map[string]JobRecord `yaml:"jobs,omitempty"`
}

func defaultState() State {
	return State{Manager: UnownedID, JobCount: 1}
}

// validate rejects snapshots that violate the run-state invariants. The
// snapshot format is fixed within a pipeline run, so a violation means the
// file was corrupted or written by incompatible tooling and is fatal.
func (s *State) validate(path string) error {
	if s.Running != (s.Manager != UnownedID) {
		return fmt.Errorf("corrupt tracker %s: running=%v but manager=%d", path, s.Running, s.Manager)
	}
	if s.CompletedJobs > s.JobCount {
		return fmt.Errorf("corrupt tracker %s: completed_jobs=%d exceeds job_count=%d", path, s.CompletedJobs, s.JobCount)
	}
	for id, rec := range s.Jobs {
		if !rec.Status.valid() {
			return fmt.Errorf("corrupt tracker %s: job %q has unknown status %q", path, id, rec.Status)
		}
	}
	return nil
}

// Tracker is the ownership-gated state machine for a single pipeline run.
//
// The zero value is not usable; construct with New or ForKind.
type Tracker struct {
	file *statefile.File
}

// Option configures a Tracker.
type Option func(*options)

type options struct {
	lockTimeout time.Duration
}

// WithLockTimeout bounds the wait for the companion lock on every operation.
func WithLockTimeout(d time.Duration) Option {
	return func(o *options) { o.lockTimeout = d }
}

// New returns a Tracker over the given snapshot path. The underlying file is
// created lazily on first touch.
func New(path string, opts ...Option) *Tracker {
	o := options{lockTimeout: statefile.DefaultLockTimeout}
	for _, opt := range opts {
		opt(&o)
	}
	return &Tracker{file: statefile.New(path, statefile.WithLockTimeout(o.lockTimeout))}
}

// ForKind returns a Tracker for the well-known kind file inside dir.
func ForKind(dir string, k Kind, opts ...Option) *Tracker {
	return New(filepath.Join(dir, k.FileName()), opts...)
}

// Path returns the tracker snapshot path.
func (t *Tracker) Path() string { return t.file.Path() }

func (t *Tracker) update(op string, manager int, fn func(st *State) (bool, error)) error {
	st := defaultState()
	return t.file.Update(&st, func() (bool, error) {
		if err := st.validate(t.file.Path()); err != nil {
			return false, err
		}
		save, err := fn(&st)
		if err != nil {
			return false, &StateError{Op: op, Path: t.file.Path(), Manager: manager, Owner: st.Manager, Err: err}
		}
		return save, nil
	})
}

// Start transitions the run to running under managerID with jobCount jobs.
//
// If the run is already owned by a different manager, Start fails with
// ErrOwnershipConflict: this is the single-writer guarantee that prevents two
// managers from racing the same remote pipeline. A re-start by the current
// owner is an idempotent no-op, so workers may call Start redundantly at the
// beginning of every job in a multi-job stage.
func (t *Tracker) Start(managerID, jobCount int) error {
	if jobCount < 1 {
		return fmt.Errorf("job count must be >= 1, got %d", jobCount)
	}
	return t.update("Start", managerID, func(st *State) (bool, error) {
		if st.Running {
			if st.Manager != managerID {
				return false, ErrOwnershipConflict
			}
			return false, nil
		}
		*st = State{
			Running:  true,
			Manager:  managerID,
			JobCount: jobCount,
		}
		return true, nil
	})
}

// StartWithJobs is Start with job-level granularity: the run tracks one
// JobRecord per id, and workers report per-job transitions via StartJob,
// CompleteJob, and FailJob.
func (t *Tracker) StartWithJobs(managerID int, jobIDs []string) error {
	if len(jobIDs) == 0 {
		return fmt.Errorf("at least one job id is required")
	}
	return t.update("Start", managerID, func(st *State) (bool, error) {
		if st.Running {
			if st.Manager != managerID {
				return false, ErrOwnershipConflict
			}
			return false, nil
		}
		jobs := make(map[string]JobRecord, len(jobIDs))
		for _, id := range jobIDs {
			jobs[id] = JobRecord{ID: id, Status: JobScheduled}
		}
		*st = State{
			Running:  true,
			Manager:  managerID,
			JobCount: len(jobIDs),
			Jobs:     jobs,
		}
		return true, nil
	})
}

// Stop records one job's completion. Ownership-checked like Error. The
// completed-job counter is incremented; when it reaches the configured job
// count the run transitions to complete and releases ownership, so multiple
// jobs within one stage report completion independently and only the last
// one finalizes the run.
func (t *Tracker) Stop(managerID int) error {
	return t.update("Stop", managerID, func(st *State) (bool, error) {
		if !st.Running {
			return false, nil
		}
		if st.Manager != managerID {
			return false, ErrOwnershipConflict
		}
		st.CompletedJobs++
		if st.CompletedJobs >= st.JobCount {
			st.Complete = true
			st.Running = false
			st.Manager = UnownedID
		}
		return true, nil
	})
}

// Error records that the current attempt failed. The error flag is set and
// ownership released, which unlocks the run for the next attempt while
// recording that the previous one failed. A no-op when the run is idle.
func (t *Tracker) Error(managerID int) error {
	return t.update("Error", managerID, func(st *State) (bool, error) {
		if !st.Running {
			return false, nil
		}
		if st.Manager != managerID {
			return false, ErrOwnershipConflict
		}
		st.Error = true
		st.Running = false
		st.Manager = UnownedID
		return true, nil
	})
}

// Abort unconditionally resets the run to idle regardless of the current
// owner. This is the designated recovery path for pipelines orphaned by a
// process crash or forced job termination; it sets neither complete nor
// error, and clears any job records.
func (t *Tracker) Abort() error {
	return t.update("Abort", UnownedID, func(st *State) (bool, error) {
		jobCount := st.JobCount
		*st = defaultState()
		st.JobCount = jobCount
		return true, nil
	})
}

// Reset is the recovery verb exposed to outer tooling; it is Abort under a
// name matching the operator-facing CLI.
func (t *Tracker) Reset() error {
	return t.Abort()
}

// StartJob marks one tracked job as running and records its
// scheduler-assigned handle. The caller must be the run's current owner.
func (t *Tracker) StartJob(managerID int, jobID string, handle int64) error {
	return t.update("StartJob", managerID, func(st *State) (bool, error) {
		if st.Manager != managerID {
			return false, ErrOwnershipConflict
		}
		rec, ok := st.Jobs[jobID]
		if !ok {
			return false, fmt.Errorf("%w: %q", ErrUnknownJob, jobID)
		}
		rec.Status = JobRunning
		rec.Handle = handle
		st.Jobs[jobID] = rec
		return true, nil
	})
}

// CompleteJob marks one tracked job as succeeded and advances the
// completed-job counter, finalizing the run when the last job reports.
func (t *Tracker) CompleteJob(managerID int, jobID string) error {
	return t.update("CompleteJob", managerID, func(st *State) (bool, error) {
		if st.Manager != managerID {
			return false, ErrOwnershipConflict
		}
		rec, ok := st.Jobs[jobID]
		if !ok {
			return false, fmt.Errorf("%w: %q", ErrUnknownJob, jobID)
		}
		if rec.Status == JobSucceeded {
			return false, nil
		}
		rec.Status = JobSucceeded
		st.Jobs[jobID] = rec
		st.CompletedJobs++
		if st.CompletedJobs >= st.JobCount {
			st.Complete = true
			st.Running = false
			st.Manager = UnownedID
		}
		return true, nil
	})
}

// FailJob marks one tracked job as failed and fails the run, releasing
// ownership like Error.
func (t *Tracker) FailJob(managerID int, jobID string) error {
	return t.update("FailJob", managerID, func(st *State) (bool, error) {
		if st.Manager != managerID {
			return false, ErrOwnershipConflict
		}
		rec, ok := st.Jobs[jobID]
		if !ok {
			return false, fmt.Errorf("%w: %q", ErrUnknownJob, jobID)
		}
		rec.Status = JobFailed
		st.Jobs[jobID] = rec
		st.Error = true
		st.Running = false
		st.Manager = UnownedID
		return true, nil
	})
}

// JobStatus returns the lifecycle status of one tracked job from the most
// recent on-disk snapshot.
func (t *Tracker) JobStatus(jobID string) (JobStatus, error) {
	var status JobStatus
	err := t.update("JobStatus", UnownedID, func(st *State) (bool, error) {
		rec, ok := st.Jobs[jobID]
		if !ok {
			return false, fmt.Errorf("%w: %q", ErrUnknownJob, jobID)
		}
		status = rec.Status
		return false, nil
	})
	return status, err
}

// Peek returns a copy of the current on-disk snapshot, initializing the file
// if it does not exist yet.
func (t *Tracker) Peek() (State, error) {
	st := defaultState()
	err := t.file.Update(&st, func() (bool, error) {
		return false, st.validate(t.file.Path())
	})
	if st.Jobs != nil {
		jobs := make(map[string]JobRecord, len(st.Jobs))
		for id, rec := range st.Jobs {
			jobs[id] = rec
		}
		st.Jobs = jobs
	}
	return st, err
}

// IsComplete reports whether the run has completed, always reflecting the
// most recent on-disk truth.
func (t *Tracker) IsComplete() (bool, error) {
	st, err := t.Peek()
	return st.Complete, err
}

// IsRunning reports whether the run is currently owned and in progress.
func (t *Tracker) IsRunning() (bool, error) {
	st, err := t.Peek()
	return st.Running, err
}

// EncounteredError reports whether the previous attempt failed.
func (t *Tracker) EncounteredError() (bool, error) {
	st, err := t.Peek()
	return st.Error, err
}
