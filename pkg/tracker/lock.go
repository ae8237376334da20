package tracker

import (
	"fmt"

	"github.com/mesolab/batchkeeper/pkg/statefile"
)

// lockState is the SessionLock on-disk snapshot. A manager id of UnownedID
// means unlocked.
type lockState struct {
	Manager int `yaml:"manager"`
}

// SessionLock provides single-owner mutual exclusion for a logical resource
// (typically one session's data directory) that needs no job counting.
//
// The lock owner is identified by a manager id rather than a pid, so
// ownership survives process restarts and spans machines: a manager that
// crashed mid-run still owns the lock until an operator force-releases it.
type SessionLock struct {
	file *statefile.File
}

// NewSessionLock returns a SessionLock over the given snapshot path.
func NewSessionLock(path string, opts ...Option) *SessionLock {
	o := options{lockTimeout: statefile.DefaultLockTimeout}
	for _, opt := range opts {
		opt(&o)
	}
	return &SessionLock{file: statefile.New(path, statefile.WithLockTimeout(o.lockTimeout))}
}

// Path returns the lock snapshot path.
func (l *SessionLock) Path() string { return l.file.Path() }

func (l *SessionLock) update(op string, manager int, fn func(st *lockState) (bool, error)) error {
	st := lockState{Manager: UnownedID}
	return l.file.Update(&st, func() (bool, error) {
		save, err := fn(&st)
		if err != nil {
			return false, &StateError{Op: op, Path: l.file.Path(), Manager: manager, Owner: st.Manager, Err: err}
		}
		return save, nil
	})
}

// Acquire claims the lock for managerID. Succeeds if the lock is free or
// already owned by managerID (idempotent reclaim); fails with
// ErrOwnershipConflict if held by a different manager.
func (l *SessionLock) Acquire(managerID int) error {
	return l.update("Acquire", managerID, func(st *lockState) (bool, error) {
		if st.Manager != UnownedID && st.Manager != managerID {
			return false, ErrOwnershipConflict
		}
		if st.Manager == managerID {
			return false, nil
		}
		st.Manager = managerID
		return true, nil
	})
}

// Release releases the lock held by managerID. Fails with
// ErrOwnershipViolation if the caller does not currently own the lock.
func (l *SessionLock) Release(managerID int) error {
	return l.update("Release", managerID, func(st *lockState) (bool, error) {
		if st.Manager != managerID {
			return false, ErrOwnershipViolation
		}
		st.Manager = UnownedID
		return true, nil
	})
}

// ForceRelease unconditionally unlocks regardless of ownership. Recovery-only:
// it does not terminate any workers the previous owner may have deployed.
func (l *SessionLock) ForceRelease() error {
	return l.update("ForceRelease", UnownedID, func(st *lockState) (bool, error) {
		st.Manager = UnownedID
		return true, nil
	})
}

// CheckOwner asserts that managerID currently owns the lock. Worker routines
// call this as a cheap guard before touching shared data; it fails loudly
// with ErrOwnershipViolation if ownership has shifted, so two managers never
// silently corrupt the same data tree.
func (l *SessionLock) CheckOwner(managerID int) error {
	return l.update("CheckOwner", managerID, func(st *lockState) (bool, error) {
		if st.Manager != managerID {
			return false, fmt.Errorf("%w: lock is held by manager %d", ErrOwnershipViolation, st.Manager)
		}
		return false, nil
	})
}

// Owner returns the current owner id from the most recent on-disk snapshot,
// or UnownedID when unlocked.
func (l *SessionLock) Owner() (int, error) {
	st := lockState{Manager: UnownedID}
	err := l.file.Update(&st, func() (bool, error) { return false, nil })
	return st.Manager, err
}
