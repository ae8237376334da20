package tracker

import (
	"errors"
	"fmt"
)

// Sentinel errors for tracker and session-lock operations.
var (
	// ErrOwnershipConflict indicates a mutating operation was attempted on a
	// tracker or lock already owned by a different manager. Never resolved
	// automatically; the caller decides whether to wait or force-reset.
	ErrOwnershipConflict = errors.New("owned by another manager")

	// ErrOwnershipViolation indicates a caller tried to release or touch a
	// resource it does not currently own. Always a programming error in the
	// caller, never expected in correct usage.
	ErrOwnershipViolation = errors.New("caller does not own resource")

	// ErrUnknownJob indicates a job id that is not part of the tracker's
	// configured job set.
	ErrUnknownJob = errors.New("unknown job id")
)

// StateError wraps tracker errors with the operation and file context needed
// for actionable operator messages.
type StateError struct {
	// Op is the operation that failed (e.g., "Start", "Release").
	Op string

	// Path is the tracker or lock state file.
	Path string

	// Manager is the id of the calling manager, if applicable.
	Manager int

	// Owner is the id of the current owner recorded on disk, if applicable.
	Owner int

	// Err is the underlying error.
	Err error
}

// Error implements the error interface.
func (e *StateError) Error() string {
	if e.Owner != 0 && e.Owner != e.Manager {
		return fmt.Sprintf("%s %s: manager %d: %v (held by manager %d)", e.Op, e.Path, e.Manager, e.Err, e.Owner)
	}
	return fmt.Sprintf("%s %s: manager %d: %v", e.Op, e.Path, e.Manager, e.Err)
}

// Unwrap returns the underlying error for errors.Is/As support.
func (e *StateError) Unwrap() error {
	return e.Err
}

// IsOwnershipConflict returns true if the error indicates the resource is
// owned by a different manager.
func IsOwnershipConflict(err error) bool {
	return errors.Is(err, ErrOwnershipConflict)
}

// IsOwnershipViolation returns true if the error indicates the caller does
// not own the resource it tried to mutate.
func IsOwnershipViolation(err error) bool {
	return errors.Is(err, ErrOwnershipViolation)
}

// IsUnknownJob returns true if the error references a job id outside the
// tracker's configured job set.
func IsUnknownJob(err error) bool {
	return errors.Is(err, ErrUnknownJob)
}
