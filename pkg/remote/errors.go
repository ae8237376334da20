package remote

import (
	"errors"
	"fmt"
)

// Sentinel errors for remote operations.
var (
	// ErrNotFound indicates the requested remote path does not exist.
	ErrNotFound = errors.New("remote path not found")

	// ErrUnknownHandle indicates a poll against a handle this service never
	// issued.
	ErrUnknownHandle = errors.New("unknown job handle")

	// ErrUnavailable indicates the remote host or scheduler could not be
	// reached. Retry policy belongs to the caller.
	ErrUnavailable = errors.New("remote service unavailable")
)

// OpError wraps remote transport errors with operation context.
type OpError struct {
	// Op is the operation that failed (e.g., "Submit", "PullFile").
	Op string

	// Path is the remote path involved, if applicable.
	Path string

	// Err is the underlying error.
	Err error
}

// Error implements the error interface.
func (e *OpError) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("remote %s: %s: %v", e.Op, e.Path, e.Err)
	}
	return fmt.Sprintf("remote %s: %v", e.Op, e.Err)
}

// Unwrap returns the underlying error for errors.Is/As support.
func (e *OpError) Unwrap() error {
	return e.Err
}

// IsNotFound returns true if the error indicates a missing remote path.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsUnavailable returns true if the error indicates the remote host or
// scheduler could not be reached.
func IsUnavailable(err error) bool {
	return errors.Is(err, ErrUnavailable)
}
