package job

import (
	"errors"
	"fmt"
)

// ErrNotFound is returned when no job with the requested ID exists.
var ErrNotFound = errors.New("job: not found")

// ErrDuplicateID is returned by Create when the ID is already taken.
var ErrDuplicateID = errors.New("job: duplicate id")

// ErrInvalidTransition is returned when a status change would violate
// queued → processing → completed|failed.
var ErrInvalidTransition = errors.New("job: invalid status transition")

// ErrDeleted is returned for writes to a job that was deleted while its task
// was still running. The task treats it as a no-op.
var ErrDeleted = errors.New("job: deleted")

// ErrClosed is returned by Submit after the runner has been closed.
var ErrClosed = errors.New("job: runner closed")

// ValidationError reports a submission that was rejected before a job was
// created.
type ValidationError struct {
	Field  string
	Reason string
}

// Error implements error.
func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "job: " + e.Reason
	}
	return fmt.Sprintf("job: %s: %s", e.Field, e.Reason)
}
