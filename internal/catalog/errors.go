package catalog

import (
	"errors"
	"fmt"
)

// Sentinel errors shared by stores and services.
var (
	ErrNotFound              = errors.New("not found")
	ErrTaskExists            = errors.New("task already exists")
	ErrTaskTerminal          = errors.New("task is in a terminal state")
	ErrAlreadyClaimed        = errors.New("task already claimed")
	ErrProgressRegressed     = errors.New("task progress must not decrease")
	ErrInvalidTransition     = errors.New("invalid task status transition")
	ErrDuplicateSubscription = errors.New("webhook with this url and event type already exists")
	ErrInvalidInput          = errors.New("invalid input")
	ErrQueueClosed           = errors.New("queue closed")
)

// StorageError is a storage-layer write failure, distinct from validation failures.
// Unrecoverable marks conditions such as connection loss that must abort an import.
type StorageError struct {
	Op            string
	Err           error
	Unrecoverable bool
}

func (e *StorageError) Error() string {
	if e.Unrecoverable {
		return fmt.Sprintf("%s: storage unavailable: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

// IsUnrecoverable reports whether err carries an unrecoverable StorageError.
func IsUnrecoverable(err error) bool {
	var se *StorageError
	return errors.As(err, &se) && se.Unrecoverable
}
