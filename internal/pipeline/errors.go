package pipeline

import (
	"errors"
	"fmt"
)

// ErrTimeout marks a coordinator that hit its wall-clock ceiling before
// the remote job reached a terminal status.
var ErrTimeout = errors.New("job polling timed out")

// ConsecutiveFailureError marks a poll loop abandoned after repeated
// gateway failures.
type ConsecutiveFailureError struct {
	Attempts int
	Last     error
}

func (e *ConsecutiveFailureError) Error() string {
	return fmt.Sprintf("gave up after %d consecutive poll failures: %v", e.Attempts, e.Last)
}

func (e *ConsecutiveFailureError) Unwrap() error {
	return e.Last
}

// StorageError marks a packaging or artifact failure that is terminal
// for the current attempt.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage: %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}
