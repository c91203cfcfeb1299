package metastore

import (
	"errors"
	"fmt"
)

// ErrEmptyKey is returned when an operation is called with an empty key.
// Checked before any statement reaches the backend.
var ErrEmptyKey = errors.New("metadata key must not be empty")

// ErrNilDB is returned by New when no database handle is provided.
// Construction fails fast rather than deferring the problem to call time.
var ErrNilDB = errors.New("database handle must not be nil")

// BackendError wraps a failure reported by the relational backend that is
// not attributable to "row not found": connectivity loss, statement
// errors, unexpected constraint violations. The store never retries these;
// they propagate to the caller with the operation that failed attached.
type BackendError struct {
	// Op names the store operation that failed ("put", "remove", ...).
	Op string

	// Err is the underlying driver error.
	Err error
}

// Error implements the error interface.
func (e *BackendError) Error() string {
	return fmt.Sprintf("metastore %s: %v", e.Op, e.Err)
}

// Unwrap exposes the driver error for errors.Is/As.
func (e *BackendError) Unwrap() error {
	return e.Err
}

// backendErr wraps err as a BackendError for the named operation.
func backendErr(op string, err error) error {
	return &BackendError{Op: op, Err: err}
}
