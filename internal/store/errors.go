package store

import (
	"fmt"
)

// StoreError reports an infrastructure failure of a record store backend
// (connection loss, serialisation failure, exhausted retries). It never wraps
// a domain taxonomy error.
type StoreError struct {
	Backend   string // The backend name (e.g., "redis", "postgres")
	Operation string // The operation that failed (e.g., "create", "update")
	TaskID    string // The affected task, if any
	Err       error  // Original error
}

// Error implements the error interface for StoreError.
func (e *StoreError) Error() string {
	if e.TaskID != "" {
		return fmt.Sprintf("%s store: %s task %s: %v", e.Backend, e.Operation, e.TaskID, e.Err)
	}
	return fmt.Sprintf("%s store: %s: %v", e.Backend, e.Operation, e.Err)
}

// Unwrap returns the wrapped error to support errors.Is/errors.As.
func (e *StoreError) Unwrap() error {
	return e.Err
}

// NewStoreError creates a new StoreError.
func NewStoreError(backend, operation, taskID string, err error) *StoreError {
	return &StoreError{
		Backend:   backend,
		Operation: operation,
		TaskID:    taskID,
		Err:       err,
	}
}
