package store

import (
	"context"
	"time"

	"github.com/phrazzld/swiftdocs-api/internal/domain"
)

// TaskStore defines the interface for task record persistence.
// Every backend must make Update atomic per task id.
type TaskStore interface {
	// Create saves a new record.
	// Returns domain.ErrDuplicateTask if a record with the same id exists.
	Create(ctx context.Context, rec *domain.TaskRecord) error

	// Get retrieves a record by id.
	// Returns domain.ErrNotFound if the record does not exist.
	Get(ctx context.Context, taskID string) (*domain.TaskRecord, error)

	// Update reads the current record, passes it to fn and merges the returned
	// patch. No other update to the same id can interleave between the read
	// and the write. An empty patch writes nothing and returns the current
	// record. An error from fn is returned unchanged.
	// Returns domain.ErrNotFound if the record does not exist.
	Update(ctx context.Context, taskID string, fn domain.UpdateFunc) (*domain.TaskRecord, error)

	// Delete removes a record, reporting whether it existed.
	Delete(ctx context.Context, taskID string) (bool, error)

	// ListByStatus returns the records in status, oldest first. A positive
	// olderThan restricts the result to records not updated within that window.
	ListByStatus(ctx context.Context, status domain.TaskStatus, olderThan time.Duration) ([]*domain.TaskRecord, error)
}

var _ TaskStore = (*MemoryTaskStore)(nil)
