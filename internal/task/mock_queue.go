package task

import (
	"context"
	"time"

	"github.com/phrazzld/swiftdocs-api/internal/domain"
)

// MockQueue wraps a Queue and lets tests override individual operations
type MockQueue struct {
	Queue
	EnqueueFn func(ctx context.Context, entry domain.DispatchEntry) error
	DequeueFn func(ctx context.Context, taskType domain.TaskType, wait time.Duration) (*domain.DispatchEntry, error)
}

// Enqueue calls EnqueueFn when set, otherwise the wrapped queue
func (q *MockQueue) Enqueue(ctx context.Context, entry domain.DispatchEntry) error {
	if q.EnqueueFn != nil {
		return q.EnqueueFn(ctx, entry)
	}
	return q.Queue.Enqueue(ctx, entry)
}

// Dequeue calls DequeueFn when set, otherwise the wrapped queue
func (q *MockQueue) Dequeue(ctx context.Context, taskType domain.TaskType, wait time.Duration) (*domain.DispatchEntry, error) {
	if q.DequeueFn != nil {
		return q.DequeueFn(ctx, taskType, wait)
	}
	return q.Queue.Dequeue(ctx, taskType, wait)
}
