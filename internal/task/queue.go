package task

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/phrazzld/swiftdocs-api/internal/domain"
)

// Common errors returned by Queue implementations
var (
	ErrQueueClosed = errors.New("task queue is closed")
	ErrQueueFull   = errors.New("task queue is full")
	// ErrQueueEmpty reports that no entry arrived within the dequeue wait.
	ErrQueueEmpty = errors.New("task queue is empty")
)

// Queue hands dispatch entries from request handlers to workers. Entries of
// one task type are delivered in enqueue order.
type Queue interface {
	// Enqueue appends entry to the queue of entry.Type.
	Enqueue(ctx context.Context, entry domain.DispatchEntry) error

	// Dequeue removes the oldest entry of taskType, blocking up to wait.
	// Returns ErrQueueEmpty when wait elapses and ErrQueueClosed once the
	// queue is closed and drained.
	Dequeue(ctx context.Context, taskType domain.TaskType, wait time.Duration) (*domain.DispatchEntry, error)

	// Close stops accepting entries.
	Close() error
}

// MemoryQueue is a Queue backed by one buffered channel per task type.
// Entries do not survive a restart.
type MemoryQueue struct {
	mu     sync.RWMutex
	queues map[domain.TaskType]chan domain.DispatchEntry
	closed bool
	logger *slog.Logger
}

// NewMemoryQueue creates a MemoryQueue holding up to size entries per type.
func NewMemoryQueue(size int, logger *slog.Logger) *MemoryQueue {
	if size <= 0 {
		size = 1
	}
	q := &MemoryQueue{
		queues: make(map[domain.TaskType]chan domain.DispatchEntry, len(domain.TaskTypes)),
		logger: logger.With("component", "memory_queue"),
	}
	for _, t := range domain.TaskTypes {
		q.queues[t] = make(chan domain.DispatchEntry, size)
	}
	return q
}

// Enqueue adds an entry to its type's queue.
// Returns an error if the queue is full or closed.
func (q *MemoryQueue) Enqueue(ctx context.Context, entry domain.DispatchEntry) error {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return ErrQueueClosed
	}

	ch, ok := q.queues[entry.Type]
	if !ok {
		return domain.Validationf("unknown task type %q", entry.Type)
	}

	select {
	case ch <- entry:
		q.logger.Debug("task enqueued",
			"task_id", entry.TaskID,
			"task_type", entry.Type,
			"queue_len", len(ch),
			"queue_cap", cap(ch))
		return nil
	default:
		return fmt.Errorf("%w: queue capacity %d reached", ErrQueueFull, cap(ch))
	}
}

// Dequeue waits up to wait for the next entry of taskType.
func (q *MemoryQueue) Dequeue(ctx context.Context, taskType domain.TaskType, wait time.Duration) (*domain.DispatchEntry, error) {
	q.mu.RLock()
	ch, ok := q.queues[taskType]
	q.mu.RUnlock()
	if !ok {
		return nil, domain.Validationf("unknown task type %q", taskType)
	}

	timer := time.NewTimer(wait)
	defer timer.Stop()

	select {
	case entry, open := <-ch:
		if !open {
			return nil, ErrQueueClosed
		}
		return &entry, nil
	case <-timer.C:
		return nil, ErrQueueEmpty
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Close closes every per-type queue. Entries already queued can still be
// dequeued.
func (q *MemoryQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return nil
	}
	q.closed = true
	for _, ch := range q.queues {
		close(ch)
	}
	q.logger.Info("task queue closed")
	return nil
}

// Len returns the number of entries waiting for taskType.
func (q *MemoryQueue) Len(taskType domain.TaskType) int {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return len(q.queues[taskType])
}

var _ Queue = (*MemoryQueue)(nil)
