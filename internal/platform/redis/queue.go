package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/phrazzld/swiftdocs-api/internal/domain"
	"github.com/phrazzld/swiftdocs-api/internal/task"
	goredis "github.com/redis/go-redis/v9"
)

// minBlock is the shortest BRPOP timeout Redis accepts.
const minBlock = time.Second

// Queue is a durable task.Queue with one Redis list per task type. Entries
// are pushed on the left and popped from the right, so each type is FIFO.
// Entries survive restarts of every process.
type Queue struct {
	client goredis.UniversalClient
	keys   keys
	maxLen int64
	closed atomic.Bool
	logger *slog.Logger
}

// NewQueue creates a Queue. A positive maxLen rejects entries with
// task.ErrQueueFull once a type's list holds that many; the check is
// advisory under concurrent producers.
func NewQueue(client goredis.UniversalClient, prefix string, maxLen int, logger *slog.Logger) *Queue {
	return &Queue{
		client: client,
		keys:   keys{prefix: prefix},
		maxLen: int64(maxLen),
		logger: logger.With("component", "redis_queue"),
	}
}

// Enqueue appends entry to its type's list.
func (q *Queue) Enqueue(ctx context.Context, entry domain.DispatchEntry) error {
	if q.closed.Load() {
		return task.ErrQueueClosed
	}
	if !entry.Type.Valid() {
		return domain.Validationf("unknown task type %q", entry.Type)
	}

	key := q.keys.dispatch(entry.Type)
	if q.maxLen > 0 {
		n, err := q.client.LLen(ctx, key).Result()
		if err != nil {
			return fmt.Errorf("redis queue: length of %s: %w", key, err)
		}
		if n >= q.maxLen {
			return fmt.Errorf("%w: queue capacity %d reached", task.ErrQueueFull, q.maxLen)
		}
	}

	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("redis queue: encode entry: %w", err)
	}
	if err := q.client.LPush(ctx, key, data).Err(); err != nil {
		q.logger.Error("failed to enqueue task", "task_id", entry.TaskID, "task_type", entry.Type, "error", err)
		return fmt.Errorf("redis queue: push %s: %w", key, err)
	}
	q.logger.Debug("task enqueued", "task_id", entry.TaskID, "task_type", entry.Type)
	return nil
}

// Dequeue blocks up to wait for the next entry of taskType. Waits below one
// second are rounded up.
func (q *Queue) Dequeue(ctx context.Context, taskType domain.TaskType, wait time.Duration) (*domain.DispatchEntry, error) {
	if q.closed.Load() {
		return nil, task.ErrQueueClosed
	}
	if !taskType.Valid() {
		return nil, domain.Validationf("unknown task type %q", taskType)
	}
	if wait < minBlock {
		wait = minBlock
	}

	key := q.keys.dispatch(taskType)
	res, err := q.client.BRPop(ctx, wait, key).Result()
	switch {
	case errors.Is(err, goredis.Nil):
		return nil, task.ErrQueueEmpty
	case err != nil:
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("redis queue: pop %s: %w", key, err)
	}

	// BRPOP replies with [key, value].
	if len(res) != 2 {
		return nil, fmt.Errorf("redis queue: unexpected BRPOP reply of %d elements", len(res))
	}
	var entry domain.DispatchEntry
	if err := json.Unmarshal([]byte(res[1]), &entry); err != nil {
		q.logger.Error("dropping undecodable dispatch entry", "key", key, "error", err)
		return nil, fmt.Errorf("redis queue: decode entry: %w", err)
	}
	return &entry, nil
}

// Close stops this process from using the queue. Entries stay in Redis for
// other consumers. The client is owned by the caller and left open.
func (q *Queue) Close() error {
	if q.closed.CompareAndSwap(false, true) {
		q.logger.Info("task queue closed")
	}
	return nil
}

// Len returns the number of entries waiting for taskType.
func (q *Queue) Len(ctx context.Context, taskType domain.TaskType) (int64, error) {
	return q.client.LLen(ctx, q.keys.dispatch(taskType)).Result()
}

var _ task.Queue = (*Queue)(nil)
