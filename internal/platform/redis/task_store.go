package redis

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sort"
	"time"

	"github.com/phrazzld/swiftdocs-api/internal/domain"
	"github.com/phrazzld/swiftdocs-api/internal/store"
	goredis "github.com/redis/go-redis/v9"
	"github.com/sethvargo/go-retry"
)

// scanBatch is the COUNT hint for SCAN while listing records.
const scanBatch = 200

// TaskStore implements store.TaskStore with one JSON value per task.
// Updates run inside WATCH/MULTI and are retried when another client
// modifies the key first.
type TaskStore struct {
	client  goredis.UniversalClient
	keys    keys
	logger  *slog.Logger
	backoff func() retry.Backoff
	now     func() time.Time
}

// NewTaskStore creates a TaskStore using keys under prefix.
func NewTaskStore(client goredis.UniversalClient, prefix string, logger *slog.Logger) *TaskStore {
	return &TaskStore{
		client: client,
		keys:   keys{prefix: prefix},
		logger: logger.With("component", "redis_task_store"),
		backoff: func() retry.Backoff {
			b := retry.NewExponential(2 * time.Millisecond)
			b = retry.WithCappedDuration(50*time.Millisecond, b)
			b = retry.WithJitterPercent(25, b)
			return retry.WithMaxRetries(50, b)
		},
		now: func() time.Time { return time.Now().UTC() },
	}
}

// Create stores rec unless the id is taken.
func (s *TaskStore) Create(ctx context.Context, rec *domain.TaskRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return s.wrap("create", rec.ID, err)
	}
	ok, err := s.client.SetNX(ctx, s.keys.task(rec.ID), data, 0).Result()
	if err != nil {
		s.logger.Error("failed to create task", "task_id", rec.ID, "error", err)
		return s.wrap("create", rec.ID, err)
	}
	if !ok {
		return domain.Duplicate(rec.ID)
	}
	return nil
}

// Get retrieves a record by id.
func (s *TaskStore) Get(ctx context.Context, taskID string) (*domain.TaskRecord, error) {
	return s.get(ctx, s.client, taskID)
}

// getter is satisfied by both the client and a WATCH transaction.
type getter interface {
	Get(ctx context.Context, key string) *goredis.StringCmd
}

func (s *TaskStore) get(ctx context.Context, c getter, taskID string) (*domain.TaskRecord, error) {
	raw, err := c.Get(ctx, s.keys.task(taskID)).Bytes()
	if errors.Is(err, goredis.Nil) {
		return nil, domain.NotFound(taskID)
	}
	if err != nil {
		return nil, s.wrap("get", taskID, err)
	}
	return s.decode(taskID, raw)
}

func (s *TaskStore) decode(taskID string, raw []byte) (*domain.TaskRecord, error) {
	var rec domain.TaskRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, s.wrap("decode", taskID, err)
	}
	return &rec, nil
}

// Update applies fn inside an optimistic transaction on the task key.
func (s *TaskStore) Update(ctx context.Context, taskID string, fn domain.UpdateFunc) (*domain.TaskRecord, error) {
	key := s.keys.task(taskID)
	var (
		updated  *domain.TaskRecord
		abortErr error
		attempts int
	)

	txf := func(tx *goredis.Tx) error {
		updated, abortErr = nil, nil
		current, err := s.get(ctx, tx, taskID)
		if errors.Is(err, domain.ErrNotFound) {
			abortErr = err
			return nil
		}
		if err != nil {
			return err
		}
		patch, err := fn(*current.Clone())
		if err != nil {
			abortErr = err
			return nil
		}
		if patch.IsEmpty() {
			updated = current
			return nil
		}

		current.Apply(patch, s.now())
		data, err := json.Marshal(current)
		if err != nil {
			return s.wrap("update", taskID, err)
		}
		_, err = tx.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
			pipe.Set(ctx, key, data, goredis.KeepTTL)
			return nil
		})
		if err != nil {
			return err
		}
		updated = current
		return nil
	}

	err := retry.Do(ctx, s.backoff(), func(ctx context.Context) error {
		attempts++
		err := s.client.Watch(ctx, txf, key)
		if errors.Is(err, goredis.TxFailedErr) {
			return retry.RetryableError(err)
		}
		return err
	})
	var se *store.StoreError
	switch {
	case errors.Is(err, goredis.TxFailedErr):
		s.logger.Warn("update conflict retries exhausted", "task_id", taskID, "attempts", attempts)
		return nil, s.wrap("update", taskID, err)
	case errors.As(err, &se):
		return nil, err
	case err != nil:
		return nil, s.wrap("update", taskID, err)
	case abortErr != nil:
		return nil, abortErr
	}
	if attempts > 1 {
		s.logger.Debug("update succeeded after conflict", "task_id", taskID, "attempts", attempts)
	}
	return updated, nil
}

// Delete removes a record, reporting whether it existed.
func (s *TaskStore) Delete(ctx context.Context, taskID string) (bool, error) {
	n, err := s.client.Del(ctx, s.keys.task(taskID)).Result()
	if err != nil {
		s.logger.Error("failed to delete task", "task_id", taskID, "error", err)
		return false, s.wrap("delete", taskID, err)
	}
	return n > 0, nil
}

// ListByStatus scans every task key. It is intended for the periodic
// watchdog sweep, not for request paths.
func (s *TaskStore) ListByStatus(ctx context.Context, status domain.TaskStatus, olderThan time.Duration) ([]*domain.TaskRecord, error) {
	cutoff := s.now().Add(-olderThan)
	var out []*domain.TaskRecord

	iter := s.client.Scan(ctx, 0, s.keys.taskPattern(), scanBatch).Iterator()
	var batch []string
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		values, err := s.client.MGet(ctx, batch...).Result()
		if err != nil {
			return err
		}
		for i, v := range values {
			raw, ok := v.(string)
			if !ok {
				// Deleted between SCAN and MGET.
				continue
			}
			rec, err := s.decode(batch[i], []byte(raw))
			if err != nil {
				s.logger.Warn("skipping undecodable task", "key", batch[i], "error", err)
				continue
			}
			if rec.Status != status {
				continue
			}
			if olderThan > 0 && rec.UpdatedAt.After(cutoff) {
				continue
			}
			out = append(out, rec)
		}
		batch = batch[:0]
		return nil
	}

	for iter.Next(ctx) {
		batch = append(batch, iter.Val())
		if len(batch) >= scanBatch {
			if err := flush(); err != nil {
				return nil, s.wrap("list", "", err)
			}
		}
	}
	if err := iter.Err(); err != nil {
		return nil, s.wrap("list", "", err)
	}
	if err := flush(); err != nil {
		return nil, s.wrap("list", "", err)
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (s *TaskStore) wrap(op, taskID string, err error) error {
	return store.NewStoreError(backendName, op, taskID, err)
}

var _ store.TaskStore = (*TaskStore)(nil)
