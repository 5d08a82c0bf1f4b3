package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/phrazzld/swiftdocs-api/internal/domain"
	"github.com/phrazzld/swiftdocs-api/internal/store"
	"github.com/sethvargo/go-retry"
)

const (
	selectColumns = `id, type, status, progress, result, error, version, created_at, updated_at`

	insertQuery = `
		INSERT INTO tasks (id, type, status, progress, result, error, version, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO NOTHING`

	getQuery = `SELECT ` + selectColumns + ` FROM tasks WHERE id = ?`

	updateQuery = `
		UPDATE tasks
		SET status = ?, progress = ?, result = ?, error = ?, version = version + 1, updated_at = ?
		WHERE id = ? AND version = ?`

	deleteQuery = `DELETE FROM tasks WHERE id = ?`

	listQuery = `SELECT ` + selectColumns + ` FROM tasks WHERE status = ? AND updated_at <= ? ORDER BY created_at ASC, id ASC`
)

// errVersionConflict reports that another writer updated the row between our
// read and our write.
var errVersionConflict = errors.New("version conflict")

// TaskStore implements store.TaskStore on a SQL database.
type TaskStore struct {
	db      *sql.DB
	dialect Dialect
	logger  *slog.Logger
	backoff func() retry.Backoff
	now     func() time.Time
}

// Option customises a TaskStore.
type Option func(*TaskStore)

// WithConflictRetries bounds how often a conflicting update is retried.
func WithConflictRetries(n uint64) Option {
	return func(s *TaskStore) {
		s.backoff = func() retry.Backoff {
			return conflictBackoff(n)
		}
	}
}

// NewTaskStore creates a TaskStore over an open, migrated database.
func NewTaskStore(db *sql.DB, dialect Dialect, logger *slog.Logger, opts ...Option) *TaskStore {
	s := &TaskStore{
		db:      db,
		dialect: dialect,
		logger:  logger.With("component", "sql_task_store", "dialect", string(dialect)),
		backoff: func() retry.Backoff { return conflictBackoff(50) },
		now:     func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func conflictBackoff(maxRetries uint64) retry.Backoff {
	b := retry.NewExponential(2 * time.Millisecond)
	b = retry.WithCappedDuration(50*time.Millisecond, b)
	b = retry.WithJitterPercent(25, b)
	return retry.WithMaxRetries(maxRetries, b)
}

// Create inserts a new record.
func (s *TaskStore) Create(ctx context.Context, rec *domain.TaskRecord) error {
	res, err := s.db.ExecContext(ctx, rebind(s.dialect, insertQuery),
		rec.ID,
		string(rec.Type),
		string(rec.Status),
		rec.Progress,
		nullableResult(rec.Result),
		rec.Error,
		max(rec.Version, 1),
		rec.CreatedAt.UnixNano(),
		rec.UpdatedAt.UnixNano(),
	)
	if err != nil {
		s.logger.Error("failed to insert task", "task_id", rec.ID, "error", err)
		return s.wrap("create", rec.ID, err)
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return s.wrap("create", rec.ID, err)
	}
	if rows == 0 {
		return domain.Duplicate(rec.ID)
	}
	return nil
}

// Get retrieves a record by id.
func (s *TaskStore) Get(ctx context.Context, taskID string) (*domain.TaskRecord, error) {
	rec, _, err := s.get(ctx, taskID)
	return rec, err
}

func (s *TaskStore) get(ctx context.Context, taskID string) (*domain.TaskRecord, int64, error) {
	row := s.db.QueryRowContext(ctx, rebind(s.dialect, getQuery), taskID)
	rec, version, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, 0, domain.NotFound(taskID)
	}
	if err != nil {
		return nil, 0, s.wrap("get", taskID, err)
	}
	return rec, version, nil
}

// Update applies fn with optimistic concurrency, re-reading the row and
// calling fn again whenever another writer wins the race.
func (s *TaskStore) Update(ctx context.Context, taskID string, fn domain.UpdateFunc) (*domain.TaskRecord, error) {
	var updated *domain.TaskRecord
	attempts := 0

	err := retry.Do(ctx, s.backoff(), func(ctx context.Context) error {
		attempts++
		current, version, err := s.get(ctx, taskID)
		if err != nil {
			return err
		}

		patch, err := fn(*current.Clone())
		if err != nil {
			return err
		}
		if patch.IsEmpty() {
			updated = current
			return nil
		}

		current.Apply(patch, s.now())
		ok, err := s.write(ctx, current, version)
		if err != nil {
			return err
		}
		if !ok {
			return retry.RetryableError(errVersionConflict)
		}
		updated = current
		return nil
	})
	if errors.Is(err, errVersionConflict) {
		s.logger.Warn("update conflict retries exhausted", "task_id", taskID, "attempts", attempts)
		return nil, s.wrap("update", taskID, err)
	}
	if err != nil {
		return nil, err
	}

	if attempts > 1 {
		s.logger.Debug("update succeeded after conflict", "task_id", taskID, "attempts", attempts)
	}
	return updated, nil
}

func (s *TaskStore) write(ctx context.Context, rec *domain.TaskRecord, version int64) (bool, error) {
	res, err := s.db.ExecContext(ctx, rebind(s.dialect, updateQuery),
		string(rec.Status),
		rec.Progress,
		nullableResult(rec.Result),
		rec.Error,
		rec.UpdatedAt.UnixNano(),
		rec.ID,
		version,
	)
	if err != nil {
		s.logger.Error("failed to update task", "task_id", rec.ID, "error", err)
		return false, s.wrap("update", rec.ID, err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return false, s.wrap("update", rec.ID, err)
	}
	return rows == 1, nil
}

// Delete removes a record, reporting whether it existed.
func (s *TaskStore) Delete(ctx context.Context, taskID string) (bool, error) {
	res, err := s.db.ExecContext(ctx, rebind(s.dialect, deleteQuery), taskID)
	if err != nil {
		s.logger.Error("failed to delete task", "task_id", taskID, "error", err)
		return false, s.wrap("delete", taskID, err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return false, s.wrap("delete", taskID, err)
	}
	return rows > 0, nil
}

// ListByStatus returns records in status, oldest first.
func (s *TaskStore) ListByStatus(ctx context.Context, status domain.TaskStatus, olderThan time.Duration) ([]*domain.TaskRecord, error) {
	cutoff := s.now().Add(-olderThan).UnixNano()

	rows, err := s.db.QueryContext(ctx, rebind(s.dialect, listQuery), string(status), cutoff)
	if err != nil {
		s.logger.Error("failed to query tasks by status", "status", status, "error", err)
		return nil, s.wrap("list", "", err)
	}
	defer func() { _ = rows.Close() }()

	var records []*domain.TaskRecord
	for rows.Next() {
		rec, _, err := scanRecord(rows)
		if err != nil {
			return nil, s.wrap("list", "", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, s.wrap("list", "", err)
	}
	return records, nil
}

func (s *TaskStore) wrap(operation, taskID string, err error) error {
	return store.NewStoreError(string(s.dialect), operation, taskID, err)
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(row scanner) (*domain.TaskRecord, int64, error) {
	var (
		rec       domain.TaskRecord
		taskType  string
		status    string
		result    sql.NullString
		version   int64
		createdAt int64
		updatedAt int64
	)
	if err := row.Scan(&rec.ID, &taskType, &status, &rec.Progress, &result, &rec.Error, &version, &createdAt, &updatedAt); err != nil {
		return nil, 0, err
	}
	rec.Type = domain.TaskType(taskType)
	rec.Status = domain.TaskStatus(status)
	rec.Version = version
	if result.Valid {
		rec.Result = json.RawMessage(result.String)
	}
	rec.CreatedAt = time.Unix(0, createdAt).UTC()
	rec.UpdatedAt = time.Unix(0, updatedAt).UTC()
	return &rec, version, nil
}

func nullableResult(raw json.RawMessage) any {
	if raw == nil {
		return nil
	}
	return string(raw)
}

var _ store.TaskStore = (*TaskStore)(nil)
