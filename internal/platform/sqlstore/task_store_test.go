package sqlstore

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/phrazzld/swiftdocs-api/internal/domain"
	"github.com/phrazzld/swiftdocs-api/internal/store"
	"github.com/phrazzld/swiftdocs-api/internal/store/storetest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newSQLiteStore(t *testing.T) *TaskStore {
	t.Helper()
	ctx := context.Background()
	dsn := "file:" + filepath.Join(t.TempDir(), "tasks.db") + "?_pragma=busy_timeout(5000)"

	db, err := Open(ctx, SQLite, dsn)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	require.NoError(t, Migrate(ctx, db, SQLite, discardLogger()))
	return NewTaskStore(db, SQLite, discardLogger())
}

func TestTaskStoreSQLite(t *testing.T) {
	storetest.Run(t, func(t *testing.T) store.TaskStore {
		return newSQLiteStore(t)
	})
}

func TestMigrateIsIdempotent(t *testing.T) {
	s := newSQLiteStore(t)
	require.NoError(t, Migrate(context.Background(), s.db, SQLite, discardLogger()))

	var version int64
	err := s.db.QueryRow(`SELECT MAX(version_id) FROM ` + MigrationTableName).Scan(&version)
	require.NoError(t, err)
	assert.Equal(t, int64(1), version)
}

func TestRebind(t *testing.T) {
	query := `UPDATE tasks SET status = ? WHERE id = ? AND version = ?`

	assert.Equal(t, query, rebind(SQLite, query))
	assert.Equal(t,
		`UPDATE tasks SET status = $1 WHERE id = $2 AND version = $3`,
		rebind(Postgres, query))
}

func TestParseDialect(t *testing.T) {
	d, err := ParseDialect("Postgres")
	require.NoError(t, err)
	assert.Equal(t, Postgres, d)

	d, err = ParseDialect("sqlite")
	require.NoError(t, err)
	assert.Equal(t, SQLite, d)

	_, err = ParseDialect("mysql")
	assert.Error(t, err)
}

func newMockStore(t *testing.T, opts ...Option) (*TaskStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return NewTaskStore(db, Postgres, discardLogger(), opts...), mock
}

func recordRow(rec *domain.TaskRecord, version int64) *sqlmock.Rows {
	return sqlmock.NewRows([]string{"id", "type", "status", "progress", "result", "error", "version", "created_at", "updated_at"}).
		AddRow(rec.ID, string(rec.Type), string(rec.Status), rec.Progress, nil, rec.Error, version,
			rec.CreatedAt.UnixNano(), rec.UpdatedAt.UnixNano())
}

func TestUpdateRetriesOnVersionConflict(t *testing.T) {
	s, mock := newMockStore(t)
	rec := domain.NewTaskRecord("task-1", domain.TaskTypeOCR, time.Now().UTC())

	getSQL := regexp.QuoteMeta(`FROM tasks WHERE id = $1`)
	updateSQL := regexp.QuoteMeta(`UPDATE tasks`)

	mock.ExpectQuery(getSQL).WithArgs("task-1").WillReturnRows(recordRow(rec, 1))
	mock.ExpectExec(updateSQL).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(getSQL).WithArgs("task-1").WillReturnRows(recordRow(rec, 2))
	mock.ExpectExec(updateSQL).WillReturnResult(sqlmock.NewResult(0, 1))

	calls := 0
	updated, err := s.Update(context.Background(), "task-1", func(domain.TaskRecord) (domain.TaskPatch, error) {
		calls++
		return domain.TaskPatch{Progress: domain.Int(40)}, nil
	})

	require.NoError(t, err)
	assert.Equal(t, 2, calls, "update function re-runs against the fresh row")
	assert.Equal(t, 40, updated.Progress)
	assert.Equal(t, int64(3), updated.Version, "version follows the row that won")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateConflictRetriesExhausted(t *testing.T) {
	s, mock := newMockStore(t, WithConflictRetries(1))
	rec := domain.NewTaskRecord("task-1", domain.TaskTypePDF, time.Now().UTC())

	for i := 0; i < 2; i++ {
		mock.ExpectQuery(regexp.QuoteMeta(`FROM tasks WHERE id = $1`)).WillReturnRows(recordRow(rec, int64(i+1)))
		mock.ExpectExec(regexp.QuoteMeta(`UPDATE tasks`)).WillReturnResult(sqlmock.NewResult(0, 0))
	}

	_, err := s.Update(context.Background(), "task-1", domain.SetFields(domain.TaskPatch{
		Status: domain.Status(domain.StatusRunning),
	}))

	var storeErr *store.StoreError
	require.ErrorAs(t, err, &storeErr)
	assert.Equal(t, "postgres", storeErr.Backend)
	assert.Equal(t, "update", storeErr.Operation)
	assert.ErrorIs(t, err, errVersionConflict)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateDuplicateOnConflict(t *testing.T) {
	s, mock := newMockStore(t)
	rec := domain.NewTaskRecord("task-1", domain.TaskTypeTranslation, time.Now().UTC())

	mock.ExpectExec(regexp.QuoteMeta(`ON CONFLICT (id) DO NOTHING`)).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := s.Create(context.Background(), rec)
	assert.ErrorIs(t, err, domain.ErrDuplicateTask)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestInfrastructureErrorsAreWrapped(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectQuery(regexp.QuoteMeta(`FROM tasks WHERE id = $1`)).
		WillReturnError(assert.AnError)

	_, err := s.Get(context.Background(), "task-1")

	var storeErr *store.StoreError
	require.ErrorAs(t, err, &storeErr)
	assert.Equal(t, "get", storeErr.Operation)
	assert.Equal(t, "task-1", storeErr.TaskID)
	assert.NotErrorIs(t, err, domain.ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}
