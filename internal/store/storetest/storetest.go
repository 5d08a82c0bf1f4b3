// Package storetest provides a behavioural test suite that every
// store.TaskStore backend runs against itself.
package storetest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/swiftdocs-api/internal/domain"
	"github.com/phrazzld/swiftdocs-api/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Factory returns a fresh, empty store for a single subtest.
type Factory func(t *testing.T) store.TaskStore

// Run exercises the TaskStore contract against the backend built by newStore.
func Run(t *testing.T, newStore Factory) {
	t.Run("create and get", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		rec := newRecord(domain.TaskTypeOCR)

		require.NoError(t, s.Create(ctx, rec))

		got, err := s.Get(ctx, rec.ID)
		require.NoError(t, err)
		assert.Equal(t, rec.ID, got.ID)
		assert.Equal(t, domain.TaskTypeOCR, got.Type)
		assert.Equal(t, domain.StatusPending, got.Status)
		assert.Equal(t, 0, got.Progress)
		assert.False(t, got.HasResult())
		assert.Empty(t, got.Error)
		assert.WithinDuration(t, rec.CreatedAt, got.CreatedAt, time.Millisecond)
	})

	t.Run("create duplicate", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		rec := newRecord(domain.TaskTypePDF)

		require.NoError(t, s.Create(ctx, rec))
		err := s.Create(ctx, rec)
		assert.ErrorIs(t, err, domain.ErrDuplicateTask)
	})

	t.Run("get missing", func(t *testing.T) {
		s := newStore(t)
		_, err := s.Get(context.Background(), uuid.NewString())
		assert.ErrorIs(t, err, domain.ErrNotFound)
	})

	t.Run("update merges patch", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		rec := newRecord(domain.TaskTypeTranslation)
		require.NoError(t, s.Create(ctx, rec))

		time.Sleep(5 * time.Millisecond)
		updated, err := s.Update(ctx, rec.ID, domain.SetFields(domain.TaskPatch{
			Status:   domain.Status(domain.StatusRunning),
			Progress: domain.Int(30),
		}))
		require.NoError(t, err)
		assert.Equal(t, domain.StatusRunning, updated.Status)
		assert.Equal(t, 30, updated.Progress)
		assert.True(t, updated.UpdatedAt.After(rec.UpdatedAt), "updatedAt should advance")

		updated, err = s.Update(ctx, rec.ID, domain.SetFields(domain.TaskPatch{
			Result: json.RawMessage(`{"text":"hello"}`),
		}))
		require.NoError(t, err)
		assert.Equal(t, domain.StatusRunning, updated.Status, "unpatched fields survive")
		assert.JSONEq(t, `{"text":"hello"}`, string(updated.Result))

		got, err := s.Get(ctx, rec.ID)
		require.NoError(t, err)
		assert.Equal(t, 30, got.Progress)
		assert.JSONEq(t, `{"text":"hello"}`, string(got.Result))
	})

	t.Run("update bumps version", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		rec := newRecord(domain.TaskTypeOCR)
		require.NoError(t, s.Create(ctx, rec))

		got, err := s.Get(ctx, rec.ID)
		require.NoError(t, err)
		assert.Equal(t, int64(1), got.Version)

		for want := int64(2); want <= 3; want++ {
			updated, err := s.Update(ctx, rec.ID, domain.SetFields(domain.TaskPatch{Progress: domain.Int(int(want) * 10)}))
			require.NoError(t, err)
			assert.Equal(t, want, updated.Version)
		}

		unchanged, err := s.Update(ctx, rec.ID, func(domain.TaskRecord) (domain.TaskPatch, error) {
			return domain.TaskPatch{}, nil
		})
		require.NoError(t, err)
		assert.Equal(t, int64(3), unchanged.Version, "empty patch writes nothing")

		got, err = s.Get(ctx, rec.ID)
		require.NoError(t, err)
		assert.Equal(t, int64(3), got.Version)
	})

	t.Run("update missing", func(t *testing.T) {
		s := newStore(t)
		called := false
		_, err := s.Update(context.Background(), uuid.NewString(), func(domain.TaskRecord) (domain.TaskPatch, error) {
			called = true
			return domain.TaskPatch{}, nil
		})
		assert.ErrorIs(t, err, domain.ErrNotFound)
		assert.False(t, called)
	})

	t.Run("update callback error aborts", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		rec := newRecord(domain.TaskTypeOCR)
		require.NoError(t, s.Create(ctx, rec))

		boom := errors.New("boom")
		_, err := s.Update(ctx, rec.ID, func(domain.TaskRecord) (domain.TaskPatch, error) {
			return domain.TaskPatch{Progress: domain.Int(99)}, boom
		})
		assert.ErrorIs(t, err, boom)

		got, err := s.Get(ctx, rec.ID)
		require.NoError(t, err)
		assert.Equal(t, 0, got.Progress)
	})

	t.Run("empty patch writes nothing", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		rec := newRecord(domain.TaskTypePDF)
		require.NoError(t, s.Create(ctx, rec))
		before, err := s.Get(ctx, rec.ID)
		require.NoError(t, err)

		time.Sleep(5 * time.Millisecond)
		got, err := s.Update(ctx, rec.ID, func(domain.TaskRecord) (domain.TaskPatch, error) {
			return domain.TaskPatch{}, nil
		})
		require.NoError(t, err)
		assert.True(t, before.UpdatedAt.Equal(got.UpdatedAt))
	})

	t.Run("delete is idempotent", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		rec := newRecord(domain.TaskTypeOCR)
		require.NoError(t, s.Create(ctx, rec))

		existed, err := s.Delete(ctx, rec.ID)
		require.NoError(t, err)
		assert.True(t, existed)

		existed, err = s.Delete(ctx, rec.ID)
		require.NoError(t, err)
		assert.False(t, existed)

		_, err = s.Get(ctx, rec.ID)
		assert.ErrorIs(t, err, domain.ErrNotFound)
	})

	t.Run("list by status", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		first := newRecord(domain.TaskTypeOCR)
		second := newRecord(domain.TaskTypePDF)
		second.CreatedAt = first.CreatedAt.Add(time.Millisecond)
		second.UpdatedAt = second.CreatedAt
		other := newRecord(domain.TaskTypePDF)
		for _, rec := range []*domain.TaskRecord{first, second, other} {
			require.NoError(t, s.Create(ctx, rec))
		}
		for _, id := range []string{first.ID, second.ID} {
			_, err := s.Update(ctx, id, domain.SetFields(domain.TaskPatch{
				Status: domain.Status(domain.StatusRunning),
			}))
			require.NoError(t, err)
		}

		running, err := s.ListByStatus(ctx, domain.StatusRunning, 0)
		require.NoError(t, err)
		require.Len(t, running, 2)
		assert.Equal(t, first.ID, running[0].ID)
		assert.Equal(t, second.ID, running[1].ID)

		stale, err := s.ListByStatus(ctx, domain.StatusRunning, time.Hour)
		require.NoError(t, err)
		assert.Empty(t, stale, "freshly updated records are not stale")

		time.Sleep(20 * time.Millisecond)
		stale, err = s.ListByStatus(ctx, domain.StatusRunning, 10*time.Millisecond)
		require.NoError(t, err)
		assert.Len(t, stale, 2)
	})

	t.Run("concurrent updates are not lost", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		rec := newRecord(domain.TaskTypeTranslation)
		require.NoError(t, s.Create(ctx, rec))

		const workers = 20
		var wg sync.WaitGroup
		errs := make(chan error, workers)
		for i := 0; i < workers; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := s.Update(ctx, rec.ID, func(cur domain.TaskRecord) (domain.TaskPatch, error) {
					return domain.TaskPatch{Progress: domain.Int(cur.Progress + 1)}, nil
				})
				if err != nil {
					errs <- fmt.Errorf("increment: %w", err)
				}
			}()
		}
		wg.Wait()
		close(errs)
		for err := range errs {
			t.Error(err)
		}

		got, err := s.Get(ctx, rec.ID)
		require.NoError(t, err)
		assert.Equal(t, workers, got.Progress)
	})
}

func newRecord(taskType domain.TaskType) *domain.TaskRecord {
	return domain.NewTaskRecord(uuid.NewString(), taskType, time.Now().UTC().Truncate(time.Microsecond))
}
