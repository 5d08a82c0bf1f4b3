package task

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/phrazzld/swiftdocs-api/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func entry(id string, t domain.TaskType) domain.DispatchEntry {
	return domain.DispatchEntry{TaskID: id, Type: t, Input: json.RawMessage(`{}`), EnqueuedAt: time.Now()}
}

func TestMemoryQueue(t *testing.T) {
	ctx := context.Background()

	t.Run("delivers per type in order", func(t *testing.T) {
		q := NewMemoryQueue(5, setupTestLogger())
		require.NoError(t, q.Enqueue(ctx, entry("a", domain.TaskTypeOCR)))
		require.NoError(t, q.Enqueue(ctx, entry("b", domain.TaskTypePDF)))
		require.NoError(t, q.Enqueue(ctx, entry("c", domain.TaskTypeOCR)))
		assert.Equal(t, 2, q.Len(domain.TaskTypeOCR))

		first, err := q.Dequeue(ctx, domain.TaskTypeOCR, time.Second)
		require.NoError(t, err)
		second, err := q.Dequeue(ctx, domain.TaskTypeOCR, time.Second)
		require.NoError(t, err)
		assert.Equal(t, "a", first.TaskID)
		assert.Equal(t, "c", second.TaskID)

		pdf, err := q.Dequeue(ctx, domain.TaskTypePDF, time.Second)
		require.NoError(t, err)
		assert.Equal(t, "b", pdf.TaskID)
	})

	t.Run("empty after wait", func(t *testing.T) {
		q := NewMemoryQueue(1, setupTestLogger())
		start := time.Now()
		_, err := q.Dequeue(ctx, domain.TaskTypeTranslation, 20*time.Millisecond)
		assert.ErrorIs(t, err, ErrQueueEmpty)
		assert.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond)
	})

	t.Run("full", func(t *testing.T) {
		q := NewMemoryQueue(1, setupTestLogger())
		require.NoError(t, q.Enqueue(ctx, entry("a", domain.TaskTypeOCR)))
		err := q.Enqueue(ctx, entry("b", domain.TaskTypeOCR))
		assert.ErrorIs(t, err, ErrQueueFull)

		// Other types have their own capacity.
		assert.NoError(t, q.Enqueue(ctx, entry("c", domain.TaskTypePDF)))
	})

	t.Run("unknown type", func(t *testing.T) {
		q := NewMemoryQueue(1, setupTestLogger())
		err := q.Enqueue(ctx, entry("a", domain.TaskType("audio")))
		assert.ErrorIs(t, err, domain.ErrValidation)
		_, err = q.Dequeue(ctx, domain.TaskType("audio"), time.Millisecond)
		assert.ErrorIs(t, err, domain.ErrValidation)
	})

	t.Run("close drains then reports closed", func(t *testing.T) {
		q := NewMemoryQueue(2, setupTestLogger())
		require.NoError(t, q.Enqueue(ctx, entry("a", domain.TaskTypeOCR)))
		require.NoError(t, q.Close())
		require.NoError(t, q.Close())

		assert.ErrorIs(t, q.Enqueue(ctx, entry("b", domain.TaskTypeOCR)), ErrQueueClosed)

		got, err := q.Dequeue(ctx, domain.TaskTypeOCR, time.Second)
		require.NoError(t, err)
		assert.Equal(t, "a", got.TaskID)

		_, err = q.Dequeue(ctx, domain.TaskTypeOCR, time.Second)
		assert.ErrorIs(t, err, ErrQueueClosed)
	})

	t.Run("context cancellation", func(t *testing.T) {
		q := NewMemoryQueue(1, setupTestLogger())
		cctx, cancel := context.WithCancel(ctx)
		cancel()
		_, err := q.Dequeue(cctx, domain.TaskTypeOCR, time.Second)
		assert.ErrorIs(t, err, context.Canceled)
	})
}
