package task

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/phrazzld/swiftdocs-api/internal/events"
	"github.com/phrazzld/swiftdocs-api/internal/notify"
	"github.com/phrazzld/swiftdocs-api/internal/store"
)

func setupTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

// recordingPublisher captures published events.
type recordingPublisher struct {
	mu     sync.Mutex
	events []*events.TaskEvent
}

func (p *recordingPublisher) Publish(_ context.Context, ev *events.TaskEvent) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
}

func (p *recordingPublisher) Broadcast(ctx context.Context, ev *events.TaskEvent) {
	p.Publish(ctx, ev)
}

func (p *recordingPublisher) types() []events.EventType {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []events.EventType
	for _, ev := range p.events {
		out = append(out, ev.Type)
	}
	return out
}

type testEnv struct {
	store     *store.MemoryTaskStore
	queue     *MemoryQueue
	processor *MockProcessor
	registry  *notify.Registry
	publisher *recordingPublisher
	manager   *Manager
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	logger := setupTestLogger()
	env := &testEnv{
		store:     store.NewMemoryTaskStore(),
		queue:     NewMemoryQueue(10, logger),
		processor: NewMockProcessor(),
		registry:  notify.NewRegistry(logger),
		publisher: &recordingPublisher{},
	}
	t.Cleanup(env.registry.Close)
	env.manager = NewManager(
		env.store,
		env.queue,
		NewMockProcessorSet(env.processor),
		env.registry,
		logger,
		WithPublisher(events.NewFanout(logger, env.registry, env.publisher)),
	)
	return env
}
