package events

import (
	"context"
	"log/slog"
	"sync"
)

// Fanout is a Publisher that forwards every event to a set of registered
// publishers, in registration order.
type Fanout struct {
	publishers []Publisher
	mu         sync.RWMutex
	logger     *slog.Logger
}

// NewFanout creates a Fanout forwarding to the given publishers.
func NewFanout(logger *slog.Logger, publishers ...Publisher) *Fanout {
	f := &Fanout{
		publishers: make([]Publisher, 0, len(publishers)),
		logger:     logger.With("component", "event_fanout"),
	}
	for _, p := range publishers {
		if p != nil {
			f.publishers = append(f.publishers, p)
		}
	}
	return f
}

// Register adds another publisher to receive events.
func (f *Fanout) Register(p Publisher) {
	if p == nil {
		return
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.publishers = append(f.publishers, p)
	f.logger.Debug("registered publisher", "publisher_count", len(f.publishers))
}

// Publish forwards ev to every registered publisher.
func (f *Fanout) Publish(ctx context.Context, ev *TaskEvent) {
	for _, p := range f.snapshot() {
		p.Publish(ctx, ev)
	}
	f.logger.Debug("published event",
		"event_id", ev.ID,
		"event_type", ev.Type,
		"task_id", ev.TaskID)
}

// Broadcast forwards ev to every registered publisher.
func (f *Fanout) Broadcast(ctx context.Context, ev *TaskEvent) {
	for _, p := range f.snapshot() {
		p.Broadcast(ctx, ev)
	}
	f.logger.Debug("broadcast event", "event_id", ev.ID, "event_type", ev.Type)
}

func (f *Fanout) snapshot() []Publisher {
	f.mu.RLock()
	defer f.mu.RUnlock()
	publishers := make([]Publisher, len(f.publishers))
	copy(publishers, f.publishers)
	return publishers
}

var _ Publisher = (*Fanout)(nil)
