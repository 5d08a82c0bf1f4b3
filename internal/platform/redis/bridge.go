package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/swiftdocs-api/internal/events"
	goredis "github.com/redis/go-redis/v9"
)

const (
	// outboxSize bounds events waiting to be published; newer events are
	// dropped while it is full.
	outboxSize = 256
	// publishTimeout bounds a single PUBLISH.
	publishTimeout = 2 * time.Second
	// flushTimeout bounds delivery of what is still queued on Close.
	flushTimeout = 2 * time.Second
)

// envelope is the wire form of an event on the bridge channel.
type envelope struct {
	Origin    string            `json:"origin"`
	Broadcast bool              `json:"broadcast,omitempty"`
	Event     *events.TaskEvent `json:"event"`
}

// EventBridge relays lifecycle events between processes. As an
// events.Publisher it forwards local events to Redis; Run delivers events
// published by other processes to the publishers registered with Forward.
// Events are tagged with a per-process origin so a process never receives
// its own events twice. Outgoing events are handed to a background sender,
// so a slow Redis never delays the transition that produced them.
type EventBridge struct {
	client  goredis.UniversalClient
	channel string
	origin  string
	local   *events.Fanout
	ready   chan struct{}
	logger  *slog.Logger

	outbox    chan outgoing
	startOnce sync.Once
	closeOnce sync.Once
	closing   chan struct{}
	stopped   chan struct{}
}

type outgoing struct {
	data []byte
	ev   *events.TaskEvent
}

// NewEventBridge creates a bridge on the events channel under prefix.
func NewEventBridge(client goredis.UniversalClient, prefix string, logger *slog.Logger) *EventBridge {
	logger = logger.With("component", "event_bridge")
	return &EventBridge{
		client:  client,
		channel: keys{prefix: prefix}.events(),
		origin:  uuid.NewString(),
		local:   events.NewFanout(logger),
		ready:   make(chan struct{}),
		logger:  logger,
		outbox:  make(chan outgoing, outboxSize),
		closing: make(chan struct{}),
		stopped: make(chan struct{}),
	}
}

// Forward registers p to receive events from other processes.
func (b *EventBridge) Forward(p events.Publisher) {
	b.local.Register(p)
}

// Origin identifies this process on the channel.
func (b *EventBridge) Origin() string {
	return b.origin
}

// Ready is closed once Run has subscribed to the channel.
func (b *EventBridge) Ready() <-chan struct{} {
	return b.ready
}

// Publish sends a task event to other processes.
func (b *EventBridge) Publish(ctx context.Context, ev *events.TaskEvent) {
	b.send(ctx, envelope{Origin: b.origin, Event: ev})
}

// Broadcast sends a notice to other processes.
func (b *EventBridge) Broadcast(ctx context.Context, ev *events.TaskEvent) {
	b.send(ctx, envelope{Origin: b.origin, Broadcast: true, Event: ev})
}

// send queues env for the background sender without blocking.
func (b *EventBridge) send(_ context.Context, env envelope) {
	data, err := json.Marshal(env)
	if err != nil {
		b.logger.Error("failed to encode event", "event_id", env.Event.ID, "error", err)
		return
	}
	select {
	case <-b.closing:
		b.logger.Debug("bridge closed, event not published", "event_id", env.Event.ID)
		return
	default:
	}

	b.startOnce.Do(func() { go b.pump() })
	select {
	case b.outbox <- outgoing{data: data, ev: env.Event}:
	default:
		b.logger.Warn("bridge outbox full, dropping event",
			"event_id", env.Event.ID,
			"event_type", env.Event.Type,
			"task_id", env.Event.TaskID)
	}
}

// pump publishes queued events in order until Close, then flushes what is
// left within flushTimeout.
func (b *EventBridge) pump() {
	defer close(b.stopped)
	for {
		select {
		case m := <-b.outbox:
			b.publish(context.Background(), m)
		case <-b.closing:
			b.flush()
			return
		}
	}
}

func (b *EventBridge) flush() {
	ctx, cancel := context.WithTimeout(context.Background(), flushTimeout)
	defer cancel()
	for {
		select {
		case m := <-b.outbox:
			b.publish(ctx, m)
		default:
			return
		}
	}
}

func (b *EventBridge) publish(ctx context.Context, m outgoing) {
	ctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()
	if err := b.client.Publish(ctx, b.channel, m.data).Err(); err != nil {
		b.logger.Error("failed to publish event",
			"event_id", m.ev.ID,
			"event_type", m.ev.Type,
			"task_id", m.ev.TaskID,
			"error", err)
	}
}

// Close stops the sender after flushing queued events. It does not close
// the Redis client.
func (b *EventBridge) Close() error {
	b.closeOnce.Do(func() {
		close(b.closing)
		// Nothing was ever sent: there is no sender to wait for.
		b.startOnce.Do(func() { close(b.stopped) })
	})
	<-b.stopped
	return nil
}

// Run subscribes to the channel and forwards remote events until ctx is
// cancelled.
func (b *EventBridge) Run(ctx context.Context) error {
	sub := b.client.Subscribe(ctx, b.channel)
	defer sub.Close()

	// Wait for the subscription confirmation so no event published after
	// Ready is missed.
	if _, err := sub.Receive(ctx); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("event bridge: subscribe %s: %w", b.channel, err)
	}
	close(b.ready)
	b.logger.Info("event bridge subscribed", "channel", b.channel, "origin", b.origin)

	msgs := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			b.logger.Info("event bridge stopped")
			return nil
		case msg, ok := <-msgs:
			if !ok {
				return nil
			}
			b.deliver(ctx, msg.Payload)
		}
	}
}

func (b *EventBridge) deliver(ctx context.Context, payload string) {
	var env envelope
	if err := json.Unmarshal([]byte(payload), &env); err != nil || env.Event == nil {
		b.logger.Warn("dropping malformed bridge message", "error", err)
		return
	}
	if env.Origin == b.origin {
		return
	}
	if env.Broadcast {
		b.local.Broadcast(ctx, env.Event)
		return
	}
	b.local.Publish(ctx, env.Event)
}

var _ events.Publisher = (*EventBridge)(nil)
