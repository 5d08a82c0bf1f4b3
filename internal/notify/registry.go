package notify

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/phrazzld/swiftdocs-api/internal/events"
)

// ErrRegistryClosed is returned by Subscribe after Close.
var ErrRegistryClosed = errors.New("notification registry is closed")

// Connection is the push channel of a single client.
type Connection interface {
	// ID identifies the connection; unique among live connections.
	ID() string

	// Send writes one event to the client.
	Send(ctx context.Context, ev *events.TaskEvent) error

	// Close releases the connection. It may be called more than once.
	Close() error
}

// Handle identifies a subscription.
type Handle struct {
	TaskID string
	ConnID string
}

// SnapshotFunc returns the event delivered first on a new subscription.
// It runs after the subscription is registered, so no later change is lost.
type SnapshotFunc func() (*events.TaskEvent, error)

// Option customises a Registry.
type Option func(*Registry)

// WithOutboxSize sets the number of undelivered events a subscription may
// hold before it is dropped.
func WithOutboxSize(n int) Option {
	return func(r *Registry) {
		if n > 0 {
			r.outboxSize = n
		}
	}
}

// WithSendTimeout bounds a single Send call.
func WithSendTimeout(d time.Duration) Option {
	return func(r *Registry) {
		if d > 0 {
			r.sendTimeout = d
		}
	}
}

// Registry holds live subscriptions keyed by task id. It implements
// events.Publisher.
type Registry struct {
	mu     sync.RWMutex
	subs   map[string]map[string]*subscription
	closed bool

	outboxSize  int
	sendTimeout time.Duration
	logger      *slog.Logger
	wg          sync.WaitGroup
}

type subscription struct {
	handle Handle
	conn   Connection
	first  *events.TaskEvent
	outbox chan *events.TaskEvent

	// stopped drops anything still buffered once set.
	stopped atomic.Bool
	// lastVersion is the record version of the newest delivered snapshot.
	lastVersion int64
}

// NewRegistry creates an empty Registry.
func NewRegistry(logger *slog.Logger, opts ...Option) *Registry {
	r := &Registry{
		subs:        make(map[string]map[string]*subscription),
		outboxSize:  16,
		sendTimeout: 5 * time.Second,
		logger:      logger.With("component", "notification_registry"),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Subscribe registers conn for events of taskID. When snapshot is non-nil
// its event is delivered before any published event; a snapshot error
// aborts the subscription and is returned unchanged. The registry owns conn
// from here on and closes it when the subscription ends.
func (r *Registry) Subscribe(taskID string, conn Connection, snapshot SnapshotFunc) (Handle, error) {
	s := &subscription{
		handle: Handle{TaskID: taskID, ConnID: conn.ID()},
		conn:   conn,
		outbox: make(chan *events.TaskEvent, r.outboxSize),
	}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return Handle{}, ErrRegistryClosed
	}
	byConn, ok := r.subs[taskID]
	if !ok {
		byConn = make(map[string]*subscription)
		r.subs[taskID] = byConn
	}
	if old, exists := byConn[s.handle.ConnID]; exists {
		r.removeLocked(old)
	}
	byConn[s.handle.ConnID] = s
	r.wg.Add(1)
	r.mu.Unlock()

	if snapshot != nil {
		first, err := snapshot()
		if err != nil {
			r.mu.Lock()
			r.removeLocked(s)
			r.mu.Unlock()
			_ = conn.Close()
			r.wg.Done()
			return Handle{}, err
		}
		s.first = first
	}

	go r.deliver(s)

	r.logger.Debug("subscription added", "task_id", taskID, "conn_id", s.handle.ConnID)
	return s.handle, nil
}

// Unsubscribe removes the subscription and closes its connection. It is safe
// to call repeatedly or after the subscription has already ended.
func (r *Registry) Unsubscribe(h Handle) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.subs[h.TaskID][h.ConnID]; ok {
		r.removeLocked(s)
		r.logger.Debug("subscription removed", "task_id", h.TaskID, "conn_id", h.ConnID)
	}
}

// Publish delivers ev to every subscription of ev.TaskID. A deleted event is
// the last one a task's subscriptions receive.
func (r *Registry) Publish(ctx context.Context, ev *events.TaskEvent) {
	if ev.Type == events.EventDeleted {
		r.publishFinal(ev)
		return
	}

	r.mu.RLock()
	var overflow []*subscription
	for _, s := range r.subs[ev.TaskID] {
		if !offer(s, ev) {
			overflow = append(overflow, s)
		}
	}
	r.mu.RUnlock()

	r.dropOverflow(overflow)
}

// Broadcast delivers ev to every subscription regardless of task.
func (r *Registry) Broadcast(ctx context.Context, ev *events.TaskEvent) {
	r.mu.RLock()
	var overflow []*subscription
	for _, byConn := range r.subs {
		for _, s := range byConn {
			if !offer(s, ev) {
				overflow = append(overflow, s)
			}
		}
	}
	r.mu.RUnlock()

	r.dropOverflow(overflow)
}

// Count returns the number of live subscriptions for taskID.
func (r *Registry) Count(taskID string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.subs[taskID])
}

// Close removes every subscription and waits for their delivery goroutines
// to finish.
func (r *Registry) Close() {
	r.mu.Lock()
	r.closed = true
	for _, byConn := range r.subs {
		for _, s := range byConn {
			r.removeLocked(s)
		}
	}
	r.mu.Unlock()

	r.wg.Wait()
	r.logger.Info("notification registry closed")
}

func (r *Registry) publishFinal(ev *events.TaskEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range r.subs[ev.TaskID] {
		offer(s, ev)
		// The delivery goroutine sends what is buffered and then exits.
		r.detachLocked(s)
	}
}

func (r *Registry) dropOverflow(subs []*subscription) {
	if len(subs) == 0 {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range subs {
		if r.subs[s.handle.TaskID][s.handle.ConnID] == s {
			r.logger.Warn("dropping slow subscriber",
				"task_id", s.handle.TaskID,
				"conn_id", s.handle.ConnID,
				"outbox_size", r.outboxSize)
			r.removeLocked(s)
		}
	}
}

// offer enqueues without blocking and reports whether there was room.
// Callers hold r.mu.
func offer(s *subscription, ev *events.TaskEvent) bool {
	select {
	case s.outbox <- ev:
		return true
	default:
		return false
	}
}

// removeLocked stops s, discarding anything not yet delivered.
func (r *Registry) removeLocked(s *subscription) {
	s.stopped.Store(true)
	r.detachLocked(s)
}

// detachLocked unlinks s and closes its outbox.
func (r *Registry) detachLocked(s *subscription) {
	byConn, ok := r.subs[s.handle.TaskID]
	if !ok || byConn[s.handle.ConnID] != s {
		return
	}
	delete(byConn, s.handle.ConnID)
	if len(byConn) == 0 {
		delete(r.subs, s.handle.TaskID)
	}
	close(s.outbox)
}

func (r *Registry) deliver(s *subscription) {
	defer r.wg.Done()
	defer func() {
		if err := s.conn.Close(); err != nil {
			r.logger.Debug("failed to close connection", "conn_id", s.handle.ConnID, "error", err)
		}
	}()

	if s.first != nil && !r.send(s, s.first) {
		return
	}
	for ev := range s.outbox {
		if s.stopped.Load() {
			continue
		}
		if stale(s, ev) {
			continue
		}
		if !r.send(s, ev) {
			// Keep draining so the outbox is released; nothing more is sent.
			continue
		}
	}
}

// stale reports whether ev carries an older snapshot than one already sent.
// Versions come from the shared store, so writers on other hosts with
// skewed clocks still order correctly.
func stale(s *subscription, ev *events.TaskEvent) bool {
	return ev.Task != nil && ev.Task.Version > 0 && ev.Task.Version < s.lastVersion
}

func (r *Registry) send(s *subscription, ev *events.TaskEvent) bool {
	ctx, cancel := context.WithTimeout(context.Background(), r.sendTimeout)
	defer cancel()

	if err := s.conn.Send(ctx, ev); err != nil {
		r.logger.Debug("send failed, removing subscription",
			"task_id", s.handle.TaskID,
			"conn_id", s.handle.ConnID,
			"error", err)
		r.mu.Lock()
		r.removeLocked(s)
		r.mu.Unlock()
		return false
	}
	if ev.Task != nil && ev.Task.Version > s.lastVersion {
		s.lastVersion = ev.Task.Version
	}
	return true
}

var _ events.Publisher = (*Registry)(nil)
