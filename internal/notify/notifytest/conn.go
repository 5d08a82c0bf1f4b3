// Package notifytest provides an in-memory notify.Connection for tests.
package notifytest

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/swiftdocs-api/internal/events"
)

// ErrConnClosed is returned by Send after Close.
var ErrConnClosed = errors.New("connection closed")

// Conn records every event sent to it.
type Conn struct {
	id string

	mu     sync.Mutex
	events []*events.TaskEvent
	closed bool
	notify chan struct{}

	// SendFn, when set, runs before the event is recorded; a non-nil error
	// fails the send.
	SendFn func(ctx context.Context, ev *events.TaskEvent) error
}

// NewConn creates an open connection with a random id.
func NewConn() *Conn {
	return &Conn{id: uuid.NewString(), notify: make(chan struct{}, 1)}
}

// ID implements notify.Connection.
func (c *Conn) ID() string { return c.id }

// Send implements notify.Connection.
func (c *Conn) Send(ctx context.Context, ev *events.TaskEvent) error {
	if c.SendFn != nil {
		if err := c.SendFn(ctx, ev); err != nil {
			return err
		}
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrConnClosed
	}
	c.events = append(c.events, ev)
	c.signal()
	return nil
}

// Close implements notify.Connection.
func (c *Conn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	c.signal()
	return nil
}

func (c *Conn) signal() {
	select {
	case c.notify <- struct{}{}:
	default:
	}
}

// Events returns a copy of the events received so far.
func (c *Conn) Events() []*events.TaskEvent {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]*events.TaskEvent(nil), c.events...)
}

// Types returns the types of the events received so far.
func (c *Conn) Types() []events.EventType {
	var types []events.EventType
	for _, ev := range c.Events() {
		types = append(types, ev.Type)
	}
	return types
}

// Closed reports whether Close was called.
func (c *Conn) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// WaitFor blocks until cond holds or timeout elapses, and reports whether
// cond held.
func (c *Conn) WaitFor(timeout time.Duration, cond func(c *Conn) bool) bool {
	deadline := time.After(timeout)
	for {
		if cond(c) {
			return true
		}
		select {
		case <-c.notify:
		case <-deadline:
			return cond(c)
		}
	}
}

// HasEvents is a WaitFor condition for at least n received events.
func HasEvents(n int) func(c *Conn) bool {
	return func(c *Conn) bool { return len(c.Events()) >= n }
}

// IsClosed is a WaitFor condition for a closed connection.
func IsClosed(c *Conn) bool { return c.Closed() }
