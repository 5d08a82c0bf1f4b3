package api

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/phrazzld/swiftdocs-api/internal/events"
	"github.com/phrazzld/swiftdocs-api/internal/platform/logger"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = wsPongWait * 9 / 10
	wsMaxMessage = 4 << 10
)

var errConnClosed = errors.New("websocket connection closed")

// wsConnection adapts a gorilla WebSocket to notify.Connection. Writes are
// serialised; gorilla allows one concurrent writer.
type wsConnection struct {
	id   string
	conn *websocket.Conn

	mu     sync.Mutex
	closed bool
	done   chan struct{}
}

func newWSConnection(conn *websocket.Conn) *wsConnection {
	return &wsConnection{id: uuid.NewString(), conn: conn, done: make(chan struct{})}
}

// ID implements notify.Connection.
func (c *wsConnection) ID() string { return c.id }

// Send implements notify.Connection.
func (c *wsConnection) Send(ctx context.Context, ev *events.TaskEvent) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return errConnClosed
	}
	_ = c.conn.SetWriteDeadline(writeDeadline(ctx))
	return c.conn.WriteJSON(ev)
}

// ping keeps intermediaries from timing out idle subscriptions.
func (c *wsConnection) ping() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return errConnClosed
	}
	return c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteWait))
}

// Close implements notify.Connection. It sends a normal closure frame and
// releases the socket.
func (c *wsConnection) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	close(c.done)
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	_ = c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(wsWriteWait))
	return c.conn.Close()
}

func writeDeadline(ctx context.Context) time.Time {
	deadline := time.Now().Add(wsWriteWait)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		return d
	}
	return deadline
}

// SubscribeTask handles GET /api/v1/tasks/{id}/ws. Unknown tasks get a 404
// before the upgrade. The first message is the current record; later
// messages are lifecycle events until the task is deleted or the client
// disconnects.
func (h *TaskHandler) SubscribeTask(w http.ResponseWriter, r *http.Request) {
	id, err := getPathTaskID(r)
	if err != nil {
		HandleAPIError(w, r, err)
		return
	}
	if _, err := h.tasks.GetStatus(r.Context(), id); err != nil {
		HandleAPIError(w, r, err)
		return
	}

	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// The upgrader has already written an error response.
		logger.FromContext(r.Context()).Debug("websocket upgrade failed", "task_id", id, "error", err)
		return
	}
	conn := newWSConnection(ws)
	log := logger.FromContext(r.Context()).With("task_id", id, "conn_id", conn.ID())

	ctx := context.WithoutCancel(r.Context())
	handle, err := h.tasks.Subscribe(ctx, id, conn)
	if err != nil {
		// The task was removed between the check and the upgrade.
		log.Debug("subscription rejected", "error", err)
		_ = conn.Close()
		return
	}
	log.Debug("websocket subscribed")

	go h.keepAlive(conn)
	h.readUntilClosed(conn)

	h.tasks.Unsubscribe(handle)
	_ = conn.Close()
	log.Debug("websocket unsubscribed")
}

// readUntilClosed discards client messages and returns when the socket fails
// or closes. Reading is required to process pongs and close frames.
func (h *TaskHandler) readUntilClosed(c *wsConnection) {
	c.conn.SetReadLimit(wsMaxMessage)
	_ = c.conn.SetReadDeadline(time.Now().Add(wsPongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *TaskHandler) keepAlive(c *wsConnection) {
	ticker := time.NewTicker(wsPingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			if err := c.ping(); err != nil {
				return
			}
		}
	}
}
