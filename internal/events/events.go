package events

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/swiftdocs-api/internal/domain"
)

// EventType names the lifecycle change an event describes.
type EventType string

// Event types pushed to subscribers.
const (
	EventCreated   EventType = "created"
	EventRunning   EventType = "running"
	EventProgress  EventType = "progress"
	EventCompleted EventType = "completed"
	EventFailed    EventType = "error"
	EventDeleted   EventType = "deleted"
	EventNotice    EventType = "notice"
)

// TaskEvent describes a change to a single task, or a process-wide notice
// when TaskID is empty.
type TaskEvent struct {
	// ID is a unique identifier for this event
	ID uuid.UUID `json:"id"`

	// Type indicates what happened
	Type EventType `json:"type"`

	// TaskID is the affected task; empty for notices
	TaskID string `json:"taskId,omitempty"`

	// Task is the record snapshot after the change; nil for deleted tasks and notices
	Task *domain.TaskRecord `json:"task,omitempty"`

	// Message carries notice text
	Message string `json:"message,omitempty"`

	// CreatedAt is the timestamp when the event was created
	CreatedAt time.Time `json:"createdAt"`
}

// NewTaskEvent creates an event carrying a snapshot of rec.
func NewTaskEvent(eventType EventType, rec *domain.TaskRecord) *TaskEvent {
	return &TaskEvent{
		ID:        uuid.New(),
		Type:      eventType,
		TaskID:    rec.ID,
		Task:      rec.Clone(),
		CreatedAt: time.Now().UTC(),
	}
}

// NewDeletedEvent creates the final event of a cancelled task.
func NewDeletedEvent(taskID string) *TaskEvent {
	return &TaskEvent{
		ID:        uuid.New(),
		Type:      EventDeleted,
		TaskID:    taskID,
		CreatedAt: time.Now().UTC(),
	}
}

// NewNotice creates a process-wide notice.
func NewNotice(message string) *TaskEvent {
	return &TaskEvent{
		ID:        uuid.New(),
		Type:      EventNotice,
		Message:   message,
		CreatedAt: time.Now().UTC(),
	}
}

// EventTypeFor maps a task status onto the event announcing it.
func EventTypeFor(status domain.TaskStatus) EventType {
	switch status {
	case domain.StatusPending:
		return EventCreated
	case domain.StatusRunning:
		return EventRunning
	case domain.StatusCompleted:
		return EventCompleted
	case domain.StatusError:
		return EventFailed
	default:
		return EventProgress
	}
}

// Publisher delivers events. Delivery is fire-and-forget: implementations
// must not block on slow consumers and report nothing back to the caller.
type Publisher interface {
	// Publish delivers ev to everyone interested in ev.TaskID.
	Publish(ctx context.Context, ev *TaskEvent)

	// Broadcast delivers ev to every consumer regardless of task.
	Broadcast(ctx context.Context, ev *TaskEvent)
}

// Discard is a Publisher that drops every event.
var Discard Publisher = discard{}

type discard struct{}

func (discard) Publish(context.Context, *TaskEvent)   {}
func (discard) Broadcast(context.Context, *TaskEvent) {}
