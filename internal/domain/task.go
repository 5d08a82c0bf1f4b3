package domain

import (
	"bytes"
	"encoding/json"
	"strings"
	"time"
)

// TaskType identifies the kind of document processing a task performs.
type TaskType string

// Supported task types. Each type has its own dispatch queue and exactly one
// processor implementation.
const (
	TaskTypeOCR         TaskType = "ocr"
	TaskTypePDF         TaskType = "pdf"
	TaskTypeTranslation TaskType = "translation"
)

// TaskTypes lists every supported task type in a stable order.
var TaskTypes = []TaskType{TaskTypeOCR, TaskTypePDF, TaskTypeTranslation}

// Valid reports whether t is one of the supported task types.
func (t TaskType) Valid() bool {
	switch t {
	case TaskTypeOCR, TaskTypePDF, TaskTypeTranslation:
		return true
	default:
		return false
	}
}

// ParseTaskType converts a string into a TaskType, rejecting unknown values
// with ErrValidation.
func ParseTaskType(s string) (TaskType, error) {
	t := TaskType(strings.ToLower(strings.TrimSpace(s)))
	if !t.Valid() {
		return "", Validationf("unknown task type %q", s)
	}
	return t, nil
}

// TaskStatus represents the lifecycle state of a task.
type TaskStatus string

// Task status values. A task moves pending -> running -> completed|error;
// cancellation removes the record from any state.
const (
	StatusPending   TaskStatus = "pending"
	StatusRunning   TaskStatus = "running"
	StatusCompleted TaskStatus = "completed"
	StatusError     TaskStatus = "error"
)

// IsTerminal reports whether no further lifecycle transitions apply.
func (s TaskStatus) IsTerminal() bool {
	return s == StatusCompleted || s == StatusError
}

// TaskRecord is the persisted state of a single task.
type TaskRecord struct {
	ID        string          `json:"id"`
	Type      TaskType        `json:"type"`
	Status    TaskStatus      `json:"status"`
	Progress  int             `json:"progress"`
	Result    json.RawMessage `json:"result,omitempty"`
	Error     string          `json:"error,omitempty"`
	// Version starts at 1 and grows by one with every stored update, so
	// snapshots of a task can be ordered without comparing clocks.
	Version   int64           `json:"version"`
	CreatedAt time.Time       `json:"createdAt"`
	UpdatedAt time.Time       `json:"updatedAt"`
}

// NewTaskRecord returns a pending record with zero progress.
func NewTaskRecord(id string, taskType TaskType, now time.Time) *TaskRecord {
	return &TaskRecord{
		ID:        id,
		Type:      taskType,
		Status:    StatusPending,
		Progress:  0,
		Version:   1,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// HasResult reports whether a result payload is present.
func (r *TaskRecord) HasResult() bool {
	return HasPayload(r.Result)
}

// Clone returns a deep copy of the record.
func (r *TaskRecord) Clone() *TaskRecord {
	if r == nil {
		return nil
	}
	c := *r
	if r.Result != nil {
		c.Result = append(json.RawMessage(nil), r.Result...)
	}
	return &c
}

// Apply merges the supplied patch fields into the record, bumps Version and
// refreshes UpdatedAt.
func (r *TaskRecord) Apply(p TaskPatch, now time.Time) {
	if p.Status != nil {
		r.Status = *p.Status
	}
	if p.Progress != nil {
		r.Progress = *p.Progress
	}
	if p.Result != nil {
		r.Result = append(json.RawMessage(nil), p.Result...)
	}
	if p.Error != nil {
		r.Error = *p.Error
	}
	r.Version++
	r.UpdatedAt = now
}

// TaskPatch holds the fields of a partial record update. Nil fields are left
// untouched.
type TaskPatch struct {
	Status   *TaskStatus
	Progress *int
	Result   json.RawMessage
	Error    *string
}

// IsEmpty reports whether the patch changes nothing.
func (p TaskPatch) IsEmpty() bool {
	return p.Status == nil && p.Progress == nil && p.Result == nil && p.Error == nil
}

// UpdateFunc computes a patch from the current record. Stores call it while
// holding the record's key so the read-modify-write is atomic per task. An
// empty patch leaves the stored record untouched; an error aborts the update.
type UpdateFunc func(current TaskRecord) (TaskPatch, error)

// SetFields returns an UpdateFunc that unconditionally applies p.
func SetFields(p TaskPatch) UpdateFunc {
	return func(TaskRecord) (TaskPatch, error) { return p, nil }
}

// Status returns a pointer to s for use in a TaskPatch.
func Status(s TaskStatus) *TaskStatus { return &s }

// Int returns a pointer to v for use in a TaskPatch.
func Int(v int) *int { return &v }

// String returns a pointer to v for use in a TaskPatch.
func String(v string) *string { return &v }

// HasPayload reports whether raw holds a JSON value other than null.
func HasPayload(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) > 0 && !bytes.Equal(trimmed, []byte("null"))
}

// DispatchEntry is the unit handed from request handlers to workers through
// the dispatch queue.
type DispatchEntry struct {
	TaskID     string          `json:"taskId"`
	Type       TaskType        `json:"type"`
	Input      json.RawMessage `json:"input"`
	EnqueuedAt time.Time       `json:"enqueuedAt"`
}
