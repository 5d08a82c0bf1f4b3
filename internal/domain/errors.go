// Package domain defines the core task entities and errors.
package domain

import (
	"errors"
	"fmt"
)

// Task orchestration error taxonomy.
var (
	// ErrValidation is returned when a task type or task input is rejected
	// before any record is created.
	ErrValidation = errors.New("validation failed")

	// ErrNotFound is returned when a task identifier is unknown.
	ErrNotFound = errors.New("task not found")

	// ErrDuplicateTask is returned when a record with the same identifier
	// already exists.
	ErrDuplicateTask = errors.New("task already exists")

	// ErrInvalidTransition is returned when a lifecycle operation is not
	// permitted from the task's current status.
	ErrInvalidTransition = errors.New("invalid task transition")

	// ErrTimeout classifies a processor that exceeded its time budget.
	ErrTimeout = errors.New("task timed out")

	// ErrProcessor classifies a failure reported by a processor.
	ErrProcessor = errors.New("processor error")
)

// TaskError attaches a task identifier and a message to one of the taxonomy
// errors above.
type TaskError struct {
	Kind   error
	TaskID string
	Msg    string
}

func (e *TaskError) Error() string {
	if e == nil {
		return ""
	}
	switch {
	case e.TaskID != "" && e.Msg != "":
		return fmt.Sprintf("%s: task %s: %s", e.Kind.Error(), e.TaskID, e.Msg)
	case e.TaskID != "":
		return fmt.Sprintf("%s: task %s", e.Kind.Error(), e.TaskID)
	case e.Msg != "":
		return fmt.Sprintf("%s: %s", e.Kind.Error(), e.Msg)
	default:
		return e.Kind.Error()
	}
}

func (e *TaskError) Unwrap() error { return e.Kind }

// NotFound returns an ErrNotFound for the given task.
func NotFound(taskID string) error {
	return &TaskError{Kind: ErrNotFound, TaskID: taskID}
}

// Duplicate returns an ErrDuplicateTask for the given task.
func Duplicate(taskID string) error {
	return &TaskError{Kind: ErrDuplicateTask, TaskID: taskID}
}

// Validationf returns an ErrValidation with a formatted message.
func Validationf(format string, args ...any) error {
	return &TaskError{Kind: ErrValidation, Msg: fmt.Sprintf(format, args...)}
}

// InvalidTransition reports an operation that cannot be applied to a task in
// the given status.
func InvalidTransition(taskID string, from TaskStatus, op string) error {
	return &TaskError{
		Kind:   ErrInvalidTransition,
		TaskID: taskID,
		Msg:    fmt.Sprintf("cannot %s from status %s", op, from),
	}
}
