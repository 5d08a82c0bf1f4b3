package domain

import (
	"context"
	"encoding/json"
)

// Job is the execution request passed to a processor.
type Job struct {
	TaskID string
	Type   TaskType
	Input  json.RawMessage
}

// Outcome is the final result of a processor execution. Exactly one of
// Payload (Success) or Error (!Success) is meaningful.
type Outcome struct {
	Success bool
	Payload json.RawMessage
	Error   string
}

// Succeeded builds a successful outcome from any JSON-serialisable value.
func Succeeded(v any) (Outcome, error) {
	payload, err := json.Marshal(v)
	if err != nil {
		return Outcome{}, err
	}
	return Outcome{Success: true, Payload: payload}, nil
}

// Failed builds a processor-reported failure with a client-safe message.
func Failed(message string) Outcome {
	return Outcome{Success: false, Error: message}
}

// ProgressFunc forwards a processor's progress percentage to the lifecycle
// manager.
type ProgressFunc func(percent int)

// Processor executes one kind of document processing.
//
// Execute must observe ctx as its cancellation token: it is cancelled when the
// task is cancelled or its time budget runs out. A returned error is treated
// as an unexpected fault and never shown to clients; expected failures are
// reported through Outcome.Error.
type Processor interface {
	Validate(input json.RawMessage) error
	Execute(ctx context.Context, job Job, progress ProgressFunc) (Outcome, error)
}

// Releaser is implemented by processors that hold temporary resources for a
// task (scratch files and the like) which must be freed when the task is
// cancelled.
type Releaser interface {
	Release(ctx context.Context, taskID string) error
}
