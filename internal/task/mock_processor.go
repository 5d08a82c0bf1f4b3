package task

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/phrazzld/swiftdocs-api/internal/domain"
)

// MockProcessor is a configurable domain.Processor for testing
type MockProcessor struct {
	ValidateFn func(input json.RawMessage) error
	ExecuteFn  func(ctx context.Context, job domain.Job, progress domain.ProgressFunc) (domain.Outcome, error)
	ReleaseFn  func(ctx context.Context, taskID string) error

	mu       sync.Mutex
	released []string
}

// NewMockProcessor creates a MockProcessor that accepts any input and
// succeeds with an empty object.
func NewMockProcessor() *MockProcessor {
	return &MockProcessor{
		ValidateFn: func(json.RawMessage) error { return nil },
		ExecuteFn: func(context.Context, domain.Job, domain.ProgressFunc) (domain.Outcome, error) {
			return domain.Outcome{Success: true, Payload: json.RawMessage(`{}`)}, nil
		},
	}
}

// Validate implements domain.Processor
func (p *MockProcessor) Validate(input json.RawMessage) error {
	if p.ValidateFn == nil {
		return nil
	}
	return p.ValidateFn(input)
}

// Execute implements domain.Processor
func (p *MockProcessor) Execute(ctx context.Context, job domain.Job, progress domain.ProgressFunc) (domain.Outcome, error) {
	return p.ExecuteFn(ctx, job, progress)
}

// Release implements domain.Releaser and records the released task ids.
func (p *MockProcessor) Release(ctx context.Context, taskID string) error {
	p.mu.Lock()
	p.released = append(p.released, taskID)
	p.mu.Unlock()
	if p.ReleaseFn != nil {
		return p.ReleaseFn(ctx, taskID)
	}
	return nil
}

// Released returns the task ids passed to Release.
func (p *MockProcessor) Released() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.released...)
}

// MockProcessors maps task types to processors and implements ProcessorSet.
type MockProcessors map[domain.TaskType]domain.Processor

// Lookup implements ProcessorSet
func (m MockProcessors) Lookup(t domain.TaskType) (domain.Processor, error) {
	p, ok := m[t]
	if !ok {
		return nil, domain.Validationf("unknown task type %q", t)
	}
	return p, nil
}

// NewMockProcessorSet binds the same processor to every task type.
func NewMockProcessorSet(p domain.Processor) MockProcessors {
	m := make(MockProcessors, len(domain.TaskTypes))
	for _, t := range domain.TaskTypes {
		m[t] = p
	}
	return m
}
