package task

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/swiftdocs-api/internal/domain"
	"github.com/phrazzld/swiftdocs-api/internal/events"
	"github.com/phrazzld/swiftdocs-api/internal/notify"
	"github.com/phrazzld/swiftdocs-api/internal/store"
)

// emptyResult is recorded when a task completes through progress alone.
var emptyResult = json.RawMessage(`{}`)

// ProcessorSet resolves the processor bound to a task type.
type ProcessorSet interface {
	Lookup(t domain.TaskType) (domain.Processor, error)
}

// Manager is the task lifecycle state machine. It is the only component that
// writes task records, and it publishes an event after every transition.
// All methods are safe for concurrent use; per-task consistency comes from
// the store's atomic Update.
type Manager struct {
	store      store.TaskStore
	queue      Queue
	processors ProcessorSet
	registry   *notify.Registry
	publisher  events.Publisher
	logger     *slog.Logger
	newID      func() string
	now        func() time.Time

	mu       sync.Mutex
	inflight map[string]*execution
}

type execution struct {
	cancel context.CancelFunc
}

// ManagerOption customises a Manager.
type ManagerOption func(*Manager)

// WithPublisher replaces the registry as the destination of lifecycle events,
// typically with an events.Fanout that also feeds a cross-process bridge.
func WithPublisher(p events.Publisher) ManagerOption {
	return func(m *Manager) {
		if p != nil {
			m.publisher = p
		}
	}
}

// WithIDGenerator overrides task id generation.
func WithIDGenerator(fn func() string) ManagerOption {
	return func(m *Manager) {
		if fn != nil {
			m.newID = fn
		}
	}
}

// NewManager creates a Manager.
func NewManager(
	taskStore store.TaskStore,
	queue Queue,
	processors ProcessorSet,
	registry *notify.Registry,
	logger *slog.Logger,
	opts ...ManagerOption,
) *Manager {
	m := &Manager{
		store:      taskStore,
		queue:      queue,
		processors: processors,
		registry:   registry,
		publisher:  events.Discard,
		logger:     logger.With("component", "task_manager"),
		newID:      uuid.NewString,
		now:        func() time.Time { return time.Now().UTC() },
		inflight:   make(map[string]*execution),
	}
	if registry != nil {
		m.publisher = registry
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Submit validates input, creates a pending record and dispatches it.
func (m *Manager) Submit(ctx context.Context, taskType domain.TaskType, input json.RawMessage) (*domain.TaskRecord, error) {
	if !taskType.Valid() {
		return nil, domain.Validationf("unknown task type %q", taskType)
	}
	proc, err := m.processors.Lookup(taskType)
	if err != nil {
		return nil, err
	}
	if err := proc.Validate(input); err != nil {
		if errors.Is(err, domain.ErrValidation) {
			return nil, err
		}
		return nil, domain.Validationf("%v", err)
	}

	now := m.now()
	rec := domain.NewTaskRecord(m.newID(), taskType, now)
	if err := m.store.Create(ctx, rec); err != nil {
		m.logger.Error("failed to create task record",
			"task_id", rec.ID,
			"task_type", taskType,
			"error", err)
		return nil, err
	}

	entry := domain.DispatchEntry{
		TaskID:     rec.ID,
		Type:       taskType,
		Input:      input,
		EnqueuedAt: now,
	}
	if err := m.queue.Enqueue(ctx, entry); err != nil {
		m.logger.Error("failed to enqueue task, removing record",
			"task_id", rec.ID,
			"task_type", taskType,
			"error", err)
		if _, delErr := m.store.Delete(context.WithoutCancel(ctx), rec.ID); delErr != nil {
			m.logger.Error("failed to remove undispatched task", "task_id", rec.ID, "error", delErr)
		}
		return nil, fmt.Errorf("failed to dispatch task: %w", err)
	}

	m.logger.Info("task submitted", "task_id", rec.ID, "task_type", taskType)
	m.publisher.Publish(ctx, events.NewTaskEvent(events.EventCreated, rec))
	return rec, nil
}

// GetStatus returns the current record of a task.
func (m *Manager) GetStatus(ctx context.Context, taskID string) (*domain.TaskRecord, error) {
	return m.store.Get(ctx, taskID)
}

// MarkRunning moves a pending task to running. It is a no-op for a task
// that is already running.
func (m *Manager) MarkRunning(ctx context.Context, taskID string) (*domain.TaskRecord, error) {
	return m.transition(ctx, taskID, events.EventRunning, func(cur domain.TaskRecord) (domain.TaskPatch, error) {
		switch cur.Status {
		case domain.StatusPending:
			return domain.TaskPatch{Status: domain.Status(domain.StatusRunning)}, nil
		case domain.StatusRunning:
			return domain.TaskPatch{}, nil
		default:
			return domain.TaskPatch{}, domain.InvalidTransition(taskID, cur.Status, "mark running")
		}
	})
}

// ReportProgress records progress of a running task. Percent is clamped to
// [0, 100] and never moves backwards. Reaching 100 completes the task.
func (m *Manager) ReportProgress(ctx context.Context, taskID string, percent int) (*domain.TaskRecord, error) {
	percent = clamp(percent)

	var eventType events.EventType
	rec, changed, err := m.update(ctx, taskID, func(cur domain.TaskRecord) (domain.TaskPatch, error) {
		if cur.Status != domain.StatusRunning {
			return domain.TaskPatch{}, domain.InvalidTransition(taskID, cur.Status, "report progress")
		}
		if percent >= 100 {
			eventType = events.EventCompleted
			patch := domain.TaskPatch{
				Status:   domain.Status(domain.StatusCompleted),
				Progress: domain.Int(100),
			}
			if !cur.HasResult() {
				patch.Result = emptyResult
			}
			return patch, nil
		}
		if percent <= cur.Progress {
			return domain.TaskPatch{}, nil
		}
		eventType = events.EventProgress
		return domain.TaskPatch{Progress: domain.Int(percent)}, nil
	})
	if err != nil {
		return nil, err
	}
	if changed {
		m.publisher.Publish(ctx, events.NewTaskEvent(eventType, rec))
	}
	return rec, nil
}

// ReportResult completes a running task with payload. On a task that is
// already completed the result is replaced, so a redelivered execution
// cannot fail.
func (m *Manager) ReportResult(ctx context.Context, taskID string, payload json.RawMessage) (*domain.TaskRecord, error) {
	if !domain.HasPayload(payload) {
		payload = emptyResult
	}
	return m.transition(ctx, taskID, events.EventCompleted, func(cur domain.TaskRecord) (domain.TaskPatch, error) {
		switch cur.Status {
		case domain.StatusRunning, domain.StatusCompleted:
			return domain.TaskPatch{
				Status:   domain.Status(domain.StatusCompleted),
				Progress: domain.Int(100),
				Result:   payload,
			}, nil
		default:
			return domain.TaskPatch{}, domain.InvalidTransition(taskID, cur.Status, "report result")
		}
	})
}

// ReportError fails a non-terminal task with message, leaving progress where
// it was. Failing an already failed task is a no-op.
func (m *Manager) ReportError(ctx context.Context, taskID, message string) (*domain.TaskRecord, error) {
	if message == "" {
		message = "task failed"
	}
	return m.transition(ctx, taskID, events.EventFailed, func(cur domain.TaskRecord) (domain.TaskPatch, error) {
		switch cur.Status {
		case domain.StatusPending, domain.StatusRunning:
			return domain.TaskPatch{
				Status: domain.Status(domain.StatusError),
				Error:  domain.String(message),
			}, nil
		case domain.StatusError:
			return domain.TaskPatch{}, nil
		default:
			return domain.TaskPatch{}, domain.InvalidTransition(taskID, cur.Status, "report error")
		}
	})
}

// Cancel deletes a task in any state. In-flight local work is signalled to
// stop and the processor's temporary resources are released. Cancel returns
// false when the task did not exist.
func (m *Manager) Cancel(ctx context.Context, taskID string) (bool, error) {
	rec, err := m.store.Get(ctx, taskID)
	if errors.Is(err, domain.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	existed, err := m.store.Delete(ctx, taskID)
	if err != nil {
		m.logger.Error("failed to delete task", "task_id", taskID, "error", err)
		return false, err
	}
	if !existed {
		return false, nil
	}

	m.abort(ctx, taskID, rec.Type)
	m.logger.Info("task cancelled", "task_id", taskID, "task_type", rec.Type, "status", rec.Status)
	m.publisher.Publish(ctx, events.NewDeletedEvent(taskID))
	return true, nil
}

// Subscribe registers conn for pushes about taskID. The current record is
// delivered first. Fails with domain.ErrNotFound for unknown tasks.
func (m *Manager) Subscribe(ctx context.Context, taskID string, conn notify.Connection) (notify.Handle, error) {
	if m.registry == nil {
		return notify.Handle{}, errors.New("task manager has no notification registry")
	}
	return m.registry.Subscribe(taskID, conn, func() (*events.TaskEvent, error) {
		rec, err := m.store.Get(ctx, taskID)
		if err != nil {
			return nil, err
		}
		return events.NewTaskEvent(events.EventTypeFor(rec.Status), rec), nil
	})
}

// Unsubscribe ends a subscription. Safe to call more than once.
func (m *Manager) Unsubscribe(h notify.Handle) {
	if m.registry != nil {
		m.registry.Unsubscribe(h)
	}
}

// Notify broadcasts a notice to every subscriber connected to this process.
// Notices about the process itself, such as shutdown, must not reach clients
// of other processes, so the cross-process publisher is bypassed.
func (m *Manager) Notify(ctx context.Context, message string) {
	if m.registry == nil {
		return
	}
	m.registry.Broadcast(ctx, events.NewNotice(message))
}

// StuckTasks lists running tasks not updated for at least olderThan.
func (m *Manager) StuckTasks(ctx context.Context, olderThan time.Duration) ([]*domain.TaskRecord, error) {
	return m.store.ListByStatus(ctx, domain.StatusRunning, olderThan)
}

// FailStuck fails taskID with message if it is still running and has not
// been updated for olderThan. The check and the write happen in one atomic
// update, so a task that reported progress after being listed survives.
func (m *Manager) FailStuck(ctx context.Context, taskID string, olderThan time.Duration, message string) (bool, error) {
	rec, changed, err := m.update(ctx, taskID, func(cur domain.TaskRecord) (domain.TaskPatch, error) {
		if cur.Status != domain.StatusRunning || m.now().Sub(cur.UpdatedAt) < olderThan {
			return domain.TaskPatch{}, nil
		}
		return domain.TaskPatch{
			Status: domain.Status(domain.StatusError),
			Error:  domain.String(message),
		}, nil
	})
	if err != nil {
		return false, err
	}
	if changed {
		m.publisher.Publish(ctx, events.NewTaskEvent(events.EventFailed, rec))
	}
	return changed, nil
}

// Track registers cancel as the abort signal of a local execution of taskID.
// The returned function unregisters it.
func (m *Manager) Track(taskID string, cancel context.CancelFunc) func() {
	e := &execution{cancel: cancel}
	m.mu.Lock()
	m.inflight[taskID] = e
	m.mu.Unlock()

	return func() {
		m.mu.Lock()
		if m.inflight[taskID] == e {
			delete(m.inflight, taskID)
		}
		m.mu.Unlock()
	}
}

// CancellationListener returns a Publisher that aborts local executions when
// a deleted event arrives from another process.
func (m *Manager) CancellationListener() events.Publisher {
	return cancellationListener{m: m}
}

type cancellationListener struct {
	m *Manager
}

func (l cancellationListener) Publish(ctx context.Context, ev *events.TaskEvent) {
	if ev.Type != events.EventDeleted {
		return
	}
	l.m.mu.Lock()
	_, running := l.m.inflight[ev.TaskID]
	l.m.mu.Unlock()
	if running {
		l.m.logger.Info("aborting execution of task cancelled elsewhere", "task_id", ev.TaskID)
		l.m.abort(ctx, ev.TaskID, "")
	}
}

func (cancellationListener) Broadcast(context.Context, *events.TaskEvent) {}

// abort signals an in-flight execution and releases processor resources.
// An empty taskType releases through every processor that holds resources.
func (m *Manager) abort(ctx context.Context, taskID string, taskType domain.TaskType) {
	m.mu.Lock()
	e, ok := m.inflight[taskID]
	delete(m.inflight, taskID)
	m.mu.Unlock()
	if ok {
		e.cancel()
	}

	types := domain.TaskTypes
	if taskType != "" {
		types = []domain.TaskType{taskType}
	}
	for _, t := range types {
		proc, err := m.processors.Lookup(t)
		if err != nil {
			continue
		}
		releaser, ok := proc.(domain.Releaser)
		if !ok {
			continue
		}
		if err := releaser.Release(ctx, taskID); err != nil {
			m.logger.Warn("failed to release task resources",
				"task_id", taskID,
				"task_type", t,
				"error", err)
		}
	}
}

// transition applies fn and publishes eventType when the record changed.
func (m *Manager) transition(ctx context.Context, taskID string, eventType events.EventType, fn domain.UpdateFunc) (*domain.TaskRecord, error) {
	rec, changed, err := m.update(ctx, taskID, fn)
	if err != nil {
		return nil, err
	}
	if changed {
		m.publisher.Publish(ctx, events.NewTaskEvent(eventType, rec))
	}
	return rec, nil
}

func (m *Manager) update(ctx context.Context, taskID string, fn domain.UpdateFunc) (*domain.TaskRecord, bool, error) {
	var changed bool
	rec, err := m.store.Update(ctx, taskID, func(cur domain.TaskRecord) (domain.TaskPatch, error) {
		patch, err := fn(cur)
		changed = err == nil && !patch.IsEmpty()
		return patch, err
	})
	if err != nil {
		if errors.Is(err, domain.ErrInvalidTransition) {
			m.logger.Warn("rejected task transition", "task_id", taskID, "error", err)
		}
		return nil, false, err
	}
	return rec, changed, nil
}

func clamp(percent int) int {
	switch {
	case percent < 0:
		return 0
	case percent > 100:
		return 100
	default:
		return percent
	}
}
