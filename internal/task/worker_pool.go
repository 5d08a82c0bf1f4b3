package task

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/phrazzld/swiftdocs-api/internal/domain"
	"github.com/phrazzld/swiftdocs-api/internal/redact"
)

// Messages recorded for failures whose details must not reach clients.
const (
	internalErrorMessage = "internal processing error"
	shutdownMessage      = "task interrupted by worker shutdown"
)

var (
	errTaskTimeout   = errors.New("task timeout")
	errTaskCancelled = errors.New("task cancelled")
)

// reportTimeout bounds the final status write after an execution ends.
const reportTimeout = 10 * time.Second

// WorkerPoolConfig holds configuration options for a worker pool
type WorkerPoolConfig struct {
	// WorkerCount determines how many concurrent worker goroutines to start
	// If zero or negative, DefaultWorkerPoolConfig's count is used
	WorkerCount int

	// Timeout is the hard budget of a single execution
	Timeout time.Duration

	// DequeueWait bounds each blocking dequeue so workers notice shutdown
	DequeueWait time.Duration
}

// DefaultWorkerPoolConfig returns a WorkerPoolConfig with reasonable defaults
func DefaultWorkerPoolConfig() WorkerPoolConfig {
	return WorkerPoolConfig{
		WorkerCount: 2,
		Timeout:     5 * time.Minute,
		DequeueWait: 2 * time.Second,
	}
}

// WorkerPool runs the workers of one task type. Each worker takes an entry
// from the queue, marks the task running, executes the processor under the
// configured timeout and reports the outcome through the Manager.
type WorkerPool struct {
	taskType  domain.TaskType
	queue     Queue
	manager   *Manager
	processor domain.Processor
	config    WorkerPoolConfig
	logger    *slog.Logger
	wg        sync.WaitGroup
}

// NewWorkerPool creates a worker pool for taskType.
func NewWorkerPool(
	taskType domain.TaskType,
	queue Queue,
	manager *Manager,
	processor domain.Processor,
	config WorkerPoolConfig,
	logger *slog.Logger,
) *WorkerPool {
	logger = logger.With("component", "worker_pool", "task_type", taskType)

	defaults := DefaultWorkerPoolConfig()
	if config.WorkerCount <= 0 {
		logger.Warn("invalid worker count specified, using default",
			"specified_count", config.WorkerCount,
			"default_count", defaults.WorkerCount)
		config.WorkerCount = defaults.WorkerCount
	}
	if config.Timeout <= 0 {
		config.Timeout = defaults.Timeout
	}
	if config.DequeueWait <= 0 {
		config.DequeueWait = defaults.DequeueWait
	}

	return &WorkerPool{
		taskType:  taskType,
		queue:     queue,
		manager:   manager,
		processor: processor,
		config:    config,
		logger:    logger,
	}
}

// Run starts the workers and blocks until ctx is cancelled or the queue is
// closed, then waits for every worker to return.
func (p *WorkerPool) Run(ctx context.Context) error {
	p.logger.Info("starting worker pool",
		"worker_count", p.config.WorkerCount,
		"timeout", p.config.Timeout.String())

	for i := 0; i < p.config.WorkerCount; i++ {
		p.wg.Add(1)
		go p.worker(ctx, i)
	}
	p.wg.Wait()

	p.logger.Info("worker pool stopped")
	return nil
}

// worker processes entries until shutdown.
func (p *WorkerPool) worker(ctx context.Context, id int) {
	defer p.wg.Done()
	logger := p.logger.With("worker_id", id)
	logger.Debug("starting worker")

	for {
		if ctx.Err() != nil {
			logger.Debug("stopping worker")
			return
		}

		entry, err := p.queue.Dequeue(ctx, p.taskType, p.config.DequeueWait)
		switch {
		case err == nil:
			p.process(ctx, id, entry)
		case errors.Is(err, ErrQueueEmpty):
			continue
		case errors.Is(err, ErrQueueClosed):
			logger.Debug("task queue closed, stopping worker")
			return
		case ctx.Err() != nil:
			logger.Debug("stopping worker")
			return
		default:
			logger.Error("failed to dequeue task", "error", err)
			select {
			case <-ctx.Done():
			case <-time.After(time.Second):
			}
		}
	}
}

type execResult struct {
	outcome domain.Outcome
	err     error
}

// process handles execution of a single dispatch entry
func (p *WorkerPool) process(ctx context.Context, workerID int, entry *domain.DispatchEntry) {
	logger := p.logger.With("task_id", entry.TaskID, "worker_id", workerID)

	cancelCtx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)
	execCtx, stop := context.WithTimeoutCause(cancelCtx, p.config.Timeout, errTaskTimeout)
	defer stop()

	untrack := p.manager.Track(entry.TaskID, func() { cancel(errTaskCancelled) })
	defer untrack()

	if _, err := p.manager.MarkRunning(ctx, entry.TaskID); err != nil {
		switch {
		case errors.Is(err, domain.ErrNotFound):
			logger.Info("skipping task cancelled before start")
		case errors.Is(err, domain.ErrInvalidTransition):
			logger.Warn("skipping redelivered task already finished")
		default:
			logger.Error("failed to mark task running", "error", err)
		}
		return
	}
	logger.Info("processing task")
	started := time.Now()

	progress := func(percent int) {
		if _, err := p.manager.ReportProgress(ctx, entry.TaskID, percent); err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				cancel(errTaskCancelled)
				return
			}
			logger.Debug("progress report rejected", "percent", percent, "error", err)
		}
	}

	job := domain.Job{TaskID: entry.TaskID, Type: entry.Type, Input: entry.Input}
	done := make(chan execResult, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				logger.Error("processor panicked", "panic", fmt.Sprint(r), "stack", string(debug.Stack()))
				done <- execResult{err: fmt.Errorf("processor panic: %v", r)}
			}
		}()
		outcome, err := p.processor.Execute(execCtx, job, progress)
		done <- execResult{outcome: outcome, err: err}
	}()

	var (
		res      execResult
		finished bool
	)
	select {
	case res = <-done:
		finished = true
	case <-execCtx.Done():
		// A result that raced the deadline still counts.
		select {
		case res = <-done:
			finished = true
		default:
		}
	}

	reportCtx, cancelReport := context.WithTimeout(context.WithoutCancel(ctx), reportTimeout)
	defer cancelReport()
	logger = logger.With("duration_ms", time.Since(started).Milliseconds())

	if !finished || (res.err != nil && execCtx.Err() != nil) {
		switch cause := context.Cause(execCtx); {
		case errors.Is(cause, errTaskTimeout):
			msg := fmt.Sprintf("task timed out after %s", p.config.Timeout)
			logger.Warn("task execution timed out", "classification", "timeout")
			p.fail(reportCtx, logger, entry.TaskID, msg)
		case errors.Is(cause, errTaskCancelled):
			logger.Info("task execution cancelled")
		default:
			logger.Warn("task execution interrupted by shutdown")
			p.fail(reportCtx, logger, entry.TaskID, shutdownMessage)
		}
		return
	}

	switch {
	case res.err != nil:
		logger.Error("task execution failed",
			"classification", "processor_fault",
			"error", redact.Error(res.err))
		p.fail(reportCtx, logger, entry.TaskID, internalErrorMessage)
	case !res.outcome.Success:
		logger.Warn("processor reported failure",
			"classification", "processor_error",
			"error", redact.String(res.outcome.Error))
		p.fail(reportCtx, logger, entry.TaskID, res.outcome.Error)
	default:
		if _, err := p.manager.ReportResult(reportCtx, entry.TaskID, res.outcome.Payload); err != nil {
			p.logReportError(logger, "failed to record task result", err)
			return
		}
		logger.Info("task completed successfully")
	}
}

func (p *WorkerPool) fail(ctx context.Context, logger *slog.Logger, taskID, message string) {
	if _, err := p.manager.ReportError(ctx, taskID, message); err != nil {
		p.logReportError(logger, "failed to record task error", err)
	}
}

func (p *WorkerPool) logReportError(logger *slog.Logger, msg string, err error) {
	if errors.Is(err, domain.ErrNotFound) {
		logger.Info("task removed during execution")
		return
	}
	logger.Error(msg, "error", err)
}
