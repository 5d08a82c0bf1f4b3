package task

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/phrazzld/swiftdocs-api/internal/domain"
	"golang.org/x/sync/errgroup"
)

// RunnerConfig holds configuration for the task runner
type RunnerConfig struct {
	// Pools sizes the worker pool of each task type. Types without an entry
	// get DefaultWorkerPoolConfig.
	Pools map[domain.TaskType]WorkerPoolConfig

	// Watchdog configures stuck task detection. A zero StuckAfter disables it.
	Watchdog WatchdogConfig
}

// DefaultRunnerConfig returns a RunnerConfig with reasonable defaults
func DefaultRunnerConfig() RunnerConfig {
	pools := make(map[domain.TaskType]WorkerPoolConfig, len(domain.TaskTypes))
	for _, t := range domain.TaskTypes {
		pools[t] = DefaultWorkerPoolConfig()
	}
	return RunnerConfig{
		Pools:    pools,
		Watchdog: DefaultWatchdogConfig(),
	}
}

// Runner manages background task processing: one worker pool per task type
// plus the stuck task watchdog.
type Runner struct {
	pools    []*WorkerPool
	watchdog *Watchdog
	logger   *slog.Logger
}

// NewRunner creates a Runner that consumes queue and executes tasks with the
// processors resolved from processors.
func NewRunner(
	queue Queue,
	manager *Manager,
	processors ProcessorSet,
	config RunnerConfig,
	logger *slog.Logger,
) (*Runner, error) {
	r := &Runner{logger: logger.With("component", "task_runner")}

	for _, t := range domain.TaskTypes {
		proc, err := processors.Lookup(t)
		if err != nil {
			return nil, fmt.Errorf("no processor for task type %s: %w", t, err)
		}
		poolCfg, ok := config.Pools[t]
		if !ok {
			poolCfg = DefaultWorkerPoolConfig()
		}
		r.pools = append(r.pools, NewWorkerPool(t, queue, manager, proc, poolCfg, logger))
	}

	if config.Watchdog.StuckAfter > 0 {
		wd, err := NewWatchdog(manager, config.Watchdog, logger)
		if err != nil {
			return nil, err
		}
		r.watchdog = wd
	}
	return r, nil
}

// Run blocks until ctx is cancelled and every worker has finished its
// current task.
func (r *Runner) Run(ctx context.Context) error {
	start := time.Now()
	r.logger.Info("starting task runner", "pools", len(r.pools), "watchdog", r.watchdog != nil)

	g, gctx := errgroup.WithContext(ctx)
	for _, p := range r.pools {
		g.Go(func() error { return p.Run(gctx) })
	}
	if r.watchdog != nil {
		g.Go(func() error { return r.watchdog.Run(gctx) })
	}

	err := g.Wait()
	r.logger.Info("task runner stopped", "uptime", time.Since(start).String())
	return err
}
