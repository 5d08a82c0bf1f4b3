package task

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// WatchdogConfig controls stuck task detection.
type WatchdogConfig struct {
	// Schedule is a cron spec; descriptors such as "@every 1m" are accepted.
	Schedule string
	// StuckAfter is how long a running task may go without an update.
	StuckAfter time.Duration
}

// DefaultWatchdogConfig returns the default watchdog settings.
func DefaultWatchdogConfig() WatchdogConfig {
	return WatchdogConfig{
		Schedule:   "@every 1m",
		StuckAfter: time.Hour,
	}
}

// Watchdog fails running tasks that stopped reporting, typically because the
// worker executing them died.
type Watchdog struct {
	manager  *Manager
	config   WatchdogConfig
	schedule cron.Schedule
	logger   *slog.Logger
}

// NewWatchdog validates the schedule and creates a Watchdog.
func NewWatchdog(manager *Manager, config WatchdogConfig, logger *slog.Logger) (*Watchdog, error) {
	if config.Schedule == "" {
		config.Schedule = DefaultWatchdogConfig().Schedule
	}
	schedule, err := cron.ParseStandard(config.Schedule)
	if err != nil {
		return nil, fmt.Errorf("invalid watchdog schedule %q: %w", config.Schedule, err)
	}
	return &Watchdog{
		manager:  manager,
		config:   config,
		schedule: schedule,
		logger:   logger.With("component", "watchdog"),
	}, nil
}

// Run sweeps on the configured schedule until ctx is cancelled.
func (w *Watchdog) Run(ctx context.Context) error {
	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	c.Schedule(w.schedule, cron.FuncJob(func() {
		if _, err := w.Sweep(ctx); err != nil && ctx.Err() == nil {
			w.logger.Error("stuck task sweep failed", "error", err)
		}
	}))

	w.logger.Info("starting watchdog",
		"schedule", w.config.Schedule,
		"stuck_after", w.config.StuckAfter.String())
	c.Start()
	<-ctx.Done()
	<-c.Stop().Done()
	w.logger.Info("watchdog stopped")
	return nil
}

// Sweep fails every running task not updated for StuckAfter and returns how
// many were failed.
func (w *Watchdog) Sweep(ctx context.Context) (int, error) {
	stuck, err := w.manager.StuckTasks(ctx, w.config.StuckAfter)
	if err != nil {
		return 0, err
	}

	msg := fmt.Sprintf("task timed out after %s", w.config.StuckAfter)
	failed := 0
	for _, rec := range stuck {
		ok, err := w.manager.FailStuck(ctx, rec.ID, w.config.StuckAfter, msg)
		if err != nil {
			// The task may have been cancelled since listing.
			w.logger.Debug("skipping stuck task", "task_id", rec.ID, "error", err)
			continue
		}
		if !ok {
			w.logger.Debug("task moved on since listing", "task_id", rec.ID)
			continue
		}
		failed++
		w.logger.Warn("failed stuck task",
			"task_id", rec.ID,
			"task_type", rec.Type,
			"last_update", rec.UpdatedAt)
	}
	if failed > 0 {
		w.logger.Info("stuck task sweep finished", "found", len(stuck), "failed", failed)
	}
	return failed, nil
}
