// Package main implements a standalone swiftdocs worker. It consumes the
// shared Redis dispatch queue and reports through the shared record store,
// so it cannot run against the in-memory backends.
package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/phrazzld/swiftdocs-api/internal/app"
	"github.com/phrazzld/swiftdocs-api/internal/config"
	"github.com/phrazzld/swiftdocs-api/internal/platform/logger"
)

var errSharedBackends = errors.New("worker requires queue.backend=redis and a persistent store backend")

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	l, err := logger.Setup(cfg.Server)
	if err != nil {
		log.Fatalf("Failed to set up logger: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, l); err != nil {
		l.Error("worker exited with error", "error", err)
		os.Exit(1)
	}
}

func checkBackends(cfg *config.Config) error {
	if cfg.Queue.Backend != "redis" || cfg.Store.Backend == "memory" {
		return fmt.Errorf("%w (queue=%s, store=%s)", errSharedBackends, cfg.Queue.Backend, cfg.Store.Backend)
	}
	return nil
}

func run(ctx context.Context, cfg *config.Config, l *slog.Logger, opts ...app.Option) error {
	if err := checkBackends(cfg); err != nil {
		return err
	}
	a, err := app.New(ctx, cfg, l.With("process", "worker"), opts...)
	if err != nil {
		return fmt.Errorf("failed to initialize application: %w", err)
	}
	defer func() {
		if err := a.Close(); err != nil {
			l.Error("failed to release resources", "error", err)
		}
	}()

	runner, err := a.Runner()
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return runner.Run(gctx) })
	// Cancellations made through another process's API arrive here.
	g.Go(func() error { return a.Bridge.Run(gctx) })
	return g.Wait()
}
