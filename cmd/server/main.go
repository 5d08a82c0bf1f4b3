// Package main implements the swiftdocs API server: the HTTP and WebSocket
// API plus, unless disabled, the embedded worker pools.
package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/phrazzld/swiftdocs-api/internal/app"
	"github.com/phrazzld/swiftdocs-api/internal/config"
	"github.com/phrazzld/swiftdocs-api/internal/platform/logger"
)

// shutdownNotice is pushed to every open subscription before the server stops.
const shutdownNotice = "server is shutting down; reconnect and fetch the task to resume"

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
		l.Error("server exited with error", "error", err)
		os.Exit(1)
	}
}

// run builds the application and serves until ctx is cancelled.
func run(ctx context.Context, cfg *config.Config, l *slog.Logger) error {
	a, err := app.New(ctx, cfg, l)
	if err != nil {
		return fmt.Errorf("failed to initialize application: %w", err)
	}
	defer func() {
		if err := a.Close(); err != nil {
			l.Error("failed to release resources", "error", err)
		}
	}()

	var ln net.Listener
	if cfg.Server.APIEnabled {
		ln, err = net.Listen("tcp", fmt.Sprintf(":%d", cfg.Server.Port))
		if err != nil {
			return fmt.Errorf("failed to listen on port %d: %w", cfg.Server.Port, err)
		}
	}
	return serve(ctx, a, ln)
}

// serve runs the HTTP server on ln (when non-nil), the embedded runner and
// the event bridge until ctx is cancelled or one of them fails.
func serve(ctx context.Context, a *app.Application, ln net.Listener) error {
	cfg, l := a.Config, a.Logger
	g, gctx := errgroup.WithContext(ctx)

	if ln != nil {
		srv := &http.Server{
			Handler:           a.Handler(),
			ReadHeaderTimeout: 10 * time.Second,
		}
		g.Go(func() error {
			l.Info("starting server", "addr", ln.Addr().String())
			if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("server failed: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			l.Info("shutting down server")
			shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.Server.ShutdownTimeout)
			defer cancel()
			a.Manager.Notify(shutdownCtx, shutdownNotice)
			// Open WebSocket connections are hijacked and not tracked by
			// Shutdown; closing the registry ends them.
			if err := srv.Shutdown(shutdownCtx); err != nil {
				return fmt.Errorf("server shutdown failed: %w", err)
			}
			return nil
		})
	}

	if cfg.Worker.Embedded {
		runner, err := a.Runner()
		if err != nil {
			return err
		}
		g.Go(func() error { return runner.Run(gctx) })
	}

	if a.Bridge != nil {
		g.Go(func() error { return a.Bridge.Run(gctx) })
	}

	err := g.Wait()
	l.Info("server stopped")
	return err
}
