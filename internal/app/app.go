package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	goredis "github.com/redis/go-redis/v9"

	"github.com/phrazzld/swiftdocs-api/internal/api"
	"github.com/phrazzld/swiftdocs-api/internal/config"
	"github.com/phrazzld/swiftdocs-api/internal/domain"
	"github.com/phrazzld/swiftdocs-api/internal/events"
	"github.com/phrazzld/swiftdocs-api/internal/notify"
	"github.com/phrazzld/swiftdocs-api/internal/platform/redis"
	"github.com/phrazzld/swiftdocs-api/internal/platform/sqlstore"
	"github.com/phrazzld/swiftdocs-api/internal/processor"
	"github.com/phrazzld/swiftdocs-api/internal/store"
	"github.com/phrazzld/swiftdocs-api/internal/task"
)

// Application holds the shared dependencies of a process and releases them
// on Close.
type Application struct {
	Config     *config.Config
	Logger     *slog.Logger
	Store      store.TaskStore
	Queue      task.Queue
	Registry   *notify.Registry
	Manager    *task.Manager
	Processors *processor.Registry

	// Bridge relays events between processes; nil when the queue is
	// in-memory and everything runs in one process.
	Bridge *redis.EventBridge

	redisClient goredis.UniversalClient
	closers     []func() error
}

// Option customises New.
type Option func(*options)

type options struct {
	redisClient goredis.UniversalClient
	runner      processor.CommandRunner
}

// WithRedisClient supplies the Redis client instead of dialing
// cfg.Redis.Addr. The caller keeps ownership of the client.
func WithRedisClient(c goredis.UniversalClient) Option {
	return func(o *options) { o.redisClient = c }
}

// WithCommandRunner replaces the runner used for the tesseract and poppler tools.
func WithCommandRunner(r processor.CommandRunner) Option {
	return func(o *options) { o.runner = r }
}

// New builds every component selected by cfg. On error, anything already
// opened is closed.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger, opts ...Option) (*Application, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	app := &Application{Config: cfg, Logger: logger}
	if err := app.build(ctx, o); err != nil {
		_ = app.Close()
		return nil, err
	}

	logger.Info("application initialized",
		"store_backend", cfg.Store.Backend,
		"queue_backend", cfg.Queue.Backend,
		"event_bridge", app.Bridge != nil)
	return app, nil
}

// build creates the components in dependency order.
func (a *Application) build(ctx context.Context, o options) error {
	cfg, logger := a.Config, a.Logger
	var err error

	if needsRedis(cfg) {
		if err := a.connectRedis(ctx, o.redisClient); err != nil {
			return err
		}
	}
	if a.Store, err = a.newStore(ctx); err != nil {
		return err
	}
	if a.Queue, err = a.newQueue(); err != nil {
		return err
	}
	if a.Processors, err = newProcessors(ctx, cfg, logger, o.runner); err != nil {
		return err
	}

	a.Registry = notify.NewRegistry(logger)
	a.closers = append(a.closers, func() error { a.Registry.Close(); return nil })

	publisher := events.Publisher(a.Registry)
	if cfg.Queue.Backend == "redis" {
		a.Bridge = redis.NewEventBridge(a.redisClient, cfg.Redis.KeyPrefix, logger)
		// Runs before the client closes so queued events are flushed.
		a.closers = append(a.closers, a.Bridge.Close)
		publisher = events.NewFanout(logger, a.Registry, a.Bridge)
	}

	a.Manager = task.NewManager(a.Store, a.Queue, a.Processors, a.Registry, logger,
		task.WithPublisher(publisher))

	// Remote transitions reach local subscribers, and remote cancellations
	// abort local executions.
	if a.Bridge != nil {
		a.Bridge.Forward(a.Registry)
		a.Bridge.Forward(a.Manager.CancellationListener())
	}
	return nil
}

func needsRedis(cfg *config.Config) bool {
	return cfg.Store.Backend == "redis" || cfg.Queue.Backend == "redis"
}

func (a *Application) connectRedis(ctx context.Context, client goredis.UniversalClient) error {
	if client != nil {
		a.redisClient = client
		return nil
	}
	c, err := redis.NewClient(ctx, a.Config.Redis)
	if err != nil {
		return err
	}
	a.redisClient = c
	a.closers = append(a.closers, c.Close)
	return nil
}

func (a *Application) newStore(ctx context.Context) (store.TaskStore, error) {
	switch backend := a.Config.Store.Backend; backend {
	case "memory":
		return store.NewMemoryTaskStore(), nil
	case "redis":
		return redis.NewTaskStore(a.redisClient, a.Config.Redis.KeyPrefix, a.Logger), nil
	case "postgres", "sqlite":
		dialect, err := sqlstore.ParseDialect(backend)
		if err != nil {
			return nil, err
		}
		db, err := sqlstore.Open(ctx, dialect, a.Config.Store.DSN)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, db.Close)
		if err := sqlstore.Migrate(ctx, db, dialect, a.Logger); err != nil {
			return nil, err
		}
		return sqlstore.NewTaskStore(db, dialect, a.Logger), nil
	default:
		return nil, fmt.Errorf("unsupported store backend %q", backend)
	}
}

func (a *Application) newQueue() (task.Queue, error) {
	var q task.Queue
	switch backend := a.Config.Queue.Backend; backend {
	case "memory":
		q = task.NewMemoryQueue(a.Config.Queue.Size, a.Logger)
	case "redis":
		q = redis.NewQueue(a.redisClient, a.Config.Redis.KeyPrefix, a.Config.Queue.Size, a.Logger)
	default:
		return nil, fmt.Errorf("unsupported queue backend %q", backend)
	}
	a.closers = append(a.closers, q.Close)
	return q, nil
}

// Handler returns the HTTP API.
func (a *Application) Handler() http.Handler {
	return api.NewRouter(a.Manager, a.Logger)
}

// Runner builds the worker pools and watchdog from the worker, queue and
// watchdog sections of the configuration.
func (a *Application) Runner() (*task.Runner, error) {
	return task.NewRunner(a.Queue, a.Manager, a.Processors, RunnerConfig(a.Config), a.Logger)
}

// RunnerConfig maps the configuration onto task.RunnerConfig.
func RunnerConfig(cfg *config.Config) task.RunnerConfig {
	rc := task.RunnerConfig{Pools: make(map[domain.TaskType]task.WorkerPoolConfig, len(domain.TaskTypes))}
	for _, t := range domain.TaskTypes {
		p := cfg.Worker.Pool(t)
		rc.Pools[t] = task.WorkerPoolConfig{
			WorkerCount: p.Workers,
			Timeout:     p.Timeout,
			DequeueWait: cfg.Queue.DequeueWait,
		}
	}
	if cfg.Watchdog.Enabled {
		rc.Watchdog = task.WatchdogConfig{
			Schedule:   cfg.Watchdog.Schedule,
			StuckAfter: cfg.Watchdog.StuckAfter,
		}
	}
	return rc
}

// Close releases resources in reverse order of acquisition.
func (a *Application) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
