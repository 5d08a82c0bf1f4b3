package app

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/phrazzld/swiftdocs-api/internal/config"
	"github.com/phrazzld/swiftdocs-api/internal/domain"
	"github.com/phrazzld/swiftdocs-api/internal/platform/redis"
	"github.com/phrazzld/swiftdocs-api/internal/platform/sqlstore"
	"github.com/phrazzld/swiftdocs-api/internal/store"
	"github.com/phrazzld/swiftdocs-api/internal/task"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	pool := config.PoolConfig{Workers: 1, Timeout: time.Second}
	return &config.Config{
		Server: config.ServerConfig{Port: 8080, LogLevel: "info", ShutdownTimeout: time.Second, APIEnabled: true},
		Store:  config.StoreConfig{Backend: "memory"},
		Redis:  config.RedisConfig{KeyPrefix: "test:"},
		Queue:  config.QueueConfig{Backend: "memory", Size: 10, DequeueWait: 50 * time.Millisecond},
		Worker: config.WorkerConfig{Embedded: true, OCR: pool, PDF: pool, Translation: pool},
		Watchdog: config.WatchdogConfig{
			Enabled:    true,
			Schedule:   "@every 1m",
			StuckAfter: time.Hour,
		},
		Providers: config.ProvidersConfig{
			OpenAIAPIKey:    "sk-test",
			OpenAIBaseURL:   "https://api.openai.com/v1",
			OpenAIModel:     "gpt-3.5-turbo",
			DeepSeekBaseURL: "https://api.deepseek.com/v1",
			DeepSeekModel:   "deepseek-chat",
			GeminiModel:     "gemini-2.0-flash",
			BaiduBaseURL:    "https://api.fanyi.baidu.com/api/trans/vip/translate",
			HTTPTimeout:     time.Second,
			MaxRetries:      1,
		},
		OCR: config.OCRConfig{TesseractCmd: "tesseract", Languages: []string{"eng"}, WorkDir: t.TempDir()},
		PDF: config.PDFConfig{PdftotextCmd: "pdftotext", PdftoppmCmd: "pdftoppm"},
	}
}

func newApp(t *testing.T, cfg *config.Config, opts ...Option) *Application {
	t.Helper()
	a, err := New(context.Background(), cfg, testLogger(), opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })
	return a
}

func TestNew_MemoryBackends(t *testing.T) {
	a := newApp(t, testConfig(t))

	assert.IsType(t, &store.MemoryTaskStore{}, a.Store)
	assert.IsType(t, &task.MemoryQueue{}, a.Queue)
	assert.Nil(t, a.Bridge)

	for _, typ := range domain.TaskTypes {
		p, err := a.Processors.Lookup(typ)
		require.NoError(t, err)
		assert.NotNil(t, p)
	}

	runner, err := a.Runner()
	require.NoError(t, err)
	assert.NotNil(t, runner)
}

func TestNew_HandlerServesSubmissions(t *testing.T) {
	a := newApp(t, testConfig(t))
	srv := httptest.NewServer(a.Handler())
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/api/v1/tasks/translation", "application/json",
		strings.NewReader(`{"text":"Hello","provider":"openai","target":"zh-CN"}`))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	var body struct {
		TaskID string `json:"taskId"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	rec, err := a.Manager.GetStatus(context.Background(), body.TaskID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPending, rec.Status)
}

func TestNew_RedisBackends(t *testing.T) {
	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	cfg := testConfig(t)
	cfg.Store.Backend = "redis"
	cfg.Queue.Backend = "redis"
	cfg.Redis.Addr = mr.Addr()

	a := newApp(t, cfg, WithRedisClient(client))
	assert.IsType(t, &redis.TaskStore{}, a.Store)
	assert.IsType(t, &redis.Queue{}, a.Queue)
	require.NotNil(t, a.Bridge)

	rec, err := a.Manager.Submit(context.Background(), domain.TaskTypePDF, json.RawMessage(`{"filePath":"/tmp/a.pdf","mode":"text"}`))
	require.NoError(t, err)
	assert.True(t, mr.Exists("test:task:"+rec.ID))

	require.NoError(t, a.Close())
	assert.NoError(t, client.Ping(context.Background()).Err(), "caller-owned client stays open")
}

func TestNew_SQLiteStore(t *testing.T) {
	cfg := testConfig(t)
	cfg.Store.Backend = "sqlite"
	cfg.Store.DSN = filepath.Join(t.TempDir(), "tasks.db")

	a := newApp(t, cfg)
	assert.IsType(t, &sqlstore.TaskStore{}, a.Store)

	rec, err := a.Manager.Submit(context.Background(), domain.TaskTypeTranslation, json.RawMessage(`{"text":"Hi","provider":"openai","target":"fr"}`))
	require.NoError(t, err)
	got, err := a.Store.Get(context.Background(), rec.ID)
	require.NoError(t, err)
	assert.Equal(t, rec.ID, got.ID)
}

func TestNew_Errors(t *testing.T) {
	t.Run("unknown store", func(t *testing.T) {
		cfg := testConfig(t)
		cfg.Store.Backend = "etcd"
		_, err := New(context.Background(), cfg, testLogger())
		assert.ErrorContains(t, err, `unsupported store backend "etcd"`)
	})

	t.Run("unreachable redis", func(t *testing.T) {
		cfg := testConfig(t)
		cfg.Queue.Backend = "redis"
		cfg.Redis.Addr = "127.0.0.1:1"
		_, err := New(context.Background(), cfg, testLogger())
		assert.ErrorContains(t, err, "failed to connect to redis")
	})

	t.Run("invalid watchdog schedule", func(t *testing.T) {
		cfg := testConfig(t)
		cfg.Watchdog.Schedule = "whenever"
		a := newApp(t, cfg)
		_, err := a.Runner()
		assert.ErrorContains(t, err, "invalid watchdog schedule")
	})
}

func TestRunnerConfig(t *testing.T) {
	cfg := testConfig(t)
	cfg.Worker.Translation = config.PoolConfig{Workers: 4, Timeout: time.Minute}

	rc := RunnerConfig(cfg)
	assert.Equal(t, task.WorkerPoolConfig{WorkerCount: 4, Timeout: time.Minute, DequeueWait: 50 * time.Millisecond}, rc.Pools[domain.TaskTypeTranslation])
	assert.Equal(t, task.WatchdogConfig{Schedule: "@every 1m", StuckAfter: time.Hour}, rc.Watchdog)

	cfg.Watchdog.Enabled = false
	assert.Zero(t, RunnerConfig(cfg).Watchdog)
}

func TestNewTranslators_SkipsProvidersWithoutKeys(t *testing.T) {
	cfg := testConfig(t).Providers
	cfg.DeepSeekAPIKey = "ds-key"
	cfg.RateLimit = 5

	providers, err := newTranslators(context.Background(), cfg, testLogger())
	require.NoError(t, err)
	assert.Contains(t, providers, "openai")
	assert.Contains(t, providers, "deepseek")
	assert.NotContains(t, providers, "google")
	assert.NotContains(t, providers, "baidu")

	cfg.BaiduAppID = "2015063000000001"
	cfg.BaiduAppKey = "baidu-key"
	providers, err = newTranslators(context.Background(), cfg, testLogger())
	require.NoError(t, err)
	assert.Contains(t, providers, "baidu")
}

func TestEndToEnd_EmbeddedWorkers(t *testing.T) {
	cfg := testConfig(t)
	cfg.Providers.OpenAIAPIKey = ""
	a := newApp(t, cfg)

	runner, err := a.Runner()
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- runner.Run(ctx) }()
	defer func() {
		cancel()
		<-done
	}()

	rec, err := a.Manager.Submit(ctx, domain.TaskTypeTranslation, json.RawMessage(`{"text":"Hi","provider":"openai","target":"fr"}`))
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		got, err := a.Manager.GetStatus(ctx, rec.ID)
		return err == nil && got.Status == domain.StatusError
	}, 2*time.Second, 10*time.Millisecond)

	got, err := a.Manager.GetStatus(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, "translation provider is not configured", got.Error)
}
