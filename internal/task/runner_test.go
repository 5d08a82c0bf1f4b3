package task

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/phrazzld/swiftdocs-api/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRunner_MissingProcessor(t *testing.T) {
	env := newTestEnv(t)
	processors := MockProcessors{domain.TaskTypeOCR: env.processor}

	_, err := NewRunner(env.queue, env.manager, processors, DefaultRunnerConfig(), setupTestLogger())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no processor for task type pdf")
}

func TestNewRunner_InvalidWatchdog(t *testing.T) {
	env := newTestEnv(t)
	cfg := DefaultRunnerConfig()
	cfg.Watchdog.Schedule = "not a schedule"

	_, err := NewRunner(env.queue, env.manager, NewMockProcessorSet(env.processor), cfg, setupTestLogger())
	assert.Error(t, err)
}

func TestRunner_ProcessesEveryType(t *testing.T) {
	env := newTestEnv(t)
	env.processor.ExecuteFn = func(_ context.Context, job domain.Job, _ domain.ProgressFunc) (domain.Outcome, error) {
		return domain.Succeeded(map[string]string{"type": string(job.Type)})
	}

	cfg := DefaultRunnerConfig()
	for typ := range cfg.Pools {
		cfg.Pools[typ] = WorkerPoolConfig{WorkerCount: 1, Timeout: time.Second, DequeueWait: 10 * time.Millisecond}
	}
	cfg.Watchdog = WatchdogConfig{}

	runner, err := NewRunner(env.queue, env.manager, NewMockProcessorSet(env.processor), cfg, setupTestLogger())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- runner.Run(ctx) }()

	ids := make(map[domain.TaskType]string)
	for _, tt := range domain.TaskTypes {
		rec, err := env.manager.Submit(context.Background(), tt, json.RawMessage(`{}`))
		require.NoError(t, err)
		ids[tt] = rec.ID
	}

	for tt, id := range ids {
		rec := waitForStatus(t, env, id, domain.StatusCompleted)
		assert.JSONEq(t, `{"type":"`+string(tt)+`"}`, string(rec.Result))
	}

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("runner did not stop")
	}
}
