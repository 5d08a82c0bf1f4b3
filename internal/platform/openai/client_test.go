package openai

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/phrazzld/swiftdocs-api/internal/generation"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, handler http.HandlerFunc, maxRetries int) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	c, err := New(Config{
		Name:       "openai",
		APIKey:     "sk-test",
		BaseURL:    srv.URL + "/v1/",
		Model:      "gpt-3.5-turbo",
		MaxRetries: maxRetries,
		RetryDelay: time.Millisecond,
	}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	return c
}

func reply(w http.ResponseWriter, content, finish string) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"choices": []map[string]any{{
			"message":       map[string]string{"role": "assistant", "content": content},
			"finish_reason": finish,
		}},
	})
}

func TestNew_Validation(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	for _, cfg := range []Config{
		{Name: "openai", BaseURL: "http://x", Model: "m"},
		{Name: "openai", APIKey: "k", Model: "m"},
		{Name: "openai", APIKey: "k", BaseURL: "http://x"},
	} {
		_, err := New(cfg, logger)
		assert.ErrorIs(t, err, generation.ErrInvalidConfig)
	}
}

func TestTranslate_Success(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))

		var req chatRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "gpt-3.5-turbo", req.Model)
		require.Len(t, req.Messages, 2)
		assert.Equal(t, "system", req.Messages[0].Role)
		assert.Contains(t, req.Messages[0].Content, "Simplified Chinese")
		assert.Equal(t, "Hello", req.Messages[1].Content)

		reply(w, " 你好 ", "stop")
	}, 0)

	out, err := c.Translate(context.Background(), generation.Request{Text: "Hello", TargetLanguage: "zh-CN"})
	require.NoError(t, err)
	assert.Equal(t, "你好", out)
}

func TestTranslate_RetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			http.Error(w, "overloaded", http.StatusServiceUnavailable)
			return
		}
		reply(w, "Bonjour", "stop")
	}, 2)

	out, err := c.Translate(context.Background(), generation.Request{Text: "Hello", TargetLanguage: "fr"})
	require.NoError(t, err)
	assert.Equal(t, "Bonjour", out)
	assert.Equal(t, int32(3), calls.Load())
}

func TestTranslate_Failures(t *testing.T) {
	tests := []struct {
		name      string
		handler   http.HandlerFunc
		want      error
		wantCalls int32
	}{
		{
			name:      "rate limited beyond retries",
			handler:   func(w http.ResponseWriter, r *http.Request) { http.Error(w, "slow down", http.StatusTooManyRequests) },
			want:      generation.ErrTransientFailure,
			wantCalls: 2,
		},
		{
			name:      "bad credentials",
			handler:   func(w http.ResponseWriter, r *http.Request) { http.Error(w, "no", http.StatusUnauthorized) },
			want:      generation.ErrInvalidConfig,
			wantCalls: 1,
		},
		{
			name:      "bad request",
			handler:   func(w http.ResponseWriter, r *http.Request) { http.Error(w, "bad", http.StatusBadRequest) },
			want:      generation.ErrInvalidResponse,
			wantCalls: 1,
		},
		{
			name:      "content filter",
			handler:   func(w http.ResponseWriter, r *http.Request) { reply(w, "", "content_filter") },
			want:      generation.ErrContentBlocked,
			wantCalls: 1,
		},
		{
			name: "no choices",
			handler: func(w http.ResponseWriter, r *http.Request) {
				_, _ = w.Write([]byte(`{"choices":[]}`))
			},
			want:      generation.ErrInvalidResponse,
			wantCalls: 1,
		},
		{
			name: "malformed body",
			handler: func(w http.ResponseWriter, r *http.Request) {
				_, _ = w.Write([]byte(`not json`))
			},
			want:      generation.ErrInvalidResponse,
			wantCalls: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var calls atomic.Int32
			c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				calls.Add(1)
				tt.handler(w, r)
			}, 1)

			_, err := c.Translate(context.Background(), generation.Request{Text: "Hello", TargetLanguage: "en"})
			assert.ErrorIs(t, err, tt.want)
			assert.Equal(t, tt.wantCalls, calls.Load())
		})
	}
}

func TestTranslate_InputErrors(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		t.Error("no request expected")
	}, 0)

	_, err := c.Translate(context.Background(), generation.Request{Text: "", TargetLanguage: "en"})
	assert.ErrorIs(t, err, generation.ErrTranslationFailed)

	_, err = c.Translate(context.Background(), generation.Request{Text: "hi", TargetLanguage: "xx"})
	assert.ErrorIs(t, err, generation.ErrInvalidConfig)
}

func TestTranslate_Cancelled(t *testing.T) {
	release := make(chan struct{})
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}, 3)
	defer close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	_, err := c.Translate(ctx, generation.Request{Text: "hi", TargetLanguage: "es"})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
