package processor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/phrazzld/swiftdocs-api/internal/domain"
	"github.com/phrazzld/swiftdocs-api/internal/generation"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func translationJob(input string) domain.Job {
	return domain.Job{TaskID: "t-1", Type: domain.TaskTypeTranslation, Input: json.RawMessage(input)}
}

func TestTranslation_Validate(t *testing.T) {
	p := NewTranslation(nil, testLogger())

	tests := []struct {
		name    string
		input   string
		wantErr bool
	}{
		{"minimal", `{"text":"Hello","provider":"openai","target":"zh-CN"}`, false},
		{"with mode", `{"text":"Hello","provider":"google","target":"ja","mode":"selection"}`, false},
		{"baidu", `{"text":"Hello","provider":"baidu","target":"zh-TW"}`, false},
		{"missing text", `{"provider":"openai","target":"zh-CN"}`, true},
		{"unknown provider", `{"text":"Hello","provider":"bing","target":"zh-CN"}`, true},
		{"unsupported target", `{"text":"Hello","provider":"openai","target":"xx"}`, true},
		{"unknown mode", `{"text":"Hello","provider":"openai","target":"en","mode":"page"}`, true},
		{"not an object", `"Hello"`, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := p.Validate(json.RawMessage(tt.input))
			if tt.wantErr {
				assert.ErrorIs(t, err, domain.ErrValidation)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestTranslation_ExecuteSuccess(t *testing.T) {
	mock := &generation.MockTranslator{
		TranslateFn: func(ctx context.Context, req generation.Request) (string, error) {
			return "你好", nil
		},
	}
	p := NewTranslation(map[string]generation.Translator{ProviderOpenAI: mock}, testLogger())
	progress := &progressRecorder{}

	out, err := p.Execute(context.Background(), translationJob(`{"text":"Hello","provider":"openai","target":"zh-CN"}`), progress.report)
	require.NoError(t, err)

	res := decodePayload[TranslationResult](t, out)
	assert.Equal(t, TranslationResult{TranslatedText: "你好", Provider: "openai", TargetLanguage: "zh-CN"}, res)
	assert.Equal(t, []int{10, 90}, progress.Values())
	assert.Equal(t, []generation.Request{{Text: "Hello", TargetLanguage: "zh-CN"}}, mock.Requests())
}

func TestTranslation_ExecuteFailures(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		wantMsg string
	}{
		{"blocked", fmt.Errorf("%w: safety", generation.ErrContentBlocked), msgContentBlocked},
		{"bad response", generation.ErrInvalidResponse, msgInvalidResponse},
		{"retries exhausted", fmt.Errorf("%w: 503 sk-secret", generation.ErrTransientFailure), msgProviderFailed},
		{"rejected key", generation.ErrInvalidConfig, msgProviderUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mock := &generation.MockTranslator{
				TranslateFn: func(context.Context, generation.Request) (string, error) { return "", tt.err },
			}
			p := NewTranslation(map[string]generation.Translator{ProviderDeepSeek: mock}, testLogger())

			out, err := p.Execute(context.Background(), translationJob(`{"text":"Hi","provider":"deepseek","target":"en"}`), func(int) {})
			require.NoError(t, err)
			assert.False(t, out.Success)
			assert.Equal(t, tt.wantMsg, out.Error)
		})
	}
}

func TestTranslation_UnconfiguredProvider(t *testing.T) {
	p := NewTranslation(map[string]generation.Translator{ProviderGoogle: nil}, testLogger())

	out, err := p.Execute(context.Background(), translationJob(`{"text":"Hi","provider":"google","target":"en"}`), func(int) {})
	require.NoError(t, err)
	assert.Equal(t, domain.Failed(msgProviderUnavailable), out)
}

func TestTranslation_Faults(t *testing.T) {
	t.Run("unexpected error is returned", func(t *testing.T) {
		boom := errors.New("boom")
		mock := &generation.MockTranslator{
			TranslateFn: func(context.Context, generation.Request) (string, error) { return "", boom },
		}
		p := NewTranslation(map[string]generation.Translator{ProviderOpenAI: mock}, testLogger())

		_, err := p.Execute(context.Background(), translationJob(`{"text":"Hi","provider":"openai","target":"en"}`), func(int) {})
		assert.ErrorIs(t, err, boom)
	})

	t.Run("cancellation is returned", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		mock := &generation.MockTranslator{
			TranslateFn: func(ctx context.Context, _ generation.Request) (string, error) {
				cancel()
				return "", fmt.Errorf("%w: aborted", generation.ErrTransientFailure)
			},
		}
		p := NewTranslation(map[string]generation.Translator{ProviderOpenAI: mock}, testLogger())

		_, err := p.Execute(ctx, translationJob(`{"text":"Hi","provider":"openai","target":"en"}`), func(int) {})
		assert.ErrorIs(t, err, context.Canceled)
	})
}
