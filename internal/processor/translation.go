package processor

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"

	"github.com/phrazzld/swiftdocs-api/internal/domain"
	"github.com/phrazzld/swiftdocs-api/internal/generation"
	"github.com/phrazzld/swiftdocs-api/internal/redact"
)

// Translation provider names accepted in task input.
const (
	ProviderOpenAI   = "openai"
	ProviderDeepSeek = "deepseek"
	ProviderGoogle   = "google"
	ProviderBaidu    = "baidu"
)

// Client-facing failure messages of the translation processor.
const (
	msgProviderUnavailable = "translation provider is not configured"
	msgContentBlocked      = "translation was blocked by the provider's content policy"
	msgInvalidResponse     = "translation provider returned an unusable response"
	msgProviderFailed      = "translation provider is temporarily unavailable"
)

// TranslationInput is the input of a translation task.
type TranslationInput struct {
	Text     string `json:"text" validate:"required,max=20000"`
	Provider string `json:"provider" validate:"required,oneof=openai deepseek google baidu"`
	Target   string `json:"target" validate:"required,oneof=zh-CN zh-TW en ja ko fr de es ru"`
	// Mode is informational: "selection" for a highlighted passage, "full"
	// for a whole document.
	Mode string `json:"mode,omitempty" validate:"omitempty,oneof=selection full"`
}

// TranslationResult is the payload of a completed translation task.
type TranslationResult struct {
	TranslatedText string `json:"translatedText"`
	Provider       string `json:"provider"`
	TargetLanguage string `json:"targetLanguage"`
}

// Translation translates text with one of several providers. A provider
// missing from the map is accepted at submission and fails at execution, so
// deployments can run without every key.
type Translation struct {
	providers map[string]generation.Translator
	logger    *slog.Logger
}

// NewTranslation creates a translation processor over the given providers,
// keyed by provider name.
func NewTranslation(providers map[string]generation.Translator, logger *slog.Logger) *Translation {
	p := make(map[string]generation.Translator, len(providers))
	for name, t := range providers {
		if t != nil {
			p[name] = t
		}
	}
	return &Translation{
		providers: p,
		logger:    logger.With("component", "translation_processor"),
	}
}

// Validate checks the task input.
func (t *Translation) Validate(input json.RawMessage) error {
	var in TranslationInput
	return decodeInput(input, &in)
}

// Execute translates the input text.
func (t *Translation) Execute(ctx context.Context, job domain.Job, progress domain.ProgressFunc) (domain.Outcome, error) {
	var in TranslationInput
	if err := decodeInput(job.Input, &in); err != nil {
		return domain.Failed(err.Error()), nil
	}
	logger := t.logger.With("task_id", job.TaskID, "provider", in.Provider, "target", in.Target)

	translator, ok := t.providers[in.Provider]
	if !ok {
		logger.Warn("translation provider not configured")
		return domain.Failed(msgProviderUnavailable), nil
	}
	progress(10)

	text, err := translator.Translate(ctx, generation.Request{Text: in.Text, TargetLanguage: in.Target})
	if err != nil {
		if ctx.Err() != nil {
			return domain.Outcome{}, ctx.Err()
		}
		if msg, ok := failureMessage(err); ok {
			logger.Warn("translation failed", "error", redact.Error(err))
			return domain.Failed(msg), nil
		}
		return domain.Outcome{}, err
	}
	progress(90)

	return domain.Succeeded(TranslationResult{
		TranslatedText: text,
		Provider:       in.Provider,
		TargetLanguage: in.Target,
	})
}

// failureMessage maps expected provider failures to client-safe messages.
func failureMessage(err error) (string, bool) {
	switch {
	case errors.Is(err, generation.ErrContentBlocked):
		return msgContentBlocked, true
	case errors.Is(err, generation.ErrInvalidResponse):
		return msgInvalidResponse, true
	case errors.Is(err, generation.ErrTransientFailure):
		return msgProviderFailed, true
	case errors.Is(err, generation.ErrInvalidConfig):
		return msgProviderUnavailable, true
	default:
		return "", false
	}
}
