package gemini

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/phrazzld/swiftdocs-api/internal/generation"
	"github.com/sethvargo/go-retry"
	"google.golang.org/genai"
)

// Translator implements generation.Translator using Gemini.
type Translator struct {
	models contentGenerator
	config Config
	logger *slog.Logger
}

// NewTranslator creates a Translator with a genai client for the Gemini API
// backend.
func NewTranslator(ctx context.Context, logger *slog.Logger, cfg Config) (*Translator, error) {
	if logger == nil {
		return nil, errors.New("logger cannot be nil")
	}
	cfg, err := validateConfig(logger, cfg)
	if err != nil {
		return nil, err
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: failed to create Gemini client: %v", generation.ErrInvalidConfig, err)
	}
	return newTranslator(client.Models, cfg, logger), nil
}

func newTranslator(models contentGenerator, cfg Config, logger *slog.Logger) *Translator {
	return &Translator{
		models: models,
		config: cfg,
		logger: logger.With("component", "gemini_translator", "model", cfg.Model),
	}
}

// Translate sends req to Gemini, retrying transient failures.
func (t *Translator) Translate(ctx context.Context, req generation.Request) (string, error) {
	if strings.TrimSpace(req.Text) == "" {
		return "", ErrEmptyText
	}
	system, err := generation.SystemPrompt(req.TargetLanguage)
	if err != nil {
		return "", err
	}

	contents := genai.Text(req.Text)
	temperature := float32(0.3)
	config := &genai.GenerateContentConfig{
		SystemInstruction: &genai.Content{Parts: []*genai.Part{{Text: system}}},
		Temperature:       &temperature,
	}

	backoff := retry.NewExponential(t.config.RetryDelay)
	backoff = retry.WithJitterPercent(50, backoff)
	backoff = retry.WithMaxRetries(uint64(t.config.MaxRetries), backoff)

	var (
		text     string
		attempts int
	)
	err = retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempts++
		t.logger.DebugContext(ctx, "making Gemini API call",
			"attempt", attempts,
			"max_attempts", t.config.MaxRetries+1)

		resp, err := t.models.GenerateContent(ctx, t.config.Model, contents, config)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			t.logger.WarnContext(ctx, "Gemini API call error", "attempt", attempts, "error", err)
			return retry.RetryableError(err)
		}
		text, err = extractText(resp)
		return err
	})

	switch {
	case err == nil:
		t.logger.DebugContext(ctx, "Gemini API call successful", "attempts", attempts)
		return text, nil
	case errors.Is(err, generation.ErrContentBlocked), errors.Is(err, generation.ErrInvalidResponse):
		t.logger.WarnContext(ctx, "permanent Gemini error, not retrying", "error", err)
		return "", err
	case ctx.Err() != nil:
		return "", ctx.Err()
	default:
		return "", fmt.Errorf("%w: gemini failed after %d attempts: %v", generation.ErrTransientFailure, attempts, err)
	}
}

// extractText concatenates the text parts of the first candidate.
func extractText(resp *genai.GenerateContentResponse) (string, error) {
	switch {
	case resp == nil:
		return "", fmt.Errorf("%w: nil response", generation.ErrInvalidResponse)
	case resp.PromptFeedback != nil && resp.PromptFeedback.BlockReason != "":
		return "", fmt.Errorf("%w: prompt blocked (%s)", generation.ErrContentBlocked, resp.PromptFeedback.BlockReason)
	case len(resp.Candidates) == 0:
		return "", fmt.Errorf("%w: no content generated", generation.ErrInvalidResponse)
	}

	candidate := resp.Candidates[0]
	if candidate.FinishReason == genai.FinishReasonSafety {
		return "", fmt.Errorf("%w: content blocked by safety filters", generation.ErrContentBlocked)
	}
	if candidate.Content == nil {
		return "", fmt.Errorf("%w: empty content in response", generation.ErrInvalidResponse)
	}

	var b strings.Builder
	for _, part := range candidate.Content.Parts {
		if part != nil {
			b.WriteString(part.Text)
		}
	}
	text := strings.TrimSpace(b.String())
	if text == "" {
		return "", fmt.Errorf("%w: empty translation", generation.ErrInvalidResponse)
	}
	return text, nil
}

var _ generation.Translator = (*Translator)(nil)
