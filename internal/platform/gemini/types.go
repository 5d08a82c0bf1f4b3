package gemini

import (
	"context"
	"time"

	"google.golang.org/genai"
)

// Config holds the Gemini translator settings.
type Config struct {
	APIKey     string
	Model      string
	MaxRetries int
	// RetryDelay is the base delay of the exponential backoff.
	RetryDelay time.Duration
}

// contentGenerator is the subset of genai.Models used by the translator.
type contentGenerator interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}
