package gemini

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/phrazzld/swiftdocs-api/internal/generation"
)

const (
	defaultMaxRetries = 2
	defaultRetryDelay = 500 * time.Millisecond
)

// validateConfig rejects unusable settings and fills in retry defaults.
func validateConfig(logger *slog.Logger, cfg Config) (Config, error) {
	if cfg.APIKey == "" {
		return cfg, fmt.Errorf("%w: gemini API key cannot be empty", generation.ErrInvalidConfig)
	}
	if cfg.Model == "" {
		return cfg, fmt.Errorf("%w: model name cannot be empty", generation.ErrInvalidConfig)
	}

	if cfg.MaxRetries < 0 {
		logger.Warn("invalid max retries value, using default",
			"value", cfg.MaxRetries,
			"default", defaultMaxRetries)
		cfg.MaxRetries = defaultMaxRetries
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = defaultRetryDelay
	}
	return cfg, nil
}
