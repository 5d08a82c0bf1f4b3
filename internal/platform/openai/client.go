// Package openai implements generation.Translator on OpenAI-compatible chat
// completion APIs. It serves both OpenAI and DeepSeek, which differ only in
// base URL, model and key.
package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/phrazzld/swiftdocs-api/internal/generation"
	"github.com/sethvargo/go-retry"
)

// maxErrorBody bounds how much of an error response is read for logging.
const maxErrorBody = 4 << 10

// Config holds the settings of one provider.
type Config struct {
	// Name labels the provider in logs and errors, e.g. "openai".
	Name       string
	APIKey     string
	BaseURL    string
	Model      string
	Timeout    time.Duration
	MaxRetries int
	RetryDelay time.Duration
}

// Client calls the /chat/completions endpoint of an OpenAI-compatible API.
type Client struct {
	config Config
	http   *http.Client
	logger *slog.Logger
}

// Option customises a Client.
type Option func(*Client)

// WithHTTPClient replaces the HTTP client, typically in tests.
func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) {
		if c != nil {
			cl.http = c
		}
	}
}

// New creates a Client. It fails with generation.ErrInvalidConfig when the key,
// base URL or model is missing.
func New(cfg Config, logger *slog.Logger, opts ...Option) (*Client, error) {
	switch {
	case cfg.APIKey == "":
		return nil, fmt.Errorf("%w: %s API key cannot be empty", generation.ErrInvalidConfig, cfg.Name)
	case cfg.BaseURL == "":
		return nil, fmt.Errorf("%w: %s base URL cannot be empty", generation.ErrInvalidConfig, cfg.Name)
	case cfg.Model == "":
		return nil, fmt.Errorf("%w: %s model cannot be empty", generation.ErrInvalidConfig, cfg.Name)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = 500 * time.Millisecond
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")

	c := &Client{
		config: cfg,
		http:   &http.Client{Timeout: cfg.Timeout},
		logger: logger.With("component", "chat_translator", "provider", cfg.Name, "model", cfg.Model),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
}

type chatResponse struct {
	Choices []struct {
		Message      chatMessage `json:"message"`
		FinishReason string      `json:"finish_reason"`
	} `json:"choices"`
}

// Translate implements generation.Translator.
func (c *Client) Translate(ctx context.Context, req generation.Request) (string, error) {
	if strings.TrimSpace(req.Text) == "" {
		return "", fmt.Errorf("%w: text cannot be empty", generation.ErrTranslationFailed)
	}
	system, err := generation.SystemPrompt(req.TargetLanguage)
	if err != nil {
		return "", err
	}
	body, err := json.Marshal(chatRequest{
		Model: c.config.Model,
		Messages: []chatMessage{
			{Role: "system", Content: system},
			{Role: "user", Content: req.Text},
		},
		Temperature: 0.3,
	})
	if err != nil {
		return "", fmt.Errorf("%w: encode request: %v", generation.ErrTranslationFailed, err)
	}

	backoff := retry.NewExponential(c.config.RetryDelay)
	backoff = retry.WithJitterPercent(50, backoff)
	backoff = retry.WithMaxRetries(uint64(c.config.MaxRetries), backoff)

	var (
		text     string
		attempts int
	)
	err = retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempts++
		text, err = c.call(ctx, body)
		if errors.Is(err, generation.ErrTransientFailure) && ctx.Err() == nil {
			c.logger.WarnContext(ctx, "chat completion attempt failed", "attempt", attempts, "error", err)
			return retry.RetryableError(err)
		}
		return err
	})
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", err
	}
	return text, nil
}

func (c *Client) call(ctx context.Context, body []byte) (string, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.BaseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("%w: build request: %v", generation.ErrInvalidConfig, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.config.APIKey)

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("%w: %s request: %v", generation.ErrTransientFailure, c.config.Name, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return "", classifyStatus(c.config.Name, resp.StatusCode, snippet)
	}

	var parsed chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", fmt.Errorf("%w: decode %s response: %v", generation.ErrInvalidResponse, c.config.Name, err)
	}
	if len(parsed.Choices) == 0 {
		return "", fmt.Errorf("%w: %s returned no choices", generation.ErrInvalidResponse, c.config.Name)
	}
	choice := parsed.Choices[0]
	if choice.FinishReason == "content_filter" {
		return "", fmt.Errorf("%w: %s content filter", generation.ErrContentBlocked, c.config.Name)
	}
	text := strings.TrimSpace(choice.Message.Content)
	if text == "" {
		return "", fmt.Errorf("%w: %s returned an empty translation", generation.ErrInvalidResponse, c.config.Name)
	}
	return text, nil
}

// classifyStatus maps a non-200 status onto the provider error taxonomy.
func classifyStatus(provider string, status int, body []byte) error {
	detail := strings.TrimSpace(string(body))
	switch {
	case status == http.StatusTooManyRequests || status >= 500:
		return fmt.Errorf("%w: %s returned %d: %s", generation.ErrTransientFailure, provider, status, detail)
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return fmt.Errorf("%w: %s rejected credentials (%d)", generation.ErrInvalidConfig, provider, status)
	default:
		return fmt.Errorf("%w: %s returned %d: %s", generation.ErrInvalidResponse, provider, status, detail)
	}
}

var _ generation.Translator = (*Client)(nil)
