// Package baidu implements generation.Translator on the Baidu general
// translation API. Requests are signed with md5(appid+q+salt+key).
package baidu

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/phrazzld/swiftdocs-api/internal/generation"
	"github.com/sethvargo/go-retry"
)

// DefaultBaseURL is the public translation endpoint.
const DefaultBaseURL = "https://api.fanyi.baidu.com/api/trans/vip/translate"

const maxErrorBody = 4 << 10

// languages maps target codes onto Baidu's own codes.
var languages = map[string]string{
	"zh-CN": "zh",
	"zh-TW": "cht",
	"en":    "en",
	"ja":    "jp",
	"ko":    "kor",
	"fr":    "fra",
	"de":    "de",
	"es":    "spa",
	"ru":    "ru",
}

// Config holds the account and transport settings.
type Config struct {
	AppID      string
	AppKey     string
	BaseURL    string
	Timeout    time.Duration
	MaxRetries int
	RetryDelay time.Duration
}

// Client calls the Baidu translation endpoint.
type Client struct {
	config Config
	http   *http.Client
	logger *slog.Logger
	salt   func() string
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

// WithSalt fixes the per-request salt so signatures are reproducible.
func WithSalt(fn func() string) Option {
	return func(cl *Client) {
		if fn != nil {
			cl.salt = fn
		}
	}
}

// New creates a Client. It fails with generation.ErrInvalidConfig when the
// app ID or key is missing.
func New(cfg Config, logger *slog.Logger, opts ...Option) (*Client, error) {
	switch {
	case cfg.AppID == "":
		return nil, fmt.Errorf("%w: baidu app ID cannot be empty", generation.ErrInvalidConfig)
	case cfg.AppKey == "":
		return nil, fmt.Errorf("%w: baidu app key cannot be empty", generation.ErrInvalidConfig)
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = 500 * time.Millisecond
	}

	c := &Client{
		config: cfg,
		http:   &http.Client{Timeout: cfg.Timeout},
		logger: logger.With("component", "baidu_translator"),
		salt: func() string {
			return strconv.Itoa(32768 + rand.IntN(32768))
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

type translateResponse struct {
	ErrorCode string `json:"error_code"`
	ErrorMsg  string `json:"error_msg"`
	Result    []struct {
		Src string `json:"src"`
		Dst string `json:"dst"`
	} `json:"trans_result"`
}

// Translate implements generation.Translator.
func (c *Client) Translate(ctx context.Context, req generation.Request) (string, error) {
	if strings.TrimSpace(req.Text) == "" {
		return "", fmt.Errorf("%w: text cannot be empty", generation.ErrTranslationFailed)
	}
	to, ok := languages[req.TargetLanguage]
	if !ok {
		return "", fmt.Errorf("%w: unsupported target language %q", generation.ErrInvalidConfig, req.TargetLanguage)
	}

	backoff := retry.NewExponential(c.config.RetryDelay)
	backoff = retry.WithJitterPercent(50, backoff)
	backoff = retry.WithMaxRetries(uint64(c.config.MaxRetries), backoff)

	var (
		text     string
		attempts int
	)
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempts++
		var err error
		text, err = c.call(ctx, req.Text, to)
		if errors.Is(err, generation.ErrTransientFailure) && ctx.Err() == nil {
			c.logger.WarnContext(ctx, "translate attempt failed", "attempt", attempts, "error", err)
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

func (c *Client) call(ctx context.Context, text, to string) (string, error) {
	salt := c.salt()
	q := url.Values{}
	q.Set("q", text)
	q.Set("from", "auto")
	q.Set("to", to)
	q.Set("appid", c.config.AppID)
	q.Set("salt", salt)
	q.Set("sign", sign(c.config.AppID, text, salt, c.config.AppKey))

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.config.BaseURL+"?"+q.Encode(), nil)
	if err != nil {
		return "", fmt.Errorf("%w: build request: %v", generation.ErrInvalidConfig, err)
	}

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("%w: baidu request: %v", generation.ErrTransientFailure, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		status := resp.StatusCode
		if status == http.StatusTooManyRequests || status >= 500 {
			return "", fmt.Errorf("%w: baidu returned %d: %s", generation.ErrTransientFailure, status, strings.TrimSpace(string(snippet)))
		}
		return "", fmt.Errorf("%w: baidu returned %d: %s", generation.ErrInvalidResponse, status, strings.TrimSpace(string(snippet)))
	}

	var parsed translateResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", fmt.Errorf("%w: decode baidu response: %v", generation.ErrInvalidResponse, err)
	}
	if parsed.ErrorCode != "" && parsed.ErrorCode != "52000" {
		return "", classifyCode(parsed.ErrorCode, parsed.ErrorMsg)
	}

	parts := make([]string, 0, len(parsed.Result))
	for _, r := range parsed.Result {
		parts = append(parts, r.Dst)
	}
	out := strings.TrimSpace(strings.Join(parts, "\n"))
	if out == "" {
		return "", fmt.Errorf("%w: baidu returned an empty translation", generation.ErrInvalidResponse)
	}
	return out, nil
}

// classifyCode maps a Baidu error code onto the provider error taxonomy.
// 52000 is success and never reaches here.
func classifyCode(code, msg string) error {
	switch code {
	case "52001", "52002", "54003", "54005":
		// Server timeouts and the per-second quota.
		return fmt.Errorf("%w: baidu error %s: %s", generation.ErrTransientFailure, code, msg)
	case "52003", "54001", "54004", "58000", "90107":
		// Account problems; retrying cannot help.
		return fmt.Errorf("%w: baidu rejected credentials (%s): %s", generation.ErrInvalidConfig, code, msg)
	default:
		return fmt.Errorf("%w: baidu error %s: %s", generation.ErrInvalidResponse, code, msg)
	}
}

func sign(appID, text, salt, key string) string {
	sum := md5.Sum([]byte(appID + text + salt + key))
	return hex.EncodeToString(sum[:])
}

var _ generation.Translator = (*Client)(nil)
