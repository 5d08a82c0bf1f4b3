package config

import (
	"time"

	"github.com/phrazzld/swiftdocs-api/internal/domain"
)

// Config holds all application configuration.
// It organizes settings into logical groups for better maintainability.
type Config struct {
	Server    ServerConfig    `mapstructure:"server" validate:"required"`
	Store     StoreConfig     `mapstructure:"store" validate:"required"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Queue     QueueConfig     `mapstructure:"queue" validate:"required"`
	Worker    WorkerConfig    `mapstructure:"worker" validate:"required"`
	Watchdog  WatchdogConfig  `mapstructure:"watchdog"`
	Providers ProvidersConfig `mapstructure:"providers" validate:"required"`
	OCR       OCRConfig       `mapstructure:"ocr" validate:"required"`
	PDF       PDFConfig       `mapstructure:"pdf" validate:"required"`
}

// ServerConfig contains all server-related configuration settings.
type ServerConfig struct {
	Port            int           `mapstructure:"port" validate:"required,gt=0,lt=65536"`
	LogLevel        string        `mapstructure:"log_level" validate:"required,oneof=debug info warn error"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" validate:"gt=0"`
	// APIEnabled turns the HTTP listener off for worker-only deployments.
	APIEnabled bool `mapstructure:"api_enabled"`
}

// StoreConfig selects the task record store backend.
type StoreConfig struct {
	Backend string `mapstructure:"backend" validate:"required,oneof=memory redis postgres sqlite"`
	// DSN is the database connection string for the postgres and sqlite backends.
	DSN string `mapstructure:"dsn" validate:"required_if=Backend postgres,required_if=Backend sqlite"`
}

// RedisConfig contains the connection settings shared by every Redis backed
// component (record store, dispatch queue, event bridge).
type RedisConfig struct {
	Addr      string `mapstructure:"addr" validate:"omitempty,hostname_port"`
	Password  string `mapstructure:"password"`
	DB        int    `mapstructure:"db" validate:"gte=0"`
	KeyPrefix string `mapstructure:"key_prefix"`
}

// QueueConfig selects the dispatch queue backend.
type QueueConfig struct {
	Backend string `mapstructure:"backend" validate:"required,oneof=memory redis"`
	// Size bounds each in-memory per-type queue.
	Size int `mapstructure:"size" validate:"gt=0"`
	// DequeueWait bounds how long a worker blocks waiting for an entry.
	DequeueWait time.Duration `mapstructure:"dequeue_wait" validate:"gt=0"`
}

// PoolConfig sizes the worker pool of a single task type.
type PoolConfig struct {
	Workers int           `mapstructure:"workers" validate:"gte=1,lte=64"`
	Timeout time.Duration `mapstructure:"timeout" validate:"gt=0"`
}

// WorkerConfig contains worker execution settings.
type WorkerConfig struct {
	// Embedded runs worker pools inside the API process.
	Embedded    bool       `mapstructure:"embedded"`
	OCR         PoolConfig `mapstructure:"ocr"`
	PDF         PoolConfig `mapstructure:"pdf"`
	Translation PoolConfig `mapstructure:"translation"`
}

// Pool returns the pool settings for a task type.
func (c WorkerConfig) Pool(t domain.TaskType) PoolConfig {
	switch t {
	case domain.TaskTypeOCR:
		return c.OCR
	case domain.TaskTypePDF:
		return c.PDF
	case domain.TaskTypeTranslation:
		return c.Translation
	default:
		return PoolConfig{}
	}
}

// WatchdogConfig controls detection of tasks stuck in running.
type WatchdogConfig struct {
	Enabled    bool          `mapstructure:"enabled"`
	Schedule   string        `mapstructure:"schedule" validate:"required_if=Enabled true"`
	StuckAfter time.Duration `mapstructure:"stuck_after" validate:"gt=0"`
}

// ProvidersConfig holds translation provider credentials and endpoints.
// Keys are optional; a provider without a key rejects tasks at execution.
type ProvidersConfig struct {
	OpenAIAPIKey    string        `mapstructure:"openai_api_key"`
	OpenAIBaseURL   string        `mapstructure:"openai_base_url" validate:"required,url"`
	OpenAIModel     string        `mapstructure:"openai_model" validate:"required"`
	DeepSeekAPIKey  string        `mapstructure:"deepseek_api_key"`
	DeepSeekBaseURL string        `mapstructure:"deepseek_base_url" validate:"required,url"`
	DeepSeekModel   string        `mapstructure:"deepseek_model" validate:"required"`
	GeminiAPIKey    string        `mapstructure:"gemini_api_key"`
	GeminiModel     string        `mapstructure:"gemini_model" validate:"required"`
	BaiduAppID      string        `mapstructure:"baidu_app_id" validate:"required_with=BaiduAppKey"`
	BaiduAppKey     string        `mapstructure:"baidu_app_key" validate:"required_with=BaiduAppID"`
	BaiduBaseURL    string        `mapstructure:"baidu_base_url" validate:"required,url"`
	HTTPTimeout     time.Duration `mapstructure:"http_timeout" validate:"gt=0"`
	MaxRetries      int           `mapstructure:"max_retries" validate:"gte=0,lte=10"`
	// RateLimit caps requests per second to each provider; 0 disables it.
	RateLimit float64 `mapstructure:"rate_limit" validate:"gte=0"`
	RateBurst int     `mapstructure:"rate_burst" validate:"gte=0"`
}

// OCRConfig contains tesseract settings.
type OCRConfig struct {
	TesseractCmd string   `mapstructure:"tesseract_cmd" validate:"required"`
	Languages    []string `mapstructure:"languages" validate:"required,min=1,dive,required"`
	WorkDir      string   `mapstructure:"work_dir" validate:"required"`
}

// PDFConfig contains poppler tool settings.
type PDFConfig struct {
	PdftotextCmd string `mapstructure:"pdftotext_cmd" validate:"required"`
	PdftoppmCmd  string `mapstructure:"pdftoppm_cmd" validate:"required"`
}
