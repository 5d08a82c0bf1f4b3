package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment variable read by Load.
const EnvPrefix = "SWIFTDOCS"

// ConfigFileEnv names the environment variable pointing at a config file.
const ConfigFileEnv = EnvPrefix + "_CONFIG_FILE"

// Load configuration from environment variables and optionally a config file.
// Environment variables take precedence over values from the config file.
// Returns a populated Config struct or an error if loading/validation fails.
func Load() (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if path := os.Getenv(ConfigFileEnv); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks struct tags and the cross-section rules that tags cannot
// express.
func Validate(cfg *Config) error {
	validate := validator.New()
	if err := validate.Struct(cfg); err != nil {
		return fmt.Errorf("config validation failed: %w", err)
	}

	if (cfg.Store.Backend == "redis" || cfg.Queue.Backend == "redis") && cfg.Redis.Addr == "" {
		return errors.New("config validation failed: redis.addr is required when a redis backend is selected")
	}
	if !cfg.Server.APIEnabled && !cfg.Worker.Embedded {
		return errors.New("config validation failed: server.api_enabled and worker.embedded are both false")
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.log_level", "info")
	v.SetDefault("server.shutdown_timeout", 15*time.Second)
	v.SetDefault("server.api_enabled", true)

	v.SetDefault("store.backend", "memory")
	v.SetDefault("store.dsn", "")

	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.key_prefix", "swiftdocs:")

	v.SetDefault("queue.backend", "memory")
	v.SetDefault("queue.size", 100)
	v.SetDefault("queue.dequeue_wait", 2*time.Second)

	v.SetDefault("worker.embedded", true)
	v.SetDefault("worker.ocr.workers", 2)
	v.SetDefault("worker.ocr.timeout", 2*time.Minute)
	v.SetDefault("worker.pdf.workers", 2)
	v.SetDefault("worker.pdf.timeout", 5*time.Minute)
	v.SetDefault("worker.translation.workers", 4)
	v.SetDefault("worker.translation.timeout", time.Minute)

	v.SetDefault("watchdog.enabled", true)
	v.SetDefault("watchdog.schedule", "@every 1m")
	v.SetDefault("watchdog.stuck_after", time.Hour)

	v.SetDefault("providers.openai_api_key", "")
	v.SetDefault("providers.openai_base_url", "https://api.openai.com/v1")
	v.SetDefault("providers.openai_model", "gpt-3.5-turbo")
	v.SetDefault("providers.deepseek_api_key", "")
	v.SetDefault("providers.deepseek_base_url", "https://api.deepseek.com/v1")
	v.SetDefault("providers.deepseek_model", "deepseek-chat")
	v.SetDefault("providers.gemini_api_key", "")
	v.SetDefault("providers.gemini_model", "gemini-2.0-flash")
	v.SetDefault("providers.baidu_app_id", "")
	v.SetDefault("providers.baidu_app_key", "")
	v.SetDefault("providers.baidu_base_url", "https://api.fanyi.baidu.com/api/trans/vip/translate")
	v.SetDefault("providers.http_timeout", 30*time.Second)
	v.SetDefault("providers.max_retries", 2)
	v.SetDefault("providers.rate_limit", 0.0)
	v.SetDefault("providers.rate_burst", 1)

	v.SetDefault("ocr.tesseract_cmd", "tesseract")
	v.SetDefault("ocr.languages", []string{"eng", "chi_sim"})
	v.SetDefault("ocr.work_dir", filepath.Join(os.TempDir(), "swiftdocs-ocr"))

	v.SetDefault("pdf.pdftotext_cmd", "pdftotext")
	v.SetDefault("pdf.pdftoppm_cmd", "pdftoppm")
}
