package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/phrazzld/swiftdocs-api/internal/config"
	"github.com/phrazzld/swiftdocs-api/internal/generation"
	"github.com/phrazzld/swiftdocs-api/internal/platform/baidu"
	"github.com/phrazzld/swiftdocs-api/internal/platform/gemini"
	"github.com/phrazzld/swiftdocs-api/internal/platform/openai"
	"github.com/phrazzld/swiftdocs-api/internal/processor"
)

// newProcessors builds the processor registry. Translation providers
// without a key are left out; tasks naming them fail at execution.
func newProcessors(ctx context.Context, cfg *config.Config, logger *slog.Logger, runner processor.CommandRunner) (*processor.Registry, error) {
	providers, err := newTranslators(ctx, cfg.Providers, logger)
	if err != nil {
		return nil, err
	}
	if runner == nil {
		runner = processor.ExecRunner{}
	}

	ocr := processor.NewOCR(processor.OCRConfig{
		Command:   cfg.OCR.TesseractCmd,
		Languages: cfg.OCR.Languages,
		WorkDir:   cfg.OCR.WorkDir,
	}, runner, logger)
	pdf := processor.NewPDF(processor.PDFConfig{
		Command:       cfg.PDF.PdftotextCmd,
		RenderCommand: cfg.PDF.PdftoppmCmd,
	}, runner, logger)
	translation := processor.NewTranslation(providers, logger)

	return processor.NewRegistry(ocr, pdf, translation)
}

func newTranslators(ctx context.Context, cfg config.ProvidersConfig, logger *slog.Logger) (map[string]generation.Translator, error) {
	providers := make(map[string]generation.Translator)
	limited := func(t generation.Translator) generation.Translator {
		// One limiter per provider; quotas are per account.
		return generation.RateLimited(t, generation.NewLimiter(cfg.RateLimit, cfg.RateBurst))
	}

	chat := []struct {
		name, key, baseURL, model string
	}{
		{processor.ProviderOpenAI, cfg.OpenAIAPIKey, cfg.OpenAIBaseURL, cfg.OpenAIModel},
		{processor.ProviderDeepSeek, cfg.DeepSeekAPIKey, cfg.DeepSeekBaseURL, cfg.DeepSeekModel},
	}
	for _, p := range chat {
		if p.key == "" {
			logger.Info("translation provider disabled, no API key", "provider", p.name)
			continue
		}
		client, err := openai.New(openai.Config{
			Name:       p.name,
			APIKey:     p.key,
			BaseURL:    p.baseURL,
			Model:      p.model,
			Timeout:    cfg.HTTPTimeout,
			MaxRetries: cfg.MaxRetries,
		}, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to configure %s provider: %w", p.name, err)
		}
		providers[p.name] = limited(client)
	}

	if cfg.GeminiAPIKey == "" {
		logger.Info("translation provider disabled, no API key", "provider", processor.ProviderGoogle)
	} else {
		t, err := gemini.NewTranslator(ctx, logger, gemini.Config{
			APIKey:     cfg.GeminiAPIKey,
			Model:      cfg.GeminiModel,
			MaxRetries: cfg.MaxRetries,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to configure %s provider: %w", processor.ProviderGoogle, err)
		}
		providers[processor.ProviderGoogle] = limited(t)
	}

	if cfg.BaiduAppID == "" {
		logger.Info("translation provider disabled, no app ID", "provider", processor.ProviderBaidu)
	} else {
		client, err := baidu.New(baidu.Config{
			AppID:      cfg.BaiduAppID,
			AppKey:     cfg.BaiduAppKey,
			BaseURL:    cfg.BaiduBaseURL,
			Timeout:    cfg.HTTPTimeout,
			MaxRetries: cfg.MaxRetries,
		}, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to configure %s provider: %w", processor.ProviderBaidu, err)
		}
		providers[processor.ProviderBaidu] = limited(client)
	}
	return providers, nil
}
