package generation

import (
	"bytes"
	"fmt"
	"text/template"
)

// languageNames maps supported target codes to the names used in prompts.
var languageNames = map[string]string{
	"zh-CN": "Simplified Chinese",
	"zh-TW": "Traditional Chinese",
	"en":    "English",
	"ja":    "Japanese",
	"ko":    "Korean",
	"fr":    "French",
	"de":    "German",
	"es":    "Spanish",
	"ru":    "Russian",
}

// SupportedLanguages lists the target language codes in a stable order.
var SupportedLanguages = []string{"zh-CN", "zh-TW", "en", "ja", "ko", "fr", "de", "es", "ru"}

// LanguageName returns the prompt name of code and whether code is supported.
func LanguageName(code string) (string, bool) {
	name, ok := languageNames[code]
	return name, ok
}

var systemPrompt = template.Must(template.New("system").Parse(
	`You are a professional translator. Translate the user's text into {{.Language}}. ` +
		`Preserve the original formatting and tone, and keep the translation accurate, natural and fluent. ` +
		`Return only the translation without explanations or additional content.`))

// SystemPrompt renders the instruction sent ahead of the text to translate.
func SystemPrompt(targetLanguage string) (string, error) {
	name, ok := LanguageName(targetLanguage)
	if !ok {
		return "", fmt.Errorf("%w: unsupported target language %q", ErrInvalidConfig, targetLanguage)
	}
	var buf bytes.Buffer
	if err := systemPrompt.Execute(&buf, struct{ Language string }{name}); err != nil {
		return "", fmt.Errorf("failed to execute prompt template: %w", err)
	}
	return buf.String(), nil
}
