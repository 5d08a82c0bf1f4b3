package generation

import (
	"context"
	"sync"
)

// Request is a single translation request.
type Request struct {
	// Text is the source text.
	Text string
	// TargetLanguage is a language code such as "zh-CN" or "fr".
	TargetLanguage string
}

// Translator translates text with one language model provider.
type Translator interface {
	// Translate returns the translated text. Implementations retry transient
	// failures themselves and must honour ctx cancellation.
	Translate(ctx context.Context, req Request) (string, error)
}

// TranslatorFunc adapts a function to the Translator interface.
type TranslatorFunc func(ctx context.Context, req Request) (string, error)

// Translate calls f.
func (f TranslatorFunc) Translate(ctx context.Context, req Request) (string, error) {
	return f(ctx, req)
}

// MockTranslator records requests and returns a configurable answer
type MockTranslator struct {
	TranslateFn func(ctx context.Context, req Request) (string, error)

	mu       sync.Mutex
	requests []Request
}

// Translate implements Translator
func (m *MockTranslator) Translate(ctx context.Context, req Request) (string, error) {
	m.mu.Lock()
	m.requests = append(m.requests, req)
	m.mu.Unlock()
	if m.TranslateFn == nil {
		return "[" + req.TargetLanguage + "] " + req.Text, nil
	}
	return m.TranslateFn(ctx, req)
}

// Requests returns the requests received so far.
func (m *MockTranslator) Requests() []Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Request(nil), m.requests...)
}
