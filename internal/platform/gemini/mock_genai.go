package gemini

import (
	"context"
	"sync"

	"google.golang.org/genai"
)

// MockModels is a scripted stand-in for genai.Models in tests
type MockModels struct {
	GenerateContentFn func(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)

	mu    sync.Mutex
	calls int
}

// GenerateContent implements contentGenerator
func (m *MockModels) GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
	m.mu.Lock()
	m.calls++
	m.mu.Unlock()
	return m.GenerateContentFn(ctx, model, contents, config)
}

// Calls returns how many requests were made.
func (m *MockModels) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// TextResponse builds a single-candidate response carrying text.
func TextResponse(text string) *genai.GenerateContentResponse {
	return &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{{
			Content:      &genai.Content{Role: "model", Parts: []*genai.Part{{Text: text}}},
			FinishReason: genai.FinishReasonStop,
		}},
	}
}
