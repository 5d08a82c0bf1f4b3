// Package generation defines the contract between the translation processor
// and the language model providers behind it (OpenAI-compatible chat APIs and
// Gemini), together with the provider error taxonomy and the shared prompt.
//
// Providers classify failures so the processor can decide what the client
// sees: ErrContentBlocked and ErrInvalidResponse are permanent,
// ErrTransientFailure has already been retried, and ErrInvalidConfig means
// the provider cannot be used at all.
package generation
