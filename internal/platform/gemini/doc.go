// Package gemini implements generation.Translator on Google's Gemini API
// through the google.golang.org/genai client.
//
// Transient API failures are retried with exponential backoff and jitter.
// Responses stopped by safety filters and responses without text are
// permanent failures and are returned immediately.
package gemini
