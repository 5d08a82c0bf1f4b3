package gemini

import "errors"

// Error definitions for the gemini package.
var (
	// ErrEmptyText is returned when the text to translate is empty.
	ErrEmptyText = errors.New("text to translate cannot be empty")
)
