package generation

import "errors"

var (
	// ErrTranslationFailed is returned when translation fails for any general reason
	ErrTranslationFailed = errors.New("translation failed")

	// ErrInvalidResponse is returned when the provider response cannot be parsed or is empty
	ErrInvalidResponse = errors.New("invalid response from language model")

	// ErrContentBlocked is returned when the provider blocks the content due to safety filters
	ErrContentBlocked = errors.New("content blocked by language model safety filters")

	// ErrTransientFailure is returned for temporary errors that persisted across retries
	ErrTransientFailure = errors.New("transient error during translation")

	// ErrInvalidConfig is returned when the provider configuration is invalid
	ErrInvalidConfig = errors.New("invalid provider configuration")
)
