package api

import (
	"errors"
	"net/http"

	"github.com/phrazzld/swiftdocs-api/internal/api/shared"
	"github.com/phrazzld/swiftdocs-api/internal/domain"
)

// MapErrorToStatusCode maps task errors onto HTTP status codes. Anything
// outside the client-facing taxonomy is a server error.
func MapErrorToStatusCode(err error) int {
	switch {
	case errors.Is(err, domain.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

// GetSafeErrorMessage returns the message shown to clients for err.
// Validation messages are built from request fields and are safe to echo;
// every other message is generic.
func GetSafeErrorMessage(err error) string {
	var taskErr *domain.TaskError
	switch {
	case err == nil:
		return "An unexpected error occurred"
	case errors.Is(err, domain.ErrValidation):
		if errors.As(err, &taskErr) && taskErr.Msg != "" {
			return "Validation error: " + taskErr.Msg
		}
		return "Validation error"
	case errors.Is(err, domain.ErrNotFound):
		return "Task not found"
	default:
		return "An unexpected error occurred"
	}
}

// HandleAPIError writes the response for err and logs the detail.
func HandleAPIError(w http.ResponseWriter, r *http.Request, err error) {
	shared.RespondWithErrorAndLog(w, r, MapErrorToStatusCode(err), GetSafeErrorMessage(err), err)
}
