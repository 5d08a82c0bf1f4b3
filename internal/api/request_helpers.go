package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/phrazzld/swiftdocs-api/internal/domain"
)

// maxTaskIDLength bounds identifiers accepted from the path.
const maxTaskIDLength = 128

// getPathTaskID extracts the task identifier from the URL path.
func getPathTaskID(r *http.Request) (string, error) {
	id := chi.URLParam(r, "id")
	if id == "" {
		return "", domain.Validationf("task id is required")
	}
	if len(id) > maxTaskIDLength {
		return "", domain.Validationf("task id is too long")
	}
	return id, nil
}
