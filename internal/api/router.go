package api

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	apiMiddleware "github.com/phrazzld/swiftdocs-api/internal/api/middleware"
)

// NewRouter builds the HTTP handler with every route and middleware.
func NewRouter(tasks TaskService, logger *slog.Logger) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(apiMiddleware.NewTraceMiddleware(logger))
	r.Use(middleware.Recoverer)

	h := NewTaskHandler(tasks, logger)

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/tasks/{type}", h.SubmitTask)
		r.Get("/tasks/{id}", h.GetTask)
		r.Delete("/tasks/{id}", h.DeleteTask)
		r.Get("/tasks/{id}/ws", h.SubscribeTask)

		r.Post("/translation/translate", h.Translate)
		r.Post("/ocr/process", h.ProcessOCR)
		r.Post("/pdf/process", h.ProcessPDF)
	})

	r.Get("/health", Health)

	return r
}
