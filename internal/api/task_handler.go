package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/phrazzld/swiftdocs-api/internal/api/shared"
	"github.com/phrazzld/swiftdocs-api/internal/domain"
	"github.com/phrazzld/swiftdocs-api/internal/notify"
)

// TaskService is the lifecycle surface the handlers need. *task.Manager
// implements it.
type TaskService interface {
	Submit(ctx context.Context, taskType domain.TaskType, input json.RawMessage) (*domain.TaskRecord, error)
	GetStatus(ctx context.Context, taskID string) (*domain.TaskRecord, error)
	Cancel(ctx context.Context, taskID string) (bool, error)
	Subscribe(ctx context.Context, taskID string, conn notify.Connection) (notify.Handle, error)
	Unsubscribe(h notify.Handle)
}

// TaskHandler serves the task endpoints.
type TaskHandler struct {
	tasks    TaskService
	upgrader websocket.Upgrader
	logger   *slog.Logger
}

// NewTaskHandler creates a TaskHandler.
func NewTaskHandler(tasks TaskService, logger *slog.Logger) *TaskHandler {
	return &TaskHandler{
		tasks: tasks,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			// Browser clients are served from other origins.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		logger: logger.With("component", "task_handler"),
	}
}

// SubmitTask handles POST /api/v1/tasks/{type}. The body is the raw task
// input, validated by the task type's processor.
func (h *TaskHandler) SubmitTask(w http.ResponseWriter, r *http.Request) {
	taskType, err := domain.ParseTaskType(chi.URLParam(r, "type"))
	if err != nil {
		HandleAPIError(w, r, err)
		return
	}
	input, err := shared.ReadRawJSON(w, r)
	if err != nil {
		shared.RespondWithErrorAndLog(w, r, http.StatusBadRequest, "Invalid request format", err)
		return
	}
	h.submit(w, r, taskType, input)
}

// Translate handles POST /api/v1/translation/translate.
func (h *TaskHandler) Translate(w http.ResponseWriter, r *http.Request) {
	submitTyped(h, w, r, domain.TaskTypeTranslation, TranslateRequest.input)
}

// ProcessOCR handles POST /api/v1/ocr/process.
func (h *TaskHandler) ProcessOCR(w http.ResponseWriter, r *http.Request) {
	submitTyped(h, w, r, domain.TaskTypeOCR, OCRRequest.input)
}

// ProcessPDF handles POST /api/v1/pdf/process.
func (h *TaskHandler) ProcessPDF(w http.ResponseWriter, r *http.Request) {
	submitTyped(h, w, r, domain.TaskTypePDF, PDFRequest.input)
}

// submitTyped decodes and validates a typed request, converts it to the
// processor input and submits it.
func submitTyped[Req, In any](h *TaskHandler, w http.ResponseWriter, r *http.Request, taskType domain.TaskType, convert func(Req) In) {
	var req Req
	if err := shared.DecodeJSON(w, r, &req); err != nil {
		shared.RespondWithErrorAndLog(w, r, http.StatusBadRequest, "Invalid request format", err)
		return
	}
	if err := shared.ValidateRequest(req); err != nil {
		shared.RespondWithErrorAndLog(w, r, http.StatusBadRequest, shared.SanitizeValidationError(err), err)
		return
	}
	input, err := json.Marshal(convert(req))
	if err != nil {
		HandleAPIError(w, r, err)
		return
	}
	h.submit(w, r, taskType, input)
}

func (h *TaskHandler) submit(w http.ResponseWriter, r *http.Request, taskType domain.TaskType, input json.RawMessage) {
	rec, err := h.tasks.Submit(r.Context(), taskType, input)
	if err != nil {
		HandleAPIError(w, r, err)
		return
	}
	shared.RespondWithJSON(w, r, http.StatusAccepted, submitResponse(rec))
}

// GetTask handles GET /api/v1/tasks/{id}.
func (h *TaskHandler) GetTask(w http.ResponseWriter, r *http.Request) {
	id, err := getPathTaskID(r)
	if err != nil {
		HandleAPIError(w, r, err)
		return
	}
	rec, err := h.tasks.GetStatus(r.Context(), id)
	if err != nil {
		HandleAPIError(w, r, err)
		return
	}
	shared.RespondWithJSON(w, r, http.StatusOK, rec)
}

// DeleteTask handles DELETE /api/v1/tasks/{id}, cancelling the task.
func (h *TaskHandler) DeleteTask(w http.ResponseWriter, r *http.Request) {
	id, err := getPathTaskID(r)
	if err != nil {
		HandleAPIError(w, r, err)
		return
	}
	existed, err := h.tasks.Cancel(r.Context(), id)
	if err != nil {
		HandleAPIError(w, r, err)
		return
	}
	if !existed {
		HandleAPIError(w, r, domain.NotFound(id))
		return
	}
	shared.RespondWithJSON(w, r, http.StatusOK, DeleteResponse{Deleted: true})
}

// Health handles GET /health.
func Health(w http.ResponseWriter, r *http.Request) {
	shared.RespondWithJSON(w, r, http.StatusOK, HealthResponse{Status: "ok"})
}
