package api

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/phrazzld/swiftdocs-api/internal/domain"
	"github.com/phrazzld/swiftdocs-api/internal/events"
	"github.com/phrazzld/swiftdocs-api/internal/generation"
	"github.com/phrazzld/swiftdocs-api/internal/notify"
	"github.com/phrazzld/swiftdocs-api/internal/processor"
	"github.com/phrazzld/swiftdocs-api/internal/store"
	"github.com/phrazzld/swiftdocs-api/internal/task"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testServer struct {
	server   *httptest.Server
	manager  *task.Manager
	queue    *task.MemoryQueue
	registry *notify.Registry
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	procs, err := processor.NewRegistry(
		processor.NewOCR(processor.OCRConfig{WorkDir: t.TempDir()}, processor.CommandRunnerFunc(
			func(context.Context, string, ...string) ([]byte, error) { return nil, nil }), logger),
		processor.NewPDF(processor.PDFConfig{}, processor.CommandRunnerFunc(
			func(context.Context, string, ...string) ([]byte, error) { return nil, nil }), logger),
		processor.NewTranslation(map[string]generation.Translator{
			processor.ProviderOpenAI: &generation.MockTranslator{},
		}, logger),
	)
	require.NoError(t, err)

	ts := &testServer{
		queue:    task.NewMemoryQueue(10, logger),
		registry: notify.NewRegistry(logger),
	}
	ts.manager = task.NewManager(store.NewMemoryTaskStore(), ts.queue, procs, ts.registry, logger)
	ts.server = httptest.NewServer(NewRouter(ts.manager, logger))
	t.Cleanup(func() {
		ts.registry.Close()
		ts.server.Close()
	})
	return ts
}

func (ts *testServer) do(t *testing.T, method, path, body string) (*http.Response, []byte) {
	t.Helper()
	req, err := http.NewRequest(method, ts.server.URL+path, strings.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, data
}

func (ts *testServer) submit(t *testing.T, path, body string) SubmitResponse {
	t.Helper()
	resp, data := ts.do(t, http.MethodPost, path, body)
	require.Equal(t, http.StatusAccepted, resp.StatusCode, string(data))
	var out SubmitResponse
	require.NoError(t, json.Unmarshal(data, &out))
	return out
}

func errorBody(t *testing.T, data []byte) string {
	t.Helper()
	var er struct {
		Error   string `json:"error"`
		TraceID string `json:"traceId"`
	}
	require.NoError(t, json.Unmarshal(data, &er))
	assert.NotEmpty(t, er.TraceID)
	return er.Error
}

func TestSubmitTask_Generic(t *testing.T) {
	ts := newTestServer(t)

	out := ts.submit(t, "/api/v1/tasks/translation", `{"text":"Hello","provider":"openai","target":"zh-CN"}`)
	assert.NotEmpty(t, out.TaskID)
	assert.Equal(t, domain.StatusPending, out.Status)
	assert.Equal(t, 0, out.Progress)
	assert.Equal(t, 1, ts.queue.Len(domain.TaskTypeTranslation))

	resp, data := ts.do(t, http.MethodGet, "/api/v1/tasks/"+out.TaskID, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var rec domain.TaskRecord
	require.NoError(t, json.Unmarshal(data, &rec))
	assert.Equal(t, out.TaskID, rec.ID)
	assert.Equal(t, domain.StatusPending, rec.Status)
}

func TestSubmitTask_Rejections(t *testing.T) {
	ts := newTestServer(t)

	tests := []struct {
		name     string
		path     string
		body     string
		wantCode int
		wantMsg  string
	}{
		{"unknown type", "/api/v1/tasks/video", `{}`, http.StatusBadRequest, `Validation error: unknown task type "video"`},
		{"malformed json", "/api/v1/tasks/ocr", `{`, http.StatusBadRequest, "Invalid request format"},
		{"invalid input", "/api/v1/tasks/translation", `{"text":"Hello","provider":"bing","target":"zh-CN"}`, http.StatusBadRequest, "Validation error: provider must be one of [openai deepseek google baidu]"},
		{"typed missing field", "/api/v1/translation/translate", `{"provider":"openai","targetLanguage":"fr"}`, http.StatusBadRequest, "Invalid text: required field"},
		{"typed unknown field", "/api/v1/pdf/process", `{"filePath":"/a.pdf","mode":"text","color":true}`, http.StatusBadRequest, "Invalid request format"},
		{"typed image without selection", "/api/v1/pdf/process", `{"filePath":"/a.pdf","mode":"image"}`, http.StatusBadRequest, "Validation error: image mode requires pages or bbox"},
		{"typed bad target", "/api/v1/translation/translate", `{"text":"Hi","provider":"openai","targetLanguage":"xx"}`, http.StatusBadRequest, "Validation error: target must be one of [zh-CN zh-TW en ja ko fr de es ru]"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, data := ts.do(t, http.MethodPost, tt.path, tt.body)
			assert.Equal(t, tt.wantCode, resp.StatusCode)
			assert.Equal(t, tt.wantMsg, errorBody(t, data))
		})
	}
	for _, typ := range domain.TaskTypes {
		assert.Zero(t, ts.queue.Len(typ), "rejected submissions must not be dispatched")
	}
}

func TestTypedEndpoints(t *testing.T) {
	ts := newTestServer(t)
	png := base64.StdEncoding.EncodeToString([]byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR"))

	tr := ts.submit(t, "/api/v1/translation/translate", `{"text":"Hello","provider":"openai","targetLanguage":"zh-CN","mode":"selection"}`)
	ocr := ts.submit(t, "/api/v1/ocr/process", `{"imageData":"data:image/png;base64,`+png+`"}`)
	pdf := ts.submit(t, "/api/v1/pdf/process", `{"filePath":"/tmp/doc.pdf","mode":"layout","pages":[1]}`)

	for typ, id := range map[domain.TaskType]string{
		domain.TaskTypeTranslation: tr.TaskID,
		domain.TaskTypeOCR:         ocr.TaskID,
		domain.TaskTypePDF:         pdf.TaskID,
	} {
		entry, err := ts.queue.Dequeue(context.Background(), typ, 10*time.Millisecond)
		require.NoError(t, err)
		assert.Equal(t, id, entry.TaskID)
	}

	rec, err := ts.manager.GetStatus(context.Background(), tr.TaskID)
	require.NoError(t, err)
	assert.Equal(t, domain.TaskTypeTranslation, rec.Type)
}

func TestTypedTranslation_InputMapping(t *testing.T) {
	ts := newTestServer(t)
	ts.submit(t, "/api/v1/translation/translate", `{"text":"Hello","provider":"openai","targetLanguage":"ja"}`)

	entry, err := ts.queue.Dequeue(context.Background(), domain.TaskTypeTranslation, 10*time.Millisecond)
	require.NoError(t, err)
	var in processor.TranslationInput
	require.NoError(t, json.Unmarshal(entry.Input, &in))
	assert.Equal(t, processor.TranslationInput{Text: "Hello", Provider: "openai", Target: "ja"}, in)
}

func TestTypedPDF_RegionMapping(t *testing.T) {
	ts := newTestServer(t)
	ts.submit(t, "/api/v1/pdf/process", `{"filePath":"/tmp/doc.pdf","mode":"image","bbox":{"page":2,"x":10,"y":20,"width":30,"height":40}}`)

	entry, err := ts.queue.Dequeue(context.Background(), domain.TaskTypePDF, 10*time.Millisecond)
	require.NoError(t, err)
	var in processor.PDFInput
	require.NoError(t, json.Unmarshal(entry.Input, &in))
	assert.Equal(t, processor.PDFInput{
		FilePath: "/tmp/doc.pdf",
		Mode:     processor.PDFModeImage,
		Region:   &processor.PDFRegion{Page: 2, X: 10, Y: 20, Width: 30, Height: 40},
	}, in)
}

func TestGetTask_NotFound(t *testing.T) {
	ts := newTestServer(t)

	resp, data := ts.do(t, http.MethodGet, "/api/v1/tasks/nope", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "Task not found", errorBody(t, data))
}

func TestDeleteTask(t *testing.T) {
	ts := newTestServer(t)
	out := ts.submit(t, "/api/v1/tasks/translation", `{"text":"Hello","provider":"openai","target":"fr"}`)

	resp, data := ts.do(t, http.MethodDelete, "/api/v1/tasks/"+out.TaskID, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"deleted":true}`, string(data))

	resp, _ = ts.do(t, http.MethodGet, "/api/v1/tasks/"+out.TaskID, "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, _ = ts.do(t, http.MethodDelete, "/api/v1/tasks/"+out.TaskID, "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestHealth(t *testing.T) {
	ts := newTestServer(t)
	resp, data := ts.do(t, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"status":"ok"}`, string(data))
}

func wsURL(ts *testServer, taskID string) string {
	return "ws" + strings.TrimPrefix(ts.server.URL, "http") + "/api/v1/tasks/" + taskID + "/ws"
}

func readEvent(t *testing.T, conn *websocket.Conn) events.TaskEvent {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var ev events.TaskEvent
	require.NoError(t, conn.ReadJSON(&ev))
	return ev
}

func TestSubscribeTask_UnknownTask(t *testing.T) {
	ts := newTestServer(t)

	_, resp, err := websocket.DefaultDialer.Dial(wsURL(ts, "missing"), nil)
	require.ErrorIs(t, err, websocket.ErrBadHandshake)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp.Body.Close()
}

func TestSubscribeTask_Lifecycle(t *testing.T) {
	ts := newTestServer(t)
	ctx := context.Background()
	out := ts.submit(t, "/api/v1/tasks/translation", `{"text":"Hello","provider":"openai","target":"zh-CN"}`)

	conn, resp, err := websocket.DefaultDialer.Dial(wsURL(ts, out.TaskID), nil)
	require.NoError(t, err)
	resp.Body.Close()
	defer conn.Close()

	snapshot := readEvent(t, conn)
	assert.Equal(t, events.EventCreated, snapshot.Type)
	require.NotNil(t, snapshot.Task)
	assert.Equal(t, domain.StatusPending, snapshot.Task.Status)

	_, err = ts.manager.MarkRunning(ctx, out.TaskID)
	require.NoError(t, err)
	_, err = ts.manager.ReportProgress(ctx, out.TaskID, 40)
	require.NoError(t, err)
	_, err = ts.manager.ReportResult(ctx, out.TaskID, json.RawMessage(`{"translatedText":"你好"}`))
	require.NoError(t, err)

	running := readEvent(t, conn)
	assert.Equal(t, events.EventRunning, running.Type)

	progress := readEvent(t, conn)
	assert.Equal(t, events.EventProgress, progress.Type)
	assert.Equal(t, 40, progress.Task.Progress)

	done := readEvent(t, conn)
	assert.Equal(t, events.EventCompleted, done.Type)
	assert.Equal(t, 100, done.Task.Progress)
	assert.JSONEq(t, `{"translatedText":"你好"}`, string(done.Task.Result))
}

func TestSubscribeTask_DeleteClosesSocket(t *testing.T) {
	ts := newTestServer(t)
	out := ts.submit(t, "/api/v1/tasks/translation", `{"text":"Hello","provider":"openai","target":"en"}`)

	conn, resp, err := websocket.DefaultDialer.Dial(wsURL(ts, out.TaskID), nil)
	require.NoError(t, err)
	resp.Body.Close()
	defer conn.Close()
	readEvent(t, conn)

	delResp, _ := ts.do(t, http.MethodDelete, "/api/v1/tasks/"+out.TaskID, "")
	require.Equal(t, http.StatusOK, delResp.StatusCode)

	deleted := readEvent(t, conn)
	assert.Equal(t, events.EventDeleted, deleted.Type)
	assert.Equal(t, out.TaskID, deleted.TaskID)

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err = conn.ReadMessage()
	var closeErr *websocket.CloseError
	require.True(t, errors.As(err, &closeErr), "expected close frame, got %v", err)
	assert.Equal(t, websocket.CloseNormalClosure, closeErr.Code)

	assert.Eventually(t, func() bool { return ts.registry.Count(out.TaskID) == 0 }, time.Second, 10*time.Millisecond)
}

func TestSubscribeTask_ClientDisconnectUnsubscribes(t *testing.T) {
	ts := newTestServer(t)
	out := ts.submit(t, "/api/v1/tasks/ocr", `{"imageData":"`+base64.StdEncoding.EncodeToString([]byte("\x89PNG\r\n\x1a\n\x00"))+`"}`)

	conn, resp, err := websocket.DefaultDialer.Dial(wsURL(ts, out.TaskID), nil)
	require.NoError(t, err)
	resp.Body.Close()
	readEvent(t, conn)
	require.Equal(t, 1, ts.registry.Count(out.TaskID))

	require.NoError(t, conn.Close())
	assert.Eventually(t, func() bool { return ts.registry.Count(out.TaskID) == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestRecoverer(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	srv := httptest.NewServer(NewRouter(panickingService{}, logger))
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/api/v1/tasks/ocr", "application/json", bytes.NewBufferString(`{}`))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
}

type panickingService struct{ TaskService }

func (panickingService) Submit(context.Context, domain.TaskType, json.RawMessage) (*domain.TaskRecord, error) {
	panic("boom")
}
