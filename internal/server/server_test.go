package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"focuslist/backend"
	"focuslist/internal/assistant"
	"focuslist/internal/controller"
	"focuslist/internal/session"
	"focuslist/internal/utils"
)

func init() {
	gin.SetMode(gin.TestMode)
	utils.SetOutput(io.Discard)
}

// =============================================================================
// Mock store
// =============================================================================

type mockStore struct {
	mu        sync.Mutex
	tasks     []backend.Task
	listErr   error
	setErr    error
	removeErr error
}

func (m *mockStore) List(context.Context, string) ([]backend.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.listErr != nil {
		return nil, m.listErr
	}
	return append([]backend.Task(nil), m.tasks...), nil
}

func (m *mockStore) Create(_ context.Context, _ string, draft backend.Task) (*backend.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tasks = append(m.tasks, draft)
	return &draft, nil
}

func (m *mockStore) SetCompleted(_ context.Context, ref backend.TaskRef, completed bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.setErr != nil {
		return m.setErr
	}
	if i := backend.FindTask(m.tasks, ref.ID); i >= 0 {
		m.tasks[i].Completed = completed
	}
	return nil
}

func (m *mockStore) Remove(_ context.Context, ref backend.TaskRef) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.removeErr != nil {
		return m.removeErr
	}
	if i := backend.FindTask(m.tasks, ref.ID); i >= 0 {
		m.tasks = append(m.tasks[:i], m.tasks[i+1:]...)
	}
	return nil
}

func (m *mockStore) Close() error { return nil }

type testServer struct {
	store  *mockStore
	ctrl   *controller.Controller
	server *Server
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	store := &mockStore{tasks: []backend.Task{
		{ID: "a", Text: "Write report", Created: "09:00"},
		{ID: "b", Text: "Buy milk", Completed: true, Created: "10:00"},
	}}
	ctrl := controller.New(store, "ada@example.com")
	if err := ctrl.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh error: %v", err)
	}
	asst := assistant.NewFocus(assistant.WithDelay(0))
	srv := NewServer(ctrl, asst, WithProfile(session.Profile{Name: "Ada", Email: "ada@example.com"}))
	return &testServer{store: store, ctrl: ctrl, server: srv}
}

func (ts *testServer) do(t *testing.T, method, path string, body any) (int, map[string]any) {
	t.Helper()
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatal(err)
		}
		reader = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	ts.server.Handler().ServeHTTP(w, req)

	var resp map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("invalid JSON response %q: %v", w.Body.String(), err)
	}
	return w.Code, resp
}

// =============================================================================
// Tests
// =============================================================================

func TestHandleListTasks(t *testing.T) {
	ts := newTestServer(t)

	code, resp := ts.do(t, http.MethodGet, "/api/tasks", nil)
	if code != http.StatusOK || resp["success"] != true {
		t.Fatalf("GET /api/tasks = %d %v", code, resp)
	}
	data := resp["data"].([]any)
	if len(data) != 2 {
		t.Fatalf("data = %v", data)
	}
	first := data[0].(map[string]any)
	if first["text"] != "Write report" || first["time"] != "09:00" || first["state"] != "confirmed" {
		t.Errorf("first task = %v", first)
	}
	if _, ok := first["Position"]; ok {
		t.Error("positions should not be serialized")
	}
	if resp["remaining"] != float64(1) {
		t.Errorf("remaining = %v", resp["remaining"])
	}
}

func TestHandleListTasksFailure(t *testing.T) {
	ts := newTestServer(t)
	ts.store.listErr = &backend.RemoteError{Backend: "sheets", Op: "list", Message: "quota exceeded"}

	code, resp := ts.do(t, http.MethodGet, "/api/tasks", nil)
	if code != http.StatusBadGateway || resp["error"] != "quota exceeded" {
		t.Errorf("GET /api/tasks = %d %v", code, resp)
	}

	_, status := ts.do(t, http.MethodGet, "/api/status", nil)
	if status["error"] != "Failed to load todos: quota exceeded" {
		t.Errorf("status error = %v", status["error"])
	}
}

func TestHandleCreateTask(t *testing.T) {
	tests := []struct {
		name     string
		body     any
		wantCode int
	}{
		{"valid", map[string]string{"text": "Call mom"}, http.StatusCreated},
		{"blank", map[string]string{"text": "   "}, http.StatusBadRequest},
		{"too long", map[string]string{"text": string(bytes.Repeat([]byte("x"), maxTextSize+1))}, http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := newTestServer(t)
			code, resp := ts.do(t, http.MethodPost, "/api/tasks", tt.body)
			if code != tt.wantCode {
				t.Errorf("POST /api/tasks = %d %v, want %d", code, resp, tt.wantCode)
			}
		})
	}
}

func TestHandleCreateTaskInvalidJSON(t *testing.T) {
	ts := newTestServer(t)
	req := httptest.NewRequest(http.MethodPost, "/api/tasks", bytes.NewBufferString("{not json"))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	ts.server.Handler().ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
}

func TestHandleToggleTask(t *testing.T) {
	ts := newTestServer(t)

	code, resp := ts.do(t, http.MethodPatch, "/api/tasks/a", nil)
	if code != http.StatusOK {
		t.Fatalf("PATCH = %d %v", code, resp)
	}
	if resp["data"].(map[string]any)["completed"] != true {
		t.Errorf("data = %v", resp["data"])
	}

	code, _ = ts.do(t, http.MethodPatch, "/api/tasks/%231", nil)
	if code != http.StatusOK || ts.ctrl.Tasks()[0].Completed {
		t.Errorf("toggle by number failed: %d", code)
	}

	code, _ = ts.do(t, http.MethodPatch, "/api/tasks/missing", nil)
	if code != http.StatusNotFound {
		t.Errorf("unknown id = %d, want 404", code)
	}
}

func TestHandleToggleTaskAuthFailure(t *testing.T) {
	ts := newTestServer(t)
	ts.store.setErr = &backend.AuthError{Backend: "sheets", Reason: "token expired"}

	code, resp := ts.do(t, http.MethodPatch, "/api/tasks/a", nil)
	if code != http.StatusUnauthorized || resp["error"] != "token expired" {
		t.Errorf("PATCH = %d %v", code, resp)
	}
	if ts.ctrl.Tasks()[0].Completed {
		t.Error("toggle should have reverted")
	}
}

func TestHandleDeleteTask(t *testing.T) {
	ts := newTestServer(t)

	code, _ := ts.do(t, http.MethodDelete, "/api/tasks/a", nil)
	if code != http.StatusOK {
		t.Fatalf("DELETE = %d", code)
	}
	if len(ts.ctrl.Tasks()) != 1 {
		t.Errorf("tasks = %v", ts.ctrl.Tasks())
	}

	ts.store.removeErr = &backend.RemoteError{Backend: "sheets", Op: "delete", Message: "Internal error"}
	code, _ = ts.do(t, http.MethodDelete, "/api/tasks/b", nil)
	if code != http.StatusBadGateway {
		t.Errorf("failed DELETE = %d, want 502", code)
	}
	if len(ts.ctrl.Tasks()) != 1 {
		t.Error("failed delete should be repaired by refetch")
	}
}

func TestHandleStatus(t *testing.T) {
	ts := newTestServer(t)

	code, resp := ts.do(t, http.MethodGet, "/api/status", nil)
	if code != http.StatusOK {
		t.Fatalf("GET /api/status = %d", code)
	}
	if resp["owner"] != "ada@example.com" || resp["error"] != "" || resp["remaining"] != float64(1) {
		t.Errorf("status = %v", resp)
	}
	if resp["profile"].(map[string]any)["name"] != "Ada" {
		t.Errorf("profile = %v", resp["profile"])
	}
}

func TestHandleChat(t *testing.T) {
	ts := newTestServer(t)

	code, resp := ts.do(t, http.MethodPost, "/api/chat", map[string]string{"message": "what should I do next?"})
	if code != http.StatusOK || resp["assistant"] != "focus" {
		t.Fatalf("POST /api/chat = %d %v", code, resp)
	}
	if reply, _ := resp["reply"].(string); !bytes.Contains([]byte(reply), []byte(`"Write report"`)) {
		t.Errorf("reply = %q", reply)
	}

	code, _ = ts.do(t, http.MethodPost, "/api/chat", map[string]string{"message": " "})
	if code != http.StatusBadRequest {
		t.Errorf("blank message = %d, want 400", code)
	}
}

func TestHandleChatDisabled(t *testing.T) {
	ctrl := controller.New(&mockStore{}, "ada@example.com")
	srv := NewServer(ctrl, nil)

	req := httptest.NewRequest(http.MethodPost, "/api/chat", bytes.NewBufferString(`{"message":"hi"}`))
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)
	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", w.Code)
	}
}

func TestStartAndShutdown(t *testing.T) {
	ctrl := controller.New(&mockStore{}, "ada@example.com")
	srv := NewServer(ctrl, nil)

	errCh := srv.Start("127.0.0.1:0")
	time.Sleep(50 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown error: %v", err)
	}
	if err, ok := <-errCh; ok && err != nil {
		t.Errorf("server error: %v", err)
	}
}
