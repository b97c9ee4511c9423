package app

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"inkwell/api/internal/config"
	"inkwell/api/internal/store"
)

func newTestHandler(st *fakeStore) http.Handler {
	service := newTestService(config.Config{}, st)
	return NewHTTPServer(service, "*").Handler()
}

func doRequest(t *testing.T, handler http.Handler, method, path, body string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	var reader *strings.Reader
	if body == "" {
		reader = strings.NewReader("{}")
	} else {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	var payload map[string]any
	if rec.Body.Len() > 0 {
		if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
			t.Fatalf("invalid JSON response %q: %v", rec.Body.String(), err)
		}
	}
	return rec, payload
}

func TestHealthEndpoint(t *testing.T) {
	handler := newTestHandler(&fakeStore{docs: map[string]*store.Document{}})

	rec, payload := doRequest(t, handler, http.MethodGet, "/api/health", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if payload["ok"] != true {
		t.Errorf("expected ok=true, got %v", payload["ok"])
	}
	if got := rec.Header().Get("X-Request-ID"); got == "" {
		t.Error("expected X-Request-ID header")
	}
}

func TestReadyEndpointReportsStoreFailure(t *testing.T) {
	st := &fakeStore{docs: map[string]*store.Document{}}
	st.pingFn = func(context.Context) error { return errors.New("connection refused") }
	handler := newTestHandler(st)

	rec, payload := doRequest(t, handler, http.MethodGet, "/api/ready", "")
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rec.Code)
	}
	if payload["status"] != "not_ready" {
		t.Errorf("expected not_ready, got %v", payload["status"])
	}
}

func TestGetDocumentEndpoint(t *testing.T) {
	st := &fakeStore{docs: map[string]*store.Document{
		"doc-1": {ID: "doc-1", ProjectID: "proj-1", Title: "Setting", Body: "text"},
	}}
	handler := newTestHandler(st)

	rec, payload := doRequest(t, handler, http.MethodGet, "/api/documents/doc-1", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if payload["id"] != "doc-1" || payload["title"] != "Setting" {
		t.Errorf("unexpected payload %v", payload)
	}

	rec, payload = doRequest(t, handler, http.MethodGet, "/api/documents/absent", "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
	if payload["code"] != "NOT_FOUND" {
		t.Errorf("expected NOT_FOUND, got %v", payload["code"])
	}
}

func TestCreateDocumentEndpoint(t *testing.T) {
	st := &fakeStore{docs: map[string]*store.Document{}}
	st.insertDocumentFn = func(_ context.Context, doc store.Document) error {
		st.docs[doc.ID] = &doc
		return nil
	}
	handler := newTestHandler(st)

	rec, payload := doRequest(t, handler, http.MethodPost, "/api/documents",
		`{"id":"doc-1","projectId":"proj-1","title":"Notes"}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d (%v)", rec.Code, payload)
	}
	if payload["id"] != "doc-1" {
		t.Errorf("unexpected id %v", payload["id"])
	}

	rec, payload = doRequest(t, handler, http.MethodPost, "/api/documents", `{"title":"No project"}`)
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d", rec.Code)
	}
	if payload["code"] != "VALIDATION_ERROR" {
		t.Errorf("expected VALIDATION_ERROR, got %v", payload["code"])
	}
}

func TestUpdateComponentsEndpointRejectsCycle(t *testing.T) {
	st := &fakeStore{docs: map[string]*store.Document{
		"A": {ID: "A", ProjectID: "proj-1"},
		"B": {ID: "B", ProjectID: "proj-1", Components: map[string]string{"back": "A"}},
	}}
	handler := newTestHandler(st)

	rec, payload := doRequest(t, handler, http.MethodPut, "/api/documents/A/components",
		`{"components":{"fwd":"B"}}`)
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d (%v)", rec.Code, payload)
	}
	if payload["code"] != "CYCLE_DETECTED" {
		t.Errorf("expected CYCLE_DETECTED, got %v", payload["code"])
	}
	details, ok := payload["details"].(map[string]any)
	if !ok {
		t.Fatalf("expected details, got %v", payload["details"])
	}
	path, ok := details["path"].([]any)
	if !ok || len(path) != 3 {
		t.Errorf("expected 3-element cycle path, got %v", details["path"])
	}
	if st.updateComponentsCalls != 0 {
		t.Error("rejected write must not persist")
	}
}

func TestValidateEndpointDryRun(t *testing.T) {
	st := &fakeStore{docs: map[string]*store.Document{
		"A": {ID: "A", ProjectID: "proj-1"},
		"B": {ID: "B", ProjectID: "proj-1"},
	}}
	handler := newTestHandler(st)

	rec, payload := doRequest(t, handler, http.MethodPost, "/api/documents/A/components/validate",
		`{"components":{"fwd":"B"}}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if payload["valid"] != true {
		t.Errorf("expected valid=true, got %v", payload["valid"])
	}
}

func TestResolveEndpointWithOverrides(t *testing.T) {
	st := &fakeStore{docs: map[string]*store.Document{
		"A": {ID: "A", Body: "{{setting}}", Components: map[string]string{"setting": "B"}},
		"B": {ID: "B", Body: "local"},
		"C": {ID: "C", Body: "override"},
	}}
	handler := newTestHandler(st)

	rec, payload := doRequest(t, handler, http.MethodPost, "/api/documents/A/resolve",
		`{"overrides":{"setting":"C"}}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (%v)", rec.Code, payload)
	}
	if payload["text"] != "override" {
		t.Errorf("expected override text, got %v", payload["text"])
	}

	rec, payload = doRequest(t, handler, http.MethodPost, "/api/documents/absent/resolve", "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown document, got %d (%v)", rec.Code, payload)
	}
}

func TestUnknownRouteIs404(t *testing.T) {
	handler := newTestHandler(&fakeStore{docs: map[string]*store.Document{}})

	rec, payload := doRequest(t, handler, http.MethodGet, "/api/nope", "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
	if payload["code"] != "NOT_FOUND" {
		t.Errorf("expected NOT_FOUND, got %v", payload["code"])
	}
}

func TestOptionsRequestShortCircuits(t *testing.T) {
	handler := newTestHandler(&fakeStore{docs: map[string]*store.Document{}})

	req := httptest.NewRequest(http.MethodOptions, "/api/documents", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", rec.Code)
	}
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "*" {
		t.Errorf("expected CORS origin header, got %q", got)
	}
}
