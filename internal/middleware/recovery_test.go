package middleware

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/hitoshi/recipebox/internal/model"
)

func TestRecoveryMiddleware_Returns500AndLogsSubject(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))

	auth := &mockAuthenticator{identity: &model.Identity{Subject: "alice"}}

	handler := NewLoggingMiddleware(slog.New(slog.NewJSONHandler(&bytes.Buffer{}, nil)), nil)(
		NewRecoveryMiddleware(logger)(
			NewAuthMiddleware(auth, nil)(
				http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
					panic("boom")
				}),
			),
		),
	)

	req := httptest.NewRequest(http.MethodPut, "/recipes/r1", nil)
	req.Header.Set("Authorization", "Bearer tok")
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if w.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", w.Code)
	}
	var body ErrorResponseBody
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("invalid error body: %v", err)
	}
	if body.Code != model.ErrCodeInternal {
		t.Errorf("code = %q, want %q", body.Code, model.ErrCodeInternal)
	}

	var entry map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("log is not JSON: %v\n%s", err, buf.String())
	}
	if entry["msg"] != "panic recovered" || entry["subject"] != "alice" || entry["panic"] != "boom" {
		t.Errorf("log entry = %v", entry)
	}
	if !strings.Contains(entry["stack"].(string), "goroutine") {
		t.Error("stack trace should be logged")
	}
}

func TestRecoveryMiddleware_RethrowsAbortHandler(t *testing.T) {
	handler := NewRecoveryMiddleware(slog.New(slog.NewJSONHandler(&bytes.Buffer{}, nil)))(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			panic(http.ErrAbortHandler)
		}),
	)

	defer func() {
		if rec := recover(); rec != http.ErrAbortHandler {
			t.Errorf("recovered %v, want http.ErrAbortHandler", rec)
		}
	}()
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	t.Error("ServeHTTP should panic with http.ErrAbortHandler")
}
