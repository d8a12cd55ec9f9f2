package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/hitoshi/recipebox/internal/model"
)

// mockAuthenticator はauth.Gatewayの振る舞いを模したモック。
type mockAuthenticator struct {
	identity *model.Identity
	err      error
	calls    int
}

func (m *mockAuthenticator) Authorize(ctx context.Context, header string) (*model.Identity, error) {
	m.calls++
	if header == "" {
		return nil, model.ErrAuthMissing
	}
	if m.err != nil {
		return nil, m.err
	}
	return m.identity, nil
}

type mockFailureRecorder struct {
	codes []string
}

func (m *mockFailureRecorder) RecordAuthFailure(code string) {
	m.codes = append(m.codes, code)
}

func TestAuthMiddleware_ValidToken_InjectsIdentity(t *testing.T) {
	auth := &mockAuthenticator{identity: &model.Identity{Subject: "user-1"}}

	var captured *model.Identity
	handler := NewAuthMiddleware(auth, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		captured, _ = IdentityFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodPost, "/recipes", nil)
	req.Header.Set("Authorization", "Bearer good")
	w := httptest.NewRecorder()

	handler.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", w.Code, http.StatusOK)
	}
	if captured == nil || captured.Subject != "user-1" {
		t.Errorf("identity = %+v, want subject user-1", captured)
	}
}

func TestAuthMiddleware_MissingHeader_Returns401WithoutCallingNext(t *testing.T) {
	auth := &mockAuthenticator{identity: &model.Identity{Subject: "user-1"}}
	recorder := &mockFailureRecorder{}

	handler := NewAuthMiddleware(auth, recorder)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler should not be called")
	}))

	req := httptest.NewRequest(http.MethodDelete, "/recipes/abc123", nil)
	w := httptest.NewRecorder()

	handler.ServeHTTP(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want %d", w.Code, http.StatusUnauthorized)
	}

	var body ErrorResponseBody
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode: %v", err)
	}
	if body.Code != model.ErrCodeAuthMissing {
		t.Errorf("code = %q, want %q", body.Code, model.ErrCodeAuthMissing)
	}
	if body.Message != "Missing Authorization Header" {
		t.Errorf("message = %q", body.Message)
	}
	if len(recorder.codes) != 1 || recorder.codes[0] != model.ErrCodeAuthMissing {
		t.Errorf("recorded = %v", recorder.codes)
	}
}

func TestAuthMiddleware_InvalidToken_Returns401(t *testing.T) {
	auth := &mockAuthenticator{err: model.NewAuthInvalidError("token has expired")}

	handler := NewAuthMiddleware(auth, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler should not be called")
	}))

	req := httptest.NewRequest(http.MethodPut, "/recipes/abc123", nil)
	req.Header.Set("Authorization", "Bearer expired")
	w := httptest.NewRecorder()

	handler.ServeHTTP(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want %d", w.Code, http.StatusUnauthorized)
	}
	var body ErrorResponseBody
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode: %v", err)
	}
	if body.Code != model.ErrCodeAuthInvalid || body.Message != "token has expired" {
		t.Errorf("body = %+v", body)
	}
}

func TestAuthMiddleware_PlainError_BecomesAuthInvalid(t *testing.T) {
	auth := &mockAuthenticator{err: errors.New("provider unreachable")}

	handler := NewAuthMiddleware(auth, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler should not be called")
	}))

	req := httptest.NewRequest(http.MethodPost, "/recipes", nil)
	req.Header.Set("Authorization", "Bearer x")
	w := httptest.NewRecorder()

	handler.ServeHTTP(w, req)

	var body ErrorResponseBody
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode: %v", err)
	}
	if body.Code != model.ErrCodeAuthInvalid {
		t.Errorf("code = %q, want %q", body.Code, model.ErrCodeAuthInvalid)
	}
}

func TestOptionalAuthMiddleware(t *testing.T) {
	tests := []struct {
		name        string
		header      string
		err         error
		wantSubject string
		wantCalls   int
	}{
		{"ヘッダーなしは匿名", "", nil, "", 0},
		{"検証成功", "Bearer good", nil, "user-1", 1},
		{"検証失敗は匿名で続行", "Bearer bad", errors.New("invalid"), "", 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			auth := &mockAuthenticator{identity: &model.Identity{Subject: "user-1"}, err: tt.err}

			called := false
			var subject string
			handler := NewOptionalAuthMiddleware(auth)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				called = true
				if id, ok := IdentityFromContext(r.Context()); ok {
					subject = id.Subject
				}
			}))

			req := httptest.NewRequest(http.MethodGet, "/recipes", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			handler.ServeHTTP(httptest.NewRecorder(), req)

			if !called {
				t.Fatal("handler should always be called")
			}
			if subject != tt.wantSubject {
				t.Errorf("subject = %q, want %q", subject, tt.wantSubject)
			}
			if auth.calls != tt.wantCalls {
				t.Errorf("Authorize calls = %d, want %d", auth.calls, tt.wantCalls)
			}
		})
	}
}

func TestIdentityFromContext_Empty(t *testing.T) {
	if id, ok := IdentityFromContext(context.Background()); ok || id != nil {
		t.Errorf("IdentityFromContext = %+v, %v; want nil, false", id, ok)
	}
}

func TestContextWithIdentity_RoundTrip(t *testing.T) {
	ctx := ContextWithIdentity(context.Background(), &model.Identity{Subject: "user-9"})
	id, ok := IdentityFromContext(ctx)
	if !ok || id.Subject != "user-9" {
		t.Errorf("IdentityFromContext = %+v, %v", id, ok)
	}
}
