package handler

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/hitoshi/recipebox/internal/metrics"
	"github.com/hitoshi/recipebox/internal/middleware"
	"github.com/hitoshi/recipebox/internal/model"
	"github.com/hitoshi/recipebox/internal/recipe"
)

// mockAuthenticatorForRouter は固定トークンだけを受け付けるAuthenticator。
type mockAuthenticatorForRouter struct{}

func (mockAuthenticatorForRouter) Authorize(ctx context.Context, header string) (*model.Identity, error) {
	if header == "" {
		return nil, model.ErrAuthMissing
	}
	if header != "Bearer valid-token" {
		return nil, model.NewAuthInvalidError("token is malformed")
	}
	return &model.Identity{Subject: "user-test-1"}, nil
}

// createTestRouter はテスト用の完全なルーターを構築するヘルパー。
func createTestRouter(svc *mockRecipeService, limiter *middleware.RateLimiter) http.Handler {
	reg := prometheus.NewRegistry()
	deps := &RouterDeps{
		HealthChecker:     &mockHealthChecker{},
		Authenticator:     mockAuthenticatorForRouter{},
		CORSAllowedOrigin: "http://localhost:3000",
		RateLimiter:       limiter,
		Metrics:           metrics.NewCollector(reg),
		MetricsHandler:    metrics.Handler(reg),
		RecipeService:     svc,
		UploadService:     &mockUploadService{},
	}
	return NewRouter(deps)
}

func TestNewRouter_DeleteWithoutAuthNeverDeletes(t *testing.T) {
	svc := &mockRecipeService{}
	router := createTestRouter(svc, nil)

	req := httptest.NewRequest(http.MethodDelete, "/recipes/abc", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want %d", w.Code, http.StatusUnauthorized)
	}
	if code := parseAPIErrorResponse(t, w)["code"]; code != model.ErrCodeAuthMissing {
		t.Errorf("code = %q", code)
	}
	if svc.deleteCalls != 0 {
		t.Errorf("Delete called %d times, want 0", svc.deleteCalls)
	}
}

func TestNewRouter_ProtectedRoutesRequireAuth(t *testing.T) {
	routes := []struct {
		method string
		path   string
	}{
		{http.MethodPost, "/recipes"},
		{http.MethodPut, "/recipes/abc"},
		{http.MethodDelete, "/recipes/abc"},
		{http.MethodPost, "/uploads"},
		{http.MethodDelete, "/uploads?url=http://x/y"},
	}

	for _, rt := range routes {
		t.Run(rt.method+" "+rt.path, func(t *testing.T) {
			router := createTestRouter(&mockRecipeService{}, nil)

			req := httptest.NewRequest(rt.method, rt.path, strings.NewReader(toastBody))
			req.Header.Set("Authorization", "Bearer forged")
			w := httptest.NewRecorder()
			router.ServeHTTP(w, req)

			if w.Code != http.StatusUnauthorized {
				t.Errorf("status = %d, want %d", w.Code, http.StatusUnauthorized)
			}
			if code := parseAPIErrorResponse(t, w)["code"]; code != model.ErrCodeAuthInvalid {
				t.Errorf("code = %q", code)
			}
		})
	}
}

func TestNewRouter_CreateWithAuth(t *testing.T) {
	svc := &mockRecipeService{
		createFn: func(ctx context.Context, c *recipe.Candidate) (string, error) {
			return "new-id", nil
		},
	}
	router := createTestRouter(svc, nil)

	req := httptest.NewRequest(http.MethodPost, "/recipes", strings.NewReader(toastBody))
	req.Header.Set("Authorization", "Bearer valid-token")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusCreated {
		t.Errorf("status = %d, want %d", w.Code, http.StatusCreated)
	}
}

func TestNewRouter_ListWithInvalidTokenIsAnonymous(t *testing.T) {
	var gotIdentity *model.Identity
	called := false
	svc := &mockRecipeService{
		listFn: func(ctx context.Context, identity *model.Identity, p recipe.ListParams) (*recipe.ListResult, error) {
			called = true
			gotIdentity = identity
			return &recipe.ListResult{}, nil
		},
	}
	router := createTestRouter(svc, nil)

	req := httptest.NewRequest(http.MethodGet, "/recipes", nil)
	req.Header.Set("Authorization", "Bearer expired")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	if !called || gotIdentity != nil {
		t.Errorf("called = %v, identity = %+v, want anonymous call", called, gotIdentity)
	}
}

func TestNewRouter_ListWithValidTokenHasIdentity(t *testing.T) {
	var gotIdentity *model.Identity
	svc := &mockRecipeService{
		listFn: func(ctx context.Context, identity *model.Identity, p recipe.ListParams) (*recipe.ListResult, error) {
			gotIdentity = identity
			return &recipe.ListResult{}, nil
		},
	}
	router := createTestRouter(svc, nil)

	req := httptest.NewRequest(http.MethodGet, "/recipes", nil)
	req.Header.Set("Authorization", "Bearer valid-token")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if gotIdentity == nil || gotIdentity.Subject != "user-test-1" {
		t.Errorf("identity = %+v", gotIdentity)
	}
}

func TestNewRouter_PreflightAndHeaders(t *testing.T) {
	router := createTestRouter(&mockRecipeService{}, nil)

	req := httptest.NewRequest(http.MethodOptions, "/recipes/abc", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusNoContent {
		t.Errorf("status = %d, want %d", w.Code, http.StatusNoContent)
	}
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "http://localhost:3000" {
		t.Errorf("Access-Control-Allow-Origin = %q", got)
	}
	if got := w.Header().Get("X-Content-Type-Options"); got != "nosniff" {
		t.Errorf("X-Content-Type-Options = %q", got)
	}
}

func TestNewRouter_HealthAndMetrics(t *testing.T) {
	router := createTestRouter(&mockRecipeService{}, nil)

	// 1回リクエストしてからメトリクスを確認する
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("GET /health status = %d", w.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/metrics", nil)
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("GET /metrics status = %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "recipebox_http_status_total") {
		t.Error("metrics should contain recipebox_http_status_total")
	}
}

func TestNewRouter_WriteRateLimit(t *testing.T) {
	limiter := middleware.NewRateLimiter(middleware.RateLimiterConfig{
		GeneralRate:     100,
		GeneralBurst:    100,
		WriteRate:       0.001,
		WriteBurst:      1,
		CleanupInterval: time.Minute,
	})
	defer limiter.Stop()

	router := createTestRouter(&mockRecipeService{}, limiter)

	send := func() *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodDelete, "/recipes/abc", nil)
		req.Header.Set("Authorization", "Bearer valid-token")
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		return w
	}

	if w := send(); w.Code != http.StatusOK {
		t.Fatalf("first DELETE status = %d, want %d", w.Code, http.StatusOK)
	}
	w := send()
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("second DELETE status = %d, want %d", w.Code, http.StatusTooManyRequests)
	}
	if w.Header().Get("Retry-After") == "" {
		t.Error("Retry-After header should be set")
	}

	// 読み取りは書き込みの制限を受けない
	req := httptest.NewRequest(http.MethodGet, "/recipes", nil)
	rw := httptest.NewRecorder()
	router.ServeHTTP(rw, req)
	if rw.Code != http.StatusOK {
		t.Errorf("GET status = %d, want %d", rw.Code, http.StatusOK)
	}
}
