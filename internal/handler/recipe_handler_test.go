package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/hitoshi/recipebox/internal/middleware"
	"github.com/hitoshi/recipebox/internal/model"
	"github.com/hitoshi/recipebox/internal/recipe"
)

// --- モック定義 ---

// mockRecipeService はRecipeServiceInterfaceのモック実装。
type mockRecipeService struct {
	createFn func(ctx context.Context, c *recipe.Candidate) (string, error)
	listFn   func(ctx context.Context, identity *model.Identity, p recipe.ListParams) (*recipe.ListResult, error)
	updateFn func(ctx context.Context, id string, c *recipe.Candidate) (string, error)
	deleteFn func(ctx context.Context, id string) error

	deleteCalls int
}

func (m *mockRecipeService) Create(ctx context.Context, c *recipe.Candidate) (string, error) {
	if m.createFn != nil {
		return m.createFn(ctx, c)
	}
	return "", nil
}

func (m *mockRecipeService) List(ctx context.Context, identity *model.Identity, p recipe.ListParams) (*recipe.ListResult, error) {
	if m.listFn != nil {
		return m.listFn(ctx, identity, p)
	}
	return &recipe.ListResult{}, nil
}

func (m *mockRecipeService) Update(ctx context.Context, id string, c *recipe.Candidate) (string, error) {
	if m.updateFn != nil {
		return m.updateFn(ctx, id, c)
	}
	return id, nil
}

func (m *mockRecipeService) Delete(ctx context.Context, id string) error {
	m.deleteCalls++
	if m.deleteFn != nil {
		return m.deleteFn(ctx, id)
	}
	return nil
}

// --- テストヘルパー ---

// withIdentity はテスト用にリクエストコンテキストに呼び出し元を注入するヘルパー。
func withIdentity(r *http.Request, subject string) *http.Request {
	ctx := middleware.ContextWithIdentity(r.Context(), &model.Identity{Subject: subject})
	return r.WithContext(ctx)
}

// withChiURLParam はテスト用にchiのURLパラメータを注入するヘルパー。
func withChiURLParam(r *http.Request, key, value string) *http.Request {
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add(key, value)
	ctx := context.WithValue(r.Context(), chi.RouteCtxKey, rctx)
	return r.WithContext(ctx)
}

// parseAPIErrorResponse はレスポンスボディからAPIErrorレスポンスをパースするヘルパー。
func parseAPIErrorResponse(t *testing.T, w *httptest.ResponseRecorder) map[string]string {
	t.Helper()
	var body middleware.ErrorResponseBody
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode error response: %v", err)
	}
	return map[string]string{
		"code":     body.Code,
		"message":  body.Message,
		"category": body.Category,
		"action":   body.Action,
	}
}

const toastBody = `{"name":"Toast","category":"eggsAndBreakfast","directions":"Toast it",` +
	`"isPublished":true,"publishDate":1700000000,"ingredients":["bread"],"imageUrl":"http://x/y.png"}`

// --- CreateRecipe ---

func TestCreateRecipe_Success(t *testing.T) {
	var got *recipe.Candidate
	svc := &mockRecipeService{
		createFn: func(ctx context.Context, c *recipe.Candidate) (string, error) {
			got = c
			return "recipe-1", nil
		},
	}
	h := NewRecipeHandler(svc, nil)

	req := httptest.NewRequest(http.MethodPost, "/recipes", strings.NewReader(toastBody))
	req = withIdentity(req, "user-1")
	w := httptest.NewRecorder()

	h.CreateRecipe(w, req)

	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusCreated)
	}
	var resp map[string]string
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp["id"] != "recipe-1" {
		t.Errorf("id = %q, want recipe-1", resp["id"])
	}
	if got == nil || string(got.Name) != `"Toast"` {
		t.Errorf("candidate name = %v", got)
	}
}

func TestCreateRecipe_NonObjectBody(t *testing.T) {
	bodies := []string{``, `[]`, `"toast"`, `42`, `{broken`}

	for _, body := range bodies {
		t.Run(body, func(t *testing.T) {
			svc := &mockRecipeService{
				createFn: func(ctx context.Context, c *recipe.Candidate) (string, error) {
					t.Fatal("service must not be called")
					return "", nil
				},
			}
			h := NewRecipeHandler(svc, nil)

			req := httptest.NewRequest(http.MethodPost, "/recipes", strings.NewReader(body))
			w := httptest.NewRecorder()
			h.CreateRecipe(w, req)

			if w.Code != http.StatusBadRequest {
				t.Fatalf("status = %d, want %d", w.Code, http.StatusBadRequest)
			}
			if code := parseAPIErrorResponse(t, w)["code"]; code != model.ErrCodeInvalidRequest {
				t.Errorf("code = %q, want %q", code, model.ErrCodeInvalidRequest)
			}
		})
	}
}

func TestCreateRecipe_NullBodyPassesNilCandidate(t *testing.T) {
	called := false
	svc := &mockRecipeService{
		createFn: func(ctx context.Context, c *recipe.Candidate) (string, error) {
			called = true
			if c != nil {
				t.Errorf("candidate = %+v, want nil", c)
			}
			return "", model.NewValidationFailedError([]string{"recipe"})
		},
	}
	h := NewRecipeHandler(svc, nil)

	req := httptest.NewRequest(http.MethodPost, "/recipes", strings.NewReader(`null`))
	w := httptest.NewRecorder()
	h.CreateRecipe(w, req)

	if !called {
		t.Fatal("service was not called")
	}
	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", w.Code, http.StatusBadRequest)
	}
}

func TestCreateRecipe_ServiceErrors(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   string
	}{
		{"検証エラー", model.NewValidationFailedError([]string{"imageUrl"}), http.StatusBadRequest, model.ErrCodeValidationFailed},
		{"ストアエラー", model.NewStoreFailureError(errors.New("disk full")), http.StatusBadRequest, model.ErrCodeStoreFailure},
		{"想定外エラー", errors.New("boom"), http.StatusInternalServerError, model.ErrCodeInternal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := &mockRecipeService{
				createFn: func(ctx context.Context, c *recipe.Candidate) (string, error) {
					return "", tt.err
				},
			}
			h := NewRecipeHandler(svc, nil)

			req := httptest.NewRequest(http.MethodPost, "/recipes", strings.NewReader(toastBody))
			w := httptest.NewRecorder()
			h.CreateRecipe(w, req)

			if w.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", w.Code, tt.wantStatus)
			}
			if code := parseAPIErrorResponse(t, w)["code"]; code != tt.wantCode {
				t.Errorf("code = %q, want %q", code, tt.wantCode)
			}
		})
	}
}

// --- ListRecipes ---

func TestListRecipes_PassesQueryAndIdentity(t *testing.T) {
	var gotIdentity *model.Identity
	var gotParams recipe.ListParams
	svc := &mockRecipeService{
		listFn: func(ctx context.Context, identity *model.Identity, p recipe.ListParams) (*recipe.ListResult, error) {
			gotIdentity = identity
			gotParams = p
			return &recipe.ListResult{}, nil
		},
	}
	h := NewRecipeHandler(svc, nil)

	req := httptest.NewRequest(http.MethodGet,
		"/recipes?category=vegetables&orderByField=publishDate&orderByDirection=desc&perPage=2&pageNumber=2&cursorId=c1", nil)
	req = withIdentity(req, "user-1")
	w := httptest.NewRecorder()
	h.ListRecipes(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	if gotIdentity == nil || gotIdentity.Subject != "user-1" {
		t.Errorf("identity = %+v", gotIdentity)
	}
	want := recipe.ListParams{
		Category:         "vegetables",
		OrderByField:     "publishDate",
		OrderByDirection: "desc",
		PerPage:          "2",
		PageNumber:       "2",
		CursorID:         "c1",
	}
	if gotParams != want {
		t.Errorf("params = %+v, want %+v", gotParams, want)
	}
}

func TestListRecipes_AnonymousGetsNilIdentity(t *testing.T) {
	svc := &mockRecipeService{
		listFn: func(ctx context.Context, identity *model.Identity, p recipe.ListParams) (*recipe.ListResult, error) {
			if identity != nil {
				t.Errorf("identity = %+v, want nil", identity)
			}
			return &recipe.ListResult{}, nil
		},
	}
	h := NewRecipeHandler(svc, nil)

	req := httptest.NewRequest(http.MethodGet, "/recipes", nil)
	w := httptest.NewRecorder()
	h.ListRecipes(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
}

func TestListRecipes_ResponseShape(t *testing.T) {
	svc := &mockRecipeService{
		listFn: func(ctx context.Context, identity *model.Identity, p recipe.ListParams) (*recipe.ListResult, error) {
			return &recipe.ListResult{
				RecipeCount: 7,
				Recipes: []*model.Recipe{{
					ID:          "r1",
					Name:        "Toast",
					Category:    model.CategoryEggsAndBreakfast,
					Directions:  "Toast it",
					Ingredients: []string{"bread"},
					IsPublished: true,
					PublishDate: time.UnixMilli(1700000000500).UTC(),
					ImageURL:    "http://x/y.png",
				}},
			}, nil
		},
	}
	h := NewRecipeHandler(svc, nil)

	req := httptest.NewRequest(http.MethodGet, "/recipes", nil)
	w := httptest.NewRecorder()
	h.ListRecipes(w, req)

	if ct := w.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q", ct)
	}

	var resp struct {
		RecipeCount int64            `json:"recipeCount"`
		Documents   []map[string]any `json:"documents"`
	}
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.RecipeCount != 7 {
		t.Errorf("recipeCount = %d, want 7", resp.RecipeCount)
	}
	if len(resp.Documents) != 1 {
		t.Fatalf("documents = %d, want 1", len(resp.Documents))
	}
	doc := resp.Documents[0]
	if doc["publishDate"] != float64(1700000000) {
		t.Errorf("publishDate = %v, want 1700000000", doc["publishDate"])
	}
	for _, key := range []string{"id", "name", "category", "directions", "ingredients", "isPublished", "imageUrl"} {
		if _, ok := doc[key]; !ok {
			t.Errorf("document missing %q", key)
		}
	}
	if len(doc) != 8 {
		t.Errorf("document has %d keys, want 8: %v", len(doc), doc)
	}
}

func TestListRecipes_EmptyDocumentsIsArray(t *testing.T) {
	h := NewRecipeHandler(&mockRecipeService{}, nil)

	req := httptest.NewRequest(http.MethodGet, "/recipes", nil)
	w := httptest.NewRecorder()
	h.ListRecipes(w, req)

	if !strings.Contains(w.Body.String(), `"documents":[]`) {
		t.Errorf("body = %s, want empty documents array", w.Body.String())
	}
}

func TestListRecipes_InvalidQuery(t *testing.T) {
	svc := &mockRecipeService{
		listFn: func(ctx context.Context, identity *model.Identity, p recipe.ListParams) (*recipe.ListResult, error) {
			return nil, model.NewInvalidQueryError("perPage は正の整数です: abc")
		},
	}
	h := NewRecipeHandler(svc, nil)

	req := httptest.NewRequest(http.MethodGet, "/recipes?perPage=abc", nil)
	w := httptest.NewRecorder()
	h.ListRecipes(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", w.Code, http.StatusBadRequest)
	}
	if code := parseAPIErrorResponse(t, w)["code"]; code != model.ErrCodeInvalidQuery {
		t.Errorf("code = %q", code)
	}
}

// --- UpdateRecipe ---

func TestUpdateRecipe_UsesURLParam(t *testing.T) {
	var gotID string
	svc := &mockRecipeService{
		updateFn: func(ctx context.Context, id string, c *recipe.Candidate) (string, error) {
			gotID = id
			return id, nil
		},
	}
	h := NewRecipeHandler(svc, nil)

	req := httptest.NewRequest(http.MethodPut, "/recipes/abc", strings.NewReader(toastBody))
	req = withChiURLParam(req, "id", "abc")
	w := httptest.NewRecorder()
	h.UpdateRecipe(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	if gotID != "abc" {
		t.Errorf("id = %q, want abc", gotID)
	}
	var resp map[string]string
	json.NewDecoder(w.Body).Decode(&resp)
	if resp["id"] != "abc" {
		t.Errorf("response id = %q", resp["id"])
	}
}

// --- DeleteRecipe ---

func TestDeleteRecipe_EmptyBody(t *testing.T) {
	var gotID string
	svc := &mockRecipeService{
		deleteFn: func(ctx context.Context, id string) error {
			gotID = id
			return nil
		},
	}
	h := NewRecipeHandler(svc, nil)

	req := httptest.NewRequest(http.MethodDelete, "/recipes/abc", nil)
	req = withChiURLParam(req, "id", "abc")
	w := httptest.NewRecorder()
	h.DeleteRecipe(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", w.Code, http.StatusOK)
	}
	if w.Body.Len() != 0 {
		t.Errorf("body = %q, want empty", w.Body.String())
	}
	if gotID != "abc" {
		t.Errorf("id = %q", gotID)
	}
}

func TestDeleteRecipe_StoreFailure(t *testing.T) {
	svc := &mockRecipeService{
		deleteFn: func(ctx context.Context, id string) error {
			return model.NewStoreFailureError(errors.New("connection reset"))
		},
	}
	h := NewRecipeHandler(svc, nil)

	req := httptest.NewRequest(http.MethodDelete, "/recipes/abc", nil)
	req = withChiURLParam(req, "id", "abc")
	w := httptest.NewRecorder()
	h.DeleteRecipe(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", w.Code, http.StatusBadRequest)
	}
	if msg := parseAPIErrorResponse(t, w)["message"]; msg != "connection reset" {
		t.Errorf("message = %q, want store message passed through", msg)
	}
}

// --- mapAPIErrorToHTTPStatus ---

func TestMapAPIErrorToHTTPStatus(t *testing.T) {
	tests := []struct {
		code string
		want int
	}{
		{model.ErrCodeAuthMissing, http.StatusUnauthorized},
		{model.ErrCodeAuthInvalid, http.StatusUnauthorized},
		{model.ErrCodeInvalidRequest, http.StatusBadRequest},
		{model.ErrCodeValidationFailed, http.StatusBadRequest},
		{model.ErrCodeInvalidQuery, http.StatusBadRequest},
		{model.ErrCodeStoreFailure, http.StatusBadRequest},
		{model.ErrCodeInvalidImageURL, http.StatusBadRequest},
		{model.ErrCodeStorageUnavailable, http.StatusServiceUnavailable},
		{model.ErrCodeRateLimited, http.StatusTooManyRequests},
		{model.ErrCodeInternal, http.StatusInternalServerError},
		{"UNKNOWN", http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			if got := mapAPIErrorToHTTPStatus(&model.APIError{Code: tt.code}); got != tt.want {
				t.Errorf("status = %d, want %d", got, tt.want)
			}
		})
	}
}
