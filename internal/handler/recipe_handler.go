package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/hitoshi/recipebox/internal/metrics"
	"github.com/hitoshi/recipebox/internal/middleware"
	"github.com/hitoshi/recipebox/internal/model"
	"github.com/hitoshi/recipebox/internal/recipe"
)

// maxRecipeBodyBytes はレシピのリクエストボディの上限。
const maxRecipeBodyBytes = 1 << 20

// RecipeServiceInterface はレシピハンドラーが必要とするサービスインターフェース。
// recipe.Serviceが実装する。
type RecipeServiceInterface interface {
	// Create はレシピを検証して保存し、IDを返す。
	Create(ctx context.Context, c *recipe.Candidate) (string, error)
	// List は条件に一致するレシピと件数を返す。identityがnilなら匿名。
	List(ctx context.Context, identity *model.Identity, p recipe.ListParams) (*recipe.ListResult, error)
	// Update は指定IDのレシピを上書きする。
	Update(ctx context.Context, id string, c *recipe.Candidate) (string, error)
	// Delete は指定IDのレシピを削除する。
	Delete(ctx context.Context, id string) error
}

// RecipeHandler はレシピAPIのHTTPハンドラー。
type RecipeHandler struct {
	service RecipeServiceInterface
	metrics metrics.MetricsCollector
}

// NewRecipeHandler はRecipeHandlerを生成する。collectorはnilでもよい。
func NewRecipeHandler(service RecipeServiceInterface, collector metrics.MetricsCollector) *RecipeHandler {
	if collector == nil {
		collector = metrics.NopCollector{}
	}
	return &RecipeHandler{
		service: service,
		metrics: collector,
	}
}

// recipeResponse はレシピのAPIレスポンス。publishDateはエポック秒。
type recipeResponse struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Category    string   `json:"category"`
	Directions  string   `json:"directions"`
	Ingredients []string `json:"ingredients"`
	IsPublished bool     `json:"isPublished"`
	PublishDate int64    `json:"publishDate"`
	ImageURL    string   `json:"imageUrl"`
}

// listRecipesResponse はレシピ一覧のAPIレスポンス。
type listRecipesResponse struct {
	RecipeCount int64            `json:"recipeCount"`
	Documents   []recipeResponse `json:"documents"`
}

// idResponse は作成・更新したレシピのIDを返すレスポンス。
type idResponse struct {
	ID string `json:"id"`
}

// CreateRecipe はレシピを作成する。
// POST /recipes
func (h *RecipeHandler) CreateRecipe(w http.ResponseWriter, r *http.Request) {
	c, err := decodeCandidate(w, r)
	if err != nil {
		h.metrics.RecordRecipeOperation(metrics.OperationCreate, false)
		handleServiceError(w, err)
		return
	}

	id, err := h.service.Create(r.Context(), c)
	h.metrics.RecordRecipeOperation(metrics.OperationCreate, err == nil)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, idResponse{ID: id})
}

// ListRecipes はレシピの一覧を返す。認証は任意。
// GET /recipes
func (h *RecipeHandler) ListRecipes(w http.ResponseWriter, r *http.Request) {
	identity, _ := middleware.IdentityFromContext(r.Context())

	q := r.URL.Query()
	params := recipe.ListParams{
		Category:         q.Get("category"),
		OrderByField:     q.Get("orderByField"),
		OrderByDirection: q.Get("orderByDirection"),
		PerPage:          q.Get("perPage"),
		PageNumber:       q.Get("pageNumber"),
		CursorID:         q.Get("cursorId"),
	}

	result, err := h.service.List(r.Context(), identity, params)
	h.metrics.RecordRecipeOperation(metrics.OperationList, err == nil)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	docs := make([]recipeResponse, len(result.Recipes))
	for i, rec := range result.Recipes {
		docs[i] = toRecipeResponse(rec)
	}

	writeJSON(w, http.StatusOK, listRecipesResponse{
		RecipeCount: result.RecipeCount,
		Documents:   docs,
	})
}

// UpdateRecipe はレシピを上書きする。
// PUT /recipes/{id}
func (h *RecipeHandler) UpdateRecipe(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	c, err := decodeCandidate(w, r)
	if err != nil {
		h.metrics.RecordRecipeOperation(metrics.OperationUpdate, false)
		handleServiceError(w, err)
		return
	}

	updatedID, err := h.service.Update(r.Context(), id, c)
	h.metrics.RecordRecipeOperation(metrics.OperationUpdate, err == nil)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, idResponse{ID: updatedID})
}

// DeleteRecipe はレシピを削除する。成功時は空のボディで200を返す。
// DELETE /recipes/{id}
func (h *RecipeHandler) DeleteRecipe(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	err := h.service.Delete(r.Context(), id)
	h.metrics.RecordRecipeOperation(metrics.OperationDelete, err == nil)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	w.WriteHeader(http.StatusOK)
}

// decodeCandidate はリクエストボディをCandidateにデコードする。
// ボディがJSONのnullならnilを返し、検証で"recipe"の不足として扱う。
// オブジェクト以外はINVALID_REQUESTとする。
func decodeCandidate(w http.ResponseWriter, r *http.Request) (*recipe.Candidate, error) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxRecipeBodyBytes))
	if err != nil {
		return nil, model.NewInvalidRequestError(err.Error())
	}

	trimmed := bytes.TrimSpace(body)
	if bytes.Equal(trimmed, []byte("null")) {
		return nil, nil
	}
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return nil, model.NewInvalidRequestError("ボディはJSONオブジェクトである必要があります")
	}

	var c recipe.Candidate
	if err := json.Unmarshal(trimmed, &c); err != nil {
		return nil, model.NewInvalidRequestError(err.Error())
	}
	return &c, nil
}

// toRecipeResponse はmodel.RecipeからAPIレスポンスに変換する。
func toRecipeResponse(r *model.Recipe) recipeResponse {
	ingredients := r.Ingredients
	if ingredients == nil {
		ingredients = []string{}
	}
	return recipeResponse{
		ID:          r.ID,
		Name:        r.Name,
		Category:    string(r.Category),
		Directions:  r.Directions,
		Ingredients: ingredients,
		IsPublished: r.IsPublished,
		PublishDate: r.PublishDate.Unix(),
		ImageURL:    r.ImageURL,
	}
}
