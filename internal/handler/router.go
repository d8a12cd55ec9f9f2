package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/hitoshi/recipebox/internal/metrics"
	"github.com/hitoshi/recipebox/internal/middleware"
)

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	// ミドルウェア依存
	HealthChecker     HealthChecker
	Authenticator     middleware.Authenticator
	CORSAllowedOrigin string
	RateLimiter       *middleware.RateLimiter // nilならレート制限なし
	Logger            *slog.Logger            // nilならslog.Default()

	// メトリクス
	Metrics        metrics.MetricsCollector
	MetricsHandler http.Handler // nilなら/metricsを公開しない

	// レシピ
	RecipeService RecipeServiceInterface

	// 画像アップロード（ストレージ未設定ならnil）
	UploadService UploadServiceInterface
}

// NewRouter は全APIエンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	Logging → Recovery → SecurityHeaders → CORS → Auth(必須/任意) → RateLimit(General) → RateLimit(Write)
//
// GET /recipes は認証任意、それ以外のレシピ操作とアップロードは認証必須。
func NewRouter(deps *RouterDeps) http.Handler {
	r := chi.NewRouter()

	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	collector := deps.Metrics
	if collector == nil {
		collector = metrics.NopCollector{}
	}

	r.Use(middleware.NewLoggingMiddleware(logger, collector))
	r.Use(middleware.NewRecoveryMiddleware(logger))
	r.Use(middleware.NewSecurityHeadersMiddleware())
	r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))

	recipeHandler := NewRecipeHandler(deps.RecipeService, collector)
	uploadHandler := NewUploadHandler(deps.UploadService, collector)

	requireAuth := middleware.NewAuthMiddleware(deps.Authenticator, collector)
	optionalAuth := middleware.NewOptionalAuthMiddleware(deps.Authenticator)
	general, write := passThrough, passThrough
	if deps.RateLimiter != nil {
		general = deps.RateLimiter.GeneralMiddleware()
		write = deps.RateLimiter.WriteMiddleware()
	}

	// --- 認証不要のルート ---
	r.Get("/health", NewHealthHandler(deps.HealthChecker))
	if deps.MetricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", deps.MetricsHandler)
	}

	// --- 認証任意のルート ---
	r.With(optionalAuth, general).Get("/recipes", recipeHandler.ListRecipes)

	// --- 認証が必要なルート ---
	r.Group(func(r chi.Router) {
		r.Use(requireAuth)
		r.Use(general)
		r.Use(write)

		r.Post("/recipes", recipeHandler.CreateRecipe)
		r.Put("/recipes/{id}", recipeHandler.UpdateRecipe)
		r.Delete("/recipes/{id}", recipeHandler.DeleteRecipe)

		r.Post("/uploads", uploadHandler.CreateUpload)
		r.Delete("/uploads", uploadHandler.DeleteUpload)
	})

	return r
}

func passThrough(next http.Handler) http.Handler {
	return next
}
