// Package middleware はHTTPミドルウェアを提供する。
package middleware

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/hitoshi/recipebox/internal/model"
)

// contextKey はコンテキストに値を格納するための型安全なキー。
type contextKey string

// identityContextKey はリクエストコンテキストに認証済みの呼び出し元を格納するためのキー。
var identityContextKey = contextKey("identity")

// Authenticator はAuthorizationヘッダーの検証に必要なインターフェース。
// auth.Gatewayが実装する。
type Authenticator interface {
	Authorize(ctx context.Context, header string) (*model.Identity, error)
}

// AuthFailureRecorder は認証失敗をメトリクスに記録する。
type AuthFailureRecorder interface {
	RecordAuthFailure(code string)
}

// NewAuthMiddleware は認証必須のミドルウェアを返す。
// Authorizationヘッダーが無い、または検証に失敗した場合は401を返し、後続のハンドラーを呼ばない。
// recorderはnilでもよい。
func NewAuthMiddleware(auth Authenticator, recorder AuthFailureRecorder) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			identity, err := auth.Authorize(r.Context(), r.Header.Get("Authorization"))
			if err != nil {
				apiErr := toAuthError(err)
				if recorder != nil {
					recorder.RecordAuthFailure(apiErr.Code)
				}
				slog.Warn("authentication failed",
					slog.String("code", apiErr.Code),
					slog.String("method", r.Method),
					slog.String("path", r.URL.Path),
				)
				WriteErrorResponse(w, http.StatusUnauthorized, apiErr)
				return
			}

			next.ServeHTTP(w, r.WithContext(withIdentity(r.Context(), identity)))
		})
	}
}

// NewOptionalAuthMiddleware は認証任意のミドルウェアを返す。
// 検証に成功した場合のみ呼び出し元をコンテキストに注入し、失敗した場合は匿名として続行する。
func NewOptionalAuthMiddleware(auth Authenticator) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			if header == "" {
				next.ServeHTTP(w, r)
				return
			}

			identity, err := auth.Authorize(r.Context(), header)
			if err != nil {
				slog.Debug("treating request as anonymous",
					slog.String("error", err.Error()),
					slog.String("path", r.URL.Path),
				)
				next.ServeHTTP(w, r)
				return
			}

			next.ServeHTTP(w, r.WithContext(withIdentity(r.Context(), identity)))
		})
	}
}

// IdentityFromContext はリクエストコンテキストから認証済みの呼び出し元を取得する。
// 匿名リクエストではnilとfalseを返す。
func IdentityFromContext(ctx context.Context) (*model.Identity, bool) {
	identity, ok := ctx.Value(identityContextKey).(*model.Identity)
	if !ok || identity == nil {
		return nil, false
	}
	return identity, true
}

// ContextWithIdentity はコンテキストに呼び出し元を注入する。
// テストやミドルウェア以外のコンテキスト生成で使用する。
func ContextWithIdentity(ctx context.Context, identity *model.Identity) context.Context {
	return context.WithValue(ctx, identityContextKey, identity)
}

func withIdentity(ctx context.Context, identity *model.Identity) context.Context {
	recordSubject(ctx, identity.Subject)
	return ContextWithIdentity(ctx, identity)
}

func toAuthError(err error) *model.APIError {
	var apiErr *model.APIError
	if errors.As(err, &apiErr) {
		return apiErr
	}
	return model.NewAuthInvalidError(err.Error())
}
