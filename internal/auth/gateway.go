// Package auth はベアラートークンによる呼び出し元の認証を提供する。
package auth

import (
	"context"
	"strings"

	"github.com/hitoshi/recipebox/internal/model"
)

// TokenVerifier はトークンを検証して呼び出し元を返すインターフェース。
// 外部の認証プロバイダーを差し替えられるようにする。
type TokenVerifier interface {
	Verify(ctx context.Context, token string) (*model.Identity, error)
}

// Gateway はAuthorizationヘッダーから呼び出し元を確定する。
type Gateway struct {
	verifier TokenVerifier
}

// NewGateway はGatewayを生成する。
func NewGateway(verifier TokenVerifier) *Gateway {
	return &Gateway{verifier: verifier}
}

// Authorize はAuthorizationヘッダーの値を検証する。
// ヘッダーが空の場合はmodel.ErrAuthMissing、検証に失敗した場合はAUTH_INVALIDを返す。
// トークンは空白区切りの2番目の要素で、スキーム名は検査しない。
func (g *Gateway) Authorize(ctx context.Context, header string) (*model.Identity, error) {
	if header == "" {
		return nil, model.ErrAuthMissing
	}

	identity, err := g.verifier.Verify(ctx, bearerToken(header))
	if err != nil {
		return nil, model.NewAuthInvalidError(err.Error())
	}
	return identity, nil
}

// bearerToken はヘッダー値の2番目の要素を返す。無ければ空文字列。
func bearerToken(header string) string {
	parts := strings.Split(header, " ")
	if len(parts) < 2 {
		return ""
	}
	return parts[1]
}
