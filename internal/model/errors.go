// Package model はドメインモデルを定義する。
package model

import (
	"fmt"
	"strings"
)

// APIError は統一エラーフォーマットを表す。
// UIに表示する原因カテゴリと対処方法を含む。
type APIError struct {
	Code     string   // エラーコード
	Message  string   // エラーメッセージ
	Category string   // カテゴリ: auth, validation, recipe, storage, system
	Action   string   // ユーザー向け対処方法
	Fields   []string // 検証エラー時の不正フィールド
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// 定義済みエラーコード
const (
	ErrCodeAuthMissing        = "AUTH_MISSING"
	ErrCodeAuthInvalid        = "AUTH_INVALID"
	ErrCodeInvalidRequest     = "INVALID_REQUEST"
	ErrCodeValidationFailed   = "VALIDATION_FAILED"
	ErrCodeInvalidQuery       = "INVALID_QUERY"
	ErrCodeStoreFailure       = "STORE_FAILURE"
	ErrCodeInvalidImageURL    = "INVALID_IMAGE_URL"
	ErrCodeStorageUnavailable = "STORAGE_UNAVAILABLE"
	ErrCodeRateLimited        = "RATE_LIMITED"
	ErrCodeInternal           = "INTERNAL_ERROR"
)

// ErrAuthMissing はAuthorizationヘッダーが存在しない場合のエラー。
var ErrAuthMissing = &APIError{
	Code:     ErrCodeAuthMissing,
	Message:  "Missing Authorization Header",
	Category: "auth",
	Action:   "Authorization: Bearer <token> ヘッダーを付与してください。",
}

// NewAuthInvalidError はトークン検証失敗エラーを生成する。
// 検証プロバイダーのメッセージをそのまま保持する。
func NewAuthInvalidError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeAuthInvalid,
		Message:  reason,
		Category: "auth",
		Action:   "ログインし直して新しいトークンを取得してください。",
	}
}

// NewInvalidRequestError はリクエストボディの解析失敗エラーを生成する。
func NewInvalidRequestError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidRequest,
		Message:  fmt.Sprintf("リクエストボディの解析に失敗しました: %s", reason),
		Category: "validation",
		Action:   "正しいJSON形式でリクエストしてください。",
	}
}

// NewValidationFailedError はレシピの必須フィールド不足エラーを生成する。
// fieldsには不足・不正なフィールド名を検出順に渡す。
func NewValidationFailedError(fields []string) *APIError {
	return &APIError{
		Code:     ErrCodeValidationFailed,
		Message:  fmt.Sprintf("Recipe is not valid. Missing/invalid fields: %s", strings.Join(fields, ", ")),
		Category: "validation",
		Action:   "name, category, directions, isPublished, publishDate, ingredients, imageUrl をすべて指定してください。",
		Fields:   fields,
	}
}

// NewInvalidQueryError は一覧取得パラメータが不正な場合のエラーを生成する。
func NewInvalidQueryError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidQuery,
		Message:  fmt.Sprintf("無効なクエリです: %s", reason),
		Category: "validation",
		Action:   "category, orderByField, orderByDirection, perPage, pageNumber, cursorId の値を確認してください。",
	}
}

// NewStoreFailureError は永続化失敗エラーを生成する。
// 下位層のメッセージをそのまま返す。
func NewStoreFailureError(err error) *APIError {
	return &APIError{
		Code:     ErrCodeStoreFailure,
		Message:  err.Error(),
		Category: "recipe",
		Action:   "しばらく待ってから再度お試しください。",
	}
}

// NewInvalidImageURLError は削除対象の画像URLがバケット外を指す場合のエラーを生成する。
func NewInvalidImageURLError(rawURL string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidImageURL,
		Message:  fmt.Sprintf("画像URLがストレージのものではありません: %s", rawURL),
		Category: "storage",
		Action:   "アップロード時に返されたimageUrlを指定してください。",
	}
}

// NewStorageUnavailableError はオブジェクトストレージが未設定の場合のエラーを生成する。
func NewStorageUnavailableError() *APIError {
	return &APIError{
		Code:     ErrCodeStorageUnavailable,
		Message:  "画像ストレージが設定されていません。",
		Category: "storage",
		Action:   "管理者に問い合わせてください。",
	}
}

// NewInternalError は内部エラーを生成する。
func NewInternalError() *APIError {
	return &APIError{
		Code:     ErrCodeInternal,
		Message:  "内部エラーが発生しました。",
		Category: "system",
		Action:   "しばらく待ってから再度お試しください。",
	}
}
