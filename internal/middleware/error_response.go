package middleware

import (
	"encoding/json"
	"net/http"

	"github.com/hitoshi/recipebox/internal/model"
)

// ErrorResponseBody はAPIエラーレスポンスの統一フォーマット。
// 検証エラーの場合のみfieldsに不正なフィールド名が入る。
type ErrorResponseBody struct {
	Code     string   `json:"code"`
	Message  string   `json:"message"`
	Category string   `json:"category"`
	Action   string   `json:"action"`
	Fields   []string `json:"fields,omitempty"`
}

// WriteErrorResponse はAPIErrorを統一フォーマットのJSONとして書き込む。
func WriteErrorResponse(w http.ResponseWriter, statusCode int, apiErr *model.APIError) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	body := ErrorResponseBody{
		Code:     apiErr.Code,
		Message:  apiErr.Message,
		Category: apiErr.Category,
		Action:   apiErr.Action,
	}
	if len(apiErr.Fields) > 0 {
		body.Fields = apiErr.Fields
	}
	json.NewEncoder(w).Encode(body)
}

// WriteInternalServerError は500を返す。原因はレスポンスに含めない。
func WriteInternalServerError(w http.ResponseWriter) {
	WriteErrorResponse(w, http.StatusInternalServerError, model.NewInternalError())
}
