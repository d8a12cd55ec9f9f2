package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/hitoshi/recipebox/internal/metrics"
	"github.com/hitoshi/recipebox/internal/model"
	"github.com/hitoshi/recipebox/internal/storage"
)

// UploadServiceInterface は画像アップロードハンドラーが必要とするインターフェース。
// storage.ImageStoreが実装する。
type UploadServiceInterface interface {
	PresignUpload(ctx context.Context, contentType string) (*storage.Upload, error)
	DeleteByURL(ctx context.Context, rawURL string) error
}

// UploadHandler は画像アップロードのHTTPハンドラー。
// serviceがnilの場合はストレージ未設定として503を返す。
type UploadHandler struct {
	service UploadServiceInterface
	metrics metrics.MetricsCollector
}

// NewUploadHandler はUploadHandlerを生成する。
func NewUploadHandler(service UploadServiceInterface, collector metrics.MetricsCollector) *UploadHandler {
	if collector == nil {
		collector = metrics.NopCollector{}
	}
	return &UploadHandler{
		service: service,
		metrics: collector,
	}
}

type createUploadRequest struct {
	ContentType string `json:"contentType"`
}

type uploadResponse struct {
	Key       string    `json:"key"`
	UploadURL string    `json:"uploadUrl"`
	ImageURL  string    `json:"imageUrl"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// CreateUpload は署名付きアップロードURLを発行する。ボディは省略できる。
// POST /uploads
func (h *UploadHandler) CreateUpload(w http.ResponseWriter, r *http.Request) {
	if h.service == nil {
		handleServiceError(w, model.NewStorageUnavailableError())
		return
	}

	var req createUploadRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 4096)).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		handleServiceError(w, model.NewInvalidRequestError(err.Error()))
		return
	}

	up, err := h.service.PresignUpload(r.Context(), req.ContentType)
	if err != nil {
		handleServiceError(w, toUploadError(err, ""))
		return
	}
	h.metrics.RecordUploadPresigned()

	writeJSON(w, http.StatusCreated, uploadResponse{
		Key:       up.Key,
		UploadURL: up.UploadURL,
		ImageURL:  up.ImageURL,
		ExpiresAt: up.ExpiresAt.UTC(),
	})
}

// DeleteUpload はアップロード済みの画像を削除する。
// DELETE /uploads?url=<imageUrl>
func (h *UploadHandler) DeleteUpload(w http.ResponseWriter, r *http.Request) {
	if h.service == nil {
		handleServiceError(w, model.NewStorageUnavailableError())
		return
	}

	rawURL := r.URL.Query().Get("url")
	if rawURL == "" {
		handleServiceError(w, model.NewInvalidImageURLError(rawURL))
		return
	}

	if err := h.service.DeleteByURL(r.Context(), rawURL); err != nil {
		handleServiceError(w, toUploadError(err, rawURL))
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// toUploadError はストレージのエラーをAPIErrorに変換する。
func toUploadError(err error, rawURL string) error {
	switch {
	case errors.Is(err, storage.ErrForeignURL):
		return model.NewInvalidImageURLError(rawURL)
	case errors.Is(err, storage.ErrUnsupportedContentType):
		return model.NewInvalidRequestError(err.Error())
	default:
		return model.NewStoreFailureError(err)
	}
}
