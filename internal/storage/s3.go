// Package storage はレシピ画像を置くS3互換オブジェクトストレージを扱う。
// クライアントは署名付きURLへ直接PUTするため、サーバーは認証情報を渡さない。
package storage

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"
)

var (
	// ErrForeignURL は削除対象URLがこのバケットのオブジェクトを指していない場合のエラー。
	ErrForeignURL = errors.New("url does not point into the image bucket")
	// ErrUnsupportedContentType は画像以外のContent-Typeが指定された場合のエラー。
	ErrUnsupportedContentType = errors.New("content type must be image/*")
)

// テストで差し替える
var (
	loadDefaultAWSConfig  = config.LoadDefaultConfig
	newS3ClientFromConfig = s3.NewFromConfig
)

// Config はオブジェクトストレージの接続設定。
type Config struct {
	Bucket        string
	Region        string
	BaseEndpoint  string // MinIOなどS3互換サービスのエンドポイント。空ならAWS
	AccessKey     string
	SecretKey     string
	PublicBaseURL string // 画像の公開URLのベース。空ならエンドポイントから組み立てる
	BasePath      string
	URLTTL        time.Duration
}

// Presigner は署名付きPUTリクエストを生成する。*s3.PresignClientが実装する。
type Presigner interface {
	PresignPutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error)
}

// ObjectDeleter はオブジェクトを削除する。*s3.Clientが実装する。
type ObjectDeleter interface {
	DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
}

// Upload は発行した署名付きアップロードの情報。
type Upload struct {
	Key       string
	UploadURL string
	ImageURL  string
	ExpiresAt time.Time
}

// ImageStore はレシピ画像のアップロードURL発行と削除を行う。
type ImageStore struct {
	presigner  Presigner
	deleter    ObjectDeleter
	bucket     string
	basePath   string
	publicBase string
	ttl        time.Duration
	now        func() time.Time
}

// New は設定からS3クライアントを構築してImageStoreを返す。
func New(ctx context.Context, cfg Config) (*ImageStore, error) {
	if cfg.Bucket == "" {
		return nil, errors.New("bucket is required")
	}

	opts := []func(*config.LoadOptions) error{
		config.WithRegion(cfg.Region),
	}
	if cfg.AccessKey != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		))
	}

	awsCfg, err := loadDefaultAWSConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("AWS設定の読み込みに失敗しました: %w", err)
	}

	client := newS3ClientFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.BaseEndpoint != "" {
			o.BaseEndpoint = aws.String(cfg.BaseEndpoint)
			o.UsePathStyle = true
		}
	})

	return NewImageStore(s3.NewPresignClient(client), client, cfg), nil
}

// NewImageStore は与えられたクライアントでImageStoreを生成する。
func NewImageStore(presigner Presigner, deleter ObjectDeleter, cfg Config) *ImageStore {
	ttl := cfg.URLTTL
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}
	return &ImageStore{
		presigner:  presigner,
		deleter:    deleter,
		bucket:     cfg.Bucket,
		basePath:   strings.Trim(cfg.BasePath, "/"),
		publicBase: publicBaseURL(cfg),
		ttl:        ttl,
		now:        time.Now,
	}
}

// PresignUpload は新しいオブジェクトキーを採番し、署名付きPUT URLを返す。
// contentTypeが空でなければimage/*でなければならない。
func (s *ImageStore) PresignUpload(ctx context.Context, contentType string) (*Upload, error) {
	if contentType != "" && !strings.HasPrefix(contentType, "image/") {
		return nil, ErrUnsupportedContentType
	}

	key := s.newKey()
	input := &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	}
	if contentType != "" {
		input.ContentType = aws.String(contentType)
	}

	req, err := s.presigner.PresignPutObject(ctx, input, s3.WithPresignExpires(s.ttl))
	if err != nil {
		return nil, fmt.Errorf("署名付きURLの生成に失敗しました: %w", err)
	}

	return &Upload{
		Key:       key,
		UploadURL: req.URL,
		ImageURL:  s.publicBase + "/" + key,
		ExpiresAt: s.now().Add(s.ttl),
	}, nil
}

// DeleteByURL は公開URLからキーを取り出してオブジェクトを削除する。
// 存在しないオブジェクトの削除も成功とする。
func (s *ImageStore) DeleteByURL(ctx context.Context, rawURL string) error {
	key, err := s.KeyFromURL(rawURL)
	if err != nil {
		return err
	}

	_, err = s.deleter.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("画像の削除に失敗しました: %w", err)
	}
	return nil
}

// KeyFromURL は公開URLに対応するオブジェクトキーを返す。
// 公開ベースURL配下でない、またはアップロード用プレフィックス外のURLはErrForeignURL。
func (s *ImageStore) KeyFromURL(rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", ErrForeignURL
	}
	base, err := url.Parse(s.publicBase)
	if err != nil {
		return "", ErrForeignURL
	}
	if u.Scheme != base.Scheme || u.Host != base.Host {
		return "", ErrForeignURL
	}

	prefix := strings.TrimSuffix(base.Path, "/") + "/"
	if !strings.HasPrefix(u.Path, prefix) {
		return "", ErrForeignURL
	}
	key := strings.TrimPrefix(u.Path, prefix)

	if s.basePath != "" && !strings.HasPrefix(key, s.basePath+"/") {
		return "", ErrForeignURL
	}
	if key == "" || strings.Contains(key, "..") {
		return "", ErrForeignURL
	}
	return key, nil
}

func (s *ImageStore) newKey() string {
	if s.basePath == "" {
		return uuid.NewString()
	}
	return s.basePath + "/" + uuid.NewString()
}

// publicBaseURL は画像の公開URLのベースを決める。
// エンドポイント指定時はパススタイル、それ以外は仮想ホストスタイル。
func publicBaseURL(cfg Config) string {
	if cfg.PublicBaseURL != "" {
		return strings.TrimSuffix(cfg.PublicBaseURL, "/")
	}
	if cfg.BaseEndpoint != "" {
		return strings.TrimSuffix(cfg.BaseEndpoint, "/") + "/" + cfg.Bucket
	}
	return fmt.Sprintf("https://%s.s3.%s.amazonaws.com", cfg.Bucket, cfg.Region)
}
