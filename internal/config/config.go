package config

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"

	"github.com/hitoshi/recipebox/internal/database"
)

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Database
	DatabaseURL       string        `envconfig:"DATABASE_URL" required:"true"`
	DBMaxOpenConns    int           `envconfig:"DB_MAX_OPEN_CONNS" default:"10"`
	DBMaxIdleConns    int           `envconfig:"DB_MAX_IDLE_CONNS" default:"5"`
	DBConnMaxLifetime time.Duration `envconfig:"DB_CONN_MAX_LIFETIME" default:"30m"`

	// Auth
	AuthJWTSecret string `envconfig:"AUTH_JWT_SECRET" required:"true"`
	AuthIssuer    string `envconfig:"AUTH_ISSUER"`
	AuthAudience  string `envconfig:"AUTH_AUDIENCE"`

	// Server
	ServerPort string `envconfig:"SERVER_PORT" default:"8080"`

	// CORS
	CORSAllowedOrigin string `envconfig:"CORS_ALLOWED_ORIGIN" default:"http://localhost:3000"`

	// Rate Limit（req/min）
	RateLimitGeneral int `envconfig:"RATE_LIMIT_GENERAL" default:"120"`
	RateLimitWrite   int `envconfig:"RATE_LIMIT_WRITE" default:"30"`

	// Pagination
	MaxPerPage int `envconfig:"MAX_PER_PAGE" default:"100"`

	// Object Storage
	S3Bucket        string        `envconfig:"S3_BUCKET"`
	S3Region        string        `envconfig:"S3_REGION" default:"us-east-1"`
	S3BaseEndpoint  string        `envconfig:"S3_BASE_ENDPOINT"`
	S3AccessKey     string        `envconfig:"S3_ACCESS_KEY"`
	S3SecretKey     string        `envconfig:"S3_SECRET_KEY"`
	S3PublicBaseURL string        `envconfig:"S3_PUBLIC_BASE_URL"`
	UploadURLTTL    time.Duration `envconfig:"UPLOAD_URL_TTL" default:"15m"`
	UploadBasePath  string        `envconfig:"UPLOAD_BASE_PATH" default:"recipes"`

	// Worker
	RecountInterval   time.Duration `envconfig:"RECOUNT_INTERVAL" default:"1h"`
	WorkerMetricsPort string        `envconfig:"WORKER_METRICS_PORT" default:"9090"`

	// Logging
	LogLevel string `envconfig:"LOG_LEVEL" default:"info"`
}

// Load は環境変数からConfigを読み込む。
// 必須環境変数が未設定または空の場合はエラーを返す。
func Load() (*Config, error) {
	cfg := &Config{}
	if err := envconfig.Process("", cfg); err != nil {
		return nil, fmt.Errorf("failed to parse environment: %w", err)
	}

	// envconfigは空文字列を設定済みとみなすため、必須項目は改めて確認する
	var missing []string
	if cfg.DatabaseURL == "" {
		missing = append(missing, "DATABASE_URL")
	}
	if cfg.AuthJWTSecret == "" {
		missing = append(missing, "AUTH_JWT_SECRET")
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("required environment variables are not set: %v", missing)
	}

	// 0以下はリミッターやティッカーを壊すため起動時に弾く
	var nonPositive []string
	if cfg.MaxPerPage <= 0 {
		nonPositive = append(nonPositive, "MAX_PER_PAGE")
	}
	if cfg.RateLimitGeneral <= 0 {
		nonPositive = append(nonPositive, "RATE_LIMIT_GENERAL")
	}
	if cfg.RateLimitWrite <= 0 {
		nonPositive = append(nonPositive, "RATE_LIMIT_WRITE")
	}
	if cfg.UploadURLTTL <= 0 {
		nonPositive = append(nonPositive, "UPLOAD_URL_TTL")
	}
	if cfg.RecountInterval <= 0 {
		nonPositive = append(nonPositive, "RECOUNT_INTERVAL")
	}
	if len(nonPositive) > 0 {
		return nil, fmt.Errorf("environment variables must be positive: %v", nonPositive)
	}

	return cfg, nil
}

// DBPool はコネクションプールの設定を返す。
func (c *Config) DBPool() database.PoolConfig {
	return database.PoolConfig{
		MaxOpenConns:    c.DBMaxOpenConns,
		MaxIdleConns:    c.DBMaxIdleConns,
		ConnMaxLifetime: c.DBConnMaxLifetime,
	}
}

// StorageEnabled は画像アップロード用のオブジェクトストレージが設定済みかを返す。
func (c *Config) StorageEnabled() bool {
	return c.S3Bucket != ""
}
