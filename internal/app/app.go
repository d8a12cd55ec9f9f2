package app

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/hitoshi/recipebox/internal/auth"
	"github.com/hitoshi/recipebox/internal/config"
	"github.com/hitoshi/recipebox/internal/database"
	"github.com/hitoshi/recipebox/internal/handler"
	"github.com/hitoshi/recipebox/internal/logger"
	"github.com/hitoshi/recipebox/internal/metrics"
	"github.com/hitoshi/recipebox/internal/middleware"
	"github.com/hitoshi/recipebox/internal/recipe"
	"github.com/hitoshi/recipebox/internal/repository"
	"github.com/hitoshi/recipebox/internal/security"
	"github.com/hitoshi/recipebox/internal/storage"
	"github.com/hitoshi/recipebox/internal/worker/recount"
)

// Init はアプリケーションの初期化を行う。
// 環境変数からConfigを読み込み、JSON構造化ログをセットアップする。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, error) {
	// 1. ログの初期化（設定読み込み前にログを使えるようにする）
	logger.SetupDefault(w, slog.String("service", "recipebox"))

	// 2. 環境変数から設定を読み込む
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	// 3. 設定に従ってログレベルを変更する
	if err := logger.SetLevel(cfg.LogLevel); err != nil {
		return nil, fmt.Errorf("invalid LOG_LEVEL: %w", err)
	}

	return cfg, nil
}

// Run はアプリケーションのメインエントリーポイント。
// コマンドライン引数からサブコマンドを解析し、対応するモードで起動する。
// argsにはos.Args[1:]を渡す。
func Run(w io.Writer, args []string) error {
	cmd := ParseCommand(args)

	// healthcheck は軽量サブコマンドのため、フル初期化をスキップする
	if cmd == CommandHealthcheck {
		port := os.Getenv("SERVER_PORT")
		if port == "" {
			port = "8080"
		}
		return runHealthcheck(port)
	}

	cfg, err := Init(w)
	if err != nil {
		return fmt.Errorf("initialization failed: %w", err)
	}

	if cmd == CommandToken {
		return runToken(cfg, args[1:], os.Stdout)
	}

	slog.Info("starting application",
		slog.String("command", string(cmd)),
		slog.String("port", cfg.ServerPort),
	)
	if len(args) > 0 {
		if _, ok := LookupCommand(args[0]); !ok {
			slog.Warn("unknown command, falling back to serve", slog.String("arg", args[0]))
		}
	}

	switch cmd {
	case CommandServe:
		return runServe(cfg)
	case CommandWorker:
		return runWorker(cfg)
	case CommandMigrate:
		return runMigrate(cfg)
	default:
		return runServe(cfg)
	}
}

// buildRouter はserveモードの依存関係を組み立ててルーターを返す。
// 戻り値のcleanupはレートリミッタのクリーンアップgoroutineを停止する。
func buildRouter(ctx context.Context, cfg *config.Config, db *sql.DB, checker handler.HealthChecker) (http.Handler, func(), error) {
	// 1. リポジトリの初期化
	recipeRepo := repository.NewPostgresRecipeRepo(db)
	countRepo := repository.NewPostgresRecipeCountRepo(db)

	// 2. ドメインサービスの初期化
	validator := recipe.NewValidator(security.NewTextSanitizer())
	recipeService := recipe.NewService(recipeRepo, countRepo, validator, cfg.MaxPerPage)

	// 3. 認証
	verifier := auth.NewJWTVerifier([]byte(cfg.AuthJWTSecret), cfg.AuthIssuer, cfg.AuthAudience)
	gateway := auth.NewGateway(verifier)

	// 4. メトリクス
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	collector := metrics.NewCollector(registry)

	// 5. レートリミッタ（configはreq/min単位）
	limiter := middleware.NewRateLimiter(
		middleware.NewRateLimiterConfig(cfg.RateLimitGeneral, cfg.RateLimitWrite),
	)

	deps := &handler.RouterDeps{
		HealthChecker:     checker,
		Authenticator:     gateway,
		CORSAllowedOrigin: cfg.CORSAllowedOrigin,
		RateLimiter:       limiter,
		Logger:            slog.Default(),

		Metrics:        collector,
		MetricsHandler: metrics.Handler(registry),

		RecipeService: recipeService,
	}

	// 6. 画像アップロード（バケット設定時のみ）
	if cfg.StorageEnabled() {
		store, err := storage.New(ctx, storage.Config{
			Bucket:        cfg.S3Bucket,
			Region:        cfg.S3Region,
			BaseEndpoint:  cfg.S3BaseEndpoint,
			AccessKey:     cfg.S3AccessKey,
			SecretKey:     cfg.S3SecretKey,
			PublicBaseURL: cfg.S3PublicBaseURL,
			BasePath:      cfg.UploadBasePath,
			URLTTL:        cfg.UploadURLTTL,
		})
		if err != nil {
			limiter.Stop()
			return nil, nil, fmt.Errorf("failed to initialize object storage: %w", err)
		}
		// 未設定時は型付きnilを入れずにインターフェースをnilのままにする
		deps.UploadService = store
		slog.Info("image uploads enabled", slog.String("bucket", cfg.S3Bucket))
	} else {
		slog.Info("image uploads disabled: S3_BUCKET is not set")
	}

	return handler.NewRouter(deps), limiter.Stop, nil
}

// openDB は接続プールを設定してDBを開き、疎通を確認する。
func openDB(cfg *config.Config) (*sql.DB, error) {
	db, err := database.OpenWithPool(cfg.DatabaseURL, cfg.DBPool())
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	return db, nil
}

// signalContext はSIGINTまたはSIGTERMでキャンセルされるcontextを返す。
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

// serveUntilDone はctxが終わるまでsrvを動かし、graceの範囲で停止を待つ。
// Listenに失敗した場合はctxを待たずにそのエラーを返す。
func serveUntilDone(ctx context.Context, srv *http.Server, grace time.Duration) error {
	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("listen %s: %w", srv.Addr, err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), grace)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}
	return nil
}

// runServe はAPIサーバーモードで起動する。
// SIGINTまたはSIGTERMを受けると処理中のリクエストを最大30秒待って停止する。
func runServe(cfg *config.Config) error {
	ctx, stop := signalContext()
	defer stop()

	// 1. DB接続
	db, err := openDB(cfg)
	if err != nil {
		return err
	}
	defer db.Close()
	slog.Info("database connection established")

	// 2. ルーターの構築
	router, stopLimiter, err := buildRouter(ctx, cfg, db, db)
	if err != nil {
		return err
	}
	defer stopLimiter()

	// 3. HTTPサーバーの起動
	server := &http.Server{
		Addr:              ":" + cfg.ServerPort,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	slog.Info("API server starting", slog.String("addr", server.Addr))

	if err := serveUntilDone(ctx, server, 30*time.Second); err != nil {
		return err
	}
	slog.Info("API server stopped gracefully")
	return nil
}

// runWorker はワーカーモードで起動する。
// 件数カウンタの再集計を定期実行し、結果を別ポートの/metricsで公開する。
func runWorker(cfg *config.Config) error {
	ctx, stop := signalContext()
	defer stop()

	db, err := openDB(cfg)
	if err != nil {
		return err
	}
	defer db.Close()
	slog.Info("database connection established", slog.String("mode", "worker"))

	registry := prometheus.NewRegistry()
	collector := metrics.NewCollector(registry)
	metricsServer := &http.Server{
		Addr:              ":" + cfg.WorkerMetricsPort,
		Handler:           metrics.SetupMetricsRoute(registry),
		ReadHeaderTimeout: 5 * time.Second,
	}
	metricsDone := make(chan error, 1)
	go func() { metricsDone <- serveUntilDone(ctx, metricsServer, 5*time.Second) }()

	job := recount.NewJob(db, repository.NewPostgresRecipeCountRepo(db), slog.Default(), collector)
	slog.Info("worker starting",
		slog.Duration("recount_interval", cfg.RecountInterval),
		slog.String("metrics_addr", metricsServer.Addr),
	)

	// ctxがキャンセルされるまでブロックする
	job.Start(ctx, cfg.RecountInterval)

	if err := <-metricsDone; err != nil {
		slog.Warn("metrics server stopped with error", slog.String("error", err.Error()))
	}
	slog.Info("worker stopped gracefully")
	return nil
}

// runMigrate はデータベースマイグレーションを実行する。
// すべての未適用マイグレーションを順番に適用する。
func runMigrate(cfg *config.Config) error {
	slog.Info("running database migrations",
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
	)

	st, err := database.RunMigrations(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	slog.Info("database migrations completed successfully",
		slog.Uint64("version", uint64(st.Version)),
	)
	return nil
}

// runToken は開発用に署名付きトークンを発行してoutに書き出す。
func runToken(cfg *config.Config, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("token", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	sub := fs.String("sub", "", "トークンのsubject")
	email := fs.String("email", "", "トークンのemailクレーム")
	ttl := fs.Duration("ttl", 24*time.Hour, "有効期間")
	if err := fs.Parse(args); err != nil {
		return fmt.Errorf("invalid token arguments: %w", err)
	}
	if *sub == "" {
		return errors.New("-sub is required")
	}

	verifier := auth.NewJWTVerifier([]byte(cfg.AuthJWTSecret), cfg.AuthIssuer, cfg.AuthAudience)
	token, err := verifier.Issue(*sub, *email, *ttl)
	if err != nil {
		return err
	}

	_, err = fmt.Fprintln(out, token)
	return err
}

// runHealthcheck は自プロセスの /health を叩き、200以外ならエラーを返す。
// distrolessイメージにはcurlが無いため、DockerのHEALTHCHECKから呼ぶ。
func runHealthcheck(port string) error {
	client := &http.Client{Timeout: 5 * time.Second}

	resp, err := client.Get("http://localhost:" + port + "/health")
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}
	return nil
}

// maskDatabaseURL はログ出力用にパスワードを伏せたURLを返す。解析できない場合は全体を伏せる。
func maskDatabaseURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return "***"
	}
	return u.Redacted()
}
