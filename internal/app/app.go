package app

import (
	"context"
	"database/sql"
	"errors"
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

	"github.com/hitoshi/docquery/internal/auth"
	"github.com/hitoshi/docquery/internal/billing"
	"github.com/hitoshi/docquery/internal/config"
	"github.com/hitoshi/docquery/internal/database"
	"github.com/hitoshi/docquery/internal/gemini"
	"github.com/hitoshi/docquery/internal/handler"
	"github.com/hitoshi/docquery/internal/logger"
	"github.com/hitoshi/docquery/internal/metrics"
	"github.com/hitoshi/docquery/internal/middleware"
	"github.com/hitoshi/docquery/internal/query"
	"github.com/hitoshi/docquery/internal/quota"
	"github.com/hitoshi/docquery/internal/repository"
	"github.com/hitoshi/docquery/internal/worker/cleanup"
)

// Init はアプリケーションの初期化を行う。
// 環境変数からConfigを読み込み、JSON構造化ログをセットアップする。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, error) {
	// 1. ログの初期化（設定読み込み前にログを使えるようにする）
	logger.SetupDefault(w, slog.LevelInfo)

	// 2. 環境変数から設定を読み込む
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	// 3. 設定されたログレベルで再セットアップ
	logger.SetupDefault(w, logger.ParseLevel(cfg.LogLevel))

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

	slog.Info("starting application",
		slog.String("command", string(cmd)),
		slog.String("port", cfg.ServerPort),
		slog.String("quota_timezone", cfg.QuotaTimezone.String()),
	)

	switch cmd {
	case CommandWorker:
		return runWorker(cfg)
	case CommandMigrate:
		return runMigrate(cfg)
	default:
		return runServe(cfg)
	}
}

// openDB はDB接続を開き、疎通を確認する。
func openDB(ctx context.Context, cfg *config.Config, pool database.PoolConfig) (*sql.DB, error) {
	db, err := database.Connect(ctx, cfg.DatabaseURL, pool, 10*time.Second)
	if err != nil {
		return nil, err
	}

	slog.Info("database connection established",
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
	)
	return db, nil
}

// newRegistry はアプリケーションとランタイムのメトリクスを登録したレジストリを返す。
func newRegistry() (*prometheus.Registry, *metrics.Collector) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg, metrics.NewCollector(reg)
}

// buildRouter は設定と永続化層から全依存関係をワイヤリングしたルーターを構築する。
func buildRouter(cfg *config.Config, users repository.UserRepository, events repository.WebhookEventRepository,
	checker handler.HealthChecker, reg *prometheus.Registry, mc metrics.MetricsCollector, rl *middleware.RateLimiter,
) http.Handler {
	log := slog.Default()

	// 認証
	tokens := auth.NewTokenManager(cfg.JWTSecret, cfg.TokenTTL)
	hasher := auth.NewPasswordHasher(cfg.BcryptCost)
	authService := auth.NewService(users, tokens, hasher, mc, log)

	// 質問応答
	geminiClient := gemini.NewClient(&http.Client{Timeout: cfg.GeminiTimeout}, log, gemini.Config{
		APIKey:  cfg.GeminiAPIKey,
		Model:   cfg.GeminiModel,
		BaseURL: cfg.GeminiBaseURL,
	})
	tracker := quota.NewTracker(cfg.QuotaTimezone)
	queryService := query.NewService(geminiClient, users, tracker, cfg.DocumentMaxChars, mc, log)

	// 決済
	gateway := billing.NewStripeGateway(cfg.StripeSecretKey, cfg.StripeWebhookSecret, nil)
	billingService := billing.NewService(gateway, gateway, users, events, cfg.FrontendURL, mc, log)

	return handler.NewRouter(&handler.RouterDeps{
		Authenticator:     authService,
		CORSAllowedOrigin: cfg.CORSAllowedOrigin,
		RateLimiter:       rl,
		MaxRequestBytes:   cfg.MaxRequestBytes,
		Logger:            log,
		Metrics:           mc,

		HealthChecker:   checker,
		MetricsGatherer: reg,

		AuthService:    authService,
		QueryService:   queryService,
		BillingService: billingService,
	})
}

// minWriteTimeout はGEMINI_TIMEOUTを設定した場合のWriteTimeoutの下限。
const minWriteTimeout = 60 * time.Second

// serverWriteTimeout はGeminiのタイムアウトに合わせたWriteTimeoutを返す。
// GEMINI_TIMEOUTが0（無制限）なら書き込み期限も設けない。
// 設定時はGeminiの期限より15秒以上後に切れる。回数を加算した回答は必ず書き込めること。
func serverWriteTimeout(geminiTimeout time.Duration) time.Duration {
	if geminiTimeout <= 0 {
		return 0
	}
	return max(minWriteTimeout, geminiTimeout+15*time.Second)
}

// newHTTPServer はAPIサーバー用のhttp.Serverを組み立てる。
func newHTTPServer(cfg *config.Config, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              ":" + cfg.ServerPort,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      serverWriteTimeout(cfg.GeminiTimeout),
		IdleTimeout:       60 * time.Second,
	}
}

// runServe はAPIサーバーモードで起動する。
// DB接続を開き、全依存関係をワイヤリングし、HTTPサーバーを起動する。
// SIGINTまたはSIGTERMシグナルを受信するとグレースフルシャットダウンを行う。
func runServe(cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// 1. DB接続
	db, err := openDB(ctx, cfg, database.DefaultPoolConfig())
	if err != nil {
		return err
	}
	defer db.Close()

	// 2. リポジトリの初期化
	userRepo := repository.NewPostgresUserRepo(db)
	eventRepo := repository.NewPostgresWebhookEventRepo(db)

	// 3. メトリクスとレートリミッター
	reg, mc := newRegistry()
	rl := middleware.NewRateLimiter(middleware.NewRateLimiterConfig(cfg.RateLimitGeneral, cfg.RateLimitAuth))
	defer rl.Stop()

	// 4. ルーターの構築
	router := buildRouter(cfg, userRepo, eventRepo, db, reg, mc, rl)

	// 5. HTTPサーバーの起動
	server := newHTTPServer(cfg, router)

	errCh := make(chan error, 1)
	go func() {
		slog.Info("API server starting", slog.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server listen error: %w", err)
		}
	case <-ctx.Done():
	}

	slog.Info("shutting down API server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	slog.Info("API server stopped gracefully")
	return nil
}

// runWorker はワーカーモードで起動する。
// 処理済みWebhookイベントのクリーンアップジョブを日次で実行する。
// SIGINTまたはSIGTERMシグナルを受信するとシャットダウンする。
func runWorker(cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := openDB(ctx, cfg, database.WorkerPoolConfig())
	if err != nil {
		return err
	}
	defer db.Close()

	_, mc := newRegistry()
	job := cleanup.NewCleanupJob(
		repository.NewPostgresWebhookEventRepo(db),
		cfg.WebhookEventRetentionDays,
		mc,
		slog.Default(),
	)

	slog.Info("worker starting",
		slog.Int("retention_days", job.RetentionDays),
		slog.Duration("interval", cleanup.DefaultInterval),
	)

	// メインgoroutineで実行（ブロッキング）
	job.Start(ctx, cleanup.DefaultInterval)

	slog.Info("worker stopped gracefully")
	return nil
}

// runMigrate はデータベースマイグレーションを実行する。
// すべての未適用マイグレーションを順番に適用する。
func runMigrate(cfg *config.Config) error {
	slog.Info("running database migrations",
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
	)

	version, err := database.RunMigrations(cfg.DatabaseURL, slog.Default())
	if err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	slog.Info("database migrations completed successfully", slog.Uint64("version", uint64(version)))
	return nil
}

// runHealthcheck はヘルスチェックを実行する。
// distroless環境でのDockerヘルスチェック用サブコマンド。
// /health エンドポイントにHTTPリクエストを送り、結果を返す。
func runHealthcheck(port string) error {
	endpoint := fmt.Sprintf("http://localhost:%s/health", port)
	client := &http.Client{Timeout: 5 * time.Second}

	resp, err := client.Get(endpoint)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}

	return nil
}

// maskDatabaseURL はデータベースURLのパスワードをマスクする。
// URLとして解釈できない場合は全体を伏せる。
func maskDatabaseURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return "***"
	}
	return u.Redacted()
}
