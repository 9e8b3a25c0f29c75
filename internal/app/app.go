package app

import (
	"context"
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
	"github.com/redis/go-redis/v9"
	"golang.org/x/time/rate"

	"github.com/cleanquest/cleanquest-web/internal/apiclient"
	"github.com/cleanquest/cleanquest-web/internal/config"
	"github.com/cleanquest/cleanquest-web/internal/database"
	"github.com/cleanquest/cleanquest-web/internal/handler"
	"github.com/cleanquest/cleanquest-web/internal/identity"
	"github.com/cleanquest/cleanquest-web/internal/imagehost"
	"github.com/cleanquest/cleanquest-web/internal/logger"
	"github.com/cleanquest/cleanquest-web/internal/metrics"
	"github.com/cleanquest/cleanquest-web/internal/middleware"
	"github.com/cleanquest/cleanquest-web/internal/repository"
	"github.com/cleanquest/cleanquest-web/internal/security"
	"github.com/cleanquest/cleanquest-web/internal/session"
	"github.com/cleanquest/cleanquest-web/internal/worker/cleanup"
)

// Init はアプリケーションの初期化を行う。
// JSON構造化ログをセットアップし、環境変数からConfigを読み込む。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, error) {
	// 1. ログの初期化（設定読み込み前にログを使えるようにする）
	logger.SetupDefault(w)

	// 2. 環境変数から設定を読み込む
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
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

	slog.Info("starting application",
		slog.String("command", string(cmd)),
		slog.String("port", cfg.ServerPort),
		slog.String("base_url", cfg.BaseURL),
		slog.String("session_store", cfg.SessionStore),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	switch cmd {
	case CommandWorker:
		return runWorker(ctx, cfg)
	case CommandMigrate:
		return runMigrate(cfg)
	default:
		return runServe(ctx, cfg)
	}
}

// sessionBackend は設定で選んだセッション永続化先とその死活確認・後始末。
type sessionBackend struct {
	repo  repository.SessionRepository
	ping  handler.HealthCheckFunc
	close func() error
}

// openSessionBackend はSESSION_STOREに応じたリポジトリを開き、接続を確認する。
func openSessionBackend(ctx context.Context, cfg *config.Config) (*sessionBackend, error) {
	switch cfg.SessionStore {
	case config.SessionStorePostgres:
		db, err := database.Connect(ctx, cfg.DatabaseURL, database.PoolConfig{})
		if err != nil {
			return nil, err
		}
		slog.Info("database connection established")
		return &sessionBackend{
			repo:  repository.NewPostgresSessionRepo(db),
			ping:  db.PingContext,
			close: db.Close,
		}, nil

	case config.SessionStoreRedis:
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("failed to parse REDIS_URL: %w", err)
		}
		rc := redis.NewClient(opts)
		if err := rc.Ping(ctx).Err(); err != nil {
			rc.Close()
			return nil, fmt.Errorf("failed to connect to redis: %w", err)
		}
		slog.Info("redis connection established")
		return &sessionBackend{
			repo:  repository.NewRedisSessionRepo(rc),
			ping:  func(ctx context.Context) error { return rc.Ping(ctx).Err() },
			close: rc.Close,
		}, nil

	default:
		slog.Warn("using in-memory session store; sessions are lost on restart")
		return &sessionBackend{
			repo:  repository.NewMemorySessionRepo(),
			close: func() error { return nil },
		}, nil
	}
}

// newRateLimiterConfig は1分あたりのリクエスト数をレート制限設定に変換する。
func newRateLimiterConfig(cfg *config.Config) middleware.RateLimiterConfig {
	rl := middleware.DefaultRateLimiterConfig()
	if cfg.RateLimitGeneral > 0 {
		rl.GeneralRate = rate.Limit(float64(cfg.RateLimitGeneral) / 60.0)
		rl.GeneralBurst = cfg.RateLimitGeneral
	}
	if cfg.RateLimitReport > 0 {
		rl.ReportRate = rate.Limit(float64(cfg.RateLimitReport) / 60.0)
		rl.ReportBurst = cfg.RateLimitReport
	}
	return rl
}

// buildRouter は設定とセッション永続化先から全依存関係をワイヤリングしたルーターを返す。
// 返り値の関数でバックグラウンド処理を停止する。
func buildRouter(cfg *config.Config, backend *sessionBackend, reg *prometheus.Registry, collector *metrics.Collector) (http.Handler, func()) {
	log := slog.Default()

	// 1. セキュリティサービスの初期化
	guard := security.NewSSRFGuard(cfg.CheckoutRedirectHosts...)
	sanitizer := security.NewTextSanitizer()

	// 2. リモートAPIクライアントと現在のユーザー解決
	api := apiclient.NewClient(&http.Client{Timeout: cfg.APITimeout}, log, apiclient.Config{
		BaseURL:            cfg.APIBaseURL,
		CurrentUserPath:    cfg.APICurrentUserPath,
		BreakerMaxFailures: uint32(max(cfg.BreakerMaxFailures, 0)),
		BreakerOpenTimeout: cfg.BreakerOpenTimeout,
	}).WithRecorder(collector)

	resolver := identity.NewResolver(api, log, identity.Config{
		CacheTTL:     cfg.ProfileCacheTTL,
		FetchTimeout: cfg.APITimeout,
	}).WithRecorder(collector)

	// 3. 画像ホストはSSRF対策済みクライアントで呼び出す
	images := imagehost.NewClient(guard.NewSafeClient(cfg.APITimeout), guard, log, imagehost.Config{
		UploadURL:    cfg.ImageUploadURL,
		UploadPreset: cfg.ImageUploadPreset,
	})

	// 4. セッションストア
	sessions := session.NewStore(backend.repo, session.Config{MaxAge: cfg.SessionMaxAge}, log)
	cookie := middleware.CookieConfig{Secure: cfg.CookieSecure, Domain: cfg.CookieDomain}

	rateLimiter := middleware.NewRateLimiter(newRateLimiterConfig(cfg))

	var healthChecker handler.HealthChecker
	if backend.ping != nil {
		healthChecker = backend.ping
	}

	router := handler.NewRouter(&handler.RouterDeps{
		Sessions:          sessions,
		Cookie:            cookie,
		CORSAllowedOrigin: cfg.CORSAllowedOrigin,
		RateLimiter:       rateLimiter,
		Logger:            log,
		StatusRecorder:    collector,

		HealthChecker:  healthChecker,
		MetricsHandler: metrics.Handler(reg),

		Resolver:  resolver,
		Sanitizer: sanitizer,

		AuthAPI: api,
		AuthConfig: handler.AuthHandlerConfig{
			BaseURL:       cfg.BaseURL,
			CredentialTTL: cfg.CredentialTTL,
			Cookie:        cookie,
		},

		ReportAPI: api,
		Images:    images,
		ImageURLs: guard,

		ProfileAPI:  api,
		AdminAPI:    api,
		DonationAPI: api,
		Redirects:   guard,
	})

	return router, rateLimiter.Stop
}

// runServe はBFFサーバーモードで起動する。
// セッション永続化先を開き、全依存関係をワイヤリングし、HTTPサーバーを起動する。
// ctxがキャンセルされるとグレースフルシャットダウンを行う。
func runServe(ctx context.Context, cfg *config.Config) error {
	backend, err := openSessionBackend(ctx, cfg)
	if err != nil {
		return err
	}
	defer backend.close()

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	collector := metrics.NewCollector(reg)

	router, stopBackground := buildRouter(cfg, backend, reg, collector)
	defer stopBackground()

	// メモリストアの期限切れセッションはサーバープロセス内でパージする
	if cfg.SessionStore == config.SessionStoreMemory {
		job := cleanup.NewPurgeJob(backend.repo, slog.Default(), collector)
		go job.Start(ctx, cfg.SessionPurgeInterval)
	}

	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("BFF server starting",
			slog.String("addr", server.Addr),
			slog.String("api_base_url", cfg.APIBaseURL),
		)
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
		return nil
	case <-ctx.Done():
	}

	slog.Info("shutting down BFF server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	slog.Info("BFF server stopped gracefully")
	return nil
}

// runWorker はワーカーモードで起動する。
// 共有のセッション永続化先から期限切れセッションを定期的に削除する。
// ctxがキャンセルされるまでブロックする。
func runWorker(ctx context.Context, cfg *config.Config) error {
	if cfg.SessionStore == config.SessionStoreMemory {
		return fmt.Errorf("worker requires a shared session store (SESSION_STORE=postgres or redis)")
	}

	backend, err := openSessionBackend(ctx, cfg)
	if err != nil {
		return err
	}
	defer backend.close()

	job := cleanup.NewPurgeJob(backend.repo, slog.Default(), nil)

	slog.Info("worker starting",
		slog.Duration("purge_interval", cfg.SessionPurgeInterval),
	)

	job.Start(ctx, cfg.SessionPurgeInterval)

	slog.Info("worker stopped gracefully")
	return nil
}

// runMigrate はセッションテーブルのマイグレーションを実行する。
// すべての未適用マイグレーションを順番に適用する。
func runMigrate(cfg *config.Config) error {
	if cfg.SessionStore != config.SessionStorePostgres {
		return fmt.Errorf("migrate requires SESSION_STORE=postgres (got %q)", cfg.SessionStore)
	}

	slog.Info("running database migrations",
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
	)

	version, err := database.RunMigrations(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	slog.Info("database migrations completed successfully",
		slog.Uint64("schema_version", uint64(version)),
	)
	return nil
}

// runHealthcheck はヘルスチェックを実行する。
// distroless環境でのDockerヘルスチェック用サブコマンド。
// /health エンドポイントにHTTPリクエストを送り、結果を返す。
func runHealthcheck(port string) error {
	url := fmt.Sprintf("http://localhost:%s/health", port)
	client := &http.Client{Timeout: 5 * time.Second}

	resp, err := client.Get(url)
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
func maskDatabaseURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return "***"
	}
	u.RawQuery = ""
	return u.Redacted()
}
