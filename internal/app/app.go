package app

import (
	"context"
	"database/sql"
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

	"github.com/hitoshi/contactbook/internal/auth"
	"github.com/hitoshi/contactbook/internal/config"
	"github.com/hitoshi/contactbook/internal/contact"
	"github.com/hitoshi/contactbook/internal/database"
	"github.com/hitoshi/contactbook/internal/group"
	"github.com/hitoshi/contactbook/internal/handler"
	"github.com/hitoshi/contactbook/internal/logger"
	"github.com/hitoshi/contactbook/internal/metrics"
	"github.com/hitoshi/contactbook/internal/middleware"
	"github.com/hitoshi/contactbook/internal/repository"
	"github.com/hitoshi/contactbook/internal/security"
	"github.com/hitoshi/contactbook/internal/user"
	"github.com/hitoshi/contactbook/internal/worker/cleanup"
)

const (
	meLimitWindow    = time.Minute
	redisPingTimeout = 3 * time.Second
	shutdownTimeout  = 30 * time.Second
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

	// 3. LOG_LEVELを反映する
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
		slog.String("base_url", cfg.BaseURL),
	)

	switch cmd {
	case CommandWorker:
		return runWorker(cfg)
	case CommandMigrate:
		return runMigrate(cfg)
	case CommandRollback:
		return runRollback(cfg)
	default:
		return runServe(cfg)
	}
}

// runServe はAPIサーバーモードで起動する。
// DB接続を開き、全依存関係をワイヤリングし、HTTPサーバーを起動する。
// SIGINTまたはSIGTERMシグナルを受信するとグレースフルシャットダウンを行う。
func runServe(cfg *config.Config) error {
	ctx := context.Background()

	db, err := connectDB(ctx, cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	slog.Info("database connection established")

	router, closeDeps, err := buildRouter(ctx, cfg, db, slog.Default())
	if err != nil {
		return err
	}
	defer closeDeps()

	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	serveErr := make(chan error, 1)
	go func() {
		slog.Info("API server starting",
			slog.String("addr", server.Addr),
		)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serveErr <- err
		}
	}()

	select {
	case err := <-serveErr:
		return fmt.Errorf("server listen error: %w", err)
	case <-stop:
	}
	slog.Info("shutting down API server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	slog.Info("API server stopped gracefully")
	return nil
}

// connectDB は起動時のDB接続をDB_CONNECT_ATTEMPTS回まで再試行する。
func connectDB(ctx context.Context, cfg *config.Config) (*sql.DB, error) {
	retry := database.DefaultRetryConfig()
	retry.Attempts = cfg.DBConnectAttempts
	return database.ConnectWithRetry(ctx, cfg.DatabaseURL, retry, slog.Default())
}

// buildRouter はリポジトリ・サービス・ミドルウェアを組み立ててルーターを返す。
// 起動時にsuperadminの存在を保証する。戻り値の関数でバックグラウンド資源を解放する。
func buildRouter(ctx context.Context, cfg *config.Config, db *sql.DB, log *slog.Logger) (http.Handler, func(), error) {
	// 1. リポジトリの初期化
	userRepo := repository.NewPostgresUserRepo(db)
	avatarRepo := repository.NewPostgresUserAvatarRepo(db)
	sessionRepo := repository.NewPostgresSessionRepo(db)
	contactRepo := repository.NewPostgresContactRepo(db)
	groupRepo := repository.NewPostgresGroupRepo(db)

	// 2. トークン発行とメール送信
	issuer, err := auth.NewTokenIssuer(auth.TokenConfig{
		Secret: []byte(cfg.SecretKey),
		TTL:    cfg.AccessTokenTTL,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create token issuer: %w", err)
	}
	mailer := auth.NewLogMailer(log)

	// 3. ドメインサービスの初期化
	sanitizer := security.NewTextSanitizer()
	authService := auth.NewService(userRepo, sessionRepo, issuer, mailer, auth.ServiceConfig{
		SessionMaxAge:      cfg.SessionMaxAge,
		SuperadminUsername: cfg.SuperadminUsername,
		SuperadminEmail:    cfg.SuperadminEmail,
		SuperadminPassword: cfg.SuperadminPassword,
	})
	userService := user.NewService(userRepo, avatarRepo, sessionRepo, issuer, mailer)
	contactService := contact.NewService(contactRepo, groupRepo, userRepo, sanitizer)
	groupService := group.NewService(groupRepo, sanitizer)

	superadmin, err := authService.EnsureSuperadmin(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to ensure superadmin: %w", err)
	}
	log.Info("superadmin ready",
		slog.Int64("user_id", superadmin.ID),
		slog.String("username", superadmin.Username),
	)

	// 4. メトリクス
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	collector := metrics.NewCollector(registry)

	// 5. レート制限
	limiterCfg := middleware.DefaultRateLimiterConfig()
	limiterCfg.GeneralRate, limiterCfg.GeneralBurst = middleware.PerMinute(cfg.RateLimitGeneral)
	limiterCfg.CredentialRate, limiterCfg.CredentialBurst = middleware.PerMinute(cfg.RateLimitCredential)
	rateLimiter := middleware.NewRateLimiter(limiterCfg, collector)

	meLimiter, closeRedis := newMeLimiter(ctx, cfg, collector, log)

	// 6. ルーターの構築
	deps := &handler.RouterDeps{
		Logger:            log,
		HealthChecker:     db,
		Metrics:           collector,
		MetricsGatherer:   registry,
		CORSAllowedOrigin: cfg.CORSAllowedOrigin,
		TrustProxyHeaders: cfg.TrustProxyHeaders,
		CSRFConfig: middleware.CSRFConfig{
			CookieSecure: cfg.CookieSecure,
			CookieDomain: cfg.CookieDomain,
		},
		RateLimiter: rateLimiter,
		MeLimiter:   meLimiter,

		TokenResolver:   auth.NewResolver(auth.NewTokenProvider(issuer, userRepo)),
		SessionResolver: auth.NewResolver(auth.NewSessionProvider(sessionRepo)),
		AuthService:     authService,
		AuthConfig: handler.AuthHandlerConfig{
			CookieDomain:   cfg.CookieDomain,
			CookieSecure:   cfg.CookieSecure,
			SessionMaxAge:  cfg.SessionMaxAge,
			AccessTokenTTL: issuer.TTL(),
		},

		UserService:    handler.NewUserServiceAdapter(userService),
		ContactService: handler.NewContactServiceAdapter(contactService),
		GroupService:   handler.NewGroupServiceAdapter(groupService),
	}

	closeDeps := func() {
		rateLimiter.Stop()
		closeRedis()
	}
	return handler.NewRouter(deps), closeDeps, nil
}

// newMeLimiter は/users/me用のRedis固定ウィンドウ制限を生成する。
// REDIS_URLが未設定、または起動時に到達できない場合はnilを返し制限を無効にする。
func newMeLimiter(ctx context.Context, cfg *config.Config, collector metrics.MetricsCollector, log *slog.Logger) (*middleware.FixedWindowLimiter, func()) {
	noop := func() {}
	if cfg.RedisURL == "" {
		log.Info("redis not configured, /users/me limiter disabled")
		return nil, noop
	}

	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		log.Warn("invalid REDIS_URL, /users/me limiter disabled",
			slog.String("error", err.Error()),
		)
		return nil, noop
	}

	client := redis.NewClient(opts)
	pingCtx, cancel := context.WithTimeout(ctx, redisPingTimeout)
	defer cancel()

	if err := client.Ping(pingCtx).Err(); err != nil {
		log.Warn("redis unreachable, /users/me limiter disabled",
			slog.String("error", err.Error()),
		)
		client.Close()
		return nil, noop
	}

	log.Info("redis connection established",
		slog.Int("limit", cfg.RateLimitMe),
		slog.Duration("window", meLimitWindow),
	)
	limiter := middleware.NewFixedWindowLimiter(
		middleware.NewRedisWindowCounter(client), "users_me", cfg.RateLimitMe, meLimitWindow, collector,
	)
	return limiter, func() { client.Close() }
}

// runWorker はワーカーモードで起動する。
// DB接続を開き、期限切れセッションの定期削除を実行する。
// SIGINTまたはSIGTERMシグナルを受信するとシャットダウンする。
func runWorker(cfg *config.Config) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db, err := connectDB(ctx, cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	slog.Info("database connection established (worker)")

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-stop
		slog.Info("shutting down worker...")
		cancel()
	}()

	job := cleanup.NewSessionCleanupJob(db, slog.Default())
	job.Start(ctx, cfg.SessionCleanupInterval)

	slog.Info("worker stopped gracefully")
	return nil
}

// runMigrate はデータベースマイグレーションを実行する。
// すべての未適用マイグレーションを順番に適用する。
func runMigrate(cfg *config.Config) error {
	slog.Info("running database migrations",
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
	)

	if err := database.RunMigrations(cfg.DatabaseURL); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	logMigrationVersion(cfg.DatabaseURL)
	slog.Info("database migrations completed successfully")
	return nil
}

// runRollback は直近1件のマイグレーションを取り消す。
func runRollback(cfg *config.Config) error {
	slog.Info("rolling back last database migration",
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
	)

	if err := database.RollbackMigrations(cfg.DatabaseURL, 1); err != nil {
		return fmt.Errorf("rollback failed: %w", err)
	}

	logMigrationVersion(cfg.DatabaseURL)
	return nil
}

func logMigrationVersion(databaseURL string) {
	version, dirty, err := database.MigrationVersion(databaseURL)
	if err != nil {
		slog.Warn("failed to read migration version", slog.String("error", err.Error()))
		return
	}
	slog.Info("migration version",
		slog.Uint64("version", uint64(version)),
		slog.Bool("dirty", dirty),
	)
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
// 解析できないURLは全体を伏せる。
func maskDatabaseURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return "***"
	}
	return u.Redacted()
}
