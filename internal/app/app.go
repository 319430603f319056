package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/ratioglobus/my-world/internal/auth"
	"github.com/ratioglobus/my-world/internal/config"
	"github.com/ratioglobus/my-world/internal/database"
	"github.com/ratioglobus/my-world/internal/discovery"
	"github.com/ratioglobus/my-world/internal/handler"
	"github.com/ratioglobus/my-world/internal/importer"
	"github.com/ratioglobus/my-world/internal/item"
	"github.com/ratioglobus/my-world/internal/logger"
	"github.com/ratioglobus/my-world/internal/metrics"
	"github.com/ratioglobus/my-world/internal/middleware"
	"github.com/ratioglobus/my-world/internal/project"
	"github.com/ratioglobus/my-world/internal/quote"
	"github.com/ratioglobus/my-world/internal/realtime"
	"github.com/ratioglobus/my-world/internal/repository"
	"github.com/ratioglobus/my-world/internal/security"
	"github.com/ratioglobus/my-world/internal/social"
	"github.com/ratioglobus/my-world/internal/user"
	"github.com/ratioglobus/my-world/internal/viewmodel"
	"github.com/ratioglobus/my-world/internal/worker/cleanup"
)

// Init はアプリケーションの初期化を行う。
// 環境変数からConfigを読み込み、JSON構造化ログをセットアップする。
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
	cmd, err := ParseCommand(args)
	if err != nil {
		return err
	}

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
	default:
		return runServe(cfg)
	}
}

// runServe はAPIサーバーモードで起動する。
// DB接続を開き、全依存関係をワイヤリングし、HTTPサーバーを起動する。
// SIGINTまたはSIGTERMシグナルを受信するとグレースフルシャットダウンを行う。
func runServe(cfg *config.Config) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// 1. DB接続
	db, err := database.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer db.Close()

	slog.Info("database connection established")

	// 2. 変更通知ブローカー
	broker, err := openBroker(ctx, cfg)
	if err != nil {
		return err
	}
	defer broker.Close()

	// 3. メトリクス
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	mc := metrics.NewCollector(registry)

	// 4. リポジトリの初期化
	userRepo := repository.NewPostgresUserRepo(db)
	sessionRepo := repository.NewPostgresSessionRepo(db)
	itemRepo := repository.NewPostgresItemRepo(db)
	stepRepo := repository.NewPostgresStepRepo(db)
	discoveryRepo := repository.NewPostgresDiscoveryRepo(db)
	profileRepo := repository.NewPostgresProfileRepo(db)
	followRepo := repository.NewPostgresFollowRepo(db)
	likeRepo := repository.NewPostgresLikeRepo(db)

	// 5. ドメインサービスの初期化
	itemService := item.NewService(itemRepo, viewmodel.NewCache(), broker, mc)
	projectService := project.NewService(stepRepo, itemService, broker)
	discoveryService := discovery.NewService(discoveryRepo, broker)
	socialService := social.NewService(userRepo, profileRepo, followRepo, likeRepo, itemService, broker)
	authService := auth.NewService(userRepo, sessionRepo, auth.ServiceConfig{SessionMaxAge: cfg.SessionMaxAge})
	userService := user.NewService(userRepo, sessionRepo, itemService)

	feedImporter := importer.New(security.NewSSRFGuard(), itemService, mc, slog.Default(), importer.Config{
		Timeout:  cfg.ImportTimeout,
		MaxSize:  cfg.ImportMaxSize,
		MaxItems: cfg.ImportMaxItems,
	})

	quotes, err := quote.Default()
	if err != nil {
		return fmt.Errorf("failed to load quotes: %w", err)
	}

	// 他インスタンスでの変更をキャッシュへ反映する
	go func() {
		if err := realtime.Listen(ctx, broker, itemService.OnChange); err != nil {
			slog.Error("change listener stopped", slog.String("error", err.Error()))
		}
	}()

	// 6. ルーターの構築
	rateLimiter := middleware.NewRateLimiter(
		middleware.RateLimiterConfigPerMinute(cfg.RateLimitGeneral, cfg.RateLimitAuth),
	)
	defer rateLimiter.Stop()

	deps := &handler.RouterDeps{
		Logger:            slog.Default(),
		Metrics:           mc,
		MetricsHandler:    metrics.Handler(registry),
		HealthChecker:     db,
		SessionFinder:     sessionRepo,
		CORSAllowedOrigin: cfg.CORSAllowedOrigin,
		RateLimiter:       rateLimiter,
		CSRF: middleware.CSRFConfig{
			Secret:       cfg.SessionSecret,
			CookieSecure: cfg.CookieSecure,
			CookieDomain: cfg.CookieDomain,
		},

		AuthService: authService,
		AuthConfig: handler.AuthHandlerConfig{
			CookieDomain:  cfg.CookieDomain,
			CookieSecure:  cfg.CookieSecure,
			SessionMaxAge: cfg.SessionMaxAge,
		},

		ItemService:  itemService,
		FeedImporter: feedImporter,
		PageSize:     cfg.ItemsPageSize,

		StepService:      projectService,
		DiscoveryService: discoveryService,

		SocialService: socialService,
		BaseURL:       cfg.BaseURL,

		Subscriber:  broker,
		Quotes:      quotes,
		UserService: userService,

		CallTimeout: cfg.RemoteCallTimeout,
	}

	router := handler.NewRouter(deps)

	// 7. HTTPサーバーの起動
	// /api/realtimeは長時間接続のため、WriteTimeoutは設定しない
	server := &http.Server{
		Addr:              ":" + cfg.ServerPort,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("API server starting",
			slog.String("addr", server.Addr),
		)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		return fmt.Errorf("server listen error: %w", err)
	}
	slog.Info("shutting down API server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	slog.Info("API server stopped gracefully")
	return nil
}

// openBroker はREDIS_URLが設定されていればRedisブローカーを、なければプロセス内ブローカーを返す。
func openBroker(ctx context.Context, cfg *config.Config) (realtime.Broker, error) {
	if cfg.RedisURL == "" {
		slog.Info("using in-memory change broker")
		return realtime.NewMemoryBroker(slog.Default()), nil
	}

	client, err := realtime.Connect(ctx, realtime.ConnectOptions{
		URL:            cfg.RedisURL,
		ConnectTimeout: 30 * time.Second,
		RetryInterval:  500 * time.Millisecond,
		MaxWait:        5 * time.Second,
		PingTimeout:    2 * time.Second,
	}, slog.Default())
	if err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	slog.Info("redis change broker connected")
	return realtime.NewRedisBroker(client, slog.Default()), nil
}

// runWorker はワーカーモードで起動する。
// DB接続を開き、期限切れセッションと孤立したいいねのクリーンアップジョブを定期実行する。
// SIGINTまたはSIGTERMシグナルを受信するとシャットダウンする。
func runWorker(cfg *config.Config) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// 1. DB接続
	db, err := database.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer db.Close()

	slog.Info("database connection established (worker)")

	// 2. クリーンアップジョブの初期化
	cleanupJob := cleanup.NewCleanupJob(
		repository.NewPostgresSessionRepo(db),
		repository.NewPostgresLikeRepo(db),
		slog.Default(),
	)
	cleanupJob.RetentionDays = cfg.SessionRetentionDays

	slog.Info("worker starting",
		slog.Duration("cleanup_interval", cfg.CleanupInterval),
		slog.Int("retention_days", cfg.SessionRetentionDays),
	)

	// ctxがキャンセルされるまでブロックする
	cleanupJob.Start(ctx, cfg.CleanupInterval)

	slog.Info("worker stopped gracefully")
	return nil
}

// runMigrate はデータベースマイグレーションを実行する。
// すべての未適用マイグレーションを順番に適用する。
func runMigrate(cfg *config.Config) error {
	slog.Info("running database migrations",
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
	)

	res, err := database.RunMigrations(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	slog.Info("database migrations completed successfully",
		slog.Uint64("from_version", uint64(res.From)),
		slog.Uint64("to_version", uint64(res.To)),
		slog.Bool("changed", res.Changed()),
	)
	return nil
}

// runHealthcheck はヘルスチェックを実行する。
// distroless環境でのDockerヘルスチェック用サブコマンド。
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

// maskDatabaseURL はデータベースURLの認証情報をマスクする。
func maskDatabaseURL(url string) string {
	if len(url) > 20 {
		return url[:12] + "***@..."
	}
	return "***"
}
