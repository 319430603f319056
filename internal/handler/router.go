package handler

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/ratioglobus/my-world/internal/metrics"
	"github.com/ratioglobus/my-world/internal/middleware"
	"github.com/ratioglobus/my-world/internal/security"
)

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	// ミドルウェア依存
	Logger            *slog.Logger
	Metrics           metrics.MetricsCollector
	MetricsHandler    http.Handler // nilの場合は/metricsを公開しない
	HealthChecker     HealthChecker
	SessionFinder     middleware.SessionFinder
	CORSAllowedOrigin string
	RateLimiter       *middleware.RateLimiter
	CSRF              middleware.CSRFConfig

	// 認証
	AuthService AuthServiceInterface
	AuthConfig  AuthHandlerConfig

	// アイテム
	ItemService  ItemServiceInterface
	FeedImporter FeedImporter
	PageSize     int

	// プロジェクトステップ・気づき
	StepService      StepServiceInterface
	DiscoveryService DiscoveryServiceInterface

	// プロフィール・フォロー・いいね
	SocialService SocialServiceInterface
	BaseURL       string

	// 変更通知・名言・ユーザー
	Subscriber  ChangeSubscriber
	Quotes      QuoteSource
	UserService UserServiceInterface

	// CallTimeout は1リクエスト内のサービス呼び出しのタイムアウト。
	CallTimeout time.Duration
}

// NewRouter は全APIエンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	RequestID → Logging → Recovery → SecurityHeaders → CORS
//	  → (/api/*) Session → RateLimit(General) → CSRF
//	  → (/auth/*) RateLimit(Auth, signup/loginのみ) → CSRF
func NewRouter(deps *RouterDeps) http.Handler {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(middleware.NewLoggingMiddleware(logger, deps.Metrics))
	r.Use(middleware.NewRecoveryMiddleware(logger))
	r.Use(middleware.NewSecurityHeadersMiddleware(deps.AuthConfig.CookieSecure))
	r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))

	renderer := security.NewCommentRenderer()
	csrf := middleware.NewCSRFMiddleware(deps.CSRF)

	authHandler := NewAuthHandler(deps.AuthService, deps.SocialService, deps.AuthConfig)
	itemHandler := NewItemHandler(deps.ItemService, deps.FeedImporter, renderer, deps.PageSize, deps.CallTimeout)
	stepHandler := NewStepHandler(deps.StepService, renderer, deps.CallTimeout)
	discoveryHandler := NewDiscoveryHandler(deps.DiscoveryService, deps.CallTimeout)
	socialHandler := NewSocialHandler(deps.SocialService, renderer, deps.BaseURL, deps.CallTimeout)
	realtimeHandler := NewRealtimeHandler(deps.Subscriber)
	quoteHandler := NewQuoteHandler(deps.Quotes)
	sessionCookie := middleware.SessionCookieConfig{
		Domain: deps.AuthConfig.CookieDomain,
		Secure: deps.AuthConfig.CookieSecure,
	}
	userHandler := NewUserHandler(deps.UserService, sessionCookie)

	// --- 認証不要のルート ---

	r.Get("/health", NewHealthHandler(deps.HealthChecker))
	if deps.MetricsHandler != nil {
		r.Handle("/metrics", deps.MetricsHandler)
	}
	r.Method(http.MethodGet, "/api/csrf-token", middleware.NewCSRFTokenHandler(deps.CSRF))

	r.Route("/auth", func(r chi.Router) {
		r.Use(csrf)
		r.With(deps.RateLimiter.AuthMiddleware()).Post("/signup", authHandler.SignUp)
		r.With(deps.RateLimiter.AuthMiddleware()).Post("/login", authHandler.Login)
		r.Post("/logout", authHandler.Logout)
		r.Get("/me", authHandler.Me)
	})

	// --- 認証が必要なルート ---
	// ミドルウェアスタック: Session → RateLimit(General) → CSRF
	r.Group(func(r chi.Router) {
		r.Use(middleware.NewSessionMiddleware(deps.SessionFinder, sessionCookie))
		r.Use(deps.RateLimiter.GeneralMiddleware())
		r.Use(csrf)

		// アイテム
		r.Route("/api/items/{mode}", func(r chi.Router) {
			r.Get("/", itemHandler.ListItems)
			r.Post("/", itemHandler.AddItem)
			r.Post("/import", itemHandler.ImportItems)

			r.Route("/{id}", func(r chi.Router) {
				r.Patch("/", itemHandler.UpdateItem)
				r.Delete("/", itemHandler.DeleteItem)
				r.Put("/archive", itemHandler.ArchiveItem)
				r.Put("/restore", itemHandler.RestoreItem)
				r.Put("/hidden", itemHandler.SetHidden)
				r.Put("/pinned", itemHandler.SetPinned)
				r.Post("/complete", itemHandler.CompleteItem)
			})
		})
		r.Get("/api/archive/{mode}", itemHandler.ListArchived)

		// プロジェクトステップ
		r.Route("/api/projects/{id}/steps", func(r chi.Router) {
			r.Get("/", stepHandler.ListSteps)
			r.Post("/", stepHandler.AddStep)
			r.Put("/{stepID}", stepHandler.ToggleStep)
			r.Delete("/{stepID}", stepHandler.DeleteStep)
		})

		// 気づき
		r.Route("/api/discoveries", func(r chi.Router) {
			r.Get("/", discoveryHandler.ListDiscoveries)
			r.Post("/", discoveryHandler.AddDiscovery)

			r.Route("/{id}", func(r chi.Router) {
				r.Patch("/", discoveryHandler.UpdateDiscovery)
				r.Delete("/", discoveryHandler.DeleteDiscovery)
				r.Get("/suggested-tags", discoveryHandler.SuggestedTags)
			})
		})

		// プロフィール・フォロー・いいね
		r.Get("/api/profile", socialHandler.GetMyProfile)
		r.Patch("/api/profile", socialHandler.UpdateMyProfile)
		r.Get("/api/profiles", socialHandler.SearchProfiles)
		r.Get("/api/follows", socialHandler.ListFollowing)

		// ユーザー管理（/meは/{id}より優先される）
		r.Route("/api/users", func(r chi.Router) {
			r.Delete("/me", userHandler.Withdraw)

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/profile", socialHandler.GetUserProfile)
				r.Get("/items/{mode}", socialHandler.ListUserItems)
				r.Put("/follow", socialHandler.Follow)
				r.Delete("/follow", socialHandler.Unfollow)
				r.Put("/items/{mode}/{itemID}/like", socialHandler.Like)
				r.Delete("/items/{mode}/{itemID}/like", socialHandler.Unlike)
			})
		})

		// 変更通知・名言
		r.Get("/api/realtime", realtimeHandler.Stream)
		r.Get("/api/quote", quoteHandler.Random)
	})

	return r
}
