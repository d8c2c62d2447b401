package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/hitoshi/contactbook/internal/metrics"
	"github.com/hitoshi/contactbook/internal/middleware"
	"github.com/prometheus/client_golang/prometheus"
)

// 認証失敗メトリクスのプロバイダーラベル
const (
	providerToken   = "token"
	providerSession = "session"
)

// HealthChecker はヘルスチェック対象（DB接続）のインターフェース。
type HealthChecker interface {
	PingContext(ctx context.Context) error
}

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	// ミドルウェア依存
	Logger            *slog.Logger
	HealthChecker     HealthChecker
	Metrics           metrics.MetricsCollector
	MetricsGatherer   prometheus.Gatherer
	CORSAllowedOrigin string
	CSRFConfig        middleware.CSRFConfig
	// TrustProxyHeadersがtrueの場合のみX-Forwarded-For等でRemoteAddrを書き換える。
	// 信頼できるリバースプロキシ配下でのみ有効にすること。
	TrustProxyHeaders bool
	RateLimiter       *middleware.RateLimiter
	// MeLimiter は/users/me専用の固定ウィンドウ制限。nilの場合は適用しない。
	MeLimiter *middleware.FixedWindowLimiter

	// 認証
	TokenResolver   middleware.IdentityResolver
	SessionResolver middleware.IdentityResolver
	AuthService     AuthServiceInterface
	AuthConfig      AuthHandlerConfig

	// ユーザー・連絡先・グループ
	UserService    UserServiceInterface
	ContactService ContactServiceInterface
	GroupService   GroupServiceInterface
}

// NewRouter は全APIエンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	RequestID → (RealIP) → Logging → Metrics → Recovery → SecurityHeaders → CORS
//
// 認証ルート（/auth/signup, /auth/login, /token など）は認証チェーンの外に配置し、
// クライアントIP単位のレート制限のみを適用する。
// セッション系ルートはCookie認証のためCSRF検証を行い、トークン系ルートは
// Authorizationヘッダー（またはaccess_token Cookie）で認証する。
func NewRouter(deps *RouterDeps) http.Handler {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	collector := deps.Metrics
	if collector == nil {
		collector = metrics.Nop{}
	}

	r := chi.NewRouter()

	r.Use(middleware.NewRequestIDMiddleware())
	if deps.TrustProxyHeaders {
		r.Use(chimw.RealIP)
	}
	r.Use(middleware.NewLoggingMiddleware(logger))
	r.Use(middleware.NewMetricsMiddleware(collector))
	r.Use(middleware.NewRecoveryMiddleware())
	r.Use(middleware.NewSecurityHeadersMiddleware())
	r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))

	authHandler := NewAuthHandler(deps.AuthService, deps.AuthConfig, collector)
	userHandler := NewUserHandler(deps.UserService, deps.AuthConfig, collector)
	contactHandler := NewContactHandler(deps.ContactService)
	groupHandler := NewGroupHandler(deps.GroupService)

	// --- 認証不要のルート ---
	r.Get("/health", healthHandler(deps.HealthChecker))
	if deps.MetricsGatherer != nil {
		r.Handle("/metrics", metrics.Handler(deps.MetricsGatherer))
	}
	r.Handle("/api/csrf-token", middleware.NewCSRFTokenHandler(deps.CSRFConfig))

	// 認証情報を受け付けるルート（IP単位のレート制限）
	r.Group(func(r chi.Router) {
		r.Use(deps.RateLimiter.CredentialMiddleware())

		r.Post("/auth/signup", authHandler.Signup)
		r.Post("/auth/verify", authHandler.Verify)
		r.Post("/auth/login", authHandler.Login)
		r.Post("/token", authHandler.Token)
	})

	// --- セッション認証ルート ---
	// ミドルウェアスタック: Auth(Session) → CSRF
	r.Group(func(r chi.Router) {
		r.Use(middleware.NewAuthMiddleware(deps.SessionResolver, providerSession, collector))
		r.Use(middleware.NewCSRFMiddleware(deps.CSRFConfig))

		r.Get("/session/me", authHandler.SessionMe)
		r.Post("/auth/logout", authHandler.Logout)
	})

	// --- トークン認証ルート ---
	// ミドルウェアスタック: Auth(Token) → RateLimit(General)
	r.Group(func(r chi.Router) {
		r.Use(middleware.NewAuthMiddleware(deps.TokenResolver, providerToken, collector))
		r.Use(deps.RateLimiter.GeneralMiddleware())

		r.Route("/users", func(r chi.Router) {
			if deps.MeLimiter != nil {
				r.With(deps.MeLimiter.Middleware()).Get("/me", userHandler.Me)
			} else {
				r.Get("/me", userHandler.Me)
			}
			r.Get("/", userHandler.ListUsers)
			r.Patch("/update/username", userHandler.UpdateUsername)
			r.Patch("/update/password", userHandler.UpdatePassword)
			r.Post("/password/reset", userHandler.RequestPasswordReset)
			r.Post("/{id}/change-role", userHandler.ChangeRole)
		})

		r.Route("/contacts", func(r chi.Router) {
			r.Post("/", contactHandler.Create)
			r.Get("/", contactHandler.List)
			r.Delete("/", contactHandler.DeleteAll)
			r.Get("/grouped", contactHandler.Grouped)
			r.Get("/search", contactHandler.Search)
			r.Get("/birthdays/next7days", contactHandler.BirthdaysNext7Days)
			r.Get("/birthdays/next12months", contactHandler.BirthdaysNext12Months)

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", contactHandler.Get)
				r.Put("/", contactHandler.Update)
				r.Delete("/", contactHandler.Delete)
			})
		})

		r.Route("/groups", func(r chi.Router) {
			r.Get("/", groupHandler.List)
			r.Post("/", groupHandler.Create)
			r.Delete("/{id}", groupHandler.Delete)
		})
	})

	return r
}

// healthHandler はDB接続を確認するヘルスチェックハンドラーを返す。
// GET /health
func healthHandler(checker HealthChecker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if checker != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			if err := checker.PingContext(ctx); err != nil {
				slog.Warn("health check failed", slog.String("error", err.Error()))
				writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
				return
			}
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}
