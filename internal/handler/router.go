package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/hitoshi/feedbackdesk/internal/metrics"
	"github.com/hitoshi/feedbackdesk/internal/middleware"
)

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	// ミドルウェア依存
	Logger            *slog.Logger
	SessionLoader     middleware.SessionLoader
	CORSAllowedOrigin string
	CSRFConfig        middleware.CSRFConfig
	RateLimiter       *middleware.RateLimiter
	TrustProxyHeaders bool
	HSTS              bool

	// 運用エンドポイント
	HealthChecker  HealthChecker
	Metrics        metrics.MetricsCollector
	MetricsHandler http.Handler

	// 認証
	AuthService AuthServiceInterface
	AuthConfig  AuthHandlerConfig

	// フィードバック
	FeedbackService FeedbackServiceInterface
}

// NewRouter は全APIエンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	Recovery → Logging → Metrics → SecurityHeaders → CORS → Session → CSRF → RateLimit(General)
//
// ログインと確認コード送信にはクライアントIPごとのレート制限を追加する。
// 認証が必要なルートはRequireAuthのグループに配置する。
func NewRouter(deps *RouterDeps) http.Handler {
	r := chi.NewRouter()

	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	if deps.TrustProxyHeaders {
		r.Use(chimw.RealIP)
	}
	r.Use(middleware.NewRecoveryMiddleware(deps.Metrics))
	r.Use(middleware.NewLoggingMiddleware(logger))
	r.Use(middleware.NewMetricsMiddleware(deps.Metrics))
	r.Use(middleware.NewSecurityHeadersMiddleware(deps.HSTS))
	r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))

	// --- 運用エンドポイント ---
	r.Get("/health", NewHealthHandler(deps.HealthChecker))
	if deps.MetricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", deps.MetricsHandler)
	}

	authConfig := deps.AuthConfig
	authConfig.CSRF = deps.CSRFConfig
	authHandler := NewAuthHandler(deps.AuthService, authConfig)
	feedbackHandler := NewFeedbackHandler(deps.FeedbackService)

	r.Route("/api", func(r chi.Router) {
		r.Use(middleware.NewSessionMiddleware(deps.SessionLoader))
		r.Use(middleware.NewCSRFMiddleware(deps.CSRFConfig))
		r.Use(deps.RateLimiter.GeneralMiddleware())

		r.Get("/csrf-token", middleware.NewCSRFTokenHandler(deps.CSRFConfig).ServeHTTP)

		// --- 認証不要のルート ---
		r.Route("/auth", func(r chi.Router) {
			r.Get("/login", authHandler.LoginPage)
			r.With(deps.RateLimiter.LoginMiddleware()).Post("/login", authHandler.Login)
			r.With(deps.RateLimiter.LoginMiddleware()).Post("/otp", authHandler.VerifyOTP)
			r.Post("/logout", authHandler.Logout)
			r.Get("/managers", authHandler.Managers)
			r.Post("/register", authHandler.Register)

			r.With(middleware.RequireAuth).Get("/me", authHandler.Me)
		})

		// --- 認証が必要なルート ---
		r.Group(func(r chi.Router) {
			r.Use(middleware.RequireAuth)

			r.Get("/dashboard", feedbackHandler.Dashboard)
			r.Get("/employees/{id}/feedback", feedbackHandler.ListForEmployee)

			r.Route("/feedback", func(r chi.Router) {
				r.Get("/", feedbackHandler.ListOwn)
				r.Post("/", feedbackHandler.Create)
				r.Get("/reports", feedbackHandler.DirectReports)

				r.Route("/{id}", func(r chi.Router) {
					r.Get("/", feedbackHandler.Get)
					r.Put("/", feedbackHandler.Update)
					r.Post("/acknowledge", feedbackHandler.Acknowledge)
					r.Post("/comments", feedbackHandler.AddComment)
					r.Get("/export", feedbackHandler.Export)
				})
			})
		})
	})

	return r
}
