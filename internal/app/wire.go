package app

import (
	"database/sql"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/hitoshi/feedbackdesk/internal/auth"
	"github.com/hitoshi/feedbackdesk/internal/config"
	"github.com/hitoshi/feedbackdesk/internal/feedback"
	"github.com/hitoshi/feedbackdesk/internal/handler"
	"github.com/hitoshi/feedbackdesk/internal/metrics"
	"github.com/hitoshi/feedbackdesk/internal/middleware"
	"github.com/hitoshi/feedbackdesk/internal/notify"
	"github.com/hitoshi/feedbackdesk/internal/render"
	"github.com/hitoshi/feedbackdesk/internal/repository"
	"github.com/hitoshi/feedbackdesk/internal/security"
)

// smtpTimeout は1通あたりのSMTP送信タイムアウト。
const smtpTimeout = 30 * time.Second

// components はserveモードで組み立てた依存関係をまとめたもの。
type components struct {
	handler     http.Handler
	rateLimiter *middleware.RateLimiter
	dispatcher  *notify.Dispatcher
}

// newMetrics はPrometheusレジストリとCollectorを生成する。
// プロセスとGoランタイムのメトリクスも同じレジストリに登録する。
func newMetrics() (*prometheus.Registry, *metrics.Collector) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg, metrics.NewCollector(reg)
}

// newWorkerMetricsServer はworkerモードで/metricsと/healthだけを公開するサーバーを生成する。
// 通知の送信結果はworkerのレジストリにしか記録されないため、APIとは別に公開する。
func newWorkerMetricsServer(port string, reg *prometheus.Registry) *http.Server {
	r := chi.NewRouter()
	r.Handle("/metrics", metrics.Handler(reg))
	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	return &http.Server{
		Addr:              ":" + port,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}
}

// newDispatcher は通知キューをSMTPで送信するディスパッチャーを生成する。
func newDispatcher(cfg *config.Config, db *sql.DB, mc metrics.MetricsCollector) *notify.Dispatcher {
	sender := notify.NewSMTPSender(notify.SMTPConfig{
		Host:     cfg.SMTPHost,
		Port:     cfg.SMTPPort,
		Username: cfg.SMTPUsername,
		Password: cfg.SMTPPassword,
		Timeout:  smtpTimeout,
	})
	return notify.NewDispatcher(
		repository.NewPostgresNotificationRepo(db),
		sender,
		slog.Default(),
		mc,
		notify.DispatcherConfig{
			From:           cfg.SMTPFrom,
			BatchSize:      cfg.NotifyBatchSize,
			MaxAttempts:    cfg.NotifyMaxAttempts,
			MaxConcurrency: cfg.NotifyMaxConcurrent,
			Lease:          4 * smtpTimeout,
			OTPTTL:         cfg.OTPTTL,
		},
	)
}

// buildComponents はリポジトリ、サービス、ルーターを組み立てる。
// DBへの接続は行わないため、DBが停止していても組み立ては成功する。
func buildComponents(cfg *config.Config, db *sql.DB) (*components, error) {
	reg, mc := newMetrics()

	// 1. リポジトリの初期化
	userRepo := repository.NewPostgresUserRepo(db)
	sessionRepo := repository.NewPostgresSessionRepo(db)
	feedbackRepo := repository.NewPostgresFeedbackRepo(db)
	commentRepo := repository.NewPostgresCommentRepo(db)
	ackRepo := repository.NewPostgresAcknowledgementRepo(db)
	notificationRepo := repository.NewPostgresNotificationRepo(db)

	// 2. 通知キュー
	queue := notify.NewQueue(notificationRepo, mc, slog.Default())
	composer := notify.NewComposer(cfg.BaseURL)

	// 3. 認証サービス
	sessions := auth.NewSessionManager(sessionRepo, time.Duration(cfg.SessionMaxAge)*time.Second)
	authService := auth.NewService(userRepo, sessions, queue, composer, mc, auth.Config{
		FailureThreshold:   cfg.LoginFailureThreshold,
		OTPTTL:             cfg.OTPTTL,
		OTPMaxAttempts:     cfg.OTPMaxAttempts,
		AllowedEmailDomain: cfg.AllowedEmailDomain,
		PasswordMinLength:  cfg.PasswordMinLength,
	})

	// 4. フィードバックサービス
	builder, err := render.NewBuilder(security.NewTextSanitizer(), time.Local)
	if err != nil {
		return nil, fmt.Errorf("failed to build document template: %w", err)
	}
	feedbackService := feedback.NewService(feedback.Deps{
		Users:    userRepo,
		Feedback: feedbackRepo,
		Comments: commentRepo,
		Acks:     ackRepo,
		Notifier: queue,
		Composer: composer,
		Builder:  builder,
		Renderer: render.NewClient(cfg.RendererURL, cfg.RendererTimeout),
		Metrics:  mc,
	})

	// 5. ルーターの構築
	// configのレート制限はreq/min単位なのでreq/secに変換する
	rateLimiter := middleware.NewRateLimiter(
		middleware.PerMinuteRateLimiterConfig(cfg.RateLimitGeneral, cfg.RateLimitLogin),
	)

	deps := &handler.RouterDeps{
		Logger:            slog.Default(),
		SessionLoader:     sessions,
		CORSAllowedOrigin: cfg.CORSAllowedOrigin,
		CSRFConfig: middleware.CSRFConfig{
			CookieSecure: cfg.CookieSecure,
			CookieDomain: cfg.CookieDomain,
			MaxAge:       cfg.SessionMaxAge,
		},
		RateLimiter:       rateLimiter,
		TrustProxyHeaders: cfg.TrustProxyHeaders,
		HSTS:              cfg.CookieSecure,

		HealthChecker:  db,
		Metrics:        mc,
		MetricsHandler: metrics.Handler(reg),

		AuthService: authService,
		AuthConfig: handler.AuthHandlerConfig{
			CookieDomain:  cfg.CookieDomain,
			CookieSecure:  cfg.CookieSecure,
			SessionMaxAge: cfg.SessionMaxAge,
		},

		FeedbackService: feedbackService,
	}

	return &components{
		handler:     handler.NewRouter(deps),
		rateLimiter: rateLimiter,
		dispatcher:  newDispatcher(cfg, db, mc),
	}, nil
}
