package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/hitoshi/docquery/internal/metrics"
	"github.com/hitoshi/docquery/internal/middleware"
)

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	// ミドルウェア依存
	Authenticator     middleware.TokenAuthenticator
	CORSAllowedOrigin string
	RateLimiter       *middleware.RateLimiter
	MaxRequestBytes   int64
	Logger            *slog.Logger
	Metrics           metrics.MetricsCollector

	// 運用
	HealthChecker   HealthChecker
	MetricsGatherer prometheus.Gatherer

	// サービス
	AuthService    AuthServiceInterface
	QueryService   QueryServiceInterface
	BillingService BillingServiceInterface
}

// NewRouter は全APIエンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	RequestID → RealIP → Logging → Recovery → CORS → SecurityHeaders → BodyLimit
//
// 認証が必要なルートには Auth → RateLimit(General) を、
// サインアップ・ログインには RateLimit(Auth) を追加する。
// Webhookは署名で検証するためトークン認証の外に置く。
func NewRouter(deps *RouterDeps) http.Handler {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.NewLoggingMiddleware(logger, deps.Metrics))
	r.Use(middleware.NewRecoveryMiddleware(logger))
	r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))
	r.Use(middleware.NewSecurityHeadersMiddleware())
	r.Use(middleware.NewBodyLimitMiddleware(deps.MaxRequestBytes))

	authHandler := NewAuthHandler(deps.AuthService)
	queryHandler := NewQueryHandler(deps.QueryService)
	paymentHandler := NewPaymentHandler(deps.BillingService)

	authRequired := middleware.NewAuthMiddleware(deps.Authenticator)
	generalLimit := passThrough
	authLimit := passThrough
	if deps.RateLimiter != nil {
		generalLimit = deps.RateLimiter.GeneralMiddleware()
		authLimit = deps.RateLimiter.AuthMiddleware()
	}

	// --- 運用エンドポイント ---
	r.Get("/", Banner)
	r.Get("/health", NewHealthHandler(deps.HealthChecker))
	if deps.MetricsGatherer != nil {
		r.Method(http.MethodGet, "/metrics", metrics.Handler(deps.MetricsGatherer))
	}

	r.Route("/api", func(r chi.Router) {
		// 認証
		r.Route("/auth", func(r chi.Router) {
			r.With(authLimit).Post("/signup", authHandler.Signup)
			r.With(authLimit).Post("/login", authHandler.Login)
			r.With(authRequired, generalLimit).Get("/me", authHandler.Me)
		})

		// 質問
		r.With(authRequired, generalLimit).Post("/query", queryHandler.Ask)

		// 決済
		r.Route("/payment", func(r chi.Router) {
			r.Post("/webhook", paymentHandler.Webhook)

			r.Group(func(r chi.Router) {
				r.Use(authRequired)
				r.Use(generalLimit)
				r.Post("/create-checkout-session", paymentHandler.CreateCheckoutSession)
				r.Get("/my-plan", paymentHandler.MyPlan)
				r.Post("/downgrade", paymentHandler.Downgrade)
			})
		})
	})

	return r
}

func passThrough(next http.Handler) http.Handler {
	return next
}
