package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/cleanquest/cleanquest-web/internal/middleware"
)

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	// ミドルウェア依存
	Sessions          middleware.SessionOpener
	Cookie            middleware.CookieConfig
	CORSAllowedOrigin string
	RateLimiter       *middleware.RateLimiter
	Logger            *slog.Logger
	StatusRecorder    middleware.StatusRecorder

	// 運用
	HealthChecker  HealthChecker
	MetricsHandler http.Handler

	// 現在のユーザー
	Resolver  CurrentUserResolver
	Sanitizer TextSanitizer

	// 認証
	AuthAPI    AuthAPI
	AuthConfig AuthHandlerConfig

	// 報告
	ReportAPI ReportAPI
	Images    ImageUploader
	ImageURLs URLValidator

	// プロフィール・管理画面・寄付
	ProfileAPI  ProfileAPI
	AdminAPI    AdminAPI
	DonationAPI DonationAPI
	Redirects   RedirectValidator
}

// NewRouter は全エンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	RequestID → Recovery → Logging → SecurityHeaders → CORS
//	  → Session → CSRF → RateLimit(General)
//
// /health と /metrics はセッションを開かない。
func NewRouter(deps *RouterDeps) http.Handler {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r := chi.NewRouter()

	r.Use(middleware.NewRequestIDMiddleware())
	r.Use(middleware.NewRecoveryMiddleware())
	r.Use(middleware.NewLoggingMiddleware(logger, deps.StatusRecorder))
	r.Use(middleware.NewSecurityHeadersMiddleware())
	r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))

	sessionHandler := NewSessionHandler(deps.Resolver, deps.Sanitizer)
	authHandler := NewAuthHandler(deps.AuthAPI, deps.Resolver, deps.AuthConfig)
	reportHandler := NewReportHandler(deps.ReportAPI, deps.Resolver, deps.Images, deps.ImageURLs, deps.Sanitizer)
	profileHandler := NewProfileHandler(deps.ProfileAPI, deps.Resolver, deps.Sanitizer)
	adminHandler := NewAdminHandler(deps.AdminAPI, deps.Resolver, deps.Sanitizer)
	donationHandler := NewDonationHandler(deps.DonationAPI, deps.Resolver, deps.Redirects)

	// --- 運用エンドポイント ---
	r.Method(http.MethodGet, "/health", NewHealthHandler(deps.HealthChecker))
	if deps.MetricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", deps.MetricsHandler)
	}

	// --- ブラウザセッションを使うルート ---
	// ミドルウェアスタック: Session → CSRF → RateLimit(General)
	r.Group(func(r chi.Router) {
		r.Use(middleware.NewSessionMiddleware(deps.Sessions, deps.Cookie))
		r.Use(middleware.NewCSRFMiddleware(deps.Cookie))
		r.Use(deps.RateLimiter.GeneralMiddleware())

		r.Method(http.MethodGet, "/api/csrf-token", middleware.NewCSRFTokenHandler(deps.Cookie))

		// 認証
		r.Route("/auth", func(r chi.Router) {
			r.Post("/sign-up", authHandler.SignUp)
			r.Post("/sign-in", authHandler.SignIn)
			r.Get("/google/login", authHandler.GoogleLogin)
			r.Get("/google/callback", authHandler.GoogleCallback)
			r.Post("/logout", authHandler.Logout)
		})

		// ヘッダー表示
		r.Get("/api/session", sessionHandler.Get)

		// 報告
		r.Route("/api/reports", func(r chi.Router) {
			r.Get("/", reportHandler.List)
			// POST /api/reports - 報告作成（作成専用レート制限を追加）
			r.With(deps.RateLimiter.ReportCreationMiddleware()).Post("/", reportHandler.Create)

			r.Route("/{id}", func(r chi.Router) {
				r.Delete("/", reportHandler.Delete)
				r.Put("/after-photo", reportHandler.AttachAfterPhoto)
			})
		})

		// プロフィール
		r.Route("/api/profile", func(r chi.Router) {
			r.Get("/", profileHandler.Get)
			r.Put("/", profileHandler.Update)
		})

		// 管理画面
		r.Get("/api/dashboard", adminHandler.Dashboard)
		r.Route("/api/admin/users/{id}", func(r chi.Router) {
			r.Delete("/", adminHandler.DeleteUser)
			r.Put("/", adminHandler.UpdateUser)
		})

		// 寄付
		r.Post("/api/donations/checkout", donationHandler.Checkout)
	})

	return r
}
