package http

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/utafrali/authcore/internal/service"
	"github.com/utafrali/authcore/pkg/health"
	"github.com/utafrali/authcore/pkg/middleware"
)

// RouterConfig holds the HTTP-layer settings.
type RouterConfig struct {
	ServiceName string
	CORS        middleware.CORSConfig
	// ThrottleRPS and ThrottleBurst size the per-IP token bucket on the
	// sign-in endpoints. A non-positive rate disables it.
	ThrottleRPS   float64
	ThrottleBurst int
	PprofCIDRs    []string
	// TrustedProxyCIDRs lists the reverse proxies whose forwarding headers
	// name the client address.
	TrustedProxyCIDRs []string
}

// NewRouter creates a chi router with all auth routes registered.
func NewRouter(
	authService *service.AuthService,
	healthHandler *health.Handler,
	logger *slog.Logger,
	cfg RouterConfig,
) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(middleware.TrustedProxies(cfg.TrustedProxyCIDRs, logger))
	r.Use(middleware.RequestLogging(logger))
	r.Use(middleware.Tracing(cfg.ServiceName))
	r.Use(middleware.RequestLogger(logger))
	r.Use(middleware.Recovery(logger))
	r.Use(middleware.CORS(cfg.CORS))
	r.Use(middleware.PrometheusMetrics(cfg.ServiceName))

	// Health check endpoints
	r.Get("/health/live", healthHandler.LivenessHandler())
	r.Get("/health/ready", healthHandler.ReadinessHandler())
	r.Handle("/metrics", promhttp.Handler())
	if len(cfg.PprofCIDRs) > 0 {
		middleware.RegisterPprof(r, cfg.PprofCIDRs, logger)
	}

	authHandler := NewAuthHandler(authService, logger)
	accountHandler := NewAccountHandler(authService, logger)
	throttle := middleware.Throttle(cfg.ThrottleRPS, cfg.ThrottleBurst, logger)

	r.Route("/auth", func(r chi.Router) {
		r.Use(ContentTypeJSON)
		r.Use(middleware.NoStore)

		// Public
		r.With(throttle).Post("/register", authHandler.Register)
		r.With(throttle).Post("/login", authHandler.Login)
		r.With(throttle).Post("/google", authHandler.GoogleLogin)
		r.Post("/refresh-token", authHandler.RefreshToken)
		r.Post("/forgot-password", authHandler.ForgotPassword)
		r.Get("/reset-password/{token}", authHandler.ValidateResetToken)
		r.Post("/reset-password/{token}", authHandler.ResetPassword)
		r.Get("/verify-email/{token}", authHandler.VerifyEmail)

		// Signed in
		r.Group(func(r chi.Router) {
			r.Use(middleware.Auth(Gateway(authService)))

			r.Get("/me", accountHandler.Me)
			r.Post("/logout", accountHandler.Logout)
			r.Put("/change-password", accountHandler.ChangePassword)
			r.Post("/set-password", accountHandler.SetPassword)
			r.Post("/google/link", accountHandler.LinkGoogle)
			r.Post("/google/unlink", accountHandler.UnlinkGoogle)
			r.Post("/resend-verification", accountHandler.ResendVerification)
			r.Delete("/account", accountHandler.DeleteAccount)

			r.Get("/sessions", accountHandler.ListSessions)
			r.Post("/sessions/revoke-all", accountHandler.RevokeAllSessions)
			r.Delete("/sessions/{id}", accountHandler.RevokeSession)
		})
	})

	return r
}
