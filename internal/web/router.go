package web

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/mwielgosz/userhub/internal/account"
	"github.com/mwielgosz/userhub/internal/logging"
	"github.com/mwielgosz/userhub/internal/metrics"
	"github.com/mwielgosz/userhub/internal/session"
)

// NewRouter creates and configures the HTTP router.
func NewRouter(
	accountHandler *account.Handler,
	sessions *session.Manager,
	logger *logging.Logger,
	registry *prometheus.Registry,
) *chi.Mux {
	r := chi.NewRouter()

	collector := metrics.NewCollector(registry)

	r.Use(SecurityHeaders)
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(logging.RequestLogger(logger))
	r.Use(collector.Middleware)
	r.Use(chimiddleware.Compress(5))

	r.Get("/healthz", handleHealth)
	r.Method(http.MethodGet, "/metrics", metrics.SetupMetricsRoute(registry))

	// Public pages
	r.Get("/", accountHandler.Landing)
	r.Get("/register", accountHandler.RegisterForm)
	r.Post("/register", accountHandler.Register)
	r.Get("/login", accountHandler.LoginForm)
	r.Post("/login", accountHandler.Login)
	r.Get("/confirm/{token}", accountHandler.Confirm)
	r.Get("/forgot_password", accountHandler.ForgotPasswordForm)
	r.Post("/forgot_password", accountHandler.ForgotPassword)
	r.Get("/reset_password/{token}", accountHandler.ResetPasswordForm)
	r.Post("/reset_password/{token}", accountHandler.ResetPassword)

	// Protected pages
	r.Group(func(r chi.Router) {
		r.Use(sessions.RequireAuth)
		r.Get("/dashboard", accountHandler.Dashboard)
		r.Get("/logout", accountHandler.Logout)
		r.Get("/change_password_request", accountHandler.ChangePasswordForm)
		r.Post("/change_password_request", accountHandler.ChangePassword)
	})

	return r
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}
