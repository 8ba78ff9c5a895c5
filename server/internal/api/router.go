package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/Digital-master-solutions/sen-alerte-sub000/server/internal/auth"
	"github.com/Digital-master-solutions/sen-alerte-sub000/server/internal/metrics"
	"github.com/Digital-master-solutions/sen-alerte-sub000/server/internal/middleware"
)

// RouterConfig holds the HTTP surface settings
type RouterConfig struct {
	Logger      *slog.Logger
	Metrics     *metrics.Metrics
	IsDev       bool
	CORSOrigins []string
	BodyLimit   int64

	RefreshLimit  int
	RefreshWindow time.Duration

	LoginMaxAttempts int
	LoginWindow      time.Duration
}

// NewRouter mounts every endpoint behind the shared middleware stack
func NewRouter(h *Handler, cfg RouterConfig) http.Handler {
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}

	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(middleware.RequestLogger(log))
	r.Use(chimw.Recoverer)
	if cfg.Metrics != nil {
		r.Use(cfg.Metrics.Instrument)
	}
	r.Use(middleware.SecureHeaders(cfg.IsDev))
	r.Use(middleware.CORS(cfg.CORSOrigins))
	if cfg.BodyLimit > 0 {
		r.Use(middleware.MaxBodySize(cfg.BodyLimit))
	}

	r.Get("/health", HealthHandler)
	if cfg.Metrics != nil {
		r.Handle("/metrics", cfg.Metrics.Handler())
	}

	r.Route("/auth", func(r chi.Router) {
		login := r.With()
		if h.loginLimiter != nil && cfg.LoginMaxAttempts > 0 {
			login = r.With(middleware.LoginThrottle(h.loginLimiter, cfg.LoginMaxAttempts, cfg.LoginWindow, nil))
		}
		login.Post("/login", h.Login)

		refresh := r.With()
		if cfg.RefreshLimit > 0 {
			refresh = r.With(middleware.RefreshThrottle(cfg.RefreshLimit, cfg.RefreshWindow, nil))
		}
		refresh.Post("/refresh", h.Refresh)

		r.Post("/logout", h.Logout)
		r.With(middleware.RequireAuth(h.tokens)).Get("/me", h.Me)
	})

	r.Route("/admin", func(r chi.Router) {
		r.Use(middleware.RequireAuth(h.tokens))
		r.Use(middleware.RequireRole(auth.RoleAdministrator))
		r.Get("/sessions", h.ListSessions)
		r.Delete("/sessions/{id}", h.RevokeSession)
	})

	return r
}
