package http

import (
	"log/slog"
	"net/http"
	"net/netip"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tejasdc/starter-stack/internal/gate"
	"github.com/tejasdc/starter-stack/internal/service"
	"github.com/tejasdc/starter-stack/pkg/httputil"
	"github.com/tejasdc/starter-stack/pkg/middleware"
)

// RouterConfig holds the cross-cutting settings of the HTTP surface.
type RouterConfig struct {
	ServiceName       string
	CORS              middleware.CORSConfig
	PprofAllowed []netip.Prefix
}

// NewRouter creates a chi router with all routes registered. Everything under
// /api passes through the gate; unknown /api paths are authenticated before
// they are reported as not found.
func NewRouter(
	authService *service.AuthService,
	authGate *gate.Gate,
	healthHandler http.Handler,
	logger *slog.Logger,
	cfg RouterConfig,
) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.Recovery(logger))
	r.Use(middleware.RequestLogging(logger))
	r.Use(middleware.PrometheusMetrics(cfg.ServiceName))
	r.Use(middleware.Tracing(cfg.ServiceName))
	r.Use(middleware.RequestLogger(logger))
	r.Use(middleware.CORS(cfg.CORS))

	r.NotFound(httputil.NotFoundHandler)
	r.MethodNotAllowed(httputil.MethodNotAllowedHandler)

	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		httputil.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Handle("/metrics", promhttp.Handler())

	if len(cfg.PprofAllowed) > 0 {
		middleware.RegisterPprof(r, cfg.PprofAllowed, logger)
	}

	authHandler := NewAuthHandler(authService, logger)

	r.Route("/api", func(r chi.Router) {
		r.Use(authGate.Middleware)
		r.NotFound(httputil.NotFoundHandler)
		r.MethodNotAllowed(httputil.MethodNotAllowedHandler)

		r.Method(http.MethodGet, "/health", healthHandler)

		r.Route("/auth", func(r chi.Router) {
			r.Use(middleware.NoStore)
			r.Use(ContentTypeJSON)

			r.Post("/register", authHandler.Register)
			r.Get("/me", authHandler.Me)
			r.Get("/api-keys", authHandler.ListAPIKeys)
			r.Post("/api-keys", authHandler.CreateAPIKey)
			r.Post("/api-keys/{id}/revoke", authHandler.RevokeAPIKey)
		})
	})

	return r
}
