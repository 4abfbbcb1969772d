package http

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/medping/golang_services/internal/broadcast_service/middleware"
)

// NewRouter wires health, metrics, the authenticated API under /api/v1 and the
// live channel at /ws.
func NewRouter(h *Handler, live *LiveHandler, auth *middleware.Authenticator) chi.Router {
	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(PrometheusMetricsMiddleware)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		respondSuccess(w, http.StatusOK, "broadcast service is healthy", nil)
	})
	r.Handle("/metrics", promhttp.Handler())

	// Long-lived; stays outside the timeout middleware.
	r.Get("/ws", live.ServeHTTP)

	r.Route("/api/v1", func(api chi.Router) {
		api.Use(chimiddleware.Timeout(30 * time.Second))
		api.Use(auth.Middleware)
		h.RegisterRoutes(api)
	})
	return r
}
