package httpapi

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	officehandler "officehub/internal/office/handler"
	"officehub/internal/platform/middleware"
	"officehub/pkg/platform/httputil"
)

// HealthCheck reports whether one backing service is reachable.
type HealthCheck func(ctx context.Context) error

// Deps is everything the router needs. Auth and Metrics are optional.
type Deps struct {
	Office  *officehandler.Handler
	Auth    middleware.JWTValidator
	Metrics middleware.RequestObserver
	Health  map[string]HealthCheck
	Logger  *slog.Logger
}

// NewRouter wires the public endpoints. Operational routes (/health,
// /metrics) skip tenant resolution; everything under the API group requires
// the tenant header and, when configured, a bearer token.
func NewRouter(d Deps) http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(middleware.RequestContext)
	r.Use(middleware.AccessLog(d.Logger, d.Metrics))
	r.Use(chimw.Recoverer)

	r.Get("/health", health(d.Health))
	r.Handle("/metrics", promhttp.Handler())

	r.Group(func(r chi.Router) {
		r.Use(middleware.RequireTenant(d.Logger))
		if d.Auth != nil {
			r.Use(middleware.RequireAuth(d.Auth, d.Logger))
		}
		d.Office.Register(r)
	})
	return r
}

type healthResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

func health(checks map[string]HealthCheck) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		resp := healthResponse{Status: "ok", Checks: make(map[string]string, len(checks))}
		status := http.StatusOK
		for name, check := range checks {
			if err := check(ctx); err != nil {
				resp.Checks[name] = err.Error()
				resp.Status = "degraded"
				status = http.StatusServiceUnavailable
				continue
			}
			resp.Checks[name] = "ok"
		}
		httputil.WriteJSON(w, status, resp)
	}
}
