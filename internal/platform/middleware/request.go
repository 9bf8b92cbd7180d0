package middleware

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"officehub/pkg/requestcontext"
)

// RequestContext copies chi's request ID into requestcontext and pins the
// request time. It must run after chimw.RequestID.
func RequestContext(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if id := chimw.GetReqID(ctx); id != "" {
			ctx = requestcontext.WithRequestID(ctx, id)
			w.Header().Set(chimw.RequestIDHeader, id)
		}
		ctx = requestcontext.WithTime(ctx, time.Now().UTC())
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequestObserver receives one observation per completed request.
type RequestObserver interface {
	ObserveRequest(route, method string, status int, start time.Time)
}

// AccessLog logs each request and reports its latency by route pattern.
// observer may be nil.
func AccessLog(logger *slog.Logger, observer RequestObserver) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)

			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			route := r.URL.Path
			if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
				route = rctx.RoutePattern()
			}
			if observer != nil {
				observer.ObserveRequest(route, r.Method, status, start)
			}

			ctx := r.Context()
			logger.InfoContext(ctx, "http request",
				"request_id", requestcontext.RequestID(ctx),
				"method", r.Method,
				"route", route,
				"status", status,
				"bytes", ww.BytesWritten(),
				"duration_ms", time.Since(start).Milliseconds(),
			)
		})
	}
}
