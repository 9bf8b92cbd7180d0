package middleware

import (
	"log/slog"
	"net/http"
	"strings"

	dErrors "officehub/pkg/domain-errors"
	"officehub/pkg/platform/httputil"
	"officehub/pkg/requestcontext"
)

// TenantHeader names the header that scopes every API request.
const TenantHeader = "X-Tenant-Identifier"

// RequireTenant rejects requests without a tenant header and stores the
// tenant in the request context.
func RequireTenant(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tenant := strings.TrimSpace(r.Header.Get(TenantHeader))
			if tenant == "" {
				logger.WarnContext(r.Context(), "missing tenant header",
					"request_id", requestcontext.RequestID(r.Context()),
				)
				httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, TenantHeader+" header is required"))
				return
			}
			next.ServeHTTP(w, r.WithContext(requestcontext.WithTenant(r.Context(), tenant)))
		})
	}
}
