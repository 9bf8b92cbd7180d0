package middleware

import (
	"log/slog"
	"net/http"
	"strings"

	jwttoken "officehub/internal/jwt_token"
	dErrors "officehub/pkg/domain-errors"
	"officehub/pkg/platform/httputil"
	"officehub/pkg/requestcontext"
)

// JWTValidator defines the interface for validating JWT tokens
type JWTValidator interface {
	ValidateToken(tokenString string) (*jwttoken.Claims, error)
}

// RequireAuth validates the bearer token, checks that its tenant claim matches
// the tenant already resolved from the request header, and stores the subject
// as the acting user. It must run after RequireTenant.
func RequireAuth(validator JWTValidator, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			requestID := requestcontext.RequestID(ctx)

			token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
			if !ok || token == "" {
				logger.WarnContext(ctx, "unauthorized access - missing token",
					"request_id", requestID,
				)
				httputil.WriteError(w, dErrors.New(dErrors.CodeUnauthorized, "missing or invalid Authorization header"))
				return
			}

			claims, err := validator.ValidateToken(token)
			if err != nil {
				logger.WarnContext(ctx, "unauthorized access - invalid token",
					"error", err,
					"request_id", requestID,
				)
				httputil.WriteError(w, dErrors.New(dErrors.CodeUnauthorized, "invalid or expired token"))
				return
			}

			if tenant := requestcontext.Tenant(ctx); claims.Tenant != tenant {
				logger.WarnContext(ctx, "token tenant does not match request tenant",
					"request_id", requestID,
					"tenant", tenant,
					"token_tenant", claims.Tenant,
				)
				httputil.WriteError(w, dErrors.New(dErrors.CodeForbidden, "token is not valid for this tenant"))
				return
			}

			ctx = requestcontext.WithUser(ctx, claims.Subject)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
