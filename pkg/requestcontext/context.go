// Package requestcontext provides HTTP-independent context accessors for request-scoped values.
//
// Middleware sets the values; services and stores read them. Keeping this
// package free of net/http lets the office service and its stores depend on
// the tenant and acting user without importing transport code.
//
// Usage in services (read values):
//
//	tenant := requestcontext.Tenant(ctx)
//	user := requestcontext.User(ctx)
//	now := requestcontext.Now(ctx)
//
// Usage in tests (inject values):
//
//	ctx = requestcontext.WithTenant(ctx, "acme")
//	ctx = requestcontext.WithTime(ctx, fixedTime)
package requestcontext

import (
	"context"
	"time"
)

// Context key types (unexported for encapsulation).
type (
	tenantKey      struct{}
	userKey        struct{}
	requestIDKey   struct{}
	requestTimeKey struct{}
)

// Exported context keys for direct use in tests that need context.WithValue.
var (
	ContextKeyTenant      = tenantKey{}
	ContextKeyUser        = userKey{}
	ContextKeyRequestID   = requestIDKey{}
	ContextKeyRequestTime = requestTimeKey{}
)

// -----------------------------------------------------------------------------
// Tenant and user
// -----------------------------------------------------------------------------

// Tenant retrieves the acting tenant identifier from the context.
// Returns "" if not set.
func Tenant(ctx context.Context) string {
	if tenant, ok := ctx.Value(ContextKeyTenant).(string); ok {
		return tenant
	}
	return ""
}

// WithTenant injects the acting tenant into the context.
func WithTenant(ctx context.Context, tenant string) context.Context {
	return context.WithValue(ctx, ContextKeyTenant, tenant)
}

// User retrieves the acting user from the context.
// Returns "" for anonymous or system callers.
func User(ctx context.Context) string {
	if user, ok := ctx.Value(ContextKeyUser).(string); ok {
		return user
	}
	return ""
}

// WithUser injects the acting user into the context.
func WithUser(ctx context.Context, user string) context.Context {
	return context.WithValue(ctx, ContextKeyUser, user)
}

// -----------------------------------------------------------------------------
// Request metadata
// -----------------------------------------------------------------------------

// RequestID retrieves the request ID from the context.
func RequestID(ctx context.Context) string {
	if reqID, ok := ctx.Value(ContextKeyRequestID).(string); ok {
		return reqID
	}
	return ""
}

// WithRequestID injects a request ID into the context.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, ContextKeyRequestID, requestID)
}

// -----------------------------------------------------------------------------
// Request time
// -----------------------------------------------------------------------------

// Now retrieves the request-scoped time from context.
// Falls back to time.Now() if not set (workers, tests).
func Now(ctx context.Context) time.Time {
	if t, ok := ctx.Value(ContextKeyRequestTime).(time.Time); ok {
		return t
	}
	return time.Now()
}

// WithTime injects a specific time into a context.
func WithTime(ctx context.Context, t time.Time) context.Context {
	return context.WithValue(ctx, ContextKeyRequestTime, t)
}
