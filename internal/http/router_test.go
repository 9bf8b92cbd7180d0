package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"officehub/internal/events"
	jwttoken "officehub/internal/jwt_token"
	officehandler "officehub/internal/office/handler"
	"officehub/internal/office/service"
	"officehub/internal/office/store"
	"officehub/internal/platform/middleware"
)

func newTestRouter(t *testing.T, auth middleware.JWTValidator, checks map[string]HealthCheck) http.Handler {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	bus := events.NewBus()
	svc := service.New(store.NewInMemory(), bus)
	return NewRouter(Deps{
		Office: officehandler.New(svc, events.NewRecorder().Attach(bus), logger),
		Auth:   auth,
		Health: checks,
		Logger: logger,
	})
}

func TestHealth(t *testing.T) {
	router := newTestRouter(t, nil, map[string]HealthCheck{
		"postgres": func(context.Context) error { return nil },
		"redis":    func(context.Context) error { return errors.New("connection refused") },
	})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	var body healthResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.Equal(t, "degraded", body.Status)
	assert.Equal(t, "ok", body.Checks["postgres"])
	assert.Equal(t, "connection refused", body.Checks["redis"])
}

func TestOperationalRoutesSkipTenant(t *testing.T) {
	router := newTestRouter(t, nil, nil)
	for _, path := range []string{"/health", "/metrics"} {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		assert.Equal(t, http.StatusOK, rec.Code, path)
	}
}

func TestAPIRequiresTenantAndToken(t *testing.T) {
	jwt := jwttoken.NewJWTService("key", "officehub")
	router := newTestRouter(t, jwt, nil)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/office/v1/offices", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/office/v1/offices", nil)
	req.Header.Set(middleware.TenantHeader, "acme")
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	token, err := jwt.GenerateAccessToken("operator", "acme", time.Hour)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+token)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("X-Request-Id"))
}
