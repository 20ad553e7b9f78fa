package rest

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"mapsync/internal/application/services"
	"mapsync/internal/application/session"
	"mapsync/internal/infrastructure/observability"
	"mapsync/internal/infrastructure/persistence/memory"
	"mapsync/internal/interfaces/http/rest/handlers"
	"mapsync/internal/interfaces/http/rest/middleware"
	"mapsync/internal/interfaces/websocket"
	"mapsync/pkg/auth"
)

const testSecret = "router-test-secret-0123456789"

func newTestRouter(t *testing.T, withAuth, enableMetrics bool) http.Handler {
	t.Helper()
	logger := zap.NewNop()
	store := memory.NewStore(logger)
	metrics := observability.NewMetrics("router_test")
	maps := services.NewMapService(store, nil, logger)
	manager := session.NewManager(store, session.DefaultOptions(), metrics, logger)
	hub := websocket.NewHub(4, logger)
	t.Cleanup(func() {
		hub.Stop()
		_ = manager.Shutdown(context.Background())
	})

	var (
		restValidator middleware.TokenValidator
		wsValidator   websocket.TokenValidator
	)
	if withAuth {
		v, err := auth.NewValidator(testSecret, "")
		require.NoError(t, err)
		restValidator, wsValidator = v, v
	}

	canvas := websocket.NewServer(hub, manager, maps, wsValidator, websocket.DefaultServerConfig(), logger)
	router := NewRouter(
		handlers.NewMapHandler(maps, withAuth, logger),
		canvas,
		restValidator,
		metrics,
		RouterConfig{AllowedOrigins: []string{"https://app.example.com"}, EnableMetrics: enableMetrics},
		logger,
	)
	return router.Setup()
}

func serve(h http.Handler, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestRouter_Health(t *testing.T) {
	h := newTestRouter(t, false, false)

	rec := serve(h, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"healthy"}`, rec.Body.String())
}

func TestRouter_Metrics(t *testing.T) {
	// Arrange
	enabled := newTestRouter(t, false, true)
	disabled := newTestRouter(t, false, false)
	serve(enabled, httptest.NewRequest(http.MethodGet, "/health", nil))

	// Act
	rec := serve(enabled, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	off := serve(disabled, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	// Assert
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "router_test_http_requests_total")
	assert.Equal(t, http.StatusNotFound, off.Code)
}

func TestRouter_MapsWithoutAuth(t *testing.T) {
	h := newTestRouter(t, false, false)

	req := httptest.NewRequest(http.MethodPost, "/api/maps", strings.NewReader(`{"owner_id":"user-1"}`))
	created := serve(h, req)
	listed := serve(h, httptest.NewRequest(http.MethodGet, "/api/maps?owner=user-1", nil))

	assert.Equal(t, http.StatusCreated, created.Code)
	assert.Contains(t, created.Body.String(), `"title":"Untitled Mind Map"`)
	assert.Contains(t, listed.Body.String(), `"total":1`)
}

func TestRouter_MapsRequireToken(t *testing.T) {
	// Arrange
	h := newTestRouter(t, true, false)
	token, err := auth.NewGenerator(testSecret, "", time.Hour).GenerateToken("user-1", "u@example.com")
	require.NoError(t, err)

	// Act
	anonymous := serve(h, httptest.NewRequest(http.MethodGet, "/api/maps", nil))
	req := httptest.NewRequest(http.MethodGet, "/api/maps", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	authed := serve(h, req)

	// Assert
	assert.Equal(t, http.StatusUnauthorized, anonymous.Code)
	assert.Equal(t, http.StatusOK, authed.Code)
	assert.Contains(t, authed.Body.String(), `"total":0`)
}

func TestRouter_CanvasAuthenticatesItself(t *testing.T) {
	h := newTestRouter(t, true, false)

	rec := serve(h, httptest.NewRequest(http.MethodGet, "/api/maps/m1/canvas", nil))

	// refused by the canvas server before any upgrade is attempted
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Body.String(), `"UNAUTHORIZED"`)
}

func TestRouter_CORSPreflight(t *testing.T) {
	h := newTestRouter(t, false, false)
	req := httptest.NewRequest(http.MethodOptions, "/api/maps", nil)
	req.Header.Set("Origin", "https://app.example.com")
	req.Header.Set("Access-Control-Request-Method", http.MethodPatch)

	rec := serve(h, req)

	assert.Equal(t, "https://app.example.com", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Contains(t, rec.Header().Get("Access-Control-Allow-Methods"), http.MethodPatch)
}
