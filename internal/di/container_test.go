package di

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"

	"mapsync/internal/config"
)

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.Environment = config.Test
	cfg.Log.Level = "error"
	return cfg
}

func TestInitializeContainer_MemoryStore(t *testing.T) {
	// Arrange
	cfg := testConfig()

	// Act
	c, cleanup, err := InitializeContainer(context.Background(), cfg)
	require.NoError(t, err)
	defer cleanup()

	// Assert
	assert.Nil(t, c.Validator)
	assert.Equal(t, cfg.Server.Address, c.Server.Addr)

	rec := httptest.NewRecorder()
	c.Server.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	m, err := c.Maps.CreateMap(context.Background(), "user-1", "")
	require.NoError(t, err)
	s, err := c.Sessions.Open(context.Background(), m.ID)
	require.NoError(t, err)
	assert.Len(t, s.Graph().Nodes(), 1)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, c.Shutdown(ctx))
	assert.Zero(t, c.Sessions.OpenCount())
}

func TestInitializeContainer_AuthEnabled(t *testing.T) {
	cfg := testConfig()
	cfg.Auth.Enabled = true
	cfg.Auth.JWTSecret = "container-test-secret-123"

	c, cleanup, err := InitializeContainer(context.Background(), cfg)
	require.NoError(t, err)
	defer cleanup()

	require.NotNil(t, c.Validator)
	rec := httptest.NewRecorder()
	c.Server.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/maps", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestInitializeContainer_BadIDStrategy(t *testing.T) {
	cfg := testConfig()
	cfg.Sync.IDStrategy = "sequential"

	_, _, err := InitializeContainer(context.Background(), cfg)

	assert.Error(t, err)
}

func TestContainer_ApplyDynamic(t *testing.T) {
	c, cleanup, err := InitializeContainer(context.Background(), testConfig())
	require.NoError(t, err)
	defer cleanup()

	c.ApplyDynamic(config.Dynamic{LogLevel: "debug", DebounceWindow: time.Second})
	assert.Equal(t, zapcore.DebugLevel, c.Logger.Level())

	c.ApplyDynamic(config.Dynamic{LogLevel: "loud"})
	assert.Equal(t, zapcore.DebugLevel, c.Logger.Level())
}
