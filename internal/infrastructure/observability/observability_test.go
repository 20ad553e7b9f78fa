package observability

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func TestMetrics_NilSafe(t *testing.T) {
	var m *Metrics

	assert.NotPanics(t, func() {
		m.RecordWrite("nodes", nil, time.Millisecond)
		m.RecordWriteRetry("nodes")
		m.RecordReload(errors.New("x"))
		m.RecordFeedEvent("nodes", "INSERT")
		m.SessionOpened()
		m.SessionClosed()
		m.RecordMutation("create_node")
		m.RecordHTTPRequest("GET", "/health", "200", time.Millisecond)
		m.SetBreakerState("store", 2)
	})
	assert.Nil(t, m.Registry())
}

func TestMetrics_Counters(t *testing.T) {
	m := NewMetrics("mapsync")

	m.RecordWrite("nodes", nil, time.Millisecond)
	m.RecordWrite("nodes", errors.New("boom"), time.Millisecond)
	m.RecordWrite("edges", nil, time.Millisecond)
	m.SessionOpened()
	m.SessionOpened()
	m.SessionClosed()

	assert.Equal(t, 1.0, testutil.ToFloat64(m.writes.WithLabelValues("nodes", ResultFailure)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.writes.WithLabelValues("edges", ResultSuccess)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.sessionsOpen))
}

func TestMetrics_Handler(t *testing.T) {
	m := NewMetrics("mapsync")
	m.RecordReload(nil)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `mapsync_reloads_total{result="success"} 1`)
}

func TestLogger_SetLevel(t *testing.T) {
	logger, err := NewLogger("warn", "production")
	require.NoError(t, err)
	assert.Equal(t, zapcore.WarnLevel, logger.Level())

	require.NoError(t, logger.SetLevel("debug"))
	assert.Equal(t, zapcore.DebugLevel, logger.Level())
	assert.True(t, logger.Core().Enabled(zapcore.DebugLevel))

	assert.Error(t, logger.SetLevel("loud"))
	_, err = NewLogger("loud", "production")
	assert.Error(t, err)
}

func TestInitTracing_DisabledWithoutEndpoint(t *testing.T) {
	tp, err := InitTracing(context.Background(), "mapsync", "test", "", 1)

	require.NoError(t, err)
	assert.NoError(t, tp.Shutdown(context.Background()))
	assert.NotNil(t, Tracer())
}
