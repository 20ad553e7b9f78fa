package persistence

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"

	"mapsync/internal/application/ports"
	"mapsync/internal/config"
	"mapsync/internal/infrastructure/persistence/memory"
	pkgerrors "mapsync/pkg/errors"
)

// failingStore fails every node write and otherwise defers to memory
type failingStore struct {
	*memory.Store
	err error
}

func (f *failingStore) InsertNodes(ctx context.Context, mapID string, rows []ports.NodeRow) error {
	return f.err
}

func TestResilientStore_OpensAfterFailures(t *testing.T) {
	// Arrange
	inner := &failingStore{Store: memory.NewStore(zap.NewNop()), err: errors.New("connection refused")}
	settings := DefaultBreakerSettings()
	settings.MinRequests = 3
	settings.FailureThreshold = 0.5
	settings.Timeout = time.Hour
	store := NewResilientStore(inner, settings, nil, zap.NewNop())
	ctx := context.Background()

	// Act
	for i := 0; i < 3; i++ {
		err := store.InsertNodes(ctx, "m1", []ports.NodeRow{{NodeID: "a"}})
		require.Error(t, err)
		assert.False(t, pkgerrors.IsType(err, pkgerrors.ErrorTypeUnavailable))
	}
	_, err := store.ListEdges(ctx, "m1")

	// Assert
	assert.Equal(t, gobreaker.StateOpen, store.State())
	require.Error(t, err)
	assert.True(t, pkgerrors.IsType(err, pkgerrors.ErrorTypeUnavailable))
}

func TestResilientStore_NotFoundIsNotAFailure(t *testing.T) {
	settings := DefaultBreakerSettings()
	settings.MinRequests = 1
	settings.FailureThreshold = 0.1
	store := NewResilientStore(memory.NewStore(zap.NewNop()), settings, nil, zap.NewNop())

	for i := 0; i < 5; i++ {
		_, err := store.GetMap(context.Background(), "missing")
		assert.ErrorIs(t, err, ports.ErrNotFound)
	}

	assert.Equal(t, gobreaker.StateClosed, store.State())
}

func TestTracedStore_PassesThrough(t *testing.T) {
	inner := memory.NewStore(zap.NewNop())
	store := NewTracedStore(inner, noop.NewTracerProvider().Tracer("test"))
	ctx := context.Background()

	require.NoError(t, store.InsertMap(ctx, ports.MapRecord{ID: "m1", OwnerID: "u1", Title: "T"}, ports.NodeRow{NodeID: "seed"}))
	rec, err := store.GetMap(ctx, "m1")
	require.NoError(t, err)
	assert.Equal(t, "T", rec.Title)

	sub, err := store.Subscribe(ctx, ports.TableNodes, "m1")
	require.NoError(t, err)
	require.NoError(t, sub.Close())
}

func TestNewStore_Drivers(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*config.Config)
		wantErr bool
	}{
		{name: "memory", mutate: func(c *config.Config) { c.Store.Driver = config.DriverMemory }},
		{name: "sqlite", mutate: func(c *config.Config) {
			c.Store.Driver = config.DriverSQLite
			c.Store.SQLitePath = filepath.Join(t.TempDir(), "maps.db")
		}},
		{name: "memory without breaker", mutate: func(c *config.Config) { c.Breaker.Enabled = false }},
		{name: "unknown", mutate: func(c *config.Config) { c.Store.Driver = "dynamo" }, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config.Default()
			tt.mutate(cfg)

			store, cleanup, err := NewStore(cfg, nil, zap.NewNop())
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			defer cleanup()

			nodes, err := store.ListNodes(context.Background(), "m1")
			require.NoError(t, err)
			assert.Empty(t, nodes)
		})
	}
}
