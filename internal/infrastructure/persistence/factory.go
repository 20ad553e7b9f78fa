package persistence

import (
	"fmt"

	"go.uber.org/zap"

	"mapsync/internal/application/ports"
	"mapsync/internal/config"
	"mapsync/internal/infrastructure/observability"
	"mapsync/internal/infrastructure/persistence/memory"
	"mapsync/internal/infrastructure/persistence/sqlite"
	"mapsync/internal/infrastructure/persistence/supabase"
)

// NewStore builds the driver named by cfg.Store and wraps it in tracing and,
// when enabled, the circuit breaker. The returned cleanup releases the driver.
func NewStore(cfg *config.Config, metrics *observability.Metrics, logger *zap.Logger) (ports.Store, func(), error) {
	var (
		store   ports.Store
		cleanup = func() {}
	)

	switch cfg.Store.Driver {
	case config.DriverMemory, "":
		store = memory.NewStore(logger)
	case config.DriverSQLite:
		s, err := sqlite.NewStore(cfg.Store.SQLitePath, logger)
		if err != nil {
			return nil, nil, err
		}
		store = s
		cleanup = func() {
			if err := s.Close(); err != nil {
				logger.Warn("Failed to close sqlite store", zap.Error(err))
			}
		}
	case config.DriverSupabase:
		s, err := supabase.NewStore(cfg.Store.SupabaseURL, cfg.Store.SupabaseKey, logger)
		if err != nil {
			return nil, nil, err
		}
		store = s
	default:
		return nil, nil, fmt.Errorf("unknown store driver %q", cfg.Store.Driver)
	}

	if cfg.Breaker.Enabled {
		store = NewResilientStore(store, BreakerSettings{
			Name:             "store-" + cfg.Store.Driver,
			MaxRequests:      cfg.Breaker.MaxRequests,
			Interval:         cfg.Breaker.Interval.Std(),
			Timeout:          cfg.Breaker.Timeout.Std(),
			FailureThreshold: cfg.Breaker.FailureThreshold,
			MinRequests:      cfg.Breaker.MinRequests,
		}, metrics, logger)
	}
	store = NewTracedStore(store, observability.Tracer())

	logger.Info("Shared store ready",
		zap.String("driver", cfg.Store.Driver),
		zap.Bool("breaker", cfg.Breaker.Enabled),
	)
	return store, cleanup, nil
}
