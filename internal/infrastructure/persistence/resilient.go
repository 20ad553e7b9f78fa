// Package persistence wires the shared store: the driver chosen by config,
// wrapped in a circuit breaker and in tracing.
package persistence

import (
	"context"
	"errors"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"mapsync/internal/application/ports"
	"mapsync/internal/infrastructure/observability"
	pkgerrors "mapsync/pkg/errors"
)

// BreakerSettings configures the store circuit breaker
type BreakerSettings struct {
	Name             string
	MaxRequests      uint32
	Interval         time.Duration
	Timeout          time.Duration
	FailureThreshold float64
	MinRequests      uint32
}

// DefaultBreakerSettings returns the settings used when config leaves them out
func DefaultBreakerSettings() BreakerSettings {
	return BreakerSettings{
		Name:             "store",
		MaxRequests:      5,
		Interval:         30 * time.Second,
		Timeout:          30 * time.Second,
		FailureThreshold: 0.6,
		MinRequests:      5,
	}
}

// ResilientStore fails fast while the shared store is unhealthy. Not-found
// answers and caller cancellations do not count as failures.
type ResilientStore struct {
	inner   ports.Store
	breaker *gobreaker.CircuitBreaker
	logger  *zap.Logger
}

var _ ports.Store = (*ResilientStore)(nil)

// NewResilientStore wraps inner in a circuit breaker
func NewResilientStore(inner ports.Store, settings BreakerSettings, metrics *observability.Metrics, logger *zap.Logger) *ResilientStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	log := logger.Named("breaker")

	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        settings.Name,
		MaxRequests: settings.MaxRequests,
		Interval:    settings.Interval,
		Timeout:     settings.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < settings.MinRequests {
				return false
			}
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return failureRatio >= settings.FailureThreshold
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			log.Warn("Circuit breaker state changed",
				zap.String("name", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
			metrics.SetBreakerState(name, float64(to))
		},
		IsSuccessful: func(err error) bool {
			return err == nil ||
				errors.Is(err, ports.ErrNotFound) ||
				errors.Is(err, context.Canceled)
		},
	})
	metrics.SetBreakerState(settings.Name, float64(gobreaker.StateClosed))

	return &ResilientStore{inner: inner, breaker: cb, logger: log}
}

// State reports the breaker state
func (s *ResilientStore) State() gobreaker.State {
	return s.breaker.State()
}

func (s *ResilientStore) execute(op string, fn func() (interface{}, error)) (interface{}, error) {
	result, err := s.breaker.Execute(fn)
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		s.logger.Debug("Store call rejected", zap.String("operation", op), zap.Error(err))
		return nil, pkgerrors.NewUnavailableError("store").WithCause(err)
	}
	return result, err
}

func (s *ResilientStore) run(op string, fn func() error) error {
	_, err := s.execute(op, func() (interface{}, error) {
		return nil, fn()
	})
	return err
}

func (s *ResilientStore) GetMap(ctx context.Context, mapID string) (*ports.MapRecord, error) {
	res, err := s.execute("GetMap", func() (interface{}, error) {
		return s.inner.GetMap(ctx, mapID)
	})
	if err != nil {
		return nil, err
	}
	return res.(*ports.MapRecord), nil
}

func (s *ResilientStore) ListMaps(ctx context.Context, ownerID string) ([]ports.MapRecord, error) {
	res, err := s.execute("ListMaps", func() (interface{}, error) {
		return s.inner.ListMaps(ctx, ownerID)
	})
	if err != nil {
		return nil, err
	}
	return res.([]ports.MapRecord), nil
}

func (s *ResilientStore) InsertMap(ctx context.Context, record ports.MapRecord, seed ports.NodeRow) error {
	return s.run("InsertMap", func() error { return s.inner.InsertMap(ctx, record, seed) })
}

func (s *ResilientStore) UpdateMapTitle(ctx context.Context, mapID, title string) error {
	return s.run("UpdateMapTitle", func() error { return s.inner.UpdateMapTitle(ctx, mapID, title) })
}

func (s *ResilientStore) SetMapShared(ctx context.Context, mapID string, shared bool) error {
	return s.run("SetMapShared", func() error { return s.inner.SetMapShared(ctx, mapID, shared) })
}

func (s *ResilientStore) DeleteMap(ctx context.Context, mapID string) error {
	return s.run("DeleteMap", func() error { return s.inner.DeleteMap(ctx, mapID) })
}

func (s *ResilientStore) ListNodes(ctx context.Context, mapID string) ([]ports.NodeRow, error) {
	res, err := s.execute("ListNodes", func() (interface{}, error) {
		return s.inner.ListNodes(ctx, mapID)
	})
	if err != nil {
		return nil, err
	}
	return res.([]ports.NodeRow), nil
}

func (s *ResilientStore) DeleteNodes(ctx context.Context, mapID string) error {
	return s.run("DeleteNodes", func() error { return s.inner.DeleteNodes(ctx, mapID) })
}

func (s *ResilientStore) InsertNodes(ctx context.Context, mapID string, rows []ports.NodeRow) error {
	return s.run("InsertNodes", func() error { return s.inner.InsertNodes(ctx, mapID, rows) })
}

func (s *ResilientStore) ListEdges(ctx context.Context, mapID string) ([]ports.EdgeRow, error) {
	res, err := s.execute("ListEdges", func() (interface{}, error) {
		return s.inner.ListEdges(ctx, mapID)
	})
	if err != nil {
		return nil, err
	}
	return res.([]ports.EdgeRow), nil
}

func (s *ResilientStore) DeleteEdges(ctx context.Context, mapID string) error {
	return s.run("DeleteEdges", func() error { return s.inner.DeleteEdges(ctx, mapID) })
}

func (s *ResilientStore) InsertEdges(ctx context.Context, mapID string, rows []ports.EdgeRow) error {
	return s.run("InsertEdges", func() error { return s.inner.InsertEdges(ctx, mapID, rows) })
}

func (s *ResilientStore) Subscribe(ctx context.Context, table ports.Table, mapID string) (ports.Subscription, error) {
	res, err := s.execute("Subscribe", func() (interface{}, error) {
		return s.inner.Subscribe(ctx, table, mapID)
	})
	if err != nil {
		return nil, err
	}
	return res.(ports.Subscription), nil
}
