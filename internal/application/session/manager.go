package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"mapsync/internal/application/ports"
	"mapsync/internal/domain/aggregates"
	"mapsync/internal/domain/valueobjects"
	"mapsync/internal/infrastructure/observability"
	pkgerrors "mapsync/pkg/errors"
)

// Options configures the sessions a Manager opens
type Options struct {
	DebounceWindow time.Duration
	WriteTimeout   time.Duration
	Retry          RetryPolicy
	IDs            valueobjects.IDGenerator
}

// DefaultOptions matches the shipped configuration
func DefaultOptions() Options {
	return Options{
		DebounceWindow: 500 * time.Millisecond,
		WriteTimeout:   10 * time.Second,
		Retry:          DefaultRetryPolicy(),
		IDs:            valueobjects.UUIDGenerator{},
	}
}

// Manager opens and tracks map sessions against one shared store
type Manager struct {
	store   ports.Store
	metrics *observability.Metrics
	logger  *zap.Logger

	mu       sync.RWMutex
	opts     Options
	sessions map[string]*Session
	closed   bool
}

// NewManager creates a session manager
func NewManager(store ports.Store, opts Options, metrics *observability.Metrics, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.IDs == nil {
		opts.IDs = valueobjects.UUIDGenerator{}
	}
	return &Manager{
		store:    store,
		opts:     opts,
		metrics:  metrics,
		logger:   logger.Named("sessions"),
		sessions: make(map[string]*Session),
	}
}

// Open loads the map, its nodes and its edges, subscribes to its change feeds
// and starts persisting local changes. Any failure is a load failure and
// leaves nothing open.
func (m *Manager) Open(ctx context.Context, mapID string) (*Session, error) {
	m.mu.RLock()
	opts, closed := m.opts, m.closed
	m.mu.RUnlock()
	if closed {
		return nil, ErrClosed
	}

	logger := m.logger.With(zap.String("map_id", mapID))

	record, err := m.store.GetMap(ctx, mapID)
	if err != nil {
		if errors.Is(err, ports.ErrNotFound) {
			err = pkgerrors.NewNotFoundError("map").WithCause(err)
		}
		logger.Warn("Failed to load map", zap.Error(err))
		return nil, pkgerrors.NewLoadError(mapID, err)
	}

	graph := aggregates.NewGraph(mapID, opts.IDs)
	handle := uuid.NewString()
	s := &Session{
		handle:  handle,
		mindMap: record.ToEntity(),
		graph:   graph,
		store:   m.store,
		metrics: m.metrics,
		tracer:  observability.Tracer(),
		logger:  logger.With(zap.String("session", handle)),
		closed:  make(chan struct{}),
		onClose: m.forget,
	}
	s.persister = NewPersister(graph, m.store, PersisterConfig{
		DebounceWindow: opts.DebounceWindow,
		WriteTimeout:   opts.WriteTimeout,
		Retry:          opts.Retry,
	}, m.metrics, s.logger)
	s.listener = NewListener(m.store, mapID, s.Reload, m.metrics, s.logger)

	// subscribe before fetching so no commit falls between the two
	if err := s.listener.Start(ctx); err != nil {
		s.persister.Stop()
		logger.Warn("Failed to subscribe to map changes", zap.Error(err))
		return nil, pkgerrors.NewLoadError(mapID, err)
	}
	nodes, edges, err := fetchGraph(ctx, m.store, mapID)
	if err != nil {
		s.listener.Stop()
		s.persister.Stop()
		logger.Warn("Failed to load map contents", zap.Error(err))
		return nil, pkgerrors.NewLoadError(mapID, err)
	}
	graph.Replace(nodes, edges)
	s.persister.Start()
	s.stopMetrics = graph.Observe(func(c aggregates.Change) {
		if c.Origin == aggregates.OriginLocal {
			m.metrics.RecordMutation(c.Op)
		}
	})

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		s.onClose = nil
		_ = s.Close()
		return nil, ErrClosed
	}
	m.sessions[handle] = s
	m.mu.Unlock()

	m.metrics.SessionOpened()
	s.logger.Info("Session opened", zap.Int("nodes", len(nodes)), zap.Int("edges", len(edges)))
	return s, nil
}

func (m *Manager) forget(s *Session) {
	m.mu.Lock()
	delete(m.sessions, s.handle)
	m.mu.Unlock()
}

// Get returns an open session by handle
func (m *Manager) Get(handle string) (*Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[handle]
	return s, ok
}

// Close closes the session with the given handle
func (m *Manager) Close(handle string) error {
	s, ok := m.Get(handle)
	if !ok {
		return pkgerrors.NewNotFoundError("session")
	}
	return s.Close()
}

// OpenCount is the number of open sessions
func (m *Manager) OpenCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// SetDebounceWindow changes the window used by sessions opened from now on
func (m *Manager) SetDebounceWindow(window time.Duration) {
	m.mu.Lock()
	m.opts.DebounceWindow = window
	m.mu.Unlock()
}

// Shutdown flushes and closes every open session. ctx bounds the flushes.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	m.closed = true
	sessions := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.mu.Unlock()

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		errs []error
	)
	for _, s := range sessions {
		wg.Add(1)
		go func(s *Session) {
			defer wg.Done()
			if err := s.Flush(ctx); err != nil {
				s.logger.Warn("Flush on shutdown failed", zap.Error(err))
			}
			if err := s.Close(); err != nil {
				mu.Lock()
				errs = append(errs, err)
				mu.Unlock()
			}
		}(s)
	}
	wg.Wait()
	m.logger.Info("Sessions shut down", zap.Int("count", len(sessions)))
	return errors.Join(errs...)
}
