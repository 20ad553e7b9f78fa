// Package session runs the sync engine for one open map: it loads the graph,
// mirrors local changes into the shared store and reloads on remote changes.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"mapsync/internal/application/ports"
	"mapsync/internal/domain/aggregates"
	"mapsync/internal/domain/entities"
	"mapsync/internal/infrastructure/observability"
)

// Session is one open map. It owns the graph; the persister and the listener
// only snapshot or replace it.
type Session struct {
	handle  string
	mindMap entities.MindMap
	graph   *aggregates.Graph
	store   ports.Store

	persister *Persister
	listener  *Listener

	metrics *observability.Metrics
	tracer  trace.Tracer
	logger  *zap.Logger

	stopMetrics func()
	closeOnce   sync.Once
	closed      chan struct{}
	onClose     func(*Session)
}

// Handle identifies the session within its manager
func (s *Session) Handle() string {
	return s.handle
}

// Graph returns the live graph. Edits go through its mutation methods.
func (s *Session) Graph() *aggregates.Graph {
	return s.graph
}

// Map returns the map record as it was when the session opened
func (s *Session) Map() entities.MindMap {
	return s.mindMap
}

// Status returns the current save indicator
func (s *Session) Status() Status {
	return s.persister.Status()
}

// OnStatus registers fn for save indicator transitions
func (s *Session) OnStatus(fn func(Status)) (cancel func()) {
	return s.persister.OnStatus(fn)
}

// OnChange registers fn for every graph change, local or remote
func (s *Session) OnChange(fn func(aggregates.Change)) (cancel func()) {
	return s.graph.Observe(fn)
}

// Done is closed once the session has been closed
func (s *Session) Done() <-chan struct{} {
	return s.closed
}

// Reload fetches every node and edge row of the map and replaces the graph
// with them. Reloading twice with no store change in between yields identical
// collections.
func (s *Session) Reload(ctx context.Context) (err error) {
	ctx, span := s.tracer.Start(ctx, "session.reload", trace.WithAttributes(attribute.String("map.id", s.mindMap.ID)))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
		s.metrics.RecordReload(err)
	}()

	nodes, edges, err := fetchGraph(ctx, s.store, s.mindMap.ID)
	if err != nil {
		return err
	}
	s.graph.Replace(nodes, edges)
	return nil
}

func fetchGraph(ctx context.Context, store ports.GraphReader, mapID string) ([]entities.Node, []entities.Edge, error) {
	nodeRows, err := store.ListNodes(ctx, mapID)
	if err != nil {
		return nil, nil, fmt.Errorf("fetching nodes: %w", err)
	}
	edgeRows, err := store.ListEdges(ctx, mapID)
	if err != nil {
		return nil, nil, fmt.Errorf("fetching edges: %w", err)
	}
	return ports.NodesFromRows(nodeRows), ports.EdgesFromRows(edgeRows), nil
}

// Flush writes both streams now instead of waiting for their timers
func (s *Session) Flush(ctx context.Context) error {
	select {
	case <-s.closed:
		return ErrClosed
	default:
	}
	return s.persister.Flush(ctx)
}

// Close unsubscribes both feeds, cancels both timers and any pending retry,
// and waits for an in-flight write to finish. Unsaved changes are not flushed.
func (s *Session) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.listener.Stop()
		s.persister.Stop()
		if s.stopMetrics != nil {
			s.stopMetrics()
		}

		st := s.persister.Status()
		if st.Unsaved {
			s.logger.Warn("Session closed with unsaved changes", zap.Error(st.LastError))
			err = errors.Join(ErrUnsaved, st.LastError)
		}
		close(s.closed)
		s.metrics.SessionClosed()
		if s.onClose != nil {
			s.onClose(s)
		}
		s.logger.Info("Session closed")
	})
	return err
}

// ErrUnsaved is returned by Close when local changes never reached the store
var ErrUnsaved = errors.New("session closed with unsaved changes")
