// Package memory implements the shared store in process memory. It backs the
// tests and single-process demos; every client of one Store sees the same rows
// and the same change feed.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"mapsync/internal/application/ports"
	"mapsync/internal/infrastructure/persistence/feed"
)

// Store is an in-memory ports.Store
type Store struct {
	mu    sync.RWMutex
	maps  map[string]ports.MapRecord
	nodes map[string][]ports.NodeRow
	edges map[string][]ports.EdgeRow

	feed *feed.Broker
	now  func() time.Time
}

var _ ports.Store = (*Store)(nil)

// NewStore creates an empty store with its own feed broker
func NewStore(logger *zap.Logger) *Store {
	return &Store{
		maps:  make(map[string]ports.MapRecord),
		nodes: make(map[string][]ports.NodeRow),
		edges: make(map[string][]ports.EdgeRow),
		feed:  feed.NewBroker(logger),
		now:   func() time.Time { return time.Now().UTC() },
	}
}

// Feed exposes the broker so tests can count subscribers
func (s *Store) Feed() *feed.Broker {
	return s.feed
}

func (s *Store) GetMap(ctx context.Context, mapID string) (*ports.MapRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.maps[mapID]
	if !ok {
		return nil, ports.ErrNotFound
	}
	return &rec, nil
}

func (s *Store) ListMaps(ctx context.Context, ownerID string) ([]ports.MapRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]ports.MapRecord, 0)
	for _, rec := range s.maps {
		if ownerID == "" || rec.OwnerID == ownerID {
			out = append(out, rec)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

func (s *Store) InsertMap(ctx context.Context, record ports.MapRecord, seed ports.NodeRow) error {
	s.mu.Lock()
	now := s.now()
	if record.CreatedAt.IsZero() {
		record.CreatedAt = now
	}
	record.UpdatedAt = record.CreatedAt
	s.maps[record.ID] = record
	seed.MapID = record.ID
	s.nodes[record.ID] = append(s.nodes[record.ID], seed)
	s.mu.Unlock()

	s.feed.Publish(ports.TableMaps, record.ID, ports.ChangeInsert, record)
	s.feed.Publish(ports.TableNodes, record.ID, ports.ChangeInsert, seed)
	return nil
}

func (s *Store) UpdateMapTitle(ctx context.Context, mapID, title string) error {
	return s.updateMap(mapID, func(rec *ports.MapRecord) { rec.Title = title })
}

func (s *Store) SetMapShared(ctx context.Context, mapID string, shared bool) error {
	return s.updateMap(mapID, func(rec *ports.MapRecord) { rec.IsShared = shared })
}

func (s *Store) updateMap(mapID string, fn func(*ports.MapRecord)) error {
	s.mu.Lock()
	rec, ok := s.maps[mapID]
	if !ok {
		s.mu.Unlock()
		return ports.ErrNotFound
	}
	fn(&rec)
	rec.UpdatedAt = s.now()
	s.maps[mapID] = rec
	s.mu.Unlock()

	s.feed.Publish(ports.TableMaps, mapID, ports.ChangeUpdate, rec)
	return nil
}

func (s *Store) DeleteMap(ctx context.Context, mapID string) error {
	s.mu.Lock()
	if _, ok := s.maps[mapID]; !ok {
		s.mu.Unlock()
		return ports.ErrNotFound
	}
	delete(s.maps, mapID)
	delete(s.nodes, mapID)
	delete(s.edges, mapID)
	s.mu.Unlock()

	s.feed.Publish(ports.TableMaps, mapID, ports.ChangeDelete, map[string]string{"id": mapID})
	return nil
}

func (s *Store) ListNodes(ctx context.Context, mapID string) ([]ports.NodeRow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]ports.NodeRow{}, s.nodes[mapID]...), nil
}

func (s *Store) DeleteNodes(ctx context.Context, mapID string) error {
	s.mu.Lock()
	deleted := s.nodes[mapID]
	delete(s.nodes, mapID)
	s.mu.Unlock()

	for _, row := range deleted {
		s.feed.Publish(ports.TableNodes, mapID, ports.ChangeDelete, map[string]string{"node_id": row.NodeID})
	}
	return nil
}

func (s *Store) InsertNodes(ctx context.Context, mapID string, rows []ports.NodeRow) error {
	if len(rows) == 0 {
		return nil
	}
	s.mu.Lock()
	for _, row := range rows {
		row.MapID = mapID
		s.nodes[mapID] = append(s.nodes[mapID], row)
	}
	s.mu.Unlock()

	for _, row := range rows {
		row.MapID = mapID
		s.feed.Publish(ports.TableNodes, mapID, ports.ChangeInsert, row)
	}
	return nil
}

func (s *Store) ListEdges(ctx context.Context, mapID string) ([]ports.EdgeRow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]ports.EdgeRow{}, s.edges[mapID]...), nil
}

func (s *Store) DeleteEdges(ctx context.Context, mapID string) error {
	s.mu.Lock()
	deleted := s.edges[mapID]
	delete(s.edges, mapID)
	s.mu.Unlock()

	for _, row := range deleted {
		s.feed.Publish(ports.TableEdges, mapID, ports.ChangeDelete, map[string]string{"edge_id": row.EdgeID})
	}
	return nil
}

func (s *Store) InsertEdges(ctx context.Context, mapID string, rows []ports.EdgeRow) error {
	if len(rows) == 0 {
		return nil
	}
	s.mu.Lock()
	for _, row := range rows {
		row.MapID = mapID
		s.edges[mapID] = append(s.edges[mapID], row)
	}
	s.mu.Unlock()

	for _, row := range rows {
		row.MapID = mapID
		s.feed.Publish(ports.TableEdges, mapID, ports.ChangeInsert, row)
	}
	return nil
}

func (s *Store) Subscribe(ctx context.Context, table ports.Table, mapID string) (ports.Subscription, error) {
	return s.feed.Subscribe(ctx, table, mapID)
}
