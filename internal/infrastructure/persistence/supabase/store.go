// Package supabase implements the shared store against a hosted Supabase
// project: rows through the PostgREST API and change notifications through
// the Realtime websocket.
//
// The nodes table must carry a unique key on (map_id, node_id) and the edges
// table one on (map_id, edge_id); inserts are sent as upserts on those keys.
package supabase

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/supabase-community/postgrest-go"
	"github.com/supabase-community/supabase-go"
	"go.uber.org/zap"

	"mapsync/internal/application/ports"
)

// Table names in the public schema
const (
	mapsTable  = "maps"
	nodesTable = "nodes"
	edgesTable = "edges"
)

// Conflict targets for row upserts
const (
	nodesKey = "map_id,node_id"
	edgesKey = "map_id,edge_id"
)

var ascending = &postgrest.OrderOpts{Ascending: true}

// Store is a ports.Store backed by Supabase
type Store struct {
	client   *supabase.Client
	realtime *Realtime
	logger   *zap.Logger

	mu    sync.Mutex
	lanes map[string]chan struct{}
}

var _ ports.Store = (*Store)(nil)

// NewStore creates the REST client and the realtime feed for a project
func NewStore(url, key string, logger *zap.Logger) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	client, err := supabase.NewClient(url, key, nil)
	if err != nil {
		return nil, fmt.Errorf("unable to create Supabase client: %w", err)
	}
	rt, err := NewRealtime(url, key, logger)
	if err != nil {
		return nil, err
	}
	return &Store{
		client:   client,
		realtime: rt,
		logger:   logger.Named("supabase"),
		lanes:    make(map[string]chan struct{}),
	}, nil
}

// call runs a blocking PostgREST request and gives up waiting when ctx ends.
// The client takes no context, so an abandoned request still runs to
// completion in the background.
func call(ctx context.Context, fn func() error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	done := make(chan error, 1)
	go func() { done <- fn() }()
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Store) lane(table, mapID string) chan struct{} {
	key := table + "/" + mapID
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.lanes[key]
	if !ok {
		l = make(chan struct{}, 1)
		s.lanes[key] = l
	}
	return l
}

// callInLane is call for row writes. Writes to one table of one map run one
// at a time, and a request abandoned by its caller keeps the lane until the
// server has answered, so a retried delete never overtakes a late insert.
func (s *Store) callInLane(ctx context.Context, table, mapID string, fn func() error) error {
	lane := s.lane(table, mapID)
	select {
	case lane <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	if err := ctx.Err(); err != nil {
		<-lane
		return err
	}
	done := make(chan error, 1)
	go func() {
		defer func() { <-lane }()
		done <- fn()
	}()
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Store) GetMap(ctx context.Context, mapID string) (*ports.MapRecord, error) {
	var rows []ports.MapRecord
	err := call(ctx, func() error {
		_, err := s.client.From(mapsTable).Select("*", "", false).Eq("id", mapID).ExecuteTo(&rows)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get map: %w", err)
	}
	if len(rows) == 0 {
		return nil, ports.ErrNotFound
	}
	return &rows[0], nil
}

func (s *Store) ListMaps(ctx context.Context, ownerID string) ([]ports.MapRecord, error) {
	rows := make([]ports.MapRecord, 0)
	err := call(ctx, func() error {
		q := s.client.From(mapsTable).Select("*", "", false)
		if ownerID != "" {
			q = q.Eq("owner_id", ownerID)
		}
		_, err := q.ExecuteTo(&rows)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list maps: %w", err)
	}
	sort.SliceStable(rows, func(i, j int) bool {
		return rows[i].CreatedAt.After(rows[j].CreatedAt)
	})
	return rows, nil
}

func (s *Store) InsertMap(ctx context.Context, record ports.MapRecord, seed ports.NodeRow) error {
	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now().UTC()
	}
	record.UpdatedAt = record.CreatedAt
	seed.MapID = record.ID

	err := call(ctx, func() error {
		_, _, err := s.client.From(mapsTable).Insert(record, false, "", "", "").Execute()
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to insert map: %w", err)
	}
	return s.InsertNodes(ctx, record.ID, []ports.NodeRow{seed})
}

func (s *Store) UpdateMapTitle(ctx context.Context, mapID, title string) error {
	return s.updateMap(ctx, mapID, map[string]interface{}{"title": title})
}

func (s *Store) SetMapShared(ctx context.Context, mapID string, shared bool) error {
	return s.updateMap(ctx, mapID, map[string]interface{}{"is_shared": shared})
}

func (s *Store) updateMap(ctx context.Context, mapID string, fields map[string]interface{}) error {
	fields["updated_at"] = time.Now().UTC()
	var rows []ports.MapRecord
	err := call(ctx, func() error {
		_, err := s.client.From(mapsTable).Update(fields, "representation", "").Eq("id", mapID).ExecuteTo(&rows)
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to update map: %w", err)
	}
	if len(rows) == 0 {
		return ports.ErrNotFound
	}
	return nil
}

// DeleteMap removes edges, then nodes, then the map row. PostgREST has no
// transactions, so a failure part way leaves the map with fewer rows.
func (s *Store) DeleteMap(ctx context.Context, mapID string) error {
	if err := s.DeleteEdges(ctx, mapID); err != nil {
		return err
	}
	if err := s.DeleteNodes(ctx, mapID); err != nil {
		return err
	}
	var rows []ports.MapRecord
	err := call(ctx, func() error {
		_, err := s.client.From(mapsTable).Delete("representation", "").Eq("id", mapID).ExecuteTo(&rows)
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to delete map: %w", err)
	}
	if len(rows) == 0 {
		return ports.ErrNotFound
	}
	return nil
}

func (s *Store) ListNodes(ctx context.Context, mapID string) ([]ports.NodeRow, error) {
	rows := make([]ports.NodeRow, 0)
	err := call(ctx, func() error {
		_, err := s.client.From(nodesTable).Select("*", "", false).Eq("map_id", mapID).
			Order("node_id", ascending).ExecuteTo(&rows)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list nodes: %w", err)
	}
	return rows, nil
}

func (s *Store) DeleteNodes(ctx context.Context, mapID string) error {
	err := s.callInLane(ctx, nodesTable, mapID, func() error {
		_, _, err := s.client.From(nodesTable).Delete("", "").Eq("map_id", mapID).Execute()
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to delete nodes: %w", err)
	}
	return nil
}

func (s *Store) InsertNodes(ctx context.Context, mapID string, rows []ports.NodeRow) error {
	if len(rows) == 0 {
		return nil
	}
	stamped := make([]ports.NodeRow, len(rows))
	for i, row := range rows {
		row.MapID = mapID
		stamped[i] = row
	}
	err := s.callInLane(ctx, nodesTable, mapID, func() error {
		_, _, err := s.client.From(nodesTable).Insert(stamped, true, nodesKey, "minimal", "").Execute()
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to insert nodes: %w", err)
	}
	return nil
}

func (s *Store) ListEdges(ctx context.Context, mapID string) ([]ports.EdgeRow, error) {
	rows := make([]ports.EdgeRow, 0)
	err := call(ctx, func() error {
		_, err := s.client.From(edgesTable).Select("*", "", false).Eq("map_id", mapID).
			Order("edge_id", ascending).ExecuteTo(&rows)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list edges: %w", err)
	}
	return rows, nil
}

func (s *Store) DeleteEdges(ctx context.Context, mapID string) error {
	err := s.callInLane(ctx, edgesTable, mapID, func() error {
		_, _, err := s.client.From(edgesTable).Delete("", "").Eq("map_id", mapID).Execute()
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to delete edges: %w", err)
	}
	return nil
}

func (s *Store) InsertEdges(ctx context.Context, mapID string, rows []ports.EdgeRow) error {
	if len(rows) == 0 {
		return nil
	}
	stamped := make([]ports.EdgeRow, len(rows))
	for i, row := range rows {
		row.MapID = mapID
		stamped[i] = row
	}
	err := s.callInLane(ctx, edgesTable, mapID, func() error {
		_, _, err := s.client.From(edgesTable).Insert(stamped, true, edgesKey, "minimal", "").Execute()
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to insert edges: %w", err)
	}
	return nil
}

func (s *Store) Subscribe(ctx context.Context, table ports.Table, mapID string) (ports.Subscription, error) {
	return s.realtime.Subscribe(ctx, table, mapID)
}
