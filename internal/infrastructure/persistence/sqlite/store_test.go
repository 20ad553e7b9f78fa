package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"mapsync/internal/application/ports"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := NewStore(filepath.Join(t.TempDir(), "maps.db"), zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestStore_InsertAndGetMap(t *testing.T) {
	// Arrange
	ctx := context.Background()
	s := newTestStore(t)
	created := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	// Act
	err := s.InsertMap(ctx,
		ports.MapRecord{ID: "m1", OwnerID: "u1", Title: "Plan", CreatedAt: created},
		ports.NodeRow{NodeID: "seed", PositionX: 400, PositionY: 300, Content: "Central Idea", Color: "#3b82f6", NodeType: "mindmap"})

	// Assert
	require.NoError(t, err)
	rec, err := s.GetMap(ctx, "m1")
	require.NoError(t, err)
	assert.Equal(t, "Plan", rec.Title)
	assert.True(t, rec.CreatedAt.Equal(created))

	nodes, err := s.ListNodes(ctx, "m1")
	require.NoError(t, err)
	require.Len(t, nodes, 1)
	assert.Equal(t, "m1", nodes[0].MapID)
	assert.Nil(t, nodes[0].Width)
}

func TestStore_GetMap_NotFound(t *testing.T) {
	s := newTestStore(t)

	_, err := s.GetMap(context.Background(), "missing")
	assert.ErrorIs(t, err, ports.ErrNotFound)
	assert.ErrorIs(t, s.UpdateMapTitle(context.Background(), "missing", "x"), ports.ErrNotFound)
	assert.ErrorIs(t, s.DeleteMap(context.Background(), "missing"), ports.ErrNotFound)
}

func TestStore_FullReplaceKeepsOrder(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	w, h := 120.0, 48.0
	first := []ports.NodeRow{{NodeID: "b"}, {NodeID: "a", Width: &w, Height: &h}}

	require.NoError(t, s.InsertNodes(ctx, "m1", first))
	require.NoError(t, s.DeleteNodes(ctx, "m1"))
	require.NoError(t, s.InsertNodes(ctx, "m1", []ports.NodeRow{{NodeID: "z"}, first[1], first[0]}))

	nodes, err := s.ListNodes(ctx, "m1")
	require.NoError(t, err)
	require.Len(t, nodes, 3)
	assert.Equal(t, []string{"z", "a", "b"}, []string{nodes[0].NodeID, nodes[1].NodeID, nodes[2].NodeID})
	require.NotNil(t, nodes[1].Width)
	assert.Equal(t, 120.0, *nodes[1].Width)
}

func TestStore_Edges(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	sub, err := s.Subscribe(ctx, ports.TableEdges, "m1")
	require.NoError(t, err)
	defer sub.Close()

	require.NoError(t, s.InsertEdges(ctx, "m1", []ports.EdgeRow{
		{EdgeID: "e1", SourceNodeID: "a", TargetNodeID: "b", EdgeType: "smoothstep"},
		{EdgeID: "e2", SourceNodeID: "b", TargetNodeID: "ghost", EdgeType: "step", Animated: true},
	}))

	edges, err := s.ListEdges(ctx, "m1")
	require.NoError(t, err)
	require.Len(t, edges, 2)
	assert.Equal(t, "ghost", edges[1].TargetNodeID)
	assert.True(t, edges[1].Animated)
	assert.Len(t, sub.Events(), 2)
}

func TestStore_DeleteMapCascades(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	require.NoError(t, s.InsertMap(ctx, ports.MapRecord{ID: "m1", OwnerID: "u1", Title: "T"}, ports.NodeRow{NodeID: "seed"}))
	require.NoError(t, s.InsertEdges(ctx, "m1", []ports.EdgeRow{{EdgeID: "e1", SourceNodeID: "seed", TargetNodeID: "seed"}}))

	require.NoError(t, s.DeleteMap(ctx, "m1"))

	nodes, _ := s.ListNodes(ctx, "m1")
	edges, _ := s.ListEdges(ctx, "m1")
	maps, _ := s.ListMaps(ctx, "u1")
	assert.Empty(t, nodes)
	assert.Empty(t, edges)
	assert.Empty(t, maps)
}
