package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"mapsync/internal/application/ports"
)

func TestStore_MapLifecycle(t *testing.T) {
	// Arrange
	ctx := context.Background()
	s := NewStore(zap.NewNop())
	seed := ports.NodeRow{NodeID: "seed", Content: "Central Idea"}

	// Act
	require.NoError(t, s.InsertMap(ctx, ports.MapRecord{ID: "m1", OwnerID: "u1", Title: "Plan"}, seed))
	require.NoError(t, s.UpdateMapTitle(ctx, "m1", "Renamed"))
	require.NoError(t, s.SetMapShared(ctx, "m1", true))

	// Assert
	rec, err := s.GetMap(ctx, "m1")
	require.NoError(t, err)
	assert.Equal(t, "Renamed", rec.Title)
	assert.True(t, rec.IsShared)
	assert.False(t, rec.UpdatedAt.Before(rec.CreatedAt))

	nodes, err := s.ListNodes(ctx, "m1")
	require.NoError(t, err)
	require.Len(t, nodes, 1)
	assert.Equal(t, "m1", nodes[0].MapID)

	require.NoError(t, s.DeleteMap(ctx, "m1"))
	_, err = s.GetMap(ctx, "m1")
	assert.ErrorIs(t, err, ports.ErrNotFound)
	nodes, _ = s.ListNodes(ctx, "m1")
	assert.Empty(t, nodes)
	assert.ErrorIs(t, s.UpdateMapTitle(ctx, "m1", "x"), ports.ErrNotFound)
}

func TestStore_ListMaps_NewestFirst(t *testing.T) {
	ctx := context.Background()
	s := NewStore(zap.NewNop())
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, s.InsertMap(ctx, ports.MapRecord{ID: "old", OwnerID: "u1", CreatedAt: base}, ports.NodeRow{NodeID: "a"}))
	require.NoError(t, s.InsertMap(ctx, ports.MapRecord{ID: "new", OwnerID: "u1", CreatedAt: base.Add(time.Hour)}, ports.NodeRow{NodeID: "b"}))
	require.NoError(t, s.InsertMap(ctx, ports.MapRecord{ID: "theirs", OwnerID: "u2", CreatedAt: base}, ports.NodeRow{NodeID: "c"}))

	maps, err := s.ListMaps(ctx, "u1")

	require.NoError(t, err)
	require.Len(t, maps, 2)
	assert.Equal(t, "new", maps[0].ID)
	assert.Equal(t, "old", maps[1].ID)
}

func TestStore_FullReplace_PublishesChanges(t *testing.T) {
	// Arrange
	ctx := context.Background()
	s := NewStore(zap.NewNop())
	sub, err := s.Subscribe(ctx, ports.TableEdges, "m1")
	require.NoError(t, err)
	defer sub.Close()
	require.NoError(t, s.InsertEdges(ctx, "m1", []ports.EdgeRow{{EdgeID: "e1"}}))

	// Act
	require.NoError(t, s.DeleteEdges(ctx, "m1"))
	require.NoError(t, s.InsertEdges(ctx, "m1", []ports.EdgeRow{{EdgeID: "e2"}, {EdgeID: "e3"}}))

	// Assert
	var types []ports.ChangeType
	for i := 0; i < 4; i++ {
		select {
		case ev := <-sub.Events():
			types = append(types, ev.Type)
		case <-time.After(time.Second):
			t.Fatal("missing event")
		}
	}
	assert.Equal(t, []ports.ChangeType{ports.ChangeInsert, ports.ChangeDelete, ports.ChangeInsert, ports.ChangeInsert}, types)

	edges, err := s.ListEdges(ctx, "m1")
	require.NoError(t, err)
	require.Len(t, edges, 2)
	assert.Equal(t, "e2", edges[0].EdgeID)
	assert.Equal(t, "m1", edges[1].MapID)
}

func TestStore_ListNodes_ReturnsCopy(t *testing.T) {
	ctx := context.Background()
	s := NewStore(zap.NewNop())
	require.NoError(t, s.InsertNodes(ctx, "m1", []ports.NodeRow{{NodeID: "a", Content: "x"}}))

	rows, _ := s.ListNodes(ctx, "m1")
	rows[0].Content = "changed"

	again, _ := s.ListNodes(ctx, "m1")
	assert.Equal(t, "x", again[0].Content)
}
