package services

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"mapsync/internal/application/ports"
	"mapsync/internal/domain/entities"
	"mapsync/internal/domain/valueobjects"
	"mapsync/internal/infrastructure/persistence/memory"
	pkgerrors "mapsync/pkg/errors"
)

func newTestService() (*memory.Store, MapService) {
	store := memory.NewStore(zap.NewNop())
	return store, NewMapService(store, valueobjects.UUIDGenerator{}, zap.NewNop())
}

func TestMapService_CreateMapSeedsOneNode(t *testing.T) {
	// Arrange
	ctx := context.Background()
	store, svc := newTestService()

	// Act
	m, err := svc.CreateMap(ctx, "user-1", "  ")

	// Assert
	require.NoError(t, err)
	assert.Equal(t, entities.DefaultMapTitle, m.Title)
	assert.Equal(t, "user-1", m.OwnerID)
	assert.False(t, m.Shared)

	rows, err := store.ListNodes(ctx, m.ID)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	seed := rows[0].ToEntity()
	assert.Equal(t, entities.SeedNodeContent, seed.Content)
	assert.Equal(t, entities.DefaultNodeColor, seed.Color)
	assert.True(t, seed.Position.Equals(entities.SeedNodePosition))
	assert.Equal(t, m.ID, seed.MapID)
}

func TestMapService_CreateMapValidation(t *testing.T) {
	tests := []struct {
		name  string
		owner string
		title string
	}{
		{name: "missing owner", owner: "", title: "Plan"},
		{name: "title too long", owner: "user-1", title: strings.Repeat("x", entities.MaxTitleLength+1)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, svc := newTestService()

			_, err := svc.CreateMap(context.Background(), tt.owner, tt.title)

			assert.True(t, pkgerrors.IsValidation(err))
		})
	}
}

func TestMapService_RenameAndShare(t *testing.T) {
	ctx := context.Background()
	_, svc := newTestService()
	m, err := svc.CreateMap(ctx, "user-1", "Plan")
	require.NoError(t, err)

	renamed, err := svc.RenameMap(ctx, m.ID, "  Roadmap ")
	require.NoError(t, err)
	assert.Equal(t, "Roadmap", renamed.Title)

	_, err = svc.RenameMap(ctx, m.ID, "")
	assert.True(t, pkgerrors.IsValidation(err))

	shared, err := svc.SetShared(ctx, m.ID, true)
	require.NoError(t, err)
	assert.True(t, shared.Shared)

	_, err = svc.RenameMap(ctx, "ghost", "x")
	assert.True(t, pkgerrors.IsNotFound(err))
}

func TestMapService_GetMapGraphCountsDangling(t *testing.T) {
	ctx := context.Background()
	store, svc := newTestService()
	m, err := svc.CreateMap(ctx, "user-1", "Plan")
	require.NoError(t, err)
	require.NoError(t, store.InsertEdges(ctx, m.ID, []ports.EdgeRow{{EdgeID: "e1", SourceNodeID: "x", TargetNodeID: "y"}}))

	g, err := svc.GetMapGraph(ctx, m.ID)

	require.NoError(t, err)
	assert.Len(t, g.Nodes, 1)
	assert.Len(t, g.Edges, 1)
	assert.Equal(t, entities.EdgeTypeSmoothStep, g.Edges[0].Type)
}

func TestMapService_ListAndDelete(t *testing.T) {
	ctx := context.Background()
	store, svc := newTestService()
	a, err := svc.CreateMap(ctx, "user-1", "A")
	require.NoError(t, err)
	_, err = svc.CreateMap(ctx, "user-1", "B")
	require.NoError(t, err)
	_, err = svc.CreateMap(ctx, "user-2", "C")
	require.NoError(t, err)

	maps, err := svc.ListMaps(ctx, "user-1")
	require.NoError(t, err)
	assert.Len(t, maps, 2)

	require.NoError(t, svc.DeleteMap(ctx, a.ID))
	rows, _ := store.ListNodes(ctx, a.ID)
	assert.Empty(t, rows)
	assert.True(t, pkgerrors.IsNotFound(svc.DeleteMap(ctx, a.ID)))
}

func TestMapService_Authorize(t *testing.T) {
	ctx := context.Background()
	_, svc := newTestService()
	m, err := svc.CreateMap(ctx, "owner", "Plan")
	require.NoError(t, err)

	_, err = svc.Authorize(ctx, m.ID, "owner", AccessOwner)
	assert.NoError(t, err)
	_, err = svc.Authorize(ctx, m.ID, "guest", AccessView)
	assert.True(t, pkgerrors.IsNotFound(err), "private maps are hidden")

	_, err = svc.SetShared(ctx, m.ID, true)
	require.NoError(t, err)
	_, err = svc.Authorize(ctx, m.ID, "guest", AccessView)
	assert.NoError(t, err)
	_, err = svc.Authorize(ctx, m.ID, "guest", AccessOwner)
	assert.Error(t, err)
}

type failingStore struct {
	*memory.Store
}

func (failingStore) ListMaps(context.Context, string) ([]ports.MapRecord, error) {
	return nil, errors.New("connection refused")
}

func TestMapService_StoreErrorsAreWrapped(t *testing.T) {
	svc := NewMapService(failingStore{memory.NewStore(zap.NewNop())}, nil, nil)

	_, err := svc.ListMaps(context.Background(), "user-1")

	require.Error(t, err)
	assert.True(t, pkgerrors.IsType(err, pkgerrors.ErrorTypeStore))
}
