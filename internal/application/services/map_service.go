// Package services holds the map lifecycle operations that sit outside an
// open session: creating, listing, renaming, sharing and deleting maps.
package services

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"

	"mapsync/internal/application/ports"
	"mapsync/internal/domain/entities"
	"mapsync/internal/domain/valueobjects"
	pkgerrors "mapsync/pkg/errors"
)

// MapGraph is a map with the node and edge rows currently in the store
type MapGraph struct {
	Map   entities.MindMap
	Nodes []entities.Node
	Edges []entities.Edge
}

// Access is the level of access a caller needs to a map
type Access int

const (
	// AccessView allows reading and editing the canvas
	AccessView Access = iota
	// AccessOwner allows renaming, sharing and deleting
	AccessOwner
)

// MapService defines the map lifecycle operations.
type MapService interface {
	// CreateMap inserts a map with one seed node. A blank title gets the default.
	CreateMap(ctx context.Context, ownerID, title string) (*entities.MindMap, error)

	GetMap(ctx context.Context, mapID string) (*entities.MindMap, error)

	// GetMapGraph returns the map with its stored nodes and edges
	GetMapGraph(ctx context.Context, mapID string) (*MapGraph, error)

	// ListMaps returns the maps of one owner, newest first
	ListMaps(ctx context.Context, ownerID string) ([]entities.MindMap, error)

	RenameMap(ctx context.Context, mapID, title string) (*entities.MindMap, error)
	SetShared(ctx context.Context, mapID string, shared bool) (*entities.MindMap, error)

	// DeleteMap removes the map and cascades to its nodes and edges
	DeleteMap(ctx context.Context, mapID string) error

	// Authorize loads the map and checks that userID may access it. Owners have
	// every access; other users may view shared maps.
	Authorize(ctx context.Context, mapID, userID string, need Access) (*entities.MindMap, error)
}

type mapService struct {
	store  ports.Store
	ids    valueobjects.IDGenerator
	now    func() time.Time
	logger *zap.Logger
}

// NewMapService creates the map lifecycle service
func NewMapService(store ports.Store, ids valueobjects.IDGenerator, logger *zap.Logger) MapService {
	if ids == nil {
		ids = valueobjects.UUIDGenerator{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &mapService{
		store:  store,
		ids:    ids,
		now:    func() time.Time { return time.Now().UTC() },
		logger: logger.Named("maps"),
	}
}

func (s *mapService) CreateMap(ctx context.Context, ownerID, title string) (*entities.MindMap, error) {
	ownerID = strings.TrimSpace(ownerID)
	if ownerID == "" {
		return nil, pkgerrors.NewValidationError("owner is required")
	}
	if strings.TrimSpace(title) == "" {
		title = entities.DefaultMapTitle
	}
	title, err := entities.NormalizeTitle(title)
	if err != nil {
		return nil, err
	}

	now := s.now()
	record := ports.MapRecord{
		ID:        s.ids.NewID(),
		OwnerID:   ownerID,
		Title:     title,
		CreatedAt: now,
		UpdatedAt: now,
	}
	seed := ports.NodeRowFromEntity(entities.Node{
		ID:       s.ids.NewID(),
		MapID:    record.ID,
		Position: entities.SeedNodePosition,
		Content:  entities.SeedNodeContent,
		Color:    entities.DefaultNodeColor,
		Kind:     entities.NodeKindMindMap,
	})

	if err := s.store.InsertMap(ctx, record, seed); err != nil {
		s.logger.Error("Failed to create map", zap.String("owner_id", ownerID), zap.Error(err))
		return nil, storeError("create map", err)
	}

	s.logger.Info("Map created", zap.String("map_id", record.ID), zap.String("owner_id", ownerID))
	m := record.ToEntity()
	return &m, nil
}

func (s *mapService) GetMap(ctx context.Context, mapID string) (*entities.MindMap, error) {
	record, err := s.store.GetMap(ctx, mapID)
	if err != nil {
		return nil, storeError("get map", err)
	}
	m := record.ToEntity()
	return &m, nil
}

func (s *mapService) GetMapGraph(ctx context.Context, mapID string) (*MapGraph, error) {
	m, err := s.GetMap(ctx, mapID)
	if err != nil {
		return nil, err
	}
	nodes, err := s.store.ListNodes(ctx, mapID)
	if err != nil {
		return nil, storeError("list nodes", err)
	}
	edges, err := s.store.ListEdges(ctx, mapID)
	if err != nil {
		return nil, storeError("list edges", err)
	}
	return &MapGraph{
		Map:   *m,
		Nodes: ports.NodesFromRows(nodes),
		Edges: ports.EdgesFromRows(edges),
	}, nil
}

func (s *mapService) ListMaps(ctx context.Context, ownerID string) ([]entities.MindMap, error) {
	records, err := s.store.ListMaps(ctx, ownerID)
	if err != nil {
		return nil, storeError("list maps", err)
	}
	maps := make([]entities.MindMap, 0, len(records))
	for _, r := range records {
		maps = append(maps, r.ToEntity())
	}
	return maps, nil
}

func (s *mapService) RenameMap(ctx context.Context, mapID, title string) (*entities.MindMap, error) {
	title, err := entities.NormalizeTitle(title)
	if err != nil {
		return nil, err
	}
	if err := s.store.UpdateMapTitle(ctx, mapID, title); err != nil {
		return nil, storeError("rename map", err)
	}
	s.logger.Debug("Map renamed", zap.String("map_id", mapID))
	return s.GetMap(ctx, mapID)
}

func (s *mapService) SetShared(ctx context.Context, mapID string, shared bool) (*entities.MindMap, error) {
	if err := s.store.SetMapShared(ctx, mapID, shared); err != nil {
		return nil, storeError("share map", err)
	}
	return s.GetMap(ctx, mapID)
}

func (s *mapService) DeleteMap(ctx context.Context, mapID string) error {
	if _, err := s.GetMap(ctx, mapID); err != nil {
		return err
	}
	if err := s.store.DeleteMap(ctx, mapID); err != nil {
		s.logger.Error("Failed to delete map", zap.String("map_id", mapID), zap.Error(err))
		return storeError("delete map", err)
	}
	s.logger.Info("Map deleted", zap.String("map_id", mapID))
	return nil
}

func (s *mapService) Authorize(ctx context.Context, mapID, userID string, need Access) (*entities.MindMap, error) {
	m, err := s.GetMap(ctx, mapID)
	if err != nil {
		return nil, err
	}
	if m.OwnerID == userID {
		return m, nil
	}
	if need == AccessView && m.Shared {
		return m, nil
	}
	// not distinguishable from a missing map to callers without access
	return nil, pkgerrors.NewNotFoundError("map")
}

func storeError(op string, err error) error {
	if errors.Is(err, ports.ErrNotFound) {
		return pkgerrors.NewNotFoundError("map").WithCause(err)
	}
	if appErr := pkgerrors.GetAppError(err); appErr != nil {
		return err
	}
	return pkgerrors.NewStoreError(op, err)
}
