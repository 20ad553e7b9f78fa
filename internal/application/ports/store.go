package ports

import (
	"context"
	"errors"
)

// ErrNotFound is returned by MapStore when a map does not exist
var ErrNotFound = errors.New("not found")

// Table names a row collection of the shared store that can be subscribed to
type Table string

const (
	TableMaps  Table = "maps"
	TableNodes Table = "nodes"
	TableEdges Table = "edges"
)

// MapStore manages map records in the shared store
type MapStore interface {
	// GetMap fetches one map record, or ErrNotFound
	GetMap(ctx context.Context, mapID string) (*MapRecord, error)

	// ListMaps returns the maps owned by ownerID, newest first
	ListMaps(ctx context.Context, ownerID string) ([]MapRecord, error)

	// InsertMap creates a map together with its seed node
	InsertMap(ctx context.Context, record MapRecord, seed NodeRow) error

	// UpdateMapTitle changes the title and bumps updated_at, or ErrNotFound
	UpdateMapTitle(ctx context.Context, mapID, title string) error

	// SetMapShared changes the shared flag and bumps updated_at, or ErrNotFound
	SetMapShared(ctx context.Context, mapID string, shared bool) error

	// DeleteMap removes the map, its nodes and its edges
	DeleteMap(ctx context.Context, mapID string) error
}

// NodeStore reads and writes node rows. DeleteNodes followed by InsertNodes
// is the full-replacement write; the store does not make the pair atomic.
type NodeStore interface {
	ListNodes(ctx context.Context, mapID string) ([]NodeRow, error)
	DeleteNodes(ctx context.Context, mapID string) error
	InsertNodes(ctx context.Context, mapID string, rows []NodeRow) error
}

// EdgeStore reads and writes edge rows, with the same pairing rule as NodeStore
type EdgeStore interface {
	ListEdges(ctx context.Context, mapID string) ([]EdgeRow, error)
	DeleteEdges(ctx context.Context, mapID string) error
	InsertEdges(ctx context.Context, mapID string, rows []EdgeRow) error
}

// ChangeFeed delivers row change notifications filtered by map
type ChangeFeed interface {
	Subscribe(ctx context.Context, table Table, mapID string) (Subscription, error)
}

// Subscription is one open change feed. Events is closed after Close returns
// or when the feed fails permanently.
type Subscription interface {
	Events() <-chan ChangeEvent
	Close() error
}

// Store is everything the engine consumes from the shared store
type Store interface {
	MapStore
	NodeStore
	EdgeStore
	ChangeFeed
}

// GraphReader is the read half used by reloads
type GraphReader interface {
	ListNodes(ctx context.Context, mapID string) ([]NodeRow, error)
	ListEdges(ctx context.Context, mapID string) ([]EdgeRow, error)
}

// GraphWriter is the write half used by the persister
type GraphWriter interface {
	DeleteNodes(ctx context.Context, mapID string) error
	InsertNodes(ctx context.Context, mapID string, rows []NodeRow) error
	DeleteEdges(ctx context.Context, mapID string) error
	InsertEdges(ctx context.Context, mapID string, rows []EdgeRow) error
}
