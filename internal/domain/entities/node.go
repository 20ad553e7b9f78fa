package entities

import "mapsync/internal/domain/valueobjects"

// NodeKind tags how the renderer draws a node
type NodeKind string

const (
	// NodeKindMindMap is the single node kind the canvas currently draws
	NodeKindMindMap NodeKind = "mindmap"
)

// Node defaults applied by the mutation API and the map service
const (
	DefaultNodeContent = "New Idea"
	DefaultNodeColor   = "#3b82f6"
	SeedNodeContent    = "Central Idea"
)

// SeedNodePosition is where a new map's seed node is placed
var SeedNodePosition = valueobjects.MustNewPosition(400, 300)

// Node is a labeled, positioned, colored vertex of a mind map.
//
// Width and Height are reported by the renderer once the node is measured and
// stay nil until then. Mutations replace the pointers instead of writing
// through them, so copies of a Node never alias mutable state.
type Node struct {
	ID       string
	MapID    string
	Position valueobjects.Position
	Content  string
	Color    string
	Kind     NodeKind
	Width    *float64
	Height   *float64
}

// HasSize reports whether the renderer has measured this node
func (n Node) HasSize() bool {
	return n.Width != nil && n.Height != nil
}
