package entities

// EdgeType represents the rendering type of a connector
type EdgeType string

const (
	// EdgeTypeSmoothStep is the default connector drawn for new edges
	EdgeTypeSmoothStep EdgeType = "smoothstep"

	// EdgeTypeDefault is a plain bezier connector
	EdgeTypeDefault EdgeType = "default"

	// EdgeTypeStraight is a straight connector
	EdgeTypeStraight EdgeType = "straight"

	// EdgeTypeStep is an orthogonal connector
	EdgeTypeStep EdgeType = "step"
)

// IsValid checks if the edge type is one the renderer knows
func (e EdgeType) IsValid() bool {
	switch e {
	case EdgeTypeSmoothStep, EdgeTypeDefault, EdgeTypeStraight, EdgeTypeStep:
		return true
	default:
		return false
	}
}

// String returns the string representation of the edge type
func (e EdgeType) String() string {
	return string(e)
}

// Edge is a directed connector between two nodes of the same map.
// The endpoints are not verified against the node set; an edge may dangle
// after a delete raced with a reload.
type Edge struct {
	ID       string
	MapID    string
	SourceID string
	TargetID string
	Label    string
	Type     EdgeType
	Animated bool
}

// Touches reports whether the edge is incident to any of the given nodes
func (e Edge) Touches(nodeIDs map[string]struct{}) bool {
	_, src := nodeIDs[e.SourceID]
	_, dst := nodeIDs[e.TargetID]
	return src || dst
}

// IsSelfLoop reports whether source and target are the same node
func (e Edge) IsSelfLoop() bool {
	return e.SourceID == e.TargetID
}
