package ports

import (
	"encoding/json"
	"time"

	"mapsync/internal/domain/entities"
	"mapsync/internal/domain/valueobjects"
)

// MapRecord is a row of the maps table
type MapRecord struct {
	ID        string    `json:"id"`
	OwnerID   string    `json:"owner_id"`
	Title     string    `json:"title"`
	IsShared  bool      `json:"is_shared"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NodeRow is a row of the nodes table
type NodeRow struct {
	MapID     string   `json:"map_id"`
	NodeID    string   `json:"node_id"`
	PositionX float64  `json:"position_x"`
	PositionY float64  `json:"position_y"`
	Content   string   `json:"content"`
	Color     string   `json:"color"`
	NodeType  string   `json:"node_type"`
	Width     *float64 `json:"width,omitempty"`
	Height    *float64 `json:"height,omitempty"`
}

// EdgeRow is a row of the edges table
type EdgeRow struct {
	MapID        string `json:"map_id"`
	EdgeID       string `json:"edge_id"`
	SourceNodeID string `json:"source_node_id"`
	TargetNodeID string `json:"target_node_id"`
	Label        string `json:"label,omitempty"`
	EdgeType     string `json:"edge_type"`
	Animated     bool   `json:"animated"`
}

// ChangeType is the kind of row change a feed reports
type ChangeType string

const (
	ChangeInsert ChangeType = "INSERT"
	ChangeUpdate ChangeType = "UPDATE"
	ChangeDelete ChangeType = "DELETE"
)

// ChangeEvent is one notification from a change feed. Row holds the new row
// for inserts and updates and the old row (often only the key) for deletes.
type ChangeEvent struct {
	Type  ChangeType
	Table Table
	MapID string
	Row   json.RawMessage
}

// ToEntity converts a map record into the domain type
func (r MapRecord) ToEntity() entities.MindMap {
	return entities.MindMap{
		ID:        r.ID,
		OwnerID:   r.OwnerID,
		Title:     r.Title,
		Shared:    r.IsShared,
		CreatedAt: r.CreatedAt,
		UpdatedAt: r.UpdatedAt,
	}
}

// NodeRowFromEntity converts an in-memory node into a row
func NodeRowFromEntity(n entities.Node) NodeRow {
	return NodeRow{
		MapID:     n.MapID,
		NodeID:    n.ID,
		PositionX: n.Position.X(),
		PositionY: n.Position.Y(),
		Content:   n.Content,
		Color:     n.Color,
		NodeType:  string(n.Kind),
		Width:     copyFloat(n.Width),
		Height:    copyFloat(n.Height),
	}
}

// ToEntity converts a row into an in-memory node. Coordinates that are not
// finite cannot come out of a JSON or SQL store; if one does, the node is
// placed at the origin rather than dropped.
func (r NodeRow) ToEntity() entities.Node {
	pos, err := valueobjects.NewPosition(r.PositionX, r.PositionY)
	if err != nil {
		pos = valueobjects.Position{}
	}
	kind := entities.NodeKind(r.NodeType)
	if kind == "" {
		kind = entities.NodeKindMindMap
	}
	return entities.Node{
		ID:       r.NodeID,
		MapID:    r.MapID,
		Position: pos,
		Content:  r.Content,
		Color:    r.Color,
		Kind:     kind,
		Width:    copyFloat(r.Width),
		Height:   copyFloat(r.Height),
	}
}

// EdgeRowFromEntity converts an in-memory edge into a row
func EdgeRowFromEntity(e entities.Edge) EdgeRow {
	return EdgeRow{
		MapID:        e.MapID,
		EdgeID:       e.ID,
		SourceNodeID: e.SourceID,
		TargetNodeID: e.TargetID,
		Label:        e.Label,
		EdgeType:     string(e.Type),
		Animated:     e.Animated,
	}
}

// ToEntity converts a row into an in-memory edge
func (r EdgeRow) ToEntity() entities.Edge {
	typ := entities.EdgeType(r.EdgeType)
	if typ == "" {
		typ = entities.EdgeTypeSmoothStep
	}
	return entities.Edge{
		ID:       r.EdgeID,
		MapID:    r.MapID,
		SourceID: r.SourceNodeID,
		TargetID: r.TargetNodeID,
		Label:    r.Label,
		Type:     typ,
		Animated: r.Animated,
	}
}

// NodeRowsFromEntities converts a node snapshot into rows for mapID
func NodeRowsFromEntities(mapID string, nodes []entities.Node) []NodeRow {
	rows := make([]NodeRow, 0, len(nodes))
	for _, n := range nodes {
		row := NodeRowFromEntity(n)
		row.MapID = mapID
		rows = append(rows, row)
	}
	return rows
}

// EdgeRowsFromEntities converts an edge snapshot into rows for mapID
func EdgeRowsFromEntities(mapID string, edges []entities.Edge) []EdgeRow {
	rows := make([]EdgeRow, 0, len(edges))
	for _, e := range edges {
		row := EdgeRowFromEntity(e)
		row.MapID = mapID
		rows = append(rows, row)
	}
	return rows
}

// NodesFromRows converts fetched rows into nodes, keeping row order
func NodesFromRows(rows []NodeRow) []entities.Node {
	nodes := make([]entities.Node, 0, len(rows))
	for _, r := range rows {
		nodes = append(nodes, r.ToEntity())
	}
	return nodes
}

// EdgesFromRows converts fetched rows into edges, keeping row order
func EdgesFromRows(rows []EdgeRow) []entities.Edge {
	edges := make([]entities.Edge, 0, len(rows))
	for _, r := range rows {
		edges = append(edges, r.ToEntity())
	}
	return edges
}

func copyFloat(f *float64) *float64 {
	if f == nil {
		return nil
	}
	v := *f
	return &v
}
