// Package dto holds the view models sent to REST and websocket clients.
package dto

import (
	"time"

	"mapsync/internal/domain/aggregates"
	"mapsync/internal/domain/entities"
)

// MapView is a map record as clients see it
type MapView struct {
	ID        string    `json:"id"`
	OwnerID   string    `json:"owner_id"`
	Title     string    `json:"title"`
	IsShared  bool      `json:"is_shared"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// PositionView is a canvas coordinate
type PositionView struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// NodeView is a node as the renderer draws it
type NodeView struct {
	ID       string       `json:"id"`
	Position PositionView `json:"position"`
	Content  string       `json:"content"`
	Color    string       `json:"color"`
	Type     string       `json:"type"`
	Width    *float64     `json:"width,omitempty"`
	Height   *float64     `json:"height,omitempty"`
}

// EdgeView is an edge as the renderer draws it
type EdgeView struct {
	ID       string `json:"id"`
	Source   string `json:"source"`
	Target   string `json:"target"`
	Label    string `json:"label,omitempty"`
	Type     string `json:"type"`
	Animated bool   `json:"animated"`
}

// GraphView is the full canvas. Edges only lists edges whose endpoints both
// exist; Dangling counts the rest.
type GraphView struct {
	MapID         string     `json:"map_id"`
	Nodes         []NodeView `json:"nodes"`
	Edges         []EdgeView `json:"edges"`
	Selection     []string   `json:"selection"`
	SelectedEdges []string   `json:"selected_edges"`
	Dangling      int        `json:"dangling_edges"`
}

// MapGraphView is a map with its stored nodes and edges
type MapGraphView struct {
	Map      MapView    `json:"map"`
	Nodes    []NodeView `json:"nodes"`
	Edges    []EdgeView `json:"edges"`
	Dangling int        `json:"dangling_edges"`
}

// StatusView is the save indicator
type StatusView struct {
	Saving      bool       `json:"saving"`
	Unsaved     bool       `json:"unsaved"`
	LastError   string     `json:"last_error,omitempty"`
	LastSavedAt *time.Time `json:"last_saved_at,omitempty"`
}

// ToMapView converts a map entity
func ToMapView(m entities.MindMap) MapView {
	return MapView{
		ID:        m.ID,
		OwnerID:   m.OwnerID,
		Title:     m.Title,
		IsShared:  m.Shared,
		CreatedAt: m.CreatedAt,
		UpdatedAt: m.UpdatedAt,
	}
}

// ToMapViews converts a list of maps
func ToMapViews(maps []entities.MindMap) []MapView {
	views := make([]MapView, 0, len(maps))
	for _, m := range maps {
		views = append(views, ToMapView(m))
	}
	return views
}

// ToNodeView converts a node
func ToNodeView(n entities.Node) NodeView {
	return NodeView{
		ID:       n.ID,
		Position: PositionView{X: n.Position.X(), Y: n.Position.Y()},
		Content:  n.Content,
		Color:    n.Color,
		Type:     string(n.Kind),
		Width:    n.Width,
		Height:   n.Height,
	}
}

// ToEdgeView converts an edge
func ToEdgeView(e entities.Edge) EdgeView {
	return EdgeView{
		ID:       e.ID,
		Source:   e.SourceID,
		Target:   e.TargetID,
		Label:    e.Label,
		Type:     string(e.Type),
		Animated: e.Animated,
	}
}

// SplitEdges converts the edges whose endpoints are both in nodes and counts
// the others
func SplitEdges(nodes []entities.Node, edges []entities.Edge) ([]EdgeView, int) {
	present := make(map[string]struct{}, len(nodes))
	for _, n := range nodes {
		present[n.ID] = struct{}{}
	}
	views := make([]EdgeView, 0, len(edges))
	dangling := 0
	for _, e := range edges {
		_, okSource := present[e.SourceID]
		_, okTarget := present[e.TargetID]
		if !okSource || !okTarget {
			dangling++
			continue
		}
		views = append(views, ToEdgeView(e))
	}
	return views, dangling
}

func toNodeViews(nodes []entities.Node) []NodeView {
	views := make([]NodeView, 0, len(nodes))
	for _, n := range nodes {
		views = append(views, ToNodeView(n))
	}
	return views
}

// ToGraphView renders the current state of a graph
func ToGraphView(g *aggregates.Graph) GraphView {
	nodes, edges := g.Snapshot()
	edgeViews, dangling := SplitEdges(nodes, edges)
	return GraphView{
		MapID:         g.MapID(),
		Nodes:         toNodeViews(nodes),
		Edges:         edgeViews,
		Selection:     nonNil(g.Selection()),
		SelectedEdges: nonNil(g.SelectedEdges()),
		Dangling:      dangling,
	}
}

// ToMapGraphView renders a map with its stored contents
func ToMapGraphView(m entities.MindMap, nodes []entities.Node, edges []entities.Edge) MapGraphView {
	edgeViews, dangling := SplitEdges(nodes, edges)
	return MapGraphView{
		Map:      ToMapView(m),
		Nodes:    toNodeViews(nodes),
		Edges:    edgeViews,
		Dangling: dangling,
	}
}

// ToStatusView converts a save indicator
func ToStatusView(saving, unsaved bool, lastErr error, savedAt time.Time) StatusView {
	v := StatusView{Saving: saving, Unsaved: unsaved}
	if lastErr != nil {
		v.LastError = lastErr.Error()
	}
	if !savedAt.IsZero() {
		t := savedAt
		v.LastSavedAt = &t
	}
	return v
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
