package aggregates

import (
	"mapsync/internal/domain/entities"
	"mapsync/internal/domain/valueobjects"
)

// The mutation API. Every method applies immediately, never fails and never
// talks to the shared store; persistence follows from the change notification.
// Operations on an id that is not present are no-ops and notify nobody.

// CreateNode appends a node with default content at pos
func (g *Graph) CreateNode(pos valueobjects.Position) entities.Node {
	return g.CreateNodeWithContent(pos, entities.DefaultNodeContent)
}

// CreateNodeWithContent appends a node with a fresh id, the default color and
// the default kind.
func (g *Graph) CreateNodeWithContent(pos valueobjects.Position, content string) entities.Node {
	var node entities.Node
	g.apply("create_node", OriginLocal, func() ChangeKind {
		node = entities.Node{
			ID:       g.ids.NewID(),
			MapID:    g.mapID,
			Position: pos,
			Content:  content,
			Color:    entities.DefaultNodeColor,
			Kind:     entities.NodeKindMindMap,
		}
		g.nodes = append(g.nodes, node)
		return NodesChanged
	})
	return node
}

// UpdateNodeContent replaces a node's text
func (g *Graph) UpdateNodeContent(nodeID, text string) bool {
	return g.updateNode("update_content", nodeID, func(n *entities.Node) {
		n.Content = text
	})
}

// UpdateNodeColor replaces a node's display color
func (g *Graph) UpdateNodeColor(nodeID, color string) bool {
	return g.updateNode("update_color", nodeID, func(n *entities.Node) {
		n.Color = color
	})
}

// MoveNode sets a node's position, as reported by a drag on the canvas
func (g *Graph) MoveNode(nodeID string, pos valueobjects.Position) bool {
	return g.updateNode("move_node", nodeID, func(n *entities.Node) {
		n.Position = pos
	})
}

// ResizeNode records the rendered size of a node
func (g *Graph) ResizeNode(nodeID string, width, height float64) bool {
	return g.updateNode("resize_node", nodeID, func(n *entities.Node) {
		w, h := width, height
		n.Width = &w
		n.Height = &h
	})
}

func (g *Graph) updateNode(op, nodeID string, fn func(*entities.Node)) bool {
	found := false
	g.apply(op, OriginLocal, func() ChangeKind {
		i := g.nodeIndexLocked(nodeID)
		if i < 0 {
			return 0
		}
		found = true
		fn(&g.nodes[i])
		return NodesChanged
	})
	return found
}

// RecolorSelected applies color to every selected node that exists and returns
// how many nodes changed.
func (g *Graph) RecolorSelected(color string) int {
	count := 0
	g.apply("recolor_selected", OriginLocal, func() ChangeKind {
		for i := range g.nodes {
			if _, ok := g.selectedNodes[g.nodes[i].ID]; ok {
				g.nodes[i].Color = color
				count++
			}
		}
		if count == 0 {
			return 0
		}
		return NodesChanged
	})
	return count
}

// Connect appends an edge from source to target with a fresh id and the
// default rendering type. It checks neither that the endpoints exist nor that
// they differ; the canvas layer decides whether to allow self-loops.
func (g *Graph) Connect(sourceID, targetID string) entities.Edge {
	var edge entities.Edge
	g.apply("connect", OriginLocal, func() ChangeKind {
		edge = entities.Edge{
			ID:       g.ids.NewID(),
			MapID:    g.mapID,
			SourceID: sourceID,
			TargetID: targetID,
			Type:     entities.EdgeTypeSmoothStep,
		}
		g.edges = append(g.edges, edge)
		return EdgesChanged
	})
	return edge
}

// DeleteSelected removes the given nodes and every edge incident to any of
// them, and clears those ids from the selection. Both collections are reported
// changed even if nothing matched, so both persistence streams are rescheduled.
func (g *Graph) DeleteSelected(nodeIDs []string) {
	doomed := toSet(nodeIDs)
	g.apply("delete_selected", OriginLocal, func() ChangeKind {
		nodes := g.nodes[:0:0]
		for _, n := range g.nodes {
			if _, ok := doomed[n.ID]; !ok {
				nodes = append(nodes, n)
			}
		}
		edges := g.edges[:0:0]
		for _, e := range g.edges {
			if !e.Touches(doomed) {
				edges = append(edges, e)
			}
		}
		g.nodes, g.edges = nodes, edges

		for id := range doomed {
			delete(g.selectedNodes, id)
		}
		g.pruneSelectionLocked()
		return NodesChanged | EdgesChanged | SelectionChanged
	})
}

// DeleteEdges removes the given edges and clears them from the edge selection
func (g *Graph) DeleteEdges(edgeIDs []string) {
	if len(edgeIDs) == 0 {
		return
	}
	doomed := toSet(edgeIDs)
	g.apply("delete_edges", OriginLocal, func() ChangeKind {
		edges := g.edges[:0:0]
		for _, e := range g.edges {
			if _, ok := doomed[e.ID]; !ok {
				edges = append(edges, e)
			}
		}
		removed := len(edges) != len(g.edges)
		g.edges = edges
		for id := range doomed {
			delete(g.selectedEdges, id)
		}
		if !removed {
			return SelectionChanged
		}
		return EdgesChanged | SelectionChanged
	})
}
