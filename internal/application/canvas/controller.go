// Package canvas translates editor gestures into graph mutations.
package canvas

import (
	"sync"

	"mapsync/internal/domain/aggregates"
	"mapsync/internal/domain/entities"
	"mapsync/internal/domain/valueobjects"
)

// Key names the keys the canvas reacts to
type Key string

const (
	KeyDelete    Key = "Delete"
	KeyBackspace Key = "Backspace"
	KeyEnter     Key = "Enter"
	KeyEscape    Key = "Escape"
)

// EditState is the inline editor of one node
type EditState struct {
	NodeID string
	Draft  string
}

// Controller holds the interaction state of one canvas: which control has
// text focus and which node, if any, is being edited inline.
type Controller struct {
	graph *aggregates.Graph

	mu        sync.Mutex
	textFocus bool
	editing   *EditState
}

// NewController creates a controller driving graph
func NewController(graph *aggregates.Graph) *Controller {
	return &Controller{graph: graph}
}

// DoubleClickPane creates a node where the empty canvas was double-clicked
func (c *Controller) DoubleClickPane(pos valueobjects.Position) entities.Node {
	return c.graph.CreateNode(pos)
}

// Connect completes a drag-to-connect gesture. Self-loops and endpoints that
// are not on the canvas are refused.
func (c *Controller) Connect(sourceID, targetID string) (entities.Edge, bool) {
	if sourceID == targetID || !c.graph.HasNode(sourceID) || !c.graph.HasNode(targetID) {
		return entities.Edge{}, false
	}
	return c.graph.Connect(sourceID, targetID), true
}

// KeyDown handles a key press on the canvas. It reports whether the key
// changed the graph.
func (c *Controller) KeyDown(key Key) bool {
	c.mu.Lock()
	editing := c.editing != nil
	focused := c.textFocus
	c.mu.Unlock()

	if editing {
		switch key {
		case KeyEnter:
			return c.EditCommit()
		case KeyEscape:
			c.EditCancel()
		}
		return false
	}
	if focused {
		return false
	}

	switch key {
	case KeyDelete, KeyBackspace:
		c.DeleteSelection()
		return true
	}
	return false
}

// DeleteSelection removes the selected nodes with their edges and the
// selected edges
func (c *Controller) DeleteSelection() {
	edges := c.graph.SelectedEdges()
	c.graph.DeleteSelected(c.graph.Selection())
	c.graph.DeleteEdges(edges)
}

// SelectionChanged records what the renderer reports as selected
func (c *Controller) SelectionChanged(nodeIDs, edgeIDs []string) {
	c.graph.SetSelection(nodeIDs, edgeIDs)
}

// SetTextFocus records whether a text control outside the canvas has focus
func (c *Controller) SetTextFocus(focused bool) {
	c.mu.Lock()
	c.textFocus = focused
	c.mu.Unlock()
}

// NodeDoubleClick starts editing a node inline. It returns false if the node
// is gone.
func (c *Controller) NodeDoubleClick(nodeID string) bool {
	node, ok := c.graph.Node(nodeID)
	if !ok {
		return false
	}
	c.mu.Lock()
	c.editing = &EditState{NodeID: nodeID, Draft: node.Content}
	c.mu.Unlock()
	return true
}

// EditInput replaces the draft of the inline editor
func (c *Controller) EditInput(text string) {
	c.mu.Lock()
	if c.editing != nil {
		c.editing.Draft = text
	}
	c.mu.Unlock()
}

// EditCommit saves the draft, on Enter or blur. A node deleted while being
// edited is not recreated.
func (c *Controller) EditCommit() bool {
	c.mu.Lock()
	edit := c.editing
	c.editing = nil
	c.mu.Unlock()

	if edit == nil {
		return false
	}
	return c.graph.UpdateNodeContent(edit.NodeID, edit.Draft)
}

// EditCancel leaves the inline editor without changing anything
func (c *Controller) EditCancel() {
	c.mu.Lock()
	c.editing = nil
	c.mu.Unlock()
}

// Editing returns the inline editor state, if one is open
func (c *Controller) Editing() (EditState, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.editing == nil {
		return EditState{}, false
	}
	return *c.editing, true
}

// HasTextFocus reports whether key presses go to a text control
func (c *Controller) HasTextFocus() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.textFocus || c.editing != nil
}

// DragNode moves a node to where it was dropped
func (c *Controller) DragNode(nodeID string, pos valueobjects.Position) bool {
	return c.graph.MoveNode(nodeID, pos)
}

// ResizeNode records a node's measured size
func (c *Controller) ResizeNode(nodeID string, width, height float64) bool {
	if width <= 0 || height <= 0 {
		return false
	}
	return c.graph.ResizeNode(nodeID, width, height)
}

// ApplyColor recolors the selected nodes
func (c *Controller) ApplyColor(color string) int {
	return c.graph.RecolorSelected(color)
}
