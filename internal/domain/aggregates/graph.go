// Package aggregates holds the in-memory graph of the one map a session has
// open: its nodes, its edges and the local user's selection.
//
// The Graph is the only authoritative client-side copy. The persister reads
// snapshots from it and the remote change listener replaces it wholesale; the
// mutation methods in mutations.go are the only sanctioned way to edit it.
package aggregates

import (
	"sort"
	"sync"

	"mapsync/internal/domain/entities"
	"mapsync/internal/domain/valueobjects"
)

// ChangeKind is a bitmask of the collections touched by a change
type ChangeKind uint8

const (
	NodesChanged ChangeKind = 1 << iota
	EdgesChanged
	SelectionChanged
)

// Has reports whether k includes every bit of other
func (k ChangeKind) Has(other ChangeKind) bool {
	return k&other == other
}

// Origin tells observers where a change came from
type Origin uint8

const (
	// OriginLocal marks changes made through the mutation API
	OriginLocal Origin = iota
	// OriginRemote marks wholesale replacement from the shared store
	OriginRemote
)

func (o Origin) String() string {
	if o == OriginRemote {
		return "remote"
	}
	return "local"
}

// Change describes one applied mutation or replacement
type Change struct {
	Kind   ChangeKind
	Origin Origin
	// Op names the operation, for logs and metrics
	Op string
}

// Graph is the Graph State Store for one open map.
//
// Every edge in edges was added at a point when both endpoints existed, but
// nothing re-validates that later: a reload racing with a delete can leave an
// edge whose endpoint is gone. Readers that draw edges use RenderableEdges.
//
// Writers are serialized through writeMu up to and including observer
// notification, so observers see changes in exactly the order they were
// applied. Observers may read the graph but must not mutate it.
type Graph struct {
	writeMu sync.Mutex

	mu            sync.RWMutex
	mapID         string
	ids           valueobjects.IDGenerator
	nodes         []entities.Node
	edges         []entities.Edge
	selectedNodes map[string]struct{}
	selectedEdges map[string]struct{}

	observerMu sync.Mutex
	observers  map[int]func(Change)
	nextObs    int
}

// NewGraph creates an empty graph for the given map
func NewGraph(mapID string, ids valueobjects.IDGenerator) *Graph {
	if ids == nil {
		ids = valueobjects.UUIDGenerator{}
	}
	return &Graph{
		mapID:         mapID,
		ids:           ids,
		selectedNodes: make(map[string]struct{}),
		selectedEdges: make(map[string]struct{}),
		observers:     make(map[int]func(Change)),
	}
}

// MapID returns the id of the map this graph belongs to
func (g *Graph) MapID() string {
	return g.mapID
}

// Observe registers fn to be called after every change. Observers run on the
// goroutine that made the change, after the data lock is released. The
// returned function unregisters fn.
func (g *Graph) Observe(fn func(Change)) (cancel func()) {
	g.observerMu.Lock()
	id := g.nextObs
	g.nextObs++
	g.observers[id] = fn
	g.observerMu.Unlock()

	return func() {
		g.observerMu.Lock()
		delete(g.observers, id)
		g.observerMu.Unlock()
	}
}

// apply runs fn under the data lock and then notifies observers with the kind
// fn reports. A zero kind means nothing changed and nobody is notified.
func (g *Graph) apply(op string, origin Origin, fn func() ChangeKind) {
	g.writeMu.Lock()
	defer g.writeMu.Unlock()

	g.mu.Lock()
	kind := fn()
	g.mu.Unlock()

	if kind == 0 {
		return
	}
	g.notify(Change{Kind: kind, Origin: origin, Op: op})
}

func (g *Graph) notify(c Change) {
	g.observerMu.Lock()
	keys := make([]int, 0, len(g.observers))
	for k := range g.observers {
		keys = append(keys, k)
	}
	sort.Ints(keys)
	fns := make([]func(Change), 0, len(keys))
	for _, k := range keys {
		fns = append(fns, g.observers[k])
	}
	g.observerMu.Unlock()

	for _, fn := range fns {
		fn(c)
	}
}

// Replace swaps in a new node and edge set wholesale. It is used on load and on
// remote reload and does not validate edge endpoints. Selection entries that no
// longer resolve are dropped.
func (g *Graph) Replace(nodes []entities.Node, edges []entities.Edge) {
	g.apply("replace", OriginRemote, func() ChangeKind {
		g.nodes = append([]entities.Node(nil), nodes...)
		g.edges = append([]entities.Edge(nil), edges...)

		kind := NodesChanged | EdgesChanged
		if g.pruneSelectionLocked() {
			kind |= SelectionChanged
		}
		return kind
	})
}

func (g *Graph) pruneSelectionLocked() bool {
	pruned := false
	if len(g.selectedNodes) > 0 {
		present := make(map[string]struct{}, len(g.nodes))
		for _, n := range g.nodes {
			present[n.ID] = struct{}{}
		}
		for id := range g.selectedNodes {
			if _, ok := present[id]; !ok {
				delete(g.selectedNodes, id)
				pruned = true
			}
		}
	}
	if len(g.selectedEdges) > 0 {
		present := make(map[string]struct{}, len(g.edges))
		for _, e := range g.edges {
			present[e.ID] = struct{}{}
		}
		for id := range g.selectedEdges {
			if _, ok := present[id]; !ok {
				delete(g.selectedEdges, id)
				pruned = true
			}
		}
	}
	return pruned
}

// Nodes returns a copy of the node collection in order
func (g *Graph) Nodes() []entities.Node {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return append([]entities.Node(nil), g.nodes...)
}

// Edges returns a copy of the edge collection in order
func (g *Graph) Edges() []entities.Edge {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return append([]entities.Edge(nil), g.edges...)
}

// Snapshot returns consistent copies of both collections
func (g *Graph) Snapshot() ([]entities.Node, []entities.Edge) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return append([]entities.Node(nil), g.nodes...), append([]entities.Edge(nil), g.edges...)
}

// Node looks up a node by id
func (g *Graph) Node(id string) (entities.Node, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if i := g.nodeIndexLocked(id); i >= 0 {
		return g.nodes[i], true
	}
	return entities.Node{}, false
}

// HasNode reports whether a node with the id exists
func (g *Graph) HasNode(id string) bool {
	_, ok := g.Node(id)
	return ok
}

// RenderableEdges returns the edges whose endpoints both resolve to a current
// node. Dangling edges stay in the store and are only skipped here.
func (g *Graph) RenderableEdges() []entities.Edge {
	g.mu.RLock()
	defer g.mu.RUnlock()

	present := make(map[string]struct{}, len(g.nodes))
	for _, n := range g.nodes {
		present[n.ID] = struct{}{}
	}
	out := make([]entities.Edge, 0, len(g.edges))
	for _, e := range g.edges {
		_, src := present[e.SourceID]
		_, dst := present[e.TargetID]
		if src && dst {
			out = append(out, e)
		}
	}
	return out
}

// Selection returns the selected node ids, sorted
func (g *Graph) Selection() []string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return sortedKeys(g.selectedNodes)
}

// SelectedEdges returns the selected edge ids, sorted
func (g *Graph) SelectedEdges() []string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return sortedKeys(g.selectedEdges)
}

// IsSelected reports whether a node is in the selection
func (g *Graph) IsSelected(nodeID string) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	_, ok := g.selectedNodes[nodeID]
	return ok
}

// SetSelection replaces the selection with the given node and edge ids.
// Ids are taken as reported by the canvas and are not checked for existence.
func (g *Graph) SetSelection(nodeIDs, edgeIDs []string) {
	g.apply("select", OriginLocal, func() ChangeKind {
		g.selectedNodes = toSet(nodeIDs)
		g.selectedEdges = toSet(edgeIDs)
		return SelectionChanged
	})
}

func (g *Graph) nodeIndexLocked(id string) int {
	for i := range g.nodes {
		if g.nodes[i].ID == id {
			return i
		}
	}
	return -1
}

func toSet(ids []string) map[string]struct{} {
	set := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	return set
}

func sortedKeys(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}
