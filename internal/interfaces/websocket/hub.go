// Package websocket serves the canvas: one engine session per connection,
// gestures in and graph views out.
package websocket

import (
	"sync"

	"go.uber.org/zap"

	pkgerrors "mapsync/pkg/errors"
)

// Hub tracks the open canvas connections of every map
type Hub struct {
	mu          sync.RWMutex
	connections map[string]map[*Client]struct{} // mapID -> clients
	maxPerMap   int
	closed      bool
	logger      *zap.Logger
}

// NewHub creates a hub allowing maxPerMap connections per map; zero means
// no limit
func NewHub(maxPerMap int, logger *zap.Logger) *Hub {
	return &Hub{
		connections: make(map[string]map[*Client]struct{}),
		maxPerMap:   maxPerMap,
		logger:      logger.Named("hub"),
	}
}

// Reserve checks whether one more connection to mapID is allowed
func (h *Hub) Reserve(mapID string) error {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.closed {
		return pkgerrors.NewUnavailableError("canvas")
	}
	if h.maxPerMap > 0 && len(h.connections[mapID]) >= h.maxPerMap {
		return pkgerrors.NewConflictError("too many open canvases for this map")
	}
	return nil
}

func (h *Hub) register(c *Client) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return pkgerrors.NewUnavailableError("canvas")
	}
	if h.maxPerMap > 0 && len(h.connections[c.mapID]) >= h.maxPerMap {
		return pkgerrors.NewConflictError("too many open canvases for this map")
	}
	if h.connections[c.mapID] == nil {
		h.connections[c.mapID] = make(map[*Client]struct{})
	}
	h.connections[c.mapID][c] = struct{}{}

	h.logger.Info("Client registered",
		zap.String("map_id", c.mapID),
		zap.String("connection_id", c.id),
		zap.Int("map_connections", len(h.connections[c.mapID])),
	)
	return nil
}

func (h *Hub) unregister(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	clients, ok := h.connections[c.mapID]
	if !ok {
		return
	}
	if _, ok := clients[c]; !ok {
		return
	}
	delete(clients, c)
	if len(clients) == 0 {
		delete(h.connections, c.mapID)
	}
	h.logger.Info("Client unregistered",
		zap.String("map_id", c.mapID),
		zap.String("connection_id", c.id),
		zap.Int("remaining_connections", len(clients)),
	)
}

// ConnectionCount returns the open connections of one map
func (h *Hub) ConnectionCount(mapID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.connections[mapID])
}

// TotalConnections returns the open connections of every map
func (h *Hub) TotalConnections() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	n := 0
	for _, clients := range h.connections {
		n += len(clients)
	}
	return n
}

// Stop refuses new connections and closes the open ones. Each client flushes
// and closes its session on the way out; Stop waits for that.
func (h *Hub) Stop() {
	h.mu.Lock()
	h.closed = true
	var clients []*Client
	for _, set := range h.connections {
		for c := range set {
			clients = append(clients, c)
		}
	}
	h.mu.Unlock()

	h.logger.Info("Stopping canvas hub", zap.Int("connections", len(clients)))
	for _, c := range clients {
		c.Close()
	}
	for _, c := range clients {
		<-c.done
	}
}
