package websocket

import (
	"encoding/json"
	"time"
)

// Inbound gesture types
const (
	TypeDoubleClickPane  = "double_click_pane"
	TypeConnect          = "connect"
	TypeKeyDown          = "key_down"
	TypeSelectionChanged = "selection_changed"
	TypeNodeDoubleClick  = "node_double_click"
	TypeEditInput        = "edit_input"
	TypeEditCommit       = "edit_commit"
	TypeEditCancel       = "edit_cancel"
	TypeDragNode         = "drag_node"
	TypeResizeNode       = "resize_node"
	TypeApplyColor       = "apply_color"
	TypeTextFocus        = "text_focus"
	TypeFlush            = "flush"
	TypePing             = "ping"
)

// Outbound message types
const (
	TypeConnectionEstablished = "connection_established"
	TypeGraph                 = "graph"
	TypeStatus                = "status"
	TypeError                 = "error"
	TypeSessionAbandoned      = "session_abandoned"
	TypePong                  = "pong"
)

// Inbound is a gesture sent by the browser
type Inbound struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// Outbound is a message sent to the browser
type Outbound struct {
	Type      string      `json:"type"`
	Timestamp int64       `json:"timestamp"`
	Data      interface{} `json:"data,omitempty"`
}

func newOutbound(typ string, data interface{}) Outbound {
	return Outbound{Type: typ, Timestamp: time.Now().Unix(), Data: data}
}

type positionData struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

type connectData struct {
	Source string `json:"source"`
	Target string `json:"target"`
}

type keyData struct {
	Key string `json:"key"`
}

type selectionData struct {
	Nodes []string `json:"nodes"`
	Edges []string `json:"edges"`
}

type nodeData struct {
	NodeID string `json:"node_id"`
}

type textData struct {
	Text string `json:"text"`
}

type dragData struct {
	NodeID string  `json:"node_id"`
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
}

type resizeData struct {
	NodeID string  `json:"node_id"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

type colorData struct {
	Color string `json:"color"`
}

type focusData struct {
	Focused bool `json:"focused"`
}

type errorData struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

type establishedData struct {
	ConnectionID string `json:"connection_id"`
	MapID        string `json:"map_id"`
	UserID       string `json:"user_id,omitempty"`
}
