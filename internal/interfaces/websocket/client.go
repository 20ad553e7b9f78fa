package websocket

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"mapsync/internal/application/canvas"
	"mapsync/internal/application/dto"
	"mapsync/internal/application/session"
	"mapsync/internal/domain/aggregates"
	"mapsync/internal/domain/valueobjects"
	pkgerrors "mapsync/pkg/errors"
)

// Send buffer size
const sendBufferSize = 64

// ClientConfig holds the connection timing limits
type ClientConfig struct {
	// WriteWait is the time allowed to write a message to the peer
	WriteWait time.Duration
	// PongWait is the time allowed to read the next pong from the peer
	PongWait time.Duration
	// MaxMessageSize is the largest inbound message accepted
	MaxMessageSize int64
	// FlushTimeout bounds the final flush when the connection ends
	FlushTimeout time.Duration
}

// DefaultClientConfig returns the default connection limits
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		WriteWait:      10 * time.Second,
		PongWait:       60 * time.Second,
		MaxMessageSize: 512 * 1024,
		FlushTimeout:   10 * time.Second,
	}
}

// Client is one canvas connection and the session it drives
type Client struct {
	id     string
	userID string
	mapID  string
	hub    *Hub
	conn   *websocket.Conn
	cfg    ClientConfig

	session *session.Session
	canvas  *canvas.Controller

	send        chan []byte
	graphDirty  chan struct{}
	statusDirty chan struct{}

	stop       chan struct{}
	stopOnce   sync.Once
	writerDone chan struct{}
	done       chan struct{}

	logger *zap.Logger
}

func newClient(userID string, hub *Hub, conn *websocket.Conn, sess *session.Session, cfg ClientConfig, logger *zap.Logger) *Client {
	id := uuid.NewString()
	return &Client{
		id:          id,
		userID:      userID,
		mapID:       sess.Map().ID,
		hub:         hub,
		conn:        conn,
		cfg:         cfg,
		session:     sess,
		canvas:      canvas.NewController(sess.Graph()),
		send:        make(chan []byte, sendBufferSize),
		graphDirty:  make(chan struct{}, 1),
		statusDirty: make(chan struct{}, 1),
		stop:        make(chan struct{}),
		writerDone:  make(chan struct{}),
		done:        make(chan struct{}),
		logger: logger.With(
			zap.String("connection_id", id),
			zap.String("map_id", sess.Map().ID),
		),
	}
}

// Start registers the client and begins its read and write pumps
func (c *Client) Start() error {
	if err := c.hub.register(c); err != nil {
		return err
	}

	stopChanges := c.session.OnChange(func(aggregates.Change) { signal(c.graphDirty) })
	stopStatus := c.session.OnStatus(func(session.Status) { signal(c.statusDirty) })

	hello := newOutbound(TypeConnectionEstablished, establishedData{
		ConnectionID: c.id,
		MapID:        c.mapID,
		UserID:       c.userID,
	})

	go c.writePump(hello)
	go c.readPump(func() {
		stopChanges()
		stopStatus()
	})
	return nil
}

// Close asks the client to disconnect. The session is flushed and closed by
// the read pump on its way out.
func (c *Client) Close() {
	c.stopOnce.Do(func() { close(c.stop) })
}

// ID returns the connection id
func (c *Client) ID() string {
	return c.id
}

func signal(ch chan struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}

func (c *Client) readPump(unobserve func()) {
	defer func() {
		c.Close()
		<-c.writerDone
		c.hub.unregister(c)
		unobserve()

		ctx, cancel := context.WithTimeout(context.Background(), c.cfg.FlushTimeout)
		if err := c.session.Flush(ctx); err != nil {
			c.logger.Warn("Final flush failed", zap.Error(err))
		}
		cancel()
		if err := c.session.Close(); err != nil {
			c.logger.Warn("Session closed with errors", zap.Error(err))
		}
		close(c.done)
		c.logger.Info("Read pump stopped")
	}()

	c.conn.SetReadLimit(c.cfg.MaxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(c.cfg.PongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(c.cfg.PongWait))
	})

	for {
		messageType, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				c.logger.Warn("WebSocket read error", zap.Error(err))
			}
			return
		}
		if messageType != websocket.TextMessage {
			c.logger.Warn("Binary messages not supported")
			continue
		}

		var in Inbound
		if err := json.Unmarshal(message, &in); err != nil {
			c.sendError(pkgerrors.NewValidationError("message is not valid JSON"))
			continue
		}
		if err := c.handle(in); err != nil {
			c.sendError(err)
		}
	}
}

// writePump owns the connection's write side. The greeting, the first graph
// and the first status go out in that order before anything else.
func (c *Client) writePump(hello Outbound) {
	pingPeriod := (c.cfg.PongWait * 9) / 10
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
		close(c.writerDone)
	}()

	write := func(payload []byte) bool {
		_ = c.conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteWait))
		if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
			c.logger.Warn("Failed to write message", zap.Error(err))
			return false
		}
		return true
	}
	render := func(msg Outbound) bool {
		payload, err := json.Marshal(msg)
		if err != nil {
			c.logger.Error("Failed to marshal message", zap.String("type", msg.Type), zap.Error(err))
			return true
		}
		return write(payload)
	}
	graph := func() bool {
		return render(newOutbound(TypeGraph, dto.ToGraphView(c.session.Graph())))
	}
	status := func() bool {
		st := c.session.Status()
		return render(newOutbound(TypeStatus, dto.ToStatusView(st.Saving, st.Unsaved, st.LastError, st.LastSavedAt)))
	}

	if !render(hello) || !graph() || !status() {
		return
	}

	for {
		select {
		case <-c.stop:
			_ = c.conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteWait))
			_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, "server closing"))
			return

		case payload := <-c.send:
			if !write(payload) {
				return
			}

		case <-c.graphDirty:
			if !graph() {
				return
			}

		case <-c.statusDirty:
			if !status() {
				return
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.logger.Warn("Failed to send ping", zap.Error(err))
				return
			}
		}
	}
}

func (c *Client) enqueue(msg Outbound) {
	payload, err := json.Marshal(msg)
	if err != nil {
		c.logger.Error("Failed to marshal message", zap.String("type", msg.Type), zap.Error(err))
		return
	}
	select {
	case c.send <- payload:
	default:
		c.logger.Warn("Send buffer full, message dropped", zap.String("type", msg.Type))
	}
}

func (c *Client) sendError(err error) {
	data := errorData{Type: string(pkgerrors.ErrorTypeInternal), Message: "internal error"}
	if appErr := pkgerrors.GetAppError(err); appErr != nil {
		data = errorData{Type: string(appErr.Type), Message: appErr.Message}
	}
	c.enqueue(newOutbound(TypeError, data))
}

func decodeData(in Inbound, v interface{}) error {
	if len(in.Data) == 0 {
		return pkgerrors.NewValidationError(fmt.Sprintf("%s requires data", in.Type))
	}
	if err := json.Unmarshal(in.Data, v); err != nil {
		return pkgerrors.NewValidationError(fmt.Sprintf("invalid %s data", in.Type))
	}
	return nil
}

// handle applies one gesture. Gestures that refer to nodes that are gone are
// silently ignored, like the mutations they map to.
func (c *Client) handle(in Inbound) error {
	switch in.Type {
	case TypeDoubleClickPane:
		var d positionData
		if err := decodeData(in, &d); err != nil {
			return err
		}
		pos, err := valueobjects.NewPosition(d.X, d.Y)
		if err != nil {
			return pkgerrors.NewValidationError(err.Error())
		}
		c.canvas.DoubleClickPane(pos)

	case TypeConnect:
		var d connectData
		if err := decodeData(in, &d); err != nil {
			return err
		}
		if _, ok := c.canvas.Connect(d.Source, d.Target); !ok {
			return pkgerrors.NewValidationError("cannot connect those nodes")
		}

	case TypeKeyDown:
		var d keyData
		if err := decodeData(in, &d); err != nil {
			return err
		}
		c.canvas.KeyDown(canvas.Key(d.Key))

	case TypeSelectionChanged:
		var d selectionData
		if err := decodeData(in, &d); err != nil {
			return err
		}
		c.canvas.SelectionChanged(d.Nodes, d.Edges)

	case TypeNodeDoubleClick:
		var d nodeData
		if err := decodeData(in, &d); err != nil {
			return err
		}
		c.canvas.NodeDoubleClick(d.NodeID)

	case TypeEditInput:
		var d textData
		if err := decodeData(in, &d); err != nil {
			return err
		}
		c.canvas.EditInput(d.Text)

	case TypeEditCommit:
		c.canvas.EditCommit()

	case TypeEditCancel:
		c.canvas.EditCancel()

	case TypeDragNode:
		var d dragData
		if err := decodeData(in, &d); err != nil {
			return err
		}
		pos, err := valueobjects.NewPosition(d.X, d.Y)
		if err != nil {
			return pkgerrors.NewValidationError(err.Error())
		}
		c.canvas.DragNode(d.NodeID, pos)

	case TypeResizeNode:
		var d resizeData
		if err := decodeData(in, &d); err != nil {
			return err
		}
		c.canvas.ResizeNode(d.NodeID, d.Width, d.Height)

	case TypeApplyColor:
		var d colorData
		if err := decodeData(in, &d); err != nil {
			return err
		}
		c.canvas.ApplyColor(d.Color)

	case TypeTextFocus:
		var d focusData
		if err := decodeData(in, &d); err != nil {
			return err
		}
		c.canvas.SetTextFocus(d.Focused)

	case TypeFlush:
		ctx, cancel := context.WithTimeout(context.Background(), c.cfg.FlushTimeout)
		defer cancel()
		if err := c.session.Flush(ctx); err != nil {
			return err
		}

	case TypePing:
		c.enqueue(newOutbound(TypePong, nil))

	default:
		return pkgerrors.NewValidationError(fmt.Sprintf("unknown message type %q", in.Type))
	}
	return nil
}
