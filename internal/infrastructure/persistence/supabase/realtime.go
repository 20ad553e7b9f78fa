package supabase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"mapsync/internal/application/ports"
)

const (
	// Supabase closes channels that miss heartbeats for about a minute
	defaultHeartbeat   = 25 * time.Second
	defaultJoinTimeout = 10 * time.Second
	defaultReconnect   = 2 * time.Minute
	writeWait          = 10 * time.Second
	maxMessageSize     = 1 << 20
)

// Phoenix channel events used by Supabase Realtime
const (
	eventJoin            = "phx_join"
	eventLeave           = "phx_leave"
	eventReply           = "phx_reply"
	eventError           = "phx_error"
	eventClose           = "phx_close"
	eventHeartbeat       = "heartbeat"
	eventPostgresChanges = "postgres_changes"
	phoenixTopic         = "phoenix"
)

type phxMessage struct {
	Topic   string          `json:"topic"`
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload"`
	Ref     string          `json:"ref,omitempty"`
}

type joinPayload struct {
	Config      joinConfig `json:"config"`
	AccessToken string     `json:"access_token,omitempty"`
}

type joinConfig struct {
	PostgresChanges []postgresChangesFilter `json:"postgres_changes"`
}

type postgresChangesFilter struct {
	Event  string `json:"event"`
	Schema string `json:"schema"`
	Table  string `json:"table"`
	Filter string `json:"filter,omitempty"`
}

type replyPayload struct {
	Status   string          `json:"status"`
	Response json.RawMessage `json:"response"`
}

// changeRecord covers both the current payload shape (wrapped in data) and
// the legacy one (eventType, new, old at the top level).
type changeRecord struct {
	Type      string          `json:"type"`
	EventType string          `json:"eventType"`
	Table     string          `json:"table"`
	Record    json.RawMessage `json:"record"`
	OldRecord json.RawMessage `json:"old_record"`
	New       json.RawMessage `json:"new"`
	Old       json.RawMessage `json:"old"`
}

type changesPayload struct {
	Data *changeRecord `json:"data"`
	changeRecord
}

// Realtime subscribes to row changes over the Supabase Realtime websocket.
// Each subscription owns one connection and one channel.
type Realtime struct {
	endpoint     string
	key          string
	dialer       *websocket.Dialer
	heartbeat    time.Duration
	joinTimeout  time.Duration
	reconnectFor time.Duration
	logger       *zap.Logger
}

// NewRealtime derives the websocket endpoint from the project URL
func NewRealtime(projectURL, key string, logger *zap.Logger) (*Realtime, error) {
	endpoint, err := realtimeEndpoint(projectURL, key)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Realtime{
		endpoint:     endpoint,
		key:          key,
		dialer:       websocket.DefaultDialer,
		heartbeat:    defaultHeartbeat,
		joinTimeout:  defaultJoinTimeout,
		reconnectFor: defaultReconnect,
		logger:       logger.Named("realtime"),
	}, nil
}

func realtimeEndpoint(projectURL, key string) (string, error) {
	u, err := url.Parse(strings.TrimRight(projectURL, "/"))
	if err != nil {
		return "", fmt.Errorf("invalid Supabase URL: %w", err)
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	case "http":
		u.Scheme = "ws"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("invalid Supabase URL scheme %q", u.Scheme)
	}
	u.Path += "/realtime/v1/websocket"
	q := u.Query()
	q.Set("apikey", key)
	q.Set("vsn", "1.0.0")
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// Subscribe joins a channel for changes to one table filtered by map id. It
// returns once the server has acknowledged the join.
func (r *Realtime) Subscribe(ctx context.Context, table ports.Table, mapID string) (ports.Subscription, error) {
	chCtx, cancel := context.WithCancel(context.Background())
	ch := &channel{
		rt:     r,
		table:  table,
		mapID:  mapID,
		topic:  fmt.Sprintf("realtime:mapsync:%s:%s", table, mapID),
		events: make(chan ports.ChangeEvent, 16),
		ctx:    chCtx,
		cancel: cancel,
		logger: r.logger.With(zap.String("table", string(table)), zap.String("map_id", mapID)),
	}

	conn, err := ch.connect(ctx)
	if err != nil {
		cancel()
		return nil, err
	}
	ch.setConn(conn)

	ch.wg.Add(1)
	go ch.run(conn)

	go func() {
		select {
		case <-ctx.Done():
			_ = ch.Close()
		case <-chCtx.Done():
		}
	}()
	return ch, nil
}

type channel struct {
	rt     *Realtime
	table  ports.Table
	mapID  string
	topic  string
	events chan ports.ChangeEvent

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	once   sync.Once

	connMu  sync.Mutex
	conn    *websocket.Conn
	writeMu sync.Mutex
	ref     atomic.Uint64

	logger *zap.Logger
}

func (c *channel) Events() <-chan ports.ChangeEvent {
	return c.events
}

// Close leaves the channel, closes the connection and waits for the reader
func (c *channel) Close() error {
	c.once.Do(func() {
		c.cancel()
		if conn := c.currentConn(); conn != nil {
			_ = c.send(conn, eventLeave, c.topic, struct{}{})
			_ = conn.Close()
		}
		c.wg.Wait()
	})
	return nil
}

func (c *channel) setConn(conn *websocket.Conn) {
	c.connMu.Lock()
	c.conn = conn
	c.connMu.Unlock()
}

func (c *channel) currentConn() *websocket.Conn {
	c.connMu.Lock()
	defer c.connMu.Unlock()
	return c.conn
}

func (c *channel) nextRef() string {
	return strconv.FormatUint(c.ref.Add(1), 10)
}

func (c *channel) send(conn *websocket.Conn, event, topic string, payload interface{}) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	msg := phxMessage{Topic: topic, Event: event, Payload: raw, Ref: c.nextRef()}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteJSON(msg)
}

// connect dials and joins, waiting for the join reply
func (c *channel) connect(ctx context.Context) (*websocket.Conn, error) {
	conn, _, err := c.rt.dialer.DialContext(ctx, c.rt.endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("realtime dial failed: %w", err)
	}
	conn.SetReadLimit(maxMessageSize)

	join := joinPayload{
		Config: joinConfig{PostgresChanges: []postgresChangesFilter{{
			Event:  "*",
			Schema: "public",
			Table:  string(c.table),
			Filter: "map_id=eq." + c.mapID,
		}}},
		AccessToken: c.rt.key,
	}
	raw, _ := json.Marshal(join)
	ref := c.nextRef()

	c.writeMu.Lock()
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	err = conn.WriteJSON(phxMessage{Topic: c.topic, Event: eventJoin, Payload: raw, Ref: ref})
	c.writeMu.Unlock()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("realtime join failed: %w", err)
	}

	_ = conn.SetReadDeadline(time.Now().Add(c.rt.joinTimeout))
	for {
		var msg phxMessage
		if err := conn.ReadJSON(&msg); err != nil {
			conn.Close()
			return nil, fmt.Errorf("realtime join failed: %w", err)
		}
		if msg.Event != eventReply || msg.Ref != ref {
			continue
		}
		var reply replyPayload
		if err := json.Unmarshal(msg.Payload, &reply); err != nil {
			conn.Close()
			return nil, fmt.Errorf("realtime join reply: %w", err)
		}
		if reply.Status != "ok" {
			conn.Close()
			return nil, backoff.Permanent(fmt.Errorf("realtime join rejected: %s %s", reply.Status, string(reply.Response)))
		}
		c.logger.Debug("Joined realtime channel", zap.String("topic", c.topic))
		return conn, nil
	}
}

// run serves the connection and reconnects until the channel is closed or
// the reconnect budget runs out. The events channel closes when run returns.
func (c *channel) run(conn *websocket.Conn) {
	defer c.wg.Done()
	defer close(c.events)

	for {
		err := c.serve(conn)
		if c.ctx.Err() != nil {
			return
		}
		c.logger.Warn("Realtime connection lost, reconnecting", zap.Error(err))

		conn, err = backoff.Retry(c.ctx, func() (*websocket.Conn, error) {
			return c.connect(c.ctx)
		},
			backoff.WithBackOff(backoff.NewExponentialBackOff()),
			backoff.WithMaxElapsedTime(c.rt.reconnectFor),
			backoff.WithNotify(func(err error, next time.Duration) {
				c.logger.Debug("Realtime reconnect attempt failed", zap.Error(err), zap.Duration("next", next))
			}),
		)
		if err != nil {
			if c.ctx.Err() == nil {
				c.logger.Error("Realtime feed gave up reconnecting", zap.Error(err))
			}
			return
		}
		c.setConn(conn)
		if c.ctx.Err() != nil {
			conn.Close()
			return
		}

		// changes made while disconnected were missed; ask for a reload
		c.emit(ports.ChangeEvent{Type: ports.ChangeUpdate, Table: c.table, MapID: c.mapID})
	}
}

func (c *channel) serve(conn *websocket.Conn) error {
	done := make(chan struct{})
	defer close(done)
	defer conn.Close()

	go func() {
		ticker := time.NewTicker(c.rt.heartbeat)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				if err := c.send(conn, eventHeartbeat, phoenixTopic, struct{}{}); err != nil {
					c.logger.Debug("Heartbeat failed", zap.Error(err))
					conn.Close()
					return
				}
			}
		}
	}()

	for {
		_ = conn.SetReadDeadline(time.Now().Add(2 * c.rt.heartbeat))
		var msg phxMessage
		if err := conn.ReadJSON(&msg); err != nil {
			return err
		}
		if msg.Topic != c.topic {
			continue
		}
		switch msg.Event {
		case eventPostgresChanges:
			if ev, ok := c.decodeChange(msg.Payload); ok {
				c.emit(ev)
			}
		case eventError, eventClose:
			return errors.New("realtime channel " + msg.Event)
		}
	}
}

func (c *channel) decodeChange(raw json.RawMessage) (ports.ChangeEvent, bool) {
	var payload changesPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		c.logger.Warn("Malformed postgres_changes payload", zap.Error(err))
		return ports.ChangeEvent{}, false
	}
	rec := payload.changeRecord
	if payload.Data != nil {
		rec = *payload.Data
	}

	typ := rec.Type
	if typ == "" {
		typ = rec.EventType
	}
	ev := ports.ChangeEvent{Type: ports.ChangeType(strings.ToUpper(typ)), Table: c.table, MapID: c.mapID}
	switch ev.Type {
	case ports.ChangeInsert, ports.ChangeUpdate:
		ev.Row = firstNonEmpty(rec.Record, rec.New)
	case ports.ChangeDelete:
		ev.Row = firstNonEmpty(rec.OldRecord, rec.Old)
	default:
		c.logger.Debug("Ignoring unknown change type", zap.String("type", typ))
		return ports.ChangeEvent{}, false
	}
	return ev, true
}

func (c *channel) emit(ev ports.ChangeEvent) {
	select {
	case c.events <- ev:
	case <-c.ctx.Done():
	}
}

func firstNonEmpty(values ...json.RawMessage) json.RawMessage {
	for _, v := range values {
		if len(v) > 0 && string(v) != "null" {
			return v
		}
	}
	return nil
}
