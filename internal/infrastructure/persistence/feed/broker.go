// Package feed is an in-process change feed for stores that have no native
// realtime channel. Stores publish after every committed write and sessions
// subscribe per table and map, exactly as they would against the hosted feed.
package feed

import (
	"context"
	"encoding/json"
	"sync"

	"go.uber.org/zap"

	"mapsync/internal/application/ports"
)

// DefaultBuffer is the per-subscription event buffer
const DefaultBuffer = 64

type key struct {
	table ports.Table
	mapID string
}

// Broker fans change events out to subscribers filtered by table and map
type Broker struct {
	mu     sync.RWMutex
	subs   map[key]map[*subscription]struct{}
	buffer int
	logger *zap.Logger
}

// NewBroker creates an empty broker
func NewBroker(logger *zap.Logger) *Broker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Broker{
		subs:   make(map[key]map[*subscription]struct{}),
		buffer: DefaultBuffer,
		logger: logger.Named("feed"),
	}
}

// Subscribe opens a subscription for one table of one map. The subscription
// closes itself when ctx is done.
func (b *Broker) Subscribe(ctx context.Context, table ports.Table, mapID string) (ports.Subscription, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	sub := &subscription{
		broker: b,
		key:    key{table: table, mapID: mapID},
		events: make(chan ports.ChangeEvent, b.buffer),
		done:   make(chan struct{}),
	}

	b.mu.Lock()
	if b.subs[sub.key] == nil {
		b.subs[sub.key] = make(map[*subscription]struct{})
	}
	b.subs[sub.key][sub] = struct{}{}
	b.mu.Unlock()

	go func() {
		select {
		case <-ctx.Done():
			_ = sub.Close()
		case <-sub.done:
		}
	}()

	return sub, nil
}

// Publish delivers one event to every subscriber of the table and map. A
// subscriber whose buffer is full misses the event; the next one still
// triggers a reload, so the loss is harmless.
func (b *Broker) Publish(table ports.Table, mapID string, typ ports.ChangeType, row interface{}) {
	raw, err := json.Marshal(row)
	if err != nil {
		b.logger.Error("Failed to marshal change row", zap.Error(err), zap.String("table", string(table)))
		return
	}
	event := ports.ChangeEvent{Type: typ, Table: table, MapID: mapID, Row: raw}

	b.mu.RLock()
	defer b.mu.RUnlock()

	for sub := range b.subs[key{table: table, mapID: mapID}] {
		select {
		case sub.events <- event:
		default:
			b.logger.Warn("Subscriber buffer full, event dropped",
				zap.String("table", string(table)),
				zap.String("map_id", mapID),
			)
		}
	}
}

// SubscriberCount returns how many subscriptions are open for a table and map
func (b *Broker) SubscriberCount(table ports.Table, mapID string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[key{table: table, mapID: mapID}])
}

func (b *Broker) remove(sub *subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs := b.subs[sub.key]
	if _, ok := subs[sub]; !ok {
		return
	}
	delete(subs, sub)
	if len(subs) == 0 {
		delete(b.subs, sub.key)
	}
	close(sub.events)
}

type subscription struct {
	broker *Broker
	key    key
	events chan ports.ChangeEvent
	done   chan struct{}
	once   sync.Once
}

func (s *subscription) Events() <-chan ports.ChangeEvent {
	return s.events
}

func (s *subscription) Close() error {
	s.once.Do(func() {
		close(s.done)
		s.broker.remove(s)
	})
	return nil
}
