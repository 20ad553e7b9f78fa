package session

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"mapsync/internal/application/ports"
	"mapsync/internal/infrastructure/observability"
)

// ReloadFunc performs one full reload of the graph from the shared store
type ReloadFunc func(ctx context.Context) error

// Listener subscribes to the node and edge feeds of one map and turns insert
// and update notifications into full reloads. It cannot tell its own writes
// from anyone else's, so every notification reloads.
type Listener struct {
	feed    ports.ChangeFeed
	mapID   string
	reload  ReloadFunc
	metrics *observability.Metrics
	logger  *zap.Logger

	requests chan struct{}
	subs     []ports.Subscription

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	once   sync.Once
}

// NewListener creates a listener; it subscribes on Start
func NewListener(feed ports.ChangeFeed, mapID string, reload ReloadFunc, metrics *observability.Metrics, logger *zap.Logger) *Listener {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Listener{
		feed:     feed,
		mapID:    mapID,
		reload:   reload,
		metrics:  metrics,
		logger:   logger.Named("listener").With(zap.String("map_id", mapID)),
		requests: make(chan struct{}, 1),
	}
}

// Start subscribes to both feeds. The subscriptions outlive ctx and last
// until Stop. If either subscription fails, nothing is left open.
func (l *Listener) Start(ctx context.Context) error {
	l.ctx, l.cancel = context.WithCancel(context.WithoutCancel(ctx))

	for _, table := range []ports.Table{ports.TableNodes, ports.TableEdges} {
		if err := ctx.Err(); err != nil {
			l.closeSubs()
			l.cancel()
			return err
		}
		sub, err := l.feed.Subscribe(l.ctx, table, l.mapID)
		if err != nil {
			l.closeSubs()
			l.cancel()
			return err
		}
		l.subs = append(l.subs, sub)
	}

	for _, sub := range l.subs {
		sub := sub
		l.wg.Add(1)
		go l.pump(sub)
	}
	l.wg.Add(1)
	go l.loop()

	l.logger.Debug("Subscribed to change feeds")
	return nil
}

func (l *Listener) pump(sub ports.Subscription) {
	defer l.wg.Done()
	for {
		select {
		case <-l.ctx.Done():
			return
		case ev, ok := <-sub.Events():
			if !ok {
				return
			}
			l.metrics.RecordFeedEvent(string(ev.Table), string(ev.Type))
			switch ev.Type {
			case ports.ChangeInsert, ports.ChangeUpdate:
				l.Request()
			default:
				l.logger.Debug("Ignoring feed event", zap.String("table", string(ev.Table)), zap.String("type", string(ev.Type)))
			}
		}
	}
}

// Request asks for a reload. Requests made while one is pending or running
// collapse into a single follow-up reload.
func (l *Listener) Request() {
	select {
	case l.requests <- struct{}{}:
	default:
	}
}

func (l *Listener) loop() {
	defer l.wg.Done()
	for {
		select {
		case <-l.ctx.Done():
			return
		case <-l.requests:
			if err := l.reload(l.ctx); err != nil {
				if l.ctx.Err() != nil {
					return
				}
				l.logger.Warn("Reload after remote change failed", zap.Error(err))
				continue
			}
			l.logger.Debug("Reloaded after remote change")
		}
	}
}

// Stop closes both subscriptions and waits for the feed and reload goroutines
func (l *Listener) Stop() {
	l.once.Do(func() {
		if l.cancel == nil {
			return
		}
		l.cancel()
		l.closeSubs()
		l.wg.Wait()
	})
}

func (l *Listener) closeSubs() {
	for _, sub := range l.subs {
		if err := sub.Close(); err != nil {
			l.logger.Warn("Failed to close subscription", zap.Error(err))
		}
	}
	l.subs = nil
}
