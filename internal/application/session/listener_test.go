package session

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"mapsync/internal/application/ports"
	"mapsync/internal/infrastructure/persistence/feed"
)

func TestListener_InsertAndUpdateReload(t *testing.T) {
	// Arrange
	broker := feed.NewBroker(zap.NewNop())
	var reloads atomic.Int32
	l := NewListener(broker, "m1", func(context.Context) error {
		reloads.Add(1)
		return nil
	}, nil, zap.NewNop())
	require.NoError(t, l.Start(context.Background()))
	defer l.Stop()

	// Act
	broker.Publish(ports.TableNodes, "m1", ports.ChangeInsert, ports.NodeRow{NodeID: "n1"})
	require.Eventually(t, func() bool { return reloads.Load() == 1 }, time.Second, 5*time.Millisecond)
	broker.Publish(ports.TableEdges, "m1", ports.ChangeUpdate, ports.EdgeRow{EdgeID: "e1"})

	// Assert
	require.Eventually(t, func() bool { return reloads.Load() == 2 }, time.Second, 5*time.Millisecond)
}

func TestListener_IgnoresDeletesAndOtherMaps(t *testing.T) {
	broker := feed.NewBroker(zap.NewNop())
	var reloads atomic.Int32
	l := NewListener(broker, "m1", func(context.Context) error {
		reloads.Add(1)
		return nil
	}, nil, zap.NewNop())
	require.NoError(t, l.Start(context.Background()))
	defer l.Stop()

	broker.Publish(ports.TableNodes, "m1", ports.ChangeDelete, ports.NodeRow{NodeID: "n1"})
	broker.Publish(ports.TableNodes, "m2", ports.ChangeInsert, ports.NodeRow{NodeID: "n2"})
	broker.Publish(ports.TableMaps, "m1", ports.ChangeUpdate, ports.MapRecord{ID: "m1"})

	time.Sleep(50 * time.Millisecond)
	assert.Zero(t, reloads.Load())
}

func TestListener_CoalescesReloads(t *testing.T) {
	// Arrange
	broker := feed.NewBroker(zap.NewNop())
	release := make(chan struct{})
	started := make(chan struct{}, 16)
	var reloads atomic.Int32
	l := NewListener(broker, "m1", func(ctx context.Context) error {
		reloads.Add(1)
		started <- struct{}{}
		select {
		case <-release:
		case <-ctx.Done():
		}
		return nil
	}, nil, zap.NewNop())
	require.NoError(t, l.Start(context.Background()))
	defer l.Stop()

	// Act
	broker.Publish(ports.TableNodes, "m1", ports.ChangeInsert, ports.NodeRow{NodeID: "first"})
	<-started
	for i := 0; i < 20; i++ {
		broker.Publish(ports.TableNodes, "m1", ports.ChangeInsert, ports.NodeRow{NodeID: "burst"})
	}
	time.Sleep(30 * time.Millisecond)
	close(release)

	// Assert
	require.Eventually(t, func() bool { return reloads.Load() == 2 }, time.Second, 5*time.Millisecond)
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, int32(2), reloads.Load(), "the burst collapses into one follow-up reload")
}

func TestListener_ReloadErrorIsNotFatal(t *testing.T) {
	broker := feed.NewBroker(zap.NewNop())
	var reloads atomic.Int32
	l := NewListener(broker, "m1", func(context.Context) error {
		reloads.Add(1)
		return errors.New("fetch failed")
	}, nil, zap.NewNop())
	require.NoError(t, l.Start(context.Background()))
	defer l.Stop()

	broker.Publish(ports.TableNodes, "m1", ports.ChangeInsert, ports.NodeRow{})
	require.Eventually(t, func() bool { return reloads.Load() == 1 }, time.Second, 5*time.Millisecond)
	broker.Publish(ports.TableNodes, "m1", ports.ChangeInsert, ports.NodeRow{})
	require.Eventually(t, func() bool { return reloads.Load() == 2 }, time.Second, 5*time.Millisecond)
}

func TestListener_StopUnsubscribes(t *testing.T) {
	broker := feed.NewBroker(zap.NewNop())
	l := NewListener(broker, "m1", func(context.Context) error { return nil }, nil, zap.NewNop())
	require.NoError(t, l.Start(context.Background()))
	assert.Equal(t, 1, broker.SubscriberCount(ports.TableNodes, "m1"))
	assert.Equal(t, 1, broker.SubscriberCount(ports.TableEdges, "m1"))

	l.Stop()
	l.Stop()

	assert.Zero(t, broker.SubscriberCount(ports.TableNodes, "m1"))
	assert.Zero(t, broker.SubscriberCount(ports.TableEdges, "m1"))
}

type failingFeed struct {
	inner *feed.Broker
	fail  ports.Table
}

func (f failingFeed) Subscribe(ctx context.Context, table ports.Table, mapID string) (ports.Subscription, error) {
	if table == f.fail {
		return nil, errors.New("subscribe refused")
	}
	return f.inner.Subscribe(ctx, table, mapID)
}

func TestListener_StartFailureLeavesNothingOpen(t *testing.T) {
	broker := feed.NewBroker(zap.NewNop())
	l := NewListener(failingFeed{inner: broker, fail: ports.TableEdges}, "m1", func(context.Context) error { return nil }, nil, zap.NewNop())

	err := l.Start(context.Background())

	require.Error(t, err)
	assert.Zero(t, broker.SubscriberCount(ports.TableNodes, "m1"))
	l.Stop()
}
