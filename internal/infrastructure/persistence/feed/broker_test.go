package feed

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"mapsync/internal/application/ports"
)

func TestBroker_FiltersByTableAndMap(t *testing.T) {
	// Arrange
	b := NewBroker(zap.NewNop())
	ctx := context.Background()
	nodes, err := b.Subscribe(ctx, ports.TableNodes, "m1")
	require.NoError(t, err)
	defer nodes.Close()
	other, err := b.Subscribe(ctx, ports.TableNodes, "m2")
	require.NoError(t, err)
	defer other.Close()

	// Act
	b.Publish(ports.TableNodes, "m1", ports.ChangeInsert, ports.NodeRow{MapID: "m1", NodeID: "n1"})
	b.Publish(ports.TableEdges, "m1", ports.ChangeInsert, ports.EdgeRow{MapID: "m1", EdgeID: "e1"})

	// Assert
	select {
	case ev := <-nodes.Events():
		assert.Equal(t, ports.ChangeInsert, ev.Type)
		assert.Equal(t, ports.TableNodes, ev.Table)
		assert.Contains(t, string(ev.Row), `"node_id":"n1"`)
	case <-time.After(time.Second):
		t.Fatal("expected an event")
	}
	assert.Empty(t, nodes.Events())
	assert.Empty(t, other.Events())
}

func TestBroker_CloseClosesEvents(t *testing.T) {
	b := NewBroker(zap.NewNop())
	sub, err := b.Subscribe(context.Background(), ports.TableEdges, "m1")
	require.NoError(t, err)
	assert.Equal(t, 1, b.SubscriberCount(ports.TableEdges, "m1"))

	require.NoError(t, sub.Close())
	require.NoError(t, sub.Close())

	_, open := <-sub.Events()
	assert.False(t, open)
	assert.Equal(t, 0, b.SubscriberCount(ports.TableEdges, "m1"))

	// publishing after close must not panic
	b.Publish(ports.TableEdges, "m1", ports.ChangeDelete, map[string]string{"edge_id": "e1"})
}

func TestBroker_ContextCancelCloses(t *testing.T) {
	b := NewBroker(zap.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	sub, err := b.Subscribe(ctx, ports.TableNodes, "m1")
	require.NoError(t, err)

	cancel()

	assert.Eventually(t, func() bool {
		return b.SubscriberCount(ports.TableNodes, "m1") == 0
	}, time.Second, 5*time.Millisecond)
	_, open := <-sub.Events()
	assert.False(t, open)
}

func TestBroker_FullBufferDrops(t *testing.T) {
	b := NewBroker(zap.NewNop())
	b.buffer = 1
	sub, err := b.Subscribe(context.Background(), ports.TableNodes, "m1")
	require.NoError(t, err)
	defer sub.Close()

	b.Publish(ports.TableNodes, "m1", ports.ChangeInsert, struct{}{})
	b.Publish(ports.TableNodes, "m1", ports.ChangeUpdate, struct{}{})

	ev := <-sub.Events()
	assert.Equal(t, ports.ChangeInsert, ev.Type)
	assert.Empty(t, sub.Events())
}
