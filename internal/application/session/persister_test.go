package session

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"mapsync/internal/application/ports"
	"mapsync/internal/domain/aggregates"
	"mapsync/internal/domain/entities"
	"mapsync/internal/domain/valueobjects"
	pkgerrors "mapsync/pkg/errors"
)

// MockGraphWriter records snapshot writes. The counters are kept apart from
// the embedded mock so tests can poll them while writes are in flight.
type MockGraphWriter struct {
	mock.Mock

	mu       sync.Mutex
	counts   map[string]int
	lastRows []ports.NodeRow
}

func (m *MockGraphWriter) record(method string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.counts == nil {
		m.counts = make(map[string]int)
	}
	m.counts[method]++
}

func (m *MockGraphWriter) calls(method string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.counts[method]
}

func (m *MockGraphWriter) DeleteNodes(ctx context.Context, mapID string) error {
	m.record("DeleteNodes")
	return m.Called(ctx, mapID).Error(0)
}

func (m *MockGraphWriter) InsertNodes(ctx context.Context, mapID string, rows []ports.NodeRow) error {
	m.mu.Lock()
	m.lastRows = rows
	m.mu.Unlock()
	err := m.Called(ctx, mapID, rows).Error(0)
	m.record("InsertNodes")
	return err
}

func (m *MockGraphWriter) DeleteEdges(ctx context.Context, mapID string) error {
	m.record("DeleteEdges")
	return m.Called(ctx, mapID).Error(0)
}

func (m *MockGraphWriter) InsertEdges(ctx context.Context, mapID string, rows []ports.EdgeRow) error {
	err := m.Called(ctx, mapID, rows).Error(0)
	m.record("InsertEdges")
	return err
}

func fastRetry(attempts uint) RetryPolicy {
	return RetryPolicy{
		InitialInterval: 5 * time.Millisecond,
		MaxInterval:     10 * time.Millisecond,
		Multiplier:      1.5,
		MaxAttempts:     attempts,
		MaxElapsed:      time.Second,
	}
}

func newTestPersister(t *testing.T, w ports.GraphWriter, window time.Duration, retry RetryPolicy) (*aggregates.Graph, *Persister) {
	t.Helper()
	g := aggregates.NewGraph("map-1", valueobjects.UUIDGenerator{})
	p := NewPersister(g, w, PersisterConfig{DebounceWindow: window, WriteTimeout: time.Second, Retry: retry}, nil, zap.NewNop())
	p.Start()
	t.Cleanup(p.Stop)
	return g, p
}

func TestPersister_BurstProducesOneWrite(t *testing.T) {
	// Arrange
	w := new(MockGraphWriter)
	w.On("DeleteNodes", mock.Anything, "map-1").Return(nil)
	w.On("InsertNodes", mock.Anything, "map-1", mock.Anything).Return(nil)
	g, _ := newTestPersister(t, w, 40*time.Millisecond, fastRetry(1))

	// Act
	for i := 0; i < 10; i++ {
		g.CreateNode(valueobjects.MustNewPosition(float64(i), 0))
		time.Sleep(5 * time.Millisecond)
	}

	// Assert
	require.Eventually(t, func() bool { return w.calls("InsertNodes") == 1 }, time.Second, 5*time.Millisecond)
	time.Sleep(80 * time.Millisecond)
	assert.Equal(t, 1, w.calls("DeleteNodes"))
	assert.Equal(t, 1, w.calls("InsertNodes"))
	assert.Equal(t, 0, w.calls("DeleteEdges"), "edge stream untouched")

	w.mu.Lock()
	assert.Len(t, w.lastRows, 10, "the write carries the latest snapshot")
	w.mu.Unlock()
}

func TestPersister_EditBurstWritesFinalState(t *testing.T) {
	// Arrange
	w := new(MockGraphWriter)
	w.On("DeleteNodes", mock.Anything, "map-1").Return(nil)
	w.On("InsertNodes", mock.Anything, "map-1", mock.Anything).Return(nil)
	g, _ := newTestPersister(t, w, 100*time.Millisecond, fastRetry(1))
	node := g.CreateNode(valueobjects.MustNewPosition(0, 0))

	// Act
	colors := []string{"#ef4444", "#22c55e", "#a855f7"}
	for i := 1; i <= 9; i++ {
		switch i % 3 {
		case 0:
			g.UpdateNodeContent(node.ID, "draft "+strconv.Itoa(i))
		case 1:
			g.UpdateNodeColor(node.ID, colors[i/3])
		case 2:
			g.MoveNode(node.ID, valueobjects.MustNewPosition(float64(i*10), float64(i)))
		}
		time.Sleep(5 * time.Millisecond)
	}

	// Assert
	require.Eventually(t, func() bool { return w.calls("InsertNodes") == 1 }, time.Second, 5*time.Millisecond)
	time.Sleep(150 * time.Millisecond)
	assert.Equal(t, 1, w.calls("DeleteNodes"))
	assert.Equal(t, 1, w.calls("InsertNodes"))

	w.mu.Lock()
	defer w.mu.Unlock()
	require.Len(t, w.lastRows, 1)
	row := w.lastRows[0]
	assert.Equal(t, node.ID, row.NodeID)
	assert.Equal(t, "draft 9", row.Content)
	assert.Equal(t, "#a855f7", row.Color)
	assert.Equal(t, 80.0, row.PositionX)
	assert.Equal(t, 8.0, row.PositionY)
}

func TestPersister_DeleteThenInsertOrder(t *testing.T) {
	var mu sync.Mutex
	var order []string
	record := func(name string) func(mock.Arguments) {
		return func(mock.Arguments) {
			mu.Lock()
			order = append(order, name)
			mu.Unlock()
		}
	}
	w := new(MockGraphWriter)
	w.On("DeleteEdges", mock.Anything, "map-1").Run(record("delete")).Return(nil)
	w.On("InsertEdges", mock.Anything, "map-1", mock.Anything).Run(record("insert")).Return(nil)
	g, _ := newTestPersister(t, w, 10*time.Millisecond, fastRetry(1))

	g.Connect("a", "b")

	require.Eventually(t, func() bool { return w.calls("InsertEdges") == 1 }, time.Second, 5*time.Millisecond)
	mu.Lock()
	assert.Equal(t, []string{"delete", "insert"}, order)
	mu.Unlock()
}

func TestPersister_RemoteReplaceDoesNotWrite(t *testing.T) {
	w := new(MockGraphWriter)
	g, p := newTestPersister(t, w, 10*time.Millisecond, fastRetry(1))

	g.Replace([]entities.Node{{ID: "n1", MapID: "map-1"}}, nil)

	time.Sleep(50 * time.Millisecond)
	w.AssertNotCalled(t, "DeleteNodes", mock.Anything, mock.Anything)
	assert.False(t, p.Status().Unsaved)
}

func TestPersister_RetriesTransientFailure(t *testing.T) {
	// Arrange
	boom := errors.New("connection reset")
	w := new(MockGraphWriter)
	w.On("DeleteNodes", mock.Anything, "map-1").Return(boom).Twice()
	w.On("DeleteNodes", mock.Anything, "map-1").Return(nil)
	w.On("InsertNodes", mock.Anything, "map-1", mock.Anything).Return(nil)
	g, p := newTestPersister(t, w, 10*time.Millisecond, fastRetry(5))

	// Act
	g.CreateNode(valueobjects.MustNewPosition(1, 2))

	// Assert
	require.Eventually(t, func() bool { return w.calls("InsertNodes") == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, 3, w.calls("DeleteNodes"))
	require.Eventually(t, func() bool { return !p.Status().Saving }, time.Second, 5*time.Millisecond)
	st := p.Status()
	assert.False(t, st.Unsaved)
	assert.NoError(t, st.LastError)
	assert.False(t, st.LastSavedAt.IsZero())
}

func TestPersister_ExhaustedRetriesKeepUnsaved(t *testing.T) {
	// Arrange
	boom := errors.New("store is down")
	w := new(MockGraphWriter)
	w.On("DeleteEdges", mock.Anything, "map-1").Return(boom)
	g, p := newTestPersister(t, w, 10*time.Millisecond, fastRetry(3))

	var mu sync.Mutex
	var seen []Status
	p.OnStatus(func(s Status) {
		mu.Lock()
		seen = append(seen, s)
		mu.Unlock()
	})

	// Act
	g.Connect("a", "b")

	// Assert
	require.Eventually(t, func() bool {
		st := p.Status()
		return st.LastError != nil && !st.Saving
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, 3, w.calls("DeleteEdges"))
	st := p.Status()
	assert.True(t, st.Unsaved)
	assert.True(t, pkgerrors.IsType(st.LastError, pkgerrors.ErrorTypeWriteFailed))
	assert.ErrorIs(t, st.LastError, boom)

	mu.Lock()
	defer mu.Unlock()
	require.NotEmpty(t, seen)
	assert.True(t, seen[0].Unsaved, "dirty is published before the write starts")
	sawSaving := false
	for _, s := range seen {
		sawSaving = sawSaving || s.Saving
	}
	assert.True(t, sawSaving)
}

func TestPersister_StreamsAreIndependent(t *testing.T) {
	// Arrange
	w := new(MockGraphWriter)
	release := make(chan struct{})
	w.On("DeleteNodes", mock.Anything, "map-1").Run(func(mock.Arguments) { <-release }).Return(nil)
	w.On("InsertNodes", mock.Anything, "map-1", mock.Anything).Return(nil)
	w.On("DeleteEdges", mock.Anything, "map-1").Return(nil)
	w.On("InsertEdges", mock.Anything, "map-1", mock.Anything).Return(nil)
	g, _ := newTestPersister(t, w, 10*time.Millisecond, fastRetry(1))

	// Act
	g.CreateNode(valueobjects.MustNewPosition(0, 0))
	g.Connect("a", "b")

	// Assert
	require.Eventually(t, func() bool { return w.calls("InsertEdges") == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, 0, w.calls("InsertNodes"), "node write still blocked")
	close(release)
	require.Eventually(t, func() bool { return w.calls("InsertNodes") == 1 }, time.Second, 5*time.Millisecond)
}

func TestPersister_FlushWritesBothStreams(t *testing.T) {
	w := new(MockGraphWriter)
	w.On("DeleteNodes", mock.Anything, "map-1").Return(nil)
	w.On("InsertNodes", mock.Anything, "map-1", mock.Anything).Return(nil)
	w.On("DeleteEdges", mock.Anything, "map-1").Return(nil)
	w.On("InsertEdges", mock.Anything, "map-1", mock.Anything).Return(nil)
	g, p := newTestPersister(t, w, time.Hour, fastRetry(1))
	g.CreateNode(valueobjects.MustNewPosition(0, 0))
	assert.True(t, p.Pending(StreamNodes))

	require.NoError(t, p.Flush(context.Background()))

	assert.False(t, p.Pending(StreamNodes))
	assert.Equal(t, 1, w.calls("InsertNodes"))
	assert.Equal(t, 1, w.calls("InsertEdges"))
	assert.False(t, p.Status().Unsaved)
}

func TestPersister_StopCancelsPendingWrite(t *testing.T) {
	w := new(MockGraphWriter)
	g, p := newTestPersister(t, w, 30*time.Millisecond, fastRetry(1))

	g.CreateNode(valueobjects.MustNewPosition(0, 0))
	p.Stop()

	time.Sleep(60 * time.Millisecond)
	w.AssertNotCalled(t, "DeleteNodes", mock.Anything, mock.Anything)
	assert.True(t, p.Status().Unsaved)
	assert.ErrorIs(t, p.Flush(context.Background()), ErrClosed)
}

func TestPersister_StopAbandonsRetries(t *testing.T) {
	w := new(MockGraphWriter)
	w.On("DeleteNodes", mock.Anything, "map-1").Return(errors.New("down"))
	retry := fastRetry(0)
	retry.InitialInterval = 50 * time.Millisecond
	retry.MaxInterval = 50 * time.Millisecond
	retry.MaxElapsed = 0
	g, p := newTestPersister(t, w, 5*time.Millisecond, retry)

	g.CreateNode(valueobjects.MustNewPosition(0, 0))
	require.Eventually(t, func() bool { return w.calls("DeleteNodes") >= 1 }, time.Second, 2*time.Millisecond)

	done := make(chan struct{})
	go func() {
		p.Stop()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Stop did not return while a write was retrying")
	}
	calls := w.calls("DeleteNodes")
	time.Sleep(120 * time.Millisecond)
	assert.Equal(t, calls, w.calls("DeleteNodes"))
}

func TestStatus_Equal(t *testing.T) {
	now := time.Now()
	a := Status{Unsaved: true, LastError: errors.New("x"), LastSavedAt: now}
	assert.True(t, a.equal(Status{Unsaved: true, LastError: errors.New("x"), LastSavedAt: now}))
	assert.False(t, a.equal(Status{Unsaved: true, LastSavedAt: now}))
	assert.False(t, a.equal(Status{Unsaved: true, LastError: errors.New("y"), LastSavedAt: now}))
}
