package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"mapsync/internal/application/ports"
	"mapsync/internal/domain/aggregates"
	"mapsync/internal/infrastructure/observability"
	pkgerrors "mapsync/pkg/errors"
)

// Stream names one of the two independently persisted collections
type Stream string

const (
	StreamNodes Stream = "nodes"
	StreamEdges Stream = "edges"
)

// ErrClosed is returned by operations on a stopped persister or closed session
var ErrClosed = errors.New("session closed")

// Status is the save indicator shown to the user
type Status struct {
	// Saving is raised while any snapshot write is in flight
	Saving bool
	// Unsaved is raised while any stream has changes that are not in the
	// shared store, including after a write exhausted its retries
	Unsaved bool
	// LastError is the most recent exhausted write failure, cleared by the
	// next successful write of that stream
	LastError   error
	LastSavedAt time.Time
}

func (s Status) equal(o Status) bool {
	if s.Saving != o.Saving || s.Unsaved != o.Unsaved || !s.LastSavedAt.Equal(o.LastSavedAt) {
		return false
	}
	if (s.LastError == nil) != (o.LastError == nil) {
		return false
	}
	return s.LastError == nil || s.LastError.Error() == o.LastError.Error()
}

// RetryPolicy is the backoff applied to a failing snapshot write
type RetryPolicy struct {
	InitialInterval time.Duration
	MaxInterval     time.Duration
	Multiplier      float64
	MaxAttempts     uint
	MaxElapsed      time.Duration
}

// DefaultRetryPolicy matches the shipped configuration
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		InitialInterval: 250 * time.Millisecond,
		MaxInterval:     5 * time.Second,
		Multiplier:      2,
		MaxAttempts:     5,
		MaxElapsed:      30 * time.Second,
	}
}

func (p RetryPolicy) backOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	if p.InitialInterval > 0 {
		b.InitialInterval = p.InitialInterval
	}
	if p.MaxInterval > 0 {
		b.MaxInterval = p.MaxInterval
	}
	if p.Multiplier >= 1 {
		b.Multiplier = p.Multiplier
	}
	return b
}

// PersisterConfig tunes a Persister
type PersisterConfig struct {
	DebounceWindow time.Duration
	WriteTimeout   time.Duration
	Retry          RetryPolicy
}

// Persister mirrors the local graph into the shared store. Each stream is
// written as a full replacement (delete all rows of the map, insert the
// current snapshot) one debounce window after its last local change.
type Persister struct {
	graph  *aggregates.Graph
	writer ports.GraphWriter
	cfg    PersisterConfig

	logger  *zap.Logger
	metrics *observability.Metrics
	tracer  trace.Tracer

	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	stopped  bool
	inflight sync.WaitGroup

	streams map[Stream]*stream

	publishMu  sync.Mutex
	observerMu sync.Mutex
	observers  map[int]func(Status)
	nextObs    int
	published  Status

	stopObserving func()
}

type stream struct {
	name      Stream
	debouncer *Debouncer
	write     func(ctx context.Context) error

	// writeMu serializes writes of this stream
	writeMu sync.Mutex

	mu      sync.Mutex
	dirty   bool
	saving  bool
	failure error
	savedAt time.Time
}

// NewPersister creates a persister for graph. It does nothing until Start.
func NewPersister(graph *aggregates.Graph, writer ports.GraphWriter, cfg PersisterConfig, metrics *observability.Metrics, logger *zap.Logger) *Persister {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 10 * time.Second
	}
	ctx, cancel := context.WithCancel(context.Background())

	p := &Persister{
		graph:     graph,
		writer:    writer,
		cfg:       cfg,
		logger:    logger.Named("persister").With(zap.String("map_id", graph.MapID())),
		metrics:   metrics,
		tracer:    observability.Tracer(),
		ctx:       ctx,
		cancel:    cancel,
		observers: make(map[int]func(Status)),
	}

	mapID := graph.MapID()
	p.streams = map[Stream]*stream{
		StreamNodes: {
			name: StreamNodes,
			write: func(ctx context.Context) error {
				rows := ports.NodeRowsFromEntities(mapID, p.graph.Nodes())
				if err := p.writer.DeleteNodes(ctx, mapID); err != nil {
					return err
				}
				return p.writer.InsertNodes(ctx, mapID, rows)
			},
		},
		StreamEdges: {
			name: StreamEdges,
			write: func(ctx context.Context) error {
				rows := ports.EdgeRowsFromEntities(mapID, p.graph.Edges())
				if err := p.writer.DeleteEdges(ctx, mapID); err != nil {
					return err
				}
				return p.writer.InsertEdges(ctx, mapID, rows)
			},
		},
	}
	for _, s := range p.streams {
		s := s
		s.debouncer = NewDebouncer(cfg.DebounceWindow, func() { p.fire(s) })
	}
	return p
}

// Start begins observing local changes
func (p *Persister) Start() {
	p.stopObserving = p.graph.Observe(p.onChange)
}

func (p *Persister) onChange(c aggregates.Change) {
	// store-originated state is already persisted
	if c.Origin == aggregates.OriginRemote {
		return
	}
	if c.Kind.Has(aggregates.NodesChanged) {
		p.schedule(p.streams[StreamNodes])
	}
	if c.Kind.Has(aggregates.EdgesChanged) {
		p.schedule(p.streams[StreamEdges])
	}
}

func (p *Persister) schedule(s *stream) {
	s.mu.Lock()
	s.dirty = true
	s.mu.Unlock()
	s.debouncer.Trigger()
	p.publish()
}

// fire runs on the debouncer's timer goroutine
func (p *Persister) fire(s *stream) {
	if !p.begin() {
		return
	}
	defer p.inflight.Done()
	_ = p.persist(p.ctx, s)
}

// begin registers an in-flight write unless the persister is stopped
func (p *Persister) begin() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stopped {
		return false
	}
	p.inflight.Add(1)
	return true
}

// persist writes one stream with retries. ctx bounds the retry loop only;
// each store call runs detached from it, bounded by the write timeout.
func (p *Persister) persist(ctx context.Context, s *stream) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	ctx, span := p.tracer.Start(ctx, "persister.write",
		trace.WithAttributes(
			attribute.String("map.id", p.graph.MapID()),
			attribute.String("stream", string(s.name)),
		),
	)
	defer span.End()

	s.mu.Lock()
	s.dirty = false
	s.saving = true
	s.mu.Unlock()
	p.publish()

	attempt := 0
	op := func() (struct{}, error) {
		attempt++
		writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.cfg.WriteTimeout)
		defer cancel()

		start := time.Now()
		err := s.write(writeCtx)
		p.metrics.RecordWrite(string(s.name), err, time.Since(start))
		if err != nil {
			p.logger.Warn("Snapshot write failed",
				zap.String("stream", string(s.name)),
				zap.Int("attempt", attempt),
				zap.Error(err),
			)
			return struct{}{}, err
		}
		return struct{}{}, nil
	}

	opts := []backoff.RetryOption{
		backoff.WithBackOff(p.cfg.Retry.backOff()),
		backoff.WithNotify(func(err error, next time.Duration) {
			p.metrics.RecordWriteRetry(string(s.name))
		}),
	}
	if p.cfg.Retry.MaxAttempts > 0 {
		opts = append(opts, backoff.WithMaxTries(p.cfg.Retry.MaxAttempts))
	}
	if p.cfg.Retry.MaxElapsed > 0 {
		opts = append(opts, backoff.WithMaxElapsedTime(p.cfg.Retry.MaxElapsed))
	}
	_, err := backoff.Retry(ctx, op, opts...)

	s.mu.Lock()
	s.saving = false
	if err != nil {
		s.dirty = true
		s.failure = pkgerrors.NewWriteError(string(s.name), err)
	} else {
		s.failure = nil
		s.savedAt = time.Now()
	}
	s.mu.Unlock()

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		if p.ctx.Err() != nil {
			p.logger.Info("Pending write abandoned on close", zap.String("stream", string(s.name)))
		} else {
			p.logger.Error("Snapshot not saved, giving up until the next change",
				zap.String("stream", string(s.name)),
				zap.Int("attempts", attempt),
				zap.Error(err),
			)
		}
	} else {
		p.logger.Debug("Snapshot saved", zap.String("stream", string(s.name)), zap.Int("attempts", attempt))
	}
	p.publish()

	if err != nil {
		return s.failure
	}
	return nil
}

// Flush cancels pending timers and writes both streams now, concurrently.
func (p *Persister) Flush(ctx context.Context) error {
	if !p.begin() {
		return ErrClosed
	}
	defer p.inflight.Done()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(p.ctx, cancel)
	defer stop()

	var (
		wg   sync.WaitGroup
		errs = make([]error, 0, 2)
		mu   sync.Mutex
	)
	for _, name := range []Stream{StreamNodes, StreamEdges} {
		s := p.streams[name]
		s.debouncer.Cancel()
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := p.persist(ctx, s); err != nil {
				mu.Lock()
				errs = append(errs, err)
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	return errors.Join(errs...)
}

// Stop cancels pending timers and retries and waits for in-flight store
// calls, which are not interrupted.
func (p *Persister) Stop() {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return
	}
	p.stopped = true
	p.mu.Unlock()

	if p.stopObserving != nil {
		p.stopObserving()
	}
	for _, s := range p.streams {
		s.debouncer.Stop()
	}
	p.cancel()
	p.inflight.Wait()
}

// SetDebounceWindow changes the window for changes made from now on
func (p *Persister) SetDebounceWindow(window time.Duration) {
	for _, s := range p.streams {
		s.debouncer.SetWindow(window)
	}
}

// Pending reports whether a stream has a scheduled write
func (p *Persister) Pending(name Stream) bool {
	return p.streams[name].debouncer.Pending()
}

// Status computes the current save indicator
func (p *Persister) Status() Status {
	var st Status
	for _, name := range []Stream{StreamNodes, StreamEdges} {
		s := p.streams[name]
		s.mu.Lock()
		st.Saving = st.Saving || s.saving
		st.Unsaved = st.Unsaved || s.dirty || s.failure != nil
		if st.LastError == nil && s.failure != nil {
			st.LastError = s.failure
		}
		if s.savedAt.After(st.LastSavedAt) {
			st.LastSavedAt = s.savedAt
		}
		s.mu.Unlock()
	}
	return st
}

// OnStatus registers fn to be called on every status transition
func (p *Persister) OnStatus(fn func(Status)) (cancel func()) {
	p.observerMu.Lock()
	id := p.nextObs
	p.nextObs++
	p.observers[id] = fn
	p.observerMu.Unlock()

	return func() {
		p.observerMu.Lock()
		delete(p.observers, id)
		p.observerMu.Unlock()
	}
}

func (p *Persister) publish() {
	p.publishMu.Lock()
	defer p.publishMu.Unlock()

	st := p.Status()
	if st.equal(p.published) {
		return
	}
	p.published = st

	p.observerMu.Lock()
	fns := make([]func(Status), 0, len(p.observers))
	for _, fn := range p.observers {
		fns = append(fns, fn)
	}
	p.observerMu.Unlock()

	for _, fn := range fns {
		fn(st)
	}
}
