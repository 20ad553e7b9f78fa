package persistence

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"mapsync/internal/application/ports"
)

// TracedStore opens one span per store call
type TracedStore struct {
	inner  ports.Store
	tracer trace.Tracer
}

var _ ports.Store = (*TracedStore)(nil)

// NewTracedStore wraps inner with spans from tracer
func NewTracedStore(inner ports.Store, tracer trace.Tracer) *TracedStore {
	return &TracedStore{inner: inner, tracer: tracer}
}

func (s *TracedStore) start(ctx context.Context, op string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return s.tracer.Start(ctx, "store."+op, trace.WithAttributes(attrs...), trace.WithSpanKind(trace.SpanKindClient))
}

func finish(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

func mapAttr(mapID string) attribute.KeyValue {
	return attribute.String("map.id", mapID)
}

func (s *TracedStore) GetMap(ctx context.Context, mapID string) (*ports.MapRecord, error) {
	ctx, span := s.start(ctx, "GetMap", mapAttr(mapID))
	rec, err := s.inner.GetMap(ctx, mapID)
	finish(span, err)
	return rec, err
}

func (s *TracedStore) ListMaps(ctx context.Context, ownerID string) ([]ports.MapRecord, error) {
	ctx, span := s.start(ctx, "ListMaps", attribute.String("owner.id", ownerID))
	recs, err := s.inner.ListMaps(ctx, ownerID)
	span.SetAttributes(attribute.Int("maps.count", len(recs)))
	finish(span, err)
	return recs, err
}

func (s *TracedStore) InsertMap(ctx context.Context, record ports.MapRecord, seed ports.NodeRow) error {
	ctx, span := s.start(ctx, "InsertMap", mapAttr(record.ID))
	err := s.inner.InsertMap(ctx, record, seed)
	finish(span, err)
	return err
}

func (s *TracedStore) UpdateMapTitle(ctx context.Context, mapID, title string) error {
	ctx, span := s.start(ctx, "UpdateMapTitle", mapAttr(mapID))
	err := s.inner.UpdateMapTitle(ctx, mapID, title)
	finish(span, err)
	return err
}

func (s *TracedStore) SetMapShared(ctx context.Context, mapID string, shared bool) error {
	ctx, span := s.start(ctx, "SetMapShared", mapAttr(mapID), attribute.Bool("map.shared", shared))
	err := s.inner.SetMapShared(ctx, mapID, shared)
	finish(span, err)
	return err
}

func (s *TracedStore) DeleteMap(ctx context.Context, mapID string) error {
	ctx, span := s.start(ctx, "DeleteMap", mapAttr(mapID))
	err := s.inner.DeleteMap(ctx, mapID)
	finish(span, err)
	return err
}

func (s *TracedStore) ListNodes(ctx context.Context, mapID string) ([]ports.NodeRow, error) {
	ctx, span := s.start(ctx, "ListNodes", mapAttr(mapID))
	rows, err := s.inner.ListNodes(ctx, mapID)
	span.SetAttributes(attribute.Int("rows.count", len(rows)))
	finish(span, err)
	return rows, err
}

func (s *TracedStore) DeleteNodes(ctx context.Context, mapID string) error {
	ctx, span := s.start(ctx, "DeleteNodes", mapAttr(mapID))
	err := s.inner.DeleteNodes(ctx, mapID)
	finish(span, err)
	return err
}

func (s *TracedStore) InsertNodes(ctx context.Context, mapID string, rows []ports.NodeRow) error {
	ctx, span := s.start(ctx, "InsertNodes", mapAttr(mapID), attribute.Int("rows.count", len(rows)))
	err := s.inner.InsertNodes(ctx, mapID, rows)
	finish(span, err)
	return err
}

func (s *TracedStore) ListEdges(ctx context.Context, mapID string) ([]ports.EdgeRow, error) {
	ctx, span := s.start(ctx, "ListEdges", mapAttr(mapID))
	rows, err := s.inner.ListEdges(ctx, mapID)
	span.SetAttributes(attribute.Int("rows.count", len(rows)))
	finish(span, err)
	return rows, err
}

func (s *TracedStore) DeleteEdges(ctx context.Context, mapID string) error {
	ctx, span := s.start(ctx, "DeleteEdges", mapAttr(mapID))
	err := s.inner.DeleteEdges(ctx, mapID)
	finish(span, err)
	return err
}

func (s *TracedStore) InsertEdges(ctx context.Context, mapID string, rows []ports.EdgeRow) error {
	ctx, span := s.start(ctx, "InsertEdges", mapAttr(mapID), attribute.Int("rows.count", len(rows)))
	err := s.inner.InsertEdges(ctx, mapID, rows)
	finish(span, err)
	return err
}

// Subscribe traces only the join; the subscription itself outlives the span
func (s *TracedStore) Subscribe(ctx context.Context, table ports.Table, mapID string) (ports.Subscription, error) {
	spanCtx, span := s.start(ctx, "Subscribe", mapAttr(mapID), attribute.String("table", string(table)))
	sub, err := s.inner.Subscribe(spanCtx, table, mapID)
	finish(span, err)
	return sub, err
}
