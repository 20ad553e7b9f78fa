// Package sqlite implements the shared store on a local SQLite file. Several
// processes may open the same file, but change notifications only reach
// subscribers inside the process that made the write.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"mapsync/internal/application/ports"
	"mapsync/internal/infrastructure/persistence/feed"
)

const schema = `
CREATE TABLE IF NOT EXISTS maps (
	id         TEXT PRIMARY KEY,
	owner_id   TEXT NOT NULL,
	title      TEXT NOT NULL,
	is_shared  INTEGER NOT NULL DEFAULT 0,
	created_at TEXT NOT NULL,
	updated_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS nodes (
	map_id     TEXT NOT NULL,
	node_id    TEXT NOT NULL,
	position_x REAL NOT NULL,
	position_y REAL NOT NULL,
	content    TEXT NOT NULL DEFAULT '',
	color      TEXT NOT NULL DEFAULT '',
	node_type  TEXT NOT NULL DEFAULT 'mindmap',
	width      REAL,
	height     REAL
);
CREATE INDEX IF NOT EXISTS idx_nodes_map ON nodes(map_id);

CREATE TABLE IF NOT EXISTS edges (
	map_id         TEXT NOT NULL,
	edge_id        TEXT NOT NULL,
	source_node_id TEXT NOT NULL,
	target_node_id TEXT NOT NULL,
	label          TEXT NOT NULL DEFAULT '',
	edge_type      TEXT NOT NULL DEFAULT 'smoothstep',
	animated       INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_edges_map ON edges(map_id);
`

// Store is a ports.Store on SQLite
type Store struct {
	db     *sql.DB
	feed   *feed.Broker
	logger *zap.Logger
}

var _ ports.Store = (*Store)(nil)

// NewStore opens (creating if needed) the database at path and applies the
// schema.
func NewStore(path string, logger *zap.Logger) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// one writer at a time; sqlite serializes them anyway
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &Store{
		db:     db,
		feed:   feed.NewBroker(logger),
		logger: logger.Named("sqlite"),
	}, nil
}

// Close closes the database
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) GetMap(ctx context.Context, mapID string) (*ports.MapRecord, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, owner_id, title, is_shared, created_at, updated_at FROM maps WHERE id = ?`, mapID)
	rec, err := scanMap(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ports.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get map: %w", err)
	}
	return rec, nil
}

func (s *Store) ListMaps(ctx context.Context, ownerID string) ([]ports.MapRecord, error) {
	query := `SELECT id, owner_id, title, is_shared, created_at, updated_at FROM maps`
	var args []interface{}
	if ownerID != "" {
		query += ` WHERE owner_id = ?`
		args = append(args, ownerID)
	}
	query += ` ORDER BY created_at DESC, id`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list maps: %w", err)
	}
	defer rows.Close()

	out := make([]ports.MapRecord, 0)
	for rows.Next() {
		rec, err := scanMap(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan map: %w", err)
		}
		out = append(out, *rec)
	}
	return out, rows.Err()
}

func (s *Store) InsertMap(ctx context.Context, record ports.MapRecord, seed ports.NodeRow) error {
	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now().UTC()
	}
	record.UpdatedAt = record.CreatedAt
	seed.MapID = record.ID

	err := s.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO maps (id, owner_id, title, is_shared, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?)`,
			record.ID, record.OwnerID, record.Title, record.IsShared,
			formatTime(record.CreatedAt), formatTime(record.UpdatedAt))
		if err != nil {
			return err
		}
		return insertNodes(ctx, tx, record.ID, []ports.NodeRow{seed})
	})
	if err != nil {
		return fmt.Errorf("failed to insert map: %w", err)
	}

	s.feed.Publish(ports.TableMaps, record.ID, ports.ChangeInsert, record)
	s.feed.Publish(ports.TableNodes, record.ID, ports.ChangeInsert, seed)
	return nil
}

func (s *Store) UpdateMapTitle(ctx context.Context, mapID, title string) error {
	return s.updateMap(ctx, mapID, `title = ?`, title)
}

func (s *Store) SetMapShared(ctx context.Context, mapID string, shared bool) error {
	return s.updateMap(ctx, mapID, `is_shared = ?`, shared)
}

func (s *Store) updateMap(ctx context.Context, mapID, set string, value interface{}) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE maps SET `+set+`, updated_at = ? WHERE id = ?`,
		value, formatTime(time.Now().UTC()), mapID)
	if err != nil {
		return fmt.Errorf("failed to update map: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ports.ErrNotFound
	}
	if rec, err := s.GetMap(ctx, mapID); err == nil {
		s.feed.Publish(ports.TableMaps, mapID, ports.ChangeUpdate, rec)
	}
	return nil
}

func (s *Store) DeleteMap(ctx context.Context, mapID string) error {
	var affected int64
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM edges WHERE map_id = ?`, mapID); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM nodes WHERE map_id = ?`, mapID); err != nil {
			return err
		}
		res, err := tx.ExecContext(ctx, `DELETE FROM maps WHERE id = ?`, mapID)
		if err != nil {
			return err
		}
		affected, _ = res.RowsAffected()
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to delete map: %w", err)
	}
	if affected == 0 {
		return ports.ErrNotFound
	}

	s.feed.Publish(ports.TableMaps, mapID, ports.ChangeDelete, map[string]string{"id": mapID})
	return nil
}

func (s *Store) ListNodes(ctx context.Context, mapID string) ([]ports.NodeRow, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT map_id, node_id, position_x, position_y, content, color, node_type, width, height
		 FROM nodes WHERE map_id = ? ORDER BY rowid`, mapID)
	if err != nil {
		return nil, fmt.Errorf("failed to list nodes: %w", err)
	}
	defer rows.Close()

	out := make([]ports.NodeRow, 0)
	for rows.Next() {
		var (
			row           ports.NodeRow
			width, height sql.NullFloat64
		)
		if err := rows.Scan(&row.MapID, &row.NodeID, &row.PositionX, &row.PositionY,
			&row.Content, &row.Color, &row.NodeType, &width, &height); err != nil {
			return nil, fmt.Errorf("failed to scan node: %w", err)
		}
		row.Width = nullFloat(width)
		row.Height = nullFloat(height)
		out = append(out, row)
	}
	return out, rows.Err()
}

func (s *Store) DeleteNodes(ctx context.Context, mapID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM nodes WHERE map_id = ?`, mapID); err != nil {
		return fmt.Errorf("failed to delete nodes: %w", err)
	}
	s.feed.Publish(ports.TableNodes, mapID, ports.ChangeDelete, map[string]string{"map_id": mapID})
	return nil
}

func (s *Store) InsertNodes(ctx context.Context, mapID string, rows []ports.NodeRow) error {
	if len(rows) == 0 {
		return nil
	}
	if err := s.withTx(ctx, func(tx *sql.Tx) error {
		return insertNodes(ctx, tx, mapID, rows)
	}); err != nil {
		return fmt.Errorf("failed to insert nodes: %w", err)
	}
	for _, row := range rows {
		row.MapID = mapID
		s.feed.Publish(ports.TableNodes, mapID, ports.ChangeInsert, row)
	}
	return nil
}

func insertNodes(ctx context.Context, tx *sql.Tx, mapID string, rows []ports.NodeRow) error {
	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO nodes (map_id, node_id, position_x, position_y, content, color, node_type, width, height)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, row := range rows {
		if _, err := stmt.ExecContext(ctx, mapID, row.NodeID, row.PositionX, row.PositionY,
			row.Content, row.Color, row.NodeType, floatArg(row.Width), floatArg(row.Height)); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) ListEdges(ctx context.Context, mapID string) ([]ports.EdgeRow, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT map_id, edge_id, source_node_id, target_node_id, label, edge_type, animated
		 FROM edges WHERE map_id = ? ORDER BY rowid`, mapID)
	if err != nil {
		return nil, fmt.Errorf("failed to list edges: %w", err)
	}
	defer rows.Close()

	out := make([]ports.EdgeRow, 0)
	for rows.Next() {
		var row ports.EdgeRow
		if err := rows.Scan(&row.MapID, &row.EdgeID, &row.SourceNodeID, &row.TargetNodeID,
			&row.Label, &row.EdgeType, &row.Animated); err != nil {
			return nil, fmt.Errorf("failed to scan edge: %w", err)
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

func (s *Store) DeleteEdges(ctx context.Context, mapID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM edges WHERE map_id = ?`, mapID); err != nil {
		return fmt.Errorf("failed to delete edges: %w", err)
	}
	s.feed.Publish(ports.TableEdges, mapID, ports.ChangeDelete, map[string]string{"map_id": mapID})
	return nil
}

func (s *Store) InsertEdges(ctx context.Context, mapID string, rows []ports.EdgeRow) error {
	if len(rows) == 0 {
		return nil
	}
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx,
			`INSERT INTO edges (map_id, edge_id, source_node_id, target_node_id, label, edge_type, animated)
			 VALUES (?, ?, ?, ?, ?, ?, ?)`)
		if err != nil {
			return err
		}
		defer stmt.Close()

		for _, row := range rows {
			if _, err := stmt.ExecContext(ctx, mapID, row.EdgeID, row.SourceNodeID, row.TargetNodeID,
				row.Label, row.EdgeType, row.Animated); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to insert edges: %w", err)
	}
	for _, row := range rows {
		row.MapID = mapID
		s.feed.Publish(ports.TableEdges, mapID, ports.ChangeInsert, row)
	}
	return nil
}

func (s *Store) Subscribe(ctx context.Context, table ports.Table, mapID string) (ports.Subscription, error) {
	return s.feed.Subscribe(ctx, table, mapID)
}

func (s *Store) withTx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			s.logger.Warn("Rollback failed", zap.Error(rbErr))
		}
		return err
	}
	return tx.Commit()
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanMap(row scanner) (*ports.MapRecord, error) {
	var (
		rec              ports.MapRecord
		created, updated string
	)
	if err := row.Scan(&rec.ID, &rec.OwnerID, &rec.Title, &rec.IsShared, &created, &updated); err != nil {
		return nil, err
	}
	var err error
	if rec.CreatedAt, err = time.Parse(time.RFC3339Nano, created); err != nil {
		return nil, fmt.Errorf("bad created_at %q: %w", created, err)
	}
	if rec.UpdatedAt, err = time.Parse(time.RFC3339Nano, updated); err != nil {
		return nil, fmt.Errorf("bad updated_at %q: %w", updated, err)
	}
	return &rec, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func floatArg(f *float64) interface{} {
	if f == nil {
		return nil
	}
	return *f
}

func nullFloat(n sql.NullFloat64) *float64 {
	if !n.Valid {
		return nil
	}
	v := n.Float64
	return &v
}
