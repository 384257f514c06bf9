package archive

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS exchanges (
	id          TEXT PRIMARY KEY,
	flow        TEXT NOT NULL,
	key         TEXT NOT NULL,
	question    TEXT NOT NULL,
	response    TEXT NOT NULL,
	discoveries TEXT NOT NULL DEFAULT '[]',
	created_at  INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_exchanges_flow_key ON exchanges(flow, key, created_at);
`

// SQLiteStore is a [Store] backed by an embedded SQLite database.
type SQLiteStore struct {
	db *sql.DB
}

var _ Store = (*SQLiteStore)(nil)

// OpenSQLite opens (creating if needed) the database file at path in WAL
// mode and applies the schema. ":memory:" opens a private in-memory
// database.
func OpenSQLite(ctx context.Context, path string) (*SQLiteStore, error) {
	if path == "" {
		return nil, fmt.Errorf("archive: sqlite path must not be empty")
	}

	dsn := ":memory:"
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("archive: create database directory: %w", err)
		}
		dsn = "file:" + path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("archive: open sqlite: %w", err)
	}
	// Writers serialise in SQLite anyway; one connection also keeps an
	// in-memory database from splitting across connections.
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("archive: create schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) RecordExchange(ctx context.Context, e Exchange) error {
	if err := normalize(&e); err != nil {
		return err
	}
	disc, err := json.Marshal(e.Discoveries)
	if err != nil {
		return fmt.Errorf("archive: marshal discoveries: %w", err)
	}

	const query = `
		INSERT INTO exchanges (id, flow, key, question, response, discoveries, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`
	if _, err := s.db.ExecContext(ctx, query,
		e.ID, string(e.Flow), e.Key, e.Question, e.Response, string(disc), e.CreatedAt.UnixNano(),
	); err != nil {
		return fmt.Errorf("archive: insert exchange: %w", err)
	}
	return nil
}

func (s *SQLiteStore) History(ctx context.Context, flow Flow, key string, limit int) ([]Exchange, error) {
	if limit <= 0 {
		limit = -1
	}
	const query = `
		SELECT id, flow, key, question, response, discoveries, created_at FROM (
			SELECT rowid AS rid, * FROM exchanges
			WHERE flow = ? AND key = ?
			ORDER BY created_at DESC, rid DESC
			LIMIT ?
		) ORDER BY created_at ASC, rid ASC`

	rows, err := s.db.QueryContext(ctx, query, string(flow), key, limit)
	if err != nil {
		return nil, fmt.Errorf("archive: query history: %w", err)
	}
	defer rows.Close()

	var out []Exchange
	for rows.Next() {
		var (
			e       Exchange
			f, disc string
			created int64
		)
		if err := rows.Scan(&e.ID, &f, &e.Key, &e.Question, &e.Response, &disc, &created); err != nil {
			return nil, fmt.Errorf("archive: scan exchange: %w", err)
		}
		e.Flow = Flow(f)
		e.CreatedAt = time.Unix(0, created).UTC()
		if err := json.Unmarshal([]byte(disc), &e.Discoveries); err != nil {
			return nil, fmt.Errorf("archive: unmarshal discoveries: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
