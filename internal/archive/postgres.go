package archive

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresSchema is the DDL applied by [PostgresStore.Migrate].
const PostgresSchema = `
CREATE TABLE IF NOT EXISTS exchanges (
    id          TEXT PRIMARY KEY,
    flow        TEXT NOT NULL,
    key         TEXT NOT NULL,
    question    TEXT NOT NULL,
    response    TEXT NOT NULL,
    discoveries JSONB NOT NULL DEFAULT '[]',
    created_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_exchanges_flow_key ON exchanges(flow, key, created_at);
`

// DB is the subset of *pgxpool.Pool and *pgx.Conn used by [PostgresStore].
type DB interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// PostgresStore is a [Store] backed by PostgreSQL.
type PostgresStore struct {
	db    DB
	close func()
	ping  func(context.Context) error
}

var _ Store = (*PostgresStore)(nil)

// NewPostgresStore wraps an existing connection or pool. The caller owns db
// and must run [PostgresStore.Migrate] before use.
func NewPostgresStore(db DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// OpenPostgres connects a pool to dsn and migrates the schema.
func OpenPostgres(ctx context.Context, dsn string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("archive: connect postgres: %w", err)
	}
	s := &PostgresStore{db: pool, close: pool.Close, ping: pool.Ping}
	if err := s.Migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

// Migrate applies [PostgresSchema].
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, PostgresSchema); err != nil {
		return fmt.Errorf("archive: migrate: %w", err)
	}
	return nil
}

func (s *PostgresStore) RecordExchange(ctx context.Context, e Exchange) error {
	if err := normalize(&e); err != nil {
		return err
	}
	disc, err := json.Marshal(e.Discoveries)
	if err != nil {
		return fmt.Errorf("archive: marshal discoveries: %w", err)
	}

	const query = `
		INSERT INTO exchanges (id, flow, key, question, response, discoveries, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`
	if _, err := s.db.Exec(ctx, query,
		e.ID, string(e.Flow), e.Key, e.Question, e.Response, disc, e.CreatedAt,
	); err != nil {
		return fmt.Errorf("archive: insert exchange: %w", err)
	}
	return nil
}

func (s *PostgresStore) History(ctx context.Context, flow Flow, key string, limit int) ([]Exchange, error) {
	query := `
		SELECT id, flow, key, question, response, discoveries, created_at FROM (
			SELECT * FROM exchanges
			WHERE flow = $1 AND key = $2
			ORDER BY created_at DESC`
	args := []any{string(flow), key}
	if limit > 0 {
		query += ` LIMIT $3`
		args = append(args, limit)
	}
	query += `
		) recent ORDER BY created_at ASC`

	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("archive: query history: %w", err)
	}
	defer rows.Close()

	var out []Exchange
	for rows.Next() {
		var (
			e    Exchange
			f    string
			disc []byte
		)
		if err := rows.Scan(&e.ID, &f, &e.Key, &e.Question, &e.Response, &disc, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("archive: scan exchange: %w", err)
		}
		e.Flow = Flow(f)
		if err := json.Unmarshal(disc, &e.Discoveries); err != nil {
			return nil, fmt.Errorf("archive: unmarshal discoveries: %w", err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("archive: iterate history: %w", err)
	}
	return out, nil
}

// Ping checks the pool. Stores built with [NewPostgresStore] run a trivial
// query instead.
func (s *PostgresStore) Ping(ctx context.Context) error {
	if s.ping != nil {
		return s.ping(ctx)
	}
	_, err := s.db.Exec(ctx, "SELECT 1")
	return err
}

// Close closes the pool opened by [OpenPostgres]. It is a no-op for stores
// built with [NewPostgresStore].
func (s *PostgresStore) Close() error {
	if s.close != nil {
		s.close()
	}
	return nil
}
