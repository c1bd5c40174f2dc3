// Package postgres implements the memstore.Store interface on a PostgreSQL
// table with a GIN full-text search index.
//
// This backend is for deployments that prefer keeping facts in their own
// database instead of running a separate memory server. Relevance ranking
// uses PostgreSQL full-text search (ts_rank); semantic vector search stays
// with the remote agent-memory-server backend, which embeds content itself.
//
// All operations are safe for concurrent use.
package postgres

import (
	"context"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/voxbridge/voxbridge/pkg/memstore"
)

// Compile-time interface check.
var _ memstore.Store = (*Store)(nil)

// defaultListLimit caps ListRecent when the caller passes limit <= 0.
const defaultListLimit = 10

// Store is a memstore.Store backed by a PostgreSQL memory_records table.
type Store struct {
	pool *pgxpool.Pool
}

// New creates a Store, establishes a connection pool to the PostgreSQL
// database at dsn, and runs [Migrate] to ensure the schema exists.
func New(ctx context.Context, dsn string) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres store: create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres store: ping: %w", err)
	}

	if err := Migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres store: migrate: %w", err)
	}

	return &Store{pool: pool}, nil
}

// Migrate creates the memory_records table and its full-text search index if
// they do not exist.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	const schema = `
		CREATE TABLE IF NOT EXISTS memory_records (
			id         text PRIMARY KEY,
			identity   text NOT NULL,
			content    text NOT NULL,
			topics     text[] NOT NULL DEFAULT '{}',
			created_at timestamptz NOT NULL DEFAULT now()
		);
		CREATE INDEX IF NOT EXISTS memory_records_identity_idx
			ON memory_records (identity, created_at DESC);
		CREATE INDEX IF NOT EXISTS memory_records_fts_idx
			ON memory_records USING GIN (to_tsvector('english', content));`

	if _, err := pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("postgres store: create schema: %w", err)
	}
	return nil
}

// Search implements memstore.Store using PostgreSQL full-text search over the
// content column. The query is passed to plainto_tsquery so no special
// operator syntax is required; results are ranked by ts_rank.
func (s *Store) Search(ctx context.Context, identity, query string) ([]memstore.Record, error) {
	const q = `
		SELECT id, content, topics, created_at,
		       ts_rank(to_tsvector('english', content), plainto_tsquery('english', $2)) AS rank
		FROM   memory_records
		WHERE  identity = $1
		  AND  to_tsvector('english', content) @@ plainto_tsquery('english', $2)
		ORDER  BY rank DESC
		LIMIT  10`

	rows, err := s.pool.Query(ctx, q, identity, query)
	if err != nil {
		return nil, fmt.Errorf("%w: search: %v", memstore.ErrUnavailable, err)
	}
	return collectRecords(rows, true)
}

// Add implements memstore.Store. It inserts one record with a generated ID.
func (s *Store) Add(ctx context.Context, identity, fact string) (memstore.Record, error) {
	const q = `
		INSERT INTO memory_records (id, identity, content, topics)
		VALUES ($1, $2, $3, $4)
		RETURNING created_at`

	id := "voxbridge-" + shortID()
	topics := []string{"voxbridge"}

	var createdAt time.Time
	if err := s.pool.QueryRow(ctx, q, id, identity, fact, topics).Scan(&createdAt); err != nil {
		return memstore.Record{}, fmt.Errorf("%w: add: %v", memstore.ErrUnavailable, err)
	}

	return memstore.Record{
		ID:        id,
		Content:   fact,
		Topics:    topics,
		CreatedAt: createdAt,
	}, nil
}

// ListRecent implements memstore.Store, newest first.
func (s *Store) ListRecent(ctx context.Context, identity string, limit int) ([]memstore.Record, error) {
	const q = `
		SELECT id, content, topics, created_at
		FROM   memory_records
		WHERE  identity = $1
		ORDER  BY created_at DESC
		LIMIT  $2`

	if limit <= 0 {
		limit = defaultListLimit
	}

	rows, err := s.pool.Query(ctx, q, identity, limit)
	if err != nil {
		return nil, fmt.Errorf("%w: list recent: %v", memstore.ErrUnavailable, err)
	}
	return collectRecords(rows, false)
}

// Forget implements memstore.Store. It removes every record for identity.
func (s *Store) Forget(ctx context.Context, identity string) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM memory_records WHERE identity = $1`, identity); err != nil {
		return fmt.Errorf("%w: forget: %v", memstore.ErrUnavailable, err)
	}
	return nil
}

// Close releases all connections held by the underlying connection pool.
func (s *Store) Close() {
	s.pool.Close()
}

// collectRecords scans pgx rows into memstore records. withRank indicates the
// query selected a trailing rank column to map into Score.
func collectRecords(rows pgx.Rows, withRank bool) ([]memstore.Record, error) {
	records, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (memstore.Record, error) {
		var (
			r    memstore.Record
			rank float64
		)
		dest := []any{&r.ID, &r.Content, &r.Topics, &r.CreatedAt}
		if withRank {
			dest = append(dest, &rank)
		}
		if err := row.Scan(dest...); err != nil {
			return memstore.Record{}, err
		}
		r.Score = rank
		return r, nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: scan rows: %v", memstore.ErrUnavailable, err)
	}
	if records == nil {
		records = []memstore.Record{}
	}
	return records, nil
}

// shortID returns the first 12 hex characters of a random UUID. Record IDs
// are voxbridge-<12 hex>, so the hyphenated UUID form must not leak in.
func shortID() string {
	u := uuid.New()
	return hex.EncodeToString(u[:])[:12]
}
