// Package memstore implements agent.MemoryStore on top of Postgres via
// pgx, for deployments that don't need graph-structured memory
// (internal/graphmemory is the arangodb-backed alternative). Grounded on
// core/db's pgxpool wrapper and the teacher's hand-written-SQL convention
// in internal/store (now removed along with its sqlc dependency) — this
// package replaces it with new SQL for a table sqlc never generated code
// for in the teacher.
package memstore

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"

	"kairo.dev/agent/common/id"
	"kairo.dev/agent/internal/agent"
)

// Store is a Postgres-backed agent.MemoryStore. Search uses Postgres
// full-text search (to_tsvector/plainto_tsquery) rather than vector
// similarity; a vector-search-backed Store can wrap this one once an
// embedding provider is wired (spec §6's MEMORY_EMBED_BACKEND/
// MEMORY_EMBED_MODEL surface), with this type as the always-available
// fallback when MEMORY_FAISS_DISABLE is set.
type Store struct {
	pool *pgxpool.Pool
}

// New wraps a pgx connection pool (e.g. (*db.DB).Pool()) as a Store.
func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

const schema = `
CREATE TABLE IF NOT EXISTS memory_records (
	id         TEXT PRIMARY KEY,
	kind       TEXT NOT NULL,
	key        TEXT NOT NULL,
	content    TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS memory_records_content_fts
	ON memory_records USING gin (to_tsvector('english', content));
`

// EnsureSchema creates the memory_records table if absent. Call once at
// startup.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("ensuring memory_records schema: %w", err)
	}
	return nil
}

func (s *Store) Store(ctx context.Context, kind agent.MemoryKind, key, content string) (string, error) {
	recordID := fmt.Sprintf("mem-%d", id.New())
	_, err := s.pool.Exec(ctx,
		`INSERT INTO memory_records (id, kind, key, content) VALUES ($1, $2, $3, $4)`,
		recordID, string(kind), key, content,
	)
	if err != nil {
		return "", fmt.Errorf("storing memory record: %w", err)
	}
	return recordID, nil
}

func (s *Store) Search(ctx context.Context, query string, k int) ([]agent.MemoryRecord, error) {
	if k <= 0 {
		k = 5
	}
	rows, err := s.pool.Query(ctx,
		`SELECT kind, content, ts_rank(to_tsvector('english', content), plainto_tsquery('english', $1)) AS score
		 FROM memory_records
		 WHERE to_tsvector('english', content) @@ plainto_tsquery('english', $1)
		 ORDER BY score DESC
		 LIMIT $2`,
		strings.TrimSpace(query), k,
	)
	if err != nil {
		return nil, fmt.Errorf("searching memory records: %w", err)
	}
	defer rows.Close()

	var records []agent.MemoryRecord
	for rows.Next() {
		var rec agent.MemoryRecord
		var kind string
		if err := rows.Scan(&kind, &rec.Content, &rec.Score); err != nil {
			return nil, fmt.Errorf("scanning memory record: %w", err)
		}
		rec.Kind = agent.MemoryKind(kind)
		records = append(records, rec)
	}
	return records, rows.Err()
}
