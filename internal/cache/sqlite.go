package cache

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/inboxkit/semdex/internal/metrics"
)

// SQLite is the durable cache tier backed by the embedding_cache table.
// Expired rows are treated as absent on read and deleted lazily; Sweep
// removes them in bulk.
type SQLite struct {
	db  *sql.DB
	now func() time.Time
}

func NewSQLite(db *sql.DB) *SQLite {
	return &SQLite{db: db, now: time.Now}
}

func (s *SQLite) Get(ctx context.Context, contentHash string) ([]float64, bool) {
	vector, _, ok := s.getRemaining(ctx, contentHash)
	return vector, ok
}

// getRemaining also reports how long the row has left to live, so the
// memory tier can be repopulated with the row's original deadline rather
// than a fresh one.
func (s *SQLite) getRemaining(ctx context.Context, contentHash string) ([]float64, time.Duration, bool) {
	var vectorJSON string
	var expiresAt time.Time

	err := s.db.QueryRowContext(ctx, `
		SELECT vector, expires_at FROM embedding_cache WHERE content_hash = ?
	`, contentHash).Scan(&vectorJSON, &expiresAt)
	if err != nil {
		metrics.CacheMisses.WithLabelValues("sqlite").Inc()
		return nil, 0, false
	}

	if s.now().After(expiresAt) {
		_, _ = s.db.ExecContext(ctx, `DELETE FROM embedding_cache WHERE content_hash = ?`, contentHash)
		metrics.CacheMisses.WithLabelValues("sqlite").Inc()
		return nil, 0, false
	}

	var vector []float64
	if err := json.Unmarshal([]byte(vectorJSON), &vector); err != nil {
		metrics.CacheMisses.WithLabelValues("sqlite").Inc()
		return nil, 0, false
	}

	metrics.CacheHits.WithLabelValues("sqlite").Inc()
	return vector, expiresAt.Sub(s.now()), true
}

func (s *SQLite) Set(ctx context.Context, contentHash string, vector []float64, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = DefaultTTL
	}

	vectorJSON, err := json.Marshal(vector)
	if err != nil {
		return fmt.Errorf("failed to marshal vector: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO embedding_cache (content_hash, vector, dimension, expires_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(content_hash) DO UPDATE SET
			vector = excluded.vector,
			dimension = excluded.dimension,
			expires_at = excluded.expires_at
	`, contentHash, string(vectorJSON), len(vector), s.now().Add(ttl))
	if err != nil {
		return fmt.Errorf("failed to upsert cache entry: %w", err)
	}

	return nil
}

// Sweep deletes all expired rows and returns the number removed.
func (s *SQLite) Sweep(ctx context.Context) (int64, error) {
	result, err := s.db.ExecContext(ctx, `DELETE FROM embedding_cache WHERE expires_at <= ?`, s.now())
	if err != nil {
		return 0, fmt.Errorf("failed to sweep cache: %w", err)
	}
	return result.RowsAffected()
}

// Count reports the number of live cache rows.
func (s *SQLite) Count(ctx context.Context) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM embedding_cache WHERE expires_at > ?
	`, s.now()).Scan(&count)
	return count, err
}

// Tiered layers the in-memory cache over the durable one: reads fall
// through to SQLite and repopulate memory, writes go to both.
type Tiered struct {
	memory  *Memory
	durable *SQLite
}

func NewTiered(memory *Memory, durable *SQLite) *Tiered {
	return &Tiered{memory: memory, durable: durable}
}

func (t *Tiered) Get(ctx context.Context, contentHash string) ([]float64, bool) {
	if vector, ok := t.memory.Get(ctx, contentHash); ok {
		return vector, true
	}

	vector, remaining, ok := t.durable.getRemaining(ctx, contentHash)
	if !ok {
		return nil, false
	}

	// Repopulate with the row's remaining lifetime; a fresh TTL here
	// would let the entry outlive its original deadline.
	_ = t.memory.Set(ctx, contentHash, vector, remaining)
	return vector, true
}

func (t *Tiered) Set(ctx context.Context, contentHash string, vector []float64, ttl time.Duration) error {
	_ = t.memory.Set(ctx, contentHash, vector, ttl)
	return t.durable.Set(ctx, contentHash, vector, ttl)
}
