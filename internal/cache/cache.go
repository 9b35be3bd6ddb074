// Package cache stores computed embedding vectors keyed by content hash so
// identical content never costs a second provider call. Entries carry a TTL
// and are never served past it.
package cache

import (
	"context"
	"time"
)

// DefaultTTL bounds how long a cached vector stays valid. Retention is an
// optimization only; search correctness must not depend on it.
const DefaultTTL = 7 * 24 * time.Hour

// Cache maps a content hash to a previously computed vector. A miss is
// reported via the bool, never as an error.
type Cache interface {
	Get(ctx context.Context, contentHash string) ([]float64, bool)
	Set(ctx context.Context, contentHash string, vector []float64, ttl time.Duration) error
}
