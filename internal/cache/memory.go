package cache

import (
	"context"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/inboxkit/semdex/internal/metrics"
)

type memoryEntry struct {
	vector    []float64
	expiresAt time.Time
}

// Memory is an in-process LRU cache with TTL expiry. Safe for concurrent
// use by multiple in-flight embedding requests.
type Memory struct {
	lru *expirable.LRU[string, memoryEntry]
	now func() time.Time
}

func NewMemory(size int, ttl time.Duration) *Memory {
	if size <= 0 {
		size = 4096
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Memory{
		lru: expirable.NewLRU[string, memoryEntry](size, nil, ttl),
		now: time.Now,
	}
}

func (m *Memory) Get(_ context.Context, contentHash string) ([]float64, bool) {
	entry, ok := m.lru.Get(contentHash)
	if !ok {
		metrics.CacheMisses.WithLabelValues("memory").Inc()
		return nil, false
	}

	// The LRU expires at cache granularity; per-entry deadlines can be
	// shorter, so re-check here.
	if m.now().After(entry.expiresAt) {
		m.lru.Remove(contentHash)
		metrics.CacheMisses.WithLabelValues("memory").Inc()
		return nil, false
	}

	metrics.CacheHits.WithLabelValues("memory").Inc()
	return entry.vector, true
}

func (m *Memory) Set(_ context.Context, contentHash string, vector []float64, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	m.lru.Add(contentHash, memoryEntry{
		vector:    vector,
		expiresAt: m.now().Add(ttl),
	})
	return nil
}
