// Package maintenance keeps the vector store free of orphaned and stale
// vectors and reports aggregate statistics. It enforces the no-orphan
// rule as a background invariant, not a real-time guarantee.
package maintenance

import (
	"context"
	"log/slog"
	"time"

	"github.com/inboxkit/semdex/internal/cache"
	"github.com/inboxkit/semdex/internal/llm"
	"github.com/inboxkit/semdex/internal/metrics"
	"github.com/inboxkit/semdex/internal/vector"
)

// activeWindow protects vectors of recently re-submitted documents from
// the age-based retention rule: age alone does not trigger deletion while
// the document is still actively referenced.
const activeWindow = 30 * 24 * time.Hour

// DocumentStore is the slice of the external document collaborator the
// cleanup pass needs.
type DocumentStore interface {
	DocumentExists(ctx context.Context, documentID string) (bool, error)
}

type Stats struct {
	TotalVectors  int
	RecentVectors int
	Dimensions    []int
	ModelsUsed    []string
	CacheEntries  int
}

type Service struct {
	store   *vector.Store
	docs    DocumentStore
	durable *cache.SQLite
	logger  *slog.Logger
	now     func() time.Time
}

func New(store *vector.Store, docs DocumentStore, durable *cache.SQLite, logger *slog.Logger) *Service {
	return &Service{
		store:   store,
		docs:    docs,
		durable: durable,
		logger:  logger,
		now:     time.Now,
	}
}

// Cleanup removes vectors for deleted documents, plus vectors older than
// retentionDays whose document has not been re-submitted within the
// active window. Returns the number of vectors deleted.
func (s *Service) Cleanup(ctx context.Context, retentionDays int) (int, error) {
	ages, err := s.store.Ages(ctx)
	if err != nil {
		return 0, err
	}

	now := s.now()
	cutoff := now.Add(-time.Duration(retentionDays) * 24 * time.Hour)
	activeCutoff := now.Add(-activeWindow)

	var doomed []string
	for _, age := range ages {
		exists, err := s.docs.DocumentExists(ctx, age.DocumentID)
		if err != nil {
			s.logger.WarnContext(ctx, "existence check failed, keeping vector",
				slog.String("document_id", age.DocumentID),
				slog.String("error", err.Error()))
			continue
		}
		if !exists {
			doomed = append(doomed, age.DocumentID)
			continue
		}
		if age.CreatedAt.Before(cutoff) && age.UpdatedAt.Before(activeCutoff) {
			doomed = append(doomed, age.DocumentID)
		}
	}

	deleted, err := s.store.DeleteByIDs(ctx, doomed)
	if err != nil {
		return int(deleted), err
	}
	metrics.MaintenanceDeleted.Add(float64(deleted))

	if s.durable != nil {
		swept, err := s.durable.Sweep(ctx)
		if err != nil {
			s.logger.WarnContext(ctx, "cache sweep failed", slog.String("error", err.Error()))
		} else if swept > 0 {
			s.logger.InfoContext(ctx, "cache swept", slog.Int64("entries", swept))
		}
	}

	s.logger.InfoContext(ctx, "maintenance cleanup finished",
		slog.Int64("deleted", deleted),
		slog.Int("retention_days", retentionDays))
	return int(deleted), nil
}

// Stats reports aggregate counts for observability.
func (s *Service) Stats(ctx context.Context) (*Stats, error) {
	total, err := s.store.Count(ctx)
	if err != nil {
		return nil, err
	}

	recent, err := s.store.CountUpdatedSince(ctx, s.now().Add(-7*24*time.Hour))
	if err != nil {
		return nil, err
	}

	dims, err := s.store.Dimensions(ctx)
	if err != nil {
		return nil, err
	}

	models, err := s.store.Models(ctx)
	if err != nil {
		return nil, err
	}

	stats := &Stats{
		TotalVectors:  total,
		RecentVectors: recent,
		Dimensions:    dims,
		ModelsUsed:    models,
	}

	if s.durable != nil {
		entries, err := s.durable.Count(ctx)
		if err != nil {
			return nil, err
		}
		stats.CacheEntries = entries
	}

	return stats, nil
}

// FallbackIDs lists documents still carrying synthesized vectors, oldest
// first, so the host can re-embed them now that the provider is healthy.
func (s *Service) FallbackIDs(ctx context.Context, limit int) ([]string, error) {
	if limit <= 0 {
		limit = 100
	}
	return s.store.IDsByModel(ctx, llm.ModelFallbackV1, limit)
}
