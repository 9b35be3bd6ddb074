package vector

import (
	"context"
	"log/slog"
	"sort"
	"time"

	"github.com/inboxkit/semdex/internal/llm"
	"github.com/inboxkit/semdex/internal/metrics"
	"github.com/inboxkit/semdex/internal/textnorm"
)

// DegradedSimilarity is the placeholder score reported for results from
// the recency-only path, so callers can still sort uniformly.
const DegradedSimilarity = 0.5

// Embedder is the query-side embedding capability the engine needs.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float64, error)
}

// Params makes the ranking knobs explicit; there is no implicit default
// threshold buried in the call sites.
type Params struct {
	// Threshold drops candidates scoring below it. Typical values run
	// 0.3 (recall-leaning) to 0.7 (precision-leaning).
	Threshold float64
	// Oversample multiplies the candidate fetch so re-ranking has room
	// to work after the threshold cut.
	Oversample int
}

func (p Params) oversample() int {
	if p.Oversample <= 0 {
		return 4
	}
	return p.Oversample
}

// Engine ranks stored document vectors by cosine similarity to a query
// vector. When the provider or store is unavailable it degrades to a
// recency ranking instead of failing the search.
type Engine struct {
	store    *Store
	embedder Embedder
	params   Params
	logger   *slog.Logger
}

func NewEngine(store *Store, embedder Embedder, params Params, logger *slog.Logger) *Engine {
	return &Engine{
		store:    store,
		embedder: embedder,
		params:   params,
		logger:   logger,
	}
}

// SearchByText normalizes and embeds the query text, then searches. If the
// provider is rate-limited or unreachable the engine falls back to the
// degraded path; auth and input errors propagate.
func (e *Engine) SearchByText(ctx context.Context, queryText string, filter Filter, limit int) (*Results, error) {
	normalized := textnorm.Normalize(queryText)
	if normalized == "" {
		return nil, &llm.InvalidInputError{APIError: llm.APIError{Message: "empty query text"}}
	}

	queryVector, err := e.embedder.Embed(ctx, normalized)
	if err != nil {
		if llm.IsFallbackEligible(err) {
			e.logger.WarnContext(ctx, "query embedding unavailable, serving degraded search",
				slog.String("error", err.Error()))
			return e.degraded(ctx, filter, limit), nil
		}
		return nil, err
	}

	return e.Search(ctx, queryVector, filter, limit)
}

// Search fetches oversampled candidates, scores them against queryVector,
// applies the threshold and returns the top results, ties broken by most
// recent document.
func (e *Engine) Search(ctx context.Context, queryVector []float64, filter Filter, limit int) (*Results, error) {
	if limit <= 0 {
		limit = 10
	}
	start := time.Now()

	candidates, err := e.store.QueryCandidates(ctx, filter, limit*e.params.oversample())
	if err != nil {
		if IsDimensionMismatch(err) {
			return nil, err
		}
		e.logger.ErrorContext(ctx, "vector store unavailable, serving degraded search",
			slog.String("error", err.Error()))
		return e.degraded(ctx, filter, limit), nil
	}

	type scored struct {
		entry      Entry
		similarity float64
	}

	ranked := make([]scored, 0, len(candidates))
	for _, c := range candidates {
		// Fallback vectors live in their own space with a reserved
		// dimension; they are only comparable among themselves. A
		// dimension disagreement between two real embeddings is a hard
		// error.
		if len(c.Values) != len(queryVector) {
			if c.ProviderModel == llm.ModelFallbackV1 || len(queryVector) == llm.FallbackDimension {
				continue
			}
			return nil, &DimensionMismatchError{Want: len(queryVector), Got: len(c.Values)}
		}

		similarity, err := CosineSimilarity(queryVector, c.Values)
		if err != nil {
			return nil, err
		}
		if similarity < e.params.Threshold {
			continue
		}
		ranked = append(ranked, scored{entry: c, similarity: similarity})
	}

	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].similarity != ranked[j].similarity {
			return ranked[i].similarity > ranked[j].similarity
		}
		return ranked[i].entry.ReceivedAt.After(ranked[j].entry.ReceivedAt)
	})

	if len(ranked) > limit {
		ranked = ranked[:limit]
	}

	results := &Results{Hits: make([]SearchResult, len(ranked))}
	for i, r := range ranked {
		results.Hits[i] = SearchResult{
			DocumentID: r.entry.DocumentID,
			Similarity: r.similarity,
		}
	}

	metrics.SearchDuration.WithLabelValues("semantic").Observe(time.Since(start).Seconds())
	metrics.SearchesTotal.WithLabelValues("semantic").Inc()
	return results, nil
}

// degraded serves a metadata-only, most-recent-first ranking. It never
// returns an error: if even the candidate query fails, the result set is
// empty but the search still succeeds.
func (e *Engine) degraded(ctx context.Context, filter Filter, limit int) *Results {
	if limit <= 0 {
		limit = 10
	}

	results := &Results{Degraded: true}

	candidates, err := e.store.QueryCandidates(ctx, filter, limit)
	if err != nil {
		e.logger.ErrorContext(ctx, "degraded search candidate query failed",
			slog.String("error", err.Error()))
		metrics.SearchesTotal.WithLabelValues("degraded").Inc()
		return results
	}

	for _, c := range candidates {
		results.Hits = append(results.Hits, SearchResult{
			DocumentID: c.DocumentID,
			Similarity: DegradedSimilarity,
		})
	}

	metrics.SearchesTotal.WithLabelValues("degraded").Inc()
	return results
}
