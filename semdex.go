// Package semdex is the semantic search and embedding cache engine for the
// mail platform. It turns document content into vector embeddings through
// an external provider, caches and persists the vectors, ranks documents by
// cosine similarity to a query, and degrades to a recency ranking when the
// provider or store is unavailable.
//
// The package is a library: the host service constructs one Engine at
// startup and calls it from its own handlers and schedulers.
package semdex

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/inboxkit/semdex/internal/cache"
	"github.com/inboxkit/semdex/internal/config"
	"github.com/inboxkit/semdex/internal/db"
	"github.com/inboxkit/semdex/internal/llm"
	"github.com/inboxkit/semdex/internal/logging"
	"github.com/inboxkit/semdex/internal/maintenance"
	"github.com/inboxkit/semdex/internal/textnorm"
	"github.com/inboxkit/semdex/internal/vector"
	"github.com/inboxkit/semdex/internal/worker"
)

// DocumentStore is the external document collaborator. The engine only
// reads IDs and content; it never mutates documents.
type DocumentStore interface {
	GetContent(ctx context.Context, documentID string) (string, error)
	DocumentExists(ctx context.Context, documentID string) (bool, error)
}

// Embedder is the provider capability the engine depends on. The default
// is the bundled HTTP client; tests and hosts may inject their own.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float64, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float64, error)
	Model() string
}

// Metadata carries the filterable attributes stored with each vector.
type Metadata struct {
	Sender         string
	ReceivedAt     time.Time
	Importance     string
	HasAttachments bool
}

// Filter narrows search candidates. All set constraints must hold.
type Filter struct {
	Senders        []string
	ReceivedAfter  *time.Time
	ReceivedBefore *time.Time
	Importance     string
	HasAttachments *bool
}

// Document is one unit of batch vectorization input.
type Document struct {
	ID      string
	Content string
	Meta    Metadata
}

type SearchResult struct {
	DocumentID string
	Similarity float64
}

// Results is what every search returns, possibly empty. Degraded marks
// result sets served by the recency-only path while the vector pipeline
// was unavailable; that is a quality caveat, not an error.
type Results struct {
	Hits     []SearchResult
	Degraded bool
}

// BatchReport summarizes a VectorizeBatch run.
type BatchReport struct {
	RunID     string
	Total     int
	Succeeded int
	Failed    int
	Fallbacks int
	Errors    map[string]string
}

type Stats struct {
	TotalVectors  int
	RecentVectors int
	Dimensions    []int
	ModelsUsed    []string
	CacheEntries  int
}

// Engine wires the pipeline together. Dependencies are constructed once
// in Open and passed explicitly; there is no package-level state.
type Engine struct {
	cfg        *config.Config
	pool       *db.DualPool
	ownsPool   bool
	store      *vector.Store
	cache      cache.Cache
	durable    *cache.SQLite
	embedder   Embedder
	search     *vector.Engine
	vectorizer *worker.Vectorizer
	maint      *maintenance.Service
	docs       DocumentStore
	logger     *slog.Logger
}

// Open loads configuration from the environment, opens the store, runs
// migrations and assembles the engine.
func Open(docs DocumentStore, opts ...Option) (*Engine, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}

	e := &Engine{
		cfg:    cfg,
		docs:   docs,
		logger: logging.Get(),
	}

	for _, opt := range opts {
		if err := opt(e); err != nil {
			return nil, fmt.Errorf("failed to apply option: %w", err)
		}
	}

	if e.pool == nil {
		pool, err := db.NewDualPool("sqlite3", cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		e.pool = pool
		e.ownsPool = true
	}

	if err := db.RunMigrations(context.Background(), e.pool.Write); err != nil {
		e.close()
		return nil, err
	}

	if e.embedder == nil {
		clientOpts := []llm.ClientOption{
			llm.WithBaseURL(cfg.ProviderBaseURL),
			llm.WithModel(cfg.ProviderModel),
			llm.WithTimeout(cfg.ProviderTimeout),
			llm.WithBatchMax(cfg.ProviderBatchMax),
		}
		if cfg.ProviderAPIKey != "" {
			clientOpts = append(clientOpts, llm.WithAPIKey(cfg.ProviderAPIKey))
		}
		client, err := llm.NewClient(clientOpts...)
		if err != nil {
			e.close()
			return nil, err
		}
		e.embedder = client
	}

	e.store = vector.NewStore(e.pool.Read, e.pool.Write)
	e.durable = cache.NewSQLite(e.pool.Write)
	e.cache = cache.NewTiered(cache.NewMemory(cfg.CacheMemorySize, cfg.CacheTTL), e.durable)

	e.search = vector.NewEngine(e.store, e.embedder, vector.Params{
		Threshold:  cfg.SimilarityThreshold,
		Oversample: cfg.OversampleFactor,
	}, e.logger)

	e.vectorizer = worker.NewVectorizer(e.embedder, e.cache, e.store, worker.Config{
		ChunkSize:   cfg.ChunkSize,
		Parallelism: cfg.ChunkParallelism,
		Interval:    cfg.ChunkInterval,
		CacheTTL:    cfg.CacheTTL,
	}, e.logger)

	e.maint = maintenance.New(e.store, docs, e.durable, e.logger)

	return e, nil
}

func (e *Engine) close() {
	if e.ownsPool && e.pool != nil {
		_ = e.pool.Close()
	}
}

// Close releases the store connections the engine opened itself.
func (e *Engine) Close() error {
	if e.ownsPool && e.pool != nil {
		return e.pool.Close()
	}
	return nil
}

// EmbedDocument vectorizes one document's content and persists the result.
// Called whenever a document is created or edited. When the provider is
// rate-limited or unreachable the vector is synthesized and tagged so
// maintenance can re-embed it later.
func (e *Engine) EmbedDocument(ctx context.Context, documentID, content string, meta Metadata) error {
	normalized := textnorm.Normalize(content)
	if normalized == "" {
		return &llm.InvalidInputError{APIError: llm.APIError{Message: "empty content"}}
	}

	hash := textnorm.ContentHash(normalized)
	model := e.embedder.Model()

	values, ok := e.cache.Get(ctx, hash)
	if !ok {
		var err error
		values, err = e.embedder.Embed(ctx, normalized)
		switch {
		case err == nil:
			if cacheErr := e.cache.Set(ctx, hash, values, e.cfg.CacheTTL); cacheErr != nil {
				e.logger.WarnContext(ctx, "failed to cache embedding",
					slog.String("document_id", documentID),
					slog.String("error", cacheErr.Error()))
			}
		case llm.IsFallbackEligible(err):
			e.logger.WarnContext(ctx, "provider unavailable, synthesizing fallback vector",
				slog.String("document_id", documentID),
				slog.String("error", err.Error()))
			values = llm.Synthesize(normalized)
			model = llm.ModelFallbackV1
		default:
			return err
		}
	}

	return e.store.Upsert(ctx, vector.Entry{
		Vector: vector.Vector{
			DocumentID:    documentID,
			Values:        values,
			ProviderModel: model,
		},
		Metadata: toInternalMeta(meta),
	})
}

// DeleteDocumentEmbedding removes a document's vector. Called on document
// deletion.
func (e *Engine) DeleteDocumentEmbedding(ctx context.Context, documentID string) error {
	return e.store.Delete(ctx, documentID)
}

// Search embeds the query text and returns documents ranked by cosine
// similarity, filtered and truncated to limit. It always returns a result
// set while the subsystem is degraded rather than an error.
func (e *Engine) Search(ctx context.Context, queryText string, filter Filter, limit int) (*Results, error) {
	ctx, event := logging.NewEventContext(ctx)
	logging.AddToEvent(ctx,
		slog.Int("query_chars", len(queryText)),
		slog.Int("limit", limit))

	results, err := e.search.SearchByText(ctx, queryText, toInternalFilter(filter), limit)
	if err != nil {
		logging.AddToEvent(ctx, slog.String("error", err.Error()))
		e.logger.Log(ctx, slog.LevelWarn, "search failed", event.Attrs()...)
		return nil, err
	}

	logging.AddToEvent(ctx,
		slog.Bool("degraded", results.Degraded),
		slog.Int("hits", len(results.Hits)))
	e.logger.Log(ctx, slog.LevelInfo, "search completed", event.Attrs()...)
	return fromInternalResults(results), nil
}

// SimilarDocuments ranks other documents by similarity to the given
// document's stored vector.
func (e *Engine) SimilarDocuments(ctx context.Context, documentID string, limit int) (*Results, error) {
	v, found, err := e.store.Get(ctx, documentID)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, fmt.Errorf("no embedding for document %s", documentID)
	}

	// Fetch one extra so dropping the document itself still fills the limit.
	results, err := e.search.Search(ctx, v.Values, vector.Filter{}, limit+1)
	if err != nil {
		return nil, err
	}

	out := fromInternalResults(results)
	hits := out.Hits[:0]
	for _, hit := range out.Hits {
		if hit.DocumentID == documentID {
			continue
		}
		hits = append(hits, hit)
	}
	if len(hits) > limit {
		hits = hits[:limit]
	}
	out.Hits = hits
	return out, nil
}

// VectorizeBatch bulk-embeds documents with bounded concurrency, provider
// pacing and per-document failure isolation.
func (e *Engine) VectorizeBatch(ctx context.Context, docs []Document) (*BatchReport, error) {
	input := make([]worker.Document, len(docs))
	for i, d := range docs {
		input[i] = worker.Document{
			ID:      d.ID,
			Content: d.Content,
			Meta:    toInternalMeta(d.Meta),
		}
	}

	report, err := e.vectorizer.Run(ctx, input)
	if report == nil {
		return nil, err
	}
	return &BatchReport{
		RunID:     report.RunID,
		Total:     report.Total,
		Succeeded: report.Succeeded,
		Failed:    report.Failed,
		Fallbacks: report.Fallbacks,
		Errors:    report.Errors,
	}, err
}

// RunMaintenance removes orphaned and stale vectors and sweeps the cache.
// Called by a scheduler external to this subsystem.
func (e *Engine) RunMaintenance(ctx context.Context, retentionDays int) (int, error) {
	return e.maint.Cleanup(ctx, retentionDays)
}

// ReembedFallbacks re-embeds up to limit documents that are still carrying
// synthesized vectors, reading their current content from the document
// store. Intended to run once the provider has recovered.
func (e *Engine) ReembedFallbacks(ctx context.Context, limit int) (*BatchReport, error) {
	ids, err := e.maint.FallbackIDs(ctx, limit)
	if err != nil {
		return nil, err
	}

	docs := make([]Document, 0, len(ids))
	for _, id := range ids {
		content, err := e.docs.GetContent(ctx, id)
		if err != nil {
			e.logger.WarnContext(ctx, "failed to load content for re-embedding",
				slog.String("document_id", id),
				slog.String("error", err.Error()))
			continue
		}
		docs = append(docs, Document{ID: id, Content: content})
	}

	return e.VectorizeBatch(ctx, docs)
}

// Stats reports aggregate vector and cache counts for observability.
func (e *Engine) Stats(ctx context.Context) (*Stats, error) {
	s, err := e.maint.Stats(ctx)
	if err != nil {
		return nil, err
	}
	return &Stats{
		TotalVectors:  s.TotalVectors,
		RecentVectors: s.RecentVectors,
		Dimensions:    s.Dimensions,
		ModelsUsed:    s.ModelsUsed,
		CacheEntries:  s.CacheEntries,
	}, nil
}

func toInternalMeta(m Metadata) vector.Metadata {
	return vector.Metadata{
		Sender:         m.Sender,
		ReceivedAt:     m.ReceivedAt,
		Importance:     m.Importance,
		HasAttachments: m.HasAttachments,
	}
}

func toInternalFilter(f Filter) vector.Filter {
	return vector.Filter{
		Senders:        f.Senders,
		ReceivedAfter:  f.ReceivedAfter,
		ReceivedBefore: f.ReceivedBefore,
		Importance:     f.Importance,
		HasAttachments: f.HasAttachments,
	}
}

func fromInternalResults(r *vector.Results) *Results {
	out := &Results{Degraded: r.Degraded}
	for _, hit := range r.Hits {
		out.Hits = append(out.Hits, SearchResult{
			DocumentID: hit.DocumentID,
			Similarity: hit.Similarity,
		})
	}
	return out
}
