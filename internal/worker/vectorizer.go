// Package worker drives bulk (re)embedding of documents. Chunks are
// processed one at a time with a pacing delay between them; that delay is
// the throttle that keeps the run under the provider's rate limit, not an
// optimization.
package worker

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/inboxkit/semdex/internal/cache"
	"github.com/inboxkit/semdex/internal/llm"
	"github.com/inboxkit/semdex/internal/metrics"
	"github.com/inboxkit/semdex/internal/textnorm"
	"github.com/inboxkit/semdex/internal/vector"
)

// BatchEmbedder is the provider capability the vectorizer consumes.
type BatchEmbedder interface {
	EmbedBatch(ctx context.Context, texts []string) ([][]float64, error)
	Model() string
}

// Document is one unit of batch input.
type Document struct {
	ID      string
	Content string
	Meta    vector.Metadata
}

// Report summarizes a batch run. Per-document failures are recorded here
// instead of aborting sibling chunks.
type Report struct {
	RunID     string
	Total     int
	Succeeded int
	Failed    int
	Fallbacks int
	Errors    map[string]string
}

type Config struct {
	ChunkSize   int
	Parallelism int
	Interval    time.Duration
	CacheTTL    time.Duration
}

func (c Config) withDefaults() Config {
	if c.ChunkSize <= 0 {
		c.ChunkSize = 8
	}
	if c.Parallelism <= 0 {
		c.Parallelism = 5
	}
	if c.Interval <= 0 {
		c.Interval = 1500 * time.Millisecond
	}
	if c.CacheTTL <= 0 {
		c.CacheTTL = cache.DefaultTTL
	}
	return c
}

// Vectorizer embeds documents in chunks with cache reuse, transactional
// persistence per chunk and fallback synthesis when the provider is
// rate-limited or down.
type Vectorizer struct {
	embedder BatchEmbedder
	cache    cache.Cache
	store    *vector.Store
	cfg      Config
	limiter  *rate.Limiter
	backoff  BackoffConfig
	logger   *slog.Logger
}

func NewVectorizer(embedder BatchEmbedder, c cache.Cache, store *vector.Store, cfg Config, logger *slog.Logger) *Vectorizer {
	cfg = cfg.withDefaults()
	return &Vectorizer{
		embedder: embedder,
		cache:    c,
		store:    store,
		cfg:      cfg,
		limiter:  rate.NewLimiter(rate.Every(cfg.Interval), 1),
		backoff:  DefaultBackoffConfig,
		logger:   logger,
	}
}

// Run vectorizes the documents. A chunk failure is recorded per document
// and the run continues with the next chunk; only context cancellation or
// an authentication failure aborts the whole run.
func (v *Vectorizer) Run(ctx context.Context, docs []Document) (*Report, error) {
	report := &Report{
		RunID:  uuid.NewString(),
		Total:  len(docs),
		Errors: make(map[string]string),
	}

	logger := v.logger.With(slog.String("run_id", report.RunID), slog.Int("total", len(docs)))
	logger.InfoContext(ctx, "batch vectorization started")

	for start := 0; start < len(docs); start += v.cfg.ChunkSize {
		end := min(start+v.cfg.ChunkSize, len(docs))

		// Inter-chunk pacing against the provider rate limit.
		if err := v.limiter.Wait(ctx); err != nil {
			report.Succeeded = start - report.Failed
			return report, err
		}

		if err := v.processChunk(ctx, docs[start:end], report); err != nil {
			// Keep the report truthful about chunks that already
			// persisted before the abort.
			report.Succeeded = end - report.Failed
			logger.ErrorContext(ctx, "batch vectorization aborted", slog.String("error", err.Error()))
			return report, err
		}
	}

	report.Succeeded = report.Total - report.Failed
	metrics.BatchDocuments.WithLabelValues("succeeded").Add(float64(report.Succeeded))
	metrics.BatchDocuments.WithLabelValues("failed").Add(float64(report.Failed))

	logger.InfoContext(ctx, "batch vectorization finished",
		slog.Int("succeeded", report.Succeeded),
		slog.Int("failed", report.Failed),
		slog.Int("fallbacks", report.Fallbacks))
	return report, nil
}

type prepared struct {
	doc        Document
	normalized string
	hash       string
	vector     []float64
	cached     bool
	err        error
}

func (v *Vectorizer) processChunk(ctx context.Context, docs []Document, report *Report) error {
	items := make([]prepared, len(docs))

	// Normalize and probe the cache concurrently, bounded by the chunk
	// parallelism.
	var wg sync.WaitGroup
	sem := make(chan struct{}, v.cfg.Parallelism)
	for i, doc := range docs {
		i, doc := i, doc
		wg.Add(1)
		sem <- struct{}{}
		go func() {
			defer wg.Done()
			defer func() { <-sem }()
			items[i] = v.prepare(ctx, doc)
		}()
	}
	wg.Wait()

	var missTexts []string
	var missIdx []int
	for i := range items {
		if items[i].err != nil {
			report.Failed++
			report.Errors[items[i].doc.ID] = items[i].err.Error()
			continue
		}
		if !items[i].cached {
			missTexts = append(missTexts, items[i].normalized)
			missIdx = append(missIdx, i)
		}
	}

	model := v.embedder.Model()
	if len(missTexts) > 0 {
		vectors, err := v.embedder.EmbedBatch(ctx, missTexts)
		switch {
		case err == nil:
			for j, i := range missIdx {
				items[i].vector = vectors[j]
				if cacheErr := v.cache.Set(ctx, items[i].hash, vectors[j], v.cfg.CacheTTL); cacheErr != nil {
					v.logger.WarnContext(ctx, "failed to cache embedding",
						slog.String("document_id", items[i].doc.ID),
						slog.String("error", cacheErr.Error()))
				}
			}
		case llm.IsUnauthorized(err):
			// Configuration problem: nothing else in this run can succeed.
			v.failChunk(items, report, err)
			return err
		case llm.IsFallbackEligible(err):
			// Synthesized vectors are tagged and deliberately not cached,
			// so the real provider re-embeds this content once it recovers.
			model = llm.ModelFallbackV1
			for _, i := range missIdx {
				items[i].vector = llm.Synthesize(items[i].normalized)
				report.Fallbacks++
			}
		default:
			v.failChunk(items, report, err)
			return nil
		}
	}

	entries := make([]vector.Entry, 0, len(items))
	for i := range items {
		if items[i].err != nil || items[i].vector == nil {
			continue
		}
		entryModel := v.embedder.Model()
		if !items[i].cached && model == llm.ModelFallbackV1 {
			entryModel = llm.ModelFallbackV1
		}
		entries = append(entries, vector.Entry{
			Vector: vector.Vector{
				DocumentID:    items[i].doc.ID,
				Values:        items[i].vector,
				ProviderModel: entryModel,
			},
			Metadata: items[i].doc.Meta,
		})
	}
	if len(entries) == 0 {
		return nil
	}

	if err := v.upsertChunkWithRetry(ctx, entries); err != nil {
		v.failChunk(items, report, err)
	}
	return nil
}

func (v *Vectorizer) prepare(ctx context.Context, doc Document) prepared {
	p := prepared{doc: doc}

	p.normalized = textnorm.Normalize(doc.Content)
	if p.normalized == "" {
		p.err = &llm.InvalidInputError{APIError: llm.APIError{Message: "empty content"}}
		return p
	}

	p.hash = textnorm.ContentHash(p.normalized)
	if vec, ok := v.cache.Get(ctx, p.hash); ok {
		p.vector = vec
		p.cached = true
	}
	return p
}

// upsertChunkWithRetry retries a failed chunk transaction once before
// giving up on the chunk.
func (v *Vectorizer) upsertChunkWithRetry(ctx context.Context, entries []vector.Entry) error {
	err := v.store.UpsertChunk(ctx, entries)
	if err == nil || !vector.IsStoreError(err) {
		return err
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(FullJitter(1, v.backoff)):
	}

	return v.store.UpsertChunk(ctx, entries)
}

func (v *Vectorizer) failChunk(items []prepared, report *Report, err error) {
	for i := range items {
		if items[i].err != nil {
			continue // already counted
		}
		report.Failed++
		report.Errors[items[i].doc.ID] = fmt.Sprintf("chunk failed: %v", err)
	}
}
