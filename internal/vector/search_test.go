package vector

import (
	"context"
	"database/sql"
	"io"
	"log/slog"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/inboxkit/semdex/internal/db"
	"github.com/inboxkit/semdex/internal/llm"
)

type stubEmbedder struct {
	vector []float64
	err    error
}

func (s *stubEmbedder) Embed(_ context.Context, _ string) ([]float64, error) {
	return s.vector, s.err
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

func seedSearchStore(t *testing.T) *Store {
	t.Helper()
	s := newTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 8, 1, 9, 0, 0, 0, time.UTC)

	docs := []struct {
		id         string
		values     []float64
		importance string
		offset     time.Duration
	}{
		{"close", []float64{1, 0.1, 0}, "high", 0},
		{"closer", []float64{1, 0.01, 0}, "high", time.Hour},
		{"far", []float64{0, 0, 1}, "high", 2 * time.Hour},
		{"normal-close", []float64{1, 0.05, 0}, "normal", 3 * time.Hour},
	}
	for _, d := range docs {
		entry := testEntry(d.id, d.values)
		entry.Importance = d.importance
		entry.ReceivedAt = base.Add(d.offset)
		if err := s.Upsert(ctx, entry); err != nil {
			t.Fatalf("seed failed: %v", err)
		}
	}
	return s
}

func TestEngine_Search(t *testing.T) {
	ctx := context.Background()
	query := []float64{1, 0, 0}

	t.Run("RankedDescending", func(t *testing.T) {
		e := NewEngine(seedSearchStore(t), nil, Params{Threshold: 0.3}, testLogger())

		results, err := e.Search(ctx, query, Filter{}, 10)
		if err != nil {
			t.Fatalf("search failed: %v", err)
		}
		if results.Degraded {
			t.Error("expected semantic results, got degraded")
		}
		if len(results.Hits) != 3 {
			t.Fatalf("expected 3 hits above threshold, got %d", len(results.Hits))
		}
		if results.Hits[0].DocumentID != "closer" {
			t.Errorf("expected closest document first, got %s", results.Hits[0].DocumentID)
		}
		for i := 1; i < len(results.Hits); i++ {
			if results.Hits[i].Similarity > results.Hits[i-1].Similarity {
				t.Error("hits are not in descending similarity order")
			}
		}
	})

	t.Run("ThresholdCutsLowScores", func(t *testing.T) {
		e := NewEngine(seedSearchStore(t), nil, Params{Threshold: 0.999}, testLogger())

		results, err := e.Search(ctx, query, Filter{}, 10)
		if err != nil {
			t.Fatalf("search failed: %v", err)
		}
		if len(results.Hits) != 1 {
			t.Errorf("expected only the closest hit at threshold 0.999, got %d", len(results.Hits))
		}
	})

	t.Run("FilterBeforeRanking", func(t *testing.T) {
		e := NewEngine(seedSearchStore(t), nil, Params{Threshold: 0.3}, testLogger())

		results, err := e.Search(ctx, query, Filter{Importance: "high"}, 5)
		if err != nil {
			t.Fatalf("search failed: %v", err)
		}
		for _, hit := range results.Hits {
			if hit.DocumentID == "normal-close" {
				t.Error("filter leaked a normal-importance document")
			}
		}
		if len(results.Hits) != 2 {
			t.Errorf("expected 2 high-importance hits, got %d", len(results.Hits))
		}
	})

	t.Run("LimitTruncates", func(t *testing.T) {
		e := NewEngine(seedSearchStore(t), nil, Params{Threshold: 0}, testLogger())

		results, err := e.Search(ctx, query, Filter{}, 1)
		if err != nil {
			t.Fatalf("search failed: %v", err)
		}
		if len(results.Hits) != 1 {
			t.Errorf("expected 1 hit, got %d", len(results.Hits))
		}
	})

	t.Run("TieBreakMostRecentFirst", func(t *testing.T) {
		s := newTestStore(t)
		old := testEntry("old", []float64{1, 0})
		old.ReceivedAt = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
		recent := testEntry("recent", []float64{1, 0})
		recent.ReceivedAt = time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
		_ = s.Upsert(ctx, old)
		_ = s.Upsert(ctx, recent)

		e := NewEngine(s, nil, Params{Threshold: 0.3}, testLogger())
		results, err := e.Search(ctx, []float64{1, 0}, Filter{}, 2)
		if err != nil {
			t.Fatalf("search failed: %v", err)
		}
		if results.Hits[0].DocumentID != "recent" {
			t.Errorf("expected tie broken by recency, got %s first", results.Hits[0].DocumentID)
		}
	})

	t.Run("SkipsFallbackVectors", func(t *testing.T) {
		s := seedSearchStore(t)
		fb := testEntry("fb", make([]float64, llm.FallbackDimension))
		fb.Values[0] = 1
		fb.ProviderModel = llm.ModelFallbackV1
		_ = s.Upsert(ctx, fb)

		e := NewEngine(s, nil, Params{Threshold: 0}, testLogger())
		results, err := e.Search(ctx, query, Filter{}, 10)
		if err != nil {
			t.Fatalf("search failed: %v", err)
		}
		for _, hit := range results.Hits {
			if hit.DocumentID == "fb" {
				t.Error("fallback vector compared against real query vector")
			}
		}
	})

	t.Run("RealDimensionMismatchIsFatal", func(t *testing.T) {
		e := NewEngine(seedSearchStore(t), nil, Params{Threshold: 0}, testLogger())

		_, err := e.Search(ctx, []float64{1, 0}, Filter{}, 10)
		if !IsDimensionMismatch(err) {
			t.Errorf("expected DimensionMismatchError for incompatible real vectors, got %v", err)
		}
	})

	t.Run("DegradedOnStoreFailure", func(t *testing.T) {
		conn, err := sql.Open("sqlite3", ":memory:")
		if err != nil {
			t.Fatalf("failed to open db: %v", err)
		}
		if err := db.RunMigrations(ctx, conn); err != nil {
			t.Fatalf("migrations failed: %v", err)
		}
		conn.Close() // force every query to fail

		e := NewEngine(NewStore(conn, conn), nil, Params{Threshold: 0.3}, testLogger())
		results, err := e.Search(ctx, query, Filter{}, 5)
		if err != nil {
			t.Fatalf("expected degraded results, got error %v", err)
		}
		if !results.Degraded {
			t.Error("expected degraded flag when store is down")
		}
	})
}

func TestEngine_SearchByText(t *testing.T) {
	ctx := context.Background()

	t.Run("EmbedsAndSearches", func(t *testing.T) {
		embedder := &stubEmbedder{vector: []float64{1, 0, 0}}
		e := NewEngine(seedSearchStore(t), embedder, Params{Threshold: 0.3}, testLogger())

		results, err := e.SearchByText(ctx, "urgent deadline", Filter{Importance: "high"}, 5)
		if err != nil {
			t.Fatalf("search failed: %v", err)
		}
		if results.Degraded {
			t.Error("expected semantic results")
		}
		if len(results.Hits) == 0 {
			t.Error("expected hits")
		}
	})

	t.Run("EmptyQueryRejected", func(t *testing.T) {
		e := NewEngine(seedSearchStore(t), &stubEmbedder{}, Params{}, testLogger())
		_, err := e.SearchByText(ctx, "  <p></p>  ", Filter{}, 5)
		if !llm.IsInvalidInput(err) {
			t.Errorf("expected InvalidInputError, got %v", err)
		}
	})

	t.Run("DegradedWhenProviderUnavailable", func(t *testing.T) {
		embedder := &stubEmbedder{err: &llm.UnavailableError{}}
		e := NewEngine(seedSearchStore(t), embedder, Params{Threshold: 0.3}, testLogger())

		results, err := e.SearchByText(ctx, "urgent deadline", Filter{}, 2)
		if err != nil {
			t.Fatalf("expected degraded results, got error %v", err)
		}
		if !results.Degraded {
			t.Error("expected degraded flag when provider is down")
		}
		if len(results.Hits) != 2 {
			t.Errorf("expected 2 recency hits, got %d", len(results.Hits))
		}
		for _, hit := range results.Hits {
			if hit.Similarity != DegradedSimilarity {
				t.Errorf("expected placeholder similarity %v, got %v", DegradedSimilarity, hit.Similarity)
			}
		}
	})

	t.Run("AuthErrorPropagates", func(t *testing.T) {
		embedder := &stubEmbedder{err: &llm.AuthError{}}
		e := NewEngine(seedSearchStore(t), embedder, Params{}, testLogger())

		_, err := e.SearchByText(ctx, "query", Filter{}, 5)
		if !llm.IsUnauthorized(err) {
			t.Errorf("expected AuthError to propagate, got %v", err)
		}
	})
}
