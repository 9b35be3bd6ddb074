package maintenance

import (
	"context"
	"database/sql"
	"io"
	"log/slog"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/inboxkit/semdex/internal/cache"
	"github.com/inboxkit/semdex/internal/db"
	"github.com/inboxkit/semdex/internal/llm"
	"github.com/inboxkit/semdex/internal/vector"
)

type fakeDocStore struct {
	existing map[string]bool
}

func (f *fakeDocStore) DocumentExists(_ context.Context, id string) (bool, error) {
	return f.existing[id], nil
}

func newTestEnv(t *testing.T) (*vector.Store, *sql.DB) {
	t.Helper()
	conn, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("failed to open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := db.RunMigrations(context.Background(), conn); err != nil {
		t.Fatalf("migrations failed: %v", err)
	}
	return vector.NewStore(conn, conn), conn
}

func upsert(t *testing.T, store *vector.Store, id, model string) {
	t.Helper()
	err := store.Upsert(context.Background(), vector.Entry{
		Vector: vector.Vector{
			DocumentID:    id,
			Values:        []float64{1, 2},
			ProviderModel: model,
		},
		Metadata: vector.Metadata{ReceivedAt: time.Now()},
	})
	if err != nil {
		t.Fatalf("upsert %s failed: %v", id, err)
	}
}

func backdate(t *testing.T, conn *sql.DB, id string, createdDaysAgo, updatedDaysAgo int) {
	t.Helper()
	_, err := conn.Exec(
		`UPDATE document_vectors SET created_at = ?, updated_at = ? WHERE document_id = ?`,
		time.Now().AddDate(0, 0, -createdDaysAgo),
		time.Now().AddDate(0, 0, -updatedDaysAgo),
		id,
	)
	if err != nil {
		t.Fatalf("backdate %s failed: %v", id, err)
	}
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

func TestService_Cleanup(t *testing.T) {
	ctx := context.Background()

	t.Run("RemovesOrphans", func(t *testing.T) {
		store, _ := newTestEnv(t)
		upsert(t, store, "kept", "embed-v1")
		upsert(t, store, "orphan", "embed-v1")

		docs := &fakeDocStore{existing: map[string]bool{"kept": true}}
		svc := New(store, docs, nil, testLogger())

		deleted, err := svc.Cleanup(ctx, 90)
		if err != nil {
			t.Fatalf("cleanup failed: %v", err)
		}
		if deleted != 1 {
			t.Errorf("expected 1 deleted, got %d", deleted)
		}

		_, found, _ := store.Get(ctx, "kept")
		if !found {
			t.Error("expected kept vector to survive")
		}
		_, found, _ = store.Get(ctx, "orphan")
		if found {
			t.Error("expected orphan vector to be removed")
		}
	})

	t.Run("TwoConditionRetention", func(t *testing.T) {
		store, conn := newTestEnv(t)

		// Old vector, document untouched for months: delete.
		upsert(t, store, "stale", "embed-v1")
		backdate(t, conn, "stale", 120, 120)

		// Old vector, but the document was re-submitted recently: keep.
		upsert(t, store, "old-but-active", "embed-v1")
		backdate(t, conn, "old-but-active", 120, 5)

		// Young vector: keep regardless.
		upsert(t, store, "young", "embed-v1")

		docs := &fakeDocStore{existing: map[string]bool{
			"stale": true, "old-but-active": true, "young": true,
		}}
		svc := New(store, docs, nil, testLogger())

		deleted, err := svc.Cleanup(ctx, 90)
		if err != nil {
			t.Fatalf("cleanup failed: %v", err)
		}
		if deleted != 1 {
			t.Errorf("expected only the stale vector deleted, got %d", deleted)
		}

		_, found, _ := store.Get(ctx, "old-but-active")
		if !found {
			t.Error("age alone must not delete an actively referenced vector")
		}
	})

	t.Run("SweepsDurableCache", func(t *testing.T) {
		store, conn := newTestEnv(t)
		durable := cache.NewSQLite(conn)

		_ = durable.Set(ctx, "h-expired", []float64{1}, time.Nanosecond)
		_ = durable.Set(ctx, "h-live", []float64{2}, time.Hour)
		time.Sleep(2 * time.Millisecond)

		svc := New(store, &fakeDocStore{}, durable, testLogger())
		if _, err := svc.Cleanup(ctx, 90); err != nil {
			t.Fatalf("cleanup failed: %v", err)
		}

		count, err := durable.Count(ctx)
		if err != nil {
			t.Fatalf("count failed: %v", err)
		}
		if count != 1 {
			t.Errorf("expected 1 live cache entry after sweep, got %d", count)
		}
	})
}

func TestService_Stats(t *testing.T) {
	ctx := context.Background()
	store, conn := newTestEnv(t)

	upsert(t, store, "D1", "embed-v1")
	upsert(t, store, "D2", llm.ModelFallbackV1)
	upsert(t, store, "D3", "embed-v1")
	backdate(t, conn, "D3", 30, 30)

	svc := New(store, &fakeDocStore{}, cache.NewSQLite(conn), testLogger())

	stats, err := svc.Stats(ctx)
	if err != nil {
		t.Fatalf("stats failed: %v", err)
	}
	if stats.TotalVectors != 3 {
		t.Errorf("expected 3 total, got %d", stats.TotalVectors)
	}
	if stats.RecentVectors != 2 {
		t.Errorf("expected 2 recent, got %d", stats.RecentVectors)
	}
	if len(stats.ModelsUsed) != 2 {
		t.Errorf("expected 2 models, got %v", stats.ModelsUsed)
	}
	if len(stats.Dimensions) != 1 || stats.Dimensions[0] != 2 {
		t.Errorf("expected dimensions [2], got %v", stats.Dimensions)
	}
}

func TestService_FallbackIDs(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestEnv(t)

	upsert(t, store, "real", "embed-v1")
	upsert(t, store, "synthetic", llm.ModelFallbackV1)

	svc := New(store, &fakeDocStore{}, nil, testLogger())
	ids, err := svc.FallbackIDs(ctx, 10)
	if err != nil {
		t.Fatalf("fallback ids failed: %v", err)
	}
	if len(ids) != 1 || ids[0] != "synthetic" {
		t.Errorf("expected [synthetic], got %v", ids)
	}
}
