package db

import (
	"context"
	"database/sql"
	"testing"

	_ "github.com/mattn/go-sqlite3"
)

func TestRunMigrations(t *testing.T) {
	conn, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("failed to open db: %v", err)
	}
	defer conn.Close()

	if err := RunMigrations(context.Background(), conn); err != nil {
		t.Fatalf("migrations failed: %v", err)
	}

	// Re-running must be a no-op.
	if err := RunMigrations(context.Background(), conn); err != nil {
		t.Fatalf("re-running migrations failed: %v", err)
	}

	for _, table := range []string{"document_vectors", "embedding_cache"} {
		var name string
		err := conn.QueryRow(
			`SELECT name FROM sqlite_master WHERE type = 'table' AND name = ?`, table,
		).Scan(&name)
		if err != nil {
			t.Errorf("expected table %s to exist: %v", table, err)
		}
	}
}

func TestNewDualPool(t *testing.T) {
	pool, err := NewDualPool("sqlite3", t.TempDir()+"/test.db", WithReadPoolSize(4, 2))
	if err != nil {
		t.Fatalf("failed to create pool: %v", err)
	}
	defer pool.Close()

	if err := pool.Read.Ping(); err != nil {
		t.Errorf("read pool ping failed: %v", err)
	}
	if err := pool.Write.Ping(); err != nil {
		t.Errorf("write pool ping failed: %v", err)
	}

	var mode string
	if err := pool.Write.QueryRow("PRAGMA journal_mode").Scan(&mode); err != nil {
		t.Fatalf("failed to read journal_mode: %v", err)
	}
	if mode != "wal" {
		t.Errorf("expected journal_mode wal, got %s", mode)
	}
}
