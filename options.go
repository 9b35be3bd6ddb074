package semdex

import (
	"database/sql"
	"errors"
	"log/slog"

	"github.com/inboxkit/semdex/internal/db"
)

// Option customizes an Engine at Open time.
type Option func(*Engine) error

// WithDB reuses connections the host already holds instead of opening a
// new pool. The engine will not close them.
func WithDB(read, write *sql.DB) Option {
	return func(e *Engine) error {
		if read == nil || write == nil {
			return errors.New("read and write handles are required")
		}
		e.pool = &db.DualPool{Read: read, Write: write}
		e.ownsPool = false
		return nil
	}
}

// WithEmbedder replaces the bundled provider client.
func WithEmbedder(embedder Embedder) Option {
	return func(e *Engine) error {
		if embedder == nil {
			return errors.New("embedder is required")
		}
		e.embedder = embedder
		return nil
	}
}

// WithLogger replaces the default JSON logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) error {
		if logger == nil {
			return errors.New("logger is required")
		}
		e.logger = logger
		return nil
	}
}
