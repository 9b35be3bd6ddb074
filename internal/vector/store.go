package vector

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Store persists one vector per document in the document_vectors table.
// Reads go through the read pool, writes through the single-connection
// write pool.
type Store struct {
	read  *sql.DB
	write *sql.DB
	now   func() time.Time
}

func NewStore(read, write *sql.DB) *Store {
	return &Store{read: read, write: write, now: time.Now}
}

func (s *Store) Upsert(ctx context.Context, entry Entry) error {
	tx, err := s.write.BeginTx(ctx, nil)
	if err != nil {
		return &StoreError{Op: "upsert", Err: err}
	}
	defer func() { _ = tx.Rollback() }()

	if err := upsertTx(ctx, tx, entry, s.now()); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return &StoreError{Op: "upsert", Err: err}
	}
	return nil
}

// UpsertChunk persists a chunk of entries in one transaction: either every
// entry commits or none do.
func (s *Store) UpsertChunk(ctx context.Context, entries []Entry) error {
	if len(entries) == 0 {
		return nil
	}

	tx, err := s.write.BeginTx(ctx, nil)
	if err != nil {
		return &StoreError{Op: "upsert chunk", Err: err}
	}
	defer func() { _ = tx.Rollback() }()

	now := s.now()
	for _, entry := range entries {
		if err := upsertTx(ctx, tx, entry, now); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return &StoreError{Op: "upsert chunk", Err: err}
	}
	return nil
}

func upsertTx(ctx context.Context, tx *sql.Tx, entry Entry, now time.Time) error {
	if entry.Dimension == 0 {
		entry.Dimension = len(entry.Values)
	}
	if entry.Dimension != len(entry.Values) {
		return &DimensionMismatchError{Want: entry.Dimension, Got: len(entry.Values)}
	}

	vectorJSON, err := json.Marshal(entry.Values)
	if err != nil {
		return &StoreError{Op: "upsert", Err: fmt.Errorf("failed to marshal vector: %w", err)}
	}

	var receivedAt any
	if !entry.ReceivedAt.IsZero() {
		receivedAt = entry.ReceivedAt
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO document_vectors
			(document_id, vector, dimension, provider_model, sender, received_at, importance, has_attachments, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(document_id) DO UPDATE SET
			vector = excluded.vector,
			dimension = excluded.dimension,
			provider_model = excluded.provider_model,
			sender = excluded.sender,
			received_at = excluded.received_at,
			importance = excluded.importance,
			has_attachments = excluded.has_attachments,
			updated_at = excluded.updated_at
	`, entry.DocumentID, string(vectorJSON), entry.Dimension, entry.ProviderModel,
		entry.Sender, receivedAt, entry.Importance, entry.HasAttachments, now, now)
	if err != nil {
		return &StoreError{Op: "upsert", Err: err}
	}
	return nil
}

func (s *Store) Get(ctx context.Context, documentID string) (*Vector, bool, error) {
	var v Vector
	var vectorJSON string
	var createdAt, updatedAt time.Time

	err := s.read.QueryRowContext(ctx, `
		SELECT document_id, vector, dimension, provider_model, created_at, updated_at
		FROM document_vectors WHERE document_id = ?
	`, documentID).Scan(&v.DocumentID, &vectorJSON, &v.Dimension, &v.ProviderModel, &createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, &StoreError{Op: "get", Err: err}
	}

	if err := json.Unmarshal([]byte(vectorJSON), &v.Values); err != nil {
		return nil, false, &StoreError{Op: "get", Err: fmt.Errorf("failed to unmarshal vector: %w", err)}
	}
	if len(v.Values) != v.Dimension {
		return nil, false, &DimensionMismatchError{Want: v.Dimension, Got: len(v.Values)}
	}

	v.CreatedAt = createdAt
	v.UpdatedAt = updatedAt
	return &v, true, nil
}

func (s *Store) Delete(ctx context.Context, documentID string) error {
	_, err := s.write.ExecContext(ctx, `DELETE FROM document_vectors WHERE document_id = ?`, documentID)
	if err != nil {
		return &StoreError{Op: "delete", Err: err}
	}
	return nil
}

func (s *Store) DeleteByIDs(ctx context.Context, ids []string) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}

	placeholders := make([]string, len(ids))
	args := make([]any, len(ids))
	for i, id := range ids {
		placeholders[i] = "?"
		args[i] = id
	}

	result, err := s.write.ExecContext(ctx, fmt.Sprintf(
		`DELETE FROM document_vectors WHERE document_id IN (%s)`,
		strings.Join(placeholders, ","),
	), args...)
	if err != nil {
		return 0, &StoreError{Op: "delete batch", Err: err}
	}
	return result.RowsAffected()
}

// QueryCandidates returns documents matching the metadata filter, most
// recent first, capped at limit. The store does no similarity math; the
// caller oversamples and re-ranks.
func (s *Store) QueryCandidates(ctx context.Context, filter Filter, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 10
	}

	where, args := buildFilter(filter)
	query := fmt.Sprintf(`
		SELECT document_id, vector, dimension, provider_model, sender, received_at,
		       importance, has_attachments, created_at, updated_at
		FROM document_vectors
		%s
		ORDER BY received_at DESC, updated_at DESC
		LIMIT ?
	`, where)
	args = append(args, limit)

	rows, err := s.read.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, &StoreError{Op: "query candidates", Err: err}
	}
	defer rows.Close()

	var candidates []Entry
	for rows.Next() {
		var c Entry
		var vectorJSON string
		var receivedAt sql.NullTime

		err := rows.Scan(&c.DocumentID, &vectorJSON, &c.Dimension, &c.ProviderModel,
			&c.Sender, &receivedAt, &c.Importance, &c.HasAttachments, &c.CreatedAt, &c.UpdatedAt)
		if err != nil {
			return nil, &StoreError{Op: "query candidates", Err: err}
		}

		if err := json.Unmarshal([]byte(vectorJSON), &c.Values); err != nil {
			return nil, &StoreError{Op: "query candidates", Err: fmt.Errorf("failed to unmarshal vector: %w", err)}
		}
		if len(c.Values) != c.Vector.Dimension {
			return nil, &DimensionMismatchError{Want: c.Vector.Dimension, Got: len(c.Values)}
		}
		if receivedAt.Valid {
			c.ReceivedAt = receivedAt.Time
		}

		candidates = append(candidates, c)
	}
	if err := rows.Err(); err != nil {
		return nil, &StoreError{Op: "query candidates", Err: err}
	}

	return candidates, nil
}

func buildFilter(filter Filter) (string, []any) {
	var conds []string
	var args []any

	if len(filter.Senders) > 0 {
		placeholders := make([]string, len(filter.Senders))
		for i, sender := range filter.Senders {
			placeholders[i] = "?"
			args = append(args, sender)
		}
		conds = append(conds, fmt.Sprintf("sender IN (%s)", strings.Join(placeholders, ",")))
	}
	if filter.ReceivedAfter != nil {
		conds = append(conds, "received_at >= ?")
		args = append(args, *filter.ReceivedAfter)
	}
	if filter.ReceivedBefore != nil {
		conds = append(conds, "received_at <= ?")
		args = append(args, *filter.ReceivedBefore)
	}
	if filter.Importance != "" {
		conds = append(conds, "importance = ?")
		args = append(args, filter.Importance)
	}
	if filter.HasAttachments != nil {
		conds = append(conds, "has_attachments = ?")
		args = append(args, *filter.HasAttachments)
	}

	if len(conds) == 0 {
		return "", args
	}
	return "WHERE " + strings.Join(conds, " AND "), args
}

func (s *Store) Count(ctx context.Context) (int, error) {
	var count int
	err := s.read.QueryRowContext(ctx, `SELECT COUNT(*) FROM document_vectors`).Scan(&count)
	if err != nil {
		return 0, &StoreError{Op: "count", Err: err}
	}
	return count, nil
}

func (s *Store) CountUpdatedSince(ctx context.Context, since time.Time) (int, error) {
	var count int
	err := s.read.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM document_vectors WHERE updated_at >= ?`, since).Scan(&count)
	if err != nil {
		return 0, &StoreError{Op: "count updated", Err: err}
	}
	return count, nil
}

func (s *Store) Models(ctx context.Context) ([]string, error) {
	rows, err := s.read.QueryContext(ctx,
		`SELECT DISTINCT provider_model FROM document_vectors ORDER BY provider_model`)
	if err != nil {
		return nil, &StoreError{Op: "models", Err: err}
	}
	defer rows.Close()

	var models []string
	for rows.Next() {
		var m string
		if err := rows.Scan(&m); err != nil {
			return nil, &StoreError{Op: "models", Err: err}
		}
		models = append(models, m)
	}
	return models, rows.Err()
}

func (s *Store) Dimensions(ctx context.Context) ([]int, error) {
	rows, err := s.read.QueryContext(ctx,
		`SELECT DISTINCT dimension FROM document_vectors ORDER BY dimension`)
	if err != nil {
		return nil, &StoreError{Op: "dimensions", Err: err}
	}
	defer rows.Close()

	var dims []int
	for rows.Next() {
		var d int
		if err := rows.Scan(&d); err != nil {
			return nil, &StoreError{Op: "dimensions", Err: err}
		}
		dims = append(dims, d)
	}
	return dims, rows.Err()
}

// IDsByModel lists documents whose vector came from the given provider
// model, oldest first. Used to requeue fallback vectors for re-embedding.
func (s *Store) IDsByModel(ctx context.Context, model string, limit int) ([]string, error) {
	rows, err := s.read.QueryContext(ctx, `
		SELECT document_id FROM document_vectors
		WHERE provider_model = ?
		ORDER BY updated_at ASC
		LIMIT ?
	`, model, limit)
	if err != nil {
		return nil, &StoreError{Op: "ids by model", Err: err}
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, &StoreError{Op: "ids by model", Err: err}
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// Ages lists every stored document ID with its vector timestamps, for the
// maintenance retention pass.
type Age struct {
	DocumentID string
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

func (s *Store) Ages(ctx context.Context) ([]Age, error) {
	rows, err := s.read.QueryContext(ctx,
		`SELECT document_id, created_at, updated_at FROM document_vectors`)
	if err != nil {
		return nil, &StoreError{Op: "ages", Err: err}
	}
	defer rows.Close()

	var ages []Age
	for rows.Next() {
		var a Age
		if err := rows.Scan(&a.DocumentID, &a.CreatedAt, &a.UpdatedAt); err != nil {
			return nil, &StoreError{Op: "ages", Err: err}
		}
		ages = append(ages, a)
	}
	return ages, rows.Err()
}
