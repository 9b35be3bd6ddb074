package vector

import "time"

// Vector is the single active embedding for a document. Upsert semantics:
// at most one row per document ID.
type Vector struct {
	DocumentID    string
	Values        []float64
	Dimension     int
	ProviderModel string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Metadata carries the filterable document attributes stored alongside
// the vector. The embedding subsystem never writes back to the document
// store; this is a denormalized copy for candidate filtering.
type Metadata struct {
	Sender         string
	ReceivedAt     time.Time
	Importance     string
	HasAttachments bool
}

// Filter is a conjunction of constraints applied to candidates before
// similarity scoring. Zero values leave a constraint unset.
type Filter struct {
	Senders        []string
	ReceivedAfter  *time.Time
	ReceivedBefore *time.Time
	Importance     string
	HasAttachments *bool
}

// Entry is one document's vector plus the metadata stored for filtering
// and re-ranking.
type Entry struct {
	Vector
	Metadata
}

type SearchResult struct {
	DocumentID string
	Similarity float64
}

// Results is always returned by the search engine, possibly empty.
// Degraded marks result sets produced by the recency-only path while the
// vector pipeline was unavailable.
type Results struct {
	Hits     []SearchResult
	Degraded bool
}
