package semdex

import (
	"github.com/inboxkit/semdex/internal/llm"
	"github.com/inboxkit/semdex/internal/vector"
)

// Error classifiers for hosts that branch on failure category without
// depending on internal error types.

// IsInvalidInput reports a document or query the caller must fix, such as
// content that is empty after normalization.
func IsInvalidInput(err error) bool { return llm.IsInvalidInput(err) }

// IsUnauthorized reports a provider credential problem. These are never
// masked by fallback vectors or degraded results.
func IsUnauthorized(err error) bool { return llm.IsUnauthorized(err) }

// IsRateLimited reports provider throttling.
func IsRateLimited(err error) bool { return llm.IsRateLimited(err) }

// IsUnavailable reports a provider outage, timeout or network failure.
func IsUnavailable(err error) bool { return llm.IsUnavailable(err) }

// IsDimensionMismatch reports vectors from incompatible embedding spaces.
func IsDimensionMismatch(err error) bool { return vector.IsDimensionMismatch(err) }

// IsStoreError reports a persistence failure.
func IsStoreError(err error) bool { return vector.IsStoreError(err) }
