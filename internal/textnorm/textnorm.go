// Package textnorm prepares raw document text for embedding: it strips
// markup, collapses whitespace and enforces the provider character budget.
package textnorm

import (
	"encoding/hex"
	"html"
	"regexp"
	"strings"

	"github.com/microcosm-cc/bluemonday"
	"golang.org/x/crypto/blake2b"
)

// MaxChars is the hard cutoff applied after stripping. It leaves a safety
// margin under the provider's token limit.
const MaxChars = 8000

var (
	stripPolicy = bluemonday.StrictPolicy()
	whitespace  = regexp.MustCompile(`\s+`)
)

// Normalize strips tag-like markup, collapses runs of whitespace to single
// spaces, trims and truncates to MaxChars runes. Deterministic and
// idempotent; empty or whitespace-only input yields "".
func Normalize(raw string) string {
	if raw == "" {
		return ""
	}

	s := stripPolicy.Sanitize(raw)
	s = html.UnescapeString(s)
	s = whitespace.ReplaceAllString(s, " ")
	s = strings.TrimSpace(s)

	if runes := []rune(s); len(runes) > MaxChars {
		s = strings.TrimSpace(string(runes[:MaxChars]))
	}

	return s
}

// ContentHash returns the hex-encoded BLAKE2b-256 digest of normalized
// content. Identical content across documents shares one hash, so cache
// entries are keyed by content rather than by document.
func ContentHash(normalized string) string {
	sum := blake2b.Sum256([]byte(normalized))
	return hex.EncodeToString(sum[:])
}
