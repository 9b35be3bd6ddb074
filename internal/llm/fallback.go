package llm

import (
	"math"
	"strings"

	"github.com/inboxkit/semdex/internal/metrics"
)

// ModelFallbackV1 tags vectors produced without the provider. Tagged
// vectors are identifiable so maintenance can queue them for re-embedding
// once the provider recovers.
const ModelFallbackV1 = "fallback-v1"

// FallbackDimension is reserved for synthesized vectors. It deliberately
// differs from any real provider dimension so fallback vectors are only
// ever compared among themselves.
const FallbackDimension = 256

// Synthesize derives a shape-compatible vector from content statistics:
// text length, unique-word ratio and a rolling hash of the runes. The
// result is not semantically meaningful, but it is deterministic, bounded
// and L2-normalized, so downstream ranking stays well-defined while the
// provider is rate-limited or down.
func Synthesize(text string) []float64 {
	vector := make([]float64, FallbackDimension)

	words := strings.Fields(strings.ToLower(text))
	unique := make(map[string]struct{}, len(words))
	for _, w := range words {
		unique[w] = struct{}{}
	}

	diversity := 0.0
	if len(words) > 0 {
		diversity = float64(len(unique)) / float64(len(words))
	}
	length := float64(len(text))

	var rolling uint64 = 1469598103934665603
	for _, r := range text {
		rolling = (rolling*31 + uint64(r)) * 1099511628211
	}

	for i := range vector {
		h := mix(rolling + uint64(i)*0x9e3779b97f4a7c15)
		// Map the hash into [-1, 1) and modulate by the content stats so
		// texts of similar shape land in the same general region.
		base := float64(h%2000000)/1000000 - 1
		vector[i] = base + 0.1*diversity*math.Sin(float64(i)+length)
	}

	normalizeL2(vector)

	metrics.FallbackVectors.Inc()
	return vector
}

// mix is a splitmix64 finalizer step.
func mix(x uint64) uint64 {
	x ^= x >> 30
	x *= 0xbf58476d1ce4e5b9
	x ^= x >> 27
	x *= 0x94d049bb133111eb
	x ^= x >> 31
	return x
}

func normalizeL2(v []float64) {
	var norm float64
	for _, x := range v {
		norm += x * x
	}
	norm = math.Sqrt(norm)
	if norm == 0 {
		return
	}
	for i := range v {
		v[i] /= norm
	}
}
