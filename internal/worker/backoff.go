package worker

import (
	"math/rand"
	"time"
)

type BackoffConfig struct {
	BaseDelay time.Duration
	MaxDelay  time.Duration
}

var DefaultBackoffConfig = BackoffConfig{
	BaseDelay: 100 * time.Millisecond,
	MaxDelay:  30 * time.Second,
}

// FullJitter returns an exponentially growing wait spread over
// [exp/2, 3*exp/2) so concurrent retries do not synchronize.
func FullJitter(attempt int, cfg BackoffConfig) time.Duration {
	if attempt <= 0 {
		return cfg.BaseDelay
	}

	exp := min(cfg.BaseDelay*time.Duration(1<<attempt), cfg.MaxDelay)

	jitter := time.Duration(rand.Int63n(int64(exp)))

	return exp/2 + jitter
}
