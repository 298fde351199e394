package engine

import (
	"math"
	"math/rand"
	"time"
)

// BackoffConfig controls the delay between attempts.
type BackoffConfig struct {
	// Initial is the delay before the first retry.
	Initial time.Duration
	// Max caps the delay between retries.
	Max time.Duration
	// Multiplier is the factor by which the delay grows after each retry.
	Multiplier float64
	// Jitter is the symmetric randomization fraction applied to each delay.
	// A value of 0.2 varies the delay by up to 20% in either direction.
	Jitter float64
}

// DefaultBackoff returns the standard retry schedule: 100ms doubling up to 5s
// with 20% jitter.
func DefaultBackoff() BackoffConfig {
	return BackoffConfig{
		Initial:    100 * time.Millisecond,
		Max:        5 * time.Second,
		Multiplier: 2.0,
		Jitter:     0.2,
	}
}

// Delay computes the backoff before the given retry. retry is 1-based: the
// delay before the first retry is Initial.
func (c BackoffConfig) Delay(retry int) time.Duration {
	if retry < 1 {
		retry = 1
	}
	backoff := float64(c.Initial) * math.Pow(c.Multiplier, float64(retry-1))
	if backoff > float64(c.Max) {
		backoff = float64(c.Max)
	}
	if c.Jitter > 0 {
		jitter := backoff * c.Jitter * (rand.Float64()*2 - 1) //nolint:gosec // jitter doesn't need crypto rand
		backoff += jitter
	}
	return time.Duration(backoff)
}
