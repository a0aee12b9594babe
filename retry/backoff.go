package retry

import (
	"math"
	"math/rand/v2"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/arloliu/shardgate/types"
)

// Backoff returns the delay after failed attempt number attempt (zero-based):
// min(initial * multiplier^attempt, max). Jitter is not applied.
func Backoff(cfg types.RetryConfig, attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}

	mult := cfg.Multiplier
	if mult < 1 {
		mult = 1
	}

	delay := float64(cfg.InitialBackoff) * math.Pow(mult, float64(attempt))
	if cfg.MaxBackoff > 0 && delay > float64(cfg.MaxBackoff) {
		return cfg.MaxBackoff
	}
	if delay > math.MaxInt64 {
		return time.Duration(math.MaxInt64)
	}

	return time.Duration(delay)
}

// Jittered returns Backoff scaled by a uniform factor in [0.5, 1.0] when
// cfg.Jitter is set. rnd returns values in [0, 1); nil uses math/rand/v2.
func Jittered(cfg types.RetryConfig, attempt int, rnd func() float64) time.Duration {
	delay := Backoff(cfg, attempt)
	if !cfg.Jitter {
		return delay
	}
	if rnd == nil {
		rnd = rand.Float64
	}

	return time.Duration(float64(delay) * (0.5 + 0.5*rnd()))
}

// policy adapts a RetryConfig to backoff.BackOff.
type policy struct {
	cfg     types.RetryConfig
	rnd     func() float64
	attempt int
}

var _ backoff.BackOff = (*policy)(nil)

func newPolicy(cfg types.RetryConfig, rnd func() float64) *policy {
	return &policy{cfg: cfg, rnd: rnd}
}

// NextBackOff returns the delay before the next attempt.
func (p *policy) NextBackOff() time.Duration {
	d := Jittered(p.cfg, p.attempt, p.rnd)
	p.attempt++

	return d
}

// Reset restarts the sequence.
func (p *policy) Reset() {
	p.attempt = 0
}
