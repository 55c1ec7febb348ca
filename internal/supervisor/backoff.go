package supervisor

import (
	"math/rand"
	"time"

	"arbflow/config"
)

// Backoff produces reconnect delays that double from a base up to a cap,
// with a bounded random jitter on top. Delays never shrink between calls
// until Reset. The jitter fraction stays below 1 so doubling keeps the
// sequence non-decreasing.
type Backoff struct {
	base    time.Duration
	max     time.Duration
	jitter  float64
	attempt int
	rng     *rand.Rand
}

func NewBackoff(cfg config.BackoffConfig) *Backoff {
	jitter := cfg.Jitter
	if jitter < 0 {
		jitter = 0
	}
	if jitter >= 1 {
		jitter = 0.99
	}
	return &Backoff{
		base:   cfg.Base,
		max:    cfg.Max,
		jitter: jitter,
		rng:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Next returns the delay to wait before the next attempt and advances the
// schedule. The returned value never exceeds the cap.
func (b *Backoff) Next() time.Duration {
	d := b.base << uint(b.attempt)
	if d <= 0 || d > b.max {
		d = b.max
	} else {
		b.attempt++
	}
	if b.jitter > 0 && d < b.max {
		d += time.Duration(b.rng.Float64() * b.jitter * float64(d))
		if d > b.max {
			d = b.max
		}
	}
	return d
}

// Reset restarts the schedule from the base delay. Called after a
// connection has been established.
func (b *Backoff) Reset() {
	b.attempt = 0
}

// Attempts reports how many doublings have been consumed since the last
// reset.
func (b *Backoff) Attempts() int {
	return b.attempt
}
