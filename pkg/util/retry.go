package util

import (
	"context"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/lazybeaver/xorshift"
)

// Backoff computes jittered retry delays for transient object-store
// errors (S3/Azure/GCS throttling, connection resets). Delays grow
// geometrically up to a maximum, with up to 50% jitter drawn from a
// xorshift PRNG so that many concurrent retries do not collide.
type Backoff struct {
	clk        clock.Clock
	rng        xorshift.Xorshift64
	attempt    int
	base       time.Duration
	max        time.Duration
	maxRetries int
}

// NewBackoff creates a Backoff starting at base and capped at max,
// giving up after maxRetries attempts.
func NewBackoff(clk clock.Clock, base, max time.Duration, maxRetries int) *Backoff {
	seed := uint64(clk.Now().UnixNano()) | 1
	return &Backoff{
		clk:        clk,
		rng:        xorshift.Xorshift64(seed),
		base:       base,
		max:        max,
		maxRetries: maxRetries,
	}
}

// Next returns the delay before the next attempt, and false once the
// retry budget is exhausted.
func (b *Backoff) Next() (time.Duration, bool) {
	if b.attempt >= b.maxRetries {
		return 0, false
	}
	b.attempt++

	delay := b.base << uint(b.attempt-1)
	if delay > b.max || delay <= 0 {
		delay = b.max
	}

	b.rng = b.rng.Next().(xorshift.Xorshift64)
	jitter := time.Duration(uint64(b.rng) % uint64(delay/2+1))
	return delay/2 + jitter, true
}

// Sleep waits for the given delay, respecting context cancellation.
func (b *Backoff) Sleep(ctx context.Context, delay time.Duration) error {
	t := b.clk.Timer(delay)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
