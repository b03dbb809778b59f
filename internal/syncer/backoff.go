package syncer

import "time"

// backoff implements capped exponential retry delays for retriable cycle
// failures.
type backoff struct {
	base time.Duration
	max  time.Duration
	cur  time.Duration
}

func newBackoff(base, max time.Duration) *backoff {
	if base <= 0 {
		base = 5 * time.Second
	}
	if max < base {
		max = base
	}
	return &backoff{base: base, max: max}
}

// next returns the delay before the next retry, doubling up to the cap.
func (b *backoff) next() time.Duration {
	if b.cur == 0 {
		b.cur = b.base
		return b.cur
	}
	b.cur *= 2
	if b.cur > b.max {
		b.cur = b.max
	}
	return b.cur
}

// reset returns the backoff to its initial state after a successful cycle.
func (b *backoff) reset() {
	b.cur = 0
}
