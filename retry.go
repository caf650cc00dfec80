package relog

import "time"

const minRetryFloor = time.Millisecond * 500

// retryBackoff is the reconnect delay of a TransportClient. It starts at
// min, doubles on every failure up to max, and after a success settles on
// the midpoint of the range.
type retryBackoff struct {
	min, max time.Duration
	cur      time.Duration
}

func newRetryBackoff(maxRetry time.Duration) *retryBackoff {
	lo := max(minRetryFloor, maxRetry/32)
	if lo > maxRetry {
		lo = maxRetry
	}
	return &retryBackoff{min: lo, max: maxRetry, cur: lo}
}

func (b *retryBackoff) current() time.Duration { return b.cur }

func (b *retryBackoff) success() {
	b.cur = b.min + (b.max-b.min)/2
}

func (b *retryBackoff) failure() {
	b.cur = min(b.cur*2, b.max)
}
