package station

import (
	"sync"
	"time"
)

const (
	// DefaultFailureThreshold is the consecutive transport failure count
	// that trips the breaker.
	DefaultFailureThreshold = 3
	// DefaultInitialBackoff is the first open interval after a trip.
	DefaultInitialBackoff = 5 * time.Second
	// DefaultMaxBackoff caps the exponential backoff growth.
	DefaultMaxBackoff = 5 * time.Minute
)

// Breaker is the station circuit breaker. While closed it forwards calls;
// after a streak of transport failures it opens and fails fast, probing
// again after an exponentially growing backoff.
type Breaker struct {
	mu        sync.Mutex
	threshold int
	initial   time.Duration
	max       time.Duration

	failures int
	open     bool
	halfOpen bool
	backoff  time.Duration
	reopenAt time.Time
	now      func() time.Time
}

// NewBreaker returns a Breaker with the given tuning. Non-positive values
// fall back to the defaults.
func NewBreaker(threshold int, initial, max time.Duration) *Breaker {
	if threshold <= 0 {
		threshold = DefaultFailureThreshold
	}
	if initial <= 0 {
		initial = DefaultInitialBackoff
	}
	if max <= 0 {
		max = DefaultMaxBackoff
	}
	return &Breaker{
		threshold: threshold,
		initial:   initial,
		max:       max,
		backoff:   initial,
		now:       time.Now,
	}
}

// Allow reports whether a call may go to the wire. When the open interval
// has expired the breaker closes for a probe call; if that probe fails the
// breaker re-opens with a doubled backoff.
func (b *Breaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.open {
		return true
	}
	if b.now().Before(b.reopenAt) {
		return false
	}
	b.open = false
	b.halfOpen = true
	return true
}

// IsOpen reports whether the breaker currently fails fast.
func (b *Breaker) IsOpen() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.open && b.now().Before(b.reopenAt)
}

// Success records a successful wire call, closing the breaker fully and
// resetting the failure streak and the backoff.
func (b *Breaker) Success() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures = 0
	b.halfOpen = false
	b.backoff = b.initial
}

// Failure records a transport-level failure. A failed probe re-opens
// immediately with a doubled backoff; otherwise the streak counter trips the
// breaker when it reaches the threshold.
func (b *Breaker) Failure() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.halfOpen {
		b.halfOpen = false
		b.backoff = min(2*b.backoff, b.max)
		b.trip()
		return
	}
	b.failures++
	if b.failures >= b.threshold {
		b.trip()
	}
}

// trip opens the breaker for the current backoff interval. Called with the
// lock held.
func (b *Breaker) trip() {
	b.open = true
	b.failures = 0
	b.reopenAt = b.now().Add(b.backoff)
}
