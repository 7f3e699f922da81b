package connection

import (
	"sync"
	"time"
)

type breakerState int

const (
	breakerClosed breakerState = iota
	breakerOpen
	breakerHalfOpen
)

func (s breakerState) String() string {
	switch s {
	case breakerOpen:
		return "open"
	case breakerHalfOpen:
		return "half-open"
	default:
		return "closed"
	}
}

// breaker tracks consecutive transport-level failures. When the count
// reaches the threshold it opens for a cool-down window; the first call
// after the window is let through as a half-open probe whose outcome
// closes or reopens the breaker.
type breaker struct {
	mu        sync.Mutex
	threshold int
	cooldown  time.Duration
	now       func() time.Time

	state    breakerState
	failures int
	openedAt time.Time
}

func newBreaker(threshold int, cooldown time.Duration) *breaker {
	return &breaker{
		threshold: threshold,
		cooldown:  cooldown,
		now:       time.Now,
	}
}

// allow reports whether a call may proceed. While open it fails with
// CircuitOpenError until the cool-down elapses, then admits exactly one
// half-open probe; concurrent calls during the probe stay rejected.
func (b *breaker) allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case breakerClosed:
		return nil
	case breakerOpen:
		retryAt := b.openedAt.Add(b.cooldown)
		if b.now().Before(retryAt) {
			return &CircuitOpenError{RetryAt: retryAt}
		}
		b.state = breakerHalfOpen
		return nil
	default: // half-open, probe already in flight
		return &CircuitOpenError{RetryAt: b.openedAt.Add(b.cooldown)}
	}
}

// success resets the failure count and closes the breaker.
func (b *breaker) success() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures = 0
	b.state = breakerClosed
}

// abortProbe releases the half-open probe slot without judging the host.
// The breaker returns to open with its original cool-down, which has
// already elapsed, so the next call is admitted as a fresh probe. Outside
// half-open it is a no-op.
func (b *breaker) abortProbe() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == breakerHalfOpen {
		b.state = breakerOpen
	}
}

// failure records a transport-level failure. A failed half-open probe
// reopens immediately; otherwise the breaker opens once the consecutive
// count reaches the threshold.
func (b *breaker) failure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failures++
	if b.state == breakerHalfOpen || b.failures >= b.threshold {
		b.state = breakerOpen
		b.openedAt = b.now()
	}
}

// snapshot returns the current state and failure count for logging.
func (b *breaker) snapshot() (breakerState, int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state, b.failures
}
