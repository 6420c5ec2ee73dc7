package google

import (
	"sync"
	"time"
)

const (
	breakerClosed = iota
	breakerOpen
	breakerHalfOpen
)

// circuitBreaker stops dialling the backend after repeated failures and lets
// one attempt through once retryAfter has passed.
type circuitBreaker struct {
	mu          sync.Mutex
	maxFailures int
	retryAfter  time.Duration
	failures    int
	lastFailure time.Time
	state       int
	now         func() time.Time
}

func newCircuitBreaker(maxFailures int, retryAfter time.Duration) *circuitBreaker {
	return &circuitBreaker{maxFailures: maxFailures, retryAfter: retryAfter, now: time.Now}
}

func (cb *circuitBreaker) allow() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if cb.state != breakerOpen {
		return true
	}
	if cb.now().Sub(cb.lastFailure) > cb.retryAfter {
		cb.state = breakerHalfOpen
		return true
	}
	return false
}

func (cb *circuitBreaker) recordSuccess() {
	cb.mu.Lock()
	cb.failures = 0
	cb.state = breakerClosed
	cb.mu.Unlock()
}

func (cb *circuitBreaker) recordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.failures++
	cb.lastFailure = cb.now()
	if cb.state == breakerHalfOpen || cb.failures >= cb.maxFailures {
		cb.state = breakerOpen
	}
}
