package asr

import "time"

// backoff yields exponentially growing reconnect delays. A window is a run
// of consecutive failures; it is exhausted after maxRetries attempts.
type backoff struct {
	initial    time.Duration
	max        time.Duration
	maxRetries int
	attempt    int
}

func newBackoff(initial, max time.Duration, maxRetries int) *backoff {
	if initial <= 0 {
		initial = 500 * time.Millisecond
	}
	if max < initial {
		max = initial
	}
	return &backoff{initial: initial, max: max, maxRetries: maxRetries}
}

// Next returns the delay before the next attempt and whether this failure
// exhausted the current window.
func (b *backoff) Next() (time.Duration, bool) {
	b.attempt++
	delay := b.initial
	for i := 1; i < b.attempt && delay < b.max; i++ {
		delay *= 2
	}
	if delay > b.max {
		delay = b.max
	}
	exhausted := b.maxRetries > 0 && b.attempt >= b.maxRetries
	return delay, exhausted
}

// Reset starts a new window.
func (b *backoff) Reset() {
	b.attempt = 0
}

// Attempts is the number of failures in the current window.
func (b *backoff) Attempts() int {
	return b.attempt
}
