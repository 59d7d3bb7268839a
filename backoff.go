package iotmqtt

import "time"

// BackoffStrategy computes the delay before the next reconnect attempt.
// It receives the attempt number (1-based), the previous delay (zero for the
// first attempt) and the error that ended the last connection.
type BackoffStrategy func(attempt int, previous time.Duration, err error) time.Duration

const (
	defaultInitialBackoff = time.Second
	defaultMaxBackoff     = 60 * time.Second
)

// ExponentialBackoff starts at initial, doubles on every attempt and is
// capped at maxDelay.
func ExponentialBackoff(initial, maxDelay time.Duration) BackoffStrategy {
	return func(_ int, previous time.Duration, _ error) time.Duration {
		next := initial
		if previous > 0 {
			next = previous * 2
		}
		if next > maxDelay {
			next = maxDelay
		}
		return next
	}
}

// reconnectBackoff tracks consecutive reconnect attempts for a session.
type reconnectBackoff struct {
	strategy BackoffStrategy
	maxDelay time.Duration
	attempts int
	delay    time.Duration
}

func newReconnectBackoff(strategy BackoffStrategy, maxDelay time.Duration) *reconnectBackoff {
	return &reconnectBackoff{strategy: strategy, maxDelay: maxDelay}
}

// next schedules another attempt and returns its number and delay.
func (b *reconnectBackoff) next(err error) (int, time.Duration) {
	b.attempts++
	d := b.strategy(b.attempts, b.delay, err)
	if d < 0 {
		d = 0
	}
	if b.maxDelay > 0 && d > b.maxDelay {
		d = b.maxDelay
	}
	b.delay = d
	return b.attempts, d
}

// reset is called once a connection is accepted.
func (b *reconnectBackoff) reset() {
	b.attempts = 0
	b.delay = 0
}
