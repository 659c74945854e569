package reconcile

import "time"

// DefaultReconnectDelay is the fixed pause between reconnect attempts.
// Reconnection is deliberately non-exponential: viewers recover via a
// full resync, so hammering avoidance matters less than predictable
// recovery time.
const DefaultReconnectDelay = 5 * time.Second

// Backoff is the reconnect pacing state machine, decoupled from the
// transport so it can be tested without a network.
type Backoff struct {
	delay    time.Duration
	attempts int
}

// NewBackoff returns a fixed-delay backoff. A non-positive delay falls
// back to the default.
func NewBackoff(delay time.Duration) *Backoff {
	if delay <= 0 {
		delay = DefaultReconnectDelay
	}
	return &Backoff{delay: delay}
}

// Next records an attempt and returns how long to wait before it.
func (b *Backoff) Next() time.Duration {
	b.attempts++
	return b.delay
}

// Reset clears the attempt counter after a successful connection.
func (b *Backoff) Reset() {
	b.attempts = 0
}

// Attempts returns the number of reconnects tried since the last reset.
func (b *Backoff) Attempts() int {
	return b.attempts
}
