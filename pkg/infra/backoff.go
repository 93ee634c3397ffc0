package infra

import (
	"math/rand"
	"sync"
	"time"
)

// Backoff produces exponentially growing wait times with random jitter.
// The daemon uses one instance to pace retries after failed sync cycles
// and broker reconnect attempts; jitter keeps independent processes from
// hammering a recovering dependency in lockstep.
type Backoff struct {
	minDelay   time.Duration
	maxDelay   time.Duration
	multiplier float64
	current    time.Duration
	attempts   int
	mu         sync.Mutex
}

// NewBackoff starts the schedule at min and multiplies each wait by mult,
// capped at max
func NewBackoff(min, max time.Duration, mult float64) *Backoff {
	return &Backoff{
		minDelay:   min,
		maxDelay:   max,
		multiplier: mult,
		current:    min,
	}
}

// Next returns the wait for this attempt and advances the schedule.
// The returned value carries up to ±20% jitter but never drops below
// the configured minimum.
func (b *Backoff) Next() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.attempts++

	jitter := time.Duration((rand.Float64()*0.4 - 0.2) * float64(b.current))
	wait := max(b.current+jitter, b.minDelay)

	b.current = min(time.Duration(float64(b.current)*b.multiplier), b.maxDelay)

	return wait
}

// Reset drops the schedule back to the minimum delay after a success
func (b *Backoff) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.current = b.minDelay
	b.attempts = 0
}

// Attempts reports how many waits were handed out since the last Reset
func (b *Backoff) Attempts() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.attempts
}
