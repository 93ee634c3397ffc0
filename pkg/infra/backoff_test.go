package infra

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBackoffGrowsTowardsMax(t *testing.T) {
	b := NewBackoff(100*time.Millisecond, 1*time.Second, 2.0)

	var last time.Duration
	for i := 0; i < 10; i++ {
		last = b.Next()
		assert.GreaterOrEqual(t, last, 80*time.Millisecond, "jitter must stay above -20%% of current")
	}

	// After many attempts the current delay is capped; jitter may add up
	// to 20% on top of it
	assert.LessOrEqual(t, last, 1200*time.Millisecond)
	assert.Equal(t, 10, b.Attempts())
}

func TestBackoffReset(t *testing.T) {
	b := NewBackoff(10*time.Millisecond, 1*time.Second, 3.0)

	for i := 0; i < 5; i++ {
		b.Next()
	}
	b.Reset()

	assert.Zero(t, b.Attempts())
	first := b.Next()
	assert.LessOrEqual(t, first, 12*time.Millisecond)
}

func TestBackoffNeverBelowMinimum(t *testing.T) {
	b := NewBackoff(50*time.Millisecond, 200*time.Millisecond, 1.5)

	for i := 0; i < 20; i++ {
		assert.GreaterOrEqual(t, b.Next(), 50*time.Millisecond)
	}
}
