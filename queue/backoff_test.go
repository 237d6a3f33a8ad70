package queue

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBackoffDelayZeroForNonPositiveAttempts(t *testing.T) {
	assert.Equal(t, time.Duration(0), BackoffDelay(0, time.Second, time.Minute))
	assert.Equal(t, time.Duration(0), BackoffDelay(-1, time.Second, time.Minute))
}

func TestBackoffDelayStaysWithinJitterBand(t *testing.T) {
	base := 5 * time.Second
	cap := 5 * time.Minute

	for attempt := 1; attempt <= 8; attempt++ {
		target := base * time.Duration(1<<uint(attempt-1))
		if target > cap {
			target = cap
		}
		low := time.Duration(float64(target) * 0.8)
		high := time.Duration(float64(target) * 1.2)

		for i := 0; i < 20; i++ {
			d := BackoffDelay(attempt, base, cap)
			assert.GreaterOrEqual(t, d, time.Duration(0))
			assert.LessOrEqual(t, d, high, "attempt %d: delay %v exceeds jittered high bound %v", attempt, d, high)
			if target < cap {
				assert.GreaterOrEqual(t, d, low, "attempt %d: delay %v below jittered low bound %v", attempt, d, low)
			}
		}
	}
}

func TestBackoffDelayNeverExceedsCapByMuchEvenAtHighAttempts(t *testing.T) {
	base := time.Second
	cap := 10 * time.Second

	for i := 0; i < 20; i++ {
		d := BackoffDelay(100, base, cap)
		assert.LessOrEqual(t, d, time.Duration(float64(cap)*1.2))
	}
}
