package sched

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBackoffDoublesUntilCap(t *testing.T) {
	b := NewBackoffWithJitter(30*time.Second, 300*time.Second, noJitter)

	assert.Equal(t, 30*time.Second, b.Delay(1))
	assert.Equal(t, 60*time.Second, b.Delay(2))
	assert.Equal(t, 120*time.Second, b.Delay(3))
	assert.Equal(t, 240*time.Second, b.Delay(4))
	assert.Equal(t, 300*time.Second, b.Delay(5), "capped")
	assert.Equal(t, 300*time.Second, b.Delay(20), "stays capped")
}

func TestBackoffClampsInvalidAttempts(t *testing.T) {
	b := NewBackoffWithJitter(30*time.Second, 300*time.Second, noJitter)

	assert.Equal(t, b.Delay(1), b.Delay(0))
	assert.Equal(t, b.Delay(1), b.Delay(-3))
}

func TestBackoffJitterStaysBelowBase(t *testing.T) {
	b := NewBackoff(30*time.Second, 300*time.Second)

	for i := 0; i < 100; i++ {
		d := b.Delay(2)
		assert.GreaterOrEqual(t, d, 60*time.Second)
		assert.Less(t, d, 90*time.Second, "jitter bounded by one base unit")
	}
}

func TestBackoffJitterFunctionReceivesBase(t *testing.T) {
	var seen time.Duration
	b := NewBackoffWithJitter(30*time.Second, 300*time.Second, func(bound time.Duration) time.Duration {
		seen = bound
		return 5 * time.Second
	})

	assert.Equal(t, 35*time.Second, b.Delay(1))
	assert.Equal(t, 30*time.Second, seen)
}
