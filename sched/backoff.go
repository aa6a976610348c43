package sched

import (
	"math/rand"
	"time"
)

// Backoff computes retry delays: base * 2^(attempt-1), capped, plus uniform
// jitter in [0, base) so many jobs failing at once do not re-attempt in
// lockstep.
type Backoff struct {
	Base time.Duration
	Cap  time.Duration

	jitter func(bound time.Duration) time.Duration
}

// NewBackoff creates a backoff policy with randomized jitter.
func NewBackoff(base, cap time.Duration) Backoff {
	return Backoff{
		Base:   base,
		Cap:    cap,
		jitter: randomJitter,
	}
}

// NewBackoffWithJitter creates a backoff policy with an injectable jitter
// function (for testing).
func NewBackoffWithJitter(base, cap time.Duration, jitter func(time.Duration) time.Duration) Backoff {
	return Backoff{Base: base, Cap: cap, jitter: jitter}
}

// Delay returns the wait before the next run after `attempts` completed
// execution attempts (attempts >= 1). The exponential term grows
// monotonically and jitter stays below one base unit, so successive run_at
// values strictly increase.
func (b Backoff) Delay(attempts int) time.Duration {
	if attempts < 1 {
		attempts = 1
	}

	d := b.Base
	for i := 1; i < attempts; i++ {
		d *= 2
		if d >= b.Cap {
			d = b.Cap
			break
		}
	}
	if d > b.Cap {
		d = b.Cap
	}

	if b.jitter != nil {
		d += b.jitter(b.Base)
	}
	return d
}

func randomJitter(bound time.Duration) time.Duration {
	if bound <= 0 {
		return 0
	}
	return time.Duration(rand.Int63n(int64(bound)))
}
