// File: internal/client/backoff.go
package client

import (
	"math"
	"math/rand/v2"
	"time"
)

// Backoff schedules reconnection attempts. Delays double from Base, gain up
// to Jitter of random slack, never exceed Max and never shrink between
// consecutive attempts. A zero Max leaves the delay uncapped.
type Backoff struct {
	Base        time.Duration
	Max         time.Duration
	Jitter      time.Duration
	MaxAttempts int

	// Rand returns a value in [0, 1). Nil uses math/rand.
	Rand func() float64
}

func DefaultBackoff() Backoff {
	return Backoff{
		Base:        500 * time.Millisecond,
		Max:         15 * time.Second,
		Jitter:      250 * time.Millisecond,
		MaxAttempts: 6,
	}
}

// Next returns the delay before attempt (0-based) given the previous delay.
func (b Backoff) Next(attempt int, prev time.Duration) time.Duration {
	d := b.Base
	for i := 0; i < attempt && (b.Max <= 0 || d < b.Max) && d <= math.MaxInt64/2; i++ {
		d *= 2
	}
	if b.Jitter > 0 {
		r := b.Rand
		if r == nil {
			r = rand.Float64
		}
		d += time.Duration(r() * float64(b.Jitter))
	}
	if b.Max > 0 && d > b.Max {
		d = b.Max
	}
	if d < prev {
		d = prev
	}
	return d
}

// Exhausted reports whether attempt is past the retry budget.
func (b Backoff) Exhausted(attempt int) bool {
	return attempt >= b.MaxAttempts
}
