package dispatch

import (
	"context"
	"math/rand/v2"
	"sync"
	"time"
)

// Delayer simulates network latency before a request is admitted.
type Delayer interface {
	Wait(ctx context.Context) error
}

// NoDelay admits requests immediately.
type NoDelay struct{}

func (NoDelay) Wait(ctx context.Context) error {
	return ctx.Err()
}

// RandomDelay waits a uniformly distributed duration within fixed bounds.
type RandomDelay struct {
	min time.Duration
	max time.Duration

	mu  sync.Mutex
	rng *rand.Rand
}

// NewRandomDelay builds a RandomDelay. Bounds are swapped when reversed and
// clamped at zero.
func NewRandomDelay(lower, upper time.Duration, seed uint64) *RandomDelay {
	if lower < 0 {
		lower = 0
	}
	if upper < 0 {
		upper = 0
	}
	if upper < lower {
		lower, upper = upper, lower
	}
	return &RandomDelay{
		min: lower,
		max: upper,
		rng: rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)),
	}
}

// Next draws the next delay.
func (d *RandomDelay) Next() time.Duration {
	span := d.max - d.min
	if span <= 0 {
		return d.min
	}
	d.mu.Lock()
	offset := d.rng.Int64N(int64(span) + 1)
	d.mu.Unlock()
	return d.min + time.Duration(offset)
}

func (d *RandomDelay) Wait(ctx context.Context) error {
	delay := d.Next()
	if delay <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
