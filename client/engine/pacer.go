package engine

import (
	"context"

	"golang.org/x/time/rate"
)

// Pacer caps task executions of all users to a shared rate.
type Pacer struct {
	limiter *rate.Limiter
}

// NewPacer returns a Pacer releasing rps tasks per second. A non-positive
// rate falls back to one per second.
func NewPacer(rps float64) *Pacer {
	if rps <= 0 {
		rps = 1
	}

	return &Pacer{limiter: rate.NewLimiter(rate.Limit(rps), 1)}
}

// Wait blocks until the next task may run. It fails when ctx ends first or
// its deadline would pass before the next slot.
func (p *Pacer) Wait(ctx context.Context) error {
	return p.limiter.Wait(ctx)
}
