// Package gate bounds the number of simultaneously in-flight operations at one
// traversal level.
package gate

import (
	"context"
	"fmt"
	"sync/atomic"

	"golang.org/x/sync/semaphore"
)

// Gate admits units of work up to a fixed ceiling. Excess work queues in
// arrival order and is admitted as capacity frees up. Gates are independent;
// a stalled unit in one gate never blocks units in another.
type Gate struct {
	sem      *semaphore.Weighted
	limit    int64
	inFlight atomic.Int64
}

// New creates a Gate with the given concurrency ceiling. A non-positive limit
// is treated as 1.
func New(limit int) *Gate {
	if limit <= 0 {
		limit = 1
	}
	return &Gate{
		sem:   semaphore.NewWeighted(int64(limit)),
		limit: int64(limit),
	}
}

// Do blocks until a slot is free, runs fn, and releases the slot. The error
// from fn is returned unchanged so callers can decide whether the unit failed.
func (g *Gate) Do(ctx context.Context, fn func() error) error {
	if err := g.sem.Acquire(ctx, 1); err != nil {
		return fmt.Errorf("gate acquire: %w", err)
	}
	g.inFlight.Add(1)
	defer func() {
		g.inFlight.Add(-1)
		g.sem.Release(1)
	}()
	return fn()
}

// InFlight reports how many units currently hold a slot.
func (g *Gate) InFlight() int64 {
	return g.inFlight.Load()
}

// Limit returns the configured ceiling.
func (g *Gate) Limit() int64 {
	return g.limit
}
