package reqflow

import (
	"context"

	"golang.org/x/sync/semaphore"
)

// ConcurrencyController bounds in-flight operations to N with FIFO
// admission of queued waiters. N <= 0 means unbounded
// pass-through.
//
// Grounded on golang.org/x/sync/semaphore.Weighted: Acquire blocks callers
// in FIFO order and is safe for a task to itself call Run and queue behind
// others (re-entrant-safe), since each Run only holds the
// weight for its own execution.
type ConcurrencyController struct {
	sem     *semaphore.Weighted
	limit   int64
	metrics *metricsRecorder
}

// NewConcurrencyController builds a controller admitting at most n
// concurrent tasks. n <= 0 disables the bound.
func NewConcurrencyController(n int, metrics *metricsRecorder) *ConcurrencyController {
	c := &ConcurrencyController{metrics: metrics}
	if n > 0 {
		c.sem = semaphore.NewWeighted(int64(n))
		c.limit = int64(n)
	}
	return c
}

// Run executes task under the concurrency bound. If ctx is cancelled while
// queued, Run returns ctx.Err() without ever invoking task — the queued
// waiter's "future" is effectively rejected.
//
// An error-returning task surfaces its own error via the returned error; a
// panicking task's panic is not recovered and propagates to the caller. The
// controller's slot accounting always runs via defer, so a failing or
// panicking task never corrupts the controller's invariants.
func (c *ConcurrencyController) Run(ctx context.Context, task func(ctx context.Context) (*Response, error)) (*Response, error) {
	if c.sem == nil {
		return task(ctx)
	}
	if err := c.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	defer c.sem.Release(1)
	if c.metrics != nil {
		c.metrics.concurrencyInUse(ctx, 1)
		defer c.metrics.concurrencyInUse(ctx, -1)
	}
	return task(ctx)
}

// Limit returns the configured bound, or 0 for unbounded.
func (c *ConcurrencyController) Limit() int {
	return int(c.limit)
}
