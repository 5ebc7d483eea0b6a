package reqflow

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// debounceRecord is the per-key pending intent (Coalescer
// state). Only the latest arrival's resultCh is ever fulfilled; every
// earlier arrival for the same key is rejected with CancelDebounce.
type debounceRecord struct {
	timer    *time.Timer
	req      *Request
	resultCh chan debounceOutcome
}

type debounceOutcome struct {
	req *Request
	err error
}

// Coalescer implements per-key debounce (trailing, cancelling) and per-key
// throttle (leading).
type Coalescer struct {
	mu        sync.Mutex
	debounces map[string]*debounceRecord
	limiters  map[string]*rate.Limiter
	closed    bool
}

func NewCoalescer() *Coalescer {
	return &Coalescer{
		debounces: make(map[string]*debounceRecord),
		limiters:  make(map[string]*rate.Limiter),
	}
}

// Debounce returns a channel that fires with req after delay of quiescence
// on key. Any request already pending on key is immediately rejected with
// CancelDebounce and replaced.
func (c *Coalescer) Debounce(key string, req *Request, delay time.Duration) <-chan debounceOutcome {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make(chan debounceOutcome, 1)
	if c.closed {
		out <- debounceOutcome{err: &CancelledError{Kind: CancelManagerClear}}
		return out
	}

	if prev, ok := c.debounces[key]; ok {
		prev.timer.Stop()
		prev.resultCh <- debounceOutcome{err: &CancelledError{Kind: CancelDebounce}}
	}

	rec := &debounceRecord{req: req, resultCh: out}
	rec.timer = time.AfterFunc(delay, func() {
		c.mu.Lock()
		cur, ok := c.debounces[key]
		if ok && cur == rec {
			delete(c.debounces, key)
		}
		c.mu.Unlock()
		if ok && cur == rec {
			out <- debounceOutcome{req: req}
		}
	})
	c.debounces[key] = rec
	return out
}

// Throttle admits req immediately if at least interval has elapsed since
// the last admitted request on key, otherwise rejects with CancelThrottle.
// Backed by a per-key rate.Limiter with burst 1 and limit 1/interval, which
// Allow()s exactly once per interval — matching "resolves iff now minus
// last-fire-at is at least interval".
func (c *Coalescer) Throttle(key string, interval time.Duration) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return &CancelledError{Kind: CancelManagerClear}
	}
	lim, ok := c.limiters[key]
	if !ok {
		lim = rate.NewLimiter(rate.Every(interval), 1)
		// Consume the initial full burst so the very first call succeeds
		// (mirrors "last-fire-at" being -infinity initially).
		lim.Allow()
		c.limiters[key] = lim
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	if lim.Allow() {
		return nil
	}
	return &CancelledError{Kind: CancelThrottle}
}

// Shutdown rejects every pending debounce future with a manager-cleared
// CancelledError and disables further scheduling.
func (c *Coalescer) Shutdown() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	for key, rec := range c.debounces {
		rec.timer.Stop()
		rec.resultCh <- debounceOutcome{err: &CancelledError{Kind: CancelManagerClear}}
		delete(c.debounces, key)
	}
}
