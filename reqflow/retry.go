package reqflow

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// RetryConfig configures the RetryPolicy stage. Delay is a
// fixed inter-attempt wait (not exponential); JitterFactor optionally
// randomizes it to avoid synchronized retry storms across clients sharing
// a dependency.
type RetryConfig struct {
	Enabled      bool
	MaxRetries   int
	Delay        time.Duration
	JitterFactor float64
}

// constantJitterBackOff implements backoff.BackOff with a fixed delay
// randomized by applyJitter rather than exponential growth — the retry
// delay here is a single configured duration, not a curve.
type constantJitterBackOff struct {
	delay  time.Duration
	jitter float64
}

func (b *constantJitterBackOff) NextBackOff() time.Duration {
	return applyJitter(b.delay, b.jitter)
}

func (b *constantJitterBackOff) Reset() {}

// RetryPolicy resubmits a failed attempt up to MaxRetries times through the
// shared ConcurrencyController, so retries never bypass the admission
// bound. A *CancelledError is never retried — it propagates immediately,
// cancellation always wins over a pending retry. The terminal
// *RefreshExpiredError and *ConfigError are not retried either.
type RetryPolicy struct {
	cfg         RetryConfig
	concurrency *ConcurrencyController
	metrics     *metricsRecorder
}

func NewRetryPolicy(cfg RetryConfig, concurrency *ConcurrencyController, metrics *metricsRecorder) *RetryPolicy {
	return &RetryPolicy{cfg: cfg, concurrency: concurrency, metrics: metrics}
}

// Do runs attempt, retrying on error per the configured policy. ctx
// cancellation (e.g. via the request's own cancel token) aborts any
// pending inter-attempt delay immediately.
func (p *RetryPolicy) Do(
	ctx context.Context,
	req *Request,
	attempt func(ctx context.Context, req *Request) (*Response, error),
) (*Response, error) {
	run := func(ctx context.Context) (*Response, error) {
		return p.concurrency.Run(ctx, func(ctx context.Context) (*Response, error) {
			return attempt(ctx, req)
		})
	}

	if !p.cfg.Enabled || p.cfg.MaxRetries <= 0 {
		return run(ctx)
	}

	b := &constantJitterBackOff{delay: p.cfg.Delay, jitter: p.cfg.JitterFactor}
	opts := []backoff.RetryOption{
		backoff.WithBackOff(b),
		backoff.WithMaxTries(uint(p.cfg.MaxRetries + 1)),
		backoff.WithNotify(func(err error, next time.Duration) {
			req.retryCount++
			if p.metrics != nil {
				p.metrics.retryAttempt(ctx, req.retryCount)
			}
			trace.SpanFromContext(ctx).AddEvent("retry.attempt", trace.WithAttributes(
				attribute.Int("retry.attempt", req.retryCount),
				attribute.String("retry.error", err.Error()),
				attribute.Int64("retry.next_delay_ms", next.Milliseconds()),
			))
		}),
	}

	resp, err := backoff.Retry(ctx, func() (*Response, error) {
		resp, err := run(ctx)
		if err == nil {
			return resp, nil
		}
		if ce := cancelCause(ctx); ce != nil {
			return nil, backoff.Permanent(ce)
		}
		if IsCancelled(err) {
			return nil, backoff.Permanent(err)
		}
		var refreshExpired *RefreshExpiredError
		var cfgErr *ConfigError
		if errors.As(err, &refreshExpired) || errors.As(err, &cfgErr) {
			return nil, backoff.Permanent(err)
		}
		return nil, err
	}, opts...)

	if err != nil && req.retryCount >= p.cfg.MaxRetries && p.metrics != nil {
		p.metrics.retryExhaustedCount(ctx)
	}
	return resp, err
}
