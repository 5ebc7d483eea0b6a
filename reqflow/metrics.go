package reqflow

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// metricsRecorder holds the OTel instruments exercised by the pipeline
// stages. A nil *metricsRecorder is valid everywhere it's threaded through;
// every recording method is a nil-safe no-op, so instrumentation is always
// optional.
type metricsRecorder struct {
	requestDuration metric.Float64Histogram
	concurrencyGauge metric.Int64UpDownCounter
	cacheHits       metric.Int64Counter
	cacheMisses     metric.Int64Counter
	retryAttempts   metric.Int64Counter
	retryExhausted  metric.Int64Counter
	refreshAttempts metric.Int64Counter
	refreshFailures metric.Int64Counter
}

func newMetricsRecorder(meter metric.Meter) (*metricsRecorder, error) {
	m := &metricsRecorder{}
	var err error

	m.requestDuration, err = meter.Float64Histogram(
		"reqflow.request.duration",
		metric.WithDescription("Duration of orchestrated requests in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}
	m.concurrencyGauge, err = meter.Int64UpDownCounter(
		"reqflow.concurrency.in_use",
		metric.WithDescription("Number of requests currently holding a concurrency slot"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return nil, err
	}
	m.cacheHits, err = meter.Int64Counter(
		"reqflow.cache.hits",
		metric.WithDescription("Cache lookups satisfied without a network round trip"),
	)
	if err != nil {
		return nil, err
	}
	m.cacheMisses, err = meter.Int64Counter(
		"reqflow.cache.misses",
		metric.WithDescription("Cache lookups requiring a network round trip"),
	)
	if err != nil {
		return nil, err
	}
	m.retryAttempts, err = meter.Int64Counter(
		"reqflow.retry.attempts",
		metric.WithDescription("Retry attempts issued by the retry policy"),
	)
	if err != nil {
		return nil, err
	}
	m.retryExhausted, err = meter.Int64Counter(
		"reqflow.retry.exhausted",
		metric.WithDescription("Requests that exhausted their retry budget"),
	)
	if err != nil {
		return nil, err
	}
	m.refreshAttempts, err = meter.Int64Counter(
		"reqflow.refresh.attempts",
		metric.WithDescription("Access-token refresh cycles started"),
	)
	if err != nil {
		return nil, err
	}
	m.refreshFailures, err = meter.Int64Counter(
		"reqflow.refresh.failures",
		metric.WithDescription("Access-token refresh cycles that ended in refresh-token expiry"),
	)
	if err != nil {
		return nil, err
	}
	return m, nil
}

func (m *metricsRecorder) requestDurationSeconds(ctx context.Context, seconds float64, attrs ...attribute.KeyValue) {
	if m == nil || m.requestDuration == nil {
		return
	}
	m.requestDuration.Record(ctx, seconds, metric.WithAttributes(attrs...))
}

func (m *metricsRecorder) concurrencyInUse(ctx context.Context, delta int64) {
	if m == nil || m.concurrencyGauge == nil {
		return
	}
	m.concurrencyGauge.Add(ctx, delta)
}

func (m *metricsRecorder) cacheHit() {
	if m == nil || m.cacheHits == nil {
		return
	}
	m.cacheHits.Add(context.Background(), 1)
}

func (m *metricsRecorder) cacheMiss() {
	if m == nil || m.cacheMisses == nil {
		return
	}
	m.cacheMisses.Add(context.Background(), 1)
}

func (m *metricsRecorder) retryAttempt(ctx context.Context, attempt int) {
	if m == nil || m.retryAttempts == nil {
		return
	}
	m.retryAttempts.Add(ctx, 1, metric.WithAttributes(attribute.Int("retry.attempt", attempt)))
}

func (m *metricsRecorder) retryExhaustedCount(ctx context.Context) {
	if m == nil || m.retryExhausted == nil {
		return
	}
	m.retryExhausted.Add(ctx, 1)
}

func (m *metricsRecorder) refreshAttempt(ctx context.Context) {
	if m == nil || m.refreshAttempts == nil {
		return
	}
	m.refreshAttempts.Add(ctx, 1)
}

func (m *metricsRecorder) refreshFailure(ctx context.Context) {
	if m == nil || m.refreshFailures == nil {
		return
	}
	m.refreshFailures.Add(ctx, 1)
}
