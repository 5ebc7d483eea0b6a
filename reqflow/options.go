package reqflow

import (
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// internalConfig is the fully-resolved configuration assembled by applying
// every Option in order. Zero-valued fields mean "stage disabled" unless
// noted otherwise.
type internalConfig struct {
	transport Transport

	maxConcurrent int

	cache     CacheConfig
	debounce  debounceConfig
	throttle  throttleConfig
	retry     RetryConfig
	refresh   RefreshConfig

	tokenProvider func() string

	proactiveTokenCheck bool
	proactiveSkew       time.Duration

	onError        func(err error)
	responseHandler func(resp *Response) error
	codeHandlers    map[int]func(resp *Response)
	businessFailureCodes map[int]struct{}
	userInterceptors []Interceptor

	breaker BreakerConfig

	meterProvider metric.MeterProvider
	tracerProvider trace.TracerProvider
	logger        zerolog.Logger
}

type debounceConfig struct {
	Enabled  bool
	Interval time.Duration
}

type throttleConfig struct {
	Enabled  bool
	Interval time.Duration
}

// Option configures a Client at construction time.
type Option func(*internalConfig)

func defaultConfig() *internalConfig {
	return &internalConfig{
		maxConcurrent:  0,
		codeHandlers:   make(map[int]func(resp *Response)),
		meterProvider:  otel.GetMeterProvider(),
		tracerProvider: otel.GetTracerProvider(),
		logger:         defaultLogger,
	}
}

// WithTransport overrides the underlying Transport. Defaults to an
// HTTPTransport wrapping http.DefaultClient.
func WithTransport(t Transport) Option {
	return func(c *internalConfig) { c.transport = t }
}

// WithHTTPClient is a convenience over WithTransport for callers that just
// want to customize the *http.Client (timeouts, TLS, proxies, ...).
func WithHTTPClient(client *http.Client) Option {
	return func(c *internalConfig) { c.transport = NewHTTPTransport(client) }
}

// WithMaxConcurrent bounds in-flight requests admitted past the
// ConcurrencyController. n <= 0 means unbounded.
func WithMaxConcurrent(n int) Option {
	return func(c *internalConfig) { c.maxConcurrent = n }
}

// WithCache enables the response Cache stage with the given TTL. A zero
// TTL means entries never expire on their own (only ClearCache removes
// them).
func WithCache(ttl time.Duration) Option {
	return func(c *internalConfig) { c.cache = CacheConfig{Enabled: true, TTL: ttl} }
}

// WithDebounce enables trailing-edge debounce coalescing keyed by the
// canonical request key.
func WithDebounce(interval time.Duration) Option {
	return func(c *internalConfig) { c.debounce = debounceConfig{Enabled: true, Interval: interval} }
}

// WithThrottle enables leading-edge throttle coalescing keyed by the
// canonical request key.
func WithThrottle(interval time.Duration) Option {
	return func(c *internalConfig) { c.throttle = throttleConfig{Enabled: true, Interval: interval} }
}

// WithRetry enables bounded retry with a fixed inter-attempt delay.
// jitterFactor randomizes the delay by ±factor; 0 disables jitter.
func WithRetry(maxRetries int, delay time.Duration, jitterFactor float64) Option {
	return func(c *internalConfig) {
		c.retry = RetryConfig{Enabled: true, MaxRetries: maxRetries, Delay: delay, JitterFactor: jitterFactor}
	}
}

// WithTokenProvider supplies the bearer token injected into every request's
// Authorization header in single-token mode. Mutually exclusive in
// practice with WithDualToken, which manages the header itself.
func WithTokenProvider(fn func() string) Option {
	return func(c *internalConfig) { c.tokenProvider = fn }
}

// WithDualToken enables access/refresh recovery: accessExpiredCodes trigger
// a refresh-and-retry cycle via refresh; refreshExpiredCodes and any
// refresh failure are terminal and invoke onRefreshExpired.
func WithDualToken(refresh RefreshFunc, accessExpiredCodes, refreshExpiredCodes []int, onRefreshExpired func(err error)) Option {
	return func(c *internalConfig) {
		c.refresh = RefreshConfig{
			Enabled:             true,
			Refresh:             refresh,
			AccessExpiredCodes:  accessExpiredCodes,
			RefreshExpiredCodes: refreshExpiredCodes,
			OnRefreshExpired:    onRefreshExpired,
		}
	}
}

// WithProactiveTokenCheck inspects the access token's JWT exp claim (no
// signature verification) before sending and, if it falls within skew of
// expiry, proactively refreshes through the same single-flight cycle a
// reactive access-expired response would trigger — instead of burning a
// round trip to the server on a token already known to be stale. No-op if
// the stored token isn't a parseable JWT, or if WithDualToken isn't
// configured.
func WithProactiveTokenCheck(enabled bool, skew time.Duration) Option {
	return func(c *internalConfig) {
		c.proactiveTokenCheck = enabled
		c.proactiveSkew = skew
	}
}

// WithOnError registers the global error callback, invoked at most once
// per request after retry exhaustion (never for CancelledError).
func WithOnError(fn func(err error)) Option {
	return func(c *internalConfig) { c.onError = fn }
}

// WithResponseHandler registers a hook invoked for every non-cached
// response before code handlers and user middleware run. Returning an
// error aborts the response-side chain for that request.
func WithResponseHandler(fn func(resp *Response) error) Option {
	return func(c *internalConfig) { c.responseHandler = fn }
}

// WithCodeHandler registers a handler invoked at most once per second per
// status code, regardless of how many responses carry that code in the
// window.
func WithCodeHandler(code int, fn func(resp *Response)) Option {
	return func(c *internalConfig) {
		if c.codeHandlers == nil {
			c.codeHandlers = make(map[int]func(resp *Response))
		}
		c.codeHandlers[code] = fn
	}
}

// WithBusinessFailureCodes marks response codes as business-level failures:
// if the response carries one of these codes and no WithCodeHandler is
// registered for that code, respond returns a BusinessCodeError instead of
// a plain response. A WithResponseHandler does not suppress it. Codes outside this set are
// never turned into an error by the response-side chain.
func WithBusinessFailureCodes(codes ...int) Option {
	return func(c *internalConfig) {
		if c.businessFailureCodes == nil {
			c.businessFailureCodes = make(map[int]struct{}, len(codes))
		}
		for _, code := range codes {
			c.businessFailureCodes[code] = struct{}{}
		}
	}
}

// WithInterceptor appends a user-supplied request/response interceptor to
// the pipeline, run after the built-in stages.
func WithInterceptor(i Interceptor) Option {
	return func(c *internalConfig) { c.userInterceptors = append(c.userInterceptors, i) }
}

// WithBreaker wraps the transport with a circuit breaker. Disabled by
// default; an empty BreakerConfig leaves the transport unwrapped.
func WithBreaker(cfg BreakerConfig) Option {
	return func(c *internalConfig) { c.breaker = cfg }
}

// WithMeterProvider overrides the OTel MeterProvider used to record
// pipeline metrics. Defaults to the global provider.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(c *internalConfig) { c.meterProvider = mp }
}

// WithLogger overrides the zerolog.Logger used for pipeline diagnostics.
func WithLogger(l zerolog.Logger) Option {
	return func(c *internalConfig) { c.logger = l }
}

// WithTracerProvider overrides the OTel TracerProvider used to span
// orchestrated requests. Defaults to the global provider.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(c *internalConfig) { c.tracerProvider = tp }
}
