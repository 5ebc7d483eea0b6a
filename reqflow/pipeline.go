package reqflow

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Interceptor is user-supplied request/response middleware run after the
// built-in pipeline stages. OnRequest runs before the request is sent;
// OnResponse runs after a successful response clears the built-in
// response-side chain. Either may be nil.
type Interceptor struct {
	OnRequest  func(req *Request) error
	OnResponse func(resp *Response) error
}

// codeHandlerGuard suppresses repeat invocations of the same status-code
// handler within a 1-second window — a burst of
// same-code responses (e.g. a flood of 401s while a refresh is in flight)
// fires the handler once, not once per response.
type codeHandlerGuard struct {
	mu   sync.Mutex
	last map[int]time.Time
}

func newCodeHandlerGuard() *codeHandlerGuard {
	return &codeHandlerGuard{last: make(map[int]time.Time)}
}

func (g *codeHandlerGuard) allow(code int) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	now := time.Now()
	if last, ok := g.last[code]; ok && now.Sub(last) < time.Second {
		return false
	}
	g.last[code] = now
	return true
}

// pipeline wires the fixed request lifecycle: token
// injection, cache short-circuit, debounce, throttle, user request
// middleware, concurrency-bounded send with retry, dual-token recovery,
// code handlers, user response middleware, cache write.
type pipeline struct {
	transport     Transport
	concurrency   *ConcurrencyController
	cache         *Cache
	cacheCfg      CacheConfig
	coalescer     *Coalescer
	cancels       *CancelRegistry
	refreshCtl    *RefreshController
	retryPolicy   *RetryPolicy
	tokenProvider func() string
	proactive     bool
	proactiveSkew time.Duration

	debounce debounceConfig
	throttle throttleConfig

	onError          func(err error)
	responseHandler  func(resp *Response) error
	codeHandlers     map[int]func(resp *Response)
	codeGuard        *codeHandlerGuard
	businessFailureCodes map[int]struct{}
	userInterceptors []Interceptor

	metrics *metricsRecorder
	tracer  trace.Tracer
	log     zerolog.Logger
}

func newPipeline(cfg *internalConfig, transport Transport, concurrency *ConcurrencyController, cache *Cache, coalescer *Coalescer, cancels *CancelRegistry, refreshCtl *RefreshController, retryPolicy *RetryPolicy, metrics *metricsRecorder, tracer trace.Tracer) *pipeline {
	return &pipeline{
		transport:        transport,
		concurrency:      concurrency,
		cache:            cache,
		cacheCfg:         cfg.cache,
		coalescer:        coalescer,
		cancels:          cancels,
		refreshCtl:       refreshCtl,
		retryPolicy:      retryPolicy,
		tokenProvider:    cfg.tokenProvider,
		proactive:        cfg.proactiveTokenCheck,
		proactiveSkew:    cfg.proactiveSkew,
		debounce:         cfg.debounce,
		throttle:         cfg.throttle,
		onError:          cfg.onError,
		responseHandler:  cfg.responseHandler,
		codeHandlers:     cfg.codeHandlers,
		codeGuard:        newCodeHandlerGuard(),
		businessFailureCodes: cfg.businessFailureCodes,
		userInterceptors: cfg.userInterceptors,
		metrics:          metrics,
		tracer:           tracer,
		log:              cfg.logger,
	}
}

// Send drives req through the full pipeline and returns the final
// response or error.
func (p *pipeline) Send(ctx context.Context, req *Request) (*Response, error) {
	start := time.Now()
	key := Key(req)

	if p.proactive && p.refreshCtl != nil {
		if err := p.refreshCtl.EnsureFresh(ctx, p.proactiveSkew); err != nil {
			return nil, err
		}
	}
	p.injectToken(req)
	p.injectRequestID(req)
	log := p.log.With().Str("request_id", req.RequestID).Logger()

	ctx, span := p.tracer.Start(ctx, "reqflow.request", trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("http.method", string(req.Method)),
			attribute.String("http.url", req.URL),
			attribute.String("reqflow.request_id", req.RequestID),
		))
	defer span.End()

	if p.cacheCfg.Enabled {
		if body, headers, ok := p.cache.Get(key); ok {
			log.Debug().Str("key", key).Msg("cache hit")
			p.metrics.cacheHit()
			span.AddEvent("cache.hit")
			return &Response{StatusCode: 200, Headers: http.Header(headers), Body: body, Request: req, FromCache: true}, nil
		}
		p.metrics.cacheMiss()
	}

	if p.debounce.Enabled {
		outcome := <-p.coalescer.Debounce(key, req, p.debounce.Interval)
		if outcome.err != nil {
			return nil, outcome.err
		}
		req = outcome.req
	}

	if p.throttle.Enabled {
		if err := p.coalescer.Throttle(key, p.throttle.Interval); err != nil {
			return nil, err
		}
	}

	for _, ic := range p.userInterceptors {
		if ic.OnRequest == nil {
			continue
		}
		if err := ic.OnRequest(req); err != nil {
			return nil, err
		}
	}

	ctx, cancel := context.WithCancelCause(ctx)
	if req.CancelTokenID != "" {
		p.cancels.Set(req.CancelTokenID, cancel)
	}
	defer func() {
		if req.CancelTokenID != "" {
			p.cancels.Delete(req.CancelTokenID)
		}
		cancel(nil)
	}()

	resp, err := p.retryPolicy.Do(ctx, req, p.attempt)

	p.metrics.requestDurationSeconds(ctx, time.Since(start).Seconds())

	if err != nil {
		if ce := cancelCause(ctx); ce != nil {
			err = ce
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		if !IsCancelled(err) && p.onError != nil {
			p.onError(err)
		}
		return nil, err
	}
	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))

	if err := p.respond(ctx, resp); err != nil {
		return resp, err
	}

	if p.cacheCfg.Enabled && resp.IsSuccess() {
		p.cache.Set(key, resp.Body, map[string][]string(resp.Headers), p.cacheCfg.TTL)
	}

	return resp, nil
}

// attempt performs one network round trip plus, if configured, the
// dual-token recovery branch. It is the unit RetryPolicy resubmits.
func (p *pipeline) attempt(ctx context.Context, req *Request) (*Response, error) {
	resp, err := p.transport.Send(ctx, req)
	if err != nil {
		return nil, err
	}
	if p.refreshCtl != nil {
		recovered, rerr, handled := p.refreshCtl.Recover(ctx, resp, req, p.transport.Send)
		if handled {
			return recovered, rerr
		}
	}
	return resp, nil
}

func (p *pipeline) respond(ctx context.Context, resp *Response) error {
	if p.responseHandler != nil {
		if err := p.responseHandler(resp); err != nil {
			return err
		}
	}
	handler, handled := p.codeHandlers[resp.StatusCode]
	if handled && p.codeGuard.allow(resp.StatusCode) {
		handler(resp)
	}
	if _, isBusinessFailure := p.businessFailureCodes[resp.StatusCode]; isBusinessFailure && !handled {
		return &BusinessCodeError{Code: resp.StatusCode}
	}
	for _, ic := range p.userInterceptors {
		if ic.OnResponse == nil {
			continue
		}
		if err := ic.OnResponse(resp); err != nil {
			return err
		}
	}
	return nil
}

// injectRequestID stamps X-Request-ID for cross-service correlation,
// generating one if newRequest somehow left it blank (e.g. a user-built
// Request passed directly to a lower-level call). The client always mints
// the ID rather than looking for one already set on an inbound header.
func (p *pipeline) injectRequestID(req *Request) {
	if req.RequestID == "" {
		req.RequestID = uuid.New().String()
	}
	if req.Headers == nil {
		req.Headers = make(http.Header)
	}
	if req.Headers.Get("X-Request-ID") == "" {
		req.Headers.Set("X-Request-ID", req.RequestID)
	}
}

func (p *pipeline) injectToken(req *Request) {
	if req.Headers == nil {
		req.Headers = make(http.Header)
	}
	if p.refreshCtl != nil {
		p.refreshCtl.Authorize(req)
		return
	}
	if p.tokenProvider == nil {
		return
	}
	if req.Headers.Get("Authorization") == "" {
		if token := p.tokenProvider(); token != "" {
			req.Headers.Set("Authorization", "Bearer "+token)
		}
	}
}
