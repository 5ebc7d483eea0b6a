package reqflow

import (
	"context"
	"os"

	"github.com/rs/zerolog"
)

// Client is the request-orchestration facade: a single
// entry point wiring concurrency admission, caching, coalescing, token
// injection and refresh, retry, cancellation, uploads, and polling around
// one Transport.
type Client struct {
	pipeline   *pipeline
	uploader   *UploadCoordinator
	polling    *PollingScheduler
	cache      *Cache
	cancels    *CancelRegistry
	coalescer  *Coalescer
	refreshCtl *RefreshController
	log        zerolog.Logger
}

// New builds a Client from the given Options.
func New(opts ...Option) (*Client, error) {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(cfg)
	}

	transport := cfg.transport
	if transport == nil {
		transport = NewHTTPTransport(nil)
	}

	meter := cfg.meterProvider.Meter(instrumentationScope)
	metrics, err := newMetricsRecorder(meter)
	if err != nil {
		return nil, err
	}
	tracer := cfg.tracerProvider.Tracer(instrumentationScope)

	transport = newBreakerTransport(transport, cfg.breaker, metrics)

	concurrency := NewConcurrencyController(cfg.maxConcurrent, metrics)
	cache := NewCache()
	coalescer := NewCoalescer()
	cancels := NewCancelRegistry()

	var refreshCtl *RefreshController
	if cfg.refresh.Enabled {
		if cfg.refresh.Refresh == nil {
			return nil, &ConfigError{Msg: "dual-token mode enabled without a refresh function"}
		}
		refreshCtl = NewRefreshController(cfg.refresh, metrics)
	}

	retryPolicy := NewRetryPolicy(cfg.retry, concurrency, metrics)
	pipe := newPipeline(cfg, transport, concurrency, cache, coalescer, cancels, refreshCtl, retryPolicy, metrics, tracer)

	var uploader *UploadCoordinator
	if uploadTransport, ok := transport.(UploadTransport); ok {
		uploader = NewUploadCoordinator(uploadTransport, concurrency, retryPolicy, cancels, metrics)
	}

	return &Client{
		pipeline:   pipe,
		uploader:   uploader,
		polling:    NewPollingScheduler(),
		cache:      cache,
		cancels:    cancels,
		coalescer:  coalescer,
		refreshCtl: refreshCtl,
		log:        cfg.logger,
	}, nil
}

const instrumentationScope = "github.com/arclayer/reqflow"

// Get, Post, Put, Delete issue a request of the corresponding method. cfg
// is optional; the zero value means no params/headers/cancel-token/custom
// response type.
func (c *Client) Get(ctx context.Context, url string, cfg ...RequestConfig) (*Response, error) {
	return c.do(ctx, MethodGet, url, nil, cfg...)
}

func (c *Client) Post(ctx context.Context, url string, body any, cfg ...RequestConfig) (*Response, error) {
	return c.do(ctx, MethodPost, url, body, cfg...)
}

func (c *Client) Put(ctx context.Context, url string, body any, cfg ...RequestConfig) (*Response, error) {
	return c.do(ctx, MethodPut, url, body, cfg...)
}

func (c *Client) Delete(ctx context.Context, url string, cfg ...RequestConfig) (*Response, error) {
	return c.do(ctx, MethodDelete, url, nil, cfg...)
}

func (c *Client) do(ctx context.Context, method Method, url string, body any, cfgs ...RequestConfig) (*Response, error) {
	var rc RequestConfig
	if len(cfgs) > 0 {
		rc = cfgs[0]
	}
	req := newRequest(method, url, rc)
	req.Body = body
	return c.pipeline.Send(ctx, req)
}

// UploadFile drives a resumable chunked upload of file to url.
func (c *Client) UploadFile(ctx context.Context, url string, file *os.File, opts UploadOptions) (*UploadHandle, *Response, error) {
	if c.uploader == nil {
		return nil, nil, &ConfigError{Msg: "client transport does not support multipart upload"}
	}
	return c.uploader.UploadFile(ctx, url, file, opts)
}

// DownloadFile issues a binary-response request; the caller is responsible
// for persisting resp.Body (this library has no DOM/filesystem-save glue
// beyond returning the bytes and headers such as Content-Disposition).
func (c *Client) DownloadFile(ctx context.Context, url string, method Method, cfg ...RequestConfig) (*Response, error) {
	if method == "" {
		method = MethodGet
	}
	var rc RequestConfig
	if len(cfg) > 0 {
		rc = cfg[0]
	}
	rc.ResponseType = ResponseBinary
	return c.do(ctx, method, url, nil, rc)
}

// StartPolling begins a named periodic task.
func (c *Client) StartPolling(ctx context.Context, key string, cfg PollingConfig) {
	c.polling.Start(ctx, key, cfg)
}

// StopPolling halts a named periodic task.
func (c *Client) StopPolling(key string) {
	c.polling.Stop(key)
}

// CancelRequest cancels the in-flight request(s) registered under id.
// Returns false if no such id is currently registered.
func (c *Client) CancelRequest(id string) bool {
	return c.cancels.CancelByID(id)
}

// CancelAllRequests cancels every in-flight request tracked by cancel ID.
func (c *Client) CancelAllRequests() {
	c.cancels.CancelAll()
}

// ClearCache empties the response cache.
func (c *Client) ClearCache() {
	c.cache.Clear()
}

// SetAccessToken installs the current access token for dual-token mode,
// e.g. immediately after login before any request has triggered a refresh.
func (c *Client) SetAccessToken(token string) {
	if c.refreshCtl != nil {
		c.refreshCtl.SetAccessToken(token)
	}
}

// Shutdown stops all polling tasks, rejects pending debounce futures, and
// cancels every in-flight request registered under a cancel ID.
func (c *Client) Shutdown() {
	c.polling.StopAll()
	c.coalescer.Shutdown()
	c.cancels.CancelAll()
}
