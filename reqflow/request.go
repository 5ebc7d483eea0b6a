package reqflow

import (
	"net/http"

	"github.com/google/uuid"
)

// Method is one of the four HTTP verbs the facade exposes.
type Method string

const (
	MethodGet    Method = http.MethodGet
	MethodPost   Method = http.MethodPost
	MethodPut    Method = http.MethodPut
	MethodDelete Method = http.MethodDelete
)

// ResponseType is a caller-supplied hint about the kind of response body
// expected. It is carried on the Request, but neither the pipeline nor
// HTTPTransport acts on it: every response body is read in full and
// returned as raw bytes in Response.Body, with no decoding or streaming.
type ResponseType int

const (
	// ResponseStructured marks a structured (JSON) response body.
	ResponseStructured ResponseType = iota
	// ResponseBinary marks a binary response body (downloads, chunk uploads).
	ResponseBinary
	// ResponseText marks a text response body.
	ResponseText
)

// Request is the logical descriptor that flows through the pipeline.
// It is created per call and discarded once the pipeline settles.
type Request struct {
	Method       Method
	URL          string
	Params       map[string]string
	Body         any
	Headers      http.Header
	ResponseType ResponseType

	// CancelTokenID associates this request with a CancelRegistry entry.
	CancelTokenID string

	// RequestID correlates log lines and the X-Request-ID header across a
	// single call's retries and refresh replay. Generated once in
	// newRequest and carried unchanged across retries and refresh replay.
	RequestID string

	// internal, mutated by the pipeline
	retryCount       int
	refreshAttempted bool
}

func newRequest(method Method, url string, cfg RequestConfig) *Request {
	h := cfg.Headers.Clone()
	if h == nil {
		h = make(http.Header)
	}
	return &Request{
		Method:        method,
		URL:           url,
		Params:        cfg.Params,
		Headers:       h,
		ResponseType:  cfg.ResponseType,
		CancelTokenID: cfg.CancelTokenID,
		RequestID:     uuid.New().String(),
	}
}

// RequestConfig carries the per-call overrides recognised by the facade
// operations.
type RequestConfig struct {
	CancelTokenID string
	Headers       http.Header
	Params        map[string]string
	ResponseType  ResponseType
}

// Response is what the pipeline returns to the caller.
type Response struct {
	StatusCode int
	StatusText string
	Headers    http.Header
	Body       []byte

	// Request is the originating descriptor.
	Request *Request

	// FromCache marks a response synthesised by the Cache stage rather than
	// one that actually reached the transport.
	FromCache bool
}

// IsSuccess reports whether the response represents a 2xx outcome.
func (r *Response) IsSuccess() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}
