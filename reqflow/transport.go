package reqflow

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	json "github.com/goccy/go-json"
)

// Transport is the external collaborator consumed by the pipeline: a
// single send(Request) -> Response primitive with cancellation (via ctx)
// and streamed upload progress. It is deliberately not redesigned here —
// the transport is a pluggable boundary, not part of the core pipeline.
type Transport interface {
	Send(ctx context.Context, req *Request) (*Response, error)
}

// UploadTransport is implemented by transports that can report byte-level
// upload progress, used by the UploadCoordinator.
type UploadTransport interface {
	Transport
	SendMultipart(ctx context.Context, req *Request, mp *multipartBody, onProgress func(sent, total int64)) (*Response, error)
}

// HTTPTransport adapts net/http to the Transport contract. It is the only
// component permitted to talk directly to the network.
type HTTPTransport struct {
	client *http.Client
}

// NewHTTPTransport wraps an *http.Client (http.DefaultClient if nil).
func NewHTTPTransport(client *http.Client) *HTTPTransport {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPTransport{client: client}
}

var _ UploadTransport = (*HTTPTransport)(nil)

func (t *HTTPTransport) Send(ctx context.Context, req *Request) (*Response, error) {
	httpReq, err := t.build(ctx, req)
	if err != nil {
		return nil, err
	}
	return t.do(httpReq, req)
}

func (t *HTTPTransport) SendMultipart(ctx context.Context, req *Request, mp *multipartBody, onProgress func(sent, total int64)) (*Response, error) {
	body := newProgressReader(mp.buf.Bytes(), onProgress)
	httpReq, err := http.NewRequestWithContext(ctx, string(req.Method), req.URL, body)
	if err != nil {
		return nil, err
	}
	for k, v := range req.Headers {
		httpReq.Header[k] = v
	}
	httpReq.Header.Set("Content-Type", mp.contentType)
	httpReq.ContentLength = int64(mp.buf.Len())
	return t.do(httpReq, req)
}

func (t *HTTPTransport) build(ctx context.Context, req *Request) (*http.Request, error) {
	u, err := url.Parse(req.URL)
	if err != nil {
		return nil, fmt.Errorf("reqflow: invalid url %q: %w", req.URL, err)
	}
	if len(req.Params) > 0 {
		q := u.Query()
		for k, v := range req.Params {
			q.Set(k, v)
		}
		u.RawQuery = q.Encode()
	}

	var bodyReader io.Reader
	contentType := ""
	if req.Body != nil {
		switch b := req.Body.(type) {
		case []byte:
			bodyReader = bytes.NewReader(b)
			contentType = "application/octet-stream"
		case string:
			bodyReader = strings.NewReader(b)
			contentType = "text/plain; charset=utf-8"
		case url.Values:
			bodyReader = strings.NewReader(b.Encode())
			contentType = "application/x-www-form-urlencoded"
		default:
			data, err := json.Marshal(b)
			if err != nil {
				return nil, fmt.Errorf("reqflow: encoding body: %w", err)
			}
			bodyReader = bytes.NewReader(data)
			contentType = "application/json"
		}
	}

	httpReq, err := http.NewRequestWithContext(ctx, string(req.Method), u.String(), bodyReader)
	if err != nil {
		return nil, err
	}
	for k, v := range req.Headers {
		httpReq.Header[k] = v
	}
	if contentType != "" && httpReq.Header.Get("Content-Type") == "" {
		httpReq.Header.Set("Content-Type", contentType)
	}
	return httpReq, nil
}

func (t *HTTPTransport) do(httpReq *http.Request, orig *Request) (*Response, error) {
	httpResp, err := t.client.Do(httpReq)
	if err != nil {
		return nil, &TransportError{Err: err}
	}
	defer httpResp.Body.Close()

	body, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, &TransportError{Err: err}
	}

	return &Response{
		StatusCode: httpResp.StatusCode,
		StatusText: httpResp.Status,
		Headers:    httpResp.Header,
		Body:       body,
		Request:    orig,
	}, nil
}

// progressReader wraps a byte slice and reports cumulative bytes read,
// used to surface per-chunk upload progress without the
// transport needing any multipart-specific knowledge.
type progressReader struct {
	r        *bytes.Reader
	total    int64
	read     int64
	onProgress func(sent, total int64)
}

func newProgressReader(data []byte, onProgress func(sent, total int64)) *progressReader {
	return &progressReader{r: bytes.NewReader(data), total: int64(len(data)), onProgress: onProgress}
}

func (p *progressReader) Read(b []byte) (int, error) {
	n, err := p.r.Read(b)
	if n > 0 {
		p.read += int64(n)
		if p.onProgress != nil {
			p.onProgress(p.read, p.total)
		}
	}
	return n, err
}
