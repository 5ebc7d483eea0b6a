package reqflow

import (
	"context"
	"errors"
	"sync"
)

// MockTransport is a deterministic, configurable Transport for tests:
// stub responses by predicate and record every request it sees.
type MockTransport struct {
	mu          sync.Mutex
	stubs       []mockStub
	defaultResp *Response
	defaultErr  error
	requests    []*Request
	onRequest   func(*Request)
}

type mockStub struct {
	match func(*Request) bool
	resp  *Response
	err   error
}

func NewMockTransport() *MockTransport {
	return &MockTransport{}
}

func (m *MockTransport) StubDefault(resp *Response, err error) *MockTransport {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.defaultResp, m.defaultErr = resp, err
	return m
}

func (m *MockTransport) StubFunc(match func(*Request) bool, resp *Response, err error) *MockTransport {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stubs = append(m.stubs, mockStub{match: match, resp: resp, err: err})
	return m
}

func (m *MockTransport) OnRequest(fn func(*Request)) *MockTransport {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onRequest = fn
	return m
}

func (m *MockTransport) Send(ctx context.Context, req *Request) (*Response, error) {
	m.mu.Lock()
	m.requests = append(m.requests, req)
	hook := m.onRequest
	stubs := append([]mockStub{}, m.stubs...)
	defResp, defErr := m.defaultResp, m.defaultErr
	m.mu.Unlock()

	if hook != nil {
		hook(req)
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	for _, s := range stubs {
		if s.match(req) {
			if s.err != nil {
				return nil, s.err
			}
			r := *s.resp
			r.Request = req
			return &r, nil
		}
	}
	if defErr != nil {
		return nil, defErr
	}
	if defResp != nil {
		r := *defResp
		r.Request = req
		return &r, nil
	}
	return nil, errors.New("reqflow: mock transport has no stub for " + string(req.Method) + " " + req.URL)
}

func (m *MockTransport) SendMultipart(ctx context.Context, req *Request, mp *multipartBody, onProgress func(sent, total int64)) (*Response, error) {
	if onProgress != nil {
		onProgress(int64(mp.buf.Len()), int64(mp.buf.Len()))
	}
	return m.Send(ctx, req)
}

func (m *MockTransport) Requests() []*Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*Request{}, m.requests...)
}

func (m *MockTransport) RequestCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.requests)
}

var _ UploadTransport = (*MockTransport)(nil)
