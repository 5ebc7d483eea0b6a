package reqflow

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, transport Transport, opts ...Option) *Client {
	t.Helper()
	all := append([]Option{WithTransport(transport)}, opts...)
	c, err := New(all...)
	require.NoError(t, err)
	return c
}

func TestClient_GetSuccess(t *testing.T) {
	t.Parallel()

	mock := NewMockTransport().StubDefault(&Response{StatusCode: 200, Body: []byte("ok")}, nil)
	client := newTestClient(t, mock)

	resp, err := client.Get(context.Background(), "https://example.com/users")
	require.NoError(t, err)
	assert.Equal(t, 200, resp.StatusCode)
	assert.Equal(t, 1, mock.RequestCount())
}

func TestClient_CacheShortCircuitsSecondCall(t *testing.T) {
	t.Parallel()

	mock := NewMockTransport().StubDefault(&Response{StatusCode: 200, Body: []byte("ok")}, nil)
	client := newTestClient(t, mock, WithCache(time.Minute))

	_, err := client.Get(context.Background(), "https://example.com/users")
	require.NoError(t, err)
	resp2, err := client.Get(context.Background(), "https://example.com/users")
	require.NoError(t, err)

	assert.True(t, resp2.FromCache)
	assert.Equal(t, 1, mock.RequestCount(), "second call must be served from cache, not the transport")
}

func TestClient_ClearCacheForcesRefetch(t *testing.T) {
	t.Parallel()

	mock := NewMockTransport().StubDefault(&Response{StatusCode: 200, Body: []byte("ok")}, nil)
	client := newTestClient(t, mock, WithCache(time.Minute))

	_, _ = client.Get(context.Background(), "https://example.com/users")
	client.ClearCache()
	_, _ = client.Get(context.Background(), "https://example.com/users")

	assert.Equal(t, 2, mock.RequestCount())
}

func TestClient_RetriesTransientFailure(t *testing.T) {
	t.Parallel()

	attempt := 0
	mock := NewMockTransport()
	mock.StubFunc(func(r *Request) bool {
		attempt++
		return attempt < 3
	}, nil, assert.AnError)
	mock.StubDefault(&Response{StatusCode: 200}, nil)

	client := newTestClient(t, mock, WithRetry(3, time.Millisecond, 0))

	resp, err := client.Get(context.Background(), "https://example.com/flaky")
	require.NoError(t, err)
	assert.Equal(t, 200, resp.StatusCode)
	assert.Equal(t, 3, attempt)
}

func TestClient_CancelRequest(t *testing.T) {
	t.Parallel()

	block := make(chan struct{})
	blocking := &blockingTransport{release: block}
	client := newTestClient(t, blocking)

	errCh := make(chan error, 1)
	go func() {
		_, err := client.Get(context.Background(), "https://example.com/slow", RequestConfig{CancelTokenID: "req-1"})
		errCh <- err
	}()

	time.Sleep(10 * time.Millisecond)
	assert.True(t, client.CancelRequest("req-1"))

	select {
	case err := <-errCh:
		require.Error(t, err)
		assert.True(t, IsCancelled(err), "a manually cancelled request must surface a CancelledError")
		var cancelled *CancelledError
		require.ErrorAs(t, err, &cancelled)
		assert.Equal(t, CancelManual, cancelled.Kind)
	case <-time.After(time.Second):
		t.Fatal("cancelled request never returned")
	}
	close(block)
}

// blockingTransport blocks Send until ctx is cancelled or release fires.
type blockingTransport struct {
	release chan struct{}
}

func (b *blockingTransport) Send(ctx context.Context, req *Request) (*Response, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-b.release:
		return &Response{StatusCode: 200}, nil
	}
}

func TestClient_DualTokenRecoversFromExpiry(t *testing.T) {
	t.Parallel()

	firstCall := true
	mock := NewMockTransport().StubFunc(func(r *Request) bool {
		if firstCall {
			firstCall = false
			return true
		}
		return false
	}, &Response{StatusCode: 401}, nil)
	mock.StubDefault(&Response{StatusCode: 200}, nil)

	// Recover rewrites the header on the same *Request it resends, so the
	// header each send carried is captured at send time rather than read
	// back from the logged pointers afterwards.
	var sentAuth []string
	mock.OnRequest(func(r *Request) { sentAuth = append(sentAuth, r.Headers.Get("Authorization")) })

	client := newTestClient(t, mock, WithDualToken(
		func(ctx context.Context) (string, error) { return "fresh-token", nil },
		[]int{401},
		[]int{4011},
		nil,
	))
	client.SetAccessToken("stale-token")

	resp, err := client.Get(context.Background(), "https://example.com/secure")
	require.NoError(t, err)
	assert.Equal(t, 200, resp.StatusCode)

	reqs := mock.Requests()
	require.Len(t, reqs, 2)
	require.Len(t, sentAuth, 2)
	assert.Equal(t, "Bearer stale-token", sentAuth[0])
	assert.Equal(t, "Bearer fresh-token", sentAuth[1])
}

func TestClient_CodeHandlerFiresOncePerSecond(t *testing.T) {
	t.Parallel()

	mock := NewMockTransport().StubDefault(&Response{StatusCode: 429}, nil)
	fired := 0
	client := newTestClient(t, mock, WithCodeHandler(429, func(resp *Response) { fired++ }))

	for i := 0; i < 3; i++ {
		_, _ = client.Get(context.Background(), "https://example.com/limited")
	}

	assert.Equal(t, 1, fired, "the 1-second idempotency guard suppresses repeat firings")
}

func TestClient_ProactiveTokenCheckRefreshesBeforeSending(t *testing.T) {
	t.Parallel()

	mock := NewMockTransport().StubDefault(&Response{StatusCode: 200}, nil)
	var refreshCalls int
	client := newTestClient(t, mock,
		WithDualToken(
			func(ctx context.Context) (string, error) {
				refreshCalls++
				return "fresh-token", nil
			},
			[]int{401},
			[]int{4011},
			nil,
		),
		WithProactiveTokenCheck(true, time.Hour))
	client.SetAccessToken(makeJWT(t, time.Now().Add(time.Minute).Unix()))

	resp, err := client.Get(context.Background(), "https://example.com/secure")
	require.NoError(t, err)
	assert.Equal(t, 200, resp.StatusCode)
	assert.Equal(t, 1, refreshCalls)

	reqs := mock.Requests()
	require.Len(t, reqs, 1)
	assert.Equal(t, "Bearer fresh-token", reqs[0].Headers.Get("Authorization"))
}

func TestClient_ProactiveTokenCheckSkipsRefreshWhenTokenFresh(t *testing.T) {
	t.Parallel()

	mock := NewMockTransport().StubDefault(&Response{StatusCode: 200}, nil)
	var refreshCalls int
	client := newTestClient(t, mock,
		WithDualToken(
			func(ctx context.Context) (string, error) {
				refreshCalls++
				return "fresh-token", nil
			},
			[]int{401},
			[]int{4011},
			nil,
		),
		WithProactiveTokenCheck(true, time.Minute))
	client.SetAccessToken(makeJWT(t, time.Now().Add(time.Hour).Unix()))

	_, err := client.Get(context.Background(), "https://example.com/secure")
	require.NoError(t, err)
	assert.Equal(t, 0, refreshCalls)
}

func TestClient_BusinessFailureCodeSurfacesWithoutHandler(t *testing.T) {
	t.Parallel()

	mock := NewMockTransport().StubDefault(&Response{StatusCode: 422}, nil)
	client := newTestClient(t, mock, WithBusinessFailureCodes(422))

	_, err := client.Get(context.Background(), "https://example.com/rejected")
	require.Error(t, err)
	var bizErr *BusinessCodeError
	require.ErrorAs(t, err, &bizErr)
	assert.Equal(t, 422, bizErr.Code)
}

func TestClient_BusinessFailureCodeSuppressedByHandler(t *testing.T) {
	t.Parallel()

	var handled int
	mock := NewMockTransport().StubDefault(&Response{StatusCode: 422}, nil)
	client := newTestClient(t, mock,
		WithBusinessFailureCodes(422),
		WithCodeHandler(422, func(resp *Response) { handled++ }))

	resp, err := client.Get(context.Background(), "https://example.com/rejected")
	require.NoError(t, err)
	assert.Equal(t, 422, resp.StatusCode)
	assert.Equal(t, 1, handled)
}

func TestClient_GlobalErrorCallbackFiresOnTransportFailure(t *testing.T) {
	t.Parallel()

	var gotErr error
	mock := NewMockTransport().StubDefault(nil, assert.AnError)
	client := newTestClient(t, mock, WithOnError(func(err error) { gotErr = err }))

	_, err := client.Get(context.Background(), "https://example.com/broken")
	require.Error(t, err)
	require.Error(t, gotErr)
	assert.ErrorIs(t, gotErr, assert.AnError)
}

func TestClient_GlobalErrorCallbackSkipsCancelled(t *testing.T) {
	t.Parallel()

	block := make(chan struct{})
	defer close(block)
	blocking := &blockingTransport{release: block}

	var onErrorCalled bool
	client := newTestClient(t, blocking, WithOnError(func(err error) { onErrorCalled = true }))

	errCh := make(chan error, 1)
	go func() {
		_, err := client.Get(context.Background(), "https://example.com/slow", RequestConfig{CancelTokenID: "req-skip"})
		errCh <- err
	}()

	time.Sleep(10 * time.Millisecond)
	assert.True(t, client.CancelRequest("req-skip"))

	select {
	case err := <-errCh:
		require.Error(t, err)
		assert.True(t, IsCancelled(err))
	case <-time.After(time.Second):
		t.Fatal("cancelled request never returned")
	}

	assert.False(t, onErrorCalled, "the global error callback must never fire for a cancelled request")
}

func TestClient_HeadersSurviveRoundTrip(t *testing.T) {
	t.Parallel()

	var seen http.Header
	mock := NewMockTransport()
	mock.OnRequest(func(r *Request) { seen = r.Headers })
	mock.StubDefault(&Response{StatusCode: 200}, nil)

	client := newTestClient(t, mock)
	_, err := client.Get(context.Background(), "https://example.com/x", RequestConfig{
		Headers: http.Header{"X-Trace-Id": []string{"abc"}},
	})
	require.NoError(t, err)
	assert.Equal(t, "abc", seen.Get("X-Trace-Id"))
}
