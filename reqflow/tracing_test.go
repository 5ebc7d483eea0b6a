package reqflow

import (
	"context"
	"testing"

	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClient_RequestProducesClientSpan(t *testing.T) {
	t.Parallel()

	recorder := tracetest.NewSpanRecorder()
	provider := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))

	mock := NewMockTransport().StubDefault(&Response{StatusCode: 200}, nil)
	client := newTestClient(t, mock, WithTracerProvider(provider))

	_, err := client.Get(context.Background(), "https://example.com/traced")
	require.NoError(t, err)

	spans := recorder.Ended()
	require.Len(t, spans, 1)
	span := spans[0]
	assert.Equal(t, "reqflow.request", span.Name())

	attrs := map[string]string{}
	for _, kv := range span.Attributes() {
		attrs[string(kv.Key)] = kv.Value.Emit()
	}
	assert.Equal(t, "GET", attrs["http.method"])
	assert.Equal(t, "https://example.com/traced", attrs["http.url"])
}

func TestClient_FailedRequestRecordsSpanError(t *testing.T) {
	t.Parallel()

	recorder := tracetest.NewSpanRecorder()
	provider := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))

	mock := NewMockTransport().StubDefault(nil, assert.AnError)
	client := newTestClient(t, mock, WithTracerProvider(provider))

	_, err := client.Get(context.Background(), "https://example.com/broken")
	require.Error(t, err)

	spans := recorder.Ended()
	require.Len(t, spans, 1)
	assert.NotEmpty(t, spans[0].Events())
}
