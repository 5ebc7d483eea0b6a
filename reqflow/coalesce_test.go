package reqflow

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCoalescer_DebounceLastWins(t *testing.T) {
	t.Parallel()

	c := NewCoalescer()
	reqA := &Request{URL: "a"}
	reqB := &Request{URL: "b"}

	chA := c.Debounce("key", reqA, 20*time.Millisecond)
	time.Sleep(5 * time.Millisecond)
	chB := c.Debounce("key", reqB, 20*time.Millisecond)

	outcomeA := <-chA
	require.Error(t, outcomeA.err)
	var cancelled *CancelledError
	require.ErrorAs(t, outcomeA.err, &cancelled)
	assert.Equal(t, CancelDebounce, cancelled.Kind)

	outcomeB := <-chB
	require.NoError(t, outcomeB.err)
	assert.Same(t, reqB, outcomeB.req)
}

func TestCoalescer_DebounceFiresAloneAfterQuiescence(t *testing.T) {
	t.Parallel()

	c := NewCoalescer()
	req := &Request{URL: "solo"}
	ch := c.Debounce("key", req, 10*time.Millisecond)

	select {
	case outcome := <-ch:
		require.NoError(t, outcome.err)
		assert.Same(t, req, outcome.req)
	case <-time.After(100 * time.Millisecond):
		t.Fatal("debounce never fired")
	}
}

func TestCoalescer_ThrottleLeadingEdge(t *testing.T) {
	t.Parallel()

	c := NewCoalescer()

	require.NoError(t, c.Throttle("key", 30*time.Millisecond), "first call on a fresh key always admits")

	err := c.Throttle("key", 30*time.Millisecond)
	require.Error(t, err)
	var cancelled *CancelledError
	require.ErrorAs(t, err, &cancelled)
	assert.Equal(t, CancelThrottle, cancelled.Kind)

	time.Sleep(40 * time.Millisecond)
	assert.NoError(t, c.Throttle("key", 30*time.Millisecond), "call after the interval elapses admits again")
}

func TestCoalescer_ShutdownRejectsPending(t *testing.T) {
	t.Parallel()

	c := NewCoalescer()
	ch := c.Debounce("key", &Request{}, time.Hour)
	c.Shutdown()

	outcome := <-ch
	require.Error(t, outcome.err)
	var cancelled *CancelledError
	require.ErrorAs(t, outcome.err, &cancelled)
	assert.Equal(t, CancelManagerClear, cancelled.Kind)

	err := c.Throttle("other-key", time.Second)
	require.Error(t, err)
	require.ErrorAs(t, err, &cancelled)
	assert.Equal(t, CancelManagerClear, cancelled.Kind)
}
