package reqflow

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConcurrencyController_BoundsInFlight(t *testing.T) {
	t.Parallel()

	c := NewConcurrencyController(2, nil)

	var inFlight, maxSeen int64
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = c.Run(context.Background(), func(ctx context.Context) (*Response, error) {
				n := atomic.AddInt64(&inFlight, 1)
				for {
					old := atomic.LoadInt64(&maxSeen)
					if n <= old || atomic.CompareAndSwapInt64(&maxSeen, old, n) {
						break
					}
				}
				time.Sleep(5 * time.Millisecond)
				atomic.AddInt64(&inFlight, -1)
				return &Response{StatusCode: 200}, nil
			})
		}()
	}
	wg.Wait()

	assert.LessOrEqual(t, atomic.LoadInt64(&maxSeen), int64(2))
}

func TestConcurrencyController_Unbounded(t *testing.T) {
	t.Parallel()

	c := NewConcurrencyController(0, nil)
	assert.Equal(t, 0, c.Limit())

	resp, err := c.Run(context.Background(), func(ctx context.Context) (*Response, error) {
		return &Response{StatusCode: 200}, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 200, resp.StatusCode)
}

func TestConcurrencyController_CancelWhileQueued(t *testing.T) {
	t.Parallel()

	c := NewConcurrencyController(1, nil)
	release := make(chan struct{})

	go func() {
		_, _ = c.Run(context.Background(), func(ctx context.Context) (*Response, error) {
			<-release
			return &Response{StatusCode: 200}, nil
		})
	}()
	time.Sleep(5 * time.Millisecond) // ensure the first task holds the slot

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	called := false
	_, err := c.Run(ctx, func(ctx context.Context) (*Response, error) {
		called = true
		return &Response{StatusCode: 200}, nil
	})

	close(release)
	require.Error(t, err)
	assert.False(t, called, "task must not run once its queued wait was cancelled")
}
