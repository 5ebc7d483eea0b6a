package reqflow

import (
	"context"
	"errors"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"
	gobreakerredis "github.com/sony/gobreaker/v2/redis"
	"github.com/redis/go-redis/v9"
)

// BreakerConfig configures the optional circuit-breaker transport wrapper.
// The orchestration pipeline itself has no opinion on transport resilience,
// but a client library calling unreliable downstreams benefits from failing
// fast once a dependency is unhealthy.
type BreakerConfig struct {
	Enabled             bool
	Name                string
	MaxRequests         uint32
	Interval            time.Duration
	Timeout             time.Duration
	FailureThreshold    uint32
	FailureRatio        float64
	ConsecutiveFailures uint32
	// Store, if set, backs the breaker with Redis so multiple client
	// instances share trip state (gobreaker/v2/redis).
	Store         gobreaker.SharedDataStore
	OnStateChange func(name string, from, to gobreaker.State)
}

// NewRedisBreakerStore adapts a go-redis client into a gobreaker
// SharedDataStore for distributed circuit breaking.
func NewRedisBreakerStore(client redis.UniversalClient) gobreaker.SharedDataStore {
	return gobreakerredis.NewStoreFromClient(client)
}

// DefaultBreakerConfig returns a conservative local (in-memory) breaker
// configuration.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		Enabled:             true,
		MaxRequests:         1,
		Interval:            10 * time.Second,
		Timeout:             10 * time.Second,
		FailureThreshold:    20,
		ConsecutiveFailures: 5,
		FailureRatio:        0.5,
	}
}

var errSyntheticFailure = errors.New("reqflow: synthetic breaker failure")

// breakerTransport wraps a Transport with a gobreaker circuit breaker. 5xx
// responses and transport errors count as failures; everything else
// (including 4xx business errors) passes through without tripping the
// breaker, since those indicate the caller's request, not the dependency's
// health.
type circuitBreaker interface {
	Execute(req func() (*Response, error)) (*Response, error)
}

type breakerTransport struct {
	next Transport
	cb   circuitBreaker
}

func newBreakerTransport(next Transport, cfg BreakerConfig, metrics *metricsRecorder) Transport {
	if !cfg.Enabled {
		return next
	}

	name := cfg.Name
	if name == "" {
		name = "reqflow"
	}

	settings := gobreaker.Settings{
		Name:        name,
		MaxRequests: cfg.MaxRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if cfg.FailureThreshold > 0 && counts.Requests < cfg.FailureThreshold {
				return false
			}
			if cfg.ConsecutiveFailures > 0 && counts.ConsecutiveFailures >= cfg.ConsecutiveFailures {
				return true
			}
			if cfg.FailureRatio > 0 && counts.TotalFailures > 0 {
				ratio := float64(counts.TotalFailures) / float64(counts.Requests)
				if ratio >= cfg.FailureRatio {
					return true
				}
			}
			return false
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			if cfg.OnStateChange != nil {
				cfg.OnStateChange(name, from, to)
			}
		},
	}

	var cb circuitBreaker
	if cfg.Store != nil {
		dcb, err := gobreaker.NewDistributedCircuitBreaker[*Response](cfg.Store, settings)
		if err != nil {
			cb = gobreaker.NewCircuitBreaker[*Response](settings)
		} else {
			cb = dcb
		}
	} else {
		cb = gobreaker.NewCircuitBreaker[*Response](settings)
	}

	return &breakerTransport{next: next, cb: cb}
}

func (t *breakerTransport) Send(ctx context.Context, req *Request) (*Response, error) {
	resp, err := t.cb.Execute(func() (*Response, error) {
		resp, err := t.next.Send(ctx, req)
		if err != nil {
			return resp, err
		}
		if resp.StatusCode >= 500 {
			return resp, errSyntheticFailure
		}
		return resp, nil
	})
	if errors.Is(err, errSyntheticFailure) {
		return resp, nil
	}
	return resp, err
}

func (t *breakerTransport) SendMultipart(ctx context.Context, req *Request, mp *multipartBody, onProgress func(sent, total int64)) (*Response, error) {
	up, ok := t.next.(UploadTransport)
	if !ok {
		return nil, &ConfigError{Msg: "breaker-wrapped transport does not support multipart upload"}
	}
	resp, err := t.cb.Execute(func() (*Response, error) {
		resp, err := up.SendMultipart(ctx, req, mp, onProgress)
		if err != nil {
			return resp, err
		}
		if resp.StatusCode >= 500 {
			return resp, errSyntheticFailure
		}
		return resp, nil
	})
	if errors.Is(err, errSyntheticFailure) {
		return resp, nil
	}
	return resp, err
}

var _ UploadTransport = (*breakerTransport)(nil)
