package reqflow

import (
	"context"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// RefreshFunc performs the actual refresh-token exchange and returns the new
// access token on success.
type RefreshFunc func(ctx context.Context) (accessToken string, err error)

// RefreshController drives the dual-token recovery cycle:
// initial -> detected-access-expired -> awaiting-refresh -> retried -> done.
// Concurrent requests that all observe an expired access token in the same
// window share one refresh call and are all retried against its result.
//
// singleflight.Group.Do stores the in-flight ticket before the call starts
// and fans the single result out to every concurrent caller, which is
// exactly the register-before-calling order needed to keep every
// concurrent 401 waiting on the same refresh instead of each starting its
// own — no extra locking needed to get it.
type RefreshController struct {
	group               singleflight.Group
	refresh             RefreshFunc
	accessExpiredCodes  map[int]struct{}
	refreshExpiredCodes map[int]struct{}
	onRefreshExpired    func(err error)
	metrics             *metricsRecorder

	mu          sync.Mutex
	accessToken string
}

// RefreshConfig configures dual-token recovery. Enabled gates the whole
// mechanism off when false (single-token mode).
type RefreshConfig struct {
	Enabled             bool
	Refresh             RefreshFunc
	AccessExpiredCodes  []int
	RefreshExpiredCodes []int
	OnRefreshExpired    func(err error)
}

func NewRefreshController(cfg RefreshConfig, metrics *metricsRecorder) *RefreshController {
	rc := &RefreshController{
		refresh:             cfg.Refresh,
		accessExpiredCodes:  toCodeSet(cfg.AccessExpiredCodes),
		refreshExpiredCodes: toCodeSet(cfg.RefreshExpiredCodes),
		onRefreshExpired:    cfg.OnRefreshExpired,
		metrics:             metrics,
	}
	return rc
}

func toCodeSet(codes []int) map[int]struct{} {
	set := make(map[int]struct{}, len(codes))
	for _, c := range codes {
		set[c] = struct{}{}
	}
	return set
}

// SetAccessToken installs the current access token, e.g. after initial
// login. Subsequent requests pick it up via Authorize.
func (rc *RefreshController) SetAccessToken(token string) {
	rc.mu.Lock()
	rc.accessToken = token
	rc.mu.Unlock()
}

// Authorize stamps req's Authorization header with the current access
// token, if one is set and the request doesn't already carry one.
func (rc *RefreshController) Authorize(req *Request) {
	rc.mu.Lock()
	token := rc.accessToken
	rc.mu.Unlock()
	if token == "" {
		return
	}
	if req.Headers == nil {
		req.Headers = make(http.Header)
	}
	if req.Headers.Get("Authorization") == "" {
		req.Headers.Set("Authorization", "Bearer "+token)
	}
}

// Recover inspects resp against the configured expiry codes and, if
// applicable, drives the refresh-and-retry cycle. handled reports whether
// Recover consumed resp; callers must not apply further response-side
// handling to a handled response — its returned (resp, err) is final.
//
// detected-access-expired -> awaiting-refresh -> retried is the single
// refresh-then-resend branch; refresh-token expiry and the
// already-retried-once guard are the two terminal branches (done).
func (rc *RefreshController) Recover(
	ctx context.Context,
	resp *Response,
	req *Request,
	resend func(ctx context.Context, req *Request) (*Response, error),
) (*Response, error, bool) {
	if resp == nil || rc.refresh == nil {
		return resp, nil, false
	}

	if _, expired := rc.refreshExpiredCodes[resp.StatusCode]; expired {
		err := &RefreshExpiredError{Code: resp.StatusCode}
		if rc.onRefreshExpired != nil {
			rc.onRefreshExpired(err)
		}
		if rc.metrics != nil {
			rc.metrics.refreshFailure(ctx)
		}
		return nil, err, true
	}

	if _, accessExpired := rc.accessExpiredCodes[resp.StatusCode]; !accessExpired {
		return resp, nil, false
	}

	if req.refreshAttempted {
		return nil, errAlreadyRetriedAfterRefresh, true
	}

	if rc.metrics != nil {
		rc.metrics.refreshAttempt(ctx)
	}

	result, err, _ := rc.group.Do("refresh", func() (any, error) {
		return rc.refresh(ctx)
	})
	if err != nil {
		if rc.onRefreshExpired != nil {
			rc.onRefreshExpired(err)
		}
		if rc.metrics != nil {
			rc.metrics.refreshFailure(ctx)
		}
		return nil, err, true
	}

	token := result.(string)
	if verr := rc.validateRefreshToken(ctx, token); verr != nil {
		return nil, verr, true
	}
	rc.SetAccessToken(token)

	req.refreshAttempted = true
	if req.Headers == nil {
		req.Headers = make(http.Header)
	}
	req.Headers.Set("Authorization", "Bearer "+token)

	retryResp, retryErr := resend(ctx, req)
	return retryResp, retryErr, true
}

// validateRefreshToken rejects an empty access token from RefreshFunc,
// reporting it as a terminal ConfigError through the same onRefreshExpired/
// metrics path a failed refresh call uses.
func (rc *RefreshController) validateRefreshToken(ctx context.Context, token string) error {
	if token != "" {
		return nil
	}
	err := &ConfigError{Msg: "refresh function returned an empty access token"}
	if rc.onRefreshExpired != nil {
		rc.onRefreshExpired(err)
	}
	if rc.metrics != nil {
		rc.metrics.refreshFailure(ctx)
	}
	return err
}

// EnsureFresh proactively refreshes the access token if it looks like a JWT
// expiring within skew, reusing the same single-flight refresh call a
// reactive access-expired response would trigger. No-op if refresh isn't
// configured, the stored token is empty, or the token isn't a JWT nearing
// expiry.
func (rc *RefreshController) EnsureFresh(ctx context.Context, skew time.Duration) error {
	if rc.refresh == nil {
		return nil
	}
	rc.mu.Lock()
	token := rc.accessToken
	rc.mu.Unlock()
	if token == "" || !jwtExpiringWithin(token, skew, time.Now()) {
		return nil
	}

	if rc.metrics != nil {
		rc.metrics.refreshAttempt(ctx)
	}

	result, err, _ := rc.group.Do("refresh", func() (any, error) {
		return rc.refresh(ctx)
	})
	if err != nil {
		if rc.onRefreshExpired != nil {
			rc.onRefreshExpired(err)
		}
		if rc.metrics != nil {
			rc.metrics.refreshFailure(ctx)
		}
		return err
	}
	token = result.(string)
	if verr := rc.validateRefreshToken(ctx, token); verr != nil {
		return verr
	}
	rc.SetAccessToken(token)
	return nil
}
