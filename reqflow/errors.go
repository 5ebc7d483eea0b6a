package reqflow

import (
	"context"
	"fmt"
)

// CancelKind distinguishes the reason a CancelledError was produced.
type CancelKind string

const (
	CancelDebounce     CancelKind = "debounce"
	CancelThrottle     CancelKind = "throttle"
	CancelManual       CancelKind = "manual"
	CancelManagerClear CancelKind = "manager-cleared"
)

// CancelledError signals intentional abandonment of a request. It is never
// retried and never reported to the global error callback; pipeline stages
// switch on Kind rather than duck-typing an isCancel flag.
type CancelledError struct {
	Kind CancelKind
}

func (e *CancelledError) Error() string {
	return fmt.Sprintf("reqflow: cancelled (%s)", e.Kind)
}

// TransportError wraps a failure returned by the underlying Transport.
type TransportError struct {
	Err error
}

func (e *TransportError) Error() string { return fmt.Sprintf("reqflow: transport failure: %v", e.Err) }
func (e *TransportError) Unwrap() error { return e.Err }

// RefreshExpiredError is terminal: the refresh token itself has expired and
// no further remediation is attempted.
type RefreshExpiredError struct {
	Code int
}

func (e *RefreshExpiredError) Error() string {
	return fmt.Sprintf("reqflow: refresh token expired (code %d)", e.Code)
}

// BusinessCodeError carries a business-level failure code that no configured
// handler consumed.
type BusinessCodeError struct {
	Code int
}

func (e *BusinessCodeError) Error() string {
	return fmt.Sprintf("reqflow: business code failure (code %d)", e.Code)
}

// ConfigError is a terminal misconfiguration, e.g. dual-token mode enabled
// without a RefreshFunc, or a refresh call returning an empty token.
type ConfigError struct {
	Msg string
}

func (e *ConfigError) Error() string { return "reqflow: configuration error: " + e.Msg }

// errAlreadyRetriedAfterRefresh is returned when a request that has already
// gone through one refresh-and-retry cycle observes access-expiry again,
// preventing an infinite refresh loop.
var errAlreadyRetriedAfterRefresh = &ConfigError{Msg: "already retried after refresh"}

// IsCancelled reports whether err is a CancelledError (of any kind).
func IsCancelled(err error) bool {
	_, ok := err.(*CancelledError)
	return ok
}

// cancelCause returns the CancelledError that caused ctx's cancellation, if
// any. A ctx cancelled through CancelRegistry carries one as its
// CancelCauseFunc argument; an ordinary transport failure or an unrelated
// caller-supplied ctx deadline does not, so cancelCause reports nil for
// those and callers fall through to their own error as usual.
func cancelCause(ctx context.Context) *CancelledError {
	if ctx.Err() == nil {
		return nil
	}
	ce, ok := context.Cause(ctx).(*CancelledError)
	if !ok {
		return nil
	}
	return ce
}
