package connectors

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"

	"github.com/adshao/go-binance/v2/common"
)

// ErrorKind classifies an exchange failure once, where the response is
// parsed. Callers branch on the kind (or the numeric code), never on
// message text.
type ErrorKind string

const (
	KindRateLimited           ErrorKind = "rate_limited"
	KindNetwork               ErrorKind = "network"
	KindTimeout               ErrorKind = "timeout"
	KindAuth                  ErrorKind = "auth"
	KindInsufficientMargin    ErrorKind = "insufficient_margin"
	KindReduceOnlyRejected    ErrorKind = "reduce_only_rejected"
	KindOrderRejected         ErrorKind = "order_rejected"
	KindOrderNotFound         ErrorKind = "order_not_found"
	KindPositionNotFound      ErrorKind = "position_not_found"
	KindDuplicateClientOrder  ErrorKind = "duplicate_client_order_id"
	KindInvalidLeverage       ErrorKind = "invalid_leverage"
	KindInvalidRequest        ErrorKind = "invalid_request"
	KindUnknown               ErrorKind = "unknown"
)

// APIError is the tagged form of every venue failure crossing the connector
// boundary. Code is the venue's numeric error code when one was present.
type APIError struct {
	Kind ErrorKind
	Code int64
	Msg  string
	Err  error
}

func (e *APIError) Error() string {
	if e.Code != 0 {
		return fmt.Sprintf("exchange error kind=%s code=%d: %s", e.Kind, e.Code, e.Msg)
	}
	return fmt.Sprintf("exchange error kind=%s: %s", e.Kind, e.Msg)
}

func (e *APIError) Unwrap() error { return e.Err }

// Retryable reports whether the failure is transient and worth a bounded
// retry at the call site.
func (e *APIError) Retryable() bool {
	switch e.Kind {
	case KindRateLimited, KindNetwork, KindTimeout:
		return true
	}
	return false
}

// KindOf extracts the ErrorKind from err, or KindUnknown when err carries no
// APIError.
func KindOf(err error) ErrorKind {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Kind
	}
	return KindUnknown
}

// IsRetryable reports whether err wraps a retryable APIError.
func IsRetryable(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Retryable()
}

// classifyError turns a raw go-binance error into a tagged *APIError. This
// is the single place error kinds are decided.
func classifyError(err error) error {
	if err == nil {
		return nil
	}

	var apiErr *common.APIError
	if errors.As(err, &apiErr) {
		return &APIError{
			Kind: errorKindForCode(apiErr.Code),
			Code: apiErr.Code,
			Msg:  apiErr.Message,
			Err:  err,
		}
	}

	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return &APIError{Kind: KindTimeout, Msg: err.Error(), Err: err}
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return &APIError{Kind: KindTimeout, Msg: err.Error(), Err: err}
		}
		return &APIError{Kind: KindNetwork, Msg: err.Error(), Err: err}
	}

	// The SDK sometimes flattens transport failures into plain strings; the
	// substring match is a last resort for those only.
	switch {
	case strings.Contains(err.Error(), "connection refused"),
		strings.Contains(err.Error(), "connection reset by peer"),
		strings.Contains(err.Error(), "use of closed network connection"),
		strings.Contains(err.Error(), "no such host"):
		return &APIError{Kind: KindNetwork, Msg: err.Error(), Err: err}
	}
	return &APIError{Kind: KindUnknown, Msg: err.Error(), Err: err}
}
