package gateway

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
)

var (
	ErrNotConfigured          = errors.New("payment gateway is not configured for tenant")
	ErrSubscriptionNotFound   = errors.New("subscription not found at payment gateway")
	ErrUnsupported            = errors.New("operation not supported by payment gateway")
	ErrInvalidSignature       = errors.New("webhook signature verification failed")
	ErrMalformedEvent         = errors.New("malformed webhook payload")
	ErrMissingCustomerEmail   = errors.New("customer email is required by payment gateway")
	ErrNoCheckoutURL          = errors.New("no checkout URL returned from payment gateway")
	ErrUnknownProvider        = errors.New("unknown payment gateway provider")
	ErrMissingCredentials     = errors.New("payment gateway credentials are incomplete")
	ErrFailedToLoadCredential = errors.New("failed to load payment gateway credentials")
)

// Error is a failed call to a payment processor. Retryable marks failures the
// caller may repeat safely (timeouts, network errors, 429 and 5xx).
type Error struct {
	Provider  Provider
	Op        string
	Retryable bool
	Err       error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Provider, e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// IsRetryable reports whether err carries a retryable gateway failure.
func IsRetryable(err error) bool {
	var gerr *Error
	if errors.As(err, &gerr) {
		return gerr.Retryable
	}
	return false
}

func wrapErr(provider Provider, op string, err error, retryable bool) error {
	if err == nil {
		return nil
	}
	return &Error{Provider: provider, Op: op, Retryable: retryable, Err: err}
}

// transient classifies failures that never reached a definitive answer from
// the processor.
func transient(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}

func retryableStatus(code int) bool {
	return code == http.StatusTooManyRequests || code >= http.StatusInternalServerError
}
