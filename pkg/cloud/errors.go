package cloud

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azidentity"
)

// Kind classifies a cloud failure so callers can pick retry or abort.
type Kind string

const (
	KindAuth      Kind = "auth"
	KindRateLimit Kind = "rate_limit"
	KindNotFound  Kind = "not_found"
	KindTransient Kind = "transient"
	KindUnknown   Kind = "unknown"
)

// Error wraps a cloud call failure with its classification.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Kind == KindAuth {
		return fmt.Sprintf("cloud login unsuccessful, check credentials (%s): %v", e.Op, e.Err)
	}
	return fmt.Sprintf("cloud %s failed (%s): %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Retryable reports whether the failure is worth another attempt.
func (e *Error) Retryable() bool {
	return e.Kind == KindTransient || e.Kind == KindRateLimit
}

// Wrap classifies err for op. Nil stays nil and an existing *Error is returned as is.
func Wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	var ce *Error
	if errors.As(err, &ce) {
		return err
	}
	return &Error{Kind: Classify(err), Op: op, Err: err}
}

// KindOf returns the classification carried by err, or classifies it.
func KindOf(err error) Kind {
	var ce *Error
	if errors.As(err, &ce) {
		return ce.Kind
	}
	return Classify(err)
}

// IsRetryable reports whether err is a transient or rate-limit failure.
func IsRetryable(err error) bool {
	k := KindOf(err)
	return k == KindTransient || k == KindRateLimit
}

// Classify maps SDK, HTTP and network errors onto a Kind.
func Classify(err error) Kind {
	if err == nil {
		return KindUnknown
	}
	var authErr *azidentity.AuthenticationFailedError
	if errors.As(err, &authErr) {
		return KindAuth
	}
	var respErr *azcore.ResponseError
	if errors.As(err, &respErr) {
		return kindForStatus(respErr.StatusCode)
	}
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return kindForStatus(statusErr.StatusCode)
	}
	if errors.Is(err, context.Canceled) {
		return KindUnknown
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTransient
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return KindTransient
	}
	return KindUnknown
}

func kindForStatus(code int) Kind {
	switch {
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return KindAuth
	case code == http.StatusTooManyRequests:
		return KindRateLimit
	case code == http.StatusNotFound:
		return KindNotFound
	case code == http.StatusRequestTimeout || code >= 500:
		return KindTransient
	default:
		return KindUnknown
	}
}

// StatusError is returned by HTTP-backed clients for non-2xx responses.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("status %d: %s", e.StatusCode, e.Body)
}
