package providers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// ErrorKind classifies provider failures for retry decisions.
type ErrorKind string

const (
	// KindTimeout is a call that exceeded its hard deadline. Retryable.
	KindTimeout ErrorKind = "timeout"
	// KindRejected is a provider 4xx or unknown task. Not retryable.
	KindRejected ErrorKind = "rejected"
	// KindUnavailable is a provider 5xx or network failure. Retryable.
	KindUnavailable ErrorKind = "unavailable"
	// KindProtocol is a well-formed reply missing required fields. Fatal.
	KindProtocol ErrorKind = "protocol"
)

// ProviderError wraps a failed provider call with its retry classification.
type ProviderError struct {
	Service string
	Kind    ErrorKind
	Message string
	Err     error
}

func (e *ProviderError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s (%s): %v", e.Service, e.Message, e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %s (%s)", e.Service, e.Message, e.Kind)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// Retryable reports whether the failure is transient.
func (e *ProviderError) Retryable() bool {
	return e.Kind == KindTimeout || e.Kind == KindUnavailable
}

// NewError builds a classified provider error.
func NewError(service string, kind ErrorKind, message string, err error) *ProviderError {
	return &ProviderError{Service: service, Kind: kind, Message: message, Err: err}
}

// ClassifyHTTP maps a failed provider call to an error kind: context deadline
// to timeout, 4xx to rejected, everything else to unavailable.
func ClassifyHTTP(service string, statusCode int, err error) *ProviderError {
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return NewError(service, KindTimeout, "request deadline exceeded", err)
		}
		return NewError(service, KindUnavailable, "request failed", err)
	}
	switch {
	case statusCode >= http.StatusInternalServerError:
		return NewError(service, KindUnavailable, fmt.Sprintf("status %d", statusCode), nil)
	case statusCode >= http.StatusBadRequest:
		return NewError(service, KindRejected, fmt.Sprintf("status %d", statusCode), nil)
	default:
		return NewError(service, KindUnavailable, fmt.Sprintf("unexpected status %d", statusCode), nil)
	}
}

// IsRetryable reports whether err is a transient provider failure.
func IsRetryable(err error) bool {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.Retryable()
	}
	return false
}

// IsRejected reports whether err is a non-retryable provider rejection.
func IsRejected(err error) bool {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.Kind == KindRejected
	}
	return false
}
