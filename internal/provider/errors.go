package provider

import (
	"fmt"
	"net"
	"net/url"
	"time"

	"github.com/hyescribe/hyescribe/internal/errors"
)

// Error is a typed provider failure. Retryable distinguishes transient
// vendor trouble (5xx, connection reset, deadline) from permanent refusals
// (auth, unsupported audio, content policy).
type Error struct {
	Provider  string
	Code      string
	Message   string
	Retryable bool
	Cause     error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Provider, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Provider, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// ErrorCategory implements errors.CategorizedError.
func (e *Error) ErrorCategory() errors.ErrorCategory {
	if e.Retryable {
		return errors.CategoryProviderTransient
	}
	return errors.CategoryProviderFatal
}

// RateLimitError signals a 429 or quota exhaustion. Always retryable.
// RetryAfter is zero when the vendor did not say.
type RateLimitError struct {
	Provider   string
	Message    string
	RetryAfter time.Duration
	Cause      error
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("%s: rate limited: %s", e.Provider, e.Message)
}

func (e *RateLimitError) Unwrap() error { return e.Cause }

// ErrorCategory implements errors.CategorizedError.
func (e *RateLimitError) ErrorCategory() errors.ErrorCategory {
	return errors.CategoryRateLimit
}

// NewTransient builds a retryable provider error.
func NewTransient(providerName, message string, cause error) *Error {
	return &Error{Provider: providerName, Message: message, Retryable: true, Cause: cause}
}

// NewFatal builds a non-retryable provider error.
func NewFatal(providerName, message string, cause error) *Error {
	return &Error{Provider: providerName, Message: message, Retryable: false, Cause: cause}
}

// NewRateLimit builds a rate-limit error.
func NewRateLimit(providerName, message string, retryAfter time.Duration) *RateLimitError {
	return &RateLimitError{Provider: providerName, Message: message, RetryAfter: retryAfter}
}

// IsRetryable reports whether err may be retried: rate limits, transient
// provider errors, and anything untyped.
func IsRetryable(err error) bool {
	var rl *RateLimitError
	if errors.As(err, &rl) {
		return true
	}
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Retryable
	}
	return true
}

// wrapNetworkError maps transport-level failures onto the taxonomy. DNS and
// connection failures are transient by definition.
func wrapNetworkError(providerName string, err error) error {
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return NewTransient(providerName, fmt.Sprintf("DNS resolution failed for %s", dnsErr.Name), err)
	}

	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		if urlErr.Timeout() {
			return NewTransient(providerName, "request timed out", err)
		}
		return NewTransient(providerName, "connection failed", err)
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return NewTransient(providerName, "network timeout", err)
	}

	return NewTransient(providerName, "network error", err)
}
