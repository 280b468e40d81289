// Package apierr provides the single error shape surfaced by the request gateway.
// Errors are classified so retry policies can tell transient failures from
// ones that must fail fast.
package apierr

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorCategory determines how errors should be handled by retry logic.
type ErrorCategory int

const (
	// Recoverable errors are retried within the retry budget.
	// Examples: 500 Internal Server Error, network timeouts, connection failures.
	Recoverable ErrorCategory = iota

	// Irrecoverable errors fail immediately without retry.
	// Examples: 401 Unauthorized, 403 Forbidden, 400 Bad Request.
	Irrecoverable
)

// String returns a human-readable representation of the error category.
func (c ErrorCategory) String() string {
	switch c {
	case Recoverable:
		return "Recoverable"
	case Irrecoverable:
		return "Irrecoverable"
	default:
		return fmt.Sprintf("Unknown(%d)", int(c))
	}
}

// Kind says where a failure originated.
type Kind int

const (
	// KindServer means the backend answered with a non-2xx status.
	KindServer Kind = iota
	// KindNetwork means no response was received.
	KindNetwork
	// KindRequest means the request could not be built on the client.
	KindRequest
)

func (k Kind) String() string {
	switch k {
	case KindServer:
		return "server"
	case KindNetwork:
		return "network"
	case KindRequest:
		return "request"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// User-facing fallbacks.
const (
	MsgNetwork    = "Network error - please check your connection"
	MsgUnexpected = "An unexpected error occurred"
)

// APIError is the one error type callers of the gateway see.
type APIError struct {
	Kind       Kind
	Category   ErrorCategory
	StatusCode int    // 0 when no response was received
	Message    string // user-facing message
	Body       []byte // raw response body, if any
	Underlying error
}

// Error implements the error interface.
func (e *APIError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("[%s] HTTP %d: %s", e.Category, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("[%s] %s", e.Category, e.Message)
}

// Unwrap returns the underlying error for error chain compatibility.
func (e *APIError) Unwrap() error {
	return e.Underlying
}

// As extracts an *APIError from err's chain.
func As(err error) (*APIError, bool) {
	var ae *APIError
	if errors.As(err, &ae) {
		return ae, true
	}
	return nil, false
}

// IsIrrecoverable returns true if the error should not be retried.
func IsIrrecoverable(err error) bool {
	if ae, ok := As(err); ok {
		return ae.Category == Irrecoverable
	}
	return false
}

// IsUnauthorized reports whether err carries a 401 response.
func IsUnauthorized(err error) bool {
	ae, ok := As(err)
	return ok && ae.StatusCode == http.StatusUnauthorized
}

// IsNetwork reports whether err is a no-response failure.
func IsNetwork(err error) bool {
	ae, ok := As(err)
	return ok && ae.Kind == KindNetwork
}

// StatusCode returns the HTTP status carried by err, or 0.
func StatusCode(err error) int {
	if ae, ok := As(err); ok {
		return ae.StatusCode
	}
	return 0
}

// UserMessage returns the single string the UI should display for err.
func UserMessage(err error) string {
	if err == nil {
		return ""
	}
	if ae, ok := As(err); ok && ae.Message != "" {
		return ae.Message
	}
	return MsgUnexpected
}
