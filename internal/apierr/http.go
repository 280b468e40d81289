package apierr

import (
	"encoding/json"
	"fmt"
)

// ClassifyHTTPError determines whether an HTTP error should be retried.
//   - 4xx client errors (except 408 and 429) are irrecoverable
//   - 5xx server errors are recoverable
//   - unexpected status codes are recoverable
func ClassifyHTTPError(statusCode int, body []byte, underlyingErr error) *APIError {
	return &APIError{
		Kind:       KindServer,
		Category:   getHTTPErrorCategory(statusCode),
		StatusCode: statusCode,
		Message:    serverMessage(statusCode, body),
		Body:       body,
		Underlying: underlyingErr,
	}
}

// getHTTPErrorCategory maps HTTP status codes to error categories.
func getHTTPErrorCategory(statusCode int) ErrorCategory {
	switch {
	case statusCode >= 400 && statusCode < 500:
		switch statusCode {
		case 408, 429:
			return Recoverable
		default:
			return Irrecoverable
		}
	case statusCode >= 500 && statusCode < 600:
		return Recoverable
	default:
		return Recoverable
	}
}

// serverMessage prefers the backend's {"message": "..."} field.
func serverMessage(statusCode int, body []byte) string {
	var payload struct {
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	if len(body) > 0 && json.Unmarshal(body, &payload) == nil {
		if payload.Message != "" {
			return payload.Message
		}
		if payload.Error != "" {
			return payload.Error
		}
	}
	return fmt.Sprintf("Request failed with status code %d", statusCode)
}

// NewHTTPError creates a classified error for a non-2xx response.
func NewHTTPError(statusCode int, body []byte, operation string) *APIError {
	underlyingErr := fmt.Errorf("%s failed: HTTP %d", operation, statusCode)
	return ClassifyHTTPError(statusCode, body, underlyingErr)
}

// NewNetworkError creates a classified error for network-level failures.
// Network errors are always recoverable as they may be transient.
func NewNetworkError(operation string, err error) *APIError {
	return &APIError{
		Kind:       KindNetwork,
		Category:   Recoverable,
		Message:    MsgNetwork,
		Underlying: fmt.Errorf("%s network error: %w", operation, err),
	}
}

// NewRequestError creates an error for requests that could not be built.
// Retrying cannot fix these.
func NewRequestError(operation string, err error) *APIError {
	msg := MsgUnexpected
	if err != nil && err.Error() != "" {
		msg = err.Error()
	}
	return &APIError{
		Kind:       KindRequest,
		Category:   Irrecoverable,
		Message:    msg,
		Underlying: fmt.Errorf("%s: %w", operation, err),
	}
}
