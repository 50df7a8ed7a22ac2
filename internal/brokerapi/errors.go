package brokerapi

import (
	"errors"
	"fmt"
)

// RequestError is a 4xx rejection from the API. The request should not be
// retried unchanged.
type RequestError struct {
	StatusCode int
	Message    string
}

func (e *RequestError) Error() string {
	return fmt.Sprintf("request rejected with status %d: %s", e.StatusCode, e.Message)
}

// ServerError is a 5xx failure from the API.
type ServerError struct {
	StatusCode int
	Message    string
}

func (e *ServerError) Error() string {
	return fmt.Sprintf("server error with status %d: %s", e.StatusCode, e.Message)
}

// IsRequestError reports whether err wraps a *RequestError.
func IsRequestError(err error) bool {
	var target *RequestError
	return errors.As(err, &target)
}

// IsServerError reports whether err wraps a *ServerError.
func IsServerError(err error) bool {
	var target *ServerError
	return errors.As(err, &target)
}

func newStatusError(status int, message string) error {
	if status >= 500 {
		return &ServerError{StatusCode: status, Message: message}
	}
	return &RequestError{StatusCode: status, Message: message}
}
