package client

import (
	"errors"
	"fmt"
	"net/http"
)

// Common errors returned by the client.
var (
	// ErrRetryExhausted is returned when all retry attempts are exhausted.
	ErrRetryExhausted = errors.New("retry attempts exhausted")

	// ErrContextCancelled is returned when the context is cancelled during retry.
	ErrContextCancelled = errors.New("context cancelled")

	// ErrInvalidConfig is returned by New for unusable configurations.
	ErrInvalidConfig = errors.New("invalid client config")
)

// ErrorClass represents a classification of fetch errors.
type ErrorClass string

const (
	// ErrorClassClient represents 4xx client errors.
	ErrorClassClient ErrorClass = "client"

	// ErrorClassServer represents 5xx server errors.
	ErrorClassServer ErrorClass = "server"

	// ErrorClassNetwork represents network/timeout errors.
	ErrorClassNetwork ErrorClass = "network"

	// ErrorClassParse represents malformed response bodies.
	ErrorClassParse ErrorClass = "parse"
)

// HTTPError is returned when the source answers with anything but 200 or
// cannot be reached at all (StatusCode 0, Err set).
type HTTPError struct {
	StatusCode int
	URL        string
	ErrorClass ErrorClass
	Err        error
}

// Error implements the error interface.
func (e *HTTPError) Error() string {
	if e.StatusCode == 0 {
		return fmt.Sprintf("NVD %s error when accessing URL %s: %v", e.ErrorClass, e.URL, e.Err)
	}
	return fmt.Sprintf("NVD %s error (status %d %s) when accessing URL %s",
		e.ErrorClass, e.StatusCode, http.StatusText(e.StatusCode), e.URL)
}

// Unwrap implements error unwrapping for errors.Is/As.
func (e *HTTPError) Unwrap() error {
	return e.Err
}

// Transient reports whether retrying the same request may succeed.
func (e *HTTPError) Transient() bool {
	return shouldRetry(e.ErrorClass)
}

// ParseError is returned when a 200 response has a body that is not a
// valid result page.
type ParseError struct {
	URL string
	Err error
}

// Error implements the error interface.
func (e *ParseError) Error() string {
	return fmt.Sprintf("invalid JSON response received from URL %s: %v", e.URL, e.Err)
}

// Unwrap implements error unwrapping for errors.Is/As.
func (e *ParseError) Unwrap() error {
	return e.Err
}

// classifyStatus maps a non-200 status to an error class.
func classifyStatus(status int) ErrorClass {
	switch {
	case status >= 500:
		return ErrorClassServer
	default:
		return ErrorClassClient
	}
}

// classifyError returns the class of err, or "" when err is not a fetch error.
func classifyError(err error) ErrorClass {
	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		return httpErr.ErrorClass
	}
	var parseErr *ParseError
	if errors.As(err, &parseErr) {
		return ErrorClassParse
	}
	return ""
}

// shouldRetry determines if an error should be retried based on its classification.
func shouldRetry(errorClass ErrorClass) bool {
	switch errorClass {
	case ErrorClassServer, ErrorClassNetwork:
		return true
	default:
		// 4xx and malformed bodies fail the same way every time
		return false
	}
}
