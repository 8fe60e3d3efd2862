package client

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestShouldRetry(t *testing.T) {
	tests := []struct {
		name       string
		errorClass ErrorClass
		expected   bool
	}{
		{
			name:       "client error should not retry",
			errorClass: ErrorClassClient,
			expected:   false,
		},
		{
			name:       "server error should retry",
			errorClass: ErrorClassServer,
			expected:   true,
		},
		{
			name:       "network error should retry",
			errorClass: ErrorClassNetwork,
			expected:   true,
		},
		{
			name:       "parse error should not retry",
			errorClass: ErrorClassParse,
			expected:   false,
		},
		{
			name:       "empty error class should not retry",
			errorClass: "",
			expected:   false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := shouldRetry(tt.errorClass)
			if result != tt.expected {
				t.Errorf("shouldRetry(%q) = %v, want %v", tt.errorClass, result, tt.expected)
			}
		})
	}
}

func TestClassifyStatus(t *testing.T) {
	tests := []struct {
		status   int
		expected ErrorClass
	}{
		{status: 400, expected: ErrorClassClient},
		{status: 403, expected: ErrorClassClient},
		{status: 404, expected: ErrorClassClient},
		{status: 429, expected: ErrorClassClient},
		{status: 302, expected: ErrorClassClient},
		{status: 500, expected: ErrorClassServer},
		{status: 503, expected: ErrorClassServer},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("status_%d", tt.status), func(t *testing.T) {
			if got := classifyStatus(tt.status); got != tt.expected {
				t.Errorf("classifyStatus(%d) = %q, want %q", tt.status, got, tt.expected)
			}
		})
	}
}

func TestClassifyError(t *testing.T) {
	httpErr := &HTTPError{StatusCode: 502, URL: "u", ErrorClass: ErrorClassServer}
	wrapped := fmt.Errorf("page 3: %w", httpErr)

	if got := classifyError(wrapped); got != ErrorClassServer {
		t.Errorf("classifyError(wrapped HTTPError) = %q, want server", got)
	}
	if got := classifyError(&ParseError{URL: "u"}); got != ErrorClassParse {
		t.Errorf("classifyError(ParseError) = %q, want parse", got)
	}
	if got := classifyError(errors.New("other")); got != "" {
		t.Errorf("classifyError(other) = %q, want empty", got)
	}
}

func TestHTTPError_Error(t *testing.T) {
	tests := []struct {
		name     string
		err      *HTTPError
		contains []string
	}{
		{
			name: "status error",
			err: &HTTPError{
				StatusCode: 503,
				URL:        "https://nvd.test/cves?startIndex=2000",
				ErrorClass: ErrorClassServer,
			},
			contains: []string{"503", "Service Unavailable", "startIndex=2000", "server"},
		},
		{
			name: "network error",
			err: &HTTPError{
				URL:        "https://nvd.test/cves",
				ErrorClass: ErrorClassNetwork,
				Err:        errors.New("connection refused"),
			},
			contains: []string{"network", "connection refused", "https://nvd.test/cves"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg := tt.err.Error()
			for _, want := range tt.contains {
				if !strings.Contains(msg, want) {
					t.Errorf("Error() = %q, want it to contain %q", msg, want)
				}
			}
		})
	}
}

func TestHTTPError_Unwrap(t *testing.T) {
	inner := errors.New("dial tcp: timeout")
	err := &HTTPError{URL: "u", ErrorClass: ErrorClassNetwork, Err: inner}

	if !errors.Is(err, inner) {
		t.Error("errors.Is should find the wrapped network error")
	}
	if !err.Transient() {
		t.Error("network errors should be transient")
	}
	if (&HTTPError{StatusCode: 404, ErrorClass: ErrorClassClient}).Transient() {
		t.Error("4xx errors should not be transient")
	}
}

func TestParseError(t *testing.T) {
	inner := errors.New("vulnerabilities missing")
	err := &ParseError{URL: "https://nvd.test/cves?startIndex=0", Err: inner}

	if !strings.Contains(err.Error(), "startIndex=0") {
		t.Errorf("Error() = %q, want URL included", err.Error())
	}
	if !errors.Is(err, inner) {
		t.Error("errors.Is should find the wrapped cause")
	}
}
