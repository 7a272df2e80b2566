package api

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies a failed API call
type Kind string

const (
	// KindTransport means no response was received (network error, timeout, cancellation)
	KindTransport Kind = "transport"
	// KindStatus means the backend answered with a non-2xx status
	KindStatus Kind = "status"
	// KindDecode means the response body was not the expected JSON
	KindDecode Kind = "decode"
)

// Error is returned by every client method on failure
type Error struct {
	Kind       Kind
	Method     string
	Path       string
	StatusCode int // 0 unless Kind is KindStatus
	Message    string
	Err        error
}

func (e *Error) Error() string {
	if e.Kind == KindStatus {
		return fmt.Sprintf("%s %s: API request failed with status %d: %s", e.Method, e.Path, e.StatusCode, e.Message)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s %s: %s: %v", e.Method, e.Path, e.Message, e.Err)
	}
	return fmt.Sprintf("%s %s: %s", e.Method, e.Path, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// StatusCode returns the HTTP status carried by err, or 0
func StatusCode(err error) int {
	var apiErr *Error
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode
	}
	return 0
}

// IsKind reports whether err is an *Error of the given kind
func IsKind(err error, kind Kind) bool {
	var apiErr *Error
	return errors.As(err, &apiErr) && apiErr.Kind == kind
}

// IsUnauthorized reports whether the backend rejected the API key
func IsUnauthorized(err error) bool {
	code := StatusCode(err)
	return code == http.StatusUnauthorized || code == http.StatusForbidden
}
