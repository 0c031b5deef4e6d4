package transport

import (
	"errors"
	"fmt"
	"time"
)

// ErrInvalidJSON is returned when a successful response does not carry a JSON body.
var ErrInvalidJSON = errors.New("response body is not valid JSON")

// TimeoutError means the request did not complete within its deadline.
type TimeoutError struct {
	Method string
	URL    string
	// The transport deadline that fired, or 0 when the caller's deadline fired first.
	Timeout time.Duration
	Err     error
}

func (e *TimeoutError) Error() string {
	if e.Timeout <= 0 {
		return fmt.Sprintf("%s %s: caller deadline exceeded", e.Method, e.URL)
	}
	return fmt.Sprintf("%s %s: timed out after %s", e.Method, e.URL, e.Timeout)
}

func (e *TimeoutError) Unwrap() error { return e.Err }

// HTTPError is a response with a non-2xx status.
type HTTPError struct {
	Method     string
	URL        string
	StatusCode int
	Body       []byte
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("%s %s: unexpected status %d", e.Method, e.URL, e.StatusCode)
}

// AuthError is a 401 response. The session may have expired;
// redirecting or clearing the session is up to the caller.
type AuthError struct {
	HTTPError
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("%s %s: unauthorized", e.Method, e.URL)
}

// NetworkError is a connection level failure.
type NetworkError struct {
	Method string
	URL    string
	Err    error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Method, e.URL, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// IsTimeout reports whether err is, or wraps, a TimeoutError.
func IsTimeout(err error) bool {
	var te *TimeoutError
	return errors.As(err, &te)
}

// IsAuth reports whether err is, or wraps, an AuthError.
func IsAuth(err error) bool {
	var ae *AuthError
	return errors.As(err, &ae)
}

// StatusCode returns the HTTP status carried by err, or 0 if there is none.
func StatusCode(err error) int {
	var ae *AuthError
	if errors.As(err, &ae) {
		return ae.StatusCode
	}
	var he *HTTPError
	if errors.As(err, &he) {
		return he.StatusCode
	}
	return 0
}
