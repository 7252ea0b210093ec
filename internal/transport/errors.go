package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/feedbackkit/fb/internal/validation"
)

// maxErrorBody bounds how much of a response body is echoed in Error().
const maxErrorBody = 512

// HTTPError is a response with status >= 400. Server-class statuses are
// retryable; client-class statuses are terminal.
type HTTPError struct {
	Method     string
	URL        string
	StatusCode int
	Body       []byte
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("%s %s returned %d: %s", e.Method, e.URL, e.StatusCode, e.Message())
}

// Retryable reports whether the status is server-class.
func (e *HTTPError) Retryable() bool {
	return e.StatusCode >= 500
}

// Message extracts a human-readable message from common JSON error shapes,
// falling back to the raw body.
func (e *HTTPError) Message() string {
	if gjson.ValidBytes(e.Body) {
		for _, path := range []string{"errorMessages.0", "error.message", "error_description", "message", "error"} {
			if r := gjson.GetBytes(e.Body, path); r.Exists() && r.Type == gjson.String && r.String() != "" {
				return r.String()
			}
		}
		if errs := gjson.GetBytes(e.Body, "errors"); errs.IsObject() {
			var parts []string
			errs.ForEach(func(k, v gjson.Result) bool {
				parts = append(parts, k.String()+": "+v.String())
				return true
			})
			if len(parts) > 0 {
				return strings.Join(parts, "; ")
			}
		}
	}
	body := strings.TrimSpace(string(e.Body))
	if len(body) > maxErrorBody {
		body = body[:maxErrorBody] + "..."
	}
	return body
}

// NetworkError is a dial, read or per-attempt timeout failure. It is always
// retryable.
type NetworkError struct {
	Method  string
	URL     string
	Err     error
	timeout bool
}

func (e *NetworkError) Error() string {
	if e.timeout {
		return fmt.Sprintf("%s %s: attempt timed out: %v", e.Method, e.URL, e.Err)
	}
	return fmt.Sprintf("%s %s: %v", e.Method, e.URL, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// Timeout reports whether the attempt hit its deadline.
func (e *NetworkError) Timeout() bool { return e.timeout }

// IsRetryable classifies err as transient.
func IsRetryable(err error) bool {
	if err == nil || validation.Is(err) {
		return false
	}
	var he *HTTPError
	if errors.As(err, &he) {
		return he.Retryable()
	}
	var ne *NetworkError
	if errors.As(err, &ne) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	return errors.Is(err, context.DeadlineExceeded)
}

// StatusCode returns the HTTP status carried by err, or 0.
func StatusCode(err error) int {
	var he *HTTPError
	if errors.As(err, &he) {
		return he.StatusCode
	}
	return 0
}
