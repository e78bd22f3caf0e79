package computor

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// Error type tags carried by ClientError.Type. Callers branch on these to
// decide between retry, re-authentication, and surfacing.
const (
	ErrorTypeValidation     = "Validation"
	ErrorTypeAuthentication = "Authentication"
	ErrorTypeNetwork        = "Network"
	ErrorTypeTimeout        = "Timeout"
	ErrorTypeHTTP           = "HTTP"
	ErrorTypeRateLimit      = "RateLimit"
	ErrorTypeCircuitOpen    = "CircuitOpen"
)

// maxErrorBodyBytes caps how much of an error response body is captured for
// diagnostics.
const maxErrorBodyBytes = 64 << 10

// Sentinel errors for common failure scenarios
var (
	// ErrCircuitOpen is returned when the circuit breaker is in open state
	ErrCircuitOpen = errors.New("computor: circuit open")

	// ErrRateLimited is returned when a request is denied by the local rate limiter
	ErrRateLimited = errors.New("computor: rate limited")

	// ErrRetryBudgetExceeded is returned when the retry budget is exhausted
	ErrRetryBudgetExceeded = errors.New("computor: retry budget exceeded")
)

// ClientError is the single error type produced by the client. Type tags the
// failure category; HTTP failures additionally carry the status line and raw
// response body.
type ClientError struct {
	Type    string
	Message string
	Cause   error

	// HTTP failure context, zero unless Type == ErrorTypeHTTP.
	StatusCode int
	Status     string
	Body       []byte

	// Request diagnostics, filled by the engine when available.
	RequestID   string
	Method      string
	URL         string
	Attempt     int
	MaxAttempts int
	Timestamp   time.Time
	Duration    time.Duration
}

// Error implements error interface.
func (e *ClientError) Error() string {
	if e == nil {
		return "<nil>"
	}
	msg := fmt.Sprintf("%s: %s", e.Type, e.Message)
	if e.Cause != nil {
		msg = fmt.Sprintf("%s (%v)", msg, e.Cause)
	}
	if e.RequestID != "" {
		msg = fmt.Sprintf("[%s] %s", e.RequestID, msg)
	}
	if e.Attempt > 0 {
		msg = fmt.Sprintf("%s (attempt %d/%d)", msg, e.Attempt, e.MaxAttempts)
	}
	return msg
}

// Unwrap returns the underlying cause.
func (e *ClientError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

// Is compares error types for errors.Is.
func (e *ClientError) Is(target error) bool {
	if e == nil {
		return false
	}
	if targetErr, ok := target.(*ClientError); ok {
		return e.Type == targetErr.Type
	}
	return false
}

// DebugInfo renders a multi-line string with diagnostic context.
func (e *ClientError) DebugInfo() string {
	if e == nil {
		return "Error: <nil>"
	}
	info := fmt.Sprintf("Error Type: %s\n", e.Type)
	info += fmt.Sprintf("Message: %s\n", e.Message)
	if e.RequestID != "" {
		info += fmt.Sprintf("Request ID: %s\n", e.RequestID)
	}
	if e.Method != "" {
		info += fmt.Sprintf("Method: %s\n", e.Method)
	}
	if e.URL != "" {
		info += fmt.Sprintf("URL: %s\n", e.URL)
	}
	if e.StatusCode > 0 {
		info += fmt.Sprintf("Status Code: %d\n", e.StatusCode)
	}
	if e.Attempt > 0 {
		info += fmt.Sprintf("Attempt: %d/%d\n", e.Attempt, e.MaxAttempts)
	}
	if !e.Timestamp.IsZero() {
		info += fmt.Sprintf("Timestamp: %s\n", e.Timestamp.Format(time.RFC3339))
	}
	if e.Duration > 0 {
		info += fmt.Sprintf("Duration: %v\n", e.Duration)
	}
	if e.Cause != nil {
		info += fmt.Sprintf("Cause: %v\n", e.Cause)
	}
	return info
}

func newError(errorType, message string, cause error) *ClientError {
	return &ClientError{
		Type:      errorType,
		Message:   message,
		Cause:     cause,
		Timestamp: time.Now(),
	}
}

func newValidationError(message string) *ClientError {
	return newError(ErrorTypeValidation, message, nil)
}

func newAuthError(message string, cause error) *ClientError {
	return newError(ErrorTypeAuthentication, message, cause)
}

// newHTTPError builds a ClientError from a non-2xx response. Any structured
// detail found in the body is folded into the message for diagnostics.
func newHTTPError(statusCode int, status string, body []byte) *ClientError {
	message := "server returned " + status
	if status == "" {
		message = fmt.Sprintf("server returned status %d", statusCode)
	}
	if detail := extractErrorDetail(body); detail != "" {
		message += ": " + detail
	}
	err := newError(ErrorTypeHTTP, message, nil)
	err.StatusCode = statusCode
	err.Status = status
	err.Body = body
	return err
}

// extractErrorDetail pulls a human-readable detail string out of a JSON error
// body. Recognized shapes under the "detail" key: a plain string, a list of
// messages (strings or {message} objects, joined with "; "), or a single
// {message} object. Returns "" when nothing usable is found.
func extractErrorDetail(body []byte) string {
	if len(body) == 0 {
		return ""
	}

	var payload map[string]any
	if err := json.Unmarshal(body, &payload); err != nil {
		return ""
	}

	switch detail := payload["detail"].(type) {
	case string:
		return detail
	case []any:
		parts := make([]string, 0, len(detail))
		for _, item := range detail {
			switch v := item.(type) {
			case string:
				parts = append(parts, v)
			case map[string]any:
				if msg, ok := v["message"].(string); ok {
					parts = append(parts, msg)
				} else if msg, ok := v["msg"].(string); ok {
					parts = append(parts, msg)
				}
			}
		}
		return strings.Join(parts, "; ")
	case map[string]any:
		if msg, ok := detail["message"].(string); ok {
			return msg
		}
	}

	return ""
}

// IsRetryable reports whether an error represents a transient failure that
// might succeed on retry. True for network errors, timeouts, 5xx responses,
// HTTP 429, and local rate limit / circuit breaker denials. False for other
// 4xx responses, validation errors, and authentication failures.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, ErrCircuitOpen) || errors.Is(err, ErrRateLimited) || errors.Is(err, ErrRetryBudgetExceeded) {
		return true
	}

	var clientErr *ClientError
	if errors.As(err, &clientErr) {
		switch clientErr.Type {
		case ErrorTypeNetwork, ErrorTypeTimeout, ErrorTypeRateLimit, ErrorTypeCircuitOpen:
			return true
		case ErrorTypeHTTP:
			return clientErr.StatusCode == http.StatusTooManyRequests || clientErr.StatusCode >= 500
		default:
			return false
		}
	}

	return false
}

// IsValidationError reports whether err is a request or configuration
// validation failure.
func IsValidationError(err error) bool { return hasErrorType(err, ErrorTypeValidation) }

// IsAuthenticationError reports whether err originated from an auth strategy:
// missing credentials, failed verification, or a failed token refresh.
func IsAuthenticationError(err error) bool { return hasErrorType(err, ErrorTypeAuthentication) }

// IsNetworkError reports whether err was a transport-level failure.
func IsNetworkError(err error) bool { return hasErrorType(err, ErrorTypeNetwork) }

// IsTimeoutError reports whether err was an attempt exceeding its timeout.
func IsTimeoutError(err error) bool { return hasErrorType(err, ErrorTypeTimeout) }

// IsHTTPError reports whether err carries a non-2xx HTTP response.
func IsHTTPError(err error) bool { return hasErrorType(err, ErrorTypeHTTP) }

// IsRateLimitError reports whether err was a rate limit or retry budget
// denial.
func IsRateLimitError(err error) bool { return hasErrorType(err, ErrorTypeRateLimit) }

// IsCircuitOpenError reports whether err was shed by an open circuit breaker.
func IsCircuitOpenError(err error) bool { return hasErrorType(err, ErrorTypeCircuitOpen) }

// HTTPStatus extracts the status code from an HTTP error, returning false for
// every other error shape.
func HTTPStatus(err error) (int, bool) {
	var clientErr *ClientError
	if errors.As(err, &clientErr) && clientErr.Type == ErrorTypeHTTP {
		return clientErr.StatusCode, true
	}
	return 0, false
}

func hasErrorType(err error, errorType string) bool {
	var clientErr *ClientError
	return errors.As(err, &clientErr) && clientErr.Type == errorType
}
