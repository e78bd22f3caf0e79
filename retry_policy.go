package computor

import (
	"net/http"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/computor-org/computor-client-go/internal/backoff"
)

// RetryCondition determines whether a failed attempt should be retried under
// the client's built-in backoff.
type RetryCondition func(resp *Response, err error) bool

// DefaultRetryCondition retries exactly the transient failure classes:
// timeouts, network errors, HTTP 429, and HTTP 5xx.
func DefaultRetryCondition(resp *Response, err error) bool {
	return IsRetryable(err)
}

// RetryPolicy decides whether and when to retry a failed attempt. It replaces
// the built-in condition + backoff pair when configured.
type RetryPolicy interface {
	// ShouldRetry returns the delay before the next attempt and whether to
	// retry at all. err carries the classified failure of this attempt; resp
	// is non-nil when a response was received.
	ShouldRetry(req *Request, resp *Response, err error, attempt int) (time.Duration, bool)
}

// BackoffStrategy selects the delay algorithm used by DefaultRetryPolicy.
type BackoffStrategy int

const (
	// ExponentialJitterBackoff grows delays exponentially with uniform jitter.
	ExponentialJitterBackoff BackoffStrategy = iota
	// DecorrelatedJitterBackoff draws delays from a widening uniform range.
	DecorrelatedJitterBackoff
)

// DefaultRetryPolicy retries transient failures on idempotent methods with a
// configurable backoff strategy, honoring Retry-After on 429/503 responses.
type DefaultRetryPolicy struct {
	maxRetries        int
	initialBackoff    time.Duration
	maxBackoff        time.Duration
	backoffMultiplier float64
	jitter            float64
	strategy          backoff.Strategy
	isIdempotent      func(method string) bool
}

// NewDefaultRetryPolicy creates a retry policy with exponential jitter backoff
// that only retries idempotent methods.
func NewDefaultRetryPolicy(maxRetries int, initialBackoff, maxBackoff time.Duration, multiplier, jitter float64) *DefaultRetryPolicy {
	return NewDefaultRetryPolicyWithStrategy(maxRetries, initialBackoff, maxBackoff, multiplier, jitter, ExponentialJitterBackoff)
}

// NewDefaultRetryPolicyWithStrategy creates a retry policy with a specific
// backoff strategy.
func NewDefaultRetryPolicyWithStrategy(maxRetries int, initialBackoff, maxBackoff time.Duration, multiplier, jitter float64, strategy BackoffStrategy) *DefaultRetryPolicy {
	policy := &DefaultRetryPolicy{
		maxRetries:        maxRetries,
		initialBackoff:    initialBackoff,
		maxBackoff:        maxBackoff,
		backoffMultiplier: multiplier,
		jitter:            jitter,
		isIdempotent:      DefaultIsIdempotent,
	}

	switch strategy {
	case DecorrelatedJitterBackoff:
		policy.strategy = backoff.DecorrelatedJitter{}
	default:
		policy.strategy = backoff.ExponentialJitter{}
	}

	return policy
}

// ShouldRetry implements the RetryPolicy interface.
func (p *DefaultRetryPolicy) ShouldRetry(req *Request, resp *Response, err error, attempt int) (time.Duration, bool) {
	if attempt >= p.maxRetries {
		return 0, false
	}

	if req != nil && !p.isIdempotent(req.Method) {
		return 0, false
	}

	if !IsRetryable(err) {
		return 0, false
	}

	// Honor server pacing before falling back to computed backoff.
	var delay time.Duration
	if resp != nil && (resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode == http.StatusServiceUnavailable) {
		delay = parseRetryAfter(resp.Header.Get("Retry-After"))
	}
	if delay == 0 {
		delay = p.strategy.Calculate(attempt, p.initialBackoff, p.maxBackoff, p.backoffMultiplier, p.jitter)
	}

	return delay, true
}

// DefaultIsIdempotent returns true for idempotent HTTP methods.
func DefaultIsIdempotent(method string) bool {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodPut, http.MethodDelete, http.MethodOptions:
		return true
	default:
		return false
	}
}

// parseRetryAfter parses the Retry-After header value. It supports both the
// delay-seconds format and the HTTP-date format, capped at one hour.
func parseRetryAfter(value string) time.Duration {
	if value == "" {
		return 0
	}

	if seconds, err := strconv.Atoi(strings.TrimSpace(value)); err == nil {
		if seconds > 0 {
			delay := time.Duration(seconds) * time.Second
			if delay > time.Hour {
				delay = time.Hour
			}
			return delay
		}
		return 0
	}

	if t, err := http.ParseTime(value); err == nil {
		delay := time.Until(t)
		if delay > 0 && delay <= time.Hour {
			return delay
		}
	}

	return 0
}

// RetryBudget caps the total number of retries issued per rolling window,
// protecting a struggling backend from synchronized retry storms.
type RetryBudget struct {
	maxRetries  int64
	perWindow   time.Duration
	current     int64
	windowStart int64
}

// NewRetryBudget creates a retry budget allowing maxRetries per window.
func NewRetryBudget(maxRetries int, perWindow time.Duration) *RetryBudget {
	return &RetryBudget{
		maxRetries:  int64(maxRetries),
		perWindow:   perWindow,
		windowStart: time.Now().UnixNano(),
	}
}

// Allow checks if a retry is allowed under the current budget.
func (rb *RetryBudget) Allow() bool {
	now := time.Now().UnixNano()
	windowStart := atomic.LoadInt64(&rb.windowStart)

	if now-windowStart >= int64(rb.perWindow) {
		if atomic.CompareAndSwapInt64(&rb.windowStart, windowStart, now) {
			atomic.StoreInt64(&rb.current, 0)
		}
	}

	current := atomic.LoadInt64(&rb.current)
	if current >= rb.maxRetries {
		return false
	}

	return atomic.AddInt64(&rb.current, 1) <= rb.maxRetries
}

// Stats returns the current usage, limit, and window start.
func (rb *RetryBudget) Stats() (current, max int64, windowStart time.Time) {
	return atomic.LoadInt64(&rb.current),
		rb.maxRetries,
		time.Unix(0, atomic.LoadInt64(&rb.windowStart))
}
