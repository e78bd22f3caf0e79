package computor

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"
)

// Request describes a single API call. Endpoint-relative URLs are resolved
// against the client base URL; Query values of nil are silently dropped.
// Once handed to Execute a request is only mutated by request interceptors.
type Request struct {
	Method  string
	URL     string
	Query   map[string]any
	Header  map[string]string
	Body    any
	Timeout time.Duration

	// CacheTTL overrides the client cache TTL for this request. Zero means
	// use the client default.
	CacheTTL time.Duration

	// resolved dispatch state, filled by the engine before validation
	fullURL  string
	bodyText string
	bodyRaw  []byte
	bodyJSON bool
}

// Response is the decoded outcome of a successful dispatch. Body holds the
// raw bytes; JSON and Value decode it on demand.
type Response struct {
	StatusCode int
	Status     string
	Header     http.Header
	Body       []byte
	FromCache  bool
}

// JSON unmarshals the response body into v.
func (r *Response) JSON(v any) error {
	return json.Unmarshal(r.Body, v)
}

// Value decodes the body according to the response content type: JSON bodies
// become their decoded value, everything else is returned as a string.
func (r *Response) Value() (any, error) {
	if !r.IsJSON() {
		return string(r.Body), nil
	}
	if len(r.Body) == 0 {
		return nil, nil
	}
	var v any
	if err := json.Unmarshal(r.Body, &v); err != nil {
		return nil, err
	}
	return v, nil
}

// Text returns the body as a string.
func (r *Response) Text() string {
	return string(r.Body)
}

// IsJSON reports whether the Content-Type header indicates a JSON body.
func (r *Response) IsJSON() bool {
	ct := r.Header.Get("Content-Type")
	return strings.Contains(ct, "application/json") || strings.Contains(ct, "+json")
}

// IsSuccess reports whether the status code is in the 2xx range.
func (r *Response) IsSuccess() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}

// RequestInterceptor runs before validation and dispatch. It may mutate the
// request or abort the call by returning an error.
type RequestInterceptor func(ctx context.Context, req *Request) error

// ResponseInterceptor runs after a successful dispatch, in registration
// order, before the response is cached or returned.
type ResponseInterceptor func(ctx context.Context, resp *Response) error

// Middleware wraps the HTTP transport. Unlike interceptors, middleware runs
// once per attempt, so retries pass through it again.
type Middleware func(req *http.Request, next RoundTripper) (*http.Response, error)

// RoundTripper represents the HTTP transport interface
type RoundTripper interface {
	RoundTrip(*http.Request) (*http.Response, error)
}

// RoundTripperFunc is a helper type for middleware
type RoundTripperFunc func(*http.Request) (*http.Response, error)

func (f RoundTripperFunc) RoundTrip(req *http.Request) (*http.Response, error) {
	return f(req)
}

// CacheCondition determines whether a request should be cached
type CacheCondition func(req *Request) bool

// CacheKeyFunc derives the cache identity of a request. The request passed in
// is already resolved, so req.URL is absolute.
type CacheKeyFunc func(req *Request) string

// DedupKeyFunc builds a key identifying identical in-flight requests.
type DedupKeyFunc func(req *Request) string

// DedupCondition decides whether a request is eligible for coalescing.
type DedupCondition func(req *Request) bool

// Context keys for per-call cache control
type contextKey string

const cacheControlKey contextKey = "computor_cache_control"

// CacheControl holds cache control options for a single call.
type CacheControl struct {
	Enabled bool
	TTL     time.Duration
}

// WithContextCacheEnabled forces cache participation for calls made with ctx.
func WithContextCacheEnabled(ctx context.Context) context.Context {
	return context.WithValue(ctx, cacheControlKey, &CacheControl{Enabled: true})
}

// WithContextCacheDisabled bypasses the cache for calls made with ctx.
func WithContextCacheDisabled(ctx context.Context) context.Context {
	return context.WithValue(ctx, cacheControlKey, &CacheControl{Enabled: false})
}

// WithContextCacheTTL enables caching with a per-call TTL.
func WithContextCacheTTL(ctx context.Context, ttl time.Duration) context.Context {
	return context.WithValue(ctx, cacheControlKey, &CacheControl{Enabled: true, TTL: ttl})
}

func cacheControlFrom(ctx context.Context) (*CacheControl, bool) {
	cc, ok := ctx.Value(cacheControlKey).(*CacheControl)
	return cc, ok
}

// Option represents a configuration option
type Option func(*Client)
