package computor

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/computor-org/computor-client-go/internal/backoff"
)

// maxResponseBytes caps how much of a response body is read into memory.
const maxResponseBytes = 10 << 20

// Client is an authenticated API client that layers retries, circuit
// breaking, rate limiting, response caching, request de-duplication,
// interceptors, middleware and metrics around the standard net/http Client.
// It is safe for concurrent use.
type Client struct {
	httpClient     *http.Client
	baseURL        string
	defaultHeaders map[string]string
	auth           AuthStrategy

	requestInterceptors  []RequestInterceptor
	responseInterceptors []ResponseInterceptor
	middleware           []Middleware

	maxRetries        int
	initialBackoff    time.Duration
	maxBackoff        time.Duration
	backoffMultiplier float64
	jitter            float64
	timeout           time.Duration
	retryCondition    RetryCondition
	retryPolicy       RetryPolicy
	retryBudget       *RetryBudget

	circuitBreaker *CircuitBreaker
	rateLimiter    *RateLimiter
	rateLimiters   *RateLimiterRegistry

	cache              Cache
	cacheTTL           time.Duration
	cacheKeyFunc       CacheKeyFunc
	cacheCondition     CacheCondition
	httpCacheSemantics bool

	deduplication  *DedupTracker
	dedupKeyFunc   DedupKeyFunc
	dedupCondition DedupCondition

	metrics *MetricsCollector
	debug   *DebugConfig
	logger  Logger

	validationError error
}

// New constructs a Client using the provided functional options. A best
// effort validation is performed; call IsValid / ValidationError for errors.
func New(options ...Option) *Client {
	client := &Client{
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		defaultHeaders:    map[string]string{},
		auth:              NoAuth{},
		maxRetries:        3,
		initialBackoff:    100 * time.Millisecond,
		maxBackoff:        10 * time.Second,
		backoffMultiplier: 2.0,
		jitter:            0.1,
		timeout:           30 * time.Second,
		retryCondition:    DefaultRetryCondition,
		circuitBreaker:    NewCircuitBreaker(CircuitBreakerConfig{}),
		middleware:        []Middleware{},
		cacheTTL:          5 * time.Minute,
		cacheKeyFunc:      DefaultCacheKeyFunc,
		cacheCondition:    DefaultCacheCondition,
		dedupKeyFunc:      DefaultDedupKeyFunc,
		dedupCondition:    DefaultDedupCondition,
		debug:             DefaultDebugConfig(),
	}

	for _, option := range options {
		option(client)
	}

	if err := client.ValidateConfiguration(); err != nil {
		client.validationError = err
	}

	return client
}

// Get performs a GET against endpoint with optional query parameters.
func (c *Client) Get(ctx context.Context, endpoint string, params map[string]any) (*Response, error) {
	return c.Execute(ctx, &Request{Method: http.MethodGet, URL: endpoint, Query: params})
}

// Post performs a POST with body serialized as JSON unless it is a string or
// byte slice.
func (c *Client) Post(ctx context.Context, endpoint string, body any) (*Response, error) {
	return c.Execute(ctx, &Request{Method: http.MethodPost, URL: endpoint, Body: body})
}

// Put performs a PUT with the given body.
func (c *Client) Put(ctx context.Context, endpoint string, body any) (*Response, error) {
	return c.Execute(ctx, &Request{Method: http.MethodPut, URL: endpoint, Body: body})
}

// Patch performs a PATCH with the given body.
func (c *Client) Patch(ctx context.Context, endpoint string, body any) (*Response, error) {
	return c.Execute(ctx, &Request{Method: http.MethodPatch, URL: endpoint, Body: body})
}

// Delete performs a DELETE against endpoint.
func (c *Client) Delete(ctx context.Context, endpoint string) (*Response, error) {
	return c.Execute(ctx, &Request{Method: http.MethodDelete, URL: endpoint})
}

// Authenticate establishes a session with the configured auth strategy.
func (c *Client) Authenticate(ctx context.Context) error {
	if c.auth == nil {
		return nil
	}
	return c.auth.Authenticate(ctx)
}

// IsAuthenticated reports whether the configured strategy holds usable
// credentials. A client without an auth strategy is always authenticated.
func (c *Client) IsAuthenticated() bool {
	if c.auth == nil {
		return true
	}
	return c.auth.IsAuthenticated()
}

// Auth returns the configured auth strategy for direct control, such as
// installing tokens obtained out of band.
func (c *Client) Auth() AuthStrategy { return c.auth }

// Cache returns the configured response cache, nil when caching is off.
// Callers invalidate through it: Delete for one entry, Clear for everything.
func (c *Client) Cache() Cache { return c.cache }

// Execute runs a request through the full pipeline: request interceptors,
// validation, de-duplication, cache lookup, auth header merge, the retry loop
// and response interceptors, then caches successful responses.
func (c *Client) Execute(ctx context.Context, req *Request) (*Response, error) {
	start := time.Now()

	if req == nil {
		return nil, newValidationError("request is required")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	var requestID string
	if c.debug != nil && c.debug.Enabled && c.debug.RequestIDGen != nil {
		requestID = c.debug.RequestIDGen()
	}

	for _, interceptor := range c.requestInterceptors {
		if err := interceptor(ctx, req); err != nil {
			return nil, err
		}
	}

	if err := c.resolveRequest(req); err != nil {
		return nil, err
	}

	endpoint := endpointFromURL(req.fullURL)

	if c.debug != nil && c.debug.Enabled && c.debug.LogRequests && c.logger != nil {
		c.logger.Debug("starting request", "requestID", requestID, "method", req.Method, "url", req.fullURL, "endpoint", endpoint)
	}

	if c.metrics != nil {
		c.metrics.RecordRequestStart(req.Method, endpoint)
	}

	dedupEnabled := c.deduplication != nil && c.dedupCondition != nil && c.dedupCondition(req)

	var dedupEntry *DedupEntry
	var dedupOwner bool
	var dedupKey string
	if dedupEnabled {
		dedupKey = c.dedupKeyFunc(req)
		dedupEntry, dedupOwner = c.deduplication.GetOrCreateEntry(dedupKey)

		if !dedupOwner {
			resp, err := dedupEntry.Wait(ctx)

			if c.debug != nil && c.debug.Enabled && c.logger != nil {
				c.logger.Debug("coalesced onto in-flight request", "requestID", requestID, "dedupKey", dedupKey)
			}
			if c.metrics != nil {
				c.metrics.RecordDedupHit(req.Method, endpoint)
				c.metrics.RecordRequestEnd(req.Method, endpoint)
				statusCode := 0
				if resp != nil {
					statusCode = resp.StatusCode
				}
				c.metrics.RecordRequest(req.Method, endpoint, statusCode, time.Since(start))
			}
			return resp, err
		}
	}

	resp, err := c.run(ctx, req, requestID, endpoint, start)

	// The owner must always publish, or waiters hang until their contexts
	// expire.
	if dedupOwner {
		c.deduplication.Complete(dedupKey, resp, err)
	}

	if c.metrics != nil {
		c.metrics.RecordRequestEnd(req.Method, endpoint)
		statusCode := 0
		if resp != nil {
			statusCode = resp.StatusCode
		} else if code, ok := HTTPStatus(err); ok {
			statusCode = code
		}
		c.metrics.RecordRequest(req.Method, endpoint, statusCode, time.Since(start))
	}

	return resp, err
}

// run covers the cacheable part of the pipeline for a single caller: cache
// lookup, auth, retry loop, response interceptors, cache write-through.
func (c *Client) run(ctx context.Context, req *Request, requestID, endpoint string, start time.Time) (*Response, error) {
	cacheEnabled, cacheTTL := c.cachePlan(ctx, req)

	var cacheKey string
	if cacheEnabled {
		cacheKey = c.cacheKeyFunc(req)
		if entry, found := c.cache.Get(cacheKey); found {
			if c.debug != nil && c.debug.Enabled && c.debug.LogCache && c.logger != nil {
				c.logger.Debug("cache hit", "requestID", requestID, "cacheKey", cacheKey)
			}
			if c.metrics != nil {
				c.metrics.RecordCacheHit(req.Method, endpoint)
			}
			return responseFromEntry(entry), nil
		}

		if c.debug != nil && c.debug.Enabled && c.debug.LogCache && c.logger != nil {
			c.logger.Debug("cache miss", "requestID", requestID, "cacheKey", cacheKey)
		}
		if c.metrics != nil {
			c.metrics.RecordCacheMiss(req.Method, endpoint)
		}
	}

	headers, err := c.mergeHeaders(ctx, req, requestID, endpoint)
	if err != nil {
		return nil, err
	}

	resp, err := c.doWithRetry(ctx, req, headers, 0, requestID, endpoint, start)
	if err != nil {
		return nil, err
	}

	for _, interceptor := range c.responseInterceptors {
		if err := interceptor(ctx, resp); err != nil {
			return nil, err
		}
	}

	if cacheEnabled && resp.IsSuccess() {
		c.storeResponse(req, resp, cacheKey, cacheTTL, requestID)
	}

	return resp, nil
}

// mergeHeaders builds the outgoing header set: client defaults, then auth
// strategy headers, then per-request headers, later sources winning.
func (c *Client) mergeHeaders(ctx context.Context, req *Request, requestID, endpoint string) (map[string]string, error) {
	merged := make(map[string]string, len(c.defaultHeaders)+len(req.Header)+1)
	for k, v := range c.defaultHeaders {
		merged[k] = v
	}

	if c.auth != nil {
		authHeaders, err := c.auth.AuthHeaders(ctx)
		if err != nil {
			if c.debug != nil && c.debug.Enabled && c.debug.LogAuth && c.logger != nil {
				c.logger.Warn("auth headers unavailable", "requestID", requestID, "error", err)
			}
			if c.metrics != nil {
				c.metrics.RecordError(ErrorTypeAuthentication, req.Method, endpoint)
			}
			return nil, err
		}
		for k, v := range authHeaders {
			merged[k] = v
		}
	}

	for k, v := range req.Header {
		merged[k] = v
	}
	return merged, nil
}

func (c *Client) doWithRetry(ctx context.Context, req *Request, headers map[string]string, attempt int, requestID, endpoint string, start time.Time) (*Response, error) {
	limiter, scope := c.limiterFor(req)
	if limiter != nil && !limiter.Allow() {
		if c.debug != nil && c.debug.Enabled && c.debug.LogRateLimit && c.logger != nil {
			c.logger.Warn("rate limit exceeded", "requestID", requestID, "endpoint", endpoint, "scope", scope)
		}
		if c.metrics != nil {
			c.metrics.RecordError(ErrorTypeRateLimit, req.Method, endpoint)
		}
		return nil, c.newRequestError(ErrorTypeRateLimit, "rate limit exceeded", ErrRateLimited, req, requestID, attempt, start)
	}

	if limiter != nil && c.metrics != nil {
		if bucket, ok := limiter.(interface{ Tokens() int }); ok {
			c.metrics.RecordRateLimiterTokens(scope, bucket.Tokens())
		}
	}

	if c.circuitBreaker != nil && !c.circuitBreaker.Allow() {
		if c.debug != nil && c.debug.Enabled && c.debug.LogCircuit && c.logger != nil {
			c.logger.Warn("circuit breaker open", "requestID", requestID, "endpoint", endpoint, "state", c.circuitBreaker.State())
		}
		if c.metrics != nil {
			c.metrics.RecordError(ErrorTypeCircuitOpen, req.Method, endpoint)
		}
		return nil, c.newRequestError(ErrorTypeCircuitOpen, "circuit breaker is open", ErrCircuitOpen, req, requestID, attempt, start)
	}

	if attempt > 0 {
		if c.debug != nil && c.debug.Enabled && c.debug.LogRetries && c.logger != nil {
			c.logger.Info("retry attempt", "requestID", requestID, "attempt", attempt, "maxRetries", c.maxRetries, "endpoint", endpoint)
		}
		if c.metrics != nil {
			c.metrics.RecordRetry(req.Method, endpoint, attempt)
		}
	}

	resp, err := c.dispatch(ctx, req, headers)

	failure := false
	if err != nil {
		if code, ok := HTTPStatus(err); ok {
			failure = code >= 500
		} else {
			failure = true
		}
	}

	if c.circuitBreaker != nil {
		if failure {
			c.circuitBreaker.RecordFailure()
		} else {
			c.circuitBreaker.RecordSuccess()
		}
		if c.metrics != nil {
			c.metrics.RecordCircuitBreakerState("default", c.circuitBreaker.State())
		}
	}

	if err != nil && c.metrics != nil {
		var clientErr *ClientError
		if errors.As(err, &clientErr) {
			c.metrics.RecordError(clientErr.Type, req.Method, endpoint)
		}
	}

	var shouldRetry bool
	var delay time.Duration

	if c.retryPolicy != nil {
		delay, shouldRetry = c.retryPolicy.ShouldRetry(req, resp, err, attempt)
	} else {
		shouldRetry = attempt < c.maxRetries && c.retryCondition != nil && c.retryCondition(resp, err)
		if shouldRetry {
			delay = c.calculateBackoff(attempt)
		}
	}

	if shouldRetry {
		if c.retryBudget != nil && !c.retryBudget.Allow() {
			if c.debug != nil && c.debug.Enabled && c.debug.LogRetries && c.logger != nil {
				c.logger.Warn("retry budget exceeded", "requestID", requestID, "endpoint", endpoint)
			}
			if c.metrics != nil {
				c.metrics.RecordRetryBudgetExceeded(endpoint)
			}
			return nil, c.newRequestError(ErrorTypeRateLimit, "retry budget exceeded", ErrRetryBudgetExceeded, req, requestID, attempt, start)
		}

		if c.debug != nil && c.debug.Enabled && c.debug.LogRetries && c.logger != nil {
			c.logger.Info("scheduling retry", "requestID", requestID, "attempt", attempt+1, "backoff", delay, "endpoint", endpoint)
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, c.newRequestError(ErrorTypeTimeout, "request canceled during retry wait", ctx.Err(), req, requestID, attempt, start)
		case <-timer.C:
		}
		return c.doWithRetry(ctx, req, headers, attempt+1, requestID, endpoint, start)
	}

	if err != nil {
		return nil, c.enrichError(err, req, requestID, attempt, start)
	}

	return resp, nil
}

// dispatch performs one HTTP attempt. Non-2xx responses come back with both
// the decoded response and an HTTP error so the retry logic can inspect
// headers like Retry-After.
func (c *Client) dispatch(ctx context.Context, req *Request, headers map[string]string) (*Response, error) {
	timeout := req.Timeout
	if timeout <= 0 {
		timeout = c.timeout
	}
	attemptCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		attemptCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	httpReq, err := c.buildHTTPRequest(attemptCtx, req, headers)
	if err != nil {
		return nil, newValidationError("cannot build request: " + err.Error())
	}

	httpResp, err := c.transport(httpReq)
	if err != nil {
		return nil, classifyTransportError(err)
	}
	defer httpResp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(httpResp.Body, maxResponseBytes))
	if err != nil {
		return nil, newError(ErrorTypeNetwork, "failed to read response body", err)
	}

	resp := &Response{
		StatusCode: httpResp.StatusCode,
		Status:     httpResp.Status,
		Header:     httpResp.Header,
		Body:       body,
	}

	if !resp.IsSuccess() {
		return resp, newHTTPError(resp.StatusCode, resp.Status, body)
	}
	return resp, nil
}

// limiterFor picks the rate limiter guarding this request: the scoped
// registry when configured, else the single client limiter.
func (c *Client) limiterFor(req *Request) (Limiter, string) {
	if c.rateLimiters != nil {
		return c.rateLimiters.GetLimiter(req)
	}
	if c.rateLimiter != nil {
		return c.rateLimiter, "default"
	}
	return nil, "default"
}

// transport runs the middleware chain around the underlying HTTP client.
// Middleware wraps every attempt, so retries pass through it again.
func (c *Client) transport(req *http.Request) (*http.Response, error) {
	if len(c.middleware) == 0 {
		return c.httpClient.Do(req)
	}

	current := RoundTripperFunc(c.httpClient.Do)

	for i := len(c.middleware) - 1; i >= 0; i-- {
		middleware := c.middleware[i]
		next := current
		current = RoundTripperFunc(func(r *http.Request) (*http.Response, error) {
			return middleware(r, next)
		})
	}

	return current.RoundTrip(req)
}

func (c *Client) buildHTTPRequest(ctx context.Context, req *Request, headers map[string]string) (*http.Request, error) {
	dispatchURL := req.fullURL
	if query := encodeQuery(req.Query); query != "" {
		sep := "?"
		if strings.Contains(dispatchURL, "?") {
			sep = "&"
		}
		dispatchURL += sep + query
	}

	var body io.Reader
	if req.bodyRaw != nil {
		body = bytes.NewReader(req.bodyRaw)
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.Method, dispatchURL, body)
	if err != nil {
		return nil, err
	}

	for k, v := range headers {
		httpReq.Header.Set(k, v)
	}
	if httpReq.Header.Get("User-Agent") == "" {
		httpReq.Header.Set("User-Agent", UserAgent)
	}
	if req.bodyJSON && httpReq.Header.Get("Content-Type") == "" {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	return httpReq, nil
}

// resolveRequest normalizes the request into dispatchable form and validates
// it. It runs after request interceptors and before any I/O, so invalid
// requests never consume rate limit tokens or breaker probes.
func (c *Client) resolveRequest(req *Request) error {
	if req.Method == "" {
		req.Method = http.MethodGet
	}
	req.Method = strings.ToUpper(req.Method)

	req.fullURL = c.BuildURL(req.URL, nil)
	if req.fullURL == "" {
		return newValidationError("request URL is required")
	}
	if _, err := url.Parse(req.fullURL); err != nil {
		return newValidationError("invalid request URL: " + err.Error())
	}

	timeout := req.Timeout
	if timeout == 0 {
		timeout = c.timeout
	}
	if timeout <= 0 {
		return newValidationError("request timeout must be positive")
	}

	req.bodyRaw = nil
	req.bodyJSON = false
	switch b := req.Body.(type) {
	case nil:
	case string:
		req.bodyRaw = []byte(b)
	case []byte:
		req.bodyRaw = b
	case json.RawMessage:
		req.bodyRaw = []byte(b)
		req.bodyJSON = true
	default:
		data, err := json.Marshal(b)
		if err != nil {
			return newValidationError("request body is not serializable: " + err.Error())
		}
		req.bodyRaw = data
		req.bodyJSON = true
	}
	req.bodyText = string(req.bodyRaw)

	return nil
}

// BuildURL resolves endpoint against the client base URL and appends params
// as a deterministically ordered query string. Endpoints carrying their own
// scheme bypass the base URL; nil parameter values are dropped.
func (c *Client) BuildURL(endpoint string, params map[string]any) string {
	full := endpoint
	if !strings.Contains(endpoint, "://") && c.baseURL != "" {
		base := strings.TrimRight(c.baseURL, "/")
		if endpoint == "" {
			full = base
		} else {
			full = base + "/" + strings.TrimLeft(endpoint, "/")
		}
	}

	if query := encodeQuery(params); query != "" {
		sep := "?"
		if strings.Contains(full, "?") {
			sep = "&"
		}
		full += sep + query
	}
	return full
}

// cachePlan decides whether this call participates in the cache and with
// which TTL. Context cache control overrides the configured condition, and a
// per-request TTL wins over both the context and client defaults.
func (c *Client) cachePlan(ctx context.Context, req *Request) (bool, time.Duration) {
	ttl := c.cacheTTL
	enabled := c.cache != nil && c.cacheCondition != nil && c.cacheCondition(req)

	if cc, ok := cacheControlFrom(ctx); ok {
		if c.cache != nil {
			enabled = cc.Enabled
		}
		if cc.TTL > 0 {
			ttl = cc.TTL
		}
	}
	if req.CacheTTL > 0 {
		ttl = req.CacheTTL
	}
	return enabled, ttl
}

func (c *Client) storeResponse(req *Request, resp *Response, cacheKey string, ttl time.Duration, requestID string) {
	if c.httpCacheSemantics {
		headerTTL, storable := headerCacheTTL(resp.Header, time.Now())
		if !storable {
			if c.debug != nil && c.debug.Enabled && c.debug.LogCache && c.logger != nil {
				c.logger.Debug("response not storable per cache headers", "requestID", requestID, "cacheKey", cacheKey)
			}
			return
		}
		if headerTTL != nil {
			ttl = *headerTTL
		}
	}

	c.cache.Set(cacheKey, newCacheEntry(resp, ttl))

	if memCache, ok := c.cache.(*MemoryCache); ok && c.metrics != nil {
		c.metrics.RecordCacheSize("default", memCache.Len())
	}
	if c.debug != nil && c.debug.Enabled && c.debug.LogCache && c.logger != nil {
		c.logger.Debug("response cached", "requestID", requestID, "cacheKey", cacheKey, "ttl", ttl)
	}
}

func (c *Client) calculateBackoff(attempt int) time.Duration {
	return backoff.ExponentialJitter{}.Calculate(attempt, c.initialBackoff, c.maxBackoff, c.backoffMultiplier, c.jitter)
}

// classifyTransportError maps a transport failure onto the error taxonomy:
// deadline and cancellation become timeouts, everything else is a network
// error.
func classifyTransportError(err error) *ClientError {
	var netErr net.Error
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return newError(ErrorTypeTimeout, "request timed out", err)
	case errors.Is(err, context.Canceled):
		return newError(ErrorTypeTimeout, "request canceled", err)
	case errors.As(err, &netErr) && netErr.Timeout():
		return newError(ErrorTypeTimeout, "request timed out", err)
	default:
		return newError(ErrorTypeNetwork, "network request failed", err)
	}
}

func (c *Client) newRequestError(errorType, message string, cause error, req *Request, requestID string, attempt int, start time.Time) *ClientError {
	err := newError(errorType, message, cause)
	err.RequestID = requestID
	err.Method = req.Method
	err.URL = req.fullURL
	err.Attempt = attempt + 1
	err.MaxAttempts = c.maxRetries + 1
	err.Duration = time.Since(start)
	return err
}

// enrichError stamps request diagnostics onto an error leaving the retry
// loop. Dispatch errors are fresh per attempt, so mutation is safe.
func (c *Client) enrichError(err error, req *Request, requestID string, attempt int, start time.Time) error {
	var clientErr *ClientError
	if !errors.As(err, &clientErr) {
		clientErr = newError(ErrorTypeNetwork, "request failed", err)
	}
	if clientErr.RequestID == "" {
		clientErr.RequestID = requestID
	}
	clientErr.Method = req.Method
	clientErr.URL = req.fullURL
	clientErr.Attempt = attempt + 1
	clientErr.MaxAttempts = c.maxRetries + 1
	if clientErr.Duration == 0 {
		clientErr.Duration = time.Since(start)
	}
	return clientErr
}

// IsValid reports whether configuration validation passed at construction.
func (c *Client) IsValid() bool {
	return c.validationError == nil
}

// ValidationError returns the configuration validation error, if any.
func (c *Client) ValidationError() error {
	return c.validationError
}

// ValidateConfigurationStrict panics if configuration is invalid.
func (c *Client) ValidateConfigurationStrict() {
	if err := c.ValidateConfiguration(); err != nil {
		panic(fmt.Sprintf("invalid client configuration: %v", err))
	}
}

// endpointFromURL reduces a URL to host+path for metric labels, keeping
// cardinality bounded by dropping the query string.
func endpointFromURL(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return "unknown"
	}
	if u.Path != "" && u.Path != "/" {
		return u.Host + u.Path
	}
	return u.Host + "/"
}
