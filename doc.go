// Package computor provides the authenticated HTTP client for the computor
// platform API, layering composable reliability primitives around net/http:
//
//   - Pluggable authentication (Keycloak JWT with automatic refresh, API keys)
//   - Retries with exponential backoff + jitter and Retry-After support
//   - Response caching (in-memory LRU/FIFO, Redis, or bring your own)
//   - Rate limiting (token bucket) and a circuit breaker
//   - Request de-duplication (merges concurrent identical in-flight requests)
//   - Request/response interceptors and a transport middleware chain
//   - Prometheus metrics and structured debug logging
//
// Design goals:
//   - Small surface area – functional options configure everything
//   - Safe concurrent use of a single *Client instance
//   - Extensibility via user supplied middleware & pluggable cache / auth / metrics
//
// Typical usage:
//
//	client := computor.New(
//	    computor.WithBaseURL("https://api.example.com"),
//	    computor.WithAuth(computor.NewAPIKeyAuth(key)),
//	    computor.WithMaxRetries(3),
//	    computor.WithCache(5*time.Minute),
//	    computor.WithDeduplication(),
//	)
//	resp, err := client.Get(ctx, "/courses", map[string]any{"page": 1})
//
// Only network failures, timeouts, HTTP 429 and 5xx responses trigger retries
// by default; override with WithRetryCondition or WithRetryPolicy. The library
// avoids opinionated logging: provide a Logger (e.g. via WithStructuredLogger)
// + enable debug flags selectively (WithDebug / WithDebugConfig) for insight
// without noise.
package computor
