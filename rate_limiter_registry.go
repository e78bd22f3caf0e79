package computor

import (
	"net/url"
	"sync"
)

// Limiter is the contract scoped rate limiting needs; *RateLimiter satisfies
// it.
type Limiter interface {
	Allow() bool
}

// RateLimiterKeyFunc maps a resolved request onto a rate limiter scope key.
type RateLimiterKeyFunc func(req *Request) string

// RateLimiterRegistry holds rate limiters scoped by key (per host, per
// route), with an optional fallback for unmatched scopes. It lets one client
// throttle different backends or endpoints independently.
type RateLimiterRegistry struct {
	mu       sync.RWMutex
	limiters map[string]Limiter
	keyFunc  RateLimiterKeyFunc
	fallback Limiter
}

// NewRateLimiterRegistry creates a registry using keyFunc to scope requests.
// Requests whose scope has no registered limiter fall back to fallback; a nil
// fallback means those requests are not limited.
func NewRateLimiterRegistry(keyFunc RateLimiterKeyFunc, fallback Limiter) *RateLimiterRegistry {
	return &RateLimiterRegistry{
		limiters: make(map[string]Limiter),
		keyFunc:  keyFunc,
		fallback: fallback,
	}
}

// RegisterLimiter adds a limiter for the given scope key.
func (r *RateLimiterRegistry) RegisterLimiter(key string, limiter Limiter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.limiters[key] = limiter
}

// GetLimiter returns the limiter for the request's scope and the scope key,
// falling back when no specific limiter is registered.
func (r *RateLimiterRegistry) GetLimiter(req *Request) (Limiter, string) {
	if r.keyFunc == nil {
		return r.fallback, "default"
	}

	key := r.keyFunc(req)

	r.mu.RLock()
	limiter, exists := r.limiters[key]
	r.mu.RUnlock()

	if exists {
		return limiter, key
	}
	if r.fallback != nil {
		return r.fallback, "default"
	}
	return nil, key
}

// Allow reports whether the request passes its scope's limiter. Requests
// without a limiter are always allowed.
func (r *RateLimiterRegistry) Allow(req *Request) (bool, string) {
	limiter, key := r.GetLimiter(req)
	if limiter == nil {
		return true, key
	}
	return limiter.Allow(), key
}

// HostKeyFunc scopes rate limiting by target host.
func HostKeyFunc(req *Request) string {
	u, err := url.Parse(req.fullURL)
	if err != nil || u.Host == "" {
		return "host:unknown"
	}
	return "host:" + u.Host
}

// RouteKeyFunc scopes rate limiting by method and path.
func RouteKeyFunc(req *Request) string {
	return "route:" + req.Method + ":" + requestPath(req)
}

// HostRouteKeyFunc scopes rate limiting by host, method and path combined.
func HostRouteKeyFunc(req *Request) string {
	host := "unknown"
	if u, err := url.Parse(req.fullURL); err == nil && u.Host != "" {
		host = u.Host
	}
	return "host_route:" + host + ":" + req.Method + ":" + requestPath(req)
}

func requestPath(req *Request) string {
	u, err := url.Parse(req.fullURL)
	if err != nil || u.Path == "" {
		return "/"
	}
	return u.Path
}
