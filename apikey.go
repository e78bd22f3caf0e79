package computor

import (
	"context"
	"io"
	"net/http"
	"sync"
	"time"
)

// DefaultAPIKeyHeader is the header API keys are sent in unless an option
// overrides it.
const DefaultAPIKeyHeader = "X-API-Key"

// APIKeyAuth authenticates requests with a static key in a configurable
// header, optionally prefixed ("Bearer", "Token"). The key never expires
// and never rotates; Authenticate can verify it against an endpoint when
// one is configured.
type APIKeyAuth struct {
	mu            sync.RWMutex
	key           string
	header        string
	prefix        string
	verifyURL     string
	httpClient    *http.Client
	authenticated bool
}

// APIKeyOption configures an APIKeyAuth.
type APIKeyOption func(*APIKeyAuth)

// WithKeyHeader sets the header the key is sent in.
func WithKeyHeader(name string) APIKeyOption {
	return func(a *APIKeyAuth) {
		if name != "" {
			a.header = name
		}
	}
}

// WithKeyPrefix sets a scheme prefix joined to the key with a single space.
func WithKeyPrefix(prefix string) APIKeyOption {
	return func(a *APIKeyAuth) { a.prefix = prefix }
}

// WithVerificationEndpoint sets the URL Authenticate probes to check the
// key. Without one, Authenticate fails: there is nothing to verify against.
func WithVerificationEndpoint(url string) APIKeyOption {
	return func(a *APIKeyAuth) { a.verifyURL = url }
}

// WithVerificationClient sets the HTTP client used for verification calls.
func WithVerificationClient(hc *http.Client) APIKeyOption {
	return func(a *APIKeyAuth) {
		if hc != nil {
			a.httpClient = hc
		}
	}
}

// NewAPIKeyAuth returns a strategy sending key in the X-API-Key header.
func NewAPIKeyAuth(key string, opts ...APIKeyOption) *APIKeyAuth {
	a := &APIKeyAuth{
		key:        key,
		header:     DefaultAPIKeyHeader,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// NewBearerKeyAuth returns a strategy sending "Authorization: Bearer <key>".
func NewBearerKeyAuth(key string, opts ...APIKeyOption) *APIKeyAuth {
	base := []APIKeyOption{WithKeyHeader("Authorization"), WithKeyPrefix("Bearer")}
	return NewAPIKeyAuth(key, append(base, opts...)...)
}

// NewHeaderKeyAuth returns a strategy sending the bare key in header.
func NewHeaderKeyAuth(header, key string, opts ...APIKeyOption) *APIKeyAuth {
	return NewAPIKeyAuth(key, append([]APIKeyOption{WithKeyHeader(header)}, opts...)...)
}

// SetKey replaces the key and drops the verified flag.
func (a *APIKeyAuth) SetKey(key string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.key = key
	a.authenticated = false
}

// AuthHeaders returns the key header, or an empty map when no key is set.
func (a *APIKeyAuth) AuthHeaders(context.Context) (map[string]string, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.key == "" {
		return map[string]string{}, nil
	}
	value := a.key
	if a.prefix != "" {
		value = a.prefix + " " + a.key
	}
	return map[string]string{a.header: value}, nil
}

// IsAuthenticated reports whether the last verification succeeded.
func (a *APIKeyAuth) IsAuthenticated() bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.authenticated
}

// Authenticate verifies the key against the configured endpoint with a GET
// carrying the auth header. Any 2xx marks the strategy authenticated.
func (a *APIKeyAuth) Authenticate(ctx context.Context) error {
	a.mu.RLock()
	key, verifyURL, hc := a.key, a.verifyURL, a.httpClient
	a.mu.RUnlock()

	if key == "" {
		return newAuthError("API key is required", nil)
	}
	if verifyURL == "" {
		return newAuthError("no verification endpoint configured", nil)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, verifyURL, nil)
	if err != nil {
		return newAuthError("invalid verification endpoint", err)
	}
	headers, _ := a.AuthHeaders(ctx)
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := hc.Do(req)
	if err != nil {
		a.setAuthenticated(false)
		return newAuthError("API key verification failed", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		a.setAuthenticated(false)
		return newAuthError("API key verification failed", newHTTPError(resp.StatusCode, resp.Status, body))
	}
	a.setAuthenticated(true)
	return nil
}

// RefreshAuth re-verifies the key when an endpoint is configured. Static
// keys have nothing to rotate, so without an endpoint it is a no-op.
func (a *APIKeyAuth) RefreshAuth(ctx context.Context) error {
	a.mu.RLock()
	verifyURL := a.verifyURL
	a.mu.RUnlock()
	if verifyURL == "" {
		return nil
	}
	return a.Authenticate(ctx)
}

func (a *APIKeyAuth) setAuthenticated(v bool) {
	a.mu.Lock()
	a.authenticated = v
	a.mu.Unlock()
}
