package computor

import (
	"fmt"
	"net/http"
	"net/url"
	"time"
)

// Cache is the response cache contract. Implementations must be safe for
// concurrent use by a single client shared across goroutines.
type Cache interface {
	Get(key string) (*CacheEntry, bool)
	Set(key string, entry *CacheEntry)
	Delete(key string)
	Clear()
	Has(key string) bool
}

// CacheEntry is a stored response. TTL zero means the entry never expires by
// time and is only displaced by capacity eviction. ETag and LastModified are
// carried as validator metadata but not yet used for conditional requests.
type CacheEntry struct {
	StatusCode   int           `json:"statusCode"`
	Status       string        `json:"status"`
	Header       http.Header   `json:"header,omitempty"`
	Body         []byte        `json:"body,omitempty"`
	CreatedAt    time.Time     `json:"createdAt"`
	TTL          time.Duration `json:"ttl"`
	ETag         string        `json:"etag,omitempty"`
	LastModified string        `json:"lastModified,omitempty"`
}

// Expired reports whether the entry has outlived its TTL at the given
// instant. Entries with TTL zero never expire.
func (e *CacheEntry) Expired(now time.Time) bool {
	if e.TTL == 0 {
		return false
	}
	return now.After(e.CreatedAt.Add(e.TTL))
}

func newCacheEntry(resp *Response, ttl time.Duration) *CacheEntry {
	entry := &CacheEntry{
		StatusCode: resp.StatusCode,
		Status:     resp.Status,
		Header:     resp.Header.Clone(),
		Body:       resp.Body,
		CreatedAt:  time.Now(),
		TTL:        ttl,
	}
	if resp.Header != nil {
		entry.ETag = resp.Header.Get("ETag")
		entry.LastModified = resp.Header.Get("Last-Modified")
	}
	return entry
}

func responseFromEntry(entry *CacheEntry) *Response {
	return &Response{
		StatusCode: entry.StatusCode,
		Status:     entry.Status,
		Header:     entry.Header.Clone(),
		Body:       entry.Body,
		FromCache:  true,
	}
}

// BuildCacheKey renders the shared cache identity
// "<METHOD>:<URL>:<paramsString>:<bodyString>". The shape must stay stable so
// caches shared between clients (Redis, on disk) interoperate.
func BuildCacheKey(method, url, params, body string) string {
	return method + ":" + url + ":" + params + ":" + body
}

// DefaultCacheKeyFunc derives the cache key of a resolved request with
// deterministic (sorted) query encoding.
func DefaultCacheKeyFunc(req *Request) string {
	return BuildCacheKey(req.Method, req.fullURL, encodeQuery(req.Query), req.bodyText)
}

// DefaultCacheCondition caches GET requests only.
func DefaultCacheCondition(req *Request) bool {
	return req.Method == http.MethodGet
}

// encodeQuery renders query parameters sorted by key, dropping nil values.
func encodeQuery(params map[string]any) string {
	if len(params) == 0 {
		return ""
	}
	values := url.Values{}
	for key, value := range params {
		if value == nil {
			continue
		}
		values.Set(key, fmt.Sprintf("%v", value))
	}
	return values.Encode()
}

// NoOpCache satisfies Cache without storing anything. Used when caching is
// disabled but a Cache value is still required.
type NoOpCache struct{}

// NewNoOpCache returns the disabled cache.
func NewNoOpCache() *NoOpCache { return &NoOpCache{} }

func (NoOpCache) Get(string) (*CacheEntry, bool) { return nil, false }
func (NoOpCache) Set(string, *CacheEntry)        {}
func (NoOpCache) Delete(string)                  {}
func (NoOpCache) Clear()                         {}
func (NoOpCache) Has(string) bool                { return false }
