package computor

import (
	"context"
	"crypto/sha256"
	"fmt"
	"hash/fnv"
	"net/http"
	"sync"
	"time"
)

// DedupEntry represents an in-flight request shared between callers. The
// owner executes the request; waiters block until it completes and receive
// the same response.
type DedupEntry struct {
	response *Response
	err      error
	done     chan struct{}
	mu       sync.Mutex
	waiters  int
}

// DedupTracker coalesces identical in-flight requests so only one reaches
// the network.
type DedupTracker struct {
	mu      sync.RWMutex
	entries map[string]*DedupEntry
}

// NewDedupTracker returns an in-memory deduplication tracker.
func NewDedupTracker() *DedupTracker {
	return &DedupTracker{
		entries: make(map[string]*DedupEntry),
	}
}

// GetOrCreateEntry returns an existing entry (not owner) or creates a new
// one (owner=true).
func (dt *DedupTracker) GetOrCreateEntry(key string) (*DedupEntry, bool) {
	dt.mu.Lock()
	defer dt.mu.Unlock()

	if entry, exists := dt.entries[key]; exists {
		entry.mu.Lock()
		entry.waiters++
		entry.mu.Unlock()
		return entry, false
	}

	entry := &DedupEntry{
		done:    make(chan struct{}),
		waiters: 1,
	}
	dt.entries[key] = entry
	return entry, true
}

// Complete finalizes an entry and releases waiters. The entry lingers briefly
// so callers racing with completion still coalesce.
func (dt *DedupTracker) Complete(key string, resp *Response, err error) {
	dt.mu.Lock()
	entry, exists := dt.entries[key]
	dt.mu.Unlock()

	if !exists {
		return
	}

	entry.mu.Lock()
	entry.response = resp
	entry.err = err
	close(entry.done)
	entry.mu.Unlock()

	time.AfterFunc(100*time.Millisecond, func() {
		dt.mu.Lock()
		delete(dt.entries, key)
		dt.mu.Unlock()
	})
}

// Wait blocks until the owning request completes or ctx is done. The returned
// Response is shared between waiters; its body bytes must not be mutated.
func (entry *DedupEntry) Wait(ctx context.Context) (*Response, error) {
	select {
	case <-entry.done:
		entry.mu.Lock()
		resp := entry.response
		err := entry.err
		entry.mu.Unlock()
		return resp, err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// DefaultDedupKeyFunc keys in-flight requests by method and resolved URL,
// mixing in a body hash for mutating verbs.
func DefaultDedupKeyFunc(req *Request) string {
	h := fnv.New64a()
	h.Write([]byte(req.Method))
	h.Write([]byte(req.fullURL))

	if len(req.bodyRaw) > 0 && req.Method != http.MethodGet && req.Method != http.MethodHead {
		bodyHash := sha256.Sum256(req.bodyRaw)
		h.Write(bodyHash[:])
	}

	return fmt.Sprintf("%x", h.Sum64())
}

// DefaultDedupCondition coalesces safe idempotent methods only.
func DefaultDedupCondition(req *Request) bool {
	return req.Method == http.MethodGet || req.Method == http.MethodHead || req.Method == http.MethodOptions
}
