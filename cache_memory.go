package computor

import (
	"container/list"
	"sync"
	"time"
)

// EvictionPolicy selects how MemoryCache displaces entries at capacity.
type EvictionPolicy int

const (
	// EvictLRU evicts the least-recently-used entry; reads re-rank.
	EvictLRU EvictionPolicy = iota
	// EvictFIFO evicts in pure insertion order; reads do not re-rank.
	EvictFIFO
)

const DefaultCacheSize = 100

// MemoryCache is a bounded in-process cache with LRU or FIFO eviction. A
// doubly linked list keeps the eviction order (front = next victim) and a
// key index gives O(1) get, set, and evict. Safe for concurrent use.
type MemoryCache struct {
	mu      sync.Mutex
	maxSize int
	policy  EvictionPolicy
	order   *list.List
	index   map[string]*list.Element
}

type memoryCacheItem struct {
	key   string
	entry *CacheEntry
}

// NewMemoryCache creates a bounded cache holding at most maxSize entries.
// Non-positive sizes fall back to DefaultCacheSize.
func NewMemoryCache(maxSize int, policy EvictionPolicy) *MemoryCache {
	if maxSize <= 0 {
		maxSize = DefaultCacheSize
	}
	return &MemoryCache{
		maxSize: maxSize,
		policy:  policy,
		order:   list.New(),
		index:   make(map[string]*list.Element),
	}
}

// Get returns the entry under key. Expired entries are removed and reported
// as a miss. Under LRU the hit is moved to the back of the eviction order.
func (c *MemoryCache) Get(key string) (*CacheEntry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.index[key]
	if !ok {
		return nil, false
	}

	item := elem.Value.(*memoryCacheItem)
	if item.entry.Expired(time.Now()) {
		c.removeElement(elem)
		return nil, false
	}

	if c.policy == EvictLRU {
		c.order.MoveToBack(elem)
	}
	return item.entry, true
}

// Set stores entry under key. Overwriting an existing key updates the value
// in place; under LRU this also marks it most recently used, under FIFO the
// original insertion position is kept. Inserting a new key at capacity
// evicts the entry at the front of the order first.
func (c *MemoryCache) Set(key string, entry *CacheEntry) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.index[key]; ok {
		elem.Value.(*memoryCacheItem).entry = entry
		if c.policy == EvictLRU {
			c.order.MoveToBack(elem)
		}
		return
	}

	if c.order.Len() >= c.maxSize {
		if victim := c.order.Front(); victim != nil {
			c.removeElement(victim)
		}
	}

	c.index[key] = c.order.PushBack(&memoryCacheItem{key: key, entry: entry})
}

// Delete removes key if present.
func (c *MemoryCache) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.index[key]; ok {
		c.removeElement(elem)
	}
}

// Clear drops every entry.
func (c *MemoryCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.order.Init()
	c.index = make(map[string]*list.Element)
}

// Has reports whether a live entry exists under key without re-ranking it.
func (c *MemoryCache) Has(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.index[key]
	if !ok {
		return false
	}
	if elem.Value.(*memoryCacheItem).entry.Expired(time.Now()) {
		c.removeElement(elem)
		return false
	}
	return true
}

// Len returns the current number of entries.
func (c *MemoryCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}

func (c *MemoryCache) removeElement(elem *list.Element) {
	c.order.Remove(elem)
	delete(c.index, elem.Value.(*memoryCacheItem).key)
}
