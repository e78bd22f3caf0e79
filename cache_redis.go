package computor

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	defaultRedisPrefix  = "computor:cache:"
	defaultRedisTimeout = 5 * time.Second
	redisScanBatch      = 100
)

// RedisCache stores entries in Redis so multiple client processes share one
// response cache. Entries are JSON-encoded under a key prefix and carry their
// TTL as a Redis expiration; entries with TTL zero are stored without one.
// Cache operations are best effort: Redis failures degrade to cache misses
// instead of failing the request.
type RedisCache struct {
	client  redis.UniversalClient
	prefix  string
	timeout time.Duration
	logger  Logger
}

// RedisCacheOption configures a RedisCache.
type RedisCacheOption func(*RedisCache)

// WithRedisPrefix overrides the key prefix.
func WithRedisPrefix(prefix string) RedisCacheOption {
	return func(c *RedisCache) { c.prefix = prefix }
}

// WithRedisTimeout bounds each Redis operation.
func WithRedisTimeout(d time.Duration) RedisCacheOption {
	return func(c *RedisCache) { c.timeout = d }
}

// WithRedisLogger logs degraded Redis operations.
func WithRedisLogger(logger Logger) RedisCacheOption {
	return func(c *RedisCache) { c.logger = logger }
}

// NewRedisCache wraps an existing Redis client as a response cache.
func NewRedisCache(client redis.UniversalClient, opts ...RedisCacheOption) *RedisCache {
	c := &RedisCache{
		client:  client,
		prefix:  defaultRedisPrefix,
		timeout: defaultRedisTimeout,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *RedisCache) opContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), c.timeout)
}

func (c *RedisCache) Get(key string) (*CacheEntry, bool) {
	ctx, cancel := c.opContext()
	defer cancel()

	data, err := c.client.Get(ctx, c.prefix+key).Bytes()
	if err == redis.Nil {
		return nil, false
	}
	if err != nil {
		c.warn("redis cache get failed", "key", key, "error", err.Error())
		return nil, false
	}

	var entry CacheEntry
	if err := json.Unmarshal(data, &entry); err != nil {
		// Unreadable entries are dropped so they stop shadowing the key.
		c.warn("redis cache entry corrupt", "key", key, "error", err.Error())
		c.Delete(key)
		return nil, false
	}
	if entry.Expired(time.Now()) {
		c.Delete(key)
		return nil, false
	}
	return &entry, true
}

func (c *RedisCache) Set(key string, entry *CacheEntry) {
	data, err := json.Marshal(entry)
	if err != nil {
		c.warn("redis cache encode failed", "key", key, "error", err.Error())
		return
	}

	ctx, cancel := c.opContext()
	defer cancel()

	if err := c.client.Set(ctx, c.prefix+key, data, entry.TTL).Err(); err != nil {
		c.warn("redis cache set failed", "key", key, "error", err.Error())
	}
}

func (c *RedisCache) Delete(key string) {
	ctx, cancel := c.opContext()
	defer cancel()

	if err := c.client.Del(ctx, c.prefix+key).Err(); err != nil {
		c.warn("redis cache delete failed", "key", key, "error", err.Error())
	}
}

// Clear removes every entry under the prefix using cursor-paginated SCAN so
// large caches do not block Redis.
func (c *RedisCache) Clear() {
	ctx, cancel := c.opContext()
	defer cancel()

	var cursor uint64
	for {
		keys, next, err := c.client.Scan(ctx, cursor, c.prefix+"*", redisScanBatch).Result()
		if err != nil {
			c.warn("redis cache clear failed", "error", err.Error())
			return
		}
		if len(keys) > 0 {
			if err := c.client.Del(ctx, keys...).Err(); err != nil {
				c.warn("redis cache clear failed", "error", err.Error())
				return
			}
		}
		cursor = next
		if cursor == 0 {
			return
		}
	}
}

func (c *RedisCache) Has(key string) bool {
	ctx, cancel := c.opContext()
	defer cancel()

	n, err := c.client.Exists(ctx, c.prefix+key).Result()
	if err != nil {
		c.warn("redis cache exists failed", "key", key, "error", err.Error())
		return false
	}
	return n > 0
}

func (c *RedisCache) warn(msg string, keysAndValues ...any) {
	if c.logger != nil {
		c.logger.Warn(msg, keysAndValues...)
	}
}
