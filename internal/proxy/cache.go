package proxy

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// CacheKeyPrefix namespaces cached public reads
const CacheKeyPrefix = "proxycache:"

// CachedResponse is a stored 200 response
type CachedResponse struct {
	ContentType string `json:"content_type"`
	Body        []byte `json:"body"`
}

// Cache stores public GET responses
type Cache interface {
	Get(ctx context.Context, key string) (*CachedResponse, bool)
	Set(ctx context.Context, key string, resp *CachedResponse, ttl time.Duration) error
	Invalidate(ctx context.Context, resource string) error
}

// RedisStore is the Redis subset the cache needs; satisfied by pkg/redis.Client
type RedisStore interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	DeleteByPrefix(ctx context.Context, prefix string) (int64, error)
}

// RedisCache implements Cache on Redis
type RedisCache struct {
	store RedisStore
}

// NewRedisCache creates a Redis-backed response cache
func NewRedisCache(store RedisStore) *RedisCache {
	return &RedisCache{store: store}
}

func cacheKey(resource, path, rawQuery string) string {
	return CacheKeyPrefix + resource + ":" + path + "?" + rawQuery
}

// Get returns a cached response; Redis errors count as a miss
func (rc *RedisCache) Get(ctx context.Context, key string) (*CachedResponse, bool) {
	data, err := rc.store.Get(ctx, key).Bytes()
	if err != nil {
		return nil, false
	}
	var cached CachedResponse
	if err := json.Unmarshal(data, &cached); err != nil {
		return nil, false
	}
	return &cached, true
}

// Set stores a response for ttl
func (rc *RedisCache) Set(ctx context.Context, key string, resp *CachedResponse, ttl time.Duration) error {
	data, err := json.Marshal(resp)
	if err != nil {
		return err
	}
	return rc.store.Set(ctx, key, data, ttl).Err()
}

// Invalidate drops every cached read of resource
func (rc *RedisCache) Invalidate(ctx context.Context, resource string) error {
	_, err := rc.store.DeleteByPrefix(ctx, CacheKeyPrefix+resource+":")
	if errors.Is(err, redis.Nil) {
		return nil
	}
	return err
}
