package cache

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"

	"sage/internal/logging"
	"sage/pkg/types"
)

// RedisTier shares query results across processes. It sits behind the
// in-process LRU: reads fall through to Redis on a local miss, writes go to
// both. Redis outages degrade to local-only operation with a warning.
type RedisTier struct {
	client *redis.Client
	local  *QueryCache
	ttl    time.Duration
	logger logging.Logger
	prefix string
}

// NewRedisTier layers a Redis client over the local cache.
func NewRedisTier(addr string, local *QueryCache, ttl time.Duration, logger logging.Logger) *RedisTier {
	return &RedisTier{
		client: redis.NewClient(&redis.Options{Addr: addr}),
		local:  local,
		ttl:    ttl,
		logger: logger.WithComponent("cache.redis"),
		prefix: "sage:query:",
	}
}

// Get checks the local LRU first, then Redis.
func (t *RedisTier) Get(ctx context.Context, key string) ([]types.SearchResult, bool) {
	if results, ok := t.local.Get(key); ok {
		return results, true
	}

	data, err := t.client.Get(ctx, t.prefix+key).Bytes()
	if err != nil {
		if err != redis.Nil {
			t.logger.WarnContext(ctx, "redis get failed, serving local only", "error", err)
		}
		return nil, false
	}

	var results []types.SearchResult
	if err := json.Unmarshal(data, &results); err != nil {
		return nil, false
	}
	return results, true
}

// Put writes to both tiers. The Redis write is best effort.
func (t *RedisTier) Put(ctx context.Context, key, collection string, results []types.SearchResult) {
	t.local.Put(key, collection, results)

	data, err := json.Marshal(results)
	if err != nil {
		return
	}
	if err := t.client.Set(ctx, t.prefix+key, data, t.ttl).Err(); err != nil {
		t.logger.WarnContext(ctx, "redis put failed", "error", err)
	}
	// Track key membership per collection so invalidation can find it.
	if err := t.client.SAdd(ctx, t.prefix+"collection:"+collection, key).Err(); err == nil {
		t.client.Expire(ctx, t.prefix+"collection:"+collection, t.ttl)
	}
}

// InvalidateCollection drops the collection's entries in both tiers.
func (t *RedisTier) InvalidateCollection(ctx context.Context, collection string) {
	t.local.InvalidateCollection(collection)

	setKey := t.prefix + "collection:" + collection
	keys, err := t.client.SMembers(ctx, setKey).Result()
	if err != nil {
		return
	}
	for _, key := range keys {
		t.client.Del(ctx, t.prefix+key)
	}
	t.client.Del(ctx, setKey)
}

// Close releases the Redis connection.
func (t *RedisTier) Close() error { return t.client.Close() }
