package vlmenrich

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisCache is the Cache implementation used in production: captions are
// stored as plain strings under a namespaced key, with a TTL so a stale
// caption for a regenerated image eventually falls out on its own.
type RedisCache struct {
	client redis.UniversalClient
	ttl    time.Duration
}

// NewRedisCache builds a RedisCache. ttl<=0 means captions never expire.
func NewRedisCache(client redis.UniversalClient, ttl time.Duration) *RedisCache {
	return &RedisCache{client: client, ttl: ttl}
}

func (c *RedisCache) Caption(ctx context.Context, key string) (string, bool, error) {
	val, err := c.client.Get(ctx, cacheKey(key)).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return val, true, nil
}

func (c *RedisCache) PutCaption(ctx context.Context, key string, caption string) error {
	return c.client.Set(ctx, cacheKey(key), caption, c.ttl).Err()
}

func cacheKey(key string) string {
	return "vlmenrich:caption:" + key
}
