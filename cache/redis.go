package cache

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/curioshelf/curio/errors"
)

// RedisCache stores warmup entries in Redis so multiple web processes share
// the same cache.
type RedisCache struct {
	client     *redis.Client
	defaultTTL time.Duration
}

// NewRedisCache connects to the Redis instance named by url
// (redis://host:port/db form).
func NewRedisCache(url string, defaultTTL time.Duration) (*RedisCache, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, errors.Wrap(err, "invalid redis url")
	}
	return &RedisCache{
		client:     redis.NewClient(opts),
		defaultTTL: defaultTTL,
	}, nil
}

func (c *RedisCache) Get(ctx context.Context, key string) (string, bool, error) {
	value, err := c.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, errors.Wrapf(err, "failed to get cache key %s", key)
	}
	return value, true, nil
}

func (c *RedisCache) Set(ctx context.Context, key string, value string, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = c.defaultTTL
	}
	if err := c.client.Set(ctx, key, value, ttl).Err(); err != nil {
		return errors.Wrapf(err, "failed to set cache key %s", key)
	}
	return nil
}

func (c *RedisCache) Delete(ctx context.Context, key string) error {
	if err := c.client.Del(ctx, key).Err(); err != nil {
		return errors.Wrapf(err, "failed to delete cache key %s", key)
	}
	return nil
}

func (c *RedisCache) Close() error {
	return c.client.Close()
}
