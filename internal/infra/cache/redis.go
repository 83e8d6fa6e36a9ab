package cache

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisCache implements domain.Cache on Redis.
type RedisCache struct {
	client *redis.Client
}

// NewRedis creates the cache.
func NewRedis(client *redis.Client) *RedisCache {
	return &RedisCache{client: client}
}

// Once runs fn if the key has not been set yet. The key is released again
// when fn fails so the action can be retried.
func (c *RedisCache) Once(key string, ttl time.Duration, fn func() error) error {
	ctx := context.Background()
	ok, err := c.client.SetNX(ctx, key, "1", ttl).Result()
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}
	if err := fn(); err != nil {
		_ = c.client.Del(ctx, key).Err()
		return err
	}
	return nil
}

// Set stores a value.
func (c *RedisCache) Set(key string, value []byte, ttl time.Duration) error {
	return c.client.Set(context.Background(), key, value, ttl).Err()
}

// Get returns a value.
func (c *RedisCache) Get(key string) ([]byte, error) {
	return c.client.Get(context.Background(), key).Bytes()
}
