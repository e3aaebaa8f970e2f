package cache

import (
	"context"
	"errors"
	"field-route-planner/internal/platform/obs"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisRouteCache keeps routing provider responses in Redis with a TTL.
type RedisRouteCache struct {
	rdb    *redis.Client
	prefix string
}

func NewRedisRouteCache(rdb *redis.Client) *RedisRouteCache {
	return &RedisRouteCache{rdb: rdb, prefix: "route-planner:"}
}

// NewRedisRouteCacheFromURL parses a redis:// URL and pings the server.
func NewRedisRouteCacheFromURL(ctx context.Context, url string) (*RedisRouteCache, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("redis route cache: parse url: %w", err)
	}

	rdb := redis.NewClient(opt)
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("redis route cache: ping: %w", err)
	}

	return NewRedisRouteCache(rdb), nil
}

func (c *RedisRouteCache) Get(ctx context.Context, key string) (_ []byte, _ bool, err error) {
	defer obs.Time(ctx, "route.cache.redis.Get")(&err)

	b, err := c.rdb.Get(ctx, c.prefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("redis route cache get: %w", err)
	}

	return b, true, nil
}

func (c *RedisRouteCache) Put(ctx context.Context, key string, payload []byte, ttl time.Duration) (err error) {
	defer obs.Time(ctx, "route.cache.redis.Put")(&err)

	if ttl < 0 {
		ttl = 0
	}
	if err := c.rdb.Set(ctx, c.prefix+key, payload, ttl).Err(); err != nil {
		return fmt.Errorf("redis route cache put: %w", err)
	}

	return nil
}

func (c *RedisRouteCache) Close() error {
	return c.rdb.Close()
}
