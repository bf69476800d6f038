// Package tally caches per-offender violation count totals in Redis. The
// total is the figure the gateway renders on every listing, so it is worth
// serving without a store round trip; the cache is invalidated whenever a
// violation is created or removed.
package tally

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisCache implements offender total caching using Redis
type RedisCache struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedisCache creates a new Redis-backed tally cache
func NewRedisCache(redisURL string, ttl time.Duration) (*RedisCache, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	return NewRedisCacheWithClient(client, ttl), nil
}

// NewRedisCacheWithClient creates a cache from an existing Redis client
func NewRedisCacheWithClient(client *redis.Client, ttl time.Duration) *RedisCache {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &RedisCache{
		client: client,
		prefix: "tally:",
		ttl:    ttl,
	}
}

// key generates the Redis key for an offender
func (c *RedisCache) key(offenderID string) string {
	return c.prefix + offenderID
}

// Get returns the cached total for an offender. A miss is (0, false, nil).
func (c *RedisCache) Get(ctx context.Context, offenderID string) (int, bool, error) {
	value, err := c.client.Get(ctx, c.key(offenderID)).Result()
	if errors.Is(err, redis.Nil) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("read tally: %w", err)
	}

	total, err := strconv.Atoi(value)
	if err != nil {
		// Unparseable entries are treated as misses and dropped.
		_ = c.client.Del(ctx, c.key(offenderID)).Err()
		return 0, false, nil
	}
	return total, true, nil
}

// Set stores the total for an offender with the cache TTL.
func (c *RedisCache) Set(ctx context.Context, offenderID string, total int) error {
	if err := c.client.Set(ctx, c.key(offenderID), strconv.Itoa(total), c.ttl).Err(); err != nil {
		return fmt.Errorf("write tally: %w", err)
	}
	return nil
}

// Invalidate drops the cached total for an offender.
func (c *RedisCache) Invalidate(ctx context.Context, offenderID string) error {
	if err := c.client.Del(ctx, c.key(offenderID)).Err(); err != nil {
		return fmt.Errorf("invalidate tally: %w", err)
	}
	return nil
}

// Close closes the Redis connection
func (c *RedisCache) Close() error {
	return c.client.Close()
}

// Ping checks if Redis is reachable
func (c *RedisCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}
