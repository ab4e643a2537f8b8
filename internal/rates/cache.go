package rates

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
)

// Cache holds the last fetched market rate for a bounded time.
type Cache interface {
	Get(ctx context.Context) (decimal.Decimal, bool)
	Set(ctx context.Context, rate decimal.Decimal, ttl time.Duration)
	Invalidate(ctx context.Context)
}

// MemoryCache is a process-local Cache.
type MemoryCache struct {
	mu        sync.Mutex
	rate      decimal.Decimal
	expiresAt time.Time
	now       func() time.Time
}

func NewMemoryCache() *MemoryCache {
	return &MemoryCache{now: time.Now}
}

func (c *MemoryCache) Get(context.Context) (decimal.Decimal, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.expiresAt.IsZero() || !c.now().Before(c.expiresAt) {
		return decimal.Zero, false
	}
	return c.rate, true
}

func (c *MemoryCache) Set(_ context.Context, rate decimal.Decimal, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rate = rate
	c.expiresAt = c.now().Add(ttl)
}

func (c *MemoryCache) Invalidate(context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.expiresAt = time.Time{}
}

// RedisCache shares the rate across engine replicas.
type RedisCache struct {
	rdb *redis.Client
	key string
}

func NewRedisCache(rdb *redis.Client) *RedisCache {
	return &RedisCache{rdb: rdb, key: "offramp:rate:usdt_ngn"}
}

func (c *RedisCache) Get(ctx context.Context) (decimal.Decimal, bool) {
	s, err := c.rdb.Get(ctx, c.key).Result()
	if err != nil {
		return decimal.Zero, false
	}
	rate, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, false
	}
	return rate, true
}

func (c *RedisCache) Set(ctx context.Context, rate decimal.Decimal, ttl time.Duration) {
	c.rdb.Set(ctx, c.key, rate.String(), ttl)
}

func (c *RedisCache) Invalidate(ctx context.Context) {
	c.rdb.Del(ctx, c.key)
}
