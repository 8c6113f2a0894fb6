package rate

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
)

// RedisCache stores the last good rate per pair under rate:last:<pair>.
type RedisCache struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewRedisCache(rdb *redis.Client, ttl time.Duration) *RedisCache {
	return &RedisCache{rdb: rdb, ttl: ttl}
}

func cacheKey(pair string) string { return "rate:last:" + pair }

func (c *RedisCache) Last(ctx context.Context, pair string) (decimal.Decimal, error) {
	v, err := c.rdb.Get(ctx, cacheKey(pair)).Result()
	if err != nil {
		return decimal.Zero, err
	}
	return decimal.NewFromString(v)
}

func (c *RedisCache) Save(ctx context.Context, pair string, rate decimal.Decimal) error {
	return c.rdb.Set(ctx, cacheKey(pair), rate.String(), c.ttl).Err()
}

// Static always answers with a fixed rate.  It stands in for the chain in
// development and tests.
type Static decimal.Decimal

func (s Static) GetRate(context.Context, string) (decimal.Decimal, error) {
	return decimal.Decimal(s), nil
}
