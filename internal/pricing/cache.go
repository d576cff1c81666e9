package pricing

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisQuotes caches live quotes in Redis with a short TTL.
type RedisQuotes struct {
	rdb redis.Cmdable
	ttl time.Duration
}

// NewRedisQuotes creates a quote cache.
func NewRedisQuotes(rdb redis.Cmdable, ttl time.Duration) *RedisQuotes {
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &RedisQuotes{rdb: rdb, ttl: ttl}
}

func (c *RedisQuotes) Get(ctx context.Context, symbol string) (float64, bool) {
	s, err := c.rdb.Get(ctx, quoteKey(symbol)).Result()
	if err != nil {
		return 0, false
	}
	p, err := strconv.ParseFloat(s, 64)
	if err != nil || p <= 0 {
		return 0, false
	}
	return p, true
}

func (c *RedisQuotes) Put(ctx context.Context, symbol string, price float64) {
	c.rdb.Set(ctx, quoteKey(symbol), strconv.FormatFloat(price, 'f', -1, 64), c.ttl)
}

func quoteKey(symbol string) string { return fmt.Sprintf("quote:%s", symbol) }
