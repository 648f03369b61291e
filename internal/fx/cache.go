package fx

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
)

type CacheClient interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value any, expiration time.Duration) *redis.StatusCmd
}

// RedisCache memoises another provider's rates per currency pair and day.
// Cache failures degrade to a direct lookup.
type RedisCache struct {
	next   Provider
	client CacheClient
	prefix string
	ttl    time.Duration
}

func NewRedisCache(next Provider, client CacheClient, prefix string, ttl time.Duration) *RedisCache {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &RedisCache{next: next, client: client, prefix: prefix, ttl: ttl}
}

func (c *RedisCache) Rate(ctx context.Context, from, to string, asOf time.Time) (decimal.Decimal, error) {
	key := c.key(from, to, asOf)

	cached, err := c.client.Get(ctx, key).Result()
	switch {
	case err == nil:
		if rate, parseErr := decimal.NewFromString(cached); parseErr == nil {
			return rate, nil
		}
		slog.WarnContext(ctx, "discarding unparseable cached rate", "key", key)
	case !errors.Is(err, redis.Nil):
		slog.WarnContext(ctx, "fx cache read failed", "error", err, "key", key)
	}

	rate, err := c.next.Rate(ctx, from, to, asOf)
	if err != nil {
		return decimal.Decimal{}, err
	}

	if err := c.client.Set(ctx, key, rate.String(), c.ttl).Err(); err != nil {
		slog.WarnContext(ctx, "fx cache write failed", "error", err, "key", key)
	}
	return rate, nil
}

func (c *RedisCache) key(from, to string, asOf time.Time) string {
	return c.prefix + "fx:" + strings.ToUpper(from) + ":" + strings.ToUpper(to) + ":" + asOf.UTC().Format(time.DateOnly)
}
