package dedup

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisClient is the subset of go-redis the store needs.
type RedisClient interface {
	SetNX(ctx context.Context, key string, value any, expiration time.Duration) *redis.BoolCmd
}

// RedisStore shares dedup state across instances with SET NX PX, which is atomic on the server.
type RedisStore struct {
	client    RedisClient
	prefix    string
	retention time.Duration
}

func NewRedisStore(client RedisClient, prefix string, retention time.Duration) *RedisStore {
	if retention <= 0 {
		retention = DefaultRetention
	}
	return &RedisStore{client: client, prefix: prefix, retention: retention}
}

func (s *RedisStore) Observe(ctx context.Context, key string) (bool, error) {
	first, err := s.client.SetNX(ctx, s.prefix+"dedup:"+key, time.Now().UTC().Format(time.RFC3339), s.retention).Result()
	if err != nil {
		return false, fmt.Errorf("redis setnx (key=%s): %w", key, err)
	}
	return first, nil
}
