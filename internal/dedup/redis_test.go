package dedup_test

import (
	"context"
	"errors"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/redis/go-redis/v9"

	"taxrelay.app/relay/internal/dedup"
)

type fakeRedis struct {
	SetNXFn func(ctx context.Context, key string, value any, expiration time.Duration) *redis.BoolCmd
}

func (f *fakeRedis) SetNX(ctx context.Context, key string, value any, expiration time.Duration) *redis.BoolCmd {
	return f.SetNXFn(ctx, key, value, expiration)
}

var _ = Describe("RedisStore", func() {
	var (
		ctx    context.Context
		client *fakeRedis
		seen   map[string]bool
	)

	BeforeEach(func() {
		ctx = context.Background()
		seen = map[string]bool{}
		client = &fakeRedis{
			SetNXFn: func(_ context.Context, key string, _ any, expiration time.Duration) *redis.BoolCmd {
				Expect(expiration).To(Equal(24 * time.Hour))
				if seen[key] {
					return redis.NewBoolResult(false, nil)
				}
				seen[key] = true
				return redis.NewBoolResult(true, nil)
			},
		}
	})

	It("uses SET NX under the configured prefix", func() {
		store := dedup.NewRedisStore(client, "taxrelay:", 24*time.Hour)

		Expect(store.Observe(ctx, "paystack:charge.success:E1")).To(BeTrue())
		Expect(store.Observe(ctx, "paystack:charge.success:E1")).To(BeFalse())
		Expect(seen).To(HaveKey("taxrelay:dedup:paystack:charge.success:E1"))
	})

	It("surfaces redis errors", func() {
		client.SetNXFn = func(context.Context, string, any, time.Duration) *redis.BoolCmd {
			return redis.NewBoolResult(false, errors.New("connection refused"))
		}
		store := dedup.NewRedisStore(client, "", 24*time.Hour)

		_, err := store.Observe(ctx, "k")
		Expect(err).To(MatchError(ContainSubstring("connection refused")))
	})
})
