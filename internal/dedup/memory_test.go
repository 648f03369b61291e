package dedup_test

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"taxrelay.app/relay/internal/dedup"
)

var _ = Describe("MemoryStore", func() {
	var (
		ctx   context.Context
		now   time.Time
		store *dedup.MemoryStore
	)

	BeforeEach(func() {
		ctx = context.Background()
		now = time.Date(2026, 10, 1, 12, 0, 0, 0, time.UTC)
		store = dedup.NewMemoryStore(time.Hour, 3).WithClock(func() time.Time { return now })
	})

	It("reports the first observation only", func() {
		first, err := store.Observe(ctx, "paystack:payment.success:E1")
		Expect(err).ToNot(HaveOccurred())
		Expect(first).To(BeTrue())

		again, err := store.Observe(ctx, "paystack:payment.success:E1")
		Expect(err).ToNot(HaveOccurred())
		Expect(again).To(BeFalse())
	})

	It("forgets keys after the retention window", func() {
		_, _ = store.Observe(ctx, "k")
		now = now.Add(time.Hour)

		first, err := store.Observe(ctx, "k")
		Expect(err).ToNot(HaveOccurred())
		Expect(first).To(BeTrue())
	})

	It("does not extend retention on duplicates", func() {
		_, _ = store.Observe(ctx, "k")
		now = now.Add(50 * time.Minute)
		Expect(store.Observe(ctx, "k")).To(BeFalse())

		now = now.Add(11 * time.Minute)
		Expect(store.Observe(ctx, "k")).To(BeTrue())
	})

	It("evicts the oldest key when full", func() {
		for _, k := range []string{"a", "b", "c", "d"} {
			now = now.Add(time.Second)
			Expect(store.Observe(ctx, k)).To(BeTrue())
		}
		Expect(store.Len()).To(Equal(3))
		Expect(store.Evicted()).To(Equal(uint64(1)))

		Expect(store.Observe(ctx, "a")).To(BeTrue())
		Expect(store.Observe(ctx, "d")).To(BeFalse())
	})

	It("lets exactly one of many concurrent observers through", func() {
		store = dedup.NewMemoryStore(time.Hour, 1000)
		var (
			wg     sync.WaitGroup
			winner atomic.Int32
		)
		for i := 0; i < 64; i++ {
			wg.Add(1)
			go func() {
				defer GinkgoRecover()
				defer wg.Done()
				first, err := store.Observe(ctx, "same")
				Expect(err).ToNot(HaveOccurred())
				if first {
					winner.Add(1)
				}
			}()
		}
		wg.Wait()
		Expect(winner.Load()).To(Equal(int32(1)))
	})

	It("keeps independent keys independent", func() {
		for i := 0; i < 3; i++ {
			Expect(store.Observe(ctx, fmt.Sprintf("key-%d", i))).To(BeTrue())
		}
	})
})
