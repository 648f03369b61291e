package retry_test

import (
	"context"
	"errors"
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"taxrelay.app/relay/internal/model"
	"taxrelay.app/relay/internal/retry"
)

type fakeDeadLetters struct {
	mu        sync.Mutex
	PublishFn func(ctx context.Context, dl model.DeadLetter) error
	published []model.DeadLetter
}

func (f *fakeDeadLetters) Publish(ctx context.Context, dl model.DeadLetter) error {
	if f.PublishFn != nil {
		if err := f.PublishFn(ctx, dl); err != nil {
			return err
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.published = append(f.published, dl)
	return nil
}

func (f *fakeDeadLetters) all() []model.DeadLetter {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]model.DeadLetter(nil), f.published...)
}

var _ = Describe("Scheduler", func() {
	var (
		ctx       context.Context
		now       time.Time
		dlq       *fakeDeadLetters
		resubmit  retry.ResubmitFunc
		calls     int
		mu        sync.Mutex
		scheduler *retry.Scheduler
		event     model.InboundEvent
		cfg       retry.Config
	)

	newScheduler := func() *retry.Scheduler {
		return retry.NewScheduler(cfg, func(ctx context.Context, e model.InboundEvent) error {
			mu.Lock()
			calls++
			mu.Unlock()
			return resubmit(ctx, e)
		}, dlq).WithClock(func() time.Time { return now })
	}

	BeforeEach(func() {
		ctx = context.Background()
		now = time.Date(2026, 10, 1, 12, 0, 0, 0, time.UTC)
		dlq = &fakeDeadLetters{}
		calls = 0
		resubmit = func(context.Context, model.InboundEvent) error { return nil }
		cfg = retry.Config{BaseDelay: 2 * time.Second, MaxDelay: 30 * time.Second, MaxAttempts: 5}
		event = model.InboundEvent{
			Source:       "paystack",
			EventID:      "E1",
			EventType:    model.EventTypePaymentSuccess,
			RawEventType: "payment.success",
		}
		scheduler = newScheduler()
	})

	Describe("Backoff", func() {
		It("doubles from the base delay and caps at the max delay", func() {
			Expect(scheduler.Backoff(1)).To(Equal(2 * time.Second))
			Expect(scheduler.Backoff(2)).To(Equal(4 * time.Second))
			Expect(scheduler.Backoff(3)).To(Equal(8 * time.Second))
			Expect(scheduler.Backoff(5)).To(Equal(30 * time.Second))
			Expect(scheduler.Backoff(200)).To(Equal(30 * time.Second))
		})
	})

	Describe("ScheduleRetry", func() {
		It("returns non-decreasing delays bounded by the max and then dead-letters", func() {
			cfg.MaxAttempts = 8
			scheduler = newScheduler()

			var last time.Duration
			for i := 1; i < 8; i++ {
				d := scheduler.ScheduleRetry(ctx, event, errors.New("sink down"))
				Expect(d.Retry()).To(BeTrue())
				Expect(d.AttemptCount).To(Equal(i))

				delay := d.NextRetryAt.Sub(now)
				Expect(delay).To(BeNumerically(">=", last))
				Expect(delay).To(BeNumerically("<=", 30*time.Second))
				last = delay
			}

			d := scheduler.ScheduleRetry(ctx, event, errors.New("sink down"))
			Expect(d.Action).To(Equal(retry.ActionDeadLetter))
			Expect(d.AttemptCount).To(Equal(8))
			Expect(scheduler.Pending()).To(BeZero())

			published := dlq.all()
			Expect(published).To(HaveLen(1))
			Expect(published[0].Event.EventID).To(Equal("E1"))
			Expect(published[0].FinalError).To(Equal("sink down"))
			Expect(published[0].AttemptCount).To(Equal(8))
			Expect(published[0].ErrorKind).To(Equal(model.KindTransient))
			Expect(published[0].ID).ToNot(BeZero())
		})

		It("tracks one attempt record per dedup key", func() {
			scheduler.ScheduleRetry(ctx, event, errors.New("boom"))
			other := event
			other.EventID = "E2"
			scheduler.ScheduleRetry(ctx, other, errors.New("boom"))

			Expect(scheduler.Pending()).To(Equal(2))
			a, ok := scheduler.Attempt(event.DedupKey())
			Expect(ok).To(BeTrue())
			Expect(a.AttemptCount).To(Equal(1))
			Expect(a.LastError).To(Equal("boom"))
			Expect(a.NextRetryAt).To(Equal(now.Add(2 * time.Second)))
		})
	})

	Describe("DeadLetter", func() {
		It("publishes immediately with the permanent kind", func() {
			d := scheduler.DeadLetter(ctx, event, model.Permanent(errors.New("amount must be positive")))
			Expect(d.Action).To(Equal(retry.ActionDeadLetter))

			published := dlq.all()
			Expect(published).To(HaveLen(1))
			Expect(published[0].ErrorKind).To(Equal(model.KindPermanent))
			Expect(published[0].FinalError).To(Equal("amount must be positive"))
			Expect(published[0].AttemptCount).To(Equal(1))
		})
	})

	Describe("ProcessDue", func() {
		It("only re-submits attempts that are due", func() {
			scheduler.ScheduleRetry(ctx, event, errors.New("timeout"))

			Expect(scheduler.ProcessDue(ctx)).To(BeZero())
			Expect(calls).To(BeZero())

			now = now.Add(2 * time.Second)
			Expect(scheduler.ProcessDue(ctx)).To(Equal(1))
			Expect(calls).To(Equal(1))
			Expect(scheduler.Pending()).To(BeZero())
		})

		It("reschedules transient failures with a longer delay", func() {
			resubmit = func(context.Context, model.InboundEvent) error {
				return model.Transient(errors.New("fx provider unavailable"))
			}
			scheduler.ScheduleRetry(ctx, event, errors.New("fx provider unavailable"))
			now = now.Add(2 * time.Second)

			scheduler.ProcessDue(ctx)

			a, ok := scheduler.Attempt(event.DedupKey())
			Expect(ok).To(BeTrue())
			Expect(a.AttemptCount).To(Equal(2))
			Expect(a.NextRetryAt).To(Equal(now.Add(4 * time.Second)))
		})

		It("dead-letters permanent failures found on retry", func() {
			resubmit = func(context.Context, model.InboundEvent) error {
				return model.Permanent(errors.New("tax invariant violated"))
			}
			scheduler.ScheduleRetry(ctx, event, errors.New("timeout"))
			now = now.Add(time.Minute)

			scheduler.ProcessDue(ctx)

			Expect(scheduler.Pending()).To(BeZero())
			published := dlq.all()
			Expect(published).To(HaveLen(1))
			Expect(published[0].ErrorKind).To(Equal(model.KindPermanent))
			Expect(published[0].AttemptCount).To(Equal(2))
		})

		It("treats a panicking handler as permanent", func() {
			resubmit = func(context.Context, model.InboundEvent) error { panic("nil map") }
			scheduler.ScheduleRetry(ctx, event, errors.New("timeout"))
			now = now.Add(time.Minute)

			scheduler.ProcessDue(ctx)

			published := dlq.all()
			Expect(published).To(HaveLen(1))
			Expect(published[0].FinalError).To(ContainSubstring("panic"))
		})

		It("keeps a dead letter that could not be published and retries it", func() {
			failing := true
			dlq.PublishFn = func(context.Context, model.DeadLetter) error {
				if failing {
					return errors.New("redis down")
				}
				return nil
			}
			scheduler.DeadLetter(ctx, event, model.Permanent(errors.New("bad payload")))
			Expect(scheduler.Pending()).To(Equal(1))
			Expect(dlq.all()).To(BeEmpty())

			failing = false
			now = now.Add(30 * time.Second)
			scheduler.ProcessDue(ctx)

			Expect(scheduler.Pending()).To(BeZero())
			Expect(dlq.all()).To(HaveLen(1))
			Expect(calls).To(BeZero())
		})
	})

	Describe("Run", func() {
		It("re-submits due attempts on its ticker until stopped", func() {
			cfg.ScanInterval = 10 * time.Millisecond
			cfg.BaseDelay = 10 * time.Millisecond
			scheduler = retry.NewScheduler(cfg, func(context.Context, model.InboundEvent) error {
				mu.Lock()
				calls++
				mu.Unlock()
				return nil
			}, dlq)

			scheduler.ScheduleRetry(ctx, event, errors.New("timeout"))

			go scheduler.Run(ctx)
			Eventually(func() int {
				mu.Lock()
				defer mu.Unlock()
				return calls
			}, 5*time.Second, 20*time.Millisecond).Should(Equal(1))
			scheduler.Stop()
			Expect(scheduler.Pending()).To(BeZero())
		})
	})
})
