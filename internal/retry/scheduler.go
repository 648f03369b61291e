// Package retry owns processing attempts for events whose handler failed and
// re-submits them to the router with exponential backoff until they succeed
// or are dead-lettered.
package retry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"taxrelay.app/relay/common/id"
	"taxrelay.app/relay/common/logger"
	"taxrelay.app/relay/internal/metrics"
	"taxrelay.app/relay/internal/model"
)

type Config struct {
	BaseDelay    time.Duration
	MaxDelay     time.Duration
	MaxAttempts  int
	ScanInterval time.Duration
	Concurrency  int // resubmissions in flight per scan
}

func (c Config) withDefaults() Config {
	if c.BaseDelay <= 0 {
		c.BaseDelay = 2 * time.Second
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = 5 * time.Minute
	}
	if c.MaxDelay < c.BaseDelay {
		c.MaxDelay = c.BaseDelay
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 5
	}
	if c.ScanInterval <= 0 {
		c.ScanInterval = time.Second
	}
	if c.Concurrency <= 0 {
		c.Concurrency = 4
	}
	return c
}

// ResubmitFunc runs an event through the router again. The dedup guard is not consulted.
type ResubmitFunc func(ctx context.Context, event model.InboundEvent) error

// DeadLetterSink durably records events that will not be retried.
type DeadLetterSink interface {
	Publish(ctx context.Context, dl model.DeadLetter) error
}

type Action string

const maxLoggedError = 500

const (
	ActionRetry      Action = "retry"
	ActionDeadLetter Action = "dead_letter"
)

type Decision struct {
	Action       Action
	NextRetryAt  time.Time
	AttemptCount int
}

func (d Decision) Retry() bool {
	return d.Action == ActionRetry
}

type entry struct {
	attempt  model.ProcessingAttempt
	inFlight bool
	// pending is set when the dead letter was decided but could not be published yet.
	pending *model.DeadLetter
}

type Scheduler struct {
	cfg         Config
	resubmit    ResubmitFunc
	deadLetters DeadLetterSink
	now         func() time.Time

	mu      sync.Mutex
	entries map[string]*entry

	stopOnce  sync.Once
	stopCh    chan struct{}
	stoppedCh chan struct{}
}

func NewScheduler(cfg Config, resubmit ResubmitFunc, deadLetters DeadLetterSink) *Scheduler {
	return &Scheduler{
		cfg:         cfg.withDefaults(),
		resubmit:    resubmit,
		deadLetters: deadLetters,
		now:         time.Now,
		entries:     make(map[string]*entry),
		stopCh:      make(chan struct{}),
		stoppedCh:   make(chan struct{}),
	}
}

// WithClock replaces the wall clock, for tests.
func (s *Scheduler) WithClock(now func() time.Time) *Scheduler {
	s.now = now
	return s
}

// Backoff returns the delay before the retry that follows failure number attempt (1-based):
// min(MaxDelay, BaseDelay * 2^(attempt-1)).
func (s *Scheduler) Backoff(attempt int) time.Duration {
	n := attempt - 1
	if n < 0 {
		n = 0
	}
	if n >= 62 {
		return s.cfg.MaxDelay
	}
	d := s.cfg.BaseDelay << uint(n)
	if d <= 0 || d > s.cfg.MaxDelay || d>>uint(n) != s.cfg.BaseDelay {
		return s.cfg.MaxDelay
	}
	return d
}

// ScheduleRetry records a failed attempt for event. Once MaxAttempts failures have been
// recorded the event is dead-lettered and its attempt record destroyed.
func (s *Scheduler) ScheduleRetry(ctx context.Context, event model.InboundEvent, cause error) Decision {
	key := event.DedupKey()
	now := s.now()

	s.mu.Lock()
	e, ok := s.entries[key]
	if !ok {
		e = &entry{attempt: model.ProcessingAttempt{DedupKey: key, Event: event, CreatedAt: now}}
		s.entries[key] = e
	}
	e.inFlight = false
	e.attempt.AttemptCount++
	e.attempt.LastError = errorString(cause)
	count := e.attempt.AttemptCount

	if count >= s.cfg.MaxAttempts {
		delete(s.entries, key)
		pending := len(s.entries)
		s.mu.Unlock()
		metrics.RetriesPending.Set(float64(pending))

		s.publish(ctx, event, cause, model.KindTransient, count)
		return Decision{Action: ActionDeadLetter, AttemptCount: count}
	}

	next := now.Add(s.Backoff(count))
	e.attempt.NextRetryAt = next
	pending := len(s.entries)
	s.mu.Unlock()

	metrics.RetriesScheduled.Inc()
	metrics.RetriesPending.Set(float64(pending))

	slog.InfoContext(ctx, "retry scheduled",
		"attempt", count,
		"max_attempts", s.cfg.MaxAttempts,
		"next_retry_at", next,
		"error", cause)

	return Decision{Action: ActionRetry, NextRetryAt: next, AttemptCount: count}
}

// DeadLetter bypasses backoff for failures that retrying cannot fix.
func (s *Scheduler) DeadLetter(ctx context.Context, event model.InboundEvent, cause error) Decision {
	key := event.DedupKey()

	s.mu.Lock()
	count := 1
	if e, ok := s.entries[key]; ok {
		count = e.attempt.AttemptCount + 1
		delete(s.entries, key)
	}
	pending := len(s.entries)
	s.mu.Unlock()
	metrics.RetriesPending.Set(float64(pending))

	s.publish(ctx, event, cause, model.KindOf(cause), count)
	return Decision{Action: ActionDeadLetter, AttemptCount: count}
}

// Succeeded destroys the attempt record for key.
func (s *Scheduler) Succeeded(key string) {
	s.mu.Lock()
	delete(s.entries, key)
	pending := len(s.entries)
	s.mu.Unlock()
	metrics.RetriesPending.Set(float64(pending))
}

// Attempt returns a copy of the attempt record for key.
func (s *Scheduler) Attempt(key string) (model.ProcessingAttempt, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[key]
	if !ok {
		return model.ProcessingAttempt{}, false
	}
	return e.attempt, true
}

// Pending returns the number of events waiting on a retry or a dead-letter publish.
func (s *Scheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// Run starts the scan loop. Blocks until Stop() is called or ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) {
	ctx = logger.WithLogFields(ctx, logger.LogFields{
		Component: "relay.retry.scheduler",
	})

	defer close(s.stoppedCh)

	ticker := time.NewTicker(s.cfg.ScanInterval)
	defer ticker.Stop()

	slog.InfoContext(ctx, "retry scheduler started",
		"interval", s.cfg.ScanInterval,
		"base_delay", s.cfg.BaseDelay,
		"max_delay", s.cfg.MaxDelay,
		"max_attempts", s.cfg.MaxAttempts)

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			slog.InfoContext(ctx, "retry scheduler stopping", "pending", s.Pending())
			return
		case <-ticker.C:
			s.ProcessDue(ctx)
		}
	}
}

// Stop signals the scan loop to exit and waits for the current scan to finish.
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() { close(s.stopCh) })
	<-s.stoppedCh
}

// ProcessDue re-submits every attempt whose next_retry_at has passed and returns how many
// were picked up. Attempts already being re-submitted are skipped.
func (s *Scheduler) ProcessDue(ctx context.Context) int {
	now := s.now()

	var (
		due         []model.ProcessingAttempt
		undelivered []model.DeadLetter
	)
	s.mu.Lock()
	for key, e := range s.entries {
		if e.inFlight || e.attempt.NextRetryAt.After(now) {
			continue
		}
		if e.pending != nil {
			undelivered = append(undelivered, *e.pending)
			delete(s.entries, key)
			continue
		}
		e.inFlight = true
		due = append(due, e.attempt)
	}
	s.mu.Unlock()

	for _, dl := range undelivered {
		s.deliver(ctx, dl)
	}

	if len(due) == 0 {
		return len(undelivered)
	}

	slog.DebugContext(ctx, "re-submitting due attempts", "count", len(due))

	sem := make(chan struct{}, s.cfg.Concurrency)
	var wg sync.WaitGroup
	for _, a := range due {
		sem <- struct{}{}
		wg.Add(1)
		go func(a model.ProcessingAttempt) {
			defer wg.Done()
			defer func() { <-sem }()
			s.resubmitOne(ctx, a)
		}(a)
	}
	wg.Wait()

	return len(due) + len(undelivered)
}

func (s *Scheduler) resubmitOne(ctx context.Context, a model.ProcessingAttempt) {
	attempt := a.AttemptCount + 1
	ctx = logger.WithLogFields(ctx, logger.LogFields{
		DeliveryID: logger.Ptr(a.Event.DeliveryID),
		Source:     logger.Ptr(a.Event.Source),
		EventID:    logger.Ptr(a.Event.EventID),
		EventType:  logger.Ptr(a.Event.RawEventType),
		DedupKey:   logger.Ptr(a.DedupKey),
		Attempt:    &attempt,
	})

	span := logger.StartSpanFromTraceID(ctx, a.Event.TraceID, "relay.retry")
	defer span.End()
	ctx = span.Context()

	err := s.safeResubmit(ctx, a.Event)
	if err == nil {
		s.Succeeded(a.DedupKey)
		slog.InfoContext(ctx, "retry succeeded")
		return
	}

	span.RecordError(err)

	switch model.KindOf(err) {
	case model.KindUnhandled:
		s.Succeeded(a.DedupKey)
		slog.WarnContext(ctx, "retried event has no handler, dropping", "error", err)
	case model.KindPermanent:
		s.DeadLetter(ctx, a.Event, err)
	default:
		s.ScheduleRetry(ctx, a.Event, err)
	}
}

func (s *Scheduler) safeResubmit(ctx context.Context, event model.InboundEvent) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = model.Permanent(fmt.Errorf("panic during retry: %v", r))
		}
	}()
	return s.resubmit(ctx, event)
}

func (s *Scheduler) publish(ctx context.Context, event model.InboundEvent, cause error, kind model.ErrorKind, attempts int) {
	dl := model.DeadLetter{
		ID:           id.New(),
		Event:        event,
		FinalError:   errorString(cause),
		ErrorKind:    kind,
		AttemptCount: attempts,
		DeadAt:       s.now(),
	}
	s.deliver(ctx, dl)
}

// deliver writes dl to the sink. A failed write is parked as an entry and retried on the
// next scan so that nothing is dropped.
func (s *Scheduler) deliver(ctx context.Context, dl model.DeadLetter) {
	err := s.deadLetters.Publish(ctx, dl)
	if err == nil {
		metrics.DeadLetters.WithLabelValues(string(dl.ErrorKind)).Inc()
		slog.WarnContext(ctx, "event dead-lettered",
			"dead_letter_id", dl.ID,
			"kind", dl.ErrorKind,
			"attempt_count", dl.AttemptCount,
			"final_error", logger.Truncate(dl.FinalError, maxLoggedError))
		return
	}

	slog.ErrorContext(ctx, "failed to publish dead letter, will retry",
		"error", err,
		"dead_letter_id", dl.ID,
		"final_error", logger.Truncate(dl.FinalError, maxLoggedError))

	key := dl.Event.DedupKey()
	s.mu.Lock()
	if _, exists := s.entries[key]; !exists {
		s.entries[key] = &entry{
			attempt: model.ProcessingAttempt{
				DedupKey:     key,
				Event:        dl.Event,
				AttemptCount: dl.AttemptCount,
				LastError:    dl.FinalError,
				NextRetryAt:  s.now().Add(s.cfg.MaxDelay),
				CreatedAt:    dl.DeadAt,
			},
			pending: &dl,
		}
	}
	s.mu.Unlock()
}

func errorString(err error) string {
	if err == nil {
		return ""
	}
	var pe *model.ProcessingError
	if errors.As(err, &pe) && pe.Err != nil {
		return pe.Err.Error()
	}
	return err.Error()
}
