package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"taxrelay.app/relay/common/id"
	"taxrelay.app/relay/common/logger"
	"taxrelay.app/relay/internal/metrics"
	"taxrelay.app/relay/internal/model"
	"taxrelay.app/relay/internal/retry"
	"taxrelay.app/relay/internal/router"
	"taxrelay.app/relay/internal/ruleset"
	"taxrelay.app/relay/internal/signature"
)

// Outcome is how a delivery was disposed of. The HTTP layer maps it onto a status code.
type Outcome string

const (
	OutcomeAccepted     Outcome = "accepted"
	OutcomeDuplicate    Outcome = "duplicate"
	OutcomeUnhandled    Outcome = "unhandled"
	OutcomeRetrying     Outcome = "retrying"
	OutcomeDeadLettered Outcome = "dead_lettered"
	OutcomeRejected     Outcome = "rejected"
	OutcomeUnavailable  Outcome = "unavailable"
)

var (
	ErrUnknownSource     = errors.New("unknown source")
	ErrDedupUnavailable  = errors.New("dedup store unavailable")
	ErrRulesetNotLoaded  = errors.New("ruleset not loaded")
	errMalformedEnvelope = errors.New("malformed envelope")
)

// HeaderGetter is satisfied by http.Header.
type HeaderGetter interface {
	Get(key string) string
}

type Delivery struct {
	Source  string
	Payload []byte
	Headers HeaderGetter
}

type IngestResult struct {
	Outcome  Outcome
	Event    model.InboundEvent
	Line     *model.NormalizedInvoiceLine
	Decision *retry.Decision
}

type IngestService interface {
	Ingest(ctx context.Context, d Delivery) (*IngestResult, error)
}

type RulesetSource interface {
	Current() *ruleset.Ruleset
}

type Verifier interface {
	Verify(src ruleset.Source, payload []byte, claimedSignature, claimedTimestamp string) error
}

type Deduplicator interface {
	Observe(ctx context.Context, key string) (bool, error)
}

type Router interface {
	Route(ctx context.Context, event model.InboundEvent) (router.Outcome, error)
}

type RetryScheduler interface {
	ScheduleRetry(ctx context.Context, event model.InboundEvent, cause error) retry.Decision
	DeadLetter(ctx context.Context, event model.InboundEvent, cause error) retry.Decision
}

type Ingester struct {
	rules     RulesetSource
	verifier  Verifier
	dedup     Deduplicator
	router    Router
	scheduler RetryScheduler
	now       func() time.Time
}

func NewIngestService(rules RulesetSource, verifier Verifier, dedup Deduplicator, router Router, scheduler RetryScheduler) *Ingester {
	return &Ingester{
		rules:     rules,
		verifier:  verifier,
		dedup:     dedup,
		router:    router,
		scheduler: scheduler,
		now:       time.Now,
	}
}

// WithClock replaces the receipt clock, for tests.
func (s *Ingester) WithClock(now func() time.Time) *Ingester {
	s.now = now
	return s
}

// Ingest authenticates, deduplicates and routes one delivery. Signature and dedup decisions
// are made before any classification or tax work. A returned error means the delivery was
// not accepted: ErrUnknownSource, a signature error, ErrDedupUnavailable or ErrRulesetNotLoaded.
func (s *Ingester) Ingest(ctx context.Context, d Delivery) (*IngestResult, error) {
	deliveryID := id.NewDeliveryID()
	ctx = logger.WithLogFields(ctx, logger.LogFields{
		DeliveryID: logger.Ptr(deliveryID),
		Source:     logger.Ptr(d.Source),
		Component:  "relay.ingest",
	})

	rs := s.rules.Current()
	if rs == nil {
		return &IngestResult{Outcome: OutcomeUnavailable}, ErrRulesetNotLoaded
	}

	src, err := rs.Source(d.Source)
	if err != nil {
		metrics.DeliveriesReceived.WithLabelValues("unknown", string(OutcomeRejected)).Inc()
		slog.WarnContext(ctx, "delivery for unknown source")
		return &IngestResult{Outcome: OutcomeRejected}, fmt.Errorf("%w: %q", ErrUnknownSource, d.Source)
	}

	claimedSig := d.Headers.Get(src.SignatureHeader)
	claimedTS := d.Headers.Get(src.TimestampHeader)

	span := logger.StartSpan(ctx, "relay.verify")
	err = s.verifier.Verify(src, d.Payload, claimedSig, claimedTS)
	if err != nil {
		span.RecordError(err)
	}
	span.End()
	if err != nil {
		reason := signature.Reason(err)
		metrics.SignatureFailures.WithLabelValues(src.Name, reason).Inc()
		metrics.DeliveriesReceived.WithLabelValues(src.Name, string(OutcomeRejected)).Inc()
		slog.WarnContext(ctx, "signature rejected", "reason", reason, "payload_bytes", len(d.Payload))
		return &IngestResult{Outcome: OutcomeRejected}, err
	}

	event := model.InboundEvent{
		DeliveryID:       deliveryID,
		Source:           src.Name,
		ReceivedAt:       s.now().UTC(),
		RawPayload:       d.Payload,
		ClaimedSignature: claimedSig,
		VATInclusive:     src.VATInclusive,
		TraceID:          logger.TraceIDFromContext(ctx),
	}
	if ts, err := signature.ParseTimestamp(claimedTS); err == nil {
		event.ClaimedTimestamp = ts.UTC()
	}

	env, err := router.ReadEnvelope(d.Payload)
	event.EventID = env.EventID
	event.RawEventType = env.EventType
	event.EventType = model.ParseEventType(env.EventType)
	if err != nil {
		// Authentic but unreadable: without an event id there is nothing to deduplicate on.
		if event.EventID == "" {
			event.EventID = deliveryID
		}
		return s.finish(ctx, event, model.Permanent(fmt.Errorf("%w: %v", errMalformedEnvelope, err)))
	}

	key := event.DedupKey()
	ctx = logger.WithLogFields(ctx, logger.LogFields{
		EventID:   logger.Ptr(event.EventID),
		EventType: logger.Ptr(event.RawEventType),
		DedupKey:  logger.Ptr(key),
	})

	first, err := s.dedup.Observe(ctx, key)
	if err != nil {
		metrics.DeliveriesReceived.WithLabelValues(src.Name, string(OutcomeUnavailable)).Inc()
		slog.ErrorContext(ctx, "dedup check failed", "error", err)
		return &IngestResult{Outcome: OutcomeUnavailable, Event: event}, fmt.Errorf("%w: %v", ErrDedupUnavailable, err)
	}
	if !first {
		metrics.DuplicatesSuppressed.WithLabelValues(src.Name).Inc()
		metrics.DeliveriesReceived.WithLabelValues(src.Name, string(OutcomeDuplicate)).Inc()
		slog.InfoContext(ctx, "duplicate delivery suppressed")
		return &IngestResult{Outcome: OutcomeDuplicate, Event: event}, nil
	}

	out, err := s.router.Route(ctx, event)
	if err != nil {
		return s.finish(ctx, event, err)
	}

	metrics.DeliveriesReceived.WithLabelValues(src.Name, string(OutcomeAccepted)).Inc()
	return &IngestResult{Outcome: OutcomeAccepted, Event: event, Line: &out.Line}, nil
}

// finish disposes of a failed first attempt by its error kind.
func (s *Ingester) finish(ctx context.Context, event model.InboundEvent, cause error) (*IngestResult, error) {
	result := &IngestResult{Event: event}

	switch model.KindOf(cause) {
	case model.KindUnhandled:
		result.Outcome = OutcomeUnhandled
		slog.WarnContext(ctx, "no handler for event type, acknowledging", "error", cause)
	case model.KindPermanent:
		d := s.scheduler.DeadLetter(ctx, event, cause)
		result.Decision = &d
		result.Outcome = OutcomeDeadLettered
		slog.ErrorContext(ctx, "permanent processing failure", "error", cause)
	default:
		d := s.scheduler.ScheduleRetry(ctx, event, cause)
		result.Decision = &d
		result.Outcome = OutcomeRetrying
		if !d.Retry() {
			result.Outcome = OutcomeDeadLettered
		}
	}

	metrics.DeliveriesReceived.WithLabelValues(event.Source, string(result.Outcome)).Inc()
	return result, nil
}
