// Package router dispatches authenticated events to the handler for their type and runs the
// classify, tax, normalize and sink stages for the extracted transaction.
package router

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"

	"github.com/tidwall/gjson"
	"go.opentelemetry.io/otel/attribute"

	"taxrelay.app/relay/common/logger"
	"taxrelay.app/relay/internal/model"
	"taxrelay.app/relay/internal/ruleset"
)

type RulesetSource interface {
	Current() *ruleset.Ruleset
}

// Outcome is what a successful handler invocation produced.
type Outcome struct {
	Transaction    model.Transaction
	Classification model.ClassificationResult
	Tax            model.TaxBreakdown
	Line           model.NormalizedInvoiceLine
}

// Router maps each known event type to its extractor. The table is fixed at construction.
type Router struct {
	rules     RulesetSource
	pipeline  *Pipeline
	extractor map[model.EventType]Extractor
}

func New(rules RulesetSource, pipeline *Pipeline) *Router {
	return &Router{
		rules:    rules,
		pipeline: pipeline,
		extractor: map[model.EventType]Extractor{
			model.EventTypePaymentSuccess:   gatewayPayment,
			model.EventTypeChargeSuccess:    gatewayPayment,
			model.EventTypeTransferSuccess:  transfer,
			model.EventTypeRefundProcessed:  refund,
			model.EventTypePOSSaleCompleted: posSale,
			model.EventTypeBankCreditPosted: bankFeed(model.DirectionCredit),
			model.EventTypeBankDebitPosted:  bankFeed(model.DirectionDebit),
		},
	}
}

// Handles reports whether t has a registered handler.
func (r *Router) Handles(t model.EventType) bool {
	_, ok := r.extractor[t]
	return ok
}

// Route extracts the transaction from event and hands it through the pipeline. Every error
// carries a model.ErrorKind; a panicking handler is reported as permanent.
func (r *Router) Route(ctx context.Context, event model.InboundEvent) (out Outcome, err error) {
	extract, ok := r.extractor[event.EventType]
	if !ok {
		return Outcome{}, model.Unhandled(event.RawEventType)
	}

	span := logger.StartSpan(ctx, "relay.route")
	defer span.End()
	span.SetAttributes(
		attribute.String("relay.source", event.Source),
		attribute.String("relay.event_type", event.RawEventType),
		attribute.String("relay.delivery_id", event.DeliveryID),
	)
	ctx = span.Context()

	defer func() {
		if p := recover(); p != nil {
			slog.ErrorContext(ctx, "handler panicked", "panic", p, "stack", string(debug.Stack()))
			err = model.Permanent(fmt.Errorf("handler panic: %v", p))
			span.RecordError(err)
		}
	}()

	rs := r.rules.Current()
	if rs == nil {
		return Outcome{}, model.Transient(fmt.Errorf("no ruleset loaded"))
	}

	if !gjson.ValidBytes(event.RawPayload) {
		return Outcome{}, model.Permanent(ErrMalformedPayload)
	}
	root := gjson.ParseBytes(event.RawPayload)
	data := root.Get("data")
	if !data.IsObject() {
		return Outcome{}, model.Permanent(fmt.Errorf("%w: missing data object", ErrMalformedPayload))
	}

	tx, err := extract(event, data, rs)
	if err != nil {
		err = model.Permanent(fmt.Errorf("extracting transaction: %w", err))
		span.RecordError(err)
		return Outcome{}, err
	}

	ctx = logger.WithLogFields(ctx, logger.LogFields{TransactionID: logger.Ptr(tx.TransactionID)})
	out, err = r.pipeline.Run(ctx, event, tx)
	if err != nil {
		span.RecordError(err)
	}
	return out, err
}
