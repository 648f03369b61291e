package router

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"taxrelay.app/relay/common/logger"
	"taxrelay.app/relay/internal/metrics"
	"taxrelay.app/relay/internal/model"
	"taxrelay.app/relay/internal/sink"
)

type Classifier interface {
	Classify(ctx context.Context, tx model.Transaction) model.ClassificationResult
}

type TaxEngine interface {
	Compute(ctx context.Context, tx model.Transaction, taxCategory model.TaxCategory, vatInclusive bool) (model.TaxBreakdown, error)
}

type Normalizer interface {
	Normalize(event model.InboundEvent, tx model.Transaction, cls model.ClassificationResult, tb model.TaxBreakdown) model.NormalizedInvoiceLine
}

// Pipeline is the per-transaction work shared by every handler.
type Pipeline struct {
	classifier Classifier
	tax        TaxEngine
	normalizer Normalizer
	sink       sink.Sink
}

func NewPipeline(classifier Classifier, tax TaxEngine, normalizer Normalizer, s sink.Sink) *Pipeline {
	return &Pipeline{
		classifier: classifier,
		tax:        tax,
		normalizer: normalizer,
		sink:       s,
	}
}

// Run submits exactly one line for tx, or none when it returns an error.
func (p *Pipeline) Run(ctx context.Context, event model.InboundEvent, tx model.Transaction) (Outcome, error) {
	start := time.Now()
	defer func() {
		metrics.PipelineDuration.WithLabelValues(string(event.EventType)).Observe(float64(time.Since(start).Milliseconds()))
	}()

	out := Outcome{Transaction: tx}

	span := logger.StartSpan(ctx, "relay.classify")
	out.Classification = p.classifier.Classify(span.Context(), tx)
	span.End()

	span = logger.StartSpan(ctx, "relay.tax")
	tb, err := p.tax.Compute(span.Context(), tx, out.Classification.TaxCategory, event.VATInclusive)
	if err != nil {
		span.RecordError(err)
		span.End()
		return out, fmt.Errorf("computing tax: %w", err)
	}
	span.End()
	out.Tax = tb

	out.Line = p.normalizer.Normalize(event, tx, out.Classification, tb)

	span = logger.StartSpan(ctx, "relay.sink")
	defer span.End()
	if err := p.sink.Submit(span.Context(), out.Line); err != nil {
		span.RecordError(err)
		return out, model.Transient(fmt.Errorf("submitting invoice line %s: %w", out.Line.LineID, err))
	}

	slog.InfoContext(ctx, "transaction processed",
		"line_id", out.Line.LineID,
		"category", out.Classification.Category,
		"classification_source", out.Classification.Source,
		"tax_amount", out.Line.TaxAmount.String(),
		"needs_review", out.Line.NeedsReview)
	return out, nil
}
