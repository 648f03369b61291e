// Package classifier assigns a business category to a transaction. A probabilistic model is
// tried first; keyword rules take over whenever it is unavailable, slow, unsure or rate limited.
package classifier

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/time/rate"

	"taxrelay.app/relay/common/logger"
	"taxrelay.app/relay/internal/metrics"
	"taxrelay.app/relay/internal/model"
	"taxrelay.app/relay/internal/ruleset"
)

const (
	DefaultTimeout             = 3 * time.Second
	DefaultConfidenceThreshold = 0.6
)

// Features is what the primary model sees of a transaction.
type Features map[string]any

// Prediction is the primary model's raw answer.
type Prediction struct {
	Category   model.Category
	Confidence float64
	Reason     string
}

// Model is the probabilistic primary path. It is consumed as a black box.
type Model interface {
	Predict(ctx context.Context, features Features) (Prediction, error)
}

type RulesetSource interface {
	Current() *ruleset.Ruleset
}

type Config struct {
	Timeout             time.Duration
	ConfidenceThreshold float64
	RatePerSecond       float64 // 0 disables limiting
	Burst               int
}

type Classifier struct {
	primary   Model
	rules     *Rules
	ruleset   RulesetSource
	limiter   *rate.Limiter
	timeout   time.Duration
	threshold float64
}

// New builds a classifier. primary may be nil, in which case every result comes from the rules.
func New(primary Model, rules RulesetSource, cfg Config) *Classifier {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.ConfidenceThreshold <= 0 {
		cfg.ConfidenceThreshold = DefaultConfidenceThreshold
	}

	var limiter *rate.Limiter
	if cfg.RatePerSecond > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSecond), burst)
	}

	return &Classifier{
		primary:   primary,
		rules:     NewRules(rules),
		ruleset:   rules,
		limiter:   limiter,
		timeout:   cfg.Timeout,
		threshold: cfg.ConfidenceThreshold,
	}
}

// Threshold is the confidence below which primary predictions are discarded.
func (c *Classifier) Threshold() float64 {
	return c.threshold
}

// Classify never fails. When neither path can produce an answer the result is
// unknown/fallback with zero confidence so the line gets flagged for review.
func (c *Classifier) Classify(ctx context.Context, tx model.Transaction) model.ClassificationResult {
	ctx = logger.WithLogFields(ctx, logger.LogFields{Component: "relay.classifier"})

	result, reason := c.classifyPrimary(ctx, tx)
	if reason != "" {
		slog.DebugContext(ctx, "using fallback classification", "reason", reason)

		var err error
		result, err = c.rules.Classify(tx)
		if err != nil {
			slog.ErrorContext(ctx, "fallback classification failed", "error", err, "primary_reason", reason)
			result = model.ClassificationResult{
				Category:   model.CategoryUnknown,
				Source:     model.ClassificationSourceFallback,
				Confidence: 0,
				Reason:     fmt.Sprintf("%s; rules: %v", reason, err),
			}
		}
	}

	if result.TaxCategory == "" {
		result.TaxCategory = c.taxCategoryFor(result.Category)
	}

	metrics.Classifications.WithLabelValues(string(result.Source), string(result.Category)).Inc()
	return result
}

// classifyPrimary returns a result, or a non-empty reason why the fallback must be used.
func (c *Classifier) classifyPrimary(ctx context.Context, tx model.Transaction) (model.ClassificationResult, string) {
	if c.primary == nil {
		return model.ClassificationResult{}, "primary disabled"
	}
	if c.limiter != nil && !c.limiter.Allow() {
		return model.ClassificationResult{}, "primary rate limited"
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	pred, err := c.safePredict(ctx, FeaturesOf(tx))
	switch {
	case err != nil && ctx.Err() != nil:
		return model.ClassificationResult{}, "primary timed out"
	case err != nil:
		slog.WarnContext(ctx, "primary classifier failed", "error", err)
		return model.ClassificationResult{}, "primary error"
	}

	if _, ok := model.ParseCategory(string(pred.Category)); !ok {
		return model.ClassificationResult{}, fmt.Sprintf("primary returned unknown category %q", pred.Category)
	}
	if pred.Confidence < 0 || pred.Confidence > 1 {
		return model.ClassificationResult{}, fmt.Sprintf("primary confidence %.3f out of range", pred.Confidence)
	}
	if pred.Confidence < c.threshold {
		return model.ClassificationResult{}, fmt.Sprintf("primary confidence %.2f below %.2f", pred.Confidence, c.threshold)
	}

	return model.ClassificationResult{
		Category:   pred.Category,
		Confidence: pred.Confidence,
		Source:     model.ClassificationSourcePrimary,
		Reason:     pred.Reason,
	}, ""
}

func (c *Classifier) safePredict(ctx context.Context, f Features) (pred Prediction, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("primary classifier panic: %v", r)
		}
	}()
	return c.primary.Predict(ctx, f)
}

func (c *Classifier) taxCategoryFor(cat model.Category) model.TaxCategory {
	rs := c.ruleset.Current()
	if rs == nil {
		return model.TaxCategoryStandard
	}
	return rs.Category(cat).TaxCategory
}

// FeaturesOf extracts the model inputs from tx.
func FeaturesOf(tx model.Transaction) Features {
	f := Features{
		"amount":          tx.GrossAmount.String(),
		"currency":        tx.Currency,
		"direction":       string(tx.Direction),
		"narration_terms": Tokenize(tx.Narration, 32),
	}
	if tx.CounterpartyRef != nil {
		f["counterparty"] = *tx.CounterpartyRef
	}
	return f
}
