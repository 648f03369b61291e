// Package invoice assembles classification and tax results into canonical invoice lines.
package invoice

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"unicode/utf8"

	"github.com/shopspring/decimal"

	"taxrelay.app/relay/internal/model"
	"taxrelay.app/relay/internal/ruleset"
)

const maxDescriptionLen = 200

const fallbackCategoryCode = "9999"

type RulesetSource interface {
	Current() *ruleset.Ruleset
}

type Normalizer struct {
	rules           RulesetSource
	reviewThreshold float64
}

// NewNormalizer returns a Normalizer that flags lines for review when the category is
// unknown or the classification confidence is below reviewThreshold.
func NewNormalizer(rules RulesetSource, reviewThreshold float64) *Normalizer {
	return &Normalizer{rules: rules, reviewThreshold: reviewThreshold}
}

// Normalize is pure: the same inputs always yield the same line, including its id.
// Each transaction becomes a single line with quantity 1.
func (n *Normalizer) Normalize(event model.InboundEvent, tx model.Transaction, cls model.ClassificationResult, tb model.TaxBreakdown) model.NormalizedInvoiceLine {
	rule := n.categoryRule(cls.Category)

	var related string
	if tx.RelatedTransactionID != nil {
		related = *tx.RelatedTransactionID
	}

	return model.NormalizedInvoiceLine{
		LineID:               LineID(event.Source, string(event.EventType), tx.TransactionID),
		Description:          describe(tx, rule),
		Quantity:             decimal.NewFromInt(1),
		UnitPrice:            tb.TaxableAmount,
		LineTotal:            tb.TaxableAmount.Add(tb.TaxAmount),
		TaxAmount:            tb.TaxAmount,
		TaxRate:              tb.TaxRate,
		Currency:             tb.Currency,
		CategoryCode:         rule.Code,
		Category:             cls.Category,
		TaxCategory:          tb.TaxCategory,
		ClassificationSource: cls.Source,
		Confidence:           cls.Confidence,
		NeedsReview:          cls.Category == model.CategoryUnknown || cls.Confidence < n.reviewThreshold,
		Exempt:               tb.Exempt,
		OriginalCurrency:     tb.OriginalCurrency,
		OriginalAmount:       tb.OriginalAmount,
		Direction:            tx.Direction,
		Source:               event.Source,
		SourceTransactionID:  tx.TransactionID,
		RelatedTransactionID: related,
		OccurredAt:           tx.OccurredAt,
	}
}

// LineID is stable across retries and redeliveries so the sink can insert idempotently.
func LineID(source, eventType, transactionID string) string {
	sum := sha256.Sum256([]byte(source + "\x00" + eventType + "\x00" + transactionID))
	return "inv_" + hex.EncodeToString(sum[:16])
}

func (n *Normalizer) categoryRule(c model.Category) ruleset.CategoryRule {
	if rs := n.rules.Current(); rs != nil {
		if rule := rs.Category(c); rule.Code != "" {
			return rule
		}
	}
	return ruleset.CategoryRule{Category: c, Code: fallbackCategoryCode}
}

func describe(tx model.Transaction, rule ruleset.CategoryRule) string {
	d := strings.Join(strings.Fields(tx.Narration), " ")
	if d == "" {
		d = rule.Description
	}
	if d == "" {
		d = "Transaction " + tx.TransactionID
	}
	return truncateRunes(d, maxDescriptionLen)
}

func truncateRunes(s string, max int) string {
	if utf8.RuneCountInString(s) <= max {
		return s
	}
	r := []rune(s)
	return string(r[:max])
}
