package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// NormalizedInvoiceLine is the canonical record handed to the sink.
// It is the only entity that outlives a successful processing attempt.
type NormalizedInvoiceLine struct {
	LineID               string               `json:"line_id"`
	Description          string               `json:"description"`
	Quantity             decimal.Decimal      `json:"quantity"`
	UnitPrice            decimal.Decimal      `json:"unit_price"`
	LineTotal            decimal.Decimal      `json:"line_total"`
	TaxAmount            decimal.Decimal      `json:"tax_amount"`
	TaxRate              decimal.Decimal      `json:"tax_rate"`
	Currency             string               `json:"currency"`
	CategoryCode         string               `json:"category_code"`
	Category             Category             `json:"category"`
	TaxCategory          TaxCategory          `json:"tax_category"`
	ClassificationSource ClassificationSource `json:"classification_source"`
	Confidence           float64              `json:"confidence"`
	NeedsReview          bool                 `json:"needs_review"`
	Exempt               bool                 `json:"exempt"`
	OriginalCurrency     string               `json:"original_currency,omitempty"`
	OriginalAmount       *decimal.Decimal     `json:"original_amount,omitempty"`
	Direction            Direction            `json:"direction"`
	Source               string               `json:"source"`
	SourceTransactionID  string               `json:"source_transaction_id"`
	RelatedTransactionID string               `json:"related_transaction_id,omitempty"`
	OccurredAt           time.Time            `json:"occurred_at"`
}
