package dto

import "time"

// Monetary fields are decimal strings.
type InvoiceLineResponse struct {
	LineID               string    `json:"line_id"`
	Source               string    `json:"source"`
	SourceTransactionID  string    `json:"source_transaction_id"`
	RelatedTransactionID string    `json:"related_transaction_id,omitempty"`
	Direction            string    `json:"direction"`
	Description          string    `json:"description"`
	Quantity             string    `json:"quantity"`
	UnitPrice            string    `json:"unit_price"`
	LineTotal            string    `json:"line_total"`
	TaxAmount            string    `json:"tax_amount"`
	TaxRate              string    `json:"tax_rate"`
	Currency             string    `json:"currency"`
	Category             string    `json:"category"`
	CategoryCode         string    `json:"category_code"`
	TaxCategory          string    `json:"tax_category"`
	ClassificationSource string    `json:"classification_source"`
	Confidence           float64   `json:"confidence"`
	NeedsReview          bool      `json:"needs_review"`
	Exempt               bool      `json:"exempt"`
	OriginalCurrency     string    `json:"original_currency,omitempty"`
	OriginalAmount       string    `json:"original_amount,omitempty"`
	OccurredAt           time.Time `json:"occurred_at"`
}
