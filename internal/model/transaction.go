package model

import (
	"time"

	"github.com/shopspring/decimal"
)

type Direction string

const (
	DirectionCredit Direction = "credit"
	DirectionDebit  Direction = "debit"
)

// Transaction is the provider-independent view of a money movement extracted from a payload.
// GrossAmount is in major units (e.g. naira, not kobo) and is always positive.
type Transaction struct {
	TransactionID   string          `json:"transaction_id"`
	GrossAmount     decimal.Decimal `json:"gross_amount"`
	Currency        string          `json:"currency"`
	Direction       Direction       `json:"direction"`
	CounterpartyRef *string         `json:"counterparty_ref,omitempty"`
	Narration       string          `json:"narration"`
	OccurredAt      time.Time       `json:"occurred_at"`

	// RelatedTransactionID references an earlier transaction this one reverses, such as the
	// payment a refund is drawn against.
	RelatedTransactionID *string `json:"related_transaction_id,omitempty"`
}
