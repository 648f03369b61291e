package model

import "github.com/shopspring/decimal"

// TaxBreakdown splits a gross amount into its taxable base and tax component.
// TaxableAmount + TaxAmount equals GrossAmount within one minor unit.
type TaxBreakdown struct {
	GrossAmount      decimal.Decimal  `json:"gross_amount"`
	TaxableAmount    decimal.Decimal  `json:"taxable_amount"`
	TaxAmount        decimal.Decimal  `json:"tax_amount"`
	TaxRate          decimal.Decimal  `json:"tax_rate"` // percentage, e.g. 7.5
	Currency         string           `json:"currency"`
	TaxCategory      TaxCategory      `json:"tax_category"`
	Exempt           bool             `json:"exempt"`
	VATInclusive     bool             `json:"vat_inclusive"`
	OriginalCurrency string           `json:"original_currency,omitempty"`
	OriginalAmount   *decimal.Decimal `json:"original_amount,omitempty"`
	ExchangeRate     *decimal.Decimal `json:"exchange_rate,omitempty"`
}
