package ruleset

import (
	"errors"
	"strings"

	"github.com/shopspring/decimal"

	"taxrelay.app/relay/internal/model"
)

var (
	ErrUnknownSource      = errors.New("unknown source")
	ErrUnknownTaxCategory = errors.New("unknown tax category")
	ErrUnknownCurrency    = errors.New("unknown currency")
)

type HashAlgorithm string

const (
	SHA256 HashAlgorithm = "sha256"
	SHA512 HashAlgorithm = "sha512"
)

type SignatureEncoding string

const (
	EncodingHex    SignatureEncoding = "hex"
	EncodingBase64 SignatureEncoding = "base64"
)

// Source is a compiled SourceDef with its secret resolved from the environment.
type Source struct {
	Name            string
	Algorithm       HashAlgorithm
	Encoding        SignatureEncoding
	Canonical       string
	SignatureHeader string
	SignaturePrefix string
	TimestampHeader string
	Secret          []byte
	VATInclusive    bool
}

type TaxRate struct {
	Category model.TaxCategory
	Rate     decimal.Decimal // percentage
	Exempt   bool
}

type CategoryRule struct {
	Category    model.Category
	Code        string
	TaxCategory model.TaxCategory
	Description string
}

type KeywordRules struct {
	Confidence       float64
	IncomeKeywords   []string
	ExpenseKeywords  []string
	PersonalKeywords []string
}

// Ruleset is an immutable snapshot. A reload swaps the whole snapshot; readers never
// observe a partially applied file.
type Ruleset struct {
	Version            string
	SettlementCurrency string
	currencies         map[string]int32
	sources            map[string]Source
	taxRates           map[model.TaxCategory]TaxRate
	categories         map[model.Category]CategoryRule
	Keywords           KeywordRules
	fxRates            map[string]decimal.Decimal
}

func (r *Ruleset) Source(name string) (Source, error) {
	s, ok := r.sources[strings.ToLower(name)]
	if !ok {
		return Source{}, ErrUnknownSource
	}
	return s, nil
}

func (r *Ruleset) SourceNames() []string {
	names := make([]string, 0, len(r.sources))
	for n := range r.sources {
		names = append(names, n)
	}
	return names
}

func (r *Ruleset) TaxRate(c model.TaxCategory) (TaxRate, error) {
	t, ok := r.taxRates[c]
	if !ok {
		return TaxRate{}, ErrUnknownTaxCategory
	}
	return t, nil
}

// Category returns the rule for c, falling back to the unknown category's rule.
func (r *Ruleset) Category(c model.Category) CategoryRule {
	if rule, ok := r.categories[c]; ok {
		return rule
	}
	return r.categories[model.CategoryUnknown]
}

// MinorUnits returns the number of decimal places of an ISO 4217 currency.
func (r *Ruleset) MinorUnits(currency string) (int32, error) {
	units, ok := r.currencies[strings.ToUpper(currency)]
	if !ok {
		return 0, ErrUnknownCurrency
	}
	return units, nil
}

// FXRate returns the configured static rate converting one unit of from into to.
func (r *Ruleset) FXRate(from, to string) (decimal.Decimal, bool) {
	rate, ok := r.fxRates[fxKey(from, to)]
	return rate, ok
}

func fxKey(from, to string) string {
	return strings.ToUpper(from) + "/" + strings.ToUpper(to)
}
