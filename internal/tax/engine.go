// Package tax splits transaction amounts into taxable base and tax under the
// configured rate table, converting foreign-currency amounts to the settlement currency first.
package tax

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"taxrelay.app/relay/internal/fx"
	"taxrelay.app/relay/internal/model"
	"taxrelay.app/relay/internal/ruleset"
)

var (
	ErrUnknownTaxCategory = errors.New("unknown tax category")
	ErrInvariant          = errors.New("tax breakdown invariant violated")
)

var (
	hundred = decimal.NewFromInt(100)
	one     = decimal.NewFromInt(1)
)

type RulesetSource interface {
	Current() *ruleset.Ruleset
}

type Engine struct {
	rules     RulesetSource
	rates     fx.Provider
	fxTimeout time.Duration
}

func NewEngine(rules RulesetSource, rates fx.Provider, fxTimeout time.Duration) *Engine {
	if fxTimeout <= 0 {
		fxTimeout = 3 * time.Second
	}
	return &Engine{rules: rules, rates: rates, fxTimeout: fxTimeout}
}

// Compute returns the breakdown for tx under taxCategory. Configuration and input problems are
// permanent errors; a failed rate lookup is transient.
//
// VAT-inclusive: tax = gross * r / (1 + r), taxable = gross - tax.
// VAT-exclusive: tax = gross * r, taxable = gross, and the breakdown's gross becomes taxable + tax.
func (e *Engine) Compute(ctx context.Context, tx model.Transaction, taxCategory model.TaxCategory, vatInclusive bool) (model.TaxBreakdown, error) {
	rs := e.rules.Current()

	rule, err := rs.TaxRate(taxCategory)
	if err != nil {
		return model.TaxBreakdown{}, model.Permanent(fmt.Errorf("%w: %q", ErrUnknownTaxCategory, taxCategory))
	}
	if !tx.GrossAmount.IsPositive() {
		return model.TaxBreakdown{}, model.Permanent(fmt.Errorf("gross amount must be positive, got %s", tx.GrossAmount))
	}
	txCurrency := strings.ToUpper(tx.Currency)
	if _, err := rs.MinorUnits(txCurrency); err != nil {
		return model.TaxBreakdown{}, model.Permanent(fmt.Errorf("currency %q: %w", tx.Currency, err))
	}

	settlement := rs.SettlementCurrency
	units, err := rs.MinorUnits(settlement)
	if err != nil {
		return model.TaxBreakdown{}, model.Permanent(fmt.Errorf("settlement currency %q: %w", settlement, err))
	}

	b := model.TaxBreakdown{
		Currency:     settlement,
		TaxCategory:  taxCategory,
		TaxRate:      rule.Rate,
		Exempt:       rule.Exempt,
		VATInclusive: vatInclusive,
	}

	gross := tx.GrossAmount
	if txCurrency != settlement {
		rate, err := e.lookupRate(ctx, txCurrency, settlement, tx.OccurredAt)
		if err != nil {
			return model.TaxBreakdown{}, err
		}
		original := tx.GrossAmount
		b.OriginalCurrency = txCurrency
		b.OriginalAmount = &original
		b.ExchangeRate = &rate
		gross = gross.Mul(rate)
	}
	base := gross.Round(units)

	r := rule.Rate.Div(hundred)
	switch {
	case rule.Exempt || r.IsZero():
		b.TaxAmount = decimal.Zero
		b.TaxableAmount = base
	case vatInclusive:
		b.TaxAmount = base.Mul(r).Div(one.Add(r)).Round(units)
		b.TaxableAmount = base.Sub(b.TaxAmount)
	default:
		b.TaxAmount = base.Mul(r).Round(units)
		b.TaxableAmount = base
	}
	b.GrossAmount = b.TaxableAmount.Add(b.TaxAmount)

	if err := CheckInvariant(b, gross, units); err != nil {
		return model.TaxBreakdown{}, model.Permanent(err)
	}
	return b, nil
}

// CheckInvariant verifies b against the (converted) source amount it was computed from:
// taxable + tax equals the breakdown's gross, no component is negative, and the amount the
// source reported is preserved within one minor unit (the gross when VAT-inclusive, the
// taxable base otherwise).
func CheckInvariant(b model.TaxBreakdown, sourceAmount decimal.Decimal, units int32) error {
	tolerance := decimal.New(1, -units)

	if b.TaxRate.IsNegative() {
		return fmt.Errorf("%w: negative rate %s", ErrInvariant, b.TaxRate)
	}
	if b.TaxAmount.IsNegative() || b.TaxableAmount.IsNegative() {
		return fmt.Errorf("%w: negative component (taxable=%s tax=%s)", ErrInvariant, b.TaxableAmount, b.TaxAmount)
	}
	if !b.TaxableAmount.Add(b.TaxAmount).Equal(b.GrossAmount) {
		return fmt.Errorf("%w: taxable %s + tax %s != gross %s", ErrInvariant, b.TaxableAmount, b.TaxAmount, b.GrossAmount)
	}

	reported := b.TaxableAmount
	if b.VATInclusive {
		reported = b.GrossAmount
	}
	if diff := reported.Sub(sourceAmount).Abs(); diff.GreaterThan(tolerance) {
		return fmt.Errorf("%w: %s differs from source amount %s by %s", ErrInvariant, reported, sourceAmount, diff)
	}
	return nil
}

func (e *Engine) lookupRate(ctx context.Context, from, to string, asOf time.Time) (decimal.Decimal, error) {
	if e.rates == nil {
		return decimal.Decimal{}, model.Permanent(fmt.Errorf("no fx provider for %s/%s", from, to))
	}

	ctx, cancel := context.WithTimeout(ctx, e.fxTimeout)
	defer cancel()

	rate, err := e.rates.Rate(ctx, from, to, asOf)
	if err != nil {
		return decimal.Decimal{}, model.Transient(fmt.Errorf("fx rate %s/%s: %w", from, to, err))
	}
	if !rate.IsPositive() {
		return decimal.Decimal{}, model.Permanent(fmt.Errorf("fx rate %s/%s is not positive: %s", from, to, rate))
	}
	return rate, nil
}
