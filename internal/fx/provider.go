// Package fx looks up currency conversion rates for the tax engine.
package fx

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"taxrelay.app/relay/internal/ruleset"
)

var ErrRateNotFound = errors.New("exchange rate not found")

// Provider returns how many units of to one unit of from buys at asOf.
type Provider interface {
	Rate(ctx context.Context, from, to string, asOf time.Time) (decimal.Decimal, error)
}

type RulesetSource interface {
	Current() *ruleset.Ruleset
}

// Static serves rates from the ruleset's fx table. Inverse pairs are derived.
type Static struct {
	rules RulesetSource
}

func NewStatic(rules RulesetSource) *Static {
	return &Static{rules: rules}
}

func (s *Static) Rate(_ context.Context, from, to string, _ time.Time) (decimal.Decimal, error) {
	from, to = strings.ToUpper(from), strings.ToUpper(to)
	if from == to {
		return decimal.NewFromInt(1), nil
	}

	rs := s.rules.Current()
	if rate, ok := rs.FXRate(from, to); ok {
		return rate, nil
	}
	if inverse, ok := rs.FXRate(to, from); ok && !inverse.IsZero() {
		return decimal.NewFromInt(1).DivRound(inverse, 12), nil
	}
	return decimal.Decimal{}, ErrRateNotFound
}
