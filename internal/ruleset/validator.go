package ruleset

import (
	"fmt"
	"os"
	"strings"

	"github.com/shopspring/decimal"

	"taxrelay.app/relay/internal/model"
)

// Compile validates f and resolves it into a Ruleset. All problems are reported together.
//   - every source needs an algorithm, encoding, canonical template, headers and a resolvable secret
//   - every tax rate parses as a non-negative percentage
//   - every category references a known tax category and the unknown category is present
//   - the settlement currency and every fx currency are declared
func Compile(f *File, getenv func(string) string) (*Ruleset, error) {
	if getenv == nil {
		getenv = os.Getenv
	}
	var errs []string

	if f.Version == "" {
		errs = append(errs, "version is required")
	}

	rs := &Ruleset{
		Version:            f.Version,
		SettlementCurrency: strings.ToUpper(f.SettlementCurrency),
		currencies:         make(map[string]int32, len(f.Currencies)),
		sources:            make(map[string]Source, len(f.Sources)),
		taxRates:           make(map[model.TaxCategory]TaxRate, len(f.TaxRates)),
		categories:         make(map[model.Category]CategoryRule, len(f.Categories)),
		fxRates:            make(map[string]decimal.Decimal, len(f.FXRates)),
	}

	for code, units := range f.Currencies {
		if units < 0 || units > 4 {
			errs = append(errs, fmt.Sprintf("currency %s: minor units must be within [0,4]", code))
			continue
		}
		rs.currencies[strings.ToUpper(code)] = units
	}
	if rs.SettlementCurrency == "" {
		errs = append(errs, "settlement_currency is required")
	} else if _, ok := rs.currencies[rs.SettlementCurrency]; !ok {
		errs = append(errs, fmt.Sprintf("settlement_currency %s is not declared under currencies", rs.SettlementCurrency))
	}

	for i, s := range f.Sources {
		src, srcErrs := compileSource(i, s, getenv)
		errs = append(errs, srcErrs...)
		if len(srcErrs) > 0 {
			continue
		}
		if _, dup := rs.sources[src.Name]; dup {
			errs = append(errs, fmt.Sprintf("duplicate source %q", src.Name))
			continue
		}
		rs.sources[src.Name] = src
	}

	for name, def := range f.TaxRates {
		rate, err := decimal.NewFromString(def.Rate)
		if err != nil {
			errs = append(errs, fmt.Sprintf("tax_rates.%s: invalid rate %q", name, def.Rate))
			continue
		}
		if rate.IsNegative() {
			errs = append(errs, fmt.Sprintf("tax_rates.%s: rate must not be negative", name))
			continue
		}
		if def.Exempt && !rate.IsZero() {
			errs = append(errs, fmt.Sprintf("tax_rates.%s: exempt rates must be 0", name))
			continue
		}
		tc := model.TaxCategory(name)
		rs.taxRates[tc] = TaxRate{Category: tc, Rate: rate, Exempt: def.Exempt}
	}

	for name, def := range f.Categories {
		cat, ok := model.ParseCategory(name)
		if !ok {
			errs = append(errs, fmt.Sprintf("categories.%s: unknown category", name))
			continue
		}
		if def.Code == "" {
			errs = append(errs, fmt.Sprintf("categories.%s: code is required", name))
		}
		tc := model.TaxCategory(def.TaxCategory)
		if _, ok := rs.taxRates[tc]; !ok {
			errs = append(errs, fmt.Sprintf("categories.%s: tax_category %q is not declared under tax_rates", name, def.TaxCategory))
		}
		rs.categories[cat] = CategoryRule{
			Category:    cat,
			Code:        def.Code,
			TaxCategory: tc,
			Description: def.Description,
		}
	}
	if _, ok := rs.categories[model.CategoryUnknown]; !ok {
		errs = append(errs, "categories.unknown is required")
	}

	kw := f.KeywordRules
	if kw.Confidence <= 0 || kw.Confidence > 1 {
		errs = append(errs, "keyword_rules.confidence must be within (0,1]")
	}
	rs.Keywords = KeywordRules{
		Confidence:       kw.Confidence,
		IncomeKeywords:   lowerAll(kw.IncomeKeywords),
		ExpenseKeywords:  lowerAll(kw.ExpenseKeywords),
		PersonalKeywords: lowerAll(kw.PersonalKeywords),
	}

	for i, fx := range f.FXRates {
		rate, err := decimal.NewFromString(fx.Rate)
		if err != nil || !rate.IsPositive() {
			errs = append(errs, fmt.Sprintf("fx_rates[%d]: rate must be a positive decimal", i))
			continue
		}
		for _, code := range []string{fx.From, fx.To} {
			if _, ok := rs.currencies[strings.ToUpper(code)]; !ok {
				errs = append(errs, fmt.Sprintf("fx_rates[%d]: currency %q is not declared", i, code))
			}
		}
		rs.fxRates[fxKey(fx.From, fx.To)] = rate
	}

	if len(errs) > 0 {
		return nil, fmt.Errorf("ruleset validation errors:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return rs, nil
}

func compileSource(i int, s SourceDef, getenv func(string) string) (Source, []string) {
	var errs []string
	loc := fmt.Sprintf("sources[%d]", i)
	if s.Name != "" {
		loc = fmt.Sprintf("source %s", s.Name)
	} else {
		errs = append(errs, loc+": name is required")
	}

	algo := HashAlgorithm(strings.ToLower(s.Algorithm))
	if algo != SHA256 && algo != SHA512 {
		errs = append(errs, fmt.Sprintf("%s: algorithm must be sha256 or sha512", loc))
	}
	enc := SignatureEncoding(strings.ToLower(s.Encoding))
	if enc == "" {
		enc = EncodingHex
	}
	if enc != EncodingHex && enc != EncodingBase64 {
		errs = append(errs, fmt.Sprintf("%s: encoding must be hex or base64", loc))
	}
	if !strings.Contains(s.Canonical, "{payload}") {
		errs = append(errs, fmt.Sprintf("%s: canonical must include {payload}", loc))
	}
	if s.SignatureHeader == "" || s.TimestampHeader == "" {
		errs = append(errs, fmt.Sprintf("%s: signature_header and timestamp_header are required", loc))
	}
	var secret string
	if s.SecretEnv == "" {
		errs = append(errs, fmt.Sprintf("%s: secret_env is required", loc))
	} else if secret = getenv(s.SecretEnv); secret == "" {
		errs = append(errs, fmt.Sprintf("%s: environment variable %s is empty", loc, s.SecretEnv))
	}

	vatInclusive := true
	if s.VATInclusive != nil {
		vatInclusive = *s.VATInclusive
	}

	return Source{
		Name:            strings.ToLower(s.Name),
		Algorithm:       algo,
		Encoding:        enc,
		Canonical:       s.Canonical,
		SignatureHeader: s.SignatureHeader,
		SignaturePrefix: s.SignaturePrefix,
		TimestampHeader: s.TimestampHeader,
		Secret:          []byte(secret),
		VATInclusive:    vatInclusive,
	}, errs
}

func lowerAll(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s = strings.ToLower(strings.TrimSpace(s)); s != "" {
			out = append(out, s)
		}
	}
	return out
}
