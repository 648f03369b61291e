// Package rulesettest provides a fixed ruleset for tests in other packages.
package rulesettest

import (
	"taxrelay.app/relay/internal/ruleset"
)

// Secrets are the webhook secrets the fixture's sources resolve to.
var Secrets = map[string]string{
	"PAYSTACK_WEBHOOK_SECRET": "sk_test_paystack",
	"SQUARE_WEBHOOK_SECRET":   "sq_test_square",
	"MONO_WEBHOOK_SECRET":     "mono_test_secret",
	"STRIPE_WEBHOOK_SECRET":   "whsec_test_stripe",
}

const YAML = `
version: "test"
settlement_currency: NGN
currencies: {NGN: 2, USD: 2, GBP: 2, JPY: 0, KWD: 3}
sources:
  - name: paystack
    algorithm: sha512
    encoding: hex
    canonical: "{timestamp}.{payload}"
    signature_header: X-Paystack-Signature
    timestamp_header: X-Paystack-Timestamp
    secret_env: PAYSTACK_WEBHOOK_SECRET
  - name: square
    algorithm: sha256
    encoding: base64
    canonical: "{timestamp}{payload}"
    signature_header: X-Square-Hmacsha256-Signature
    timestamp_header: X-Square-Timestamp
    secret_env: SQUARE_WEBHOOK_SECRET
  - name: mono
    algorithm: sha512
    encoding: hex
    canonical: "{secret}:{timestamp}:{payload}"
    signature_header: Mono-Webhook-Signature
    timestamp_header: Mono-Webhook-Timestamp
    secret_env: MONO_WEBHOOK_SECRET
  - name: stripe
    algorithm: sha256
    encoding: hex
    canonical: "{timestamp}.{payload}"
    signature_header: X-Signature
    signature_prefix: "v1="
    timestamp_header: X-Timestamp
    secret_env: STRIPE_WEBHOOK_SECRET
    vat_inclusive: false
tax_rates:
  standard: {rate: "7.5"}
  reduced: {rate: "5"}
  zero_rated: {rate: "0"}
  exempt: {rate: "0", exempt: true}
categories:
  business_income: {code: "4000", tax_category: standard, description: "Sale of goods and services"}
  business_expense: {code: "5000", tax_category: standard, description: "Business purchase"}
  personal: {code: "9000", tax_category: exempt, description: "Personal transaction"}
  unknown: {code: "9999", tax_category: standard, description: "Unclassified transaction"}
keyword_rules:
  confidence: 0.75
  income_keywords: [invoice, service, consultation, consulting, sales]
  expense_keywords: [supplies, rent, license, utilities]
  personal_keywords: [gift, family]
fx_rates:
  - {from: USD, to: NGN, rate: "1500"}
  - {from: GBP, to: NGN, rate: "1900"}
`

func Getenv(key string) string {
	return Secrets[key]
}

// Default compiles YAML. It panics on error since the fixture is constant.
func Default() *ruleset.Ruleset {
	rs, err := ruleset.Parse([]byte(YAML), Getenv)
	if err != nil {
		panic(err)
	}
	return rs
}

func Loader() *ruleset.Loader {
	return ruleset.NewStatic(Default())
}

// Source returns the named fixture source.
func Source(name string) ruleset.Source {
	src, err := Default().Source(name)
	if err != nil {
		panic(err)
	}
	return src
}
