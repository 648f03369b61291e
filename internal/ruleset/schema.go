package ruleset

// File is the YAML document as written by operators. It is compiled into a Ruleset
// before anything in the pipeline reads it.
type File struct {
	Version            string                 `yaml:"version"`
	SettlementCurrency string                 `yaml:"settlement_currency"`
	Currencies         map[string]int32       `yaml:"currencies"`
	Sources            []SourceDef            `yaml:"sources"`
	TaxRates           map[string]TaxRateDef  `yaml:"tax_rates"`
	Categories         map[string]CategoryDef `yaml:"categories"`
	KeywordRules       KeywordRulesDef        `yaml:"keyword_rules"`
	FXRates            []FXRateDef            `yaml:"fx_rates"`
}

// SourceDef describes how one upstream provider signs its deliveries.
// Canonical is a template over {timestamp}, {payload} and {secret}; the order is whatever
// the provider documents.
type SourceDef struct {
	Name            string `yaml:"name"`
	Algorithm       string `yaml:"algorithm"`
	Encoding        string `yaml:"encoding"`
	Canonical       string `yaml:"canonical"`
	SignatureHeader string `yaml:"signature_header"`
	SignaturePrefix string `yaml:"signature_prefix"`
	TimestampHeader string `yaml:"timestamp_header"`
	SecretEnv       string `yaml:"secret_env"`
	VATInclusive    *bool  `yaml:"vat_inclusive"`
}

type TaxRateDef struct {
	Rate   string `yaml:"rate"`
	Exempt bool   `yaml:"exempt"`
}

type CategoryDef struct {
	Code        string `yaml:"code"`
	TaxCategory string `yaml:"tax_category"`
	Description string `yaml:"description"`
}

type KeywordRulesDef struct {
	Confidence       float64  `yaml:"confidence"`
	IncomeKeywords   []string `yaml:"income_keywords"`
	ExpenseKeywords  []string `yaml:"expense_keywords"`
	PersonalKeywords []string `yaml:"personal_keywords"`
}

type FXRateDef struct {
	From string `yaml:"from"`
	To   string `yaml:"to"`
	Rate string `yaml:"rate"`
}
