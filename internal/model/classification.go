package model

// Category is the business classification of a transaction.
type Category string

const (
	CategoryBusinessIncome  Category = "business_income"
	CategoryBusinessExpense Category = "business_expense"
	CategoryPersonal        Category = "personal"
	CategoryUnknown         Category = "unknown"
)

var knownCategories = map[Category]struct{}{
	CategoryBusinessIncome:  {},
	CategoryBusinessExpense: {},
	CategoryPersonal:        {},
	CategoryUnknown:         {},
}

func ParseCategory(raw string) (Category, bool) {
	c := Category(raw)
	_, ok := knownCategories[c]
	return c, ok
}

// TaxCategory selects a rate rule from the ruleset's tax table.
type TaxCategory string

const (
	TaxCategoryStandard  TaxCategory = "standard"
	TaxCategoryZeroRated TaxCategory = "zero_rated"
	TaxCategoryExempt    TaxCategory = "exempt"
)

type ClassificationSource string

const (
	ClassificationSourcePrimary  ClassificationSource = "primary"
	ClassificationSourceFallback ClassificationSource = "fallback"
)

// ClassificationResult records both the decision and which path produced it.
// Fallback results carry a fixed rule confidence, never a model score.
type ClassificationResult struct {
	Category    Category             `json:"category"`
	TaxCategory TaxCategory          `json:"tax_category"`
	Confidence  float64              `json:"confidence"`
	Source      ClassificationSource `json:"source"`
	Reason      string               `json:"reason,omitempty"`
}
