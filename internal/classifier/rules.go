package classifier

import (
	"errors"
	"strings"
	"unicode"

	"taxrelay.app/relay/internal/model"
)

var errNoRuleset = errors.New("no ruleset loaded")

// Rules is the deterministic fallback: keyword sets bound to a direction.
//   - credit with an income keyword: business income
//   - debit with an expense keyword: business expense
//   - any personal keyword: personal
//   - anything else: unknown
type Rules struct {
	ruleset RulesetSource
}

func NewRules(rs RulesetSource) *Rules {
	return &Rules{ruleset: rs}
}

// Classify returns a fallback result whose confidence is the ruleset's fixed rule confidence.
func (r *Rules) Classify(tx model.Transaction) (model.ClassificationResult, error) {
	rs := r.ruleset.Current()
	if rs == nil {
		return model.ClassificationResult{}, errNoRuleset
	}
	kw := rs.Keywords
	terms := Tokenize(tx.Narration, 0)

	result := model.ClassificationResult{
		Category:   model.CategoryUnknown,
		Confidence: kw.Confidence,
		Source:     model.ClassificationSourceFallback,
		Reason:     "rules: no keyword matched",
	}

	switch {
	case tx.Direction == model.DirectionCredit && matchAny(terms, kw.IncomeKeywords) != "":
		result.Category = model.CategoryBusinessIncome
		result.Reason = "rules: credit with income keyword " + matchAny(terms, kw.IncomeKeywords)
	case tx.Direction == model.DirectionDebit && matchAny(terms, kw.ExpenseKeywords) != "":
		result.Category = model.CategoryBusinessExpense
		result.Reason = "rules: debit with expense keyword " + matchAny(terms, kw.ExpenseKeywords)
	case matchAny(terms, kw.PersonalKeywords) != "":
		result.Category = model.CategoryPersonal
		result.Reason = "rules: personal keyword " + matchAny(terms, kw.PersonalKeywords)
	}

	result.TaxCategory = rs.Category(result.Category).TaxCategory
	return result, nil
}

// matchAny returns the first keyword present in terms. Single words match as a term prefix
// ("consult" matches "consulting"); phrases must appear as consecutive terms.
func matchAny(terms []string, keywords []string) string {
	if len(terms) == 0 {
		return ""
	}
	joined := " " + strings.Join(terms, " ") + " "
	for _, kw := range keywords {
		if strings.Contains(kw, " ") {
			if strings.Contains(joined, " "+kw+" ") {
				return kw
			}
			continue
		}
		for _, t := range terms {
			if strings.HasPrefix(t, kw) {
				return kw
			}
		}
	}
	return ""
}

// Tokenize lowercases s and splits it on anything that is not a letter or digit.
// limit <= 0 means no limit.
func Tokenize(s string, limit int) []string {
	terms := strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	if limit > 0 && len(terms) > limit {
		terms = terms[:limit]
	}
	return terms
}
