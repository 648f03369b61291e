package classifier_test

import (
	"context"
	"errors"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/shopspring/decimal"

	"taxrelay.app/relay/internal/classifier"
	"taxrelay.app/relay/internal/model"
	"taxrelay.app/relay/internal/ruleset/rulesettest"
)

var _ = Describe("Classifier", func() {
	var (
		ctx     context.Context
		primary *mockModel
		cfg     classifier.Config
		tx      model.Transaction
	)

	BeforeEach(func() {
		ctx = context.Background()
		primary = &mockModel{PredictFn: func(context.Context, classifier.Features) (classifier.Prediction, error) {
			return classifier.Prediction{Category: model.CategoryBusinessExpense, Confidence: 0.92, Reason: "vendor payout"}, nil
		}}
		cfg = classifier.Config{Timeout: 50 * time.Millisecond, ConfidenceThreshold: 0.6}
		tx = model.Transaction{
			TransactionID: "T1",
			GrossAmount:   decimal.RequireFromString("107.50"),
			Currency:      "NGN",
			Direction:     model.DirectionCredit,
			Narration:     "Invoice payment for consulting",
		}
	})

	newClassifier := func() *classifier.Classifier {
		return classifier.New(primary, rulesettest.Loader(), cfg)
	}

	It("uses a confident primary prediction", func() {
		result := newClassifier().Classify(ctx, tx)
		Expect(result.Source).To(Equal(model.ClassificationSourcePrimary))
		Expect(result.Category).To(Equal(model.CategoryBusinessExpense))
		Expect(result.Confidence).To(Equal(0.92))
		Expect(result.TaxCategory).To(Equal(model.TaxCategoryStandard))
	})

	It("passes transaction features to the primary model", func() {
		counterparty := "Acme Ltd"
		tx.CounterpartyRef = &counterparty
		primary.PredictFn = func(_ context.Context, f classifier.Features) (classifier.Prediction, error) {
			Expect(f).To(HaveKeyWithValue("direction", "credit"))
			Expect(f).To(HaveKeyWithValue("amount", "107.5"))
			Expect(f).To(HaveKeyWithValue("counterparty", "Acme Ltd"))
			Expect(f["narration_terms"]).To(Equal([]string{"invoice", "payment", "for", "consulting"}))
			return classifier.Prediction{Category: model.CategoryBusinessIncome, Confidence: 0.8}, nil
		}
		Expect(newClassifier().Classify(ctx, tx).Source).To(Equal(model.ClassificationSourcePrimary))
	})

	It("falls back to the rules when the primary times out", func() {
		primary.PredictFn = func(ctx context.Context, _ classifier.Features) (classifier.Prediction, error) {
			<-ctx.Done()
			return classifier.Prediction{}, ctx.Err()
		}

		start := time.Now()
		result := newClassifier().Classify(ctx, tx)
		Expect(time.Since(start)).To(BeNumerically("<", time.Second))
		Expect(result.Source).To(Equal(model.ClassificationSourceFallback))
		Expect(result.Category).To(Equal(model.CategoryBusinessIncome))
		Expect(result.Confidence).To(Equal(0.75))
	})

	It("falls back on primary errors", func() {
		primary.PredictFn = func(context.Context, classifier.Features) (classifier.Prediction, error) {
			return classifier.Prediction{}, errors.New("503 service unavailable")
		}
		Expect(newClassifier().Classify(ctx, tx).Source).To(Equal(model.ClassificationSourceFallback))
	})

	It("falls back on a panicking primary", func() {
		primary.PredictFn = func(context.Context, classifier.Features) (classifier.Prediction, error) {
			panic("boom")
		}
		Expect(newClassifier().Classify(ctx, tx).Source).To(Equal(model.ClassificationSourceFallback))
	})

	It("falls back on categories outside the closed set", func() {
		primary.PredictFn = func(context.Context, classifier.Features) (classifier.Prediction, error) {
			return classifier.Prediction{Category: "crypto", Confidence: 0.99}, nil
		}
		Expect(newClassifier().Classify(ctx, tx).Source).To(Equal(model.ClassificationSourceFallback))
	})

	DescribeTable("low-confidence predictions match the rule output exactly",
		func(direction model.Direction, narration string) {
			primary.PredictFn = func(context.Context, classifier.Features) (classifier.Prediction, error) {
				return classifier.Prediction{Category: model.CategoryPersonal, Confidence: 0.59}, nil
			}
			tx.Direction = direction
			tx.Narration = narration

			want, err := classifier.NewRules(rulesettest.Loader()).Classify(tx)
			Expect(err).ToNot(HaveOccurred())

			got := newClassifier().Classify(ctx, tx)
			Expect(got).To(Equal(want))
			Expect(got.Source).To(Equal(model.ClassificationSourceFallback))
		},
		Entry("credit income", model.DirectionCredit, "Consultation fee"),
		Entry("debit expense", model.DirectionDebit, "Office rent October"),
		Entry("personal", model.DirectionDebit, "Gift to family"),
		Entry("nothing matched", model.DirectionCredit, "TRF/0042/XZ"),
	)

	It("skips the primary once its rate budget is spent", func() {
		cfg.RatePerSecond = 0.001
		cfg.Burst = 1
		c := newClassifier()

		Expect(c.Classify(ctx, tx).Source).To(Equal(model.ClassificationSourcePrimary))
		Expect(c.Classify(ctx, tx).Source).To(Equal(model.ClassificationSourceFallback))
		Expect(primary.calls).To(Equal(1))
	})

	It("uses the rules alone when no primary is configured", func() {
		c := classifier.New(nil, rulesettest.Loader(), cfg)
		result := c.Classify(ctx, tx)
		Expect(result.Source).To(Equal(model.ClassificationSourceFallback))
		Expect(result.Category).To(Equal(model.CategoryBusinessIncome))
	})

	It("returns unknown with zero confidence when both paths fail", func() {
		primary.PredictFn = func(context.Context, classifier.Features) (classifier.Prediction, error) {
			return classifier.Prediction{}, errors.New("down")
		}
		c := classifier.New(primary, emptyRuleset{}, cfg)

		result := c.Classify(ctx, tx)
		Expect(result.Category).To(Equal(model.CategoryUnknown))
		Expect(result.Source).To(Equal(model.ClassificationSourceFallback))
		Expect(result.Confidence).To(BeZero())
		Expect(result.TaxCategory).To(Equal(model.TaxCategoryStandard))
	})
})

var _ = Describe("Rules", func() {
	var rules *classifier.Rules

	BeforeEach(func() {
		rules = classifier.NewRules(rulesettest.Loader())
	})

	DescribeTable("keyword and direction rules",
		func(direction model.Direction, narration string, want model.Category, wantTax model.TaxCategory) {
			result, err := rules.Classify(model.Transaction{Direction: direction, Narration: narration})
			Expect(err).ToNot(HaveOccurred())
			Expect(result.Category).To(Equal(want))
			Expect(result.TaxCategory).To(Equal(wantTax))
			Expect(result.Confidence).To(Equal(0.75))
		},
		Entry("invoice credit", model.DirectionCredit, "Invoice payment for consulting", model.CategoryBusinessIncome, model.TaxCategoryStandard),
		Entry("prefix match", model.DirectionCredit, "Consulting services Q3", model.CategoryBusinessIncome, model.TaxCategoryStandard),
		Entry("supplies debit", model.DirectionDebit, "Office SUPPLIES", model.CategoryBusinessExpense, model.TaxCategoryStandard),
		Entry("income keyword on a debit", model.DirectionDebit, "Invoice refund", model.CategoryUnknown, model.TaxCategoryStandard),
		Entry("no substring matches inside words", model.DirectionDebit, "current account sweep", model.CategoryUnknown, model.TaxCategoryStandard),
		Entry("personal", model.DirectionCredit, "birthday gift", model.CategoryPersonal, model.TaxCategoryExempt),
		Entry("empty narration", model.DirectionCredit, "", model.CategoryUnknown, model.TaxCategoryStandard),
	)
})

var _ = Describe("Tokenize", func() {
	It("splits on punctuation and lowercases", func() {
		Expect(classifier.Tokenize("PAYSTACK/Invoice-#123, consulting", 0)).To(Equal([]string{"paystack", "invoice", "123", "consulting"}))
	})

	It("respects the limit", func() {
		Expect(classifier.Tokenize("a b c d", 2)).To(Equal([]string{"a", "b"}))
	})
})
