package invoice_test

import (
	"strings"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/shopspring/decimal"

	"taxrelay.app/relay/internal/invoice"
	"taxrelay.app/relay/internal/model"
	"taxrelay.app/relay/internal/ruleset/rulesettest"
)

var _ = Describe("Normalizer", func() {
	var (
		normalizer *invoice.Normalizer
		event      model.InboundEvent
		tx         model.Transaction
		cls        model.ClassificationResult
		tb         model.TaxBreakdown
	)

	BeforeEach(func() {
		normalizer = invoice.NewNormalizer(rulesettest.Loader(), 0.6)
		event = model.InboundEvent{Source: "paystack", EventType: model.EventTypeChargeSuccess, EventID: "E1"}
		tx = model.Transaction{
			TransactionID: "ref_123",
			GrossAmount:   decimal.RequireFromString("107.50"),
			Currency:      "NGN",
			Direction:     model.DirectionCredit,
			Narration:     "  Invoice   payment for consulting ",
			OccurredAt:    time.Date(2026, 10, 1, 8, 0, 0, 0, time.UTC),
		}
		cls = model.ClassificationResult{
			Category:    model.CategoryBusinessIncome,
			TaxCategory: model.TaxCategoryStandard,
			Confidence:  0.75,
			Source:      model.ClassificationSourceFallback,
		}
		tb = model.TaxBreakdown{
			GrossAmount:   decimal.RequireFromString("107.50"),
			TaxableAmount: decimal.RequireFromString("100.00"),
			TaxAmount:     decimal.RequireFromString("7.50"),
			TaxRate:       decimal.RequireFromString("7.5"),
			Currency:      "NGN",
			TaxCategory:   model.TaxCategoryStandard,
			VATInclusive:  true,
		}
	})

	It("assembles a single line", func() {
		line := normalizer.Normalize(event, tx, cls, tb)

		Expect(line.Description).To(Equal("Invoice payment for consulting"))
		Expect(line.Quantity.Equal(decimal.NewFromInt(1))).To(BeTrue())
		Expect(line.UnitPrice.Equal(tb.TaxableAmount)).To(BeTrue())
		Expect(line.LineTotal.Equal(decimal.RequireFromString("107.50"))).To(BeTrue())
		Expect(line.TaxAmount.Equal(tb.TaxAmount)).To(BeTrue())
		Expect(line.CategoryCode).To(Equal("4000"))
		Expect(line.SourceTransactionID).To(Equal("ref_123"))
		Expect(line.ClassificationSource).To(Equal(model.ClassificationSourceFallback))
		Expect(line.NeedsReview).To(BeFalse())
		Expect(line.OccurredAt).To(Equal(tx.OccurredAt))
		Expect(line.Direction).To(Equal(model.DirectionCredit))
		Expect(line.RelatedTransactionID).To(BeEmpty())
	})

	It("keeps the direction so sales and refunds of equal amounts stay distinguishable", func() {
		sale := normalizer.Normalize(event, tx, cls, tb)

		related := "ref_123"
		refundEvent := model.InboundEvent{Source: "paystack", EventType: model.EventTypeRefundProcessed, EventID: "E2"}
		tx.TransactionID = "rf_1"
		tx.Direction = model.DirectionDebit
		tx.RelatedTransactionID = &related
		refund := normalizer.Normalize(refundEvent, tx, cls, tb)

		Expect(refund.Direction).To(Equal(model.DirectionDebit))
		Expect(refund.RelatedTransactionID).To(Equal("ref_123"))
		Expect(refund.LineTotal.Equal(sale.LineTotal)).To(BeTrue())
		Expect(refund.Direction).ToNot(Equal(sale.Direction))
	})

	It("is deterministic", func() {
		a := normalizer.Normalize(event, tx, cls, tb)
		b := normalizer.Normalize(event, tx, cls, tb)
		Expect(a).To(Equal(b))
		Expect(a.LineID).To(HavePrefix("inv_"))
	})

	It("keys lines by source, event type and transaction", func() {
		base := invoice.LineID("paystack", "charge.success", "ref_123")
		Expect(invoice.LineID("square", "charge.success", "ref_123")).ToNot(Equal(base))
		Expect(invoice.LineID("paystack", "refund.processed", "ref_123")).ToNot(Equal(base))
		Expect(invoice.LineID("paystack", "charge.success", "ref_124")).ToNot(Equal(base))
	})

	It("uses the category description when there is no narration", func() {
		tx.Narration = "   "
		Expect(normalizer.Normalize(event, tx, cls, tb).Description).To(Equal("Sale of goods and services"))
	})

	It("truncates long narrations", func() {
		tx.Narration = strings.Repeat("é", 300)
		Expect([]rune(normalizer.Normalize(event, tx, cls, tb).Description)).To(HaveLen(200))
	})

	It("flags unknown or low-confidence classifications for review", func() {
		cls.Category = model.CategoryUnknown
		cls.Confidence = 0
		line := normalizer.Normalize(event, tx, cls, tb)
		Expect(line.NeedsReview).To(BeTrue())
		Expect(line.CategoryCode).To(Equal("9999"))

		cls.Category = model.CategoryBusinessExpense
		cls.Confidence = 0.3
		Expect(normalizer.Normalize(event, tx, cls, tb).NeedsReview).To(BeTrue())
	})

	It("carries currency conversion details", func() {
		original := decimal.RequireFromString("10.75")
		tb.OriginalCurrency = "USD"
		tb.OriginalAmount = &original

		line := normalizer.Normalize(event, tx, cls, tb)
		Expect(line.OriginalCurrency).To(Equal("USD"))
		Expect(line.OriginalAmount.Equal(original)).To(BeTrue())
		Expect(line.Currency).To(Equal("NGN"))
	})
})
