package sink

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"taxrelay.app/relay/core/db"
	"taxrelay.app/relay/internal/metrics"
	"taxrelay.app/relay/internal/model"
)

const insertLineSQL = `
INSERT INTO invoice_lines (
    line_id, source, source_transaction_id, description,
    quantity, unit_price, line_total, tax_amount, tax_rate, currency,
    category, category_code, tax_category, classification_source, confidence,
    needs_review, exempt, original_currency, original_amount, occurred_at,
    direction, related_transaction_id
) VALUES (
    $1, $2, $3, $4,
    $5::numeric, $6::numeric, $7::numeric, $8::numeric, $9::numeric, $10,
    $11, $12, $13, $14, $15,
    $16, $17, $18, $19::numeric, $20,
    $21, $22
)
ON CONFLICT (line_id) DO NOTHING`

const selectLineSQL = `
SELECT line_id, source, source_transaction_id, description,
       quantity::text, unit_price::text, line_total::text, tax_amount::text, tax_rate::text, currency,
       category, category_code, tax_category, classification_source, confidence,
       needs_review, exempt, original_currency, original_amount::text, occurred_at,
       direction, related_transaction_id
FROM invoice_lines
WHERE line_id = $1`

// Postgres writes lines to the invoice_lines table.
type Postgres struct {
	q       db.Querier
	timeout time.Duration
}

func NewPostgres(q db.Querier, timeout time.Duration) *Postgres {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Postgres{q: q, timeout: timeout}
}

// Submit inserts line. A line id that already exists is treated as success.
func (p *Postgres) Submit(ctx context.Context, line model.NormalizedInvoiceLine) error {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	var originalAmount *string
	if line.OriginalAmount != nil {
		s := line.OriginalAmount.String()
		originalAmount = &s
	}
	var originalCurrency *string
	if line.OriginalCurrency != "" {
		originalCurrency = &line.OriginalCurrency
	}
	var related *string
	if line.RelatedTransactionID != "" {
		related = &line.RelatedTransactionID
	}

	tag, err := p.q.Exec(ctx, insertLineSQL,
		line.LineID, line.Source, line.SourceTransactionID, line.Description,
		line.Quantity.String(), line.UnitPrice.String(), line.LineTotal.String(),
		line.TaxAmount.String(), line.TaxRate.String(), line.Currency,
		string(line.Category), line.CategoryCode, string(line.TaxCategory),
		string(line.ClassificationSource), line.Confidence,
		line.NeedsReview, line.Exempt, originalCurrency, originalAmount, line.OccurredAt,
		string(line.Direction), related,
	)
	if err != nil {
		return fmt.Errorf("inserting invoice line %s: %w", line.LineID, err)
	}

	if tag.RowsAffected() == 0 {
		slog.InfoContext(ctx, "invoice line already stored", "line_id", line.LineID)
		return nil
	}

	metrics.InvoiceLinesWritten.Inc()
	slog.InfoContext(ctx, "invoice line stored",
		"line_id", line.LineID,
		"category_code", line.CategoryCode,
		"direction", line.Direction,
		"needs_review", line.NeedsReview)
	return nil
}

func (p *Postgres) Get(ctx context.Context, lineID string) (*model.NormalizedInvoiceLine, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	var (
		line                                                   model.NormalizedInvoiceLine
		quantity, unitPrice, lineTotal, taxAmount, taxRate     string
		category, taxCategory, classificationSource, direction string
		originalCurrency, originalAmount, related              *string
	)

	err := p.q.QueryRow(ctx, selectLineSQL, lineID).Scan(
		&line.LineID, &line.Source, &line.SourceTransactionID, &line.Description,
		&quantity, &unitPrice, &lineTotal, &taxAmount, &taxRate, &line.Currency,
		&category, &line.CategoryCode, &taxCategory, &classificationSource, &line.Confidence,
		&line.NeedsReview, &line.Exempt, &originalCurrency, &originalAmount, &line.OccurredAt,
		&direction, &related,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("loading invoice line %s: %w", lineID, err)
	}

	for _, f := range []struct {
		dst *decimal.Decimal
		src string
	}{
		{&line.Quantity, quantity},
		{&line.UnitPrice, unitPrice},
		{&line.LineTotal, lineTotal},
		{&line.TaxAmount, taxAmount},
		{&line.TaxRate, taxRate},
	} {
		v, err := decimal.NewFromString(f.src)
		if err != nil {
			return nil, fmt.Errorf("decoding invoice line %s: %w", lineID, err)
		}
		*f.dst = v
	}

	line.Category = model.Category(category)
	line.TaxCategory = model.TaxCategory(taxCategory)
	line.ClassificationSource = model.ClassificationSource(classificationSource)
	line.Direction = model.Direction(direction)
	if related != nil {
		line.RelatedTransactionID = *related
	}
	if originalCurrency != nil {
		line.OriginalCurrency = *originalCurrency
	}
	if originalAmount != nil {
		v, err := decimal.NewFromString(*originalAmount)
		if err != nil {
			return nil, fmt.Errorf("decoding invoice line %s: %w", lineID, err)
		}
		line.OriginalAmount = &v
	}

	return &line, nil
}
