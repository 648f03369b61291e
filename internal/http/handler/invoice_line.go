package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"taxrelay.app/relay/internal/http/dto"
	"taxrelay.app/relay/internal/model"
	"taxrelay.app/relay/internal/sink"
)

type InvoiceLineGetter interface {
	Get(ctx context.Context, lineID string) (*model.NormalizedInvoiceLine, error)
}

type InvoiceLineHandler struct {
	lines InvoiceLineGetter
}

func NewInvoiceLineHandler(lines InvoiceLineGetter) *InvoiceLineHandler {
	return &InvoiceLineHandler{lines: lines}
}

func (h *InvoiceLineHandler) Get(c *gin.Context) {
	ctx := c.Request.Context()
	lineID := c.Param("line_id")

	line, err := h.lines.Get(ctx, lineID)
	if err != nil {
		if errors.Is(err, sink.ErrNotFound) {
			c.JSON(http.StatusNotFound, dto.ErrorResponse{Error: "invoice line not found"})
			return
		}
		slog.ErrorContext(ctx, "failed to get invoice line", "error", err, "line_id", lineID)
		c.JSON(http.StatusInternalServerError, dto.ErrorResponse{Error: "failed to get invoice line"})
		return
	}

	c.JSON(http.StatusOK, toInvoiceLineResponse(line))
}

func toInvoiceLineResponse(l *model.NormalizedInvoiceLine) dto.InvoiceLineResponse {
	resp := dto.InvoiceLineResponse{
		LineID:               l.LineID,
		Source:               l.Source,
		SourceTransactionID:  l.SourceTransactionID,
		RelatedTransactionID: l.RelatedTransactionID,
		Direction:            string(l.Direction),
		Description:          l.Description,
		Quantity:             l.Quantity.String(),
		UnitPrice:            l.UnitPrice.String(),
		LineTotal:            l.LineTotal.String(),
		TaxAmount:            l.TaxAmount.String(),
		TaxRate:              l.TaxRate.String(),
		Currency:             l.Currency,
		Category:             string(l.Category),
		CategoryCode:         l.CategoryCode,
		TaxCategory:          string(l.TaxCategory),
		ClassificationSource: string(l.ClassificationSource),
		Confidence:           l.Confidence,
		NeedsReview:          l.NeedsReview,
		Exempt:               l.Exempt,
		OriginalCurrency:     l.OriginalCurrency,
		OccurredAt:           l.OccurredAt,
	}
	if l.OriginalAmount != nil {
		resp.OriginalAmount = l.OriginalAmount.String()
	}
	return resp
}
