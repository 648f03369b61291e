package webhook

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"taxrelay.app/relay/internal/http/dto"
	"taxrelay.app/relay/internal/service"
	"taxrelay.app/relay/internal/signature"
)

const DefaultMaxBodyBytes = 1 << 20

type DeliveryHandler struct {
	ingest       service.IngestService
	maxBodyBytes int64
}

func NewDeliveryHandler(ingest service.IngestService, maxBodyBytes int64) *DeliveryHandler {
	if maxBodyBytes <= 0 {
		maxBodyBytes = DefaultMaxBodyBytes
	}
	return &DeliveryHandler{ingest: ingest, maxBodyBytes: maxBodyBytes}
}

// HandleDelivery answers 200 for accepted, duplicate, unhandled and dead-lettered deliveries,
// 202 when a retry was scheduled and 401 when the signature does not verify. The body is read
// raw because the signature covers the exact bytes.
func (h *DeliveryHandler) HandleDelivery(c *gin.Context) {
	ctx := c.Request.Context()
	source := c.Param("source")

	body, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, h.maxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			c.JSON(http.StatusRequestEntityTooLarge, dto.ErrorResponse{Error: "payload too large"})
			return
		}
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: "failed to read request body"})
		return
	}
	if len(body) == 0 {
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: "empty payload"})
		return
	}

	result, err := h.ingest.Ingest(ctx, service.Delivery{
		Source:  source,
		Payload: body,
		Headers: c.Request.Header,
	})
	if err != nil {
		h.writeError(c, source, err)
		return
	}

	resp := dto.DeliveryResponse{
		Status:     string(result.Outcome),
		DeliveryID: result.Event.DeliveryID,
		EventID:    result.Event.EventID,
		EventType:  result.Event.RawEventType,
	}
	if result.Line != nil {
		resp.LineID = result.Line.LineID
		resp.NeedsReview = &result.Line.NeedsReview
	}
	if result.Decision != nil {
		resp.Attempt = result.Decision.AttemptCount
		if result.Decision.Retry() {
			resp.NextRetryAt = result.Decision.NextRetryAt.UTC().Format(time.RFC3339)
		}
	}

	status := http.StatusOK
	if result.Outcome == service.OutcomeRetrying {
		status = http.StatusAccepted
	}
	c.JSON(status, resp)
}

func (h *DeliveryHandler) writeError(c *gin.Context, source string, err error) {
	switch {
	case errors.Is(err, service.ErrUnknownSource):
		c.JSON(http.StatusNotFound, dto.ErrorResponse{Error: "unknown source"})
	case errors.Is(err, signature.ErrMismatch), errors.Is(err, signature.ErrExpired), errors.Is(err, signature.ErrMissingHeaders):
		c.JSON(http.StatusUnauthorized, dto.ErrorResponse{Error: "invalid signature", Reason: signature.Reason(err)})
	case errors.Is(err, service.ErrDedupUnavailable), errors.Is(err, service.ErrRulesetNotLoaded):
		c.Header("Retry-After", "30")
		c.JSON(http.StatusServiceUnavailable, dto.ErrorResponse{Error: "temporarily unavailable"})
	default:
		slog.ErrorContext(c.Request.Context(), "failed to ingest delivery", "error", err, "source", source)
		c.JSON(http.StatusInternalServerError, dto.ErrorResponse{Error: "failed to ingest delivery"})
	}
}
