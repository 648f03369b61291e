package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"taxrelay.app/relay/internal/http/dto"
	"taxrelay.app/relay/internal/queue"
)

const defaultDeadLetterCount = 50

type DeadLetterLister interface {
	List(ctx context.Context, count int64) ([]queue.Entry, error)
}

type DeadLetterHandler struct {
	lister DeadLetterLister
}

func NewDeadLetterHandler(lister DeadLetterLister) *DeadLetterHandler {
	return &DeadLetterHandler{lister: lister}
}

// List returns the newest dead letters first.
func (h *DeadLetterHandler) List(c *gin.Context) {
	ctx := c.Request.Context()

	var q dto.ListDeadLettersQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: err.Error()})
		return
	}
	if q.Count == 0 {
		q.Count = defaultDeadLetterCount
	}

	entries, err := h.lister.List(ctx, q.Count)
	if err != nil {
		slog.ErrorContext(ctx, "failed to list dead letters", "error", err)
		c.JSON(http.StatusInternalServerError, dto.ErrorResponse{Error: "failed to list dead letters"})
		return
	}

	resp := dto.ListDeadLettersResponse{DeadLetters: make([]dto.DeadLetterResponse, 0, len(entries))}
	for _, e := range entries {
		dl := e.DeadLetter
		resp.DeadLetters = append(resp.DeadLetters, dto.DeadLetterResponse{
			StreamID:     e.StreamID,
			ID:           dl.ID,
			Source:       dl.Event.Source,
			EventID:      dl.Event.EventID,
			EventType:    dl.Event.RawEventType,
			DeliveryID:   dl.Event.DeliveryID,
			ErrorKind:    string(dl.ErrorKind),
			FinalError:   dl.FinalError,
			AttemptCount: dl.AttemptCount,
			ReceivedAt:   dl.Event.ReceivedAt,
			DeadAt:       dl.DeadAt,
			Payload:      string(dl.Event.RawPayload),
		})
	}
	resp.Count = len(resp.DeadLetters)

	c.JSON(http.StatusOK, resp)
}
