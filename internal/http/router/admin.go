package router

import (
	"github.com/gin-gonic/gin"

	"taxrelay.app/relay/internal/http/handler"
)

func DeadLetterRouter(router *gin.RouterGroup, h *handler.DeadLetterHandler) {
	router.GET("", h.List)
}

func InvoiceLineRouter(router *gin.RouterGroup, h *handler.InvoiceLineHandler) {
	router.GET("/:line_id", h.Get)
}
