package router

import (
	"github.com/gin-gonic/gin"

	"taxrelay.app/relay/internal/http/handler/webhook"
)

func WebhookRouter(router *gin.RouterGroup, h *webhook.DeliveryHandler) {
	router.POST("/:source", h.HandleDelivery)
}
