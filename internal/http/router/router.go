package router

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"taxrelay.app/relay/internal/http/handler"
	"taxrelay.app/relay/internal/http/handler/webhook"
	"taxrelay.app/relay/internal/http/middleware"
	"taxrelay.app/relay/internal/metrics"
)

type RouterConfig struct {
	AdminAPIKey string
}

type Handlers struct {
	Deliveries   *webhook.DeliveryHandler
	DeadLetters  *handler.DeadLetterHandler
	InvoiceLines *handler.InvoiceLineHandler
}

func SetupRoutes(router *gin.Engine, h Handlers, cfg RouterConfig) {
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	router.GET("/metrics", metrics.Handler())

	WebhookRouter(router.Group("/webhooks"), h.Deliveries)

	v1 := router.Group("/api/v1", middleware.RequireAdminAPIKey(cfg.AdminAPIKey))
	{
		if h.DeadLetters != nil {
			DeadLetterRouter(v1.Group("/dead-letters"), h.DeadLetters)
		}
		if h.InvoiceLines != nil {
			InvoiceLineRouter(v1.Group("/invoice-lines"), h.InvoiceLines)
		}
	}
}
