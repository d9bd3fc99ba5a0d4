package routes

import (
	"net/http"

	"paylink_backend/internal/handlers"
	"paylink_backend/internal/logger"

	"github.com/gin-gonic/gin"
)

// RegisterRoutes registers every HTTP route of the API.
func RegisterRoutes(
	ginRouter *gin.Engine,
	appHandlers *handlers.AppHandlers,
) {
	ginRouter.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	api := ginRouter.Group("/api/v1")
	{
		appHandlers.PaymentLinkHandler.RegisterRoutes(api)
		appHandlers.TransactionHandler.RegisterRoutes(api)
		appHandlers.PayoutHandler.RegisterRoutes(api)
		appHandlers.WebhookHandler.RegisterRoutes(api)
		if appHandlers.StreamHandler != nil {
			appHandlers.StreamHandler.RegisterRoutes(api)
		}
	}
	logger.Info("HTTP routes registered", "prefix", "/api/v1")
}
