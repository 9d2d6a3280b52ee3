package router

import (
	"github.com/gin-gonic/gin"

	"bubbleflow.app/relay/internal/http/handler/webhook"
)

func WebhookRouter(router *gin.RouterGroup, handler *webhook.DispatchHandler) {
	router.POST("/:userId/:path", handler.Handle)
	router.POST("/:userId/:path/stream", handler.Stream)
}
