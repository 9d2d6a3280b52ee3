package router

import (
	"github.com/gin-gonic/gin"

	"bubbleflow.app/relay/internal/http/handler"
)

func TriggerRouter(router *gin.RouterGroup, handler *handler.TriggerHandler) {
	router.GET("", handler.List)
	router.GET("/:provider/:name/schema", handler.Schema)
	router.POST("/:provider/:name/preview", handler.Preview)
}
