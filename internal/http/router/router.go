package router

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"bubbleflow.app/relay/internal/http/handler"
	"bubbleflow.app/relay/internal/http/handler/webhook"
	"bubbleflow.app/relay/internal/service"
)

type RouterConfig struct {
	// MetricsEnabled exposes GET /metrics.
	MetricsEnabled bool
}

func SetupRoutes(router *gin.Engine, services *service.Services, cfg RouterConfig) {
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	if cfg.MetricsEnabled {
		router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	}

	dispatchHandler := webhook.NewDispatchHandler(services.Dispatch())
	WebhookRouter(router.Group("/webhook"), dispatchHandler)

	v1 := router.Group("/api/v1")
	{
		triggerHandler := handler.NewTriggerHandler(services.Registry())
		TriggerRouter(v1.Group("/triggers"), triggerHandler)
	}
}
