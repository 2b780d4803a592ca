package routes

import (
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/jsndz/petbus/cmd/gateway_api/app/internal/handler"
	"github.com/jsndz/petbus/middlewares"
	"github.com/jsndz/petbus/pkg/gateway"
)

func Adoptions(router *gin.RouterGroup, svc *gateway.Service, limiter *middlewares.RateLimiter, cache middlewares.ResponseCache, log *zap.Logger) {
	adoptionHandler := handler.NewAdoptionHandler(svc, log)

	router.POST("", limiter.Middleware(), middlewares.Idempotency(cache, log), adoptionHandler.Submit)
}

func Notifications(router *gin.RouterGroup, svc *gateway.Service, log *zap.Logger) {
	notificationHandler := handler.NewNotificationHandler(svc, log)

	router.GET("", notificationHandler.List)
	router.DELETE("", notificationHandler.Clear)
}

func Admin(router *gin.RouterGroup, svc *gateway.Service, log *zap.Logger) {
	notificationHandler := handler.NewNotificationHandler(svc, log)

	router.POST("/reset", notificationHandler.ResetPipeline)
}
