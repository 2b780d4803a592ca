package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/jsndz/petbus/pkg/gateway"
)

type NotificationHandler struct {
	service *gateway.Service
	log     *zap.Logger
}

func NewNotificationHandler(service *gateway.Service, log *zap.Logger) *NotificationHandler {
	return &NotificationHandler{service: service, log: log}
}

func (h *NotificationHandler) List(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"notifications": h.service.ListNotifications()})
}

func (h *NotificationHandler) Clear(c *gin.Context) {
	h.service.ClearNotifications()
	c.Status(http.StatusNoContent)
}

func (h *NotificationHandler) ResetPipeline(c *gin.Context) {
	if err := h.service.ResetPipeline(c.Request.Context()); err != nil {
		h.log.Error("Pipeline reset failed", zap.Error(err))
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "pipeline reset"})
}
