package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/jsndz/petbus/pkg/broker"
	"github.com/jsndz/petbus/pkg/gateway"
)

type AdoptionHandler struct {
	service *gateway.Service
	log     *zap.Logger
}

func NewAdoptionHandler(service *gateway.Service, log *zap.Logger) *AdoptionHandler {
	return &AdoptionHandler{service: service, log: log}
}

type SubmitRequest struct {
	PetID         string                     `json:"pet_id" binding:"required"`
	RequesterID   string                     `json:"requester_id"`
	RequesterName string                     `json:"requester_name"`
	Attributes    map[string]json.RawMessage `json:"attributes"`
}

// flattenAttributes keeps JSON numbers and booleans as their literal text so
// large incomes never pass through float64.
func flattenAttributes(raw map[string]json.RawMessage) map[string]string {
	out := make(map[string]string, len(raw))
	for k, v := range raw {
		text := strings.TrimSpace(string(v))
		if text == "" || text == "null" {
			continue
		}
		if strings.HasPrefix(text, `"`) {
			var s string
			if err := json.Unmarshal(v, &s); err == nil {
				text = s
			}
		}
		out[k] = text
	}
	return out
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, gateway.ErrInvalidRequest):
		return http.StatusBadRequest
	case errors.Is(err, gateway.ErrThrottled):
		return http.StatusTooManyRequests
	case errors.Is(err, broker.ErrBrokerUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (h *AdoptionHandler) Submit(c *gin.Context) {
	h.log.Info("Incoming HTTP request",
		zap.String("endpoint", c.FullPath()),
		zap.String("method", c.Request.Method),
		zap.String("client_ip", c.ClientIP()),
	)

	var req SubmitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	receipt, err := h.service.Submit(c.Request.Context(), gateway.SubmitInput{
		PetID:         req.PetID,
		RequesterID:   req.RequesterID,
		RequesterName: req.RequesterName,
		Attributes:    flattenAttributes(req.Attributes),
	})
	if err != nil {
		status := statusFor(err)
		if status >= http.StatusInternalServerError {
			h.log.Error("Submission failed", zap.Error(err))
		}
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusAccepted, receipt)
}
