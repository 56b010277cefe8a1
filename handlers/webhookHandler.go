package handlers

import (
	"context"
	"errors"
	"net/http"
	"time"

	"RoyRemind/middlewares"
	"RoyRemind/models"
	"RoyRemind/services"

	"github.com/gin-gonic/gin"
)

type transportEvents interface {
	HandleDeliveryReceipt(ctx context.Context, externalID string, status models.LogStatus, at time.Time) error
	HandleInboundReply(ctx context.Context, channel models.Channel, address, payload, sentiment string, at time.Time) (*models.ReminderInstance, error)
}

// WebhookHandler receives transport callbacks.
type WebhookHandler struct {
	service transportEvents
	now     func() time.Time
}

func NewWebhookHandler(service transportEvents) *WebhookHandler {
	return &WebhookHandler{service: service, now: time.Now}
}

func (h *WebhookHandler) DeliveryReceipt(c *gin.Context) {
	var req deliveryReceiptRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		middlewares.HttpError(c, err.Error(), http.StatusBadRequest, err)
		return
	}
	if err := req.Validate(); err != nil {
		middlewares.RespondError(c, err)
		return
	}

	err := h.service.HandleDeliveryReceipt(c.Request.Context(), req.ExternalID,
		models.LogStatus(req.Status), timeOr(req.OccurredAt, h.now().UTC()))
	if err != nil {
		// Unknown message ids are acknowledged so the provider stops retrying.
		if errors.Is(err, services.ErrNotFound) {
			c.JSON(http.StatusAccepted, gin.H{"matched": false})
			return
		}
		middlewares.RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"matched": true})
}

func (h *WebhookHandler) InboundReply(c *gin.Context) {
	var req inboundReplyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		middlewares.HttpError(c, err.Error(), http.StatusBadRequest, err)
		return
	}
	if err := req.Validate(); err != nil {
		middlewares.RespondError(c, err)
		return
	}

	channel, _ := models.ParseChannel(req.Channel)
	inst, err := h.service.HandleInboundReply(c.Request.Context(), channel, req.From, req.Body, req.Sentiment,
		timeOr(req.ReceivedAt, h.now().UTC()))
	if err != nil {
		middlewares.RespondError(c, err)
		return
	}
	if inst == nil {
		c.JSON(http.StatusAccepted, gin.H{"matched": false})
		return
	}
	c.JSON(http.StatusOK, gin.H{"matched": true, "reminder_id": inst.ID, "state": inst.State})
}
