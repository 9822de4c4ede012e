package http

import (
	"errors"
	"net/http"

	"github.com/elienai21/Momentum-Premium-sub001/internal/billing"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
)

// stripeSignatureHeader carries the webhook authenticity signature.
const stripeSignatureHeader = "Stripe-Signature"

// WebhookHandler handles inbound billing webhook deliveries.
type WebhookHandler struct {
	intake *billing.Intake
}

// NewWebhookHandler constructs a WebhookHandler.
func NewWebhookHandler(intake *billing.Intake) *WebhookHandler {
	return &WebhookHandler{intake: intake}
}

// Handle ingests one webhook delivery. Both newly-processed and duplicate
// events respond 200 so the sender's retries are idempotent-safe; signature
// failures respond 400 with no state change.
func (h *WebhookHandler) Handle(c *gin.Context) {
	if h == nil || h.intake == nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "webhook intake unavailable"})
		return
	}

	payload, errRead := c.GetRawData()
	if errRead != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "read body failed"})
		return
	}

	result, errHandle := h.intake.HandleEvent(
		c.Request.Context(),
		payload,
		c.GetHeader(stripeSignatureHeader),
		c.GetHeader("X-Request-ID"),
	)
	if errHandle != nil {
		if errors.Is(errHandle, billing.ErrInvalidSignature) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid signature"})
			return
		}
		log.WithError(errHandle).Errorf("webhook: event processing failed (event=%s)", result.EventID)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "event processing failed"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"received": true, "duplicate": result.Duplicate})
}
