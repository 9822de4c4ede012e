package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/elienai21/Momentum-Premium-sub001/internal/charge"
	"github.com/elienai21/Momentum-Premium-sub001/internal/credits"
	"github.com/elienai21/Momentum-Premium-sub001/internal/store"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
)

// FeatureHandler runs metered feature invocations through the charge gate.
type FeatureHandler struct {
	store   *store.TenantStore
	gate    *charge.Gate
	invoker FeatureInvoker
}

// NewFeatureHandler constructs a FeatureHandler.
func NewFeatureHandler(tenantStore *store.TenantStore, gate *charge.Gate, invoker FeatureInvoker) *FeatureHandler {
	return &FeatureHandler{store: tenantStore, gate: gate, invoker: invoker}
}

// invokeFeatureRequest is the request body for a metered invocation. Cost is
// never taken from the caller; it always comes from the server-side cost table.
type invokeFeatureRequest struct {
	Input          json.RawMessage `json:"input"`
	IdempotencyKey string          `json:"idempotency_key"`
}

// Invoke charges the feature's cost and runs the paid operation.
func (h *FeatureHandler) Invoke(c *gin.Context) {
	if h == nil || h.gate == nil || h.invoker == nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "feature invoker unavailable"})
		return
	}

	tenantID := getTenantID(c)
	if tenantID == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "tenant not resolved"})
		return
	}

	featureKey := c.Param("feature")
	var body invokeFeatureRequest
	if c.Request.ContentLength > 0 {
		if errBind := c.ShouldBindJSON(&body); errBind != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
			return
		}
	}

	tenant, errGet := h.store.GetTenant(c.Request.Context(), tenantID)
	if errGet != nil {
		if errors.Is(errGet, store.ErrTenantNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "tenant not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "load tenant failed"})
		return
	}

	params := charge.Params{
		TenantID:       tenantID,
		Plan:           tenant.Plan,
		FeatureKey:     featureKey,
		IdempotencyKey: body.IdempotencyKey,
		TraceID:        c.GetHeader("X-Request-ID"),
		Source:         "api",
	}

	output, errCharge := charge.ChargeCredits(c.Request.Context(), h.gate, params, func(ctx context.Context) (json.RawMessage, error) {
		return h.invoker.Invoke(ctx, featureKey, body.Input)
	})
	if errCharge != nil {
		h.writeChargeError(c, featureKey, errCharge)
		return
	}

	c.JSON(http.StatusOK, gin.H{"feature": featureKey, "output": output})
}

func (h *FeatureHandler) writeChargeError(c *gin.Context, featureKey string, err error) {
	var insufficient *credits.InsufficientCreditsError
	if errors.As(err, &insufficient) {
		var afterOp *charge.AfterOperationError
		if errors.As(err, &afterOp) {
			// Delivered value that could not be billed; distinct from a
			// pre-flight rejection so reconciliation can pick it up.
			c.JSON(http.StatusInternalServerError, gin.H{"error": "charge failed after operation", "code": "CHARGE_AFTER_OPERATION"})
			return
		}
		c.JSON(insufficient.StatusCode(), gin.H{"error": "insufficient credits", "code": insufficient.Code()})
		return
	}

	log.WithError(err).Errorf("feature invocation failed (feature=%s)", featureKey)
	c.JSON(http.StatusInternalServerError, gin.H{"error": "feature invocation failed"})
}
