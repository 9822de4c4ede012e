package http

import (
	"errors"
	"net/http"

	"github.com/elienai21/Momentum-Premium-sub001/internal/cache"
	"github.com/elienai21/Momentum-Premium-sub001/internal/credits"
	"github.com/elienai21/Momentum-Premium-sub001/internal/models"
	"github.com/elienai21/Momentum-Premium-sub001/internal/store"

	"github.com/gin-gonic/gin"
)

// CreditsHandler serves the credits read model.
type CreditsHandler struct {
	store  *store.TenantStore
	ledger *credits.Ledger
	cache  cache.Service
}

// NewCreditsHandler constructs a CreditsHandler.
func NewCreditsHandler(tenantStore *store.TenantStore, ledger *credits.Ledger, billingCache cache.Service) *CreditsHandler {
	return &CreditsHandler{store: tenantStore, ledger: ledger, cache: billingCache}
}

// Get returns the tenant's current credit snapshot and billing summary.
func (h *CreditsHandler) Get(c *gin.Context) {
	tenantID := getTenantID(c)
	if tenantID == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "tenant not resolved"})
		return
	}

	info, errInfo := h.billingInfo(c, tenantID)
	if errInfo != nil {
		if errors.Is(errInfo, store.ErrTenantNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "tenant not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "load tenant failed"})
		return
	}

	snapshot, errSnap := h.ledger.GetCredits(c.Request.Context(), tenantID, info.Plan)
	if errSnap != nil {
		if errors.Is(errSnap, store.ErrTenantNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "tenant not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "load credits failed"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"credits": snapshot,
		"billing": gin.H{
			"status":               info.Status,
			"subscription_id":      info.SubscriptionID,
			"current_period_start": info.CurrentPeriodStart,
			"current_period_end":   info.CurrentPeriodEnd,
		},
	})
}

// billingInfo serves tenant billing state through the cache.
func (h *CreditsHandler) billingInfo(c *gin.Context, tenantID string) (cache.BillingInfo, error) {
	ctx := c.Request.Context()
	if h.cache != nil {
		if info, ok := h.cache.Get(ctx, tenantID); ok {
			return info, nil
		}
	}

	tenant, errGet := h.store.GetTenant(ctx, tenantID)
	if errGet != nil {
		return cache.BillingInfo{}, errGet
	}

	info := billingInfoFromTenant(tenant)
	if h.cache != nil {
		h.cache.Set(ctx, tenantID, info)
	}
	return info, nil
}

func billingInfoFromTenant(tenant *models.Tenant) cache.BillingInfo {
	return cache.BillingInfo{
		Status:             tenant.BillingStatus,
		Plan:               tenant.Plan,
		SubscriptionID:     tenant.SubscriptionID,
		StripeCustomerID:   tenant.StripeCustomerID,
		PlanPriceID:        tenant.PlanPriceID,
		CurrentPeriodStart: tenant.CurrentPeriodStart,
		CurrentPeriodEnd:   tenant.CurrentPeriodEnd,
	}
}
