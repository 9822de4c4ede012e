// Package cache provides the tenant billing read cache. Billing state is
// patched by the webhook intake and the reconciliation sweeper; both hold the
// single Invalidate capability so stale reads never outlive a patch.
package cache

import (
	"context"
	"time"
)

// DefaultTTL bounds how long a billing read may be served from cache.
const DefaultTTL = 5 * time.Minute

// BillingInfo is the cached read-through view of a tenant's billing state.
type BillingInfo struct {
	Status             string     `json:"status"`
	Plan               string     `json:"plan"`
	SubscriptionID     string     `json:"subscription_id"`
	StripeCustomerID   string     `json:"stripe_customer_id"`
	PlanPriceID        string     `json:"plan_price_id"`
	CurrentPeriodStart *time.Time `json:"current_period_start"`
	CurrentPeriodEnd   *time.Time `json:"current_period_end"`
}

// Service caches tenant billing reads.
type Service interface {
	Get(ctx context.Context, tenantID string) (BillingInfo, bool)
	Set(ctx context.Context, tenantID string, info BillingInfo)
	Invalidate(ctx context.Context, tenantID string)
}
