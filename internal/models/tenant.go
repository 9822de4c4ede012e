package models

import "time"

// Billing status values mirrored from the external subscription system.
const (
	BillingStatusActive       = "active"
	BillingStatusTrialing     = "trialing"
	BillingStatusPastDue      = "past_due"
	BillingStatusCanceled     = "canceled"
	BillingStatusTrialActive  = "trial-active"
	BillingStatusTrialExpired = "trial-expired"
)

// Tenant is one customer organization, the unit of credit and billing isolation.
// Credit fields are owned exclusively by the ledger; billing fields are owned
// exclusively by the webhook intake and the reconciliation sweeper.
type Tenant struct {
	ID string `gorm:"type:text;primaryKey"` // Tenant identifier.

	Name string `gorm:"type:text;not null"`                   // Display name.
	Plan string `gorm:"type:text;not null;default:'starter'"` // Current plan tier.

	CreditsAvailable int64      `gorm:"not null;default:0"` // Credits left in the current cycle. Never negative.
	MonthlyQuota     int64      `gorm:"not null;default:0"` // Credits granted per cycle for the current plan.
	LastResetAt      *time.Time // Start of the current cycle, nil before the first reset.
	CreditsUpdatedAt time.Time  // Last credit mutation time.

	BillingStatus      string     `gorm:"type:text;not null;default:'trial-active';index"` // Subscription status.
	SubscriptionID     string     `gorm:"type:text;index"`                                 // External subscription ID.
	StripeCustomerID   string     `gorm:"type:text;index"`                                 // External customer ID.
	PlanPriceID        string     `gorm:"type:text"`                                       // External plan/price ID.
	CurrentPeriodStart *time.Time // Billing period start reported by the external system.
	CurrentPeriodEnd   *time.Time // Billing period end reported by the external system.

	CreatedAt time.Time `gorm:"not null;autoCreateTime"` // Creation timestamp.
	UpdatedAt time.Time `gorm:"not null;autoUpdateTime"` // Last update timestamp.
}
