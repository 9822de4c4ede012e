package credits

import (
	"time"

	"github.com/elienai21/Momentum-Premium-sub001/internal/models"
)

// Period source markers for the credits read model.
const (
	// PeriodSourceExternal marks a renewal boundary taken from the billing system.
	PeriodSourceExternal = "external"
	// PeriodSourceFallback marks a renewal boundary derived from the 30-day rule.
	PeriodSourceFallback = "fallback"
)

// fallbackCycle is the renewal window used when the external billing system
// has not reported period boundaries.
const fallbackCycle = 30 * 24 * time.Hour

// resetDecision is the outcome of evaluating a tenant's renewal boundary.
type resetDecision struct {
	reset        bool
	targetQuota  int64
	resetAt      time.Time
	renewsAt     time.Time
	periodSource string
}

// evaluateReset decides whether a tenant's credits are due for a cycle reset.
// The external billing period takes precedence over the 30-day fallback; a
// plan change forces a reset even mid-cycle. Calling this any number of times
// within one period is a no-op after the first reset.
func evaluateReset(tenant *models.Tenant, plan string, now time.Time) resetDecision {
	decision := resetDecision{
		targetQuota:  ResolveQuotaForPlan(plan),
		resetAt:      now,
		periodSource: PeriodSourceFallback,
	}

	switch {
	case tenant.CurrentPeriodEnd != nil:
		decision.renewsAt = tenant.CurrentPeriodEnd.UTC()
		decision.periodSource = PeriodSourceExternal
	case tenant.LastResetAt != nil:
		decision.renewsAt = tenant.LastResetAt.UTC().Add(fallbackCycle)
	default:
		decision.renewsAt = now.Add(fallbackCycle)
	}

	expired := !now.Before(decision.renewsAt)
	if expired && decision.periodSource == PeriodSourceExternal && tenant.LastResetAt != nil {
		// The external period may stay stale until the billing system reports
		// the next one. Expiry only counts if the last reset predates the
		// current external cycle, otherwise the refill would repeat every call.
		anchor := decision.renewsAt
		if tenant.CurrentPeriodStart != nil {
			anchor = tenant.CurrentPeriodStart.UTC()
		}
		if !tenant.LastResetAt.UTC().Before(anchor) {
			expired = false
		}
	}
	switch {
	case tenant.LastResetAt == nil:
		decision.reset = true
	case expired:
		decision.reset = true
	case tenant.MonthlyQuota != decision.targetQuota:
		decision.reset = true
	}

	// A reset caused by expiry of an external period anchors the cycle to the
	// period start the billing system reported.
	if decision.reset && expired && decision.periodSource == PeriodSourceExternal && tenant.CurrentPeriodStart != nil {
		decision.resetAt = tenant.CurrentPeriodStart.UTC()
	}

	return decision
}

// applyReset mutates the in-memory tenant to the post-reset state.
func applyReset(tenant *models.Tenant, decision resetDecision, now time.Time) {
	if !decision.reset {
		// Defensive sync: the stored quota always mirrors the plan table.
		tenant.MonthlyQuota = decision.targetQuota
		return
	}
	resetAt := decision.resetAt
	tenant.CreditsAvailable = decision.targetQuota
	tenant.MonthlyQuota = decision.targetQuota
	tenant.LastResetAt = &resetAt
	tenant.CreditsUpdatedAt = now
}
