package credits

import "strings"

// DefaultPlan is the tier unrecognized plans normalize to.
const DefaultPlan = "starter"

// planQuotas maps plan tiers to their monthly credit grant.
var planQuotas = map[string]int64{
	"starter":      300,
	"pro":          2000,
	"premium_lite": 1000,
	"business":     5000,
}

// NormalizePlan canonicalizes a plan tier, falling back to the default tier
// for unknown values.
func NormalizePlan(plan string) string {
	normalized := strings.ToLower(strings.TrimSpace(plan))
	normalized = strings.ReplaceAll(normalized, "-", "_")
	if _, ok := planQuotas[normalized]; !ok {
		return DefaultPlan
	}
	return normalized
}

// ResolveQuotaForPlan returns the monthly credit grant for a plan tier.
func ResolveQuotaForPlan(plan string) int64 {
	return planQuotas[NormalizePlan(plan)]
}
