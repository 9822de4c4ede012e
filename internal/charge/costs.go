package charge

import "strings"

// CostTable is the static featureKey -> credit cost mapping, loaded once from
// configuration and consulted on every charge.
type CostTable struct {
	costs map[string]int64
}

// NewCostTable constructs a CostTable from a cost mapping.
func NewCostTable(costs map[string]int64) *CostTable {
	normalized := make(map[string]int64, len(costs))
	for key, cost := range costs {
		key = strings.TrimSpace(key)
		if key == "" || cost < 0 {
			continue
		}
		normalized[key] = cost
	}
	return &CostTable{costs: normalized}
}

// Cost returns the configured cost for a feature, 0 when unconfigured.
func (t *CostTable) Cost(featureKey string) int64 {
	if t == nil {
		return 0
	}
	return t.costs[strings.TrimSpace(featureKey)]
}
