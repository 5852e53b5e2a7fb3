package promotion

import "github.com/opencortex/memex/internal/record"

// DefaultTierRules returns the candidate-selection thresholds spec.md §4.5
// names as examples, keyed by source tier. Assets has no rule since it is
// the top of the hierarchy (nothing to promote to).
func DefaultTierRules() map[record.Tier]TierRule {
	return map[record.Tier]TierRule{
		record.Interact: {
			MinAccessCount:    3,
			MaxHoursSinceSeen: 72,
			MinScore:          0.3,
			PromoteTo:         record.Insights,
		},
		record.Insights: {
			MinAccessCount:    8,
			MaxHoursSinceSeen: 30 * 24,
			MinScore:          0.5,
			PromoteTo:         record.Assets,
		},
	}
}
