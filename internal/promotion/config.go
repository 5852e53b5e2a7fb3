// Package promotion implements the Promotion Engine (C6): a periodic
// background loop that scores candidate records for tier transitions and
// issues the move through the Transaction Manager. It is grounded on the
// teacher's internal/degradation.Manager ticker+stop-channel background
// loop for its own periodic cycle, and on internal/budget.Manager's
// weighted usage-percent/pressure-level scoring idiom for its candidate
// scoring function.
package promotion

import (
	"time"

	"github.com/opencortex/memex/internal/record"
)

// TierRule holds the per-source-tier candidate-selection thresholds from
// spec.md §4.5 (the numbers named there are used as defaults: 3 accesses
// Interact→Insights, 72h recency cap for Interact, 30d for Insights).
type TierRule struct {
	MinAccessCount    uint32
	MaxHoursSinceSeen float64
	MinScore          float32
	PromoteTo         record.Tier
}

// Config controls one promotion cycle.
type Config struct {
	Interval time.Duration

	// PerCycleBudget caps how many promotions one cycle may issue,
	// regardless of how many candidates qualify. Demotions are not capped.
	PerCycleBudget int

	// Weights for the promotion-score linear combination:
	// score = WAccess*log(1+access_count) + WRecency*recency_factor +
	//         WCluster*cluster_density + WImportance*record.Score
	WAccess     float64
	WRecency    float64
	WCluster    float64
	WImportance float64

	// DemotionScoreThreshold: a record whose maintained Score falls below
	// this is a demotion candidate (the "mirror policy" spec.md mentions).
	DemotionScoreThreshold float32

	// TTL eviction (spec.md §4.5): Interact/Insights records past this age
	// with Score below MinimumKeepScore are deleted outright. Assets is
	// exempt regardless of configuration.
	TTL              time.Duration
	MinimumKeepScore float32

	// MaxRetryBackoff caps the exponential backoff applied to a
	// repeatedly-failing per-record transition.
	MaxRetryBackoff time.Duration
}

// DefaultConfig returns the parameters spec.md §4.5 names as examples.
func DefaultConfig() Config {
	return Config{
		Interval:               5 * time.Minute,
		PerCycleBudget:         200,
		WAccess:                0.4,
		WRecency:               0.3,
		WCluster:               0.1,
		WImportance:            0.2,
		DemotionScoreThreshold: 0.2,
		TTL:                    30 * 24 * time.Hour,
		MinimumKeepScore:       0.1,
		MaxRetryBackoff:        10 * time.Minute,
	}
}
