package promotion

import (
	"math"

	"github.com/opencortex/memex/internal/record"
)

// Candidate is a record under consideration for promotion, demotion, or
// TTL eviction this cycle.
type Candidate struct {
	Record      *record.Record
	SourceTier  record.Tier
	Score       float64
	Action      Action
	ClusterDens float64
}

// Action names what a cycle decided to do with a Candidate.
type Action int

const (
	ActionNone Action = iota
	ActionPromote
	ActionDemote
	ActionEvict
)

// ClusterDensity is an optional collaborator that scores how densely
// populated the neighborhood around a record's vector is, in [0,1]. When
// nil, the cluster-density term of the promotion score is always zero
// (spec.md §4.5 calls the clustering boost "optional").
type ClusterDensity interface {
	Density(id record.ID) float64
}

// recencyFactor maps hoursSinceLastAccess to a (0,1] decaying weight: 1.0
// at zero hours, halving every `halfLifeHours`.
func recencyFactor(hoursSinceLastAccess, halfLifeHours float64) float64 {
	if halfLifeHours <= 0 {
		return 0
	}
	return math.Exp(-math.Ln2 * hoursSinceLastAccess / halfLifeHours)
}

// promotionScore computes spec.md §4.5's "weighted sum of
// (log(access_count), recency_factor, cluster_density, score)". The access
// term is log(1+access_count), so a never-accessed record contributes 0.
func promotionScore(cfg Config, r *record.Record, hoursSinceLastAccess, halfLifeHours, clusterDensity float64) float64 {
	accessTerm := math.Log1p(float64(r.AccessCount))
	recencyTerm := recencyFactor(hoursSinceLastAccess, halfLifeHours)
	return cfg.WAccess*accessTerm +
		cfg.WRecency*recencyTerm +
		cfg.WCluster*clusterDensity +
		cfg.WImportance*float64(r.Score)
}
