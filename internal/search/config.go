// Package search implements the Search Pipeline (C7): validate, plan,
// ANN-search per tier, hydrate, prune, optionally rerank, rank, diversify,
// and asynchronously record access. Reranking is best-effort: when
// internal/degradation reports the rerank dependency unhealthy, the pipeline
// ranks with WeightsWithoutRerank rather than failing the query.
package search

import "time"

// RankWeights is the policy-weighted combination spec.md §4.6 describes
// for the final Rank step.
type RankWeights struct {
	Similarity float32
	Rerank     float32
	Recency    float32
	Popularity float32
}

// Config controls one Pipeline's tunables.
type Config struct {
	// OverFetchFactor / OverFetchMargin compute k' = max(limit *
	// OverFetchFactor, limit + OverFetchMargin) for the ANN step.
	OverFetchFactor float64
	OverFetchMargin int

	// RerankTopN bounds how many top candidates are sent to the reranker.
	RerankTopN int

	// WeightsWithoutRerank / WeightsWithRerank are applied at the Rank
	// step depending on whether reranking actually ran this query.
	WeightsWithoutRerank RankWeights
	WeightsWithRerank    RankWeights

	// ContextBoost multiplies a result's final score when its Project or
	// Session matches the query's (spec.md §4.6's context-aware variant).
	ContextBoost float32

	// DiversityEnabled/DiversityThreshold gate the optional diversity
	// pass: a candidate is suppressed if its cosine similarity to an
	// already-kept result is at or above the threshold.
	DiversityEnabled   bool
	DiversityThreshold float32

	// RecencyHalfLife controls how fast the recency term decays.
	RecencyHalfLife time.Duration

	// PopularitySaturation bounds how many accesses are needed to reach a
	// popularity term of 1.0 (log-scaled).
	PopularitySaturation float64

	// BroadenedThresholdFactor / BroadenedOverFetchFactor control the
	// single broaden-and-retry pass spec.md §4.6 describes when the first
	// attempt returns nothing.
	BroadenedThresholdFactor float32
	BroadenedOverFetchFactor float64
}

// DefaultConfig mirrors spec.md §4.6's named defaults (0.7/0.2/0.1
// similarity/recency/popularity weighting when the reranker is absent).
func DefaultConfig() Config {
	return Config{
		OverFetchFactor: 3,
		OverFetchMargin: 20,
		RerankTopN:      50,
		WeightsWithoutRerank: RankWeights{
			Similarity: 0.7,
			Recency:    0.2,
			Popularity: 0.1,
		},
		// With a reranker present, its score carries more of the ranking
		// weight; this split isn't named explicitly in spec.md, so it is
		// a documented design choice (DESIGN.md) rather than a literal
		// spec value.
		WeightsWithRerank: RankWeights{
			Similarity: 0.3,
			Rerank:     0.4,
			Recency:    0.2,
			Popularity: 0.1,
		},
		ContextBoost:             1.2,
		DiversityEnabled:         true,
		DiversityThreshold:       0.95,
		RecencyHalfLife:          72 * time.Hour,
		PopularitySaturation:     20,
		BroadenedThresholdFactor: 0.5,
		BroadenedOverFetchFactor: 2,
	}
}
