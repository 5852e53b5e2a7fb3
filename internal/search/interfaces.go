package search

import (
	"context"

	"github.com/opencortex/memex/internal/record"
)

// Embedder computes a query embedding (C1). internal/embedding.Service
// satisfies this.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	Dim() int
}

// Reranker scores (query, document) pairs (C8). Step 6 is skipped
// entirely when nil, which per spec.md §4.7 must never degrade precision
// relative to running it — the pipeline just ranks with
// Config.WeightsWithoutRerank (similarity, recency, popularity).
type Reranker interface {
	Score(ctx context.Context, queryText string, documents []string) ([]float32, error)
}

// fallbackAwareEmbedder is an optional extension an Embedder may implement
// to report that its most recent Embed call used the deterministic
// fallback path (spec.md §4.1), so the Search Pipeline can flag results
// with status.fallback per spec.md §9.
type fallbackAwareEmbedder interface {
	FallbackActive() bool
}

// TextSearcher is the optional short-circuit collaborator spec.md §4.6
// step 2 allows: a pure text/filter query against the Record Store that
// bypasses embedding and ANN search entirely for simple queries.
type TextSearcher interface {
	SearchText(ctx context.Context, text string, filter record.Filter, tiers []record.Tier, limit int) ([]*record.Record, error)
}
