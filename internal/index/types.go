// Package index implements the HNSW approximate-nearest-neighbor graph
// (C4): one multi-layer proximity graph per memory tier. It is grounded on
// the teacher's internal/vectordb Config/dimension-validation idiom — the
// outbound Qdrant RPC calls themselves are replaced wholesale with the
// in-process graph algorithm spec.md's Non-goals mandate (no external
// vector database).
package index

import (
	"errors"
	"fmt"

	"github.com/opencortex/memex/internal/record"
)

// Result is one ANN hit: an id and its cosine distance to the query.
type Result struct {
	ID       record.ID
	Distance float32
}

// Config controls one tier's HNSW graph (spec.md §4.3's recognized
// options).
type Config struct {
	Dimension      int
	M              int // max_connections per node per layer
	EfConstruction int // beam size during insertion
	EfSearch       int // beam size during search
	MaxLayers      int
	MaxElements    int
	UseParallel    bool
}

// DefaultConfig mirrors spec.md §4.3's quality-acceptance parameters
// (M=16, ef_construction=200, ef_search=64), which the spec itself uses as
// the recall@10 ≥ 0.95 benchmark point.
func DefaultConfig(dim int) Config {
	return Config{
		Dimension:      dim,
		M:              16,
		EfConstruction: 200,
		EfSearch:       64,
		MaxLayers:      16,
		MaxElements:    1_000_000,
	}
}

func (c Config) validate() error {
	if c.Dimension <= 0 {
		return errors.New("index: dimension must be positive")
	}
	if c.M <= 0 {
		return errors.New("index: M must be positive")
	}
	if c.EfConstruction <= 0 {
		return errors.New("index: ef_construction must be positive")
	}
	if c.EfSearch <= 0 {
		return errors.New("index: ef_search must be positive")
	}
	if c.MaxLayers <= 0 {
		return errors.New("index: max_layers must be positive")
	}
	return nil
}

// DimensionMismatchError mirrors the teacher's vectordb.DimensionMismatchError
// shape, retargeted from a Qdrant collection to this tier's HNSW graph.
type DimensionMismatchError struct {
	ExpectedDimension int
	ReceivedDimension int
}

func (e DimensionMismatchError) Error() string {
	return fmt.Sprintf("index: dimension mismatch: expected %d, got %d", e.ExpectedDimension, e.ReceivedDimension)
}

// Error kinds from spec.md §4.3 Failures.
var (
	ErrCapacityExceeded = errors.New("index: capacity exceeded")
	ErrNotReady         = errors.New("index: not ready")
	ErrDuplicateID      = errors.New("index: duplicate id")
	ErrNotFound         = errors.New("index: id not found")
)

// Stats reports graph occupancy for health/metrics (C12).
type Stats struct {
	Count        int
	Tombstoned   int
	Layers       int
	EntryPointID string
}
