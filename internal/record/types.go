// Package record defines the core data model shared by the store, index,
// transaction manager, promotion engine, and search pipeline: Record, its
// identifier, the memory tiers, and the query/result value objects.
package record

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// Tier is one of the three memory levels, totally ordered hot to cold.
type Tier int

const (
	Interact Tier = iota
	Insights
	Assets
)

func (t Tier) String() string {
	switch t {
	case Interact:
		return "interact"
	case Insights:
		return "insights"
	case Assets:
		return "assets"
	default:
		return "unknown"
	}
}

// ParseTier accepts the canonical lowercase names.
func ParseTier(s string) (Tier, bool) {
	switch s {
	case "interact":
		return Interact, true
	case "insights":
		return Insights, true
	case "assets":
		return Assets, true
	default:
		return 0, false
	}
}

// AllTiers lists tiers in hot-to-cold order.
func AllTiers() []Tier { return []Tier{Interact, Insights, Assets} }

// ID is a 128-bit record identifier. We reuse uuid.UUID as the concrete
// representation since it is already a random, collision-resistant 128-bit
// value with a well-understood text/binary encoding.
type ID = uuid.UUID

// NewID returns a fresh random 128-bit id.
func NewID() ID { return uuid.New() }

// MaxTextBytes is the policy limit on Record.Text size (spec §3).
const MaxTextBytes = 100_000

var (
	ErrEmptyText    = errors.New("record: text must not be empty or whitespace-only")
	ErrTextTooLarge = errors.New("record: text exceeds maximum size")
	ErrBadDimension = errors.New("record: embedding dimension mismatch")
	ErrNotUnitNorm  = errors.New("record: embedding is not unit-normalized")
)

// Record is the primary stored entity (spec §3).
type Record struct {
	ID            ID
	Text          string
	Embedding     []float32
	Tier          Tier
	Kind          string
	Tags          []string
	Project       string
	Session       string
	CreatedAt     time.Time
	LastAccessAt  time.Time
	AccessCount   uint32
	Score         float32
	// Metadata is a small free-form bag of caller-supplied key/values,
	// bounded to a few KB when persisted (SPEC_FULL §3).
	Metadata map[string]string
}

// Clone returns a deep-enough copy safe to hand to callers (shares no
// mutable slice backing arrays with the stored original).
func (r *Record) Clone() *Record {
	if r == nil {
		return nil
	}
	cp := *r
	if r.Embedding != nil {
		cp.Embedding = append([]float32(nil), r.Embedding...)
	}
	if r.Tags != nil {
		cp.Tags = append([]string(nil), r.Tags...)
	}
	if r.Metadata != nil {
		cp.Metadata = make(map[string]string, len(r.Metadata))
		for k, v := range r.Metadata {
			cp.Metadata[k] = v
		}
	}
	return &cp
}

const normEpsilon = 1e-3

// ValidateEmbedding checks invariants 1-2 from spec §3: correct dimension and
// unit norm within epsilon.
func ValidateEmbedding(v []float32, dim int) error {
	if len(v) != dim {
		return ErrBadDimension
	}
	var sumSq float64
	for _, f := range v {
		sumSq += float64(f) * float64(f)
	}
	norm := sumSq // compare squared norm to 1 within epsilon band
	if norm < (1-normEpsilon)*(1-normEpsilon) || norm > (1+normEpsilon)*(1+normEpsilon) {
		return ErrNotUnitNorm
	}
	return nil
}

// ValidateText rejects empty or whitespace-only text and oversized text.
func ValidateText(text string) error {
	trimmed := 0
	allSpace := true
	for _, r := range text {
		trimmed++
		if r != ' ' && r != '\t' && r != '\n' && r != '\r' {
			allSpace = false
		}
	}
	if trimmed == 0 || allSpace {
		return ErrEmptyText
	}
	if len(text) > MaxTextBytes {
		return ErrTextTooLarge
	}
	return nil
}

// AccessPattern holds the rolling features the Promotion Engine consumes
// (spec §3, "AccessPattern (derived, per record)").
type AccessPattern struct {
	RecordID             ID
	AccessCount          uint32
	HoursSinceLastAccess float64
	ShortWindowFrequency float64 // accesses per hour over a short recent window
	ClusterID            string  // similarity-cluster label, SPEC_FULL addition
}

// Filter selects records on project/tags/kind/age for Store.filter and the
// Search Pipeline's post-hoc hydration filter.
type Filter struct {
	Project string
	Tags    []string
	Kind    string
	MaxAge  time.Duration // zero means unbounded
}

// Match reports whether r satisfies the filter.
func (f Filter) Match(r *Record, now time.Time) bool {
	if f.Project != "" && r.Project != f.Project {
		return false
	}
	if f.Kind != "" && r.Kind != f.Kind {
		return false
	}
	if f.MaxAge > 0 && now.Sub(r.CreatedAt) > f.MaxAge {
		return false
	}
	if len(f.Tags) > 0 {
		have := make(map[string]struct{}, len(r.Tags))
		for _, t := range r.Tags {
			have[t] = struct{}{}
		}
		for _, want := range f.Tags {
			if _, ok := have[want]; !ok {
				return false
			}
		}
	}
	return true
}

// SearchQuery is the value object accepted by the Search Pipeline (spec §3).
type SearchQuery struct {
	Text           string
	Vector         []float32 // precomputed, optional
	TargetTiers    []Tier
	Limit          int
	ScoreThreshold float32
	Filter         Filter
	Project        string // context-aware boost target
	Session        string // context-aware boost target
	Rerank         bool
}

var (
	ErrEmptyQueryText = errors.New("search: query text must not be empty")
	ErrBadLimit       = errors.New("search: limit must be in [1, 1000]")
	ErrNoTiers        = errors.New("search: at least one target tier is required")
	ErrBadThreshold   = errors.New("search: score_threshold must be in [0, 1]")
)

// Validate enforces spec §3's SearchQuery invariants.
func (q SearchQuery) Validate() error {
	if q.Text == "" && len(q.Vector) == 0 {
		return ErrEmptyQueryText
	}
	if q.Limit < 1 || q.Limit > 1000 {
		return ErrBadLimit
	}
	if len(q.TargetTiers) == 0 {
		return ErrNoTiers
	}
	if q.ScoreThreshold < 0 || q.ScoreThreshold > 1 {
		return ErrBadThreshold
	}
	return nil
}

// SearchResult is a single ranked hit (spec §3).
type SearchResult struct {
	Record       *Record
	Similarity   float32
	RerankScore  *float32
	Rank         uint32
	Reason       string
	FromFallback bool // set when the embedding used to retrieve this result was a fallback vector
}
