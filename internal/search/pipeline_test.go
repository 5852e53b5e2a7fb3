package search

import (
	"context"
	"errors"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/opencortex/memex/internal/index"
	"github.com/opencortex/memex/internal/record"
	"github.com/opencortex/memex/internal/store"
)

const testDim = 8

func unitVec(rng *rand.Rand) []float32 {
	v := make([]float32, testDim)
	var sumSq float64
	for i := range v {
		v[i] = rng.Float32()*2 - 1
		sumSq += float64(v[i]) * float64(v[i])
	}
	norm := float32(1)
	if sumSq > 0 {
		norm = float32(1 / sqrtApprox(sumSq))
	}
	for i := range v {
		v[i] *= norm
	}
	return v
}

func sqrtApprox(f float64) float64 {
	x := f
	for i := 0; i < 40; i++ {
		x = 0.5 * (x + f/x)
	}
	return x
}

type harness struct {
	t        *testing.T
	backends map[record.Tier]*TierBackend
	rng      *rand.Rand
}

func newHarness(t *testing.T) *harness {
	backends := make(map[record.Tier]*TierBackend)
	for _, tier := range record.AllTiers() {
		st, err := store.Open(t.TempDir()+"/store.db", testDim, tier, nil)
		require.NoError(t, err)
		ix, err := index.New(index.DefaultConfig(testDim), tier)
		require.NoError(t, err)
		backends[tier] = &TierBackend{Store: st, Index: ix}
	}
	return &harness{t: t, backends: backends, rng: rand.New(rand.NewSource(42))}
}

func (h *harness) insert(tier record.Tier, project, session string, access uint32, score float32) *record.Record {
	vec := unitVec(h.rng)
	r := &record.Record{
		ID:           record.NewID(),
		Text:         "hello world",
		Embedding:    vec,
		Tier:         tier,
		Project:      project,
		Session:      session,
		CreatedAt:    time.Now().Add(-time.Hour),
		LastAccessAt: time.Now().Add(-time.Minute),
		AccessCount:  access,
		Score:        score,
	}
	b := h.backends[tier]
	require.NoError(h.t, b.Store.Put(r))
	require.NoError(h.t, b.Index.Add(r.ID, vec))
	return r
}

type fakeEmbedder struct {
	vec      []float32
	fallback bool
	err      error
}

func (f *fakeEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.vec, nil
}
func (f *fakeEmbedder) Dim() int             { return len(f.vec) }
func (f *fakeEmbedder) FallbackActive() bool { return f.fallback }

type fakeReranker struct {
	scores []float32
	err    error
}

func (f *fakeReranker) Score(ctx context.Context, queryText string, documents []string) ([]float32, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.scores, nil
}

type fakeTextSearcher struct {
	recs []*record.Record
	err  error
}

func (f *fakeTextSearcher) SearchText(ctx context.Context, text string, filter record.Filter, tiers []record.Tier, limit int) ([]*record.Record, error) {
	return f.recs, f.err
}

func baseQuery(vec []float32) record.SearchQuery {
	return record.SearchQuery{
		Text:           "hello",
		Vector:         vec,
		TargetTiers:    record.AllTiers(),
		Limit:          5,
		ScoreThreshold: 0,
	}
}

func TestSearchHappyPathReturnsClosest(t *testing.T) {
	h := newHarness(t)
	target := h.insert(record.Interact, "", "", 1, 0.5)
	for i := 0; i < 5; i++ {
		h.insert(record.Insights, "", "", 1, 0.5)
	}

	p := New(DefaultConfig(), h.backends, nil, nil, nil, zap.NewNop())
	results, err := p.Search(context.Background(), baseQuery(target.Embedding))
	require.NoError(t, err)
	require.NotEmpty(t, results)
	assert.Equal(t, target.ID, results[0].Record.ID)
}

func TestSearchValidationFailsOnBadLimit(t *testing.T) {
	h := newHarness(t)
	p := New(DefaultConfig(), h.backends, nil, nil, nil, nil)
	q := baseQuery([]float32{1})
	q.Limit = 0
	_, err := p.Search(context.Background(), q)
	assert.ErrorIs(t, err, record.ErrBadLimit)
}

func TestSearchUsesEmbedderWhenNoVectorProvided(t *testing.T) {
	h := newHarness(t)
	target := h.insert(record.Interact, "", "", 1, 0.5)

	embedder := &fakeEmbedder{vec: target.Embedding}
	p := New(DefaultConfig(), h.backends, embedder, nil, nil, nil)
	q := baseQuery(nil)
	results, err := p.Search(context.Background(), q)
	require.NoError(t, err)
	require.NotEmpty(t, results)
	assert.Equal(t, target.ID, results[0].Record.ID)
}

func TestSearchFlagsFallbackEmbedding(t *testing.T) {
	h := newHarness(t)
	target := h.insert(record.Interact, "", "", 1, 0.5)

	embedder := &fakeEmbedder{vec: target.Embedding, fallback: true}
	p := New(DefaultConfig(), h.backends, embedder, nil, nil, nil)
	results, err := p.Search(context.Background(), baseQuery(nil))
	require.NoError(t, err)
	require.NotEmpty(t, results)
	assert.True(t, results[0].FromFallback)
}

func TestSearchShortCircuitsToTextSearcherForSimpleQuery(t *testing.T) {
	h := newHarness(t)
	r := h.insert(record.Interact, "", "", 1, 0.5)
	texter := &fakeTextSearcher{recs: []*record.Record{r}}

	p := New(DefaultConfig(), h.backends, nil, nil, texter, nil)
	q := record.SearchQuery{Text: "hello", TargetTiers: record.AllTiers(), Limit: 5}
	results, err := p.Search(context.Background(), q)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, r.ID, results[0].Record.ID)
}

func TestSearchAppliesContextBoost(t *testing.T) {
	h := newHarness(t)
	matching := h.insert(record.Interact, "proj-a", "", 1, 0.5)
	// other reuses matching's vector, so only the project boost separates them
	other := *matching
	other.ID = record.NewID()
	other.Project = "proj-b"
	b := h.backends[record.Interact]
	require.NoError(t, b.Store.Put(&other))
	require.NoError(t, b.Index.Add(other.ID, other.Embedding))

	p := New(DefaultConfig(), h.backends, nil, nil, nil, nil)
	q := baseQuery(matching.Embedding)
	q.Project = "proj-a"
	results, err := p.Search(context.Background(), q)
	require.NoError(t, err)
	require.NotEmpty(t, results)
	assert.Equal(t, matching.ID, results[0].Record.ID)
}

func TestSearchRerankChangesWeighting(t *testing.T) {
	h := newHarness(t)
	recs := make([]*record.Record, 0, 3)
	for i := 0; i < 3; i++ {
		recs = append(recs, h.insert(record.Interact, "", "", 1, 0.5))
	}

	reranker := &fakeReranker{scores: []float32{0.1, 0.1, 0.99}}
	p := New(DefaultConfig(), h.backends, nil, reranker, nil, nil)
	q := baseQuery(recs[0].Embedding)
	q.Rerank = true
	q.Limit = 1
	results, err := p.Search(context.Background(), q)
	require.NoError(t, err)
	require.NotEmpty(t, results)
	assert.NotNil(t, results[0].RerankScore)
}

func TestSearchBroadenAndRetryOnEmptyFirstPass(t *testing.T) {
	h := newHarness(t)
	target := h.insert(record.Assets, "", "", 1, 0.5)

	p := New(DefaultConfig(), h.backends, nil, nil, nil, nil)
	q := baseQuery(target.Embedding)
	q.TargetTiers = []record.Tier{record.Interact}
	q.ScoreThreshold = 0.999999

	results, err := p.Search(context.Background(), q)
	require.NoError(t, err)
	require.NotEmpty(t, results, "broadened retry should find the record in another tier")
	assert.Equal(t, target.ID, results[0].Record.ID)
}

func TestSearchReturnsEmptyWithoutErrorWhenNothingMatches(t *testing.T) {
	h := newHarness(t)
	p := New(DefaultConfig(), h.backends, nil, nil, nil, nil)
	q := baseQuery(unitVec(rand.New(rand.NewSource(99))))
	results, err := p.Search(context.Background(), q)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestSearchEmbedderErrorPropagates(t *testing.T) {
	h := newHarness(t)
	embedder := &fakeEmbedder{err: errors.New("boom")}
	p := New(DefaultConfig(), h.backends, embedder, nil, nil, nil)
	_, err := p.Search(context.Background(), baseQuery(nil))
	assert.Error(t, err)
}

func TestSearchAccessRecordingDoesNotBlockResponse(t *testing.T) {
	h := newHarness(t)
	target := h.insert(record.Interact, "", "", 1, 0.5)

	p := New(DefaultConfig(), h.backends, nil, nil, nil, nil)
	start := time.Now()
	results, err := p.Search(context.Background(), baseQuery(target.Embedding))
	require.NoError(t, err)
	require.NotEmpty(t, results)
	assert.Less(t, time.Since(start), time.Second)
}

func TestDiversitySuppressesNearDuplicates(t *testing.T) {
	rng := rand.New(rand.NewSource(5))
	v := unitVec(rng)
	items := []scored{
		{item: hydrated{record: &record.Record{ID: record.NewID(), Embedding: v}}, score: 1.0},
		{item: hydrated{record: &record.Record{ID: record.NewID(), Embedding: v}}, score: 0.9},
	}
	kept := suppressNearDuplicates(items, 0.95)
	assert.Len(t, kept, 1)
}
