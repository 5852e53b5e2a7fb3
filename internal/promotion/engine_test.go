package promotion

import (
	"context"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opencortex/memex/internal/index"
	"github.com/opencortex/memex/internal/record"
	"github.com/opencortex/memex/internal/store"
	"github.com/opencortex/memex/internal/txn"
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
		x := sumSq
		for i := 0; i < 40; i++ {
			x = 0.5 * (x + sumSq/x)
		}
		norm = float32(1 / x)
	}
	for i := range v {
		v[i] *= norm
	}
	return v
}

type testHarness struct {
	stores   map[record.Tier]*store.Store
	backends map[record.Tier]*txn.Backend
	txMgr    *txn.Manager
}

func newHarness(t *testing.T) *testHarness {
	t.Helper()
	stores := make(map[record.Tier]*store.Store)
	backends := make(map[record.Tier]*txn.Backend)
	for _, tier := range record.AllTiers() {
		st, err := store.Open(t.TempDir()+"/"+tier.String()+".bin", testDim, tier, nil)
		require.NoError(t, err)
		idx, err := index.New(index.DefaultConfig(testDim), tier)
		require.NoError(t, err)
		stores[tier] = st
		backends[tier] = &txn.Backend{Store: st, Index: idx}
	}
	return &testHarness{stores: stores, backends: backends, txMgr: txn.NewManager(backends, time.Minute, nil)}
}

func (h *testHarness) insert(t *testing.T, rng *rand.Rand, tier record.Tier, accessCount uint32, lastAccess time.Time, score float32) *record.Record {
	t.Helper()
	r := &record.Record{
		ID:           record.NewID(),
		Text:         "memo",
		Embedding:    unitVec(rng),
		Tier:         tier,
		AccessCount:  accessCount,
		LastAccessAt: lastAccess,
		Score:        score,
	}
	id := h.txMgr.Begin()
	require.NoError(t, h.txMgr.Execute(id, txn.Insert(tier, r)))
	require.NoError(t, h.txMgr.Commit(id))
	return r
}

func TestPromotionMovesQualifyingRecordToNextTier(t *testing.T) {
	h := newHarness(t)
	rng := rand.New(rand.NewSource(1))
	r := h.insert(t, rng, record.Interact, 10, time.Now().Add(-time.Hour), 0.8)

	eng := NewEngine(DefaultConfig(), DefaultTierRules(), h.stores, h.txMgr, nil, nil)
	result, err := eng.RunCycle(context.Background(), CycleOptions{})
	require.NoError(t, err)
	require.Len(t, result.Promoted, 1)
	assert.Equal(t, r.ID, result.Promoted[0].Record.ID)

	_, err = h.stores[record.Interact].Get(r.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)
	moved, err := h.stores[record.Insights].Get(r.ID)
	require.NoError(t, err)
	assert.Equal(t, record.Insights, moved.Tier)
}

func TestPromotionSkipsBelowThreshold(t *testing.T) {
	h := newHarness(t)
	rng := rand.New(rand.NewSource(2))
	h.insert(t, rng, record.Interact, 1, time.Now(), 0.8) // access_count below rule minimum

	eng := NewEngine(DefaultConfig(), DefaultTierRules(), h.stores, h.txMgr, nil, nil)
	result, err := eng.RunCycle(context.Background(), CycleOptions{})
	require.NoError(t, err)
	assert.Empty(t, result.Promoted)
}

func TestDryRunReportsWithoutMutating(t *testing.T) {
	h := newHarness(t)
	rng := rand.New(rand.NewSource(3))
	r := h.insert(t, rng, record.Interact, 10, time.Now().Add(-time.Hour), 0.8)

	eng := NewEngine(DefaultConfig(), DefaultTierRules(), h.stores, h.txMgr, nil, nil)
	result, err := eng.RunCycle(context.Background(), CycleOptions{DryRun: true})
	require.NoError(t, err)
	require.Len(t, result.Promoted, 1)

	still, err := h.stores[record.Interact].Get(r.ID)
	require.NoError(t, err)
	assert.Equal(t, record.Interact, still.Tier)
}

func TestForceModeBypassesScoringForExplicitIDs(t *testing.T) {
	h := newHarness(t)
	rng := rand.New(rand.NewSource(4))
	r := h.insert(t, rng, record.Interact, 0, time.Now(), 0.0) // would never qualify naturally

	eng := NewEngine(DefaultConfig(), DefaultTierRules(), h.stores, h.txMgr, nil, nil)
	result, err := eng.RunCycle(context.Background(), CycleOptions{Force: true, ForceIDs: []record.ID{r.ID}})
	require.NoError(t, err)
	require.Len(t, result.Promoted, 1)

	moved, err := h.stores[record.Insights].Get(r.ID)
	require.NoError(t, err)
	assert.Equal(t, record.Insights, moved.Tier)
}

func TestDemotionMovesLowScoreRecordDown(t *testing.T) {
	h := newHarness(t)
	rng := rand.New(rand.NewSource(5))
	r := h.insert(t, rng, record.Insights, 20, time.Now(), 0.05)

	eng := NewEngine(DefaultConfig(), DefaultTierRules(), h.stores, h.txMgr, nil, nil)
	result, err := eng.RunCycle(context.Background(), CycleOptions{})
	require.NoError(t, err)
	require.Len(t, result.Demoted, 1)

	moved, err := h.stores[record.Interact].Get(r.ID)
	require.NoError(t, err)
	assert.Equal(t, record.Interact, moved.Tier)
}

func TestTTLEvictsStaleLowScoreRecord(t *testing.T) {
	h := newHarness(t)
	rng := rand.New(rand.NewSource(6))
	cfg := DefaultConfig()
	cfg.TTL = time.Hour
	r := h.insert(t, rng, record.Interact, 0, time.Now().Add(-2*time.Hour), 0.0)

	eng := NewEngine(cfg, DefaultTierRules(), h.stores, h.txMgr, nil, nil)
	result, err := eng.RunCycle(context.Background(), CycleOptions{})
	require.NoError(t, err)
	require.Len(t, result.Evicted, 1)

	_, err = h.stores[record.Interact].Get(r.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestAssetsTierIsTTLExempt(t *testing.T) {
	h := newHarness(t)
	rng := rand.New(rand.NewSource(7))
	cfg := DefaultConfig()
	cfg.TTL = time.Hour
	r := h.insert(t, rng, record.Assets, 0, time.Now().Add(-100*24*time.Hour), 0.0)

	eng := NewEngine(cfg, DefaultTierRules(), h.stores, h.txMgr, nil, nil)
	result, err := eng.RunCycle(context.Background(), CycleOptions{})
	require.NoError(t, err)
	assert.Empty(t, result.Evicted)

	_, err = h.stores[record.Assets].Get(r.ID)
	assert.NoError(t, err)
}

func TestPerCycleBudgetCapsPromotions(t *testing.T) {
	h := newHarness(t)
	rng := rand.New(rand.NewSource(8))
	for i := 0; i < 5; i++ {
		h.insert(t, rng, record.Interact, 10, time.Now().Add(-time.Hour), 0.8)
	}

	cfg := DefaultConfig()
	cfg.PerCycleBudget = 2
	eng := NewEngine(cfg, DefaultTierRules(), h.stores, h.txMgr, nil, nil)
	result, err := eng.RunCycle(context.Background(), CycleOptions{})
	require.NoError(t, err)
	assert.Len(t, result.Promoted, 2)
}

type fakeCluster struct{ dense map[record.ID]float64 }

func (f fakeCluster) Density(id record.ID) float64 { return f.dense[id] }

func TestClusterDensityBoostsScoreOrdering(t *testing.T) {
	h := newHarness(t)
	rng := rand.New(rand.NewSource(9))
	low := h.insert(t, rng, record.Interact, 5, time.Now().Add(-time.Hour), 0.3)
	high := h.insert(t, rng, record.Interact, 5, time.Now().Add(-time.Hour), 0.3)

	cluster := fakeCluster{dense: map[record.ID]float64{high.ID: 1.0, low.ID: 0.0}}
	cfg := DefaultConfig()
	cfg.PerCycleBudget = 1
	eng := NewEngine(cfg, DefaultTierRules(), h.stores, h.txMgr, cluster, nil)
	result, err := eng.RunCycle(context.Background(), CycleOptions{})
	require.NoError(t, err)
	require.Len(t, result.Promoted, 1)
	assert.Equal(t, high.ID, result.Promoted[0].Record.ID)
}
