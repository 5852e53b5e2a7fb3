package txn

import (
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

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

func newTestManager(t *testing.T) (*Manager, map[record.Tier]*Backend) {
	t.Helper()
	backends := make(map[record.Tier]*Backend)
	for _, tier := range record.AllTiers() {
		st, err := store.Open(t.TempDir()+"/"+tier.String()+".bin", testDim, tier, nil)
		require.NoError(t, err)
		idx, err := index.New(index.DefaultConfig(testDim), tier)
		require.NoError(t, err)
		backends[tier] = &Backend{Store: st, Index: idx}
	}
	return NewManager(backends, time.Minute, nil), backends
}

func newRecord(rng *rand.Rand, tier record.Tier) *record.Record {
	return &record.Record{
		ID:        record.NewID(),
		Text:      "hello",
		Embedding: unitVec(rng),
		Tier:      tier,
	}
}

func TestInsertCommitPersists(t *testing.T) {
	mgr, backends := newTestManager(t)
	rng := rand.New(rand.NewSource(1))
	r := newRecord(rng, record.Interact)

	id := mgr.Begin()
	require.NoError(t, mgr.Execute(id, Insert(record.Interact, r)))
	require.NoError(t, mgr.Commit(id))

	got, err := backends[record.Interact].Store.Get(r.ID)
	require.NoError(t, err)
	assert.Equal(t, r.Text, got.Text)

	results, err := backends[record.Interact].Index.Search(r.Embedding, 1)
	require.NoError(t, err)
	require.Len(t, results, 1)
}

func TestRollbackUndoesInsert(t *testing.T) {
	mgr, backends := newTestManager(t)
	rng := rand.New(rand.NewSource(2))
	r := newRecord(rng, record.Interact)

	id := mgr.Begin()
	require.NoError(t, mgr.Execute(id, Insert(record.Interact, r)))
	require.NoError(t, mgr.Rollback(id))

	_, err := backends[record.Interact].Store.Get(r.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestConflictingInsertRollsBackPriorOp(t *testing.T) {
	mgr, backends := newTestManager(t)
	rng := rand.New(rand.NewSource(3))
	a := newRecord(rng, record.Interact)
	b := &record.Record{ID: a.ID, Text: "conflict", Embedding: unitVec(rng), Tier: record.Interact}

	id := mgr.Begin()
	require.NoError(t, mgr.Execute(id, Insert(record.Interact, a)))
	err := mgr.Execute(id, Insert(record.Interact, b))
	assert.ErrorIs(t, err, ErrConflictingOp)

	require.NoError(t, mgr.Rollback(id))
	_, getErr := backends[record.Interact].Store.Get(a.ID)
	assert.ErrorIs(t, getErr, store.ErrNotFound, "neither A nor B should be visible after rollback")
}

func TestExecuteOnInactiveTxFails(t *testing.T) {
	mgr, _ := newTestManager(t)
	rng := rand.New(rand.NewSource(4))
	r := newRecord(rng, record.Interact)

	id := mgr.Begin()
	require.NoError(t, mgr.Commit(id))

	err := mgr.Execute(id, Insert(record.Interact, r))
	assert.ErrorIs(t, err, ErrTransactionInactive)
}

func TestPromoteMovesRecordBetweenTiers(t *testing.T) {
	mgr, backends := newTestManager(t)
	rng := rand.New(rand.NewSource(5))
	r := newRecord(rng, record.Interact)

	id := mgr.Begin()
	require.NoError(t, mgr.Execute(id, Insert(record.Interact, r)))
	require.NoError(t, mgr.Commit(id))

	id2 := mgr.Begin()
	require.NoError(t, mgr.Execute(id2, Promote(r.ID, record.Interact, record.Insights)))
	require.NoError(t, mgr.Commit(id2))

	_, err := backends[record.Interact].Store.Get(r.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)

	moved, err := backends[record.Insights].Store.Get(r.ID)
	require.NoError(t, err)
	assert.Equal(t, record.Insights, moved.Tier)

	results, err := backends[record.Insights].Index.Search(r.Embedding, 1)
	require.NoError(t, err)
	require.Len(t, results, 1)
}

func TestPromoteRollbackRestoresOriginalTier(t *testing.T) {
	mgr, backends := newTestManager(t)
	rng := rand.New(rand.NewSource(6))
	r := newRecord(rng, record.Interact)

	id := mgr.Begin()
	require.NoError(t, mgr.Execute(id, Insert(record.Interact, r)))
	require.NoError(t, mgr.Commit(id))

	id2 := mgr.Begin()
	require.NoError(t, mgr.Execute(id2, Promote(r.ID, record.Interact, record.Insights)))
	require.NoError(t, mgr.Rollback(id2))

	got, err := backends[record.Interact].Store.Get(r.ID)
	require.NoError(t, err)
	assert.Equal(t, record.Interact, got.Tier)

	_, err = backends[record.Insights].Store.Get(r.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestBatchInsertPartialFailureUndoesAppliedRecords(t *testing.T) {
	mgr, backends := newTestManager(t)
	rng := rand.New(rand.NewSource(7))
	a := newRecord(rng, record.Interact)
	dup := &record.Record{ID: a.ID, Text: "dup", Embedding: unitVec(rng), Tier: record.Interact}
	c := newRecord(rng, record.Interact)

	id := mgr.Begin()
	require.NoError(t, mgr.Execute(id, Insert(record.Interact, a)))
	err := mgr.Execute(id, BatchInsert(record.Interact, []*record.Record{dup, c}))
	assert.ErrorIs(t, err, ErrConflictingOp)

	// c must not have been left inserted even though it came after the
	// conflicting record in the same batch.
	_, getErr := backends[record.Interact].Store.Get(c.ID)
	assert.ErrorIs(t, getErr, store.ErrNotFound)

	require.NoError(t, mgr.Rollback(id))
	_, getErr = backends[record.Interact].Store.Get(a.ID)
	assert.ErrorIs(t, getErr, store.ErrNotFound)
}

func TestRunCommitsOnSuccess(t *testing.T) {
	mgr, backends := newTestManager(t)
	rng := rand.New(rand.NewSource(8))
	r := newRecord(rng, record.Interact)

	err := mgr.Run(func(h *Handle) error {
		return h.Execute(Insert(record.Interact, r))
	})
	require.NoError(t, err)

	_, getErr := backends[record.Interact].Store.Get(r.ID)
	assert.NoError(t, getErr)
}

func TestRunRollsBackOnError(t *testing.T) {
	mgr, backends := newTestManager(t)
	rng := rand.New(rand.NewSource(9))
	r := newRecord(rng, record.Interact)

	sentinel := assert.AnError
	err := mgr.Run(func(h *Handle) error {
		if execErr := h.Execute(Insert(record.Interact, r)); execErr != nil {
			return execErr
		}
		return sentinel
	})
	assert.ErrorIs(t, err, sentinel)

	_, getErr := backends[record.Interact].Store.Get(r.ID)
	assert.ErrorIs(t, getErr, store.ErrNotFound)
}

func TestJanitorForceRollsBackStaleTransaction(t *testing.T) {
	backends := make(map[record.Tier]*Backend)
	for _, tier := range record.AllTiers() {
		st, err := store.Open(t.TempDir()+"/"+tier.String()+".bin", testDim, tier, nil)
		require.NoError(t, err)
		idx, err := index.New(index.DefaultConfig(testDim), tier)
		require.NoError(t, err)
		backends[tier] = &Backend{Store: st, Index: idx}
	}
	mgr := NewManager(backends, 10*time.Millisecond, nil)
	mgr.janitorInterval = 5 * time.Millisecond
	mgr.Start()
	defer mgr.Stop()

	rng := rand.New(rand.NewSource(10))
	r := newRecord(rng, record.Interact)

	id := mgr.Begin()
	require.NoError(t, mgr.Execute(id, Insert(record.Interact, r)))

	assert.Eventually(t, func() bool {
		_, err := backends[record.Interact].Store.Get(r.ID)
		return err != nil
	}, time.Second, 10*time.Millisecond, "janitor should have rolled back the stale tx")
}
