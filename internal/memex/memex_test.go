package memex

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/opencortex/memex/internal/record"
)

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	cfg := Config{Dimension: 8, DataDir: t.TempDir()}
	e, err := New(cfg, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = e.Stop() })
	return e
}

func TestRememberRecallForgetRoundTrip(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	r, err := e.Remember(ctx, RememberRequest{Text: "the roadmap review moved to Thursday", Project: "planning"})
	require.NoError(t, err)
	assert.Equal(t, record.Interact, r.Tier, "an unset tier must land in the hottest tier")

	got, err := e.Get(r.Tier, r.ID)
	require.NoError(t, err)
	assert.Equal(t, r.Text, got.Text)

	results, err := e.Recall(ctx, record.SearchQuery{
		Text:        "roadmap review",
		TargetTiers: []record.Tier{record.Interact},
		Limit:       5,
	})
	require.NoError(t, err)
	require.NotEmpty(t, results)
	assert.Equal(t, r.ID, results[0].Record.ID)

	require.NoError(t, e.Forget(ctx, r.Tier, r.ID))
	_, err = e.Get(r.Tier, r.ID)
	assert.Error(t, err, "a forgotten record must no longer be gettable")
}

func TestRememberRejectsEmptyText(t *testing.T) {
	e := newTestEngine(t)
	_, err := e.Remember(context.Background(), RememberRequest{Text: "   "})
	assert.ErrorIs(t, err, record.ErrEmptyText)
}

func TestRememberDefaultsToInteractTier(t *testing.T) {
	e := newTestEngine(t)
	r, err := e.Remember(context.Background(), RememberRequest{Text: "default tier check"})
	require.NoError(t, err)
	assert.Equal(t, record.Interact, r.Tier)
}

func TestHealthReportsRegisteredCheckers(t *testing.T) {
	e := newTestEngine(t)
	detailed := e.health.GetDetailedHealth(context.Background())
	assert.Contains(t, detailed.Components, "embedding")
	assert.Contains(t, detailed.Components, "index-interact")
}

func TestSpawnAgentsProducesStableNamesForSameWorkflow(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	first := e.SpawnAgents(ctx, "wf-1")
	require.NotNil(t, first.IntentAnalyzer)

	second := e.SpawnAgents(ctx, "wf-1")
	assert.Equal(t, first.IntentAnalyzer.ID(), second.IntentAnalyzer.ID(), "the same workflow id must reuse the same agent identity across calls")
}

func TestRememberTruncatesOversizedText(t *testing.T) {
	e := newTestEngine(t)
	oversized := strings.Repeat("a ", record.MaxTextBytes) // well past the byte cap

	r, err := e.Remember(context.Background(), RememberRequest{Text: oversized})
	require.NoError(t, err, "oversized text must be truncated, not rejected")
	assert.LessOrEqual(t, len(r.Text), record.MaxTextBytes)
	assert.True(t, strings.HasSuffix(r.Text, "..."))
}

func TestRememberAndRecallTrackSessionTurns(t *testing.T) {
	cfg := Config{Dimension: 8, DataDir: t.TempDir(), SessionRedisAddr: "localhost:6379"}
	e, err := New(cfg, zap.NewNop())
	if err != nil {
		t.Skipf("skipping: redis not available: %v", err)
		return
	}
	t.Cleanup(func() { _ = e.Stop() })
	ctx := context.Background()

	_, err = e.Remember(ctx, RememberRequest{Text: "session-tracked memory", Session: "sess-1", Project: "p"})
	require.NoError(t, err)

	sess, err := e.sessionMgr.GetSession(ctx, "sess-1")
	require.NoError(t, err)
	require.Len(t, sess.History, 1)
	assert.Equal(t, "remember", sess.History[0].Kind)

	_, err = e.Recall(ctx, record.SearchQuery{
		Text:        "session-tracked",
		TargetTiers: []record.Tier{record.Interact},
		Limit:       5,
		Session:     "sess-1",
	})
	require.NoError(t, err)

	sess, err = e.sessionMgr.GetSession(ctx, "sess-1")
	require.NoError(t, err)
	require.Len(t, sess.History, 2)
	assert.Equal(t, "recall", sess.History[1].Kind)
}

func TestStatsReportsPerTierOccupancy(t *testing.T) {
	e := newTestEngine(t)
	_, err := e.Remember(context.Background(), RememberRequest{Text: "a memory for stats"})
	require.NoError(t, err)

	stats := e.Stats()
	require.Contains(t, stats.Tiers, record.Interact)
	assert.Equal(t, 1, stats.Tiers[record.Interact].Count)
}
