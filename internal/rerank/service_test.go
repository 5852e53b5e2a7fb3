package rerank

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingProvider struct {
	calls  int
	fail   bool
	scores []float32
}

func (p *countingProvider) Name() string { return "counting" }
func (p *countingProvider) Score(_ context.Context, _ string, documents []string) ([]float32, error) {
	p.calls++
	if p.fail {
		return nil, errors.New("provider down")
	}
	if p.scores != nil {
		return p.scores, nil
	}
	out := make([]float32, len(documents))
	for i := range documents {
		out[i] = float32(i)
	}
	return out, nil
}

func newTestService(t *testing.T, p Provider) *Service {
	t.Helper()
	cfg := Config{ModelID: "test-reranker", BatchSize: 2}
	return NewService(cfg, p, nil)
}

func TestServiceScorePreservesOrder(t *testing.T) {
	p := &countingProvider{}
	svc := newTestService(t, p)

	scores, err := svc.Score(context.Background(), "q", []string{"a", "b", "c"})
	require.NoError(t, err)
	require.Len(t, scores, 3)
	assert.Greater(t, p.calls, 1, "batch size 2 over 3 docs should call the provider more than once")
}

func TestServiceEmptyDocumentsReturnsNil(t *testing.T) {
	p := &countingProvider{}
	svc := newTestService(t, p)

	scores, err := svc.Score(context.Background(), "q", nil)
	require.NoError(t, err)
	assert.Nil(t, scores)
	assert.Equal(t, 0, p.calls)
}

func TestServiceBypassesOnRepeatedFailure(t *testing.T) {
	p := &countingProvider{fail: true}
	cfg := Config{ModelID: "test-reranker", BatchSize: 4, FailureThreshold: 2}
	svc := NewService(cfg, p, nil)

	_, err := svc.Score(context.Background(), "q", []string{"a"})
	assert.Error(t, err)
	_, err = svc.Score(context.Background(), "q", []string{"a"})
	assert.Error(t, err)

	// Breaker should now be open: further calls fail fast without reaching
	// the provider, and always with ErrUnavailable so the Search Pipeline
	// knows to bypass reranking rather than treat it as a hard error.
	callsBefore := p.calls
	_, err = svc.Score(context.Background(), "q", []string{"a"})
	assert.ErrorIs(t, err, ErrUnavailable)
	assert.Equal(t, callsBefore, p.calls, "open breaker must not call the provider")
}
