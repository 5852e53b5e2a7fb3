package embedding

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingProvider struct {
	calls int
	dim   int
	fail  bool
}

func (p *countingProvider) Name() string { return "counting" }
func (p *countingProvider) Dim() int     { return p.dim }
func (p *countingProvider) Embed(_ context.Context, texts []string) ([][]float32, error) {
	p.calls++
	if p.fail {
		return nil, errors.New("provider down")
	}
	out := make([][]float32, len(texts))
	for i := range texts {
		v := make([]float32, p.dim)
		v[0] = 1
		out[i] = v
	}
	return out, nil
}

func newTestService(t *testing.T, primary Provider) *Service {
	t.Helper()
	cfg := Config{ModelID: "test-model", Dimension: 8}
	return NewService(cfg, primary, NewLocalLRU(100, 0), NewWhitespaceTokenizer(), nil)
}

func TestServiceEmbedCachesResults(t *testing.T) {
	p := &countingProvider{dim: 8}
	svc := newTestService(t, p)

	ctx := context.Background()
	v1, err := svc.Embed(ctx, "hello world")
	require.NoError(t, err)
	v2, err := svc.Embed(ctx, "hello world")
	require.NoError(t, err)

	assert.Equal(t, v1, v2)
	assert.Equal(t, 1, p.calls, "second call should be served from cache")
}

func TestServiceFallsBackWhenProviderFails(t *testing.T) {
	p := &countingProvider{dim: 8, fail: true}
	svc := newTestService(t, p)

	vecs, err := svc.EmbedBatch(context.Background(), []string{"a", "b"})
	require.NoError(t, err, "a failed primary must not fail the caller")
	require.Len(t, vecs, 2)

	stats := svc.Stats()
	assert.True(t, stats.FallbackActive)
	assert.Equal(t, "fallback", stats.ActiveProvider)
}

func TestServiceDimensionMismatchTripsFallback(t *testing.T) {
	p := &countingProvider{dim: 4} // wrong dimension vs cfg.Dimension=8
	svc := newTestService(t, p)

	vecs, err := svc.EmbedBatch(context.Background(), []string{"x"})
	require.NoError(t, err)
	require.Len(t, vecs, 1)
	assert.Len(t, vecs[0], 8, "fallback provider must still return the configured dimension")
}

func TestServiceEmbedChunksLongText(t *testing.T) {
	p := &countingProvider{dim: 8}
	cfg := Config{ModelID: "test-model", Dimension: 8, Chunking: ChunkingConfig{Enabled: true, MaxTokens: 4, OverlapTokens: 1}}
	svc := NewService(cfg, p, NewLocalLRU(100, 0), NewWhitespaceTokenizer(), nil)

	longText := "one two three four five six seven eight nine ten"
	v, err := svc.Embed(context.Background(), longText)
	require.NoError(t, err)
	assert.Len(t, v, 8)
	assert.Greater(t, p.calls, 1, "chunked text should call the provider once per chunk")
}
