package embedding

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFallbackProviderIsDeterministic(t *testing.T) {
	p := NewFallbackProvider(64)
	ctx := context.Background()

	v1, err := p.Embed(ctx, []string{"remember this fact"})
	require.NoError(t, err)
	v2, err := p.Embed(ctx, []string{"remember this fact"})
	require.NoError(t, err)

	assert.Equal(t, v1, v2, "same text must hash to the same vector")
}

func TestFallbackProviderDiffersByText(t *testing.T) {
	p := NewFallbackProvider(64)
	ctx := context.Background()

	va, err := p.Embed(ctx, []string{"alpha"})
	require.NoError(t, err)
	vb, err := p.Embed(ctx, []string{"beta"})
	require.NoError(t, err)

	assert.NotEqual(t, va[0], vb[0])
}

func TestFallbackProviderProducesUnitNormVectors(t *testing.T) {
	p := NewFallbackProvider(128)
	vecs, err := p.Embed(context.Background(), []string{"a longer piece of text to embed"})
	require.NoError(t, err)
	require.Len(t, vecs, 1)
	require.Len(t, vecs[0], 128)

	var sumSq float64
	for _, f := range vecs[0] {
		sumSq += float64(f) * float64(f)
	}
	norm := math.Sqrt(sumSq)
	assert.InDelta(t, 1.0, norm, 1e-3)
}

func TestNormalizeHandlesZeroVector(t *testing.T) {
	zero := make([]float32, 8)
	out := normalize(zero)
	assert.Equal(t, zero, out)
}
