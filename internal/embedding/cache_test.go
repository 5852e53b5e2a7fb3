package embedding

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalLRUEvictsByEntryCount(t *testing.T) {
	l := NewLocalLRU(2, 0)
	ctx := context.Background()

	l.Set(ctx, "a", []float32{1}, time.Minute)
	l.Set(ctx, "b", []float32{2}, time.Minute)
	l.Set(ctx, "c", []float32{3}, time.Minute)

	_, ok := l.Get(ctx, "a")
	assert.False(t, ok, "oldest entry should have been evicted")
	_, ok = l.Get(ctx, "c")
	assert.True(t, ok)
}

func TestLocalLRUEvictsByByteBudget(t *testing.T) {
	l := NewLocalLRU(100, 16) // 16 bytes = 4 float32s
	ctx := context.Background()

	l.Set(ctx, "a", make([]float32, 2), time.Minute) // 8 bytes
	l.Set(ctx, "b", make([]float32, 2), time.Minute) // 8 bytes, total 16: fits
	_, ok := l.Get(ctx, "a")
	require.True(t, ok)

	l.Set(ctx, "c", make([]float32, 2), time.Minute) // pushes over budget
	stats := l.Stats()
	assert.LessOrEqual(t, stats.Bytes, int64(16))
}

func TestLocalLRUExpiresEntries(t *testing.T) {
	l := NewLocalLRU(10, 0)
	ctx := context.Background()
	l.Set(ctx, "a", []float32{1}, -time.Second)
	_, ok := l.Get(ctx, "a")
	assert.False(t, ok)
}

func TestMakeKeyDeterministic(t *testing.T) {
	k1 := MakeKey("model-a", "hello world")
	k2 := MakeKey("model-a", "hello world")
	k3 := MakeKey("model-b", "hello world")
	assert.Equal(t, k1, k2)
	assert.NotEqual(t, k1, k3)
}

func TestTieredCachePromotesL2Hits(t *testing.T) {
	l1 := NewLocalLRU(10, 0)
	l2 := &fakeCache{data: map[string][]float32{"k": {1, 2, 3}}}
	tc := &TieredCache{l1: l1, l2: l2}

	ctx := context.Background()
	v, ok := tc.Get(ctx, "k")
	require.True(t, ok)
	assert.Equal(t, []float32{1, 2, 3}, v)

	// promoted into L1 now
	v, ok = l1.Get(ctx, "k")
	require.True(t, ok)
	assert.Equal(t, []float32{1, 2, 3}, v)
}

// fakeCache lets TestTieredCachePromotesL2Hits exercise the promotion path
// without dialing a real Redis.
type fakeCache struct {
	data map[string][]float32
}

func (f *fakeCache) Get(_ context.Context, key string) ([]float32, bool) {
	v, ok := f.data[key]
	return v, ok
}
func (f *fakeCache) Set(_ context.Context, key string, v []float32, _ time.Duration) {
	f.data[key] = v
}
func (f *fakeCache) Stats() Stats { return Stats{} }
