package index

import (
	"bytes"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opencortex/memex/internal/record"
)

func TestSaveLoadRoundTrip(t *testing.T) {
	ix, err := New(smallConfig(8), record.Insights)
	require.NoError(t, err)

	rng := rand.New(rand.NewSource(21))
	ids := make([]record.ID, 15)
	vecs := make([][]float32, 15)
	for i := range ids {
		ids[i] = record.NewID()
		vecs[i] = unitRandom(rng, 8)
		require.NoError(t, ix.Add(ids[i], vecs[i]))
	}

	var buf bytes.Buffer
	require.NoError(t, ix.Save(&buf))

	loaded, err := Load(&buf, record.Insights)
	require.NoError(t, err)

	assert.Equal(t, ix.Stats().Count, loaded.Stats().Count)

	for i, id := range ids {
		results, err := loaded.Search(vecs[i], 1)
		require.NoError(t, err)
		require.Len(t, results, 1)
		assert.Equal(t, id, results[0].ID)
	}
}

func TestSaveLoadSkipsTombstones(t *testing.T) {
	ix, err := New(smallConfig(8), record.Interact)
	require.NoError(t, err)

	rng := rand.New(rand.NewSource(23))
	keep := record.NewID()
	require.NoError(t, ix.Add(keep, unitRandom(rng, 8)))
	removed := record.NewID()
	require.NoError(t, ix.Add(removed, unitRandom(rng, 8)))
	require.NoError(t, ix.Remove(removed))

	var buf bytes.Buffer
	require.NoError(t, ix.Save(&buf))

	loaded, err := Load(&buf, record.Interact)
	require.NoError(t, err)
	assert.Equal(t, 1, loaded.Stats().Count)

	_, ok := loaded.nodes[removed]
	assert.False(t, ok)
	_, ok = loaded.nodes[keep]
	assert.True(t, ok)
}

func TestLoadRejectsBadMagic(t *testing.T) {
	_, err := Load(bytes.NewReader([]byte("not a snapshot")), record.Interact)
	assert.Error(t, err)
}

func TestSaveToFileLoadFromFileRoundTrip(t *testing.T) {
	ix, err := New(smallConfig(4), record.Assets)
	require.NoError(t, err)

	rng := rand.New(rand.NewSource(29))
	id := record.NewID()
	vec := unitRandom(rng, 4)
	require.NoError(t, ix.Add(id, vec))

	path := t.TempDir() + "/snapshot.bin"
	require.NoError(t, ix.SaveToFile(path))

	loaded, err := LoadFromFile(path, record.Assets)
	require.NoError(t, err)

	results, err := loaded.Search(vec, 1)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, id, results[0].ID)
}
