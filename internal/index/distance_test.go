package index

import (
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDotProductMatchesScalarReference(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	for _, dim := range []int{1, 3, 7, 8, 16, 1024} {
		a := randomVec(rng, dim)
		b := randomVec(rng, dim)

		got := dotProduct(a, b)
		want := dotProductScalarRef(a, b)

		if want == 0 {
			assert.InDelta(t, want, got, 1e-6)
			continue
		}
		relErr := math.Abs(float64(got-want) / float64(want))
		assert.Less(t, relErr, 1e-6, "dim=%d", dim)
	}
}

func TestCosineDistanceOfIdenticalVectorsIsZero(t *testing.T) {
	v := []float32{0.6, 0.8}
	assert.InDelta(t, 0, cosineDistance(v, v), 1e-6)
}

func randomVec(rng *rand.Rand, dim int) []float32 {
	v := make([]float32, dim)
	for i := range v {
		v[i] = rng.Float32()*2 - 1
	}
	return v
}
