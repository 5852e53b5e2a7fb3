package index

import "math"

// cosineDistance computes 1 - dot(a, b) on L2-normalized vectors, per
// spec.md §4.3. dotProduct itself is split into a SIMD-eligible and a
// portable scalar implementation by build tag (distance_simd.go /
// distance_scalar.go); both MUST agree with dotProductScalarRef below to
// within 1e-6 relative error, which distance_test.go checks directly.
func cosineDistance(a, b []float32) float32 {
	return 1 - dotProduct(a, b)
}

// dotProductScalarRef is the unconditionally-compiled reference
// implementation used only to verify dotProduct's bit-equivalence
// requirement in tests; production code always goes through dotProduct.
func dotProductScalarRef(a, b []float32) float32 {
	var sum float32
	for i := range a {
		sum += a[i] * b[i]
	}
	return sum
}

// l2Norm returns the Euclidean norm of v.
func l2Norm(v []float32) float32 {
	var sumSq float64
	for _, f := range v {
		sumSq += float64(f) * float64(f)
	}
	return float32(math.Sqrt(sumSq))
}

// isUnitNorm reports whether v's norm is within eps of 1, per spec.md §4.3's
// "on each add, ‖vector‖₂ ≈ 1" invariant.
func isUnitNorm(v []float32, eps float32) bool {
	n := l2Norm(v)
	return n >= 1-eps && n <= 1+eps
}
