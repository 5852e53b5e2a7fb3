//go:build amd64 || arm64

package index

// dotProduct computes the dot product with a 4-wide manual unroll into four
// independent accumulators on amd64/arm64. It is plain Go with no SIMD
// intrinsics or assembly, and the Go compiler does not auto-vectorize it
// into SIMD instructions. Agreement with the scalar reference
// dotProductScalarRef is pinned by TestDotProductMatchesScalarReference.
func dotProduct(a, b []float32) float32 {
	n := len(a)
	var sum0, sum1, sum2, sum3 float32

	i := 0
	for ; i+4 <= n; i += 4 {
		sum0 += a[i] * b[i]
		sum1 += a[i+1] * b[i+1]
		sum2 += a[i+2] * b[i+2]
		sum3 += a[i+3] * b[i+3]
	}
	sum := sum0 + sum1 + sum2 + sum3
	for ; i < n; i++ {
		sum += a[i] * b[i]
	}
	return sum
}
