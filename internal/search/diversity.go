package search

// suppressNearDuplicates walks ranked results in order, keeping a result
// only if its embedding's cosine similarity to every already-kept result is
// below threshold. Results without an embedding (e.g. the text short-circuit
// path) are always kept, since there is nothing to compare.
func suppressNearDuplicates[T interface{ embeddingOf() []float32 }](items []T, threshold float32) []T {
	kept := items[:0]
	for _, it := range items {
		v := it.embeddingOf()
		if len(v) == 0 {
			kept = append(kept, it)
			continue
		}
		dup := false
		for _, k := range kept {
			kv := k.embeddingOf()
			if len(kv) == 0 {
				continue
			}
			if cosineSim(v, kv) >= threshold {
				dup = true
				break
			}
		}
		if !dup {
			kept = append(kept, it)
		}
	}
	return kept
}

func cosineSim(a, b []float32) float32 {
	if len(a) != len(b) {
		return 0
	}
	var dot, na, nb float32
	for i := range a {
		dot += a[i] * b[i]
		na += a[i] * a[i]
		nb += b[i] * b[i]
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (sqrt32(na) * sqrt32(nb))
}

func sqrt32(f float32) float32 {
	if f <= 0 {
		return 0
	}
	x := float64(f)
	for i := 0; i < 20; i++ {
		x = 0.5 * (x + float64(f)/x)
	}
	return float32(x)
}
