package predictor

import (
	"sort"

	"SpinCast/internal/domain/roulette"
)

// TopK returns the k most probable outcomes, highest first. Equal
// probabilities are ordered by outcome ascending.
func TopK(probs []float64, k int) []int {
	idx := make([]int, len(probs))
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool {
		pa, pb := probs[idx[a]], probs[idx[b]]
		if pa != pb {
			return pa > pb
		}
		return idx[a] < idx[b]
	})
	if k > len(idx) {
		k = len(idx)
	}
	return idx[:k:k]
}

// normalize scales v in place to sum to one. An all-zero vector becomes uniform.
func normalize(v []float64) []float64 {
	var sum float64
	for i, x := range v {
		if x < 0 {
			v[i] = 0
			continue
		}
		sum += x
	}
	if sum <= 0 {
		for i := range v {
			v[i] = 1 / float64(len(v))
		}
		return v
	}
	for i := range v {
		v[i] /= sum
	}
	return v
}

func topMass(probs []float64, k int) float64 {
	var s float64
	for _, n := range TopK(probs, k) {
		s += probs[n]
	}
	return s
}

// modelConfidence applies to model and ensemble outputs.
func modelConfidence(probs []float64, k int) float64 {
	c := topMass(probs, k) * 1.2
	switch {
	case c < 0.3:
		return 0.3
	case c > 0.9:
		return 0.9
	}
	return c
}

// fallbackConfidence applies to every fallback tier.
func fallbackConfidence(probs []float64, k int) float64 {
	c := topMass(probs, k) * 0.8
	if c > 0.25 {
		return 0.25
	}
	return c
}

func blend(a []float64, wa float64, b []float64, wb float64) []float64 {
	out := make([]float64, roulette.NumOutcomes)
	for i := range out {
		out[i] = wa*a[i] + wb*b[i]
	}
	return normalize(out)
}
