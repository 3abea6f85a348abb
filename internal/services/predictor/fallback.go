package predictor

import (
	"sort"

	"SpinCast/internal/domain/roulette"
)

const (
	recencyWindow = 20
	recencyTop    = 6
)

// FrequencyInverse weights each outcome by how rarely it appears in history.
func FrequencyInverse(history []int) []float64 {
	out := make([]float64, roulette.NumOutcomes)
	if len(history) == 0 {
		return Basic()
	}
	var counts [roulette.NumOutcomes]int
	for _, n := range history {
		if n >= 0 && n < roulette.NumOutcomes {
			counts[n]++
		}
	}
	total := float64(len(history))
	for n := range out {
		w := (total - float64(counts[n])) / total
		if w < 0.01 {
			w = 0.01
		}
		out[n] = w
	}
	return normalize(out)
}

// Recency favours the most frequent outcomes of the last 20 spins. The top
// six share half the mass by rank weights 6..1, the rest share the other half.
func Recency(history []int) []float64 {
	if len(history) == 0 {
		return Basic()
	}
	recent := history
	if len(recent) > recencyWindow {
		recent = recent[:recencyWindow]
	}
	var counts [roulette.NumOutcomes]int
	seen := make([]int, 0, len(recent))
	for _, n := range recent {
		if n < 0 || n >= roulette.NumOutcomes {
			continue
		}
		if counts[n] == 0 {
			seen = append(seen, n)
		}
		counts[n]++
	}
	sort.Slice(seen, func(a, b int) bool {
		if counts[seen[a]] != counts[seen[b]] {
			return counts[seen[a]] > counts[seen[b]]
		}
		return seen[a] < seen[b]
	})
	top := seen
	if len(top) > recencyTop {
		top = top[:recencyTop]
	}

	out := make([]float64, roulette.NumOutcomes)
	var rankSum float64
	for i := range top {
		rankSum += float64(recencyTop - i)
	}
	inTop := make(map[int]bool, len(top))
	for i, n := range top {
		out[n] = 0.5 * float64(recencyTop-i) / rankSum
		inTop[n] = true
	}
	rest := roulette.NumOutcomes - len(top)
	for n := range out {
		if !inTop[n] {
			out[n] = 0.5 / float64(rest)
		}
	}
	return normalize(out)
}

// Basic is the fixed last-resort distribution.
func Basic() []float64 {
	out := make([]float64, roulette.NumOutcomes)
	rest := 0.4 / float64(roulette.NumOutcomes-len(roulette.BasicOutcomes))
	for n := range out {
		out[n] = rest
	}
	for _, n := range roulette.BasicOutcomes {
		out[n] = 0.1
	}
	return out
}
