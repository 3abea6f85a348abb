// Package gbdt is a histogram gradient-boosted tree classifier with a softmax
// objective.
package gbdt

import (
	"errors"
	"fmt"
	"math"
	"math/rand"
)

// Params controls training.
type Params struct {
	Estimators      int
	MaxDepth        int
	LearningRate    float64
	Subsample       float64
	ColsampleByTree float64
	Seed            int64
	Lambda          float64
	MinChildWeight  float64
	MaxBins         int
}

// DefaultParams returns the production hyperparameters.
func DefaultParams() Params {
	return Params{
		Estimators:      100,
		MaxDepth:        6,
		LearningRate:    0.1,
		Subsample:       0.8,
		ColsampleByTree: 0.8,
		Seed:            42,
		Lambda:          1,
		MinChildWeight:  1,
		MaxBins:         32,
	}
}

// Model is a trained multi-class ensemble. Rounds[r][k] is the tree of
// round r for class k.
type Model struct {
	NumClass     int       `json:"num_class"`
	NumFeatures  int       `json:"num_features"`
	LearningRate float64   `json:"learning_rate"`
	BaseScore    []float64 `json:"base_score"`
	Rounds       [][]Tree  `json:"rounds"`
}

var ErrBadInput = errors.New("gbdt: bad input")

// Train fits a model on X with class labels y in [0, numClass).
func Train(X [][]float64, y []int, numClass int, p Params) (*Model, error) {
	if len(X) == 0 || len(X) != len(y) {
		return nil, fmt.Errorf("%w: %d rows, %d labels", ErrBadInput, len(X), len(y))
	}
	if numClass < 2 {
		return nil, fmt.Errorf("%w: need at least 2 classes, got %d", ErrBadInput, numClass)
	}
	nf := len(X[0])
	for i, row := range X {
		if len(row) != nf {
			return nil, fmt.Errorf("%w: row %d has %d features, want %d", ErrBadInput, i, len(row), nf)
		}
		if y[i] < 0 || y[i] >= numClass {
			return nil, fmt.Errorf("%w: label %d out of range", ErrBadInput, y[i])
		}
	}
	p = withDefaults(p)
	if p.MaxBins > 255 {
		p.MaxBins = 255
	}

	n := len(X)
	rng := rand.New(rand.NewSource(p.Seed))

	counts := make([]float64, numClass)
	for _, c := range y {
		counts[c]++
	}
	base := make([]float64, numClass)
	for k := range base {
		base[k] = math.Log((counts[k] + 1) / float64(n+numClass))
	}

	bn := newBinner(X, nf, p.MaxBins)
	bins := make([][]uint8, n)
	for i, row := range X {
		b := make([]uint8, nf)
		for f, v := range row {
			b[f] = bn.bin(f, v)
		}
		bins[i] = b
	}

	raw := make([][]float64, n)
	for i := range raw {
		raw[i] = append([]float64(nil), base...)
	}
	prob := make([]float64, numClass)
	grad := make([][]float64, numClass)
	hess := make([][]float64, numClass)
	for k := 0; k < numClass; k++ {
		grad[k] = make([]float64, n)
		hess[k] = make([]float64, n)
	}

	m := &Model{NumClass: numClass, NumFeatures: nf, LearningRate: p.LearningRate, BaseScore: base}
	tb := &treeBuilder{bins: bins, binner: bn, params: p}
	allCols := make([]int, nf)
	for f := range allCols {
		allCols[f] = f
	}
	ncols := int(math.Ceil(p.ColsampleByTree * float64(nf)))
	if ncols < 1 {
		ncols = 1
	}

	for round := 0; round < p.Estimators; round++ {
		for i := 0; i < n; i++ {
			softmaxInto(raw[i], prob)
			for k := 0; k < numClass; k++ {
				t := 0.0
				if y[i] == k {
					t = 1
				}
				grad[k][i] = prob[k] - t
				hess[k][i] = math.Max(prob[k]*(1-prob[k]), 1e-6)
			}
		}

		rows := make([]int, 0, n)
		for i := 0; i < n; i++ {
			if p.Subsample >= 1 || rng.Float64() < p.Subsample {
				rows = append(rows, i)
			}
		}
		if len(rows) == 0 {
			rows = append(rows, rng.Intn(n))
		}

		trees := make([]Tree, numClass)
		for k := 0; k < numClass; k++ {
			cols := allCols
			if ncols < nf {
				perm := rng.Perm(nf)
				cols = perm[:ncols]
			}
			tb.grad, tb.hess, tb.cols = grad[k], hess[k], cols
			trees[k] = tb.build(rows)
			for i := 0; i < n; i++ {
				raw[i][k] += p.LearningRate * trees[k].predict(X[i])
			}
		}
		m.Rounds = append(m.Rounds, trees)
	}
	return m, nil
}

// PredictProba returns class probabilities for one feature row.
func (m *Model) PredictProba(x []float64) ([]float64, error) {
	if len(x) != m.NumFeatures {
		return nil, fmt.Errorf("%w: got %d features, want %d", ErrBadInput, len(x), m.NumFeatures)
	}
	raw := append([]float64(nil), m.BaseScore...)
	for _, trees := range m.Rounds {
		for k := range trees {
			raw[k] += m.LearningRate * trees[k].predict(x)
		}
	}
	out := make([]float64, m.NumClass)
	softmaxInto(raw, out)
	return out, nil
}

// Accuracy is the argmax hit rate of the model on X, y.
func (m *Model) Accuracy(X [][]float64, y []int) float64 {
	if len(X) == 0 {
		return 0
	}
	hits := 0
	for i, row := range X {
		p, err := m.PredictProba(row)
		if err != nil {
			continue
		}
		best := 0
		for k := range p {
			if p[k] > p[best] {
				best = k
			}
		}
		if best == y[i] {
			hits++
		}
	}
	return float64(hits) / float64(len(X))
}

func softmaxInto(raw, out []float64) {
	mx := raw[0]
	for _, v := range raw[1:] {
		if v > mx {
			mx = v
		}
	}
	var sum float64
	for k, v := range raw {
		out[k] = math.Exp(v - mx)
		sum += out[k]
	}
	for k := range out {
		out[k] /= sum
	}
}

func withDefaults(p Params) Params {
	d := DefaultParams()
	if p.Estimators <= 0 {
		p.Estimators = d.Estimators
	}
	if p.MaxDepth <= 0 {
		p.MaxDepth = d.MaxDepth
	}
	if p.LearningRate <= 0 {
		p.LearningRate = d.LearningRate
	}
	if p.Subsample <= 0 || p.Subsample > 1 {
		p.Subsample = d.Subsample
	}
	if p.ColsampleByTree <= 0 || p.ColsampleByTree > 1 {
		p.ColsampleByTree = d.ColsampleByTree
	}
	if p.Lambda <= 0 {
		p.Lambda = d.Lambda
	}
	if p.MinChildWeight <= 0 {
		p.MinChildWeight = d.MinChildWeight
	}
	if p.MaxBins < 2 {
		p.MaxBins = d.MaxBins
	}
	return p
}
