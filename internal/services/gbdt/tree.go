package gbdt

import "sort"

// Node is one tree node. Internal nodes route x[Feature] <= Threshold to Left.
type Node struct {
	Feature   int     `json:"f"`
	Threshold float64 `json:"t"`
	Left      int     `json:"l"`
	Right     int     `json:"r"`
	Leaf      bool    `json:"leaf,omitempty"`
	Value     float64 `json:"v"`
}

// Tree is a regression tree stored as a flat node slice rooted at index 0.
type Tree struct {
	Nodes []Node `json:"nodes"`
}

func (t *Tree) predict(x []float64) float64 {
	i := 0
	for {
		n := &t.Nodes[i]
		if n.Leaf {
			return n.Value
		}
		if x[n.Feature] <= n.Threshold {
			i = n.Left
		} else {
			i = n.Right
		}
	}
}

// binner maps raw feature values onto at most maxBins histogram bins.
type binner struct {
	thresholds [][]float64 // per feature, ascending
}

func newBinner(X [][]float64, numFeatures, maxBins int) *binner {
	b := &binner{thresholds: make([][]float64, numFeatures)}
	vals := make([]float64, len(X))
	for f := 0; f < numFeatures; f++ {
		for i, row := range X {
			vals[i] = row[f]
		}
		sort.Float64s(vals)
		uniq := vals[:0:0]
		for i, v := range vals {
			if i == 0 || v != vals[i-1] {
				uniq = append(uniq, v)
			}
		}
		var th []float64
		if len(uniq) <= maxBins {
			for i := 1; i < len(uniq); i++ {
				th = append(th, (uniq[i-1]+uniq[i])/2)
			}
		} else {
			for j := 1; j < maxBins; j++ {
				idx := j * len(uniq) / maxBins
				t := (uniq[idx-1] + uniq[idx]) / 2
				if len(th) == 0 || t > th[len(th)-1] {
					th = append(th, t)
				}
			}
		}
		b.thresholds[f] = th
	}
	return b
}

func (b *binner) bin(f int, v float64) uint8 {
	return uint8(sort.SearchFloat64s(b.thresholds[f], v))
}

func (b *binner) numBins(f int) int { return len(b.thresholds[f]) + 1 }

// treeBuilder grows one tree on gradient statistics.
type treeBuilder struct {
	bins   [][]uint8 // row-major binned features
	binner *binner
	grad   []float64
	hess   []float64
	cols   []int
	params Params
	nodes  []Node
}

func (tb *treeBuilder) build(rows []int) Tree {
	tb.nodes = tb.nodes[:0]
	tb.grow(rows, 0)
	return Tree{Nodes: append([]Node(nil), tb.nodes...)}
}

func (tb *treeBuilder) grow(rows []int, depth int) int {
	var G, H float64
	for _, r := range rows {
		G += tb.grad[r]
		H += tb.hess[r]
	}
	idx := len(tb.nodes)
	tb.nodes = append(tb.nodes, Node{Leaf: true, Value: -G / (H + tb.params.Lambda)})
	if depth >= tb.params.MaxDepth || len(rows) < 2 || H < 2*tb.params.MinChildWeight {
		return idx
	}

	lambda := tb.params.Lambda
	parent := G * G / (H + lambda)
	bestGain := 1e-12
	bestFeature, bestBin := -1, 0

	for _, f := range tb.cols {
		nb := tb.binner.numBins(f)
		if nb < 2 {
			continue
		}
		hg := make([]float64, nb)
		hh := make([]float64, nb)
		for _, r := range rows {
			b := tb.bins[r][f]
			hg[b] += tb.grad[r]
			hh[b] += tb.hess[r]
		}
		var GL, HL float64
		for b := 0; b < nb-1; b++ {
			GL += hg[b]
			HL += hh[b]
			GR, HR := G-GL, H-HL
			if HL < tb.params.MinChildWeight || HR < tb.params.MinChildWeight {
				continue
			}
			gain := GL*GL/(HL+lambda) + GR*GR/(HR+lambda) - parent
			if gain > bestGain {
				bestGain, bestFeature, bestBin = gain, f, b
			}
		}
	}
	if bestFeature < 0 {
		return idx
	}

	left := make([]int, 0, len(rows))
	right := make([]int, 0, len(rows))
	for _, r := range rows {
		if int(tb.bins[r][bestFeature]) <= bestBin {
			left = append(left, r)
		} else {
			right = append(right, r)
		}
	}
	l := tb.grow(left, depth+1)
	rt := tb.grow(right, depth+1)
	tb.nodes[idx] = Node{
		Feature:   bestFeature,
		Threshold: tb.binner.thresholds[bestFeature][bestBin],
		Left:      l,
		Right:     rt,
	}
	return idx
}
