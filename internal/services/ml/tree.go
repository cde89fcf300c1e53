package ml

import (
	"fmt"
	"math/rand"
	"sort"
)

type treeNode struct {
	Feature   int     `json:"f"`
	Threshold float64 `json:"t"`
	Left      int     `json:"l"`
	Right     int     `json:"r"`
	Value     float64 `json:"v"`
}

func (n treeNode) leaf() bool { return n.Feature < 0 }

// DecisionTree is a weighted CART classifier splitting on Gini impurity.
// Leaf values are the weighted positive-class fraction.
type DecisionTree struct {
	MaxDepth       int        `json:"max_depth"`
	MinSamplesLeaf int        `json:"min_samples_leaf"`
	MaxFeatures    int        `json:"max_features"`
	Seed           int64      `json:"seed"`
	Nodes          []treeNode `json:"nodes"`

	rng *rand.Rand
	x   [][]float64
	y   []float64
	w   []float64
}

func NewDecisionTree(maxDepth, minSamplesLeaf, maxFeatures int, seed int64) *DecisionTree {
	if minSamplesLeaf < 1 {
		minSamplesLeaf = 1
	}
	return &DecisionTree{MaxDepth: maxDepth, MinSamplesLeaf: minSamplesLeaf, MaxFeatures: maxFeatures, Seed: seed}
}

func (t *DecisionTree) Kind() string { return KindTree }

func (t *DecisionTree) Fit(x [][]float64, y []float64, w []float64) error {
	if err := checkShape(x, y, w); err != nil {
		return fmt.Errorf("tree fit: %w", err)
	}
	t.rng = rand.New(rand.NewSource(t.Seed))
	t.x, t.y, t.w = x, y, unitWeights(w, len(x))
	defer func() { t.x, t.y, t.w, t.rng = nil, nil, nil, nil }()

	idx := make([]int, 0, len(x))
	for i := range x {
		if t.w[i] > 0 {
			idx = append(idx, i)
		}
	}
	if len(idx) == 0 {
		return fmt.Errorf("tree fit: all weights are zero")
	}
	t.Nodes = t.Nodes[:0]
	t.grow(idx, 0)
	return nil
}

func (t *DecisionTree) PredictProba(x [][]float64) ([]float64, error) {
	if len(t.Nodes) == 0 {
		return nil, fmt.Errorf("tree predict: model not fitted")
	}
	out := make([]float64, len(x))
	for i, row := range x {
		out[i] = t.score(row)
	}
	return out, nil
}

func (t *DecisionTree) score(row []float64) float64 {
	n := t.Nodes[0]
	for !n.leaf() {
		if row[n.Feature] <= n.Threshold {
			n = t.Nodes[n.Left]
		} else {
			n = t.Nodes[n.Right]
		}
	}
	return n.Value
}

// grow appends the subtree for idx and returns its node index.
func (t *DecisionTree) grow(idx []int, depth int) int {
	pos, total := 0.0, 0.0
	for _, i := range idx {
		total += t.w[i]
		pos += t.w[i] * t.y[i]
	}
	at := len(t.Nodes)
	t.Nodes = append(t.Nodes, treeNode{Feature: -1, Value: pos / total})

	if (t.MaxDepth > 0 && depth >= t.MaxDepth) || len(idx) < 2*t.MinSamplesLeaf || pos == 0 || pos == total {
		return at
	}
	feature, threshold, ok := t.bestSplit(idx, pos, total)
	if !ok {
		return at
	}
	var left, right []int
	for _, i := range idx {
		if t.x[i][feature] <= threshold {
			left = append(left, i)
		} else {
			right = append(right, i)
		}
	}
	l := t.grow(left, depth+1)
	r := t.grow(right, depth+1)
	t.Nodes[at] = treeNode{Feature: feature, Threshold: threshold, Left: l, Right: r, Value: pos / total}
	return at
}

func (t *DecisionTree) bestSplit(idx []int, pos, total float64) (int, float64, bool) {
	best := gini(pos, total) * total
	bestFeature, bestThreshold, found := -1, 0.0, false

	sorted := make([]int, len(idx))
	for _, f := range t.candidateFeatures() {
		copy(sorted, idx)
		sort.SliceStable(sorted, func(a, b int) bool { return t.x[sorted[a]][f] < t.x[sorted[b]][f] })

		lp, lt := 0.0, 0.0
		for k := 0; k < len(sorted)-1; k++ {
			i := sorted[k]
			lp += t.w[i] * t.y[i]
			lt += t.w[i]
			cur, next := t.x[i][f], t.x[sorted[k+1]][f]
			if cur == next || k+1 < t.MinSamplesLeaf || len(sorted)-k-1 < t.MinSamplesLeaf {
				continue
			}
			rt := total - lt
			if lt <= 0 || rt <= 0 {
				continue
			}
			impurity := gini(lp, lt)*lt + gini(pos-lp, rt)*rt
			if impurity < best-1e-12 {
				best = impurity
				bestFeature, bestThreshold, found = f, (cur+next)/2, true
			}
		}
	}
	return bestFeature, bestThreshold, found
}

func (t *DecisionTree) candidateFeatures() []int {
	d := len(t.x[0])
	if t.MaxFeatures <= 0 || t.MaxFeatures >= d {
		all := make([]int, d)
		for i := range all {
			all[i] = i
		}
		return all
	}
	perm := t.rng.Perm(d)[:t.MaxFeatures]
	sort.Ints(perm)
	return perm
}

func gini(pos, total float64) float64 {
	if total <= 0 {
		return 0
	}
	p := pos / total
	return 2 * p * (1 - p)
}
