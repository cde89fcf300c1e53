package ml

import (
	"fmt"
	"math"
	"math/rand"
	"runtime"

	"golang.org/x/sync/errgroup"
)

// RandomForest bags decision trees over bootstrap resamples. Tree i is
// seeded with Seed+i so a fit is reproducible regardless of scheduling.
type RandomForest struct {
	NEstimators    int             `json:"n_estimators"`
	MaxDepth       int             `json:"max_depth"`
	MinSamplesLeaf int             `json:"min_samples_leaf"`
	MaxFeatures    int             `json:"max_features"`
	Seed           int64           `json:"seed"`
	Trees          []*DecisionTree `json:"trees"`
}

func NewRandomForest(nEstimators, maxDepth, minSamplesLeaf, maxFeatures int, seed int64) *RandomForest {
	return &RandomForest{
		NEstimators:    nEstimators,
		MaxDepth:       maxDepth,
		MinSamplesLeaf: minSamplesLeaf,
		MaxFeatures:    maxFeatures,
		Seed:           seed,
	}
}

func (f *RandomForest) Kind() string { return KindForest }

func (f *RandomForest) Fit(x [][]float64, y []float64, w []float64) error {
	if err := checkShape(x, y, w); err != nil {
		return fmt.Errorf("forest fit: %w", err)
	}
	if f.NEstimators < 1 {
		return fmt.Errorf("forest fit: n_estimators must be positive")
	}
	n := len(x)
	w = unitWeights(w, n)
	maxFeatures := f.MaxFeatures
	if maxFeatures <= 0 {
		maxFeatures = int(math.Max(1, math.Sqrt(float64(len(x[0])))))
	}

	trees := make([]*DecisionTree, f.NEstimators)
	var g errgroup.Group
	g.SetLimit(runtime.GOMAXPROCS(0))
	for i := range trees {
		seed := f.Seed + int64(i)
		g.Go(func() error {
			rng := rand.New(rand.NewSource(seed))
			bw := make([]float64, n)
			for k := 0; k < n; k++ {
				j := rng.Intn(n)
				bw[j] += w[j]
			}
			tree := NewDecisionTree(f.MaxDepth, f.MinSamplesLeaf, maxFeatures, seed)
			if err := tree.Fit(x, y, bw); err != nil {
				return fmt.Errorf("tree %d: %w", i, err)
			}
			trees[i] = tree
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return fmt.Errorf("forest fit: %w", err)
	}
	f.Trees = trees
	return nil
}

func (f *RandomForest) PredictProba(x [][]float64) ([]float64, error) {
	if len(f.Trees) == 0 {
		return nil, fmt.Errorf("forest predict: model not fitted")
	}
	out := make([]float64, len(x))
	for _, t := range f.Trees {
		for i, row := range x {
			out[i] += t.score(row)
		}
	}
	for i := range out {
		out[i] /= float64(len(f.Trees))
	}
	return out, nil
}
