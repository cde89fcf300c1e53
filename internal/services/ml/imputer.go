package ml

import (
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/stat"
)

const (
	ImputeZero   = "zero"
	ImputeMean   = "mean"
	ImputeMedian = "median"
)

// ColumnImputer fills NaN per column with a statistic learned in Fit.
// Columns that are entirely NaN on the training slice fill with 0.
type ColumnImputer struct {
	Kind   string    `json:"strategy"`
	Values []float64 `json:"values"`
}

// NewImputer validates the strategy name.
func NewImputer(strategy string) (*ColumnImputer, error) {
	switch strategy {
	case ImputeZero, ImputeMean, ImputeMedian:
		return &ColumnImputer{Kind: strategy}, nil
	default:
		return nil, fmt.Errorf("imputer strategy %q: unsupported", strategy)
	}
}

func (m *ColumnImputer) Strategy() string { return m.Kind }

func (m *ColumnImputer) Fit(x [][]float64) error {
	if len(x) == 0 {
		return fmt.Errorf("imputer fit: empty matrix")
	}
	cols := len(x[0])
	m.Values = make([]float64, cols)
	if m.Kind == ImputeZero {
		return nil
	}
	col := make([]float64, 0, len(x))
	for j := 0; j < cols; j++ {
		col = col[:0]
		for _, row := range x {
			if !math.IsNaN(row[j]) {
				col = append(col, row[j])
			}
		}
		if len(col) == 0 {
			continue
		}
		switch m.Kind {
		case ImputeMean:
			m.Values[j] = stat.Mean(col, nil)
		case ImputeMedian:
			m.Values[j] = median(col)
		}
	}
	return nil
}

// Transform returns a filled copy; x is not modified.
func (m *ColumnImputer) Transform(x [][]float64) [][]float64 {
	out := make([][]float64, len(x))
	for i, row := range x {
		filled := make([]float64, len(row))
		for j, v := range row {
			if math.IsNaN(v) && j < len(m.Values) {
				v = m.Values[j]
			}
			filled[j] = v
		}
		out[i] = filled
	}
	return out
}

// median averages the two middle values for even lengths; col is reordered.
func median(col []float64) float64 {
	sort.Float64s(col)
	n := len(col)
	if n%2 == 1 {
		return col[n/2]
	}
	return (col[n/2-1] + col[n/2]) / 2
}
