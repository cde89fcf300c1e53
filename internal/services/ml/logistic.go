package ml

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// LogisticRegression is an L2-regularized binary classifier fit by batch
// gradient descent on standardized features.
type LogisticRegression struct {
	C            float64   `json:"c"`
	MaxIter      int       `json:"max_iter"`
	LearningRate float64   `json:"learning_rate"`
	Coef         []float64 `json:"coef"`
	Intercept    float64   `json:"intercept"`
	Center       []float64 `json:"center"`
	Scale        []float64 `json:"scale"`
}

func NewLogisticRegression(c float64, maxIter int, lr float64) *LogisticRegression {
	return &LogisticRegression{C: c, MaxIter: maxIter, LearningRate: lr}
}

func (m *LogisticRegression) Kind() string { return KindLogistic }

func (m *LogisticRegression) Fit(x [][]float64, y []float64, w []float64) error {
	if err := checkShape(x, y, w); err != nil {
		return fmt.Errorf("logistic fit: %w", err)
	}
	n, d := len(x), len(x[0])
	w = unitWeights(w, n)
	total := floats.Sum(w)
	if total <= 0 {
		return fmt.Errorf("logistic fit: all weights are zero")
	}

	m.Center, m.Scale = standardization(x)
	z := m.standardize(x)

	m.Coef = make([]float64, d)
	m.Intercept = 0
	grad := make([]float64, d)
	lambda := 0.0
	if m.C > 0 {
		lambda = 1 / (m.C * total)
	}
	for it := 0; it < m.MaxIter; it++ {
		for j := range grad {
			grad[j] = 0
		}
		gb := 0.0
		for i, row := range z {
			if w[i] == 0 {
				continue
			}
			r := w[i] * (sigmoid(floats.Dot(m.Coef, row)+m.Intercept) - y[i])
			floats.AddScaled(grad, r, row)
			gb += r
		}
		floats.Scale(1/total, grad)
		floats.AddScaled(grad, lambda, m.Coef)
		floats.AddScaled(m.Coef, -m.LearningRate, grad)
		m.Intercept -= m.LearningRate * gb / total
	}
	return nil
}

func (m *LogisticRegression) PredictProba(x [][]float64) ([]float64, error) {
	if m.Coef == nil {
		return nil, fmt.Errorf("logistic predict: model not fitted")
	}
	out := make([]float64, len(x))
	for i, row := range m.standardize(x) {
		if len(row) != len(m.Coef) {
			return nil, fmt.Errorf("logistic predict: row %d has %d columns, want %d", i, len(row), len(m.Coef))
		}
		out[i] = sigmoid(floats.Dot(m.Coef, row) + m.Intercept)
	}
	return out, nil
}

func (m *LogisticRegression) standardize(x [][]float64) [][]float64 {
	out := make([][]float64, len(x))
	for i, row := range x {
		z := make([]float64, len(row))
		for j, v := range row {
			if j < len(m.Center) {
				v = (v - m.Center[j]) / m.Scale[j]
			}
			z[j] = v
		}
		out[i] = z
	}
	return out
}

// standardization returns per-column mean and std (std 0 maps to 1).
func standardization(x [][]float64) ([]float64, []float64) {
	d := len(x[0])
	center := make([]float64, d)
	scale := make([]float64, d)
	col := make([]float64, len(x))
	for j := 0; j < d; j++ {
		for i, row := range x {
			col[i] = row[j]
		}
		mean, std := stat.MeanStdDev(col, nil)
		if std == 0 || math.IsNaN(std) {
			std = 1
		}
		center[j], scale[j] = mean, std
	}
	return center, scale
}

func sigmoid(v float64) float64 {
	return 1 / (1 + math.Exp(-v))
}

func unitWeights(w []float64, n int) []float64 {
	if w != nil {
		return w
	}
	out := make([]float64, n)
	for i := range out {
		out[i] = 1
	}
	return out
}

func checkShape(x [][]float64, y []float64, w []float64) error {
	if len(x) == 0 {
		return fmt.Errorf("empty matrix")
	}
	if len(y) != len(x) {
		return fmt.Errorf("%d rows but %d labels", len(x), len(y))
	}
	if w != nil && len(w) != len(x) {
		return fmt.Errorf("%d rows but %d weights", len(x), len(w))
	}
	d := len(x[0])
	for i, row := range x {
		if len(row) != d {
			return fmt.Errorf("row %d has %d columns, want %d", i, len(row), d)
		}
	}
	return nil
}
