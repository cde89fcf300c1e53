package ml

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// RidgeRegression solves weighted least squares with an L2 penalty on the
// coefficients (not the intercept). Its output is a raw score.
type RidgeRegression struct {
	Alpha     float64   `json:"alpha"`
	Coef      []float64 `json:"coef"`
	Intercept float64   `json:"intercept"`
}

func NewRidgeRegression(alpha float64) *RidgeRegression {
	return &RidgeRegression{Alpha: alpha}
}

func (m *RidgeRegression) Kind() string { return KindRidge }

func (m *RidgeRegression) Fit(x [][]float64, y []float64, w []float64) error {
	if err := checkShape(x, y, w); err != nil {
		return fmt.Errorf("ridge fit: %w", err)
	}
	n, d := len(x), len(x[0])
	w = unitWeights(w, n)
	total := floats.Sum(w)
	if total <= 0 {
		return fmt.Errorf("ridge fit: all weights are zero")
	}

	xMean := make([]float64, d)
	yMean := 0.0
	for i, row := range x {
		floats.AddScaled(xMean, w[i], row)
		yMean += w[i] * y[i]
	}
	floats.Scale(1/total, xMean)
	yMean /= total

	// Rows scaled by sqrt(w) turn the weighted problem into an ordinary one.
	xs := mat.NewDense(n, d, nil)
	ys := mat.NewVecDense(n, nil)
	for i, row := range x {
		sw := math.Sqrt(w[i])
		for j, v := range row {
			xs.Set(i, j, sw*(v-xMean[j]))
		}
		ys.SetVec(i, sw*(y[i]-yMean))
	}

	var a mat.Dense
	a.Mul(xs.T(), xs)
	for j := 0; j < d; j++ {
		a.Set(j, j, a.At(j, j)+m.Alpha)
	}
	var b mat.VecDense
	b.MulVec(xs.T(), ys)

	var beta mat.VecDense
	if err := beta.SolveVec(&a, &b); err != nil {
		return fmt.Errorf("ridge solve: %w", err)
	}
	m.Coef = make([]float64, d)
	for j := range m.Coef {
		m.Coef[j] = beta.AtVec(j)
	}
	m.Intercept = yMean - floats.Dot(xMean, m.Coef)
	return nil
}

func (m *RidgeRegression) Predict(x [][]float64) ([]float64, error) {
	if m.Coef == nil {
		return nil, fmt.Errorf("ridge predict: model not fitted")
	}
	out := make([]float64, len(x))
	for i, row := range x {
		if len(row) != len(m.Coef) {
			return nil, fmt.Errorf("ridge predict: row %d has %d columns, want %d", i, len(row), len(m.Coef))
		}
		out[i] = floats.Dot(m.Coef, row) + m.Intercept
	}
	return out, nil
}
