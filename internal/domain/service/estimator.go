package service

// Model is a fitted estimator that can be persisted by kind.
type Model interface {
	Kind() string
}

// Estimator fits on a dense matrix. Weights may be nil.
type Estimator interface {
	Model
	Fit(x [][]float64, y []float64, w []float64) error
}

// ProbabilisticClassifier scores rows by positive-class probability.
type ProbabilisticClassifier interface {
	Model
	PredictProba(x [][]float64) ([]float64, error)
}

// ScoringModel scores rows with a raw regression-style output.
type ScoringModel interface {
	Model
	Predict(x [][]float64) ([]float64, error)
}

// Imputer replaces NaN entries with values learned on the training slice.
type Imputer interface {
	Fit(x [][]float64) error
	Transform(x [][]float64) [][]float64
	Strategy() string
}
