package models

// Prediction is one scored security on a prediction date.
type Prediction struct {
	Security string  `json:"security"`
	Gain     float64 `json:"gain"`
	Score    float64 `json:"score"`
}

// PredictionBlock holds all predictions for one date, score descending.
type PredictionBlock struct {
	Date  string       `json:"date"`
	Model string       `json:"model,omitempty"`
	Rows  []Prediction `json:"rows"`
}

// AllZeroGain reports whether the block belongs to the live region,
// where realized gains are not yet known.
func (b *PredictionBlock) AllZeroGain() bool {
	for _, r := range b.Rows {
		if r.Gain != 0 {
			return false
		}
	}
	return true
}
