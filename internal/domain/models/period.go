package models

import (
	"fmt"
	"strconv"
	"strings"
)

// Grid is the granularity of the walk-forward as-of schedule.
type Grid string

const (
	GridMonthly  Grid = "monthly"
	GridCalendar Grid = "calendar"
)

// Key maps a row date to its period key on the grid.
func (g Grid) Key(date string) string {
	if g == GridMonthly && len(date) > 7 {
		return date[:7]
	}
	return date
}

// UnboundedWindow marks a train window reaching back to the first row.
const UnboundedWindow = -1

// ModelKey identifies one persisted (model, imputer) pair.
type ModelKey struct {
	Period      string `json:"period"`
	TrainWindow int    `json:"train_window"`
}

// String renders the key as <period>-<window> with dashes removed from the
// period, e.g. 20200701-6.
func (k ModelKey) String() string {
	return fmt.Sprintf("%s-%d", strings.ReplaceAll(k.Period, "-", ""), k.TrainWindow)
}

// ParseModelKey reverses ModelKey.String.
func ParseModelKey(s string) (ModelKey, error) {
	i := strings.Index(s, "-")
	if i < 0 {
		return ModelKey{}, fmt.Errorf("parse model key %q: missing window", s)
	}
	compact, window := s[:i], s[i+1:]
	w, err := strconv.Atoi(window)
	if err != nil {
		return ModelKey{}, fmt.Errorf("parse model key %q: %w", s, err)
	}
	var period string
	switch len(compact) {
	case 6:
		period = compact[:4] + "-" + compact[4:]
	case 8:
		period = compact[:4] + "-" + compact[4:6] + "-" + compact[6:]
	default:
		return ModelKey{}, fmt.Errorf("parse model key %q: bad period", s)
	}
	return ModelKey{Period: period, TrainWindow: w}, nil
}

// TrainState is the outcome of one walk-forward period.
type TrainState string

const (
	StateTrained      TrainState = "trained"
	StateInsufficient TrainState = "insufficient"
	StateSkipped      TrainState = "skipped"
)

// Evaluation is the in-sample diagnostic of a freshly trained model.
type Evaluation struct {
	F1        float64             `json:"f1"`
	AUC       float64             `json:"auc"`
	AtPercent []PrecisionRecallAt `json:"at_percent"`
}

type PrecisionRecallAt struct {
	Percent   float64 `json:"percent"`
	Precision float64 `json:"precision"`
	Recall    float64 `json:"recall"`
}

// TrainReport summarizes one period.
type TrainReport struct {
	Key        ModelKey    `json:"key"`
	State      TrainState  `json:"state"`
	Selected   int         `json:"selected"`
	Sampled    int         `json:"sampled"`
	Evaluation *Evaluation `json:"evaluation,omitempty"`
}
