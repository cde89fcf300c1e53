package ml

import (
	"math"
	"sort"

	"QuantPipe/internal/domain/models"

	"gonum.org/v1/gonum/integrate"
	"gonum.org/v1/gonum/stat"
)

// Evaluate computes in-sample diagnostics. truth holds 1 for positive rows;
// threshold is the score cut for F1 (0.5 for probabilities, 0 for raw scores).
// Percent cuts with no rows report NaN.
func Evaluate(scores, truth []float64, threshold float64, percents []float64) models.Evaluation {
	ev := models.Evaluation{F1: f1(scores, truth, threshold), AUC: auc(scores, truth)}

	order := make([]int, len(scores))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool { return scores[order[a]] > scores[order[b]] })

	positives := 0.0
	for _, t := range truth {
		if t > 0.5 {
			positives++
		}
	}
	for _, p := range percents {
		end := int(float64(len(scores)) * p / 100)
		at := models.PrecisionRecallAt{Percent: p, Precision: math.NaN(), Recall: math.NaN()}
		if end > 0 {
			hits := 0.0
			for _, i := range order[:end] {
				if truth[i] > 0.5 {
					hits++
				}
			}
			at.Precision = hits / float64(end)
			if positives > 0 {
				at.Recall = hits / positives
			}
		}
		ev.AtPercent = append(ev.AtPercent, at)
	}
	return ev
}

func f1(scores, truth []float64, threshold float64) float64 {
	tp, fp, fn := 0.0, 0.0, 0.0
	for i, s := range scores {
		predicted, actual := s >= threshold, truth[i] > 0.5
		switch {
		case predicted && actual:
			tp++
		case predicted:
			fp++
		case actual:
			fn++
		}
	}
	if tp == 0 {
		return 0
	}
	return 2 * tp / (2*tp + fp + fn)
}

// auc integrates the ROC curve; NaN when only one class is present.
func auc(scores, truth []float64) float64 {
	n := len(scores)
	y := make([]float64, n)
	classes := make([]bool, n)
	order := make([]int, n)
	for i := range order {
		order[i] = i
	}
	sort.Slice(order, func(a, b int) bool { return scores[order[a]] < scores[order[b]] })
	pos := 0
	for k, i := range order {
		y[k] = scores[i]
		classes[k] = truth[i] > 0.5
		if classes[k] {
			pos++
		}
	}
	if pos == 0 || pos == n {
		return math.NaN()
	}
	tpr, fpr, _ := stat.ROC(nil, y, classes, nil)
	return integrate.Trapezoidal(fpr, tpr)
}
