package features

import (
	"sort"

	"QuantPipe/internal/domain/models"
)

// HoleRatios returns, for every trading day from the security's first
// present date on, the fraction of the trailing window trading days (fewer
// at the start) on which the security had no data. present must be ascending.
func HoleRatios(tradingDays, present []string, window int) []models.SeriesPoint {
	if len(present) == 0 || window <= 0 {
		return nil
	}
	have := make(map[string]struct{}, len(present))
	for _, d := range present {
		have[d] = struct{}{}
	}
	start := sort.SearchStrings(tradingDays, present[0])

	ring := make([]bool, 0, window)
	holes, head := 0, 0
	out := make([]models.SeriesPoint, 0, len(tradingDays)-start)
	for _, day := range tradingDays[start:] {
		_, ok := have[day]
		if len(ring) < window {
			ring = append(ring, ok)
		} else {
			if !ring[head] {
				holes--
			}
			ring[head] = ok
			head = (head + 1) % window
		}
		if !ok {
			holes++
		}
		out = append(out, models.SeriesPoint{Date: day, Value: float64(holes) / float64(len(ring))})
	}
	return out
}
