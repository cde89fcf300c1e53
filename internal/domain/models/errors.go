package models

import (
	"errors"
	"fmt"
)

// ErrFatal marks precondition violations that must abort a run.
var ErrFatal = errors.New("fatal precondition violation")

var (
	ErrUnsortedSeries   = fmt.Errorf("%w: series dates not strictly ascending", ErrFatal)
	ErrAlignment        = fmt.Errorf("%w: row alignment mismatch", ErrFatal)
	ErrMembershipOrder  = fmt.Errorf("%w: membership intervals overlap or unsorted", ErrFatal)
	ErrPredictionGap    = fmt.Errorf("%w: no eligible model after predictions started", ErrFatal)
	ErrAmbiguousFeature = fmt.Errorf("%w: feature is neither dated nor undated", ErrFatal)
	ErrUnsortedCalendar = fmt.Errorf("%w: calendar dates not strictly ascending", ErrFatal)
)

var (
	ErrSeriesNotFound   = errors.New("series not found")
	ErrModelNotFound    = errors.New("model not found")
	ErrUnknownModelKind = errors.New("unknown model kind")

	ErrExperimentNotFound = errors.New("experiment not found")
	ErrResultsNotFound    = errors.New("experiment has no results")
	ErrDateNotFound       = errors.New("no predictions for date")
)

// IsFatal reports whether err carries ErrFatal.
func IsFatal(err error) bool {
	return errors.Is(err, ErrFatal)
}
