package models

import (
	"fmt"
	"sort"
	"strings"
)

// Skip reasons shared by the stages.
const (
	SkipFeatureFile  = "feature_file"
	SkipIndex        = "index"
	SkipMinDate      = "min_date"
	SkipMaxDate      = "max_date"
	SkipNegPos       = "neg_pos"
	SkipWindow       = "window"
	SkipMinPerc      = "min_perc"
	Skip1Perc        = "1_perc"
	Skip99Perc       = "99_perc"
	SkipLabelFile    = "label_file"
	SkipWarmup       = "warmup"
	SkipLive         = "live"
	SkipInsufficient = "insufficient"
)

// SkipStats counts skip reasons for one stage. It is not safe for concurrent use.
type SkipStats map[string]int

func NewSkipStats(keys ...string) SkipStats {
	s := make(SkipStats, len(keys))
	for _, k := range keys {
		s[k] = 0
	}
	return s
}

func (s SkipStats) Inc(reason string) { s[reason]++ }

func (s SkipStats) Add(reason string, n int) { s[reason] += n }

// Merge adds every counter of o into s.
func (s SkipStats) Merge(o SkipStats) {
	for k, v := range o {
		s[k] += v
	}
}

// Total sums all counters.
func (s SkipStats) Total() int {
	n := 0
	for _, v := range s {
		n += v
	}
	return n
}

// String renders {'a': 1, 'b': 2} with sorted keys.
func (s SkipStats) String() string {
	keys := make([]string, 0, len(s))
	for k := range s {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = fmt.Sprintf("'%s': %d", k, s[k])
	}
	return "{" + strings.Join(parts, ", ") + "}"
}
