package repository

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"QuantPipe/internal/domain/models"
	"QuantPipe/pkg/util"
)

// RangeTableHeader is the first line of a feature-range table.
const RangeTableHeader = "feature\\stats\tcoverage\t1perc\t99perc"

// ReadFeatureList reads one feature name per line, skipping '#' comments.
func ReadFeatureList(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("read feature list: %w", err)
	}
	defer f.Close()

	var out []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		out = append(out, line)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read feature list %s: %w", path, err)
	}
	return out, nil
}

// ExpandFeatureGroups concatenates the feature lists of the named groups
// found in dir, preserving order.
func ExpandFeatureGroups(dir string, groups []string) ([]string, error) {
	var out []string
	for _, g := range groups {
		feats, err := ReadFeatureList(filepath.Join(dir, g))
		if err != nil {
			return nil, err
		}
		out = append(out, feats...)
	}
	return out, nil
}

func WriteFeatureList(path string, features []string) error {
	return writeFileAtomic(path, func(w io.Writer) error {
		_, err := io.WriteString(w, strings.Join(features, "\n")+"\n")
		return err
	})
}

// ReadRangeTable parses a feature-range table.
func ReadRangeTable(path string) ([]models.FeatureStats, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("read range table: %w", err)
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	if !sc.Scan() || sc.Text() != RangeTableHeader {
		return nil, fmt.Errorf("range table %s: bad header", path)
	}
	var out []models.FeatureStats
	line := 1
	for sc.Scan() {
		line++
		parts := strings.Split(sc.Text(), "\t")
		if len(parts) != 4 {
			return nil, fmt.Errorf("range table %s line %d: want 4 fields, got %d", path, line, len(parts))
		}
		var nums [3]float64
		for i, raw := range parts[1:] {
			v, err := strconv.ParseFloat(strings.TrimSuffix(raw, "%"), 64)
			if err != nil {
				return nil, fmt.Errorf("range table %s line %d: %w", path, line, err)
			}
			nums[i] = v
		}
		out = append(out, models.FeatureStats{Feature: parts[0], Coverage: nums[0], P1: nums[1], P99: nums[2]})
	}
	return out, sc.Err()
}

func WriteRangeTable(path string, stats []models.FeatureStats) error {
	return writeFileAtomic(path, func(w io.Writer) error {
		bw := bufio.NewWriter(w)
		fmt.Fprintln(bw, RangeTableHeader)
		for _, s := range stats {
			fmt.Fprintf(bw, "%s\t%.2f%%\t%.6f\t%.6f\n", s.Feature, s.Coverage, s.P1, s.P99)
		}
		return bw.Flush()
	})
}

// ReadMembership parses `security<TAB>start,end start,end ...` lines.
// Intervals must be non-empty, sorted and disjoint, and each security
// appears on one line.
func ReadMembership(path string) (models.Membership, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("read membership: %w", err)
	}
	defer f.Close()
	return ParseMembership(f)
}

func ParseMembership(r io.Reader) (models.Membership, error) {
	m := make(models.Membership)
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		if sc.Text() == "" {
			continue
		}
		sec, rest, ok := strings.Cut(sc.Text(), "\t")
		if !ok {
			return nil, fmt.Errorf("membership line %q: missing intervals", sc.Text())
		}
		if _, dup := m[sec]; dup {
			return nil, fmt.Errorf("membership %s listed twice: %w", sec, models.ErrMembershipOrder)
		}
		prevEnd := ""
		for _, raw := range strings.Fields(rest) {
			start, end, ok := strings.Cut(raw, ",")
			if !ok {
				return nil, fmt.Errorf("membership %s: bad interval %q", sec, raw)
			}
			if start >= end || start < prevEnd {
				return nil, fmt.Errorf("membership %s interval %s: %w", sec, raw, models.ErrMembershipOrder)
			}
			m[sec] = append(m[sec], models.Interval{Start: start, End: end})
			prevEnd = end
		}
	}
	return m, sc.Err()
}

// ReadCalendar reads one date per line; dates must be strictly ascending.
func ReadCalendar(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("read calendar: %w", err)
	}
	defer f.Close()

	var out []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		d := strings.TrimSpace(sc.Text())
		if d == "" {
			continue
		}
		if n := len(out); n > 0 && d <= out[n-1] {
			return nil, fmt.Errorf("calendar %s at %s: %w", path, d, models.ErrUnsortedCalendar)
		}
		out = append(out, d)
	}
	return out, sc.Err()
}

// ReadMarketGains reads a `date<TAB>gain` index series keyed by YYYY-MM.
func ReadMarketGains(path string) (map[string]float64, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("read market gains: %w", err)
	}
	defer f.Close()

	points, err := ParseSeries(f)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	out := make(map[string]float64, len(points))
	for _, p := range points {
		month := util.MonthOf(p.Date)
		if _, dup := out[month]; dup {
			return nil, fmt.Errorf("market gains %s: duplicate month %s: %w", path, month, models.ErrAlignment)
		}
		out[month] = p.Value
	}
	return out, nil
}
