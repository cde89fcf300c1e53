package repository

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"QuantPipe/internal/domain/models"
)

// FileSeriesStore reads `date<TAB>value` files laid out as
// <dir>/<feature>/<security>.
type FileSeriesStore struct {
	dir string
}

func NewFileSeriesStore(dir string) *FileSeriesStore {
	return &FileSeriesStore{dir: dir}
}

func (s *FileSeriesStore) path(feature, security string) string {
	return filepath.Join(s.dir, feature, security)
}

func (s *FileSeriesStore) Load(_ context.Context, feature, security string) (*models.DatedSeries, error) {
	path := s.path(feature, security)
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%s/%s: %w", feature, security, models.ErrSeriesNotFound)
		}
		return nil, fmt.Errorf("open series: %w", err)
	}
	defer f.Close()

	points, err := ParseSeries(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	ds := &models.DatedSeries{Security: security, Feature: feature, Points: points}
	if err := ds.Validate(); err != nil {
		return nil, err
	}
	return ds, nil
}

// Securities lists the securities that have a file for feature, sorted.
func (s *FileSeriesStore) Securities(_ context.Context, feature string) ([]string, error) {
	entries, err := os.ReadDir(filepath.Join(s.dir, feature))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("feature %s: %w", feature, models.ErrSeriesNotFound)
		}
		return nil, fmt.Errorf("list securities: %w", err)
	}
	out := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() && !strings.HasPrefix(e.Name(), ".") {
			out = append(out, e.Name())
		}
	}
	sort.Strings(out)
	return out, nil
}

// Write stores a series, replacing any previous file.
func (s *FileSeriesStore) Write(_ context.Context, series *models.DatedSeries) error {
	path := s.path(series.Feature, series.Security)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("write series: %w", err)
	}
	return writeFileAtomic(path, func(w io.Writer) error {
		return FormatSeries(w, series.Points)
	})
}

// ParseSeries reads `key<TAB>value` lines. Keys are kept verbatim so the
// undated `*` variant parses the same way; "nan" values are kept as NaN.
func ParseSeries(r io.Reader) ([]models.SeriesPoint, error) {
	var points []models.SeriesPoint
	sc := bufio.NewScanner(r)
	line := 0
	for sc.Scan() {
		line++
		text := sc.Text()
		if text == "" {
			continue
		}
		key, raw, ok := strings.Cut(text, "\t")
		if !ok {
			return nil, fmt.Errorf("line %d: expected key<TAB>value", line)
		}
		v, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		points = append(points, models.SeriesPoint{Date: key, Value: v})
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return points, nil
}

func FormatSeries(w io.Writer, points []models.SeriesPoint) error {
	bw := bufio.NewWriter(w)
	for _, p := range points {
		if _, err := fmt.Fprintf(bw, "%s\t%s\n", p.Date, strconv.FormatFloat(p.Value, 'f', -1, 64)); err != nil {
			return err
		}
	}
	return bw.Flush()
}

// writeFileAtomic writes through a temp file in the same directory and
// renames it into place.
func writeFileAtomic(path string, fill func(io.Writer) error) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".tmp*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if err := fill(tmp); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}
