package repository

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"QuantPipe/internal/domain/models"
)

// FileDatasetStore keeps each dataset as one JSON-lines file: a header line
// with the feature names, then one object per row carrying features,
// label, weight and metadata together.
type FileDatasetStore struct {
	dir string
}

func NewFileDatasetStore(dir string) *FileDatasetStore {
	return &FileDatasetStore{dir: dir}
}

type datasetHeader struct {
	Features []string `json:"features"`
	Rows     int      `json:"rows"`
}

// jsonRow mirrors DatasetRow with missing features encoded as null.
type jsonRow struct {
	Meta     models.RowMeta `json:"meta"`
	Features []*float64     `json:"features"`
	Label    models.Label   `json:"label"`
	Weight   float64        `json:"weight"`
}

func (s *FileDatasetStore) path(name string) string {
	return filepath.Join(s.dir, name+".jsonl")
}

func (s *FileDatasetStore) Write(_ context.Context, name string, ds *models.Dataset) error {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("write dataset %s: %w", name, err)
	}
	err := writeFileAtomic(s.path(name), func(w io.Writer) error {
		bw := bufio.NewWriter(w)
		enc := json.NewEncoder(bw)
		if err := enc.Encode(datasetHeader{Features: ds.Features, Rows: len(ds.Rows)}); err != nil {
			return err
		}
		for i := range ds.Rows {
			if err := enc.Encode(toJSONRow(&ds.Rows[i])); err != nil {
				return err
			}
		}
		return bw.Flush()
	})
	if err != nil {
		return fmt.Errorf("write dataset %s: %w", name, err)
	}
	return nil
}

func (s *FileDatasetStore) Read(_ context.Context, name string) (*models.Dataset, error) {
	f, err := os.Open(s.path(name))
	if err != nil {
		return nil, fmt.Errorf("read dataset %s: %w", name, err)
	}
	defer f.Close()

	dec := json.NewDecoder(bufio.NewReader(f))
	var h datasetHeader
	if err := dec.Decode(&h); err != nil {
		return nil, fmt.Errorf("read dataset %s header: %w", name, err)
	}
	ds := &models.Dataset{Features: h.Features, Rows: make([]models.DatasetRow, 0, h.Rows)}
	for {
		var jr jsonRow
		if err := dec.Decode(&jr); err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, fmt.Errorf("read dataset %s row %d: %w", name, len(ds.Rows), err)
		}
		if len(jr.Features) != len(h.Features) {
			return nil, fmt.Errorf("dataset %s row %d has %d features, want %d: %w",
				name, len(ds.Rows), len(jr.Features), len(h.Features), models.ErrAlignment)
		}
		ds.Rows = append(ds.Rows, fromJSONRow(&jr))
	}
	if len(ds.Rows) != h.Rows {
		return nil, fmt.Errorf("dataset %s has %d rows, header says %d: %w", name, len(ds.Rows), h.Rows, models.ErrAlignment)
	}
	return ds, nil
}

func (s *FileDatasetStore) Exists(_ context.Context, name string) (bool, error) {
	_, err := os.Stat(s.path(name))
	if err == nil {
		return true, nil
	}
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	return false, err
}

func toJSONRow(r *models.DatasetRow) jsonRow {
	feats := make([]*float64, len(r.Features))
	for i := range r.Features {
		if !math.IsNaN(r.Features[i]) {
			v := r.Features[i]
			feats[i] = &v
		}
	}
	return jsonRow{Meta: r.Meta, Features: feats, Label: r.Label, Weight: r.Weight}
}

func fromJSONRow(jr *jsonRow) models.DatasetRow {
	feats := make([]float64, len(jr.Features))
	for i, p := range jr.Features {
		if p == nil {
			feats[i] = math.NaN()
		} else {
			feats[i] = *p
		}
	}
	return models.DatasetRow{Meta: jr.Meta, Features: feats, Label: jr.Label, Weight: jr.Weight}
}

// Legacy layout file names inside an export directory.
const (
	LegacyDataFile   = "data"
	LegacyLabelFile  = "label"
	LegacyRLabelFile = "rlabel"
	LegacyMetaFile   = "meta"
	LegacyWeightFile = "weight"
)

// ExportLegacy writes the parallel-file layout consumed by older tooling:
// a whitespace separated data matrix, binary and raw labels, weights and
// `security<TAB>date<TAB>feature_count<TAB>gain` metadata, all row aligned.
func ExportLegacy(dir string, ds *models.Dataset) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("export legacy: %w", err)
	}
	writers := map[string]func(w io.Writer, r *models.DatasetRow) error{
		LegacyDataFile: func(w io.Writer, r *models.DatasetRow) error {
			parts := make([]string, len(r.Features))
			for i, v := range r.Features {
				parts[i] = strconv.FormatFloat(v, 'g', -1, 64)
			}
			_, err := fmt.Fprintln(w, strings.Join(parts, " "))
			return err
		},
		LegacyLabelFile: func(w io.Writer, r *models.DatasetRow) error {
			_, err := fmt.Fprintln(w, int(r.Label))
			return err
		},
		LegacyRLabelFile: func(w io.Writer, r *models.DatasetRow) error {
			_, err := fmt.Fprintf(w, "%f\n", r.Meta.Gain)
			return err
		},
		LegacyWeightFile: func(w io.Writer, r *models.DatasetRow) error {
			_, err := fmt.Fprintf(w, "%f\n", r.Weight)
			return err
		},
		LegacyMetaFile: func(w io.Writer, r *models.DatasetRow) error {
			_, err := fmt.Fprintf(w, "%s\t%s\t%d\t%f\n", r.Meta.Security, r.Meta.Date, r.Meta.FeatureCount, r.Meta.Gain)
			return err
		},
	}
	for name, write := range writers {
		err := writeFileAtomic(filepath.Join(dir, name), func(w io.Writer) error {
			bw := bufio.NewWriter(w)
			for i := range ds.Rows {
				if err := write(bw, &ds.Rows[i]); err != nil {
					return err
				}
			}
			return bw.Flush()
		})
		if err != nil {
			return fmt.Errorf("export legacy %s: %w", name, err)
		}
	}
	return nil
}

// ImportLegacy reads an ExportLegacy directory back. Any row-count mismatch
// between the parallel files is fatal.
func ImportLegacy(dir string, features []string) (*models.Dataset, error) {
	read := func(name string) ([]string, error) {
		b, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			return nil, fmt.Errorf("import legacy %s: %w", name, err)
		}
		lines := strings.Split(strings.TrimRight(string(b), "\n"), "\n")
		if len(lines) == 1 && lines[0] == "" {
			return nil, nil
		}
		return lines, nil
	}

	data, err := read(LegacyDataFile)
	if err != nil {
		return nil, err
	}
	labels, err := read(LegacyLabelFile)
	if err != nil {
		return nil, err
	}
	meta, err := read(LegacyMetaFile)
	if err != nil {
		return nil, err
	}
	weights, err := read(LegacyWeightFile)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, err
	}
	if len(data) != len(labels) || len(data) != len(meta) || (weights != nil && len(weights) != len(data)) {
		return nil, fmt.Errorf("import legacy %s: data=%d label=%d meta=%d weight=%d: %w",
			dir, len(data), len(labels), len(meta), len(weights), models.ErrAlignment)
	}

	ds := &models.Dataset{Features: features, Rows: make([]models.DatasetRow, len(data))}
	for i := range data {
		row, err := parseLegacyRow(data[i], labels[i], meta[i], len(features))
		if err != nil {
			return nil, fmt.Errorf("import legacy row %d: %w", i, err)
		}
		row.Weight = 1
		if weights != nil {
			if row.Weight, err = strconv.ParseFloat(weights[i], 64); err != nil {
				return nil, fmt.Errorf("import legacy row %d weight: %w", i, err)
			}
		}
		ds.Rows[i] = row
	}
	return ds, nil
}

func parseLegacyRow(data, label, meta string, width int) (models.DatasetRow, error) {
	var row models.DatasetRow
	fields := strings.Fields(data)
	if len(fields) != width {
		return row, fmt.Errorf("%d features, want %d: %w", len(fields), width, models.ErrAlignment)
	}
	row.Features = make([]float64, width)
	for i, f := range fields {
		v, err := strconv.ParseFloat(f, 64)
		if err != nil {
			return row, err
		}
		row.Features[i] = v
	}
	l, err := strconv.Atoi(label)
	if err != nil {
		return row, err
	}
	row.Label = models.Label(l)

	parts := strings.Split(meta, "\t")
	if len(parts) != 4 {
		return row, fmt.Errorf("meta %q: want 4 fields", meta)
	}
	row.Meta.Security, row.Meta.Date = parts[0], parts[1]
	if row.Meta.FeatureCount, err = strconv.Atoi(parts[2]); err != nil {
		return row, err
	}
	if row.Meta.Gain, err = strconv.ParseFloat(parts[3], 64); err != nil {
		return row, err
	}
	return row, nil
}
