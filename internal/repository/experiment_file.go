package repository

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"QuantPipe/internal/domain/models"
	"QuantPipe/internal/domain/repository"
)

// Experiment directory layout.
const (
	FeatureListFile = "feature_list"
	DataDir         = "data"
	ModelDir        = "models"
	ResultFile      = "results/result"
	AnalyzeDir      = "analyze"
)

// FileExperimentStore keeps experiment artifacts under one directory:
// feature_list, data/, models/, results/result and analyze/.
type FileExperimentStore struct {
	dir string
}

func NewFileExperimentStore(dir string) *FileExperimentStore {
	return &FileExperimentStore{dir: dir}
}

func (s *FileExperimentStore) Dir() string { return s.dir }

func (s *FileExperimentStore) path(name string) string {
	return filepath.Join(s.dir, filepath.FromSlash(name))
}

func (s *FileExperimentStore) WriteFeatureList(_ context.Context, features []string) error {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("create experiment dir: %w", err)
	}
	return WriteFeatureList(s.path(FeatureListFile), features)
}

func (s *FileExperimentStore) ReadFeatureList(_ context.Context) ([]string, error) {
	return ReadFeatureList(s.path(FeatureListFile))
}

func (s *FileExperimentStore) CreateArtifact(_ context.Context, name string) (io.WriteCloser, error) {
	path := s.path(name)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create artifact dir: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".tmp*")
	if err != nil {
		return nil, fmt.Errorf("create artifact %s: %w", name, err)
	}
	return &atomicFile{File: tmp, target: path}, nil
}

func (s *FileExperimentStore) OpenResults(_ context.Context) (repository.PredictionSink, error) {
	path := s.path(ResultFile)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create result dir: %w", err)
	}
	return NewFilePredictionSink(path)
}

func (s *FileExperimentStore) ReadResults(_ context.Context) ([]models.PredictionBlock, error) {
	blocks, err := ReadPredictionFile(s.path(ResultFile))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("experiment %s: %w", filepath.Base(s.dir), models.ErrResultsNotFound)
	}
	return blocks, err
}

// atomicFile renames its temp file onto target on Close.
type atomicFile struct {
	*os.File
	target string
}

func (f *atomicFile) Close() error {
	name := f.File.Name()
	if err := f.File.Close(); err != nil {
		_ = os.Remove(name)
		return err
	}
	if err := os.Rename(name, f.target); err != nil {
		_ = os.Remove(name)
		return err
	}
	return nil
}

// ListExperiments returns the experiment directory names under base.
func ListExperiments(base string) ([]string, error) {
	entries, err := os.ReadDir(base)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("list experiments: %w", err)
	}
	var out []string
	for _, e := range entries {
		if e.IsDir() {
			out = append(out, e.Name())
		}
	}
	sort.Strings(out)
	return out, nil
}

// FileExperimentCatalog serves the experiment directories under one base.
type FileExperimentCatalog struct {
	base string
}

func NewFileExperimentCatalog(base string) *FileExperimentCatalog {
	return &FileExperimentCatalog{base: base}
}

func (c *FileExperimentCatalog) List(_ context.Context) ([]string, error) {
	return ListExperiments(c.base)
}

func (c *FileExperimentCatalog) Open(_ context.Context, name string) (repository.ExperimentStore, error) {
	if name == "" || name != filepath.Base(name) || strings.HasPrefix(name, ".") {
		return nil, fmt.Errorf("experiment %q: %w", name, models.ErrExperimentNotFound)
	}
	dir := filepath.Join(c.base, name)
	info, err := os.Stat(dir)
	if errors.Is(err, fs.ErrNotExist) || (err == nil && !info.IsDir()) {
		return nil, fmt.Errorf("experiment %q: %w", name, models.ErrExperimentNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("open experiment %q: %w", name, err)
	}
	return NewFileExperimentStore(dir), nil
}

// FileReferenceStore reads shared inputs from configured paths. Empty
// paths mean the input is not available.
type FileReferenceStore struct {
	featureListDir string
	statsFile      string
	calendarDir    string
	membershipFile string
	marketGainFile string
}

func NewFileReferenceStore(featureListDir, statsFile, calendarDir, membershipFile, marketGainFile string) *FileReferenceStore {
	return &FileReferenceStore{
		featureListDir: featureListDir,
		statsFile:      statsFile,
		calendarDir:    calendarDir,
		membershipFile: membershipFile,
		marketGainFile: marketGainFile,
	}
}

func (s *FileReferenceStore) FeatureGroups(_ context.Context, groups []string) ([]string, error) {
	return ExpandFeatureGroups(s.featureListDir, groups)
}

// RangeStats returns nil when no stats file is configured, so every
// feature must then be range-exempt.
func (s *FileReferenceStore) RangeStats(_ context.Context) ([]models.FeatureStats, error) {
	if s.statsFile == "" {
		return nil, nil
	}
	return ReadRangeTable(s.statsFile)
}

func (s *FileReferenceStore) Membership(_ context.Context) (models.Membership, error) {
	if s.membershipFile == "" {
		return nil, nil
	}
	return ReadMembership(s.membershipFile)
}

func (s *FileReferenceStore) Calendar(_ context.Context, name string) ([]string, error) {
	path := name
	if !filepath.IsAbs(path) {
		path = filepath.Join(s.calendarDir, name)
	}
	return ReadCalendar(path)
}

func (s *FileReferenceStore) MarketGains(_ context.Context) (map[string]float64, error) {
	if s.marketGainFile == "" {
		return nil, nil
	}
	return ReadMarketGains(s.marketGainFile)
}
