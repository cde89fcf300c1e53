package usecase

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"math"
	"sort"
	"sync"

	"QuantPipe/internal/domain/models"
	drepo "QuantPipe/internal/domain/repository"
)

type memSeries struct {
	mu   sync.Mutex
	data map[string]map[string]*models.DatedSeries
}

func newMemSeries() *memSeries {
	return &memSeries{data: map[string]map[string]*models.DatedSeries{}}
}

func (m *memSeries) put(feature, security string, points ...models.SeriesPoint) {
	_ = m.Write(context.Background(), &models.DatedSeries{Security: security, Feature: feature, Points: points})
}

func (m *memSeries) Load(_ context.Context, feature, security string) (*models.DatedSeries, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.data[feature][security]
	if !ok {
		return nil, models.ErrSeriesNotFound
	}
	return s, nil
}

func (m *memSeries) Securities(_ context.Context, feature string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []string
	for sec := range m.data[feature] {
		out = append(out, sec)
	}
	sort.Strings(out)
	return out, nil
}

func (m *memSeries) Write(_ context.Context, s *models.DatedSeries) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.data[s.Feature] == nil {
		m.data[s.Feature] = map[string]*models.DatedSeries{}
	}
	m.data[s.Feature][s.Security] = s
	return nil
}

type memModels struct {
	mu    sync.Mutex
	items map[models.ModelKey][]byte
	loads int
}

func newMemModels() *memModels {
	return &memModels{items: map[models.ModelKey][]byte{}}
}

func (m *memModels) Save(_ context.Context, key models.ModelKey, b []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items[key] = b
	return nil
}

func (m *memModels) Load(_ context.Context, key models.ModelKey) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.loads++
	b, ok := m.items[key]
	if !ok {
		return nil, models.ErrModelNotFound
	}
	return b, nil
}

func (m *memModels) Periods(_ context.Context, window int) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []string
	for k := range m.items {
		if k.TrainWindow == window {
			out = append(out, k.Period)
		}
	}
	sort.Strings(out)
	return out, nil
}

type memSteps struct {
	mu   sync.Mutex
	done map[string]bool
}

func newMemSteps() *memSteps { return &memSteps{done: map[string]bool{}} }

func (m *memSteps) IsStepComplete(_ context.Context, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.done[id], nil
}

func (m *memSteps) MarkStepComplete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.done[id] = true
	return nil
}

func (m *memSteps) ClearStep(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.done, id)
	return nil
}

type memDatasets struct {
	items map[string]*models.Dataset
}

func newMemDatasets() *memDatasets { return &memDatasets{items: map[string]*models.Dataset{}} }

func (m *memDatasets) Write(_ context.Context, name string, ds *models.Dataset) error {
	m.items[name] = ds
	return nil
}

func (m *memDatasets) Read(_ context.Context, name string) (*models.Dataset, error) {
	ds, ok := m.items[name]
	if !ok {
		return nil, fmt.Errorf("dataset %s missing", name)
	}
	return ds, nil
}

func (m *memDatasets) Exists(_ context.Context, name string) (bool, error) {
	_, ok := m.items[name]
	return ok, nil
}

type memSink struct {
	blocks []models.PredictionBlock
	closed bool
}

func (s *memSink) Write(_ context.Context, b *models.PredictionBlock) error {
	s.blocks = append(s.blocks, *b)
	return nil
}

func (s *memSink) Close() error {
	s.closed = true
	return nil
}

type memExperiment struct {
	mu        sync.Mutex
	features  []string
	artifacts map[string]*bytes.Buffer
	results   *memSink
}

func newMemExperiment() *memExperiment {
	return &memExperiment{artifacts: map[string]*bytes.Buffer{}}
}

func (m *memExperiment) WriteFeatureList(_ context.Context, f []string) error {
	m.features = f
	return nil
}

func (m *memExperiment) ReadFeatureList(context.Context) ([]string, error) {
	if m.features == nil {
		return nil, fmt.Errorf("no feature list")
	}
	return m.features, nil
}

type nopCloser struct{ io.Writer }

func (nopCloser) Close() error { return nil }

func (m *memExperiment) CreateArtifact(_ context.Context, name string) (io.WriteCloser, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b := &bytes.Buffer{}
	m.artifacts[name] = b
	return nopCloser{b}, nil
}

func (m *memExperiment) artifact(name string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if b, ok := m.artifacts[name]; ok {
		return b.String()
	}
	return ""
}

func (m *memExperiment) OpenResults(context.Context) (drepo.PredictionSink, error) {
	m.results = &memSink{}
	return m.results, nil
}

func (m *memExperiment) ReadResults(context.Context) ([]models.PredictionBlock, error) {
	if m.results == nil {
		return nil, fmt.Errorf("no results")
	}
	return m.results.blocks, nil
}

type memRefs struct {
	groups     map[string][]string
	stats      []models.FeatureStats
	membership models.Membership
	calendars  map[string][]string
	market     map[string]float64
}

func (m *memRefs) FeatureGroups(_ context.Context, groups []string) ([]string, error) {
	var out []string
	for _, g := range groups {
		names, ok := m.groups[g]
		if !ok {
			return nil, fmt.Errorf("unknown group %s", g)
		}
		out = append(out, names...)
	}
	return out, nil
}

func (m *memRefs) RangeStats(context.Context) ([]models.FeatureStats, error) { return m.stats, nil }

func (m *memRefs) Membership(context.Context) (models.Membership, error) { return m.membership, nil }

func (m *memRefs) Calendar(_ context.Context, name string) ([]string, error) {
	c, ok := m.calendars[name]
	if !ok {
		return nil, fmt.Errorf("no calendar %s", name)
	}
	return c, nil
}

func (m *memRefs) MarketGains(context.Context) (map[string]float64, error) { return m.market, nil }

type memMetrics struct {
	mu     sync.Mutex
	skips  map[string]models.SkipStats
	rows   map[string]int
	states map[models.TrainState]int
}

func newMemMetrics() *memMetrics {
	return &memMetrics{skips: map[string]models.SkipStats{}, rows: map[string]int{}, states: map[models.TrainState]int{}}
}

func (m *memMetrics) RecordSkips(stage string, s models.SkipStats) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.skips[stage] == nil {
		m.skips[stage] = models.SkipStats{}
	}
	m.skips[stage].Merge(s)
}

func (m *memMetrics) RecordRows(stage string, n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rows[stage] += n
}

func (m *memMetrics) RecordModel(state models.TrainState) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.states[state]++
}

func (m *memMetrics) RecordLatency(string, float64) {}

func pt(date string, v float64) models.SeriesPoint {
	return models.SeriesPoint{Date: date, Value: v}
}

// nanSentinel stands in for NaN so rows with missing features compare equal.
const nanSentinel = -1e300

func comparableRows(rows []models.DatasetRow) []models.DatasetRow {
	fix := func(v float64) float64 {
		if math.IsNaN(v) {
			return nanSentinel
		}
		return v
	}
	out := make([]models.DatasetRow, len(rows))
	for i, r := range rows {
		r.Features = append([]float64(nil), r.Features...)
		for j, v := range r.Features {
			r.Features[j] = fix(v)
		}
		r.Meta.Gain = fix(r.Meta.Gain)
		r.Weight = fix(r.Weight)
		out[i] = r
	}
	return out
}

// resettingSeries counts loads and memo resets.
type resettingSeries struct {
	drepo.SeriesStore
	loads, resets int
	mu            sync.Mutex
}

func (s *resettingSeries) Load(ctx context.Context, feature, security string) (*models.DatedSeries, error) {
	s.mu.Lock()
	s.loads++
	s.mu.Unlock()
	return s.SeriesStore.Load(ctx, feature, security)
}

func (s *resettingSeries) Reset() { s.resets++ }
