package usecase

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"QuantPipe/internal/domain/models"
	drepo "QuantPipe/internal/domain/repository"
	"QuantPipe/pkg/cache"
	"QuantPipe/pkg/logger"
)

// DefaultResultsTTL bounds how long decoded result files are served from cache.
const DefaultResultsTTL = 5 * time.Minute

// PredictionPage is one date of ranked predictions.
type PredictionPage struct {
	Experiment string              `json:"experiment"`
	Date       string              `json:"date"`
	Model      string              `json:"model,omitempty"`
	Total      int                 `json:"total"`
	Rows       []models.Prediction `json:"rows"`
}

// ResultsService serves finished experiment results read-only.
type ResultsService struct {
	catalog drepo.ExperimentCatalog
	cache   cache.Service
	ttl     time.Duration
	l       *logger.Logger
}

func NewResultsService(catalog drepo.ExperimentCatalog, c cache.Service, ttl time.Duration, l *logger.Logger) *ResultsService {
	if l == nil {
		l = logger.Nop()
	}
	if c == nil {
		c = cache.NewMemoryCache()
	}
	if ttl <= 0 {
		ttl = DefaultResultsTTL
	}
	return &ResultsService{catalog: catalog, cache: c, ttl: ttl, l: l.With(logger.String("component", "results"))}
}

func (s *ResultsService) Experiments(ctx context.Context) ([]string, error) {
	names, err := s.catalog.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list experiments: %w", err)
	}
	if names == nil {
		names = []string{}
	}
	return names, nil
}

// Dates lists the prediction dates of an experiment, ascending.
func (s *ResultsService) Dates(ctx context.Context, name string) ([]string, error) {
	blocks, err := s.blocks(ctx, name)
	if err != nil {
		return nil, err
	}
	dates := make([]string, len(blocks))
	for i, b := range blocks {
		dates[i] = b.Date
	}
	return dates, nil
}

// Predictions returns the ranked rows for date, or for the latest date when
// date is empty. limit <= 0 returns every row.
func (s *ResultsService) Predictions(ctx context.Context, name, date string, limit int) (*PredictionPage, error) {
	blocks, err := s.blocks(ctx, name)
	if err != nil {
		return nil, err
	}
	if len(blocks) == 0 {
		return nil, fmt.Errorf("experiment %s: %w", name, models.ErrResultsNotFound)
	}
	b := blocks[len(blocks)-1]
	if date != "" {
		i := sort.Search(len(blocks), func(i int) bool { return blocks[i].Date >= date })
		if i == len(blocks) || blocks[i].Date != date {
			return nil, fmt.Errorf("experiment %s date %s: %w", name, date, models.ErrDateNotFound)
		}
		b = blocks[i]
	}
	rows := b.Rows
	if limit > 0 && limit < len(rows) {
		rows = rows[:limit]
	}
	return &PredictionPage{Experiment: name, Date: b.Date, Model: b.Model, Total: len(b.Rows), Rows: rows}, nil
}

// TopBottom recomputes the top/bottom-K report over the realized region.
func (s *ResultsService) TopBottom(ctx context.Context, name string, ks []int) (models.TopBottomReport, error) {
	key := cache.Key("topbot", name, joinInts(ks))
	return cache.GetOrCompute(ctx, s.cache, key, s.ttl, func() (models.TopBottomReport, error) {
		blocks, err := s.blocks(ctx, name)
		if err != nil {
			return models.TopBottomReport{}, err
		}
		kept, live := DropLive(blocks)
		s.l.Debug("topbot computed", logger.String("experiment", name), logger.Int("dates", len(kept)), logger.Int("live", live))
		return TopBottomK(kept, ks), nil
	})
}

// Invalidate drops cached results of an experiment.
func (s *ResultsService) Invalidate(ctx context.Context, name string) error {
	if err := s.cache.Delete(ctx, cache.Key("results", name)); err != nil {
		return err
	}
	return s.cache.DeleteByPattern(ctx, cache.Key("topbot", name, "*"))
}

func (s *ResultsService) blocks(ctx context.Context, name string) ([]models.PredictionBlock, error) {
	return cache.GetOrCompute(ctx, s.cache, cache.Key("results", name), s.ttl, func() ([]models.PredictionBlock, error) {
		store, err := s.catalog.Open(ctx, name)
		if err != nil {
			return nil, err
		}
		blocks, err := store.ReadResults(ctx)
		if err != nil {
			return nil, err
		}
		s.l.Info("results loaded", logger.String("experiment", name), logger.Int("dates", len(blocks)))
		return blocks, nil
	})
}

// ParseKs parses a comma separated K list such as "10,25,0,-25,-10".
func ParseKs(raw string) ([]int, error) {
	var ks []int
	for _, f := range strings.Split(raw, ",") {
		f = strings.TrimSpace(f)
		if f == "" {
			continue
		}
		k, err := strconv.Atoi(f)
		if err != nil {
			return nil, fmt.Errorf("invalid k %q: %w", f, err)
		}
		ks = append(ks, k)
	}
	if len(ks) == 0 {
		return nil, fmt.Errorf("no k values in %q", raw)
	}
	return ks, nil
}

func joinInts(vs []int) string {
	parts := make([]string, len(vs))
	for i, v := range vs {
		parts[i] = strconv.Itoa(v)
	}
	return strings.Join(parts, ",")
}
