package repository

import (
	"context"
	"errors"
	"sync"

	"QuantPipe/internal/domain/models"
	"QuantPipe/internal/domain/repository"
)

type seriesKey struct{ feature, security string }

type seriesEntry struct {
	series *models.DatedSeries
	err    error
}

// CachedSeriesStore memoizes Load results, including not-found, until
// Reset. The experiment runner resets it after every step. Only
// ErrSeriesNotFound is cached among errors.
type CachedSeriesStore struct {
	next repository.SeriesStore

	mu    sync.Mutex
	cache map[seriesKey]seriesEntry
}

func NewCachedSeriesStore(next repository.SeriesStore) *CachedSeriesStore {
	return &CachedSeriesStore{next: next, cache: make(map[seriesKey]seriesEntry)}
}

func (s *CachedSeriesStore) Load(ctx context.Context, feature, security string) (*models.DatedSeries, error) {
	k := seriesKey{feature, security}
	s.mu.Lock()
	e, ok := s.cache[k]
	s.mu.Unlock()
	if ok {
		return e.series, e.err
	}

	ds, err := s.next.Load(ctx, feature, security)
	if err != nil && !errors.Is(err, models.ErrSeriesNotFound) {
		return nil, err
	}
	s.mu.Lock()
	s.cache[k] = seriesEntry{series: ds, err: err}
	s.mu.Unlock()
	return ds, err
}

func (s *CachedSeriesStore) Securities(ctx context.Context, feature string) ([]string, error) {
	return s.next.Securities(ctx, feature)
}

// Reset drops every memoized series.
func (s *CachedSeriesStore) Reset() {
	s.mu.Lock()
	s.cache = make(map[seriesKey]seriesEntry)
	s.mu.Unlock()
}
