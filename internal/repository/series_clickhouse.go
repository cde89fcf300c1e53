package repository

import (
	"context"
	"database/sql"
	"fmt"

	"QuantPipe/internal/domain/models"
	pkgch "QuantPipe/pkg/clickhouse"
	"QuantPipe/pkg/logger"
)

// SeriesSchema creates the series table. Dates stay ISO strings so the
// lexicographic order of the key equals chronological order.
func SeriesSchema(database string) []string {
	return []string{
		"CREATE DATABASE IF NOT EXISTS " + database,
		"CREATE TABLE IF NOT EXISTS " + database + ".series (feature LowCardinality(String), security String, date String, value Float64) ENGINE=ReplacingMergeTree ORDER BY (feature, security, date)",
	}
}

// ClickHouseSeriesStore implements SeriesStore over one ClickHouse table.
type ClickHouseSeriesStore struct {
	client *pkgch.Client
	db     *sql.DB
	table  string
	l      *logger.Logger
}

func NewClickHouseSeriesStore(client *pkgch.Client, table string) *ClickHouseSeriesStore {
	return &ClickHouseSeriesStore{client: client, db: client.DB(), table: table, l: logger.Nop()}
}

// SetLogger injects a structured logger.
func (s *ClickHouseSeriesStore) SetLogger(l *logger.Logger) { s.l = l }

func (s *ClickHouseSeriesStore) Load(ctx context.Context, feature, security string) (*models.DatedSeries, error) {
	q := fmt.Sprintf("SELECT date, value FROM %s FINAL WHERE feature = ? AND security = ? ORDER BY date ASC", s.table)
	rows, err := s.db.QueryContext(ctx, q, feature, security)
	if err != nil {
		s.l.Error("clickhouse load_series query error",
			logger.String("feature", feature),
			logger.String("security", security),
			logger.Error(err),
		)
		return nil, fmt.Errorf("load series: %w", err)
	}
	defer rows.Close()

	ds := &models.DatedSeries{Security: security, Feature: feature}
	for rows.Next() {
		var p models.SeriesPoint
		if err := rows.Scan(&p.Date, &p.Value); err != nil {
			return nil, fmt.Errorf("scan series point: %w", err)
		}
		ds.Points = append(ds.Points, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows: %w", err)
	}
	if len(ds.Points) == 0 {
		return nil, fmt.Errorf("%s/%s: %w", feature, security, models.ErrSeriesNotFound)
	}
	if err := ds.Validate(); err != nil {
		return nil, err
	}
	return ds, nil
}

func (s *ClickHouseSeriesStore) Securities(ctx context.Context, feature string) ([]string, error) {
	q := fmt.Sprintf("SELECT DISTINCT security FROM %s WHERE feature = ? ORDER BY security ASC", s.table)
	rows, err := s.db.QueryContext(ctx, q, feature)
	if err != nil {
		return nil, fmt.Errorf("list securities: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var sec string
		if err := rows.Scan(&sec); err != nil {
			return nil, fmt.Errorf("scan security: %w", err)
		}
		out = append(out, sec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows: %w", err)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("feature %s: %w", feature, models.ErrSeriesNotFound)
	}
	return out, nil
}

// Write inserts a series as one block.
func (s *ClickHouseSeriesStore) Write(ctx context.Context, series *models.DatedSeries) error {
	rows := make([][]any, len(series.Points))
	for i, p := range series.Points {
		rows[i] = []any{series.Feature, series.Security, p.Date, p.Value}
	}
	q := fmt.Sprintf("INSERT INTO %s (feature, security, date, value)", s.table)
	if err := s.client.InsertBatch(ctx, q, rows); err != nil {
		return fmt.Errorf("write series %s/%s: %w", series.Feature, series.Security, err)
	}
	return nil
}
