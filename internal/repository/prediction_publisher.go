package repository

import (
	"context"
	"fmt"

	"QuantPipe/internal/domain/models"
	"QuantPipe/internal/domain/repository"
	pkgch "QuantPipe/pkg/clickhouse"
	pkgkafka "QuantPipe/pkg/kafka"
)

// KafkaPredictionPublisher publishes one message per prediction block,
// keyed by experiment and date.
type KafkaPredictionPublisher struct {
	producer   *pkgkafka.Producer
	topic      string
	experiment string
	runID      string
}

func NewKafkaPredictionPublisher(producer *pkgkafka.Producer, topic, experiment, runID string) *KafkaPredictionPublisher {
	return &KafkaPredictionPublisher{producer: producer, topic: topic, experiment: experiment, runID: runID}
}

type predictionMessage struct {
	Experiment string              `json:"experiment"`
	RunID      string              `json:"run_id"`
	Date       string              `json:"date"`
	Model      string              `json:"model"`
	Rows       []models.Prediction `json:"rows"`
}

func (p *KafkaPredictionPublisher) Write(ctx context.Context, block *models.PredictionBlock) error {
	msg := predictionMessage{
		Experiment: p.experiment,
		RunID:      p.runID,
		Date:       block.Date,
		Model:      block.Model,
		Rows:       block.Rows,
	}
	if err := p.producer.Publish(ctx, p.topic, []byte(p.experiment+"/"+block.Date), msg); err != nil {
		return fmt.Errorf("publish predictions %s: %w", block.Date, err)
	}
	return nil
}

// Close leaves the shared producer open; its owner closes it.
func (p *KafkaPredictionPublisher) Close() error {
	return nil
}

// PredictionSchema creates the predictions table.
func PredictionSchema(database string) []string {
	return []string{
		"CREATE DATABASE IF NOT EXISTS " + database,
		"CREATE TABLE IF NOT EXISTS " + database + ".predictions (experiment LowCardinality(String), run_id String, date String, rank UInt32, security String, gain Float64, score Float64, model String) ENGINE=MergeTree ORDER BY (experiment, date, rank)",
	}
}

// ClickHousePredictionStore appends prediction rows with their rank.
type ClickHousePredictionStore struct {
	client     *pkgch.Client
	table      string
	experiment string
	runID      string
}

func NewClickHousePredictionStore(client *pkgch.Client, table, experiment, runID string) *ClickHousePredictionStore {
	return &ClickHousePredictionStore{client: client, table: table, experiment: experiment, runID: runID}
}

func (s *ClickHousePredictionStore) Write(ctx context.Context, block *models.PredictionBlock) error {
	rows := make([][]any, len(block.Rows))
	for i, p := range block.Rows {
		rows[i] = []any{s.experiment, s.runID, block.Date, uint32(i), p.Security, p.Gain, p.Score, block.Model}
	}
	q := fmt.Sprintf("INSERT INTO %s (experiment, run_id, date, rank, security, gain, score, model)", s.table)
	if err := s.client.InsertBatch(ctx, q, rows); err != nil {
		return fmt.Errorf("store predictions %s: %w", block.Date, err)
	}
	return nil
}

func (s *ClickHousePredictionStore) Close() error {
	return nil
}

// MultiSink fans one block out to several sinks in order; the first error
// stops the fan-out.
type MultiSink []repository.PredictionSink

func (m MultiSink) Write(ctx context.Context, block *models.PredictionBlock) error {
	for _, s := range m {
		if err := s.Write(ctx, block); err != nil {
			return err
		}
	}
	return nil
}

func (m MultiSink) Close() error {
	var first error
	for _, s := range m {
		if err := s.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}
