package metrics

import (
	"context"
	"fmt"

	"QuantPipe/internal/domain/models"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/push"
)

// Recorder implements domain.repository.Metrics using Prometheus. Each
// recorder owns its registry so batch runs and tests never collide on the
// global one.
type Recorder struct {
	registry *prometheus.Registry
	skips    *prometheus.CounterVec
	rows     *prometheus.CounterVec
	models   *prometheus.CounterVec
	latency  *prometheus.HistogramVec
}

// New creates a new Prometheus metrics recorder.
func New() *Recorder {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Recorder{
		registry: reg,
		skips: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "quantpipe_stage_skips_total",
				Help: "Rows or features skipped by a pipeline stage, by reason",
			},
			[]string{"stage", "reason"},
		),
		rows: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "quantpipe_stage_rows_total",
				Help: "Rows emitted by a pipeline stage",
			},
			[]string{"stage"},
		),
		models: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "quantpipe_models_total",
				Help: "Walk-forward periods by training outcome",
			},
			[]string{"state"},
		),
		latency: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "quantpipe_stage_duration_seconds",
				Help:    "Duration of pipeline stages in seconds",
				Buckets: []float64{0.1, 0.5, 1, 5, 15, 60, 300, 900, 3600},
			},
			[]string{"stage"},
		),
	}
}

// RecordSkips adds every reason of a stage summary.
func (r *Recorder) RecordSkips(stage string, stats models.SkipStats) {
	for reason, n := range stats {
		if n > 0 {
			r.skips.WithLabelValues(stage, reason).Add(float64(n))
		}
	}
}

func (r *Recorder) RecordRows(stage string, n int) {
	r.rows.WithLabelValues(stage).Add(float64(n))
}

func (r *Recorder) RecordModel(state models.TrainState) {
	r.models.WithLabelValues(string(state)).Inc()
}

// RecordLatency records stage latency in seconds.
func (r *Recorder) RecordLatency(stage string, seconds float64) {
	r.latency.WithLabelValues(stage).Observe(seconds)
}

// Gatherer exposes the registry for /metrics.
func (r *Recorder) Gatherer() prometheus.Gatherer {
	return r.registry
}

// Registerer receives collectors of other components, such as the Kafka
// producer and the HTTP middleware.
func (r *Recorder) Registerer() prometheus.Registerer {
	return r.registry
}

// Push sends the registry to a Pushgateway under job.
func (r *Recorder) Push(ctx context.Context, url, job string) error {
	if err := push.New(url, job).Gatherer(r.registry).PushContext(ctx); err != nil {
		return fmt.Errorf("push metrics: %w", err)
	}
	return nil
}

// WriteTextfile writes the registry in the node-exporter textfile format.
func (r *Recorder) WriteTextfile(path string) error {
	if err := prometheus.WriteToTextfile(path, r.registry); err != nil {
		return fmt.Errorf("write metrics textfile: %w", err)
	}
	return nil
}
