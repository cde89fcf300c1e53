package server

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"QuantPipe/pkg/config"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type closerFunc func() error

func (f closerFunc) Close() error { return f() }

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg, err := config.Parse([]byte("paths:\n  base_dir: " + t.TempDir() + "\nserver:\n  host: 127.0.0.1\n  shutdown_timeout: 1s\n"))
	require.NoError(t, err)
	cfg.Server.Port = 0 // any free port
	return cfg
}

func TestAppServesHealthAndMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	app := New(testConfig(t), nil, nil, reg, reg)

	rec := httptest.NewRecorder()
	app.Server().Echo().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	app.Server().Echo().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestAppRunClosesClientsOnCancel(t *testing.T) {
	var closed []string
	app := New(testConfig(t), nil, nil, nil, nil,
		closerFunc(func() error { closed = append(closed, "clickhouse"); return nil }),
		nil,
		closerFunc(func() error { closed = append(closed, "kafka"); return errors.New("broker gone") }),
	)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- app.Run(ctx) }()
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("app did not stop")
	}
	assert.Equal(t, []string{"clickhouse", "kafka"}, closed)
}
