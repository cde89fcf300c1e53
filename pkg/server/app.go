package server

import (
	"context"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"QuantPipe/pkg/config"
	xhttp "QuantPipe/pkg/http"
	applogger "QuantPipe/pkg/logger"

	"github.com/prometheus/client_golang/prometheus"
)

// App runs the read-only results API until interrupted.
type App struct {
	cfg        *config.Config
	l          *applogger.Logger
	handler    xhttp.Handler
	gatherer   prometheus.Gatherer
	registerer prometheus.Registerer
	httpServer *xhttp.Server
	// closers release infrastructure clients on shutdown, in order.
	closers []io.Closer
}

// New creates a new App. Nil closers are ignored.
func New(cfg *config.Config, l *applogger.Logger, handler xhttp.Handler, g prometheus.Gatherer, r prometheus.Registerer, closers ...io.Closer) *App {
	if l == nil {
		l = applogger.Nop()
	}
	a := &App{cfg: cfg, l: l, handler: handler, gatherer: g, registerer: r}
	for _, c := range closers {
		if c != nil {
			a.closers = append(a.closers, c)
		}
	}
	return a
}

// Server builds the HTTP server on first use.
func (a *App) Server() *xhttp.Server {
	if a.httpServer == nil {
		a.httpServer = xhttp.NewServer(a.handler,
			xhttp.WithHost(a.cfg.Server.Host),
			xhttp.WithPort(a.cfg.Server.Port),
			xhttp.WithTimeouts(a.cfg.Server.ReadTimeout, a.cfg.Server.WriteTimeout, a.cfg.Server.ShutdownTimeout),
			xhttp.WithMetrics(a.gatherer, a.registerer),
			xhttp.WithLogger(a.l),
		)
	}
	return a.httpServer
}

// Run starts the HTTP server and blocks until ctx is done or a SIGINT or
// SIGTERM arrives.
func (a *App) Run(ctx context.Context) error {
	if err := a.Server().Start(); err != nil {
		a.l.Error("http server start error", applogger.Error(err))
		return err
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	select {
	case sig := <-sigCh:
		a.l.Info("shutdown signal received", applogger.String("signal", sig.String()))
	case <-ctx.Done():
		a.l.Info("context cancelled")
	}
	return a.shutdown()
}

// shutdown stops the server, then closes infrastructure clients.
func (a *App) shutdown() error {
	a.l.Info("shutting down...")
	ctx, cancel := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout+time.Second)
	defer cancel()

	var first error
	if err := a.Server().Stop(ctx); err != nil {
		a.l.Error("http shutdown error", applogger.Error(err))
		first = err
	}
	for _, c := range a.closers {
		if err := c.Close(); err != nil {
			a.l.Warn("close error", applogger.Error(err))
		}
	}
	a.l.Info("shutdown complete")
	return first
}
