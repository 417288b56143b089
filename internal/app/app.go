// Package app wires the evtail process: the stream client, event
// printing, the metrics endpoint and trace export.
package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"eventsource/internal/config"
	"eventsource/internal/telemetry"
	"eventsource/pkg/client"
	"eventsource/pkg/events"
	"eventsource/pkg/metrics"
	"eventsource/pkg/sse"
)

// App is one evtail run: a single subscription plus its observability
// side-cars.
type App struct {
	config  *config.Config
	logger  *slog.Logger
	client  *client.Client
	printer *Printer
	tel     *telemetry.Telemetry

	metricsSrv *http.Server
}

// New builds the application from configuration. Events are written
// to out.
func New(cfg *config.Config, out io.Writer, logger *slog.Logger) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}

	tel, err := telemetry.New(telemetry.Config{
		Enabled:     cfg.Telemetry.Enabled,
		Endpoint:    cfg.Telemetry.Endpoint,
		ServiceName: cfg.Telemetry.ServiceName,
		SampleRate:  cfg.Telemetry.SampleRate,
	})
	if err != nil {
		return nil, fmt.Errorf("initializing telemetry: %w", err)
	}

	clientCfg, err := cfg.ClientConfig()
	if err != nil {
		return nil, fmt.Errorf("building client config: %w", err)
	}
	cl := client.New(cfg.Stream.URL, clientCfg, logger).
		WithCredentials(cfg.Stream.WithCredentials).
		WithTracer(tel.Tracer())

	if cfg.Metrics.Enabled {
		cl.WithMetrics(metrics.New())
	}
	if len(cfg.Stream.Headers) > 0 {
		h := make(http.Header, len(cfg.Stream.Headers))
		for k, v := range cfg.Stream.Headers {
			h.Set(k, v)
		}
		cl.WithHeaders(h)
	}
	if cfg.Stream.LastEventID != "" {
		cl.WithLastEventID(cfg.Stream.LastEventID)
	}

	a := &App{
		config:  cfg,
		logger:  logger.With("component", "app"),
		client:  cl,
		printer: NewPrinter(out, cfg.Output),
		tel:     tel,
	}
	a.registerListeners()
	return a, nil
}

func (a *App) registerListeners() {
	a.client.OnOpen(func() {
		a.logger.Info("stream open", "url", a.client.URL())
	})
	a.client.OnError(func(err error) {
		a.logger.Warn("stream error", "error", err)
	})
	a.client.AddEventListener(events.Any, func(p any) {
		e, ok := p.(sse.Event)
		if !ok {
			return
		}
		if err := a.printer.Print(e); err != nil {
			a.logger.Error("failed to write event", "error", err)
		}
	})
}

// Client exposes the underlying stream client
func (a *App) Client() *client.Client {
	return a.client
}

// Start begins the subscription and, when enabled, serves the metrics
// endpoint. It is non-blocking; use Wait to block until the subscription
// ends.
func (a *App) Start(ctx context.Context) error {
	if a.config.Metrics.Enabled {
		a.startMetricsServer()
	}
	return a.client.Connect(ctx)
}

func (a *App) startMetricsServer() {
	path := a.config.Metrics.Path
	if path == "" {
		path = "/metrics"
	}
	mux := http.NewServeMux()
	mux.Handle(path, metrics.Handler())

	a.metricsSrv = &http.Server{
		Addr:    a.config.Metrics.Address,
		Handler: mux,
	}

	a.logger.Info("metrics endpoint enabled", "address", a.config.Metrics.Address, "path", path)
	go func() {
		if err := a.metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			a.logger.Error("metrics server failed", "error", err)
		}
	}()
}

// Wait blocks until the subscription terminates or ctx is cancelled
func (a *App) Wait(ctx context.Context) {
	select {
	case <-ctx.Done():
	case <-a.client.Done():
	}
}

// Stop closes the subscription and shuts down the side-cars
func (a *App) Stop(ctx context.Context) error {
	a.client.Close()

	var wg sync.WaitGroup
	var errMu sync.Mutex
	var errs []error

	if a.metricsSrv != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := a.metricsSrv.Shutdown(ctx); err != nil {
				errMu.Lock()
				errs = append(errs, fmt.Errorf("stopping metrics server: %w", err))
				errMu.Unlock()
			}
		}()
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
		if err := a.tel.Shutdown(shutdownCtx); err != nil {
			errMu.Lock()
			errs = append(errs, fmt.Errorf("stopping telemetry: %w", err))
			errMu.Unlock()
		}
	}()

	wg.Wait()

	if len(errs) > 0 {
		return fmt.Errorf("errors during shutdown: %v", errs)
	}
	a.logger.Info("stopped")
	return nil
}
