package telemetry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"go.opentelemetry.io/otel/trace"
)

// Config holds trace export configuration
type Config struct {
	Enabled     bool
	Endpoint    string
	ServiceName string
	// SampleRate is the fraction of connection attempts to trace, 0..1.
	SampleRate float64
}

// Telemetry manages the OpenTelemetry trace provider
type Telemetry struct {
	config   Config
	tracer   trace.Tracer
	shutdown []func(context.Context) error
}

// New creates a new telemetry instance. When disabled it returns a
// no-op tracer so callers never need a nil check.
func New(config Config) (*Telemetry, error) {
	t := &Telemetry{
		config:   config,
		shutdown: make([]func(context.Context) error, 0),
	}

	if !config.Enabled {
		t.tracer = otel.GetTracerProvider().Tracer("evtail")
		return t, nil
	}

	if err := t.initTracing(); err != nil {
		return nil, fmt.Errorf("failed to initialize tracing: %w", err)
	}

	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	return t, nil
}

// initTracing initializes the tracing provider
func (t *Telemetry) initTracing() error {
	ctx := context.Background()

	attrs := []attribute.KeyValue{
		semconv.ServiceName(t.config.ServiceName),
	}
	res, err := resource.New(
		ctx,
		resource.WithAttributes(attrs...),
		resource.WithHost(),
		resource.WithProcess(),
		resource.WithOS(),
		resource.WithTelemetrySDK(),
	)
	if err != nil {
		return fmt.Errorf("failed to create resource: %w", err)
	}

	opts := []otlptracehttp.Option{
		otlptracehttp.WithTimeout(time.Second * 30),
		otlptracehttp.WithRetry(otlptracehttp.RetryConfig{
			Enabled:         true,
			InitialInterval: 5 * time.Second,
			MaxInterval:     30 * time.Second,
			MaxElapsedTime:  time.Minute,
		}),
	}
	if t.config.Endpoint != "" {
		opts = append(opts, otlptracehttp.WithEndpoint(t.config.Endpoint))
	}

	exporter, err := otlptracehttp.New(ctx, opts...)
	if err != nil {
		return fmt.Errorf("failed to create trace exporter: %w", err)
	}

	var sampler sdktrace.Sampler
	if t.config.SampleRate > 0 && t.config.SampleRate < 1 {
		sampler = sdktrace.TraceIDRatioBased(t.config.SampleRate)
	} else {
		sampler = sdktrace.AlwaysSample()
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sampler),
	)

	otel.SetTracerProvider(tp)
	t.tracer = tp.Tracer("evtail")
	t.shutdown = append(t.shutdown, tp.Shutdown)

	return nil
}

// Tracer returns the tracer
func (t *Telemetry) Tracer() trace.Tracer {
	return t.tracer
}

// Shutdown flushes pending spans and shuts down the provider
func (t *Telemetry) Shutdown(ctx context.Context) error {
	var errs []error
	for _, fn := range t.shutdown {
		if err := fn(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}
