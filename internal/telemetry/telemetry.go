// Package telemetry records what a migration run did to the target as
// OpenTelemetry spans and metrics: one span per API request, plus counters
// for placeholders and requests.
//
// It is off unless telemetry.enabled is set. When on, data goes to the OTLP
// endpoint in telemetry.endpoint, or else as JSON to telemetry.file (stderr
// when empty). Stdout is never used because it carries the run report.
package telemetry

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/sdk/resource"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
)

// Options select where telemetry goes.
type Options struct {
	Enabled  bool
	Service  string
	Version  string
	Endpoint string // OTLP/HTTP host:port; wins over File
	File     string // JSON output; stderr when empty
}

// run holds what Shutdown must flush and close.
var run struct {
	tp  *sdktrace.TracerProvider
	mp  *sdkmetric.MeterProvider
	out io.Closer
}

// Init installs the global providers. Disabled telemetry installs no-op
// providers so instruments cost nothing.
func Init(ctx context.Context, opts Options) error {
	if !opts.Enabled {
		otel.SetTracerProvider(tracenoop.NewTracerProvider())
		otel.SetMeterProvider(metricnoop.NewMeterProvider())
		return nil
	}

	res := resource.NewSchemaless(
		attribute.String("service.name", opts.Service),
		attribute.String("service.version", opts.Version),
	)

	var (
		spans   sdktrace.SpanExporter
		metrics sdkmetric.Exporter
		err     error
	)
	if opts.Endpoint != "" {
		spans, metrics, err = otlpExporters(ctx, opts.Endpoint)
	} else {
		spans, metrics, err = jsonExporters(opts.File)
	}
	if err != nil {
		return fmt.Errorf("telemetry: %w", err)
	}

	run.tp = sdktrace.NewTracerProvider(
		sdktrace.WithResource(res),
		sdktrace.WithBatcher(spans),
	)
	// A run is short; the reader flushes on Shutdown.
	run.mp = sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(metrics)),
	)
	otel.SetTracerProvider(run.tp)
	otel.SetMeterProvider(run.mp)
	return nil
}

func otlpExporters(ctx context.Context, endpoint string) (sdktrace.SpanExporter, sdkmetric.Exporter, error) {
	spans, err := otlptracehttp.New(ctx, otlptracehttp.WithEndpoint(endpoint), otlptracehttp.WithInsecure())
	if err != nil {
		return nil, nil, fmt.Errorf("otlp trace exporter: %w", err)
	}
	metrics, err := otlpmetrichttp.New(ctx, otlpmetrichttp.WithEndpoint(endpoint), otlpmetrichttp.WithInsecure())
	if err != nil {
		return nil, nil, fmt.Errorf("otlp metric exporter: %w", err)
	}
	return spans, metrics, nil
}

func jsonExporters(path string) (sdktrace.SpanExporter, sdkmetric.Exporter, error) {
	var w io.Writer = os.Stderr
	if path != "" {
		f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
		if err != nil {
			return nil, nil, fmt.Errorf("open %s: %w", path, err)
		}
		w, run.out = f, f
	}
	spans, err := stdouttrace.New(stdouttrace.WithWriter(w))
	if err != nil {
		return nil, nil, err
	}
	metrics, err := stdoutmetric.New(stdoutmetric.WithWriter(w))
	if err != nil {
		return nil, nil, err
	}
	return spans, metrics, nil
}

// Tracer returns a tracer for the given instrumentation scope.
func Tracer(scope string) trace.Tracer {
	return otel.Tracer(scope)
}

// Meter returns a meter for the given instrumentation scope.
func Meter(scope string) metric.Meter {
	return otel.Meter(scope)
}

// Shutdown flushes pending spans and metrics. Safe to call when Init
// installed no-op providers.
func Shutdown(ctx context.Context) error {
	var errs []error
	if run.tp != nil {
		errs = append(errs, run.tp.Shutdown(ctx))
	}
	if run.mp != nil {
		errs = append(errs, run.mp.Shutdown(ctx))
	}
	if run.out != nil {
		errs = append(errs, run.out.Close())
	}
	run.tp, run.mp, run.out = nil, nil, nil
	return errors.Join(errs...)
}
