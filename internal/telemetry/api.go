package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// APIInstruments records a span and op2gl.api.* metrics for each outbound
// API request. Instruments come from the global providers, so they are no-ops
// unless Init enabled telemetry.
type APIInstruments struct {
	tracer   trace.Tracer
	requests metric.Int64Counter
	errs     metric.Int64Counter
	dur      metric.Float64Histogram
}

// NewAPIInstruments creates instruments under the given scope.
func NewAPIInstruments(scope string) *APIInstruments {
	m := Meter(scope)
	requests, _ := m.Int64Counter("op2gl.api.requests",
		metric.WithDescription("Total API requests sent to the target"),
	)
	errs, _ := m.Int64Counter("op2gl.api.errors",
		metric.WithDescription("API requests that failed after retries"),
	)
	dur, _ := m.Float64Histogram("op2gl.api.request.duration",
		metric.WithDescription("API request duration in milliseconds"),
		metric.WithUnit("ms"),
	)
	return &APIInstruments{
		tracer:   Tracer(scope),
		requests: requests,
		errs:     errs,
		dur:      dur,
	}
}

// Start opens a client span for method+route. The returned func ends it.
func (a *APIInstruments) Start(ctx context.Context, method, route string) (context.Context, func(status int, err error)) {
	attrs := []attribute.KeyValue{
		attribute.String("http.request.method", method),
		attribute.String("http.route", route),
	}
	ctx, span := a.tracer.Start(ctx, method+" "+route,
		trace.WithAttributes(attrs...),
		trace.WithSpanKind(trace.SpanKindClient),
	)
	a.requests.Add(ctx, 1, metric.WithAttributes(attrs...))
	start := time.Now()

	return ctx, func(status int, err error) {
		a.dur.Record(ctx, float64(time.Since(start).Milliseconds()), metric.WithAttributes(attrs...))
		if status != 0 {
			span.SetAttributes(attribute.Int("http.response.status_code", status))
		}
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			a.errs.Add(ctx, 1, metric.WithAttributes(attrs...))
		}
		span.End()
	}
}

// Counter returns an Int64Counter from the given scope, ignoring creation
// errors (the noop provider never fails).
func Counter(scope, name, description string) metric.Int64Counter {
	c, _ := Meter(scope).Int64Counter(name, metric.WithDescription(description))
	return c
}
