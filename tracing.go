// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package jobsystem

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/jaeger"
	"go.opentelemetry.io/otel/sdk/resource"
	tracesdk "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"go.opentelemetry.io/otel/trace"
)

const tracerComponent = "jobsystem"

// Tracer wraps an OpenTelemetry tracer for the scheduler's own spans:
// job execution, counter waits, and SPMD sync/broadcast. A zero-value
// Tracer (nil *Tracer, or one built with NewNoopTracer) makes every
// Start call a no-op, so tracing never changes scheduling behavior and
// Manager never needs a global provider the way the original MinIO
// wiring installs one with otel.SetTracerProvider.
type Tracer struct {
	tracer trace.Tracer
}

// NewJaegerTracer builds a Tracer that exports to a Jaeger collector at
// endpoint, tagged with serviceName/serviceVersion as OpenTelemetry
// resource attributes. Callers own the returned provider's lifetime via
// the returned shutdown func.
func NewJaegerTracer(endpoint, serviceName, serviceVersion string) (*Tracer, func(context.Context) error, error) {
	exp, err := jaeger.New(jaeger.WithCollectorEndpoint(jaeger.WithEndpoint(endpoint)))
	if err != nil {
		return nil, nil, fmt.Errorf("jobsystem: create jaeger exporter: %w", err)
	}

	res, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(serviceName),
			semconv.ServiceVersion(serviceVersion),
		),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("jobsystem: build resource: %w", err)
	}

	tp := tracesdk.NewTracerProvider(
		tracesdk.WithBatcher(exp),
		tracesdk.WithResource(res),
	)

	return &Tracer{tracer: tp.Tracer(tracerComponent)}, tp.Shutdown, nil
}

// NewNoopTracer returns a Tracer backed by OpenTelemetry's global no-op
// implementation, for callers that want tracing calls to compile and
// cost nothing without configuring a real exporter.
func NewNoopTracer() *Tracer {
	return &Tracer{tracer: otel.Tracer(tracerComponent)}
}

// startSpan starts a span named op if t is non-nil, otherwise returns
// ctx unchanged and a span that discards every call made on it.
func (t *Tracer) startSpan(ctx context.Context, op string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	if t == nil || t.tracer == nil {
		return ctx, trace.SpanFromContext(ctx)
	}
	ctx, span := t.tracer.Start(ctx, op)
	if len(attrs) > 0 {
		span.SetAttributes(attrs...)
	}
	return ctx, span
}
