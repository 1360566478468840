/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package tracing provides OpenTelemetry tracing for job executions.
package tracing

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"go.opentelemetry.io/otel/trace"

	"github.com/altairalabs/jobrunner/internal/jobs"
)

const (
	// TracerName is the name of the tracer used for execution spans.
	TracerName = "jobrunner"
)

// Span attribute keys. The k8s.* keys follow the resource semantic conventions.
const (
	AttrTaskID      = "jobrunner.task.id"
	AttrExecutionID = "jobrunner.execution.id"
	AttrAdopted     = "jobrunner.adopted"
	AttrState       = "jobrunner.state"
	AttrReason      = "jobrunner.reason"
	AttrExitCode    = "jobrunner.exit_code"
	AttrDeleted     = "jobrunner.deleted"
	AttrJobName     = "k8s.job.name"
	AttrJobUID      = "k8s.job.uid"
	AttrNamespace   = "k8s.namespace.name"
)

// Config holds tracing configuration.
type Config struct {
	// Enabled enables tracing.
	Enabled bool

	// Endpoint is the OTLP collector endpoint (e.g., "localhost:4317").
	Endpoint string

	// ServiceName is the service name for traces.
	ServiceName string

	// ServiceVersion is the service version.
	ServiceVersion string

	// SampleRate is the sampling rate (0.0 to 1.0). Default 1.0 (all traces).
	SampleRate float64

	// Insecure disables TLS for the OTLP connection.
	Insecure bool
}

// Provider wraps the OpenTelemetry TracerProvider. A nil *Provider is valid
// and produces no-op spans.
type Provider struct {
	tp     *sdktrace.TracerProvider
	tracer trace.Tracer
}

// NewProvider creates a new tracing provider with the given configuration.
func NewProvider(ctx context.Context, cfg Config) (*Provider, error) {
	if !cfg.Enabled {
		return &Provider{tracer: otel.Tracer(TracerName)}, nil
	}

	if cfg.ServiceName == "" {
		cfg.ServiceName = "jobrunner"
	}
	if cfg.SampleRate == 0 {
		cfg.SampleRate = 1.0
	}

	opts := []otlptracegrpc.Option{
		otlptracegrpc.WithEndpoint(cfg.Endpoint),
	}
	if cfg.Insecure {
		opts = append(opts, otlptracegrpc.WithInsecure())
	}
	exporter, err := otlptrace.New(ctx, otlptracegrpc.NewClient(opts...))
	if err != nil {
		return nil, fmt.Errorf("failed to create OTLP exporter: %w", err)
	}

	// A standalone resource avoids schema URL conflicts with resource.Default().
	res := resource.NewWithAttributes(
		semconv.SchemaURL,
		semconv.ServiceName(cfg.ServiceName),
		semconv.ServiceVersion(cfg.ServiceVersion),
	)

	var sampler sdktrace.Sampler
	switch {
	case cfg.SampleRate >= 1.0:
		sampler = sdktrace.AlwaysSample()
	case cfg.SampleRate <= 0:
		sampler = sdktrace.NeverSample()
	default:
		sampler = sdktrace.TraceIDRatioBased(cfg.SampleRate)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sampler),
	)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	return &Provider{tp: tp, tracer: tp.Tracer(TracerName)}, nil
}

// NewTestProvider creates a Provider from a pre-configured TracerProvider.
// This is intended for tests that supply an in-memory exporter.
func NewTestProvider(tp *sdktrace.TracerProvider) *Provider {
	return &Provider{tp: tp, tracer: tp.Tracer(TracerName)}
}

// Tracer returns the tracer for creating spans.
func (p *Provider) Tracer() trace.Tracer {
	if p == nil || p.tracer == nil {
		return otel.Tracer(TracerName)
	}
	return p.tracer
}

// Shutdown flushes and shuts down the tracer provider.
func (p *Provider) Shutdown(ctx context.Context) error {
	if p != nil && p.tp != nil {
		return p.tp.Shutdown(ctx)
	}
	return nil
}

// StartExecutionSpan starts the root span of one task attempt.
func (p *Provider) StartExecutionSpan(ctx context.Context, taskID, executionID string) (context.Context, trace.Span) {
	return p.Tracer().Start(ctx, "execution.run",
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(
			attribute.String(AttrTaskID, taskID),
			attribute.String(AttrExecutionID, executionID),
		),
	)
}

// StartSubmitSpan starts a span for creating or adopting the Job.
func (p *Provider) StartSubmitSpan(ctx context.Context, jobName, namespace string) (context.Context, trace.Span) {
	return p.Tracer().Start(ctx, "job.submit",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String(AttrJobName, jobName),
			attribute.String(AttrNamespace, namespace),
		),
	)
}

// StartCleanupSpan starts a span for deleting or retaining the Job.
func (p *Provider) StartCleanupSpan(ctx context.Context, h jobs.RunHandle) (context.Context, trace.Span) {
	return p.Tracer().Start(ctx, "job.cleanup",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String(AttrJobName, h.Name),
			attribute.String(AttrNamespace, h.Namespace),
		),
	)
}

// AddHandle records the submitted Job on a span.
func AddHandle(span trace.Span, h jobs.RunHandle) {
	span.SetAttributes(
		attribute.String(AttrJobName, h.Name),
		attribute.String(AttrNamespace, h.Namespace),
		attribute.String(AttrJobUID, string(h.UID)),
		attribute.Bool(AttrAdopted, h.Adopted),
	)
}

// AddOutcome records the terminal state of an execution. Only Succeeded
// marks the span successful.
func AddOutcome(span trace.Span, state jobs.State, reason string, exitCode *int32, deleted bool) {
	attrs := []attribute.KeyValue{
		attribute.String(AttrState, string(state)),
		attribute.String(AttrReason, reason),
		attribute.Bool(AttrDeleted, deleted),
	}
	if exitCode != nil {
		attrs = append(attrs, attribute.Int(AttrExitCode, int(*exitCode)))
	}
	span.SetAttributes(attrs...)
	if state == jobs.StateSucceeded {
		SetSuccess(span)
		return
	}
	span.SetStatus(codes.Error, string(state))
}

// RecordError records an error on the span.
func RecordError(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
}

// SetSuccess marks the span as successful.
func SetSuccess(span trace.Span) {
	span.SetStatus(codes.Ok, "success")
}
