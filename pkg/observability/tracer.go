// Copyright 2025 Kadir Pekel
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package observability

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

// Tracer wraps an OpenTelemetry tracer with span helpers for an agent
// loop, an LLM call, a tool execution, and a phase transition.
type Tracer struct {
	tracer        trace.Tracer
	provider      *sdktrace.TracerProvider
	debugExporter *DebugExporter
	capturePayloads bool
}

// TracerOption configures a Tracer at construction time.
type TracerOption func(*tracerOptions)

type tracerOptions struct {
	debugExporter   *DebugExporter
	capturePayloads bool
}

// WithDebugExporter attaches an in-memory span exporter alongside the
// configured exporter, so a debugging UI can inspect recent spans.
func WithDebugExporter(exporter *DebugExporter) TracerOption {
	return func(o *tracerOptions) {
		o.debugExporter = exporter
	}
}

// WithCapturePayloads enables attaching full LLM/tool request and response
// bodies to spans. Off by default: payloads can be large and sensitive.
func WithCapturePayloads(enabled bool) TracerOption {
	return func(o *tracerOptions) {
		o.capturePayloads = enabled
	}
}

// NewTracer builds a Tracer from a TracingConfig. The only supported
// exporter is "stdout", which pretty-prints spans for local debugging;
// anything else is rejected by TracingConfig.Validate before this runs.
func NewTracer(ctx context.Context, cfg *TracingConfig, opts ...TracerOption) (*Tracer, error) {
	options := &tracerOptions{}
	for _, opt := range opts {
		opt(options)
	}

	exporter, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
	if err != nil {
		return nil, fmt.Errorf("create stdout trace exporter: %w", err)
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(cfg.ServiceName),
			semconv.ServiceVersion(cfg.ServiceVersion),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("build resource: %w", err)
	}

	spanProcessors := []sdktrace.TracerProviderOption{
		sdktrace.WithBatcher(exporter),
		sdktrace.WithSampler(sdktrace.TraceIDRatioBased(cfg.SamplingRate)),
		sdktrace.WithResource(res),
	}
	if options.debugExporter != nil {
		spanProcessors = append(spanProcessors, sdktrace.WithSyncer(options.debugExporter))
	}

	provider := sdktrace.NewTracerProvider(spanProcessors...)
	otel.SetTracerProvider(provider)

	return &Tracer{
		tracer:          provider.Tracer(DefaultServiceName),
		provider:        provider,
		debugExporter:   options.debugExporter,
		capturePayloads: options.capturePayloads,
	}, nil
}

// Start opens a generic span.
func (t *Tracer) Start(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, name, opts...)
}

// StartAgentLoop opens a span for one agent-loop invocation.
func (t *Tracer) StartAgentLoop(ctx context.Context, persona, phase, taskID string) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, SpanAgentLoop, trace.WithAttributes(
		attribute.String(AttrAgentName, persona),
		attribute.String(AttrAgentPhase, phase),
		attribute.String(AttrTaskID, taskID),
	))
}

// StartLLMCall opens a span for one provider-level LLM call.
func (t *Tracer) StartLLMCall(ctx context.Context, model, provider string, maxTokens int, temperature float64) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, SpanLLMCall, trace.WithAttributes(
		attribute.String(AttrGenAISystem, provider),
		attribute.String(AttrGenAIOperationName, OpChat),
		attribute.String(AttrGenAIRequestModel, model),
		attribute.Int(AttrGenAIRequestMaxTokens, maxTokens),
		attribute.Float64(AttrGenAIRequestTemperature, temperature),
	))
}

// StartToolExecution opens a span for one tool invocation.
func (t *Tracer) StartToolExecution(ctx context.Context, toolName, taskID string) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, SpanToolExecution, trace.WithAttributes(
		attribute.String(AttrToolName, toolName),
		attribute.String(AttrGenAIOperationName, OpToolCall),
		attribute.String(AttrTaskID, taskID),
	))
}

// StartPhaseTransition opens a span covering one orchestrator phase run.
func (t *Tracer) StartPhaseTransition(ctx context.Context, phase, taskID string) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, SpanPhaseTransition, trace.WithAttributes(
		attribute.String(AttrAgentPhase, phase),
		attribute.String(AttrTaskID, taskID),
	))
}

// AddLLMUsage records token usage on an LLM span.
func (t *Tracer) AddLLMUsage(span trace.Span, inputTokens, outputTokens int) {
	span.SetAttributes(
		attribute.Int(AttrGenAIUsageInputTokens, inputTokens),
		attribute.Int(AttrGenAIUsageOutputTokens, outputTokens),
	)
}

// AddLLMFinishReason records the finish reason on an LLM span.
func (t *Tracer) AddLLMFinishReason(span trace.Span, reason string) {
	span.SetAttributes(attribute.String(AttrGenAIResponseFinishReason, reason))
}

// AddPayload attaches request/response bodies to an LLM span, when payload
// capture is enabled.
func (t *Tracer) AddPayload(span trace.Span, request, response string) {
	if !t.capturePayloads {
		return
	}
	span.SetAttributes(
		attribute.String(AttrLLMRequest, request),
		attribute.String(AttrLLMResponse, response),
	)
}

// AddToolPayload attaches argument/result bodies to a tool span, when
// payload capture is enabled.
func (t *Tracer) AddToolPayload(span trace.Span, args, result string) {
	if !t.capturePayloads {
		return
	}
	span.SetAttributes(
		attribute.String(AttrToolArgs, args),
		attribute.String(AttrToolResponse, result),
	)
}

// RecordError marks a span as failed and records the error.
func (t *Tracer) RecordError(span trace.Span, err error) {
	if err == nil {
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	span.SetAttributes(attribute.String(AttrErrorMessage, err.Error()))
}

// DebugExporter returns the attached in-memory span exporter, or nil.
func (t *Tracer) DebugExporter() *DebugExporter {
	if t == nil {
		return nil
	}
	return t.debugExporter
}

// Shutdown flushes and stops the underlying tracer provider.
func (t *Tracer) Shutdown(ctx context.Context) error {
	if t == nil || t.provider == nil {
		return nil
	}
	return t.provider.Shutdown(ctx)
}
