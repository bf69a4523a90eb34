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
	"net/http"
	"sync"
	"time"

	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
)

// noopSpan returns a span that discards everything written to it.
func noopSpan() trace.Span {
	_, span := tracenoop.NewTracerProvider().Tracer("noop").Start(context.Background(), "noop")
	return span
}

// =============================================================================
// No-op Manager
// =============================================================================

// NoopManager returns a no-operation Manager that does nothing.
// Use this when observability is completely disabled.
func NoopManager() *Manager {
	return &Manager{}
}

// =============================================================================
// No-op Tracer
// =============================================================================

// NoopTracer returns a no-operation Tracer.
type NoopTracer struct{}

// Start returns a no-op span.
func (NoopTracer) Start(ctx context.Context, _ string, _ ...trace.SpanStartOption) (context.Context, trace.Span) {
	return ctx, noopSpan()
}

// StartAgentLoop returns a no-op span.
func (NoopTracer) StartAgentLoop(ctx context.Context, _, _, _ string) (context.Context, trace.Span) {
	return ctx, noopSpan()
}

// StartLLMCall returns a no-op span.
func (NoopTracer) StartLLMCall(ctx context.Context, _, _ string, _ int, _ float64) (context.Context, trace.Span) {
	return ctx, noopSpan()
}

// StartToolExecution returns a no-op span.
func (NoopTracer) StartToolExecution(ctx context.Context, _, _ string) (context.Context, trace.Span) {
	return ctx, noopSpan()
}

// StartPhaseTransition returns a no-op span.
func (NoopTracer) StartPhaseTransition(ctx context.Context, _, _ string) (context.Context, trace.Span) {
	return ctx, noopSpan()
}

// AddLLMUsage is a no-op.
func (NoopTracer) AddLLMUsage(_ trace.Span, _, _ int) {}

// AddLLMFinishReason is a no-op.
func (NoopTracer) AddLLMFinishReason(_ trace.Span, _ string) {}

// AddPayload is a no-op.
func (NoopTracer) AddPayload(_ trace.Span, _, _ string) {}

// AddToolPayload is a no-op.
func (NoopTracer) AddToolPayload(_ trace.Span, _, _ string) {}

// RecordError is a no-op.
func (NoopTracer) RecordError(_ trace.Span, _ error) {}

// DebugExporter returns nil.
func (NoopTracer) DebugExporter() *DebugExporter { return nil }

// Shutdown is a no-op.
func (NoopTracer) Shutdown(_ context.Context) error { return nil }

// =============================================================================
// No-op Metrics
// =============================================================================

// NoopMetrics is a metrics implementation that does nothing.
type NoopMetrics struct{}

// Agent metrics - no-op
func (NoopMetrics) RecordAgentCall(_, _ string, _ time.Duration) {}
func (NoopMetrics) RecordAgentError(_, _ string)                 {}
func (NoopMetrics) IncAgentActiveRuns(_ string)                  {}
func (NoopMetrics) DecAgentActiveRuns(_ string)                  {}

// LLM metrics - no-op
func (NoopMetrics) RecordLLMCall(_, _ string, _ time.Duration) {}
func (NoopMetrics) RecordLLMTokens(_, _ string, _, _ int)      {}
func (NoopMetrics) RecordLLMError(_, _, _ string)              {}

// Tool metrics - no-op
func (NoopMetrics) RecordToolCall(_ string, _ time.Duration) {}
func (NoopMetrics) RecordToolError(_, _ string)              {}

// Phase metrics - no-op
func (NoopMetrics) RecordPhaseRun(_, _ string, _ time.Duration) {}
func (NoopMetrics) SetPhaseActive(_ string, _ int)              {}
func (NoopMetrics) RecordPhaseTransition(_, _ string)           {}

// Finding metrics - no-op
func (NoopMetrics) RecordFindingEmitted(_ string) {}
func (NoopMetrics) RecordFindingMerged(_ string)  {}

// HTTP metrics - no-op
func (NoopMetrics) RecordHTTPRequest(_, _ string, _ int, _ time.Duration, _, _ int64) {}

// Handler returns a handler that returns 503 Service Unavailable.
func (NoopMetrics) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("metrics not enabled"))
	})
}

// =============================================================================
// Recorder Interface
// =============================================================================

// Recorder defines the interface for recording metrics.
// This allows for dependency injection and easier testing.
type Recorder interface {
	// Agent metrics
	RecordAgentCall(persona, phase string, duration time.Duration)
	RecordAgentError(persona, outcome string)
	IncAgentActiveRuns(persona string)
	DecAgentActiveRuns(persona string)

	// LLM metrics
	RecordLLMCall(model, provider string, duration time.Duration)
	RecordLLMTokens(model, provider string, inputTokens, outputTokens int)
	RecordLLMError(model, provider, errorType string)

	// Tool metrics
	RecordToolCall(toolName string, duration time.Duration)
	RecordToolError(toolName, errorType string)

	// Phase metrics
	RecordPhaseRun(phase, status string, duration time.Duration)
	SetPhaseActive(phase string, count int)
	RecordPhaseTransition(from, to string)

	// Finding metrics
	RecordFindingEmitted(severity string)
	RecordFindingMerged(severity string)

	// HTTP metrics
	RecordHTTPRequest(method, path string, statusCode int, duration time.Duration, reqSize, respSize int64)
}

// Ensure implementations satisfy the interface.
var (
	_ Recorder = (*Metrics)(nil)
	_ Recorder = NoopMetrics{}
)

var (
	globalMetrics   Recorder = NoopMetrics{}
	globalMetricsMu sync.RWMutex
)

// SetGlobalMetrics installs the process-wide metrics recorder. Call sites
// that don't have a Manager threaded through them (deep helpers, package
// init) fall back to this instead of skipping metrics entirely.
func SetGlobalMetrics(r Recorder) {
	globalMetricsMu.Lock()
	defer globalMetricsMu.Unlock()
	if r == nil {
		r = NoopMetrics{}
	}
	globalMetrics = r
}

// GetGlobalMetrics returns the process-wide metrics recorder, defaulting to
// a no-op implementation.
func GetGlobalMetrics() Recorder {
	globalMetricsMu.RLock()
	defer globalMetricsMu.RUnlock()
	return globalMetrics
}
