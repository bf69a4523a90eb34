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
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics provides Prometheus metrics collection for the audit engine:
// per-phase orchestrator activity, the agent loop, LLM calls, tool
// executions, and the SSE bridge's HTTP surface.
type Metrics struct {
	config   *MetricsConfig
	registry *prometheus.Registry

	// Agent metrics
	agentCalls        *prometheus.CounterVec
	agentCallDuration *prometheus.HistogramVec
	agentErrors       *prometheus.CounterVec
	agentActiveRuns   *prometheus.GaugeVec

	// LLM metrics
	llmCalls        *prometheus.CounterVec
	llmCallDuration *prometheus.HistogramVec
	llmTokensInput  *prometheus.CounterVec
	llmTokensOutput *prometheus.CounterVec
	llmErrors       *prometheus.CounterVec

	// Tool metrics
	toolCalls        *prometheus.CounterVec
	toolCallDuration *prometheus.HistogramVec
	toolErrors       *prometheus.CounterVec

	// Phase metrics (orchestrator)
	phaseRuns        *prometheus.CounterVec
	phaseDuration    *prometheus.HistogramVec
	phaseActive      *prometheus.GaugeVec
	phaseTransitions *prometheus.CounterVec

	// Finding metrics (dedup/scorer)
	findingsEmitted *prometheus.CounterVec
	findingsMerged  *prometheus.CounterVec

	// HTTP metrics (SSE bridge)
	httpRequests     *prometheus.CounterVec
	httpDuration     *prometheus.HistogramVec
	httpRequestSize  *prometheus.HistogramVec
	httpResponseSize *prometheus.HistogramVec
}

// NewMetrics creates a new Metrics instance from configuration.
func NewMetrics(cfg *MetricsConfig) (*Metrics, error) {
	if cfg == nil || !cfg.Enabled {
		return nil, nil
	}

	cfg.SetDefaults()

	m := &Metrics{
		config:   cfg,
		registry: prometheus.NewRegistry(),
	}

	m.initAgentMetrics()
	m.initLLMMetrics()
	m.initToolMetrics()
	m.initPhaseMetrics()
	m.initFindingMetrics()
	m.initHTTPMetrics()

	return m, nil
}

func (m *Metrics) initAgentMetrics() {
	m.agentCalls = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace:   m.config.Namespace,
			Subsystem:   "agent",
			Name:        "calls_total",
			Help:        "Total number of agent loop invocations",
			ConstLabels: m.config.ConstLabels,
		},
		[]string{"persona", "phase"},
	)

	m.agentCallDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace:   m.config.Namespace,
			Subsystem:   "agent",
			Name:        "call_duration_seconds",
			Help:        "Agent loop duration in seconds",
			Buckets:     prometheus.ExponentialBuckets(0.5, 2, 12), // 500ms to ~17min
			ConstLabels: m.config.ConstLabels,
		},
		[]string{"persona", "phase"},
	)

	m.agentErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace:   m.config.Namespace,
			Subsystem:   "agent",
			Name:        "errors_total",
			Help:        "Total number of agent loop errors, by outcome",
			ConstLabels: m.config.ConstLabels,
		},
		[]string{"persona", "outcome"},
	)

	m.agentActiveRuns = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace:   m.config.Namespace,
			Subsystem:   "agent",
			Name:        "active_runs",
			Help:        "Number of currently active agent loops",
			ConstLabels: m.config.ConstLabels,
		},
		[]string{"persona"},
	)

	m.registry.MustRegister(m.agentCalls, m.agentCallDuration, m.agentErrors, m.agentActiveRuns)
}

func (m *Metrics) initLLMMetrics() {
	m.llmCalls = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace:   m.config.Namespace,
			Subsystem:   "llm",
			Name:        "calls_total",
			Help:        "Total number of LLM provider calls",
			ConstLabels: m.config.ConstLabels,
		},
		[]string{"model", "provider"},
	)

	m.llmCallDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace:   m.config.Namespace,
			Subsystem:   "llm",
			Name:        "call_duration_seconds",
			Help:        "LLM provider call duration in seconds",
			Buckets:     prometheus.ExponentialBuckets(0.1, 2, 12), // 100ms to 204s
			ConstLabels: m.config.ConstLabels,
		},
		[]string{"model", "provider"},
	)

	m.llmTokensInput = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace:   m.config.Namespace,
			Subsystem:   "llm",
			Name:        "tokens_input_total",
			Help:        "Total number of input tokens consumed",
			ConstLabels: m.config.ConstLabels,
		},
		[]string{"model", "provider"},
	)

	m.llmTokensOutput = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace:   m.config.Namespace,
			Subsystem:   "llm",
			Name:        "tokens_output_total",
			Help:        "Total number of output tokens generated",
			ConstLabels: m.config.ConstLabels,
		},
		[]string{"model", "provider"},
	)

	m.llmErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace:   m.config.Namespace,
			Subsystem:   "llm",
			Name:        "errors_total",
			Help:        "Total number of LLM provider errors",
			ConstLabels: m.config.ConstLabels,
		},
		[]string{"model", "provider", "error_type"},
	)

	m.registry.MustRegister(m.llmCalls, m.llmCallDuration, m.llmTokensInput, m.llmTokensOutput, m.llmErrors)
}

func (m *Metrics) initToolMetrics() {
	m.toolCalls = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace:   m.config.Namespace,
			Subsystem:   "tool",
			Name:        "calls_total",
			Help:        "Total number of tool invocations",
			ConstLabels: m.config.ConstLabels,
		},
		[]string{"tool_name"},
	)

	m.toolCallDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace:   m.config.Namespace,
			Subsystem:   "tool",
			Name:        "call_duration_seconds",
			Help:        "Tool execution duration in seconds",
			Buckets:     prometheus.ExponentialBuckets(0.001, 2, 15), // 1ms to 16s
			ConstLabels: m.config.ConstLabels,
		},
		[]string{"tool_name"},
	)

	m.toolErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace:   m.config.Namespace,
			Subsystem:   "tool",
			Name:        "errors_total",
			Help:        "Total number of tool errors",
			ConstLabels: m.config.ConstLabels,
		},
		[]string{"tool_name", "error_type"},
	)

	m.registry.MustRegister(m.toolCalls, m.toolCallDuration, m.toolErrors)
}

func (m *Metrics) initPhaseMetrics() {
	m.phaseRuns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace:   m.config.Namespace,
			Subsystem:   "phase",
			Name:        "runs_total",
			Help:        "Total number of orchestrator phase runs",
			ConstLabels: m.config.ConstLabels,
		},
		[]string{"phase", "status"},
	)

	m.phaseDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace:   m.config.Namespace,
			Subsystem:   "phase",
			Name:        "duration_seconds",
			Help:        "Orchestrator phase duration in seconds",
			Buckets:     prometheus.ExponentialBuckets(1, 2, 14), // 1s to ~4.5h
			ConstLabels: m.config.ConstLabels,
		},
		[]string{"phase"},
	)

	m.phaseActive = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace:   m.config.Namespace,
			Subsystem:   "phase",
			Name:        "active",
			Help:        "Number of tasks currently in a given phase",
			ConstLabels: m.config.ConstLabels,
		},
		[]string{"phase"},
	)

	m.phaseTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace:   m.config.Namespace,
			Subsystem:   "phase",
			Name:        "transitions_total",
			Help:        "Total number of phase-to-phase transitions",
			ConstLabels: m.config.ConstLabels,
		},
		[]string{"from", "to"},
	)

	m.registry.MustRegister(m.phaseRuns, m.phaseDuration, m.phaseActive, m.phaseTransitions)
}

func (m *Metrics) initFindingMetrics() {
	m.findingsEmitted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace:   m.config.Namespace,
			Subsystem:   "finding",
			Name:        "emitted_total",
			Help:        "Total number of findings emitted, by severity",
			ConstLabels: m.config.ConstLabels,
		},
		[]string{"severity"},
	)

	m.findingsMerged = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace:   m.config.Namespace,
			Subsystem:   "finding",
			Name:        "merged_total",
			Help:        "Total number of findings merged into an existing fingerprint",
			ConstLabels: m.config.ConstLabels,
		},
		[]string{"severity"},
	)

	m.registry.MustRegister(m.findingsEmitted, m.findingsMerged)
}

func (m *Metrics) initHTTPMetrics() {
	m.httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace:   m.config.Namespace,
			Subsystem:   "http",
			Name:        "requests_total",
			Help:        "Total number of HTTP requests",
			ConstLabels: m.config.ConstLabels,
		},
		[]string{"method", "path", "status"},
	)

	m.httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace:   m.config.Namespace,
			Subsystem:   "http",
			Name:        "request_duration_seconds",
			Help:        "HTTP request duration in seconds",
			Buckets:     prometheus.DefBuckets,
			ConstLabels: m.config.ConstLabels,
		},
		[]string{"method", "path"},
	)

	m.httpRequestSize = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace:   m.config.Namespace,
			Subsystem:   "http",
			Name:        "request_size_bytes",
			Help:        "HTTP request size in bytes",
			Buckets:     prometheus.ExponentialBuckets(100, 10, 7), // 100B to 100MB
			ConstLabels: m.config.ConstLabels,
		},
		[]string{"method", "path"},
	)

	m.httpResponseSize = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace:   m.config.Namespace,
			Subsystem:   "http",
			Name:        "response_size_bytes",
			Help:        "HTTP response size in bytes",
			Buckets:     prometheus.ExponentialBuckets(100, 10, 7), // 100B to 100MB
			ConstLabels: m.config.ConstLabels,
		},
		[]string{"method", "path"},
	)

	m.registry.MustRegister(m.httpRequests, m.httpDuration, m.httpRequestSize, m.httpResponseSize)
}

// =============================================================================
// Agent Metrics
// =============================================================================

// RecordAgentCall records an agent loop invocation.
func (m *Metrics) RecordAgentCall(persona, phase string, duration time.Duration) {
	if m == nil {
		return
	}
	m.agentCalls.WithLabelValues(persona, phase).Inc()
	m.agentCallDuration.WithLabelValues(persona, phase).Observe(duration.Seconds())
}

// RecordAgentError records an agent loop outcome that was not success.
func (m *Metrics) RecordAgentError(persona, outcome string) {
	if m == nil {
		return
	}
	m.agentErrors.WithLabelValues(persona, outcome).Inc()
}

// IncAgentActiveRuns increments the active runs gauge.
func (m *Metrics) IncAgentActiveRuns(persona string) {
	if m == nil {
		return
	}
	m.agentActiveRuns.WithLabelValues(persona).Inc()
}

// DecAgentActiveRuns decrements the active runs gauge.
func (m *Metrics) DecAgentActiveRuns(persona string) {
	if m == nil {
		return
	}
	m.agentActiveRuns.WithLabelValues(persona).Dec()
}

// =============================================================================
// LLM Metrics
// =============================================================================

// RecordLLMCall records an LLM provider call.
func (m *Metrics) RecordLLMCall(model, provider string, duration time.Duration) {
	if m == nil {
		return
	}
	m.llmCalls.WithLabelValues(model, provider).Inc()
	m.llmCallDuration.WithLabelValues(model, provider).Observe(duration.Seconds())
}

// RecordLLMTokens records token usage.
func (m *Metrics) RecordLLMTokens(model, provider string, inputTokens, outputTokens int) {
	if m == nil {
		return
	}
	m.llmTokensInput.WithLabelValues(model, provider).Add(float64(inputTokens))
	m.llmTokensOutput.WithLabelValues(model, provider).Add(float64(outputTokens))
}

// RecordLLMError records an LLM provider error.
func (m *Metrics) RecordLLMError(model, provider, errorType string) {
	if m == nil {
		return
	}
	m.llmErrors.WithLabelValues(model, provider, errorType).Inc()
}

// =============================================================================
// Tool Metrics
// =============================================================================

// RecordToolCall records a tool invocation.
func (m *Metrics) RecordToolCall(toolName string, duration time.Duration) {
	if m == nil {
		return
	}
	m.toolCalls.WithLabelValues(toolName).Inc()
	m.toolCallDuration.WithLabelValues(toolName).Observe(duration.Seconds())
}

// RecordToolError records a tool error.
func (m *Metrics) RecordToolError(toolName, errorType string) {
	if m == nil {
		return
	}
	m.toolErrors.WithLabelValues(toolName, errorType).Inc()
}

// =============================================================================
// Phase Metrics
// =============================================================================

// RecordPhaseRun records one orchestrator phase run reaching a terminal status.
func (m *Metrics) RecordPhaseRun(phase, status string, duration time.Duration) {
	if m == nil {
		return
	}
	m.phaseRuns.WithLabelValues(phase, status).Inc()
	m.phaseDuration.WithLabelValues(phase).Observe(duration.Seconds())
}

// SetPhaseActive sets the number of tasks currently in the given phase.
func (m *Metrics) SetPhaseActive(phase string, count int) {
	if m == nil {
		return
	}
	m.phaseActive.WithLabelValues(phase).Set(float64(count))
}

// RecordPhaseTransition records a phase-to-phase transition in the DAG.
func (m *Metrics) RecordPhaseTransition(from, to string) {
	if m == nil {
		return
	}
	m.phaseTransitions.WithLabelValues(from, to).Inc()
}

// =============================================================================
// Finding Metrics
// =============================================================================

// RecordFindingEmitted records a newly-created finding fingerprint.
func (m *Metrics) RecordFindingEmitted(severity string) {
	if m == nil {
		return
	}
	m.findingsEmitted.WithLabelValues(severity).Inc()
}

// RecordFindingMerged records a finding merged into an existing fingerprint.
func (m *Metrics) RecordFindingMerged(severity string) {
	if m == nil {
		return
	}
	m.findingsMerged.WithLabelValues(severity).Inc()
}

// =============================================================================
// HTTP Metrics
// =============================================================================

// RecordHTTPRequest records an HTTP request against the SSE bridge.
func (m *Metrics) RecordHTTPRequest(method, path string, statusCode int, duration time.Duration, reqSize, respSize int64) {
	if m == nil {
		return
	}
	status := statusCodeLabel(statusCode)
	m.httpRequests.WithLabelValues(method, path, status).Inc()
	m.httpDuration.WithLabelValues(method, path).Observe(duration.Seconds())
	if reqSize > 0 {
		m.httpRequestSize.WithLabelValues(method, path).Observe(float64(reqSize))
	}
	if respSize > 0 {
		m.httpResponseSize.WithLabelValues(method, path).Observe(float64(respSize))
	}
}

// statusCodeLabel converts a status code to a label string.
func statusCodeLabel(code int) string {
	switch {
	case code >= 200 && code < 300:
		return "2xx"
	case code >= 300 && code < 400:
		return "3xx"
	case code >= 400 && code < 500:
		return "4xx"
	case code >= 500:
		return "5xx"
	default:
		return "unknown"
	}
}

// =============================================================================
// HTTP Handler
// =============================================================================

// Handler returns an HTTP handler for the Prometheus metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		})
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry returns the Prometheus registry.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}
