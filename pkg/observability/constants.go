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

// Package observability provides OpenTelemetry tracing and Prometheus
// metrics for every layer of the audit engine: the agent loop, the tool
// executor, the LLM client pool, and the phase orchestrator.
package observability

// =============================================================================
// Service Attributes (OpenTelemetry Semantic Conventions)
// =============================================================================

const (
	AttrServiceName    = "service.name"
	AttrServiceVersion = "service.version"
)

// =============================================================================
// GenAI Semantic Conventions (OpenTelemetry GenAI SIG aligned)
// =============================================================================

const (
	AttrGenAISystem               = "gen_ai.system"
	AttrGenAIOperationName        = "gen_ai.operation.name"
	AttrGenAIRequestModel         = "gen_ai.request.model"
	AttrGenAIRequestTemperature   = "gen_ai.request.temperature"
	AttrGenAIRequestTopP          = "gen_ai.request.top_p"
	AttrGenAIRequestMaxTokens     = "gen_ai.request.max_tokens"
	AttrGenAIResponseFinishReason = "gen_ai.response.finish_reason"
	AttrGenAIUsageInputTokens     = "gen_ai.usage.input_tokens"
	AttrGenAIUsageOutputTokens    = "gen_ai.usage.output_tokens"
	AttrGenAIToolName             = "gen_ai.tool.name"
	AttrGenAIToolDescription      = "gen_ai.tool.description"
	AttrGenAIToolCallID           = "gen_ai.tool.call.id"
)

// =============================================================================
// Engine-Specific Attributes
// =============================================================================

const (
	// AttrAgentName identifies the agent persona running a phase.
	AttrAgentName = "auditengine.agent.name"
	// AttrAgentPhase is the orchestrator phase a span belongs to.
	AttrAgentPhase = "auditengine.agent.phase"
	// AttrTaskID is the task a span belongs to.
	AttrTaskID = "auditengine.task_id"
	// AttrEventID is the event-bus sequence/id a span corresponds to,
	// used by DebugExporter to index spans for UI lookup.
	AttrEventID = "auditengine.event_id"
	// AttrToolName is the tool being invoked.
	AttrToolName = "tool.name"
	// AttrLLMRequest/Response/ToolArgs/ToolResponse hold serialized
	// payloads, only attached when capture-payloads is enabled.
	AttrLLMRequest    = "auditengine.llm.request"
	AttrLLMResponse   = "auditengine.llm.response"
	AttrToolArgs      = "auditengine.tool.args"
	AttrToolResponse  = "auditengine.tool.response"
	AttrFindingSev    = "auditengine.finding.severity"
	AttrFindingStatus = "auditengine.finding.status"
)

// =============================================================================
// HTTP Attributes (SSE bridge, the one HTTP surface the engine owns)
// =============================================================================

const (
	AttrHTTPMethod       = "http.method"
	AttrHTTPPath         = "http.route"
	AttrHTTPStatusCode   = "http.status_code"
	AttrHTTPRequestSize  = "http.request.body.size"
	AttrHTTPResponseSize = "http.response.body.size"
)

// =============================================================================
// Error Attributes
// =============================================================================

const (
	AttrErrorType    = "error.type"
	AttrErrorMessage = "error.message"
)

// =============================================================================
// Span Names
// =============================================================================

const (
	// SpanAgentLoop is the top-level span for one agent-loop invocation.
	SpanAgentLoop = "auditengine.agent.loop"
	// SpanLLMCall is a span for an LLM API call.
	SpanLLMCall = "auditengine.llm.call"
	// SpanToolExecution is a span for tool execution (run_tool).
	SpanToolExecution = "auditengine.tool.execute"
	// SpanPhaseTransition is a span for one orchestrator phase.
	SpanPhaseTransition = "auditengine.phase.run"
	// SpanHTTPRequest is a span for HTTP request handling (the SSE bridge).
	SpanHTTPRequest = "auditengine.http.request"
)

// =============================================================================
// Default Values
// =============================================================================

const (
	DefaultServiceName  = "auditengine"
	DefaultSamplingRate = 1.0
	DefaultMetricsPath  = "/metrics"
)

// =============================================================================
// GenAI Operation Names (for AttrGenAIOperationName)
// =============================================================================

const (
	OpChat       = "chat"
	OpToolCall   = "execute_tool"
)
