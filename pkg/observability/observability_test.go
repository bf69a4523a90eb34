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
	"testing"
	"time"
)

func newTestMetrics(t *testing.T) *Metrics {
	t.Helper()
	cfg := &MetricsConfig{Enabled: true}
	m, err := NewMetrics(cfg)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return m
}

func TestMetricsRecording(t *testing.T) {
	m := newTestMetrics(t)

	m.RecordAgentCall("recon", "recon", 100*time.Millisecond)
	m.RecordAgentCall("analysis:sqli", "analysis", 200*time.Millisecond)
	m.RecordAgentError("analysis:sqli", "iteration_limit")
	m.IncAgentActiveRuns("recon")
	m.DecAgentActiveRuns("recon")
}

func TestToolMetricsRecording(t *testing.T) {
	m := newTestMetrics(t)

	m.RecordToolCall("search", 50*time.Millisecond)
	m.RecordToolCall("write_file", 100*time.Millisecond)
	m.RecordToolError("search", "timeout")
}

func TestLLMMetricsRecording(t *testing.T) {
	m := newTestMetrics(t)

	m.RecordLLMCall("gpt-4o", "openai", 500*time.Millisecond)
	m.RecordLLMTokens("gpt-4o", "openai", 100, 50)
	m.RecordLLMError("claude-sonnet", "anthropic", "rate_limit")
}

func TestPhaseAndFindingMetrics(t *testing.T) {
	m := newTestMetrics(t)

	m.RecordPhaseRun("analysis", "completed", time.Second)
	m.SetPhaseActive("analysis", 1)
	m.RecordPhaseTransition("recon", "analysis")
	m.RecordFindingEmitted("high")
	m.RecordFindingMerged("high")
}

func TestNilMetricsAreSafe(t *testing.T) {
	var m *Metrics
	m.RecordAgentCall("recon", "recon", time.Millisecond)
	m.RecordPhaseRun("recon", "completed", time.Millisecond)
	m.RecordFindingEmitted("low")
	if m.Registry() != nil {
		t.Error("expected nil registry on nil Metrics")
	}
}

func TestNoopMetrics(t *testing.T) {
	var m Recorder = NoopMetrics{}
	m.RecordAgentCall("recon", "recon", 100*time.Millisecond)
	m.RecordToolCall("search", 50*time.Millisecond)
	m.RecordLLMCall("gpt-4o", "openai", 300*time.Millisecond)
	m.RecordPhaseRun("recon", "completed", time.Second)
}

func TestNoopTracer(t *testing.T) {
	var tracer NoopTracer

	ctx := context.Background()
	_, span := tracer.Start(ctx, "test_span")
	defer span.End()

	_, span = tracer.StartAgentLoop(ctx, "recon", "recon", "task-1")
	defer span.End()

	_, span = tracer.StartLLMCall(ctx, "gpt-4o", "openai", 4096, 0.2)
	defer span.End()
}

func TestGlobalMetrics(t *testing.T) {
	defer SetGlobalMetrics(NoopMetrics{})

	if _, ok := GetGlobalMetrics().(NoopMetrics); !ok {
		t.Error("expected default global metrics to be NoopMetrics")
	}

	real := newTestMetrics(t)
	SetGlobalMetrics(real)
	if GetGlobalMetrics() != Recorder(real) {
		t.Error("expected SetGlobalMetrics to be reflected in GetGlobalMetrics")
	}

	GetGlobalMetrics().RecordAgentCall("recon", "recon", 100*time.Millisecond)
}

func BenchmarkMetricsRecording(b *testing.B) {
	cfg := &MetricsConfig{Enabled: true}
	m, err := NewMetrics(cfg)
	if err != nil {
		b.Fatalf("NewMetrics: %v", err)
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		m.RecordAgentCall("recon", "recon", 100*time.Millisecond)
	}
}
