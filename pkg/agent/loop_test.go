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

package agent

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/auditengine/engine/pkg/llm"
	"github.com/auditengine/engine/pkg/model"
	"github.com/auditengine/engine/pkg/tool"
)

type stubGenerator struct {
	responses []llm.Response
	calls     int
}

func (g *stubGenerator) Generate(ctx context.Context, req llm.Request, deadline time.Time) (*llm.Response, error) {
	r := g.responses[g.calls%len(g.responses)]
	g.calls++
	return &r, nil
}

type recordingSink struct {
	events []model.Event
}

func (s *recordingSink) Publish(ctx context.Context, evt model.Event) {
	s.events = append(s.events, evt)
}

type noopTool struct{ name string }

func (t noopTool) Name() string               { return t.name }
func (t noopTool) Description() string        { return "test tool" }
func (t noopTool) Schema() map[string]any      { return map[string]any{} }
func (t noopTool) ResourceKey() string         { return "" }
func (t noopTool) Invoke(ctx context.Context, args map[string]any) (any, error) {
	return map[string]any{"status": "ok"}, nil
}

func newTestExecutor(toolNames ...string) *tool.Executor {
	reg := tool.NewRegistry()
	for _, n := range toolNames {
		reg.Register(noopTool{name: n})
	}
	return tool.NewExecutor(reg, nil, nil, map[string]tool.Config{}, nil, systemClockStub{}, nil)
}

type systemClockStub struct{}

func (systemClockStub) Now() time.Time                         { return time.Now() }
func (systemClockStub) After(d time.Duration) <-chan time.Time { return time.After(d) }

func TestAgentRun_FinishTerminatesSuccess(t *testing.T) {
	gen := &stubGenerator{responses: []llm.Response{
		{Content: "done", ToolCalls: []llm.ToolCall{{ID: "1", Name: FinishTool, Arguments: map[string]any{}}}},
	}}
	sink := &recordingSink{}
	a := &Agent{
		TaskID:   "t1",
		Phase:    model.PhaseRecon,
		LLM:      gen,
		Executor: newTestExecutor(FinishTool),
		Events:   sink,
		Clock:    systemClockStub{},
		Config:   Config{MaxIterations: 5, MaxContextMessages: 10},
	}

	res := a.Run(context.Background(), time.Time{}, nil)
	require.Equal(t, OutcomeSuccess, res.Outcome)
	require.Equal(t, 0, res.Iterations)

	var sawComplete bool
	for _, e := range sink.events {
		if e.Kind == model.EventPhaseComplete {
			sawComplete = true
		}
	}
	require.True(t, sawComplete)
}

func TestAgentRun_IterationLimit(t *testing.T) {
	gen := &stubGenerator{responses: []llm.Response{{Content: "thinking"}}}
	a := &Agent{
		TaskID:   "t2",
		Phase:    model.PhaseAnalysis,
		LLM:      gen,
		Executor: newTestExecutor(),
		Clock:    systemClockStub{},
		Config:   Config{MaxIterations: 3, MaxContextMessages: 10},
	}

	res := a.Run(context.Background(), time.Time{}, nil)
	require.Equal(t, OutcomeIterationLimit, res.Outcome)
	require.Equal(t, 3, res.Iterations)
}

func TestAgentRun_BudgetExhausted(t *testing.T) {
	gen := &stubGenerator{responses: []llm.Response{{Content: "x", InputTokens: 50, OutputTokens: 50}}}
	a := &Agent{
		TaskID:   "t3",
		Phase:    model.PhaseAnalysis,
		LLM:      gen,
		Executor: newTestExecutor(),
		Clock:    systemClockStub{},
		Config:   Config{MaxIterations: 100, TokenBudget: 80, MaxContextMessages: 10},
	}

	res := a.Run(context.Background(), time.Time{}, nil)
	require.Equal(t, OutcomeBudgetExhausted, res.Outcome)
}

func TestAgentRun_Cancelled(t *testing.T) {
	gen := &stubGenerator{responses: []llm.Response{{Content: "x"}}}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	a := &Agent{
		TaskID:   "t4",
		Phase:    model.PhaseAnalysis,
		LLM:      gen,
		Executor: newTestExecutor(),
		Clock:    systemClockStub{},
		Config:   Config{MaxIterations: 10, MaxContextMessages: 10},
	}

	res := a.Run(ctx, time.Time{}, nil)
	require.Equal(t, OutcomeCancelled, res.Outcome)
}

func TestAgentRun_SuccessfulToolCallDoesNotTerminate(t *testing.T) {
	// A non-finish tool call that succeeds should not end the loop; it
	// should fall through to the next iteration and eventually hit
	// iteration-limit.
	gen := &stubGenerator{responses: []llm.Response{
		{Content: "act", ToolCalls: []llm.ToolCall{{ID: "1", Name: "scan", Arguments: map[string]any{}}}},
	}}
	a := &Agent{
		TaskID:   "t5",
		Phase:    model.PhaseAnalysis,
		LLM:      gen,
		Executor: newTestExecutor("scan"),
		Clock:    systemClockStub{},
		Config:   Config{MaxIterations: 2, MaxContextMessages: 10, ContinueOnToolFailure: true},
	}

	res := a.Run(context.Background(), time.Time{}, nil)
	require.Equal(t, OutcomeIterationLimit, res.Outcome)
}
