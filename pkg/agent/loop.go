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
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	engineerrors "github.com/auditengine/engine/pkg/errors"
	"github.com/auditengine/engine/pkg/llm"
	"github.com/auditengine/engine/pkg/model"
	"github.com/auditengine/engine/pkg/ports"
	"github.com/auditengine/engine/pkg/tool"
)

// FinishTool is the reserved tool name that terminates a loop with
// OutcomeSuccess, carrying its payload as the final assistant turn.
const FinishTool = "finish"

// Generator is the narrow surface the loop needs from an LLM client;
// *llm.Pool and *llm.CachedPool both satisfy it.
type Generator interface {
	Generate(ctx context.Context, req llm.Request, deadline time.Time) (*llm.Response, error)
}

// CheckpointRequester lets the loop ask the checkpoint manager to
// persist state without importing it directly, avoiding an import
// cycle between pkg/agent and pkg/orchestrator.
type CheckpointRequester interface {
	RequestCheckpoint(ctx context.Context, taskID string, phase model.Phase, iteration int)
}

// Agent runs one think→act→observe ReAct loop to completion.
type Agent struct {
	Name         string
	TaskID       string
	Phase        model.Phase
	SystemPrompt string

	LLM      Generator
	Executor *tool.Executor
	Tools    []llm.ToolDefinition

	Events     tool.EventSink
	Checkpoint CheckpointRequester
	Clock      ports.Clock

	Config Config
}

// Result is what a loop invocation hands back to the orchestrator,
// which folds it into model.AuditState via Apply — the loop itself
// never touches AuditState.
type Result struct {
	Outcome    Outcome
	Diff       model.StateDiff
	Messages   []model.AgentMessage
	Iterations int
	TokensUsed int
}

// Run executes the loop body: check the four termination conditions,
// call the LLM, dispatch any tool calls it asked for (bounded
// parallelism), and repeat until one of the six Outcomes is reached.
func (a *Agent) Run(ctx context.Context, deadline time.Time, seed []model.AgentMessage) *Result {
	cfg := a.Config.withDefaults()
	st := NewState(cfg.MaxIterations, cfg.TokenBudget, cfg.MaxContextMessages, seed)
	var diff model.StateDiff

	for {
		if out, done := a.checkTermination(ctx, st, deadline); done {
			return a.terminate(st, out, diff)
		}

		req := a.buildRequest(st, cfg)
		resp, err := a.LLM.Generate(ctx, req, deadline)
		if err != nil {
			switch engineerrors.KindOf(err) {
			case engineerrors.KindCancelled:
				return a.terminate(st, OutcomeCancelled, diff)
			case engineerrors.KindTimeout:
				return a.terminate(st, OutcomeTimeout, diff)
			default:
				diff.LastError = err.Error()
				return a.terminate(st, OutcomeToolError, diff)
			}
		}
		st.TokensUsed += resp.InputTokens + resp.OutputTokens

		a.emitAgentStep(resp, st.Iteration)
		st.Append(model.AgentMessage{Role: "assistant", Content: resp.Content})

		if len(resp.ToolCalls) > 0 {
			if outcome, done := a.runToolCalls(ctx, st, resp.ToolCalls, &diff, deadline, cfg); done {
				return a.terminate(st, outcome, diff)
			}
		}

		st.Iteration++

		if cfg.CheckpointEveryN > 0 && st.Iteration%cfg.CheckpointEveryN == 0 && a.Checkpoint != nil {
			a.Checkpoint.RequestCheckpoint(ctx, a.TaskID, a.Phase, st.Iteration)
		}
	}
}

// checkTermination evaluates the four non-tool termination conditions
// at the top of every iteration, in order: iteration limit, token
// budget, deadline, cancellation.
func (a *Agent) checkTermination(ctx context.Context, st *State, deadline time.Time) (Outcome, bool) {
	if st.Iteration >= st.MaxIterations {
		return OutcomeIterationLimit, true
	}
	if st.TokenBudget > 0 && st.TokensUsed >= st.TokenBudget {
		return OutcomeBudgetExhausted, true
	}
	if !deadline.IsZero() && !a.now().Before(deadline) {
		return OutcomeTimeout, true
	}
	select {
	case <-ctx.Done():
		return OutcomeCancelled, true
	default:
	}
	return "", false
}

// runToolCalls dispatches one LLM step's tool calls with a bounded
// concurrency of cfg.MaxParallelToolCalls, then applies the
// per-call decision logic (finish / degrade-and-continue / fatal) in
// response order once every call has returned.
func (a *Agent) runToolCalls(ctx context.Context, st *State, calls []llm.ToolCall, diff *model.StateDiff, deadline time.Time, cfg Config) (Outcome, bool) {
	results := make([]*tool.Result, len(calls))
	sem := semaphore.NewWeighted(cfg.MaxParallelToolCalls)
	g, gctx := errgroup.WithContext(ctx)

	for i, c := range calls {
		i, c := i, c
		g.Go(func() error {
			if err := sem.Acquire(gctx, 1); err != nil {
				return nil
			}
			defer sem.Release(1)
			results[i] = a.Executor.Run(gctx, tool.Call{ID: c.ID, Name: c.Name, Args: c.Arguments}, a.TaskID, a.Phase, deadline)
			return nil
		})
	}
	_ = g.Wait()

	for i, c := range calls {
		res := results[i]
		if res == nil {
			continue
		}
		st.Append(model.AgentMessage{Role: "tool", Content: summarizeResult(res)})

		if c.Name == FinishTool {
			if res.Error == "" {
				diff.SummaryText = summarizeResult(res)
			}
			return OutcomeSuccess, true
		}

		if res.Outcome == tool.OutcomeOK || res.Outcome == tool.OutcomeFallbackUsed {
			continue
		}
		if (res.Outcome == tool.OutcomeCircuitOpen || res.Outcome == tool.OutcomeTimeout) && cfg.ContinueOnToolFailure {
			continue
		}
		diff.LastError = res.Error
		return OutcomeToolError, true
	}

	return "", false
}

func summarizeResult(res *tool.Result) string {
	if res.Error != "" {
		return fmt.Sprintf("tool %s failed: %s", res.ToolName, res.Error)
	}
	return fmt.Sprintf("tool %s: %s", res.ToolName, string(res.Output))
}

func (a *Agent) buildRequest(st *State, cfg Config) llm.Request {
	messages := make([]llm.Message, 0, len(st.Messages))
	for _, m := range st.Messages {
		messages = append(messages, llm.Message{Role: m.Role, Content: m.Content})
	}
	return llm.Request{
		System:    a.SystemPrompt,
		Messages:  messages,
		Tools:     a.Tools,
		MaxTokens: cfg.MaxResponseTokens,
	}
}

func (a *Agent) emitAgentStep(resp *llm.Response, iteration int) {
	if a.Events == nil {
		return
	}
	a.Events.Publish(context.Background(), model.Event{
		TaskID:  a.TaskID,
		Kind:    model.EventAgentStep,
		Phase:   string(a.Phase),
		Message: resp.Content,
		Tokens:  int64(resp.InputTokens + resp.OutputTokens),
		Metadata: map[string]any{
			"iteration":  iteration,
			"tool_calls": len(resp.ToolCalls),
		},
	})
}

func (a *Agent) terminate(st *State, outcome Outcome, diff model.StateDiff) *Result {
	if a.Events != nil {
		a.Events.Publish(context.Background(), model.Event{
			TaskID:  a.TaskID,
			Kind:    model.EventPhaseComplete,
			Phase:   string(a.Phase),
			Message: string(outcome),
			Metadata: map[string]any{
				"outcome":    string(outcome),
				"iterations": st.Iteration,
			},
		})
	}
	return &Result{
		Outcome:    outcome,
		Diff:       diff,
		Messages:   st.Messages,
		Iterations: st.Iteration,
		TokensUsed: st.TokensUsed,
	}
}

func (a *Agent) now() time.Time {
	if a.Clock != nil {
		return a.Clock.Now()
	}
	return time.Now()
}
