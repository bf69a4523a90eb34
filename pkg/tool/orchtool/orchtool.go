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

// Package orchtool implements the two tools only the orchestrator's own
// degenerate agent loop calls: dispatch_agent, which hands
// control to one phase's sub-agent loop and returns a summary of what
// happened, and finish, the loop-termination tool every agent loop
// registers (pkg/agent.FinishTool names it by convention; this is its
// concrete Tool implementation).
package orchtool

import (
	"context"

	engineerrors "github.com/auditengine/engine/pkg/errors"
	"github.com/auditengine/engine/pkg/model"
)

// FinishTool terminates the calling agent loop with whatever payload the
// model supplies as its final answer. Every phase registers exactly one
// of these; pkg/agent.Agent.Run recognizes the call by name before
// looking at the result, so Invoke just needs to echo the payload back
// for the transcript.
type FinishTool struct{}

func NewFinishTool() *FinishTool { return &FinishTool{} }

func (t *FinishTool) Name() string        { return "finish" }
func (t *FinishTool) ResourceKey() string { return "" }
func (t *FinishTool) Description() string {
	return "Call this when the current phase's work is complete, with a summary of the outcome."
}
func (t *FinishTool) Schema() map[string]any {
	return map[string]any{
		"type":       "object",
		"properties": map[string]any{"summary": map[string]any{"type": "string"}},
		"required":   []string{"summary"},
	}
}

func (t *FinishTool) Invoke(_ context.Context, args map[string]any) (any, error) {
	summary, _ := args["summary"].(string)
	return map[string]any{"status": "ok", "summary": summary}, nil
}

// DispatchOutcome is what running one sub-agent phase to completion
// hands back to the orchestrator's own loop, folded into the tool
// result the model sees.
type DispatchOutcome struct {
	Phase         string `json:"phase"`
	Outcome       string `json:"outcome"`
	FindingsFound int    `json:"findings_found"`
	Summary       string `json:"summary"`
}

// Dispatcher runs one named phase's sub-agent loop to completion and
// reports what happened; pkg/orchestrator supplies the concrete
// implementation so this package never imports it (avoiding an import
// cycle between the orchestrator and the tools it registers).
type Dispatcher interface {
	Dispatch(ctx context.Context, taskID string, phase model.Phase) (DispatchOutcome, error)
}

// DispatchAgentTool is the orchestrator-only cooperative yield point:
// the orchestrator's loop calls it once per phase transition
// instead of running analysis/verification/report inline, keeping the
// same ReAct shape at every level of the system.
type DispatchAgentTool struct {
	dispatcher Dispatcher
	taskID     string
}

func NewDispatchAgentTool(d Dispatcher, taskID string) *DispatchAgentTool {
	return &DispatchAgentTool{dispatcher: d, taskID: taskID}
}

func (t *DispatchAgentTool) Name() string        { return "dispatch_agent" }
func (t *DispatchAgentTool) ResourceKey() string { return "" }
func (t *DispatchAgentTool) Description() string {
	return "Dispatch one phase (recon, analysis, verification, report) to its own agent loop and wait for it to finish."
}
func (t *DispatchAgentTool) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"phase": map[string]any{
				"type": "string",
				"enum": []string{"recon", "analysis", "verification", "report"},
			},
		},
		"required": []string{"phase"},
	}
}

func (t *DispatchAgentTool) Invoke(ctx context.Context, args map[string]any) (any, error) {
	phaseStr, _ := args["phase"].(string)
	phase := model.Phase(phaseStr)
	switch phase {
	case model.PhaseRecon, model.PhaseAnalysis, model.PhaseVerification, model.PhaseReport:
	default:
		return nil, engineerrors.New(engineerrors.KindValidation, "phase must be one of recon, analysis, verification, report")
	}

	outcome, err := t.dispatcher.Dispatch(ctx, t.taskID, phase)
	if err != nil {
		return nil, err
	}
	return outcome, nil
}
