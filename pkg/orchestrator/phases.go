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

package orchestrator

import (
	"context"
	"fmt"
	"time"

	"github.com/auditengine/engine/pkg/agent"
	"github.com/auditengine/engine/pkg/finding"
	"github.com/auditengine/engine/pkg/model"
)

const (
	defaultReconPrompt = "You are a repository reconnaissance agent. Identify the technology " +
		"stack, application entry points, high-risk paths (auth, crypto, deserialization, " +
		"file/network I/O), and a coarse dependency summary. Use list_files and search_code " +
		"to explore before reporting; call finish with a summary once you have enough signal " +
		"to hand off to the analysis phase."

	defaultVerificationPrompt = "You are a verification agent. For each open finding, decide " +
		"whether it is a real, exploitable vulnerability (confirmed), a false positive " +
		"(rejected), or unclear (needs-review). Use sandbox_execute to reproduce suspicious " +
		"behavior when safe to do so, and validate_vulnerability to record your verdict for " +
		"each finding before calling finish."

	defaultReportPrompt = "You are a report-writing agent. Summarize the audit's confirmed " +
		"findings, overall risk posture, and remediation priorities in a few paragraphs, then " +
		"call finish with that summary."
)

// runReconPhase runs one sub-agent loop to map the project's tech stack
// and entry points, seeded with nothing but
// the project root — recon has no prior findings to react to.
func runReconPhase(ctx context.Context, o *Orchestrator, taskID string, state *model.AuditState, deadline time.Time) (agent.Outcome, model.StateDiff, int, int) {
	prompt := o.promptFor(model.PhaseRecon, defaultReconPrompt)
	prompt = fmt.Sprintf("%s\n\nProject root: %s", prompt, state.ProjectRoot)
	a := o.Builder.Build(taskID, model.PhaseRecon, prompt, o.cfgFor(model.PhaseRecon))
	res := a.Run(ctx, deadline, state.RecentMessages)
	return res.Outcome, res.Diff, res.Iterations, res.TokensUsed
}

// runAnalysisPhase runs every configured persona's loop in sequence
// against the same project context, merging their findings through a
// Deduplicator before returning a single StateDiff — this supplements
// the single undifferentiated analysis agent with the persona-per-concern
// design from pkg/agent/persona.go while still handing the orchestrator
// exactly one diff per phase, the same shape every other phase returns.
func runAnalysisPhase(ctx context.Context, o *Orchestrator, taskID string, state *model.AuditState, deadline time.Time) (agent.Outcome, model.StateDiff, int, int) {
	personas := o.Personas
	if len(personas) == 0 {
		personas = agent.DefaultPersonas()
	}

	dedup := finding.NewDeduplicator()
	for _, f := range state.OpenFindings {
		dedup.Add(f)
	}

	combined := model.StateDiff{}
	totalIterations, totalTokens := 0, 0
	finalOutcome := agent.OutcomeSuccess

	for _, persona := range personas {
		prompt := fmt.Sprintf("%s\n\nProject root: %s\nEntry points so far: %v\nHigh risk paths: %v",
			persona.SystemPrompt, state.ProjectRoot, state.EntryPoints, state.HighRiskPaths)
		a := o.Builder.Build(taskID, model.PhaseAnalysis, prompt, o.cfgFor(model.PhaseAnalysis))
		res := a.Run(ctx, deadline, nil)

		totalIterations += res.Iterations
		totalTokens += res.TokensUsed
		if res.Outcome != agent.OutcomeSuccess {
			finalOutcome = res.Outcome
		}

		for _, f := range res.Diff.NewOpenFindings {
			f.TaskID = taskID
			merged, isNew := dedup.Add(f)
			if isNew {
				combined.NewOpenFindings = append(combined.NewOpenFindings, merged)
			}
		}
		if res.Diff.SummaryText != "" {
			combined.SummaryText += fmt.Sprintf("[%s] %s\n", persona.Name, res.Diff.SummaryText)
		}
		if res.Diff.LastError != "" {
			combined.LastError = res.Diff.LastError
		}
	}

	return finalOutcome, combined, totalIterations, totalTokens
}

// runVerificationPhase runs one agent loop over all open findings, with
// sandbox_execute/validate_vulnerability available, and returns that
// loop's StateDiff (the loop fills in SummaryText and LastError; it adds
// no verified or false-positive findings, and OpenFindings is left as
// is). It is the only phase that writes ContinueAnalysis, which graph.go's
// ShouldContinueAnalysis checks; it always writes false, so the graph
// moves from verification to report rather than back to analysis.
func runVerificationPhase(ctx context.Context, o *Orchestrator, taskID string, state *model.AuditState, deadline time.Time) (agent.Outcome, model.StateDiff, int, int) {
	if len(state.OpenFindings) == 0 {
		return agent.OutcomeSuccess, model.StateDiff{ContinueAnalysis: boolPtr(false)}, 0, 0
	}

	prompt := fmt.Sprintf("%s\n\nOpen findings to verify:\n%s", o.promptFor(model.PhaseVerification, defaultVerificationPrompt), renderFindings(state.OpenFindings))
	a := o.Builder.Build(taskID, model.PhaseVerification, prompt, o.cfgFor(model.PhaseVerification))
	res := a.Run(ctx, deadline, nil)

	diff := res.Diff
	diff.ContinueAnalysis = boolPtr(false)
	if diff.SummaryText == "" {
		diff.SummaryText = res.Diff.SummaryText
	}
	return res.Outcome, diff, res.Iterations, res.TokensUsed
}

// runReportPhase computes the final security score and narrative
// summary directly from AuditState. Unlike every other phase it runs no
// sub-agent loop: report renderers are pure functions of the finding set,
// and the score/summary that feed pkg/report's Markdown renderer are
// pure functions of the same finding set, so a ReAct loop would only add
// latency and token cost for a deterministic computation. Because no
// agent.Agent.terminate() call happens for this phase, runReportPhase
// emits the phase-complete event itself so the event stream still carries
// one per phase.
func runReportPhase(ctx context.Context, o *Orchestrator, taskID string, state *model.AuditState, deadline time.Time) (agent.Outcome, model.StateDiff, int, int) {
	score := finding.SecurityScore(state.VerifiedFindings)
	summary := summarizeFindings(state.VerifiedFindings, score)

	diff := model.StateDiff{
		SecurityScore: &score,
		SummaryText:   summary,
	}

	o.emit(taskID, model.Event{
		TaskID:  taskID,
		Kind:    model.EventPhaseComplete,
		Phase:   string(model.PhaseReport),
		Message: string(agent.OutcomeSuccess),
		Metadata: map[string]any{
			"outcome":    string(agent.OutcomeSuccess),
			"iterations": 0,
		},
	})

	return agent.OutcomeSuccess, diff, 0, 0
}

// summarizeFindings renders the short narrative summary persisted onto
// AuditState.SummaryText; pkg/report/markdown.go renders the full
// Markdown report from the task's finding counts and finding list
// separately, so this only needs a paragraph-level rollup.
func summarizeFindings(verified []model.Finding, score float64) string {
	if len(verified) == 0 {
		return fmt.Sprintf("Audit complete with no confirmed findings. Security score: %.0f/100.", score)
	}
	counts := map[model.Severity]int{}
	for _, f := range verified {
		counts[f.Severity]++
	}
	return fmt.Sprintf(
		"Audit complete with %d confirmed finding(s) (critical=%d, high=%d, medium=%d, low=%d, info=%d). Security score: %.0f/100.",
		len(verified), counts[model.SeverityCritical], counts[model.SeverityHigh], counts[model.SeverityMedium], counts[model.SeverityLow], counts[model.SeverityInfo], score,
	)
}

func (o *Orchestrator) promptFor(phase model.Phase, fallback string) string {
	if o.PhasePrompts != nil {
		if p, ok := o.PhasePrompts[phase]; ok && p != "" {
			return p
		}
	}
	return fallback
}

func (o *Orchestrator) cfgFor(phase model.Phase) agent.Config {
	if o.PhaseConfigs != nil {
		if c, ok := o.PhaseConfigs[phase]; ok {
			return c
		}
	}
	return agent.Config{}
}

func renderFindings(findings []model.Finding) string {
	out := ""
	for _, f := range findings {
		out += fmt.Sprintf("- [%s] %s at %s:%d-%d (%s)\n", f.Severity, f.VulnType, f.Location.FilePath, f.Location.LineStart, f.Location.LineEnd, f.ID)
	}
	if out == "" {
		out = "(none)"
	}
	return out
}

func boolPtr(b bool) *bool { return &b }
