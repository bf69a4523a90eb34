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

// Package orchestrator implements the fixed phase-state machine
// (init -> recon -> analysis <-> verification -> report -> done/error)
// that owns the single AuditState per task and folds every sub-agent's
// StateDiff into it serially.
package orchestrator

import (
	"github.com/auditengine/engine/pkg/agent"
	"github.com/auditengine/engine/pkg/model"
)

// ContinueOnPartialResults is the partial-failure policy:
// when a phase fails after producing at least one finding, the
// orchestrator still routes to report instead of error, so a crashed
// verification pass doesn't discard analysis work already done.
type ContinueOnPartialResults bool

// NextPhase computes the one edge the fixed DAG allows out of current,
// given how the phase's own agent loop terminated and whether the
// analysis/verification loop's own continuation signal is set. This is
// the only place phase transitions are decided; handlers never branch
// on phase name themselves.
func NextPhase(current model.Phase, outcome agent.Outcome, state *model.AuditState, partial ContinueOnPartialResults) model.Phase {
	if isFatal(outcome) {
		if bool(partial) && state.TotalFindings() > 0 && current != model.PhaseInit && current != model.PhaseRecon {
			return model.PhaseReport
		}
		return model.PhaseError
	}

	switch current {
	case model.PhaseInit:
		return model.PhaseRecon
	case model.PhaseRecon:
		return model.PhaseAnalysis
	case model.PhaseAnalysis:
		return model.PhaseVerification
	case model.PhaseVerification:
		if ShouldContinueAnalysis(state) {
			return model.PhaseAnalysis
		}
		return model.PhaseReport
	case model.PhaseReport:
		return model.PhaseDone
	default:
		return model.PhaseError
	}
}

// isFatal reports whether an agent-loop outcome ends the task rather
// than advancing it. Success always advances; iteration-limit and
// budget-exhausted are treated as success-with-warnings per
// agent.Outcome.Partial() so a phase that merely ran out of budget
// still hands its findings to the next phase instead of failing the
// task outright.
func isFatal(outcome agent.Outcome) bool {
	if outcome == agent.OutcomeSuccess || outcome.Partial() {
		return false
	}
	return true
}

// ShouldContinueAnalysis implements the analysis<->verification loop
// guard: verification sets AuditState.ContinueAnalysis via its
// StateDiff, and the orchestrator additionally enforces the
// cross-phase iteration budget and the max_total_findings ceiling so a
// verification agent that keeps requesting another pass can't loop the
// task forever.
func ShouldContinueAnalysis(state *model.AuditState) bool {
	if !state.ContinueAnalysis {
		return false
	}
	if state.MaxIterations > 0 && state.Iteration >= state.MaxIterations {
		return false
	}
	if state.MaxTotalFindings > 0 && state.TotalFindings() >= state.MaxTotalFindings {
		return false
	}
	return true
}
