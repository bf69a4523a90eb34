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

// Package agent implements a single-agent ReAct loop (think via an
// LLM call, act via the tool executor, observe the result, decide
// whether to continue) used both for the recon/analysis/verification
// sub-agents and for the orchestrator's own degenerate loop over
// {think, reflect, dispatch_agent, finish}.
package agent

// Outcome is the closed termination taxonomy an agent loop run ends
// with. The first termination wins; loops are not resumed
// once an Outcome is reached.
type Outcome string

const (
	OutcomeSuccess         Outcome = "success"
	OutcomeIterationLimit  Outcome = "iteration-limit"
	OutcomeBudgetExhausted Outcome = "budget-exhausted"
	OutcomeTimeout         Outcome = "timeout"
	OutcomeCancelled       Outcome = "cancelled"
	OutcomeToolError       Outcome = "tool-error"
)

// Fatal reports whether the orchestrator must treat this outcome as
// fatal for the phase rather than a partial-results continuation.
func (o Outcome) Fatal() bool {
	return o == OutcomeToolError
}

// Partial reports whether findings accumulated so far should still be
// kept and the phase treated as success-with-warnings, subject to
// continue_on_partial_results.
func (o Outcome) Partial() bool {
	switch o {
	case OutcomeIterationLimit, OutcomeBudgetExhausted:
		return true
	default:
		return false
	}
}
