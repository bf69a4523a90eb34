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
	"github.com/auditengine/engine/pkg/checkpoint"
	engineerrors "github.com/auditengine/engine/pkg/errors"
	"github.com/auditengine/engine/pkg/model"
	"github.com/auditengine/engine/pkg/ports"
	"github.com/auditengine/engine/pkg/tool"
	"github.com/auditengine/engine/pkg/tool/orchtool"
)

// PhaseRunner builds and runs the sub-agent loop for one phase against
// the task's current AuditState, returning whatever it decided plus the
// StateDiff the orchestrator folds in. Recon/analysis/verification/report
// each get their own runner so the orchestrator stays phase-agnostic;
// Orchestrator.defaultRunners wires the stock ones.
type PhaseRunner func(ctx context.Context, o *Orchestrator, taskID string, state *model.AuditState, deadline time.Time) (agent.Outcome, model.StateDiff, int, int)

// Orchestrator drives one task's AuditState through the fixed phase
// graph. It is the sole owner and mutator of AuditState for
// the task it is running: sub-agent results arrive as StateDiff and are
// folded in with Apply, never mutated directly by a sub-agent.
type Orchestrator struct {
	Builder      agent.Builder
	Checkpoint   *checkpoint.Manager
	Events       tool.EventSink
	Tasks        ports.TaskStore
	Findings     ports.FindingStore
	Clock        ports.Clock
	Logger       ports.Logger
	Personas     []agent.Persona
	PhaseConfigs map[model.Phase]agent.Config
	PhasePrompts map[model.Phase]string
	PhaseTimeout map[model.Phase]time.Duration
	Partial      ContinueOnPartialResults

	runners map[model.Phase]PhaseRunner
	active  map[string]*model.AuditState
}

// NewOrchestrator wires the stock phase runners (recon, analysis,
// verification, report); callers may override entries in runners via
// WithRunner for tests that need to stub a phase.
func NewOrchestrator(o Orchestrator) *Orchestrator {
	out := &o
	out.runners = map[model.Phase]PhaseRunner{
		model.PhaseRecon:        runReconPhase,
		model.PhaseAnalysis:     runAnalysisPhase,
		model.PhaseVerification: runVerificationPhase,
		model.PhaseReport:       runReportPhase,
	}
	return out
}

// WithRunner overrides the runner for one phase, returning the same
// Orchestrator for chaining.
func (o *Orchestrator) WithRunner(phase model.Phase, r PhaseRunner) *Orchestrator {
	o.runners[phase] = r
	return o
}

// RunTask drives state from its current phase to a terminal one
// (done or error), persisting progress and checkpoints as it goes. The
// caller (pkg/engine) is responsible for the task lease; RunTask assumes
// it is the sole writer of state for the duration of the call.
func (o *Orchestrator) RunTask(ctx context.Context, taskID string, state *model.AuditState, deadline time.Time) error {
	if state.CurrentPhase == "" {
		state.CurrentPhase = model.PhaseInit
	}

	if o.active == nil {
		o.active = map[string]*model.AuditState{}
	}
	o.active[taskID] = state
	defer delete(o.active, taskID)

	for state.CurrentPhase != model.PhaseDone && state.CurrentPhase != model.PhaseError {
		phase := state.CurrentPhase
		o.emit(taskID, model.Event{TaskID: taskID, Kind: model.EventPhaseStart, Phase: string(phase)})

		outcome, diff, iterations, tokens := o.runOnePhase(ctx, taskID, phase, state, deadline)
		state.Apply(diff)
		state.Iteration += iterations
		o.persistFindings(ctx, taskID, diff)

		if o.Tasks != nil {
			counts := countBySeverity(state.VerifiedFindings, state.OpenFindings)
			_ = o.Tasks.UpdateCounters(ctx, taskID, int64(tokens), counts)
			_ = o.Tasks.UpdateProgress(ctx, taskID, string(phase), string(outcome))
		}

		next := NextPhase(phase, outcome, state, o.Partial)
		state.CurrentPhase = next

		if o.Checkpoint != nil && o.Checkpoint.ShouldCheckpointOnPhaseBoundary() {
			allFindings := append(append(append([]model.Finding{}, state.OpenFindings...), state.VerifiedFindings...), state.FalsePositives...)
			if err := o.Checkpoint.Save(ctx, taskID, model.TriggerPhaseBoundary, *state, allFindings); err != nil && o.Logger != nil {
				o.Logger.Warn("checkpoint save failed", "task_id", taskID, "phase", phase, "error", err)
			}
		}

		if ctx.Err() != nil {
			state.CurrentPhase = model.PhaseError
			state.LastError = ctx.Err().Error()
			break
		}
	}

	if state.CurrentPhase == model.PhaseError {
		o.emit(taskID, model.Event{TaskID: taskID, Kind: model.EventTaskError, Message: state.LastError})
		return engineerrors.New(engineerrors.KindInternal, fmt.Sprintf("task %s ended in error: %s", taskID, state.LastError))
	}
	o.emit(taskID, model.Event{TaskID: taskID, Kind: model.EventTaskComplete, Message: "audit complete"})
	return nil
}

// Dispatch implements orchtool.Dispatcher: the orchestrator's own
// degenerate agent loop calls dispatch_agent to hand control
// to one phase's sub-agent, mirroring RunTask's single-phase body
// without advancing the DAG itself — used when a deployment chooses to
// drive the orchestrator loop through the same ReAct harness as every
// other phase rather than RunTask's direct Go loop.
func (o *Orchestrator) Dispatch(ctx context.Context, taskID string, phase model.Phase) (orchtool.DispatchOutcome, error) {
	state := o.statesByTask(taskID)
	if state == nil {
		return orchtool.DispatchOutcome{}, engineerrors.New(engineerrors.KindNotFound, "no in-flight state for task "+taskID)
	}
	before := state.TotalFindings()
	outcome, diff, _, _ := o.runOnePhase(ctx, taskID, phase, state, time.Time{})
	state.Apply(diff)
	return orchtool.DispatchOutcome{
		Phase:         string(phase),
		Outcome:       string(outcome),
		FindingsFound: state.TotalFindings() - before,
		Summary:       diff.SummaryText,
	}, nil
}

// statesByTask is a seam for Dispatch to reach the in-flight state of a
// task already being driven by RunTask on another goroutine; a single
// process only ever runs one Orchestrator+state pair per task so this
// is a direct field lookup, not a general registry.
func (o *Orchestrator) statesByTask(taskID string) *model.AuditState {
	if o.active == nil {
		return nil
	}
	return o.active[taskID]
}

// CurrentState exposes the same lookup Dispatch uses to whatever
// implements agent.CheckpointRequester for this orchestrator, so an
// iteration-level checkpoint request from inside a sub-agent loop can
// find the AuditState to snapshot even though the loop itself only
// carries taskID/phase/iteration.
func (o *Orchestrator) CurrentState(taskID string) *model.AuditState {
	return o.statesByTask(taskID)
}

func (o *Orchestrator) runOnePhase(ctx context.Context, taskID string, phase model.Phase, state *model.AuditState, deadline time.Time) (agent.Outcome, model.StateDiff, int, int) {
	runner, ok := o.runners[phase]
	if !ok {
		return agent.OutcomeToolError, model.StateDiff{LastError: "no runner registered for phase " + string(phase)}, 0, 0
	}
	phaseDeadline := deadline
	if d, ok := o.PhaseTimeout[phase]; ok && d > 0 {
		candidate := o.now().Add(d)
		if phaseDeadline.IsZero() || candidate.Before(phaseDeadline) {
			phaseDeadline = candidate
		}
	}
	return runner(ctx, o, taskID, state, phaseDeadline)
}

// persistFindings commits a phase's freshly surfaced and re-verified
// findings to the FindingStore as they are confirmed,
// emitting finding-new the first time a fingerprint is committed and
// finding-updated when an upsert merges into an existing record (a
// verification verdict changing an already-seen finding's status, or a
// later persona re-surfacing the same vulnerability).
func (o *Orchestrator) persistFindings(ctx context.Context, taskID string, diff model.StateDiff) {
	if o.Findings == nil {
		return
	}
	for _, bucket := range [][]model.Finding{diff.NewOpenFindings, diff.NewVerifiedFindings, diff.NewFalsePositives} {
		for _, f := range bucket {
			if f.TaskID == "" {
				f.TaskID = taskID
			}
			committed, err := o.Findings.UpsertByFingerprint(ctx, f)
			if err != nil {
				if o.Logger != nil {
					o.Logger.Warn("finding upsert failed", "task_id", taskID, "fingerprint", f.Fingerprint, "error", err)
				}
				continue
			}
			kind := model.EventFindingUpdated
			if committed {
				kind = model.EventFindingNew
			}
			o.emit(taskID, model.Event{
				TaskID:     taskID,
				Kind:       kind,
				FindingRef: f.Fingerprint,
				Message:    f.VulnType,
			})
		}
	}
}

func (o *Orchestrator) emit(taskID string, evt model.Event) {
	if o.Events == nil {
		return
	}
	if evt.Timestamp.IsZero() {
		evt.Timestamp = o.now()
	}
	o.Events.Publish(context.Background(), evt)
}

func (o *Orchestrator) now() time.Time {
	if o.Clock != nil {
		return o.Clock.Now()
	}
	return time.Now()
}

func countBySeverity(buckets ...[]model.Finding) model.FindingCounts {
	var c model.FindingCounts
	for _, b := range buckets {
		for _, f := range b {
			switch f.Severity {
			case model.SeverityCritical:
				c.Critical++
			case model.SeverityHigh:
				c.High++
			case model.SeverityMedium:
				c.Medium++
			case model.SeverityLow:
				c.Low++
			default:
				c.Info++
			}
		}
	}
	return c
}
