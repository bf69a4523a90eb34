package orchestrator

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/auditengine/engine/pkg/agent"
	"github.com/auditengine/engine/pkg/eventbus"
	"github.com/auditengine/engine/pkg/model"
)

func TestRunReportPhase_IsPureNoAgentInvoked(t *testing.T) {
	bus := eventbus.New(nil, nil)
	o := NewOrchestrator(Orchestrator{Events: bus})

	state := &model.AuditState{
		VerifiedFindings: []model.Finding{
			{ID: "f1", Severity: model.SeverityCritical},
			{ID: "f2", Severity: model.SeverityLow},
		},
	}

	outcome, diff, iterations, tokens := runReportPhase(context.Background(), o, "t1", state, time.Time{})

	require.Equal(t, agent.OutcomeSuccess, outcome)
	require.Equal(t, 0, iterations)
	require.Equal(t, 0, tokens)
	require.NotNil(t, diff.SecurityScore)
	require.NotEmpty(t, diff.SummaryText)
}

func TestRunReportPhase_ScoreMatchesFindingPackage(t *testing.T) {
	bus := eventbus.New(nil, nil)
	o := NewOrchestrator(Orchestrator{Events: bus})
	state := &model.AuditState{
		VerifiedFindings: []model.Finding{{ID: "f1", Severity: model.SeverityHigh}},
	}

	_, diff, _, _ := runReportPhase(context.Background(), o, "t1", state, time.Time{})
	require.InDelta(t, 85.0, *diff.SecurityScore, 0.01)
}

func TestRunReportPhase_EmitsPhaseCompleteEvent(t *testing.T) {
	bus := eventbus.New(nil, nil)
	o := NewOrchestrator(Orchestrator{Events: bus})
	state := &model.AuditState{}

	runReportPhase(context.Background(), o, "t1", state, time.Time{})

	events := bus.Snapshot("t1")
	require.Len(t, events, 1)
	require.Equal(t, model.EventPhaseComplete, events[0].Kind)
	require.Equal(t, string(model.PhaseReport), events[0].Phase)
}

func TestRunReportPhase_NoFindingsStillProducesSummary(t *testing.T) {
	bus := eventbus.New(nil, nil)
	o := NewOrchestrator(Orchestrator{Events: bus})
	state := &model.AuditState{}

	_, diff, _, _ := runReportPhase(context.Background(), o, "t1", state, time.Time{})
	require.InDelta(t, 100.0, *diff.SecurityScore, 0.01)
	require.Contains(t, diff.SummaryText, "no confirmed findings")
}
