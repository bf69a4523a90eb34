package orchestrator

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/auditengine/engine/pkg/eventbus"
	"github.com/auditengine/engine/pkg/model"
	"github.com/auditengine/engine/pkg/ports/memstore"
)

func TestPersistFindings_NewFindingEmitsFindingNewAndCommits(t *testing.T) {
	store := memstore.New()
	bus := eventbus.New(nil, nil)
	o := NewOrchestrator(Orchestrator{Findings: store, Events: bus})

	diff := model.StateDiff{
		NewOpenFindings: []model.Finding{{Fingerprint: "fp1", VulnType: "sqli"}},
	}
	o.persistFindings(context.Background(), "t1", diff)

	stored, err := store.ListForTask(context.Background(), "t1")
	require.NoError(t, err)
	require.Len(t, stored, 1)

	events := bus.Snapshot("t1")
	require.Len(t, events, 1)
	require.Equal(t, model.EventFindingNew, events[0].Kind)
	require.Equal(t, "fp1", events[0].FindingRef)
}

func TestPersistFindings_RepeatFingerprintEmitsFindingUpdated(t *testing.T) {
	store := memstore.New()
	bus := eventbus.New(nil, nil)
	o := NewOrchestrator(Orchestrator{Findings: store, Events: bus})

	first := model.StateDiff{NewOpenFindings: []model.Finding{{Fingerprint: "fp1", Severity: model.SeverityLow}}}
	o.persistFindings(context.Background(), "t1", first)

	second := model.StateDiff{NewVerifiedFindings: []model.Finding{{Fingerprint: "fp1", Severity: model.SeverityHigh, VerificationStatus: model.VerificationConfirmed}}}
	o.persistFindings(context.Background(), "t1", second)

	events := bus.Snapshot("t1")
	require.Len(t, events, 2)
	require.Equal(t, model.EventFindingNew, events[0].Kind)
	require.Equal(t, model.EventFindingUpdated, events[1].Kind)

	stored, err := store.ListForTask(context.Background(), "t1")
	require.NoError(t, err)
	require.Len(t, stored, 1)
	require.Equal(t, model.SeverityHigh, stored[0].Severity)
}

func TestPersistFindings_NilFindingStoreIsNoop(t *testing.T) {
	bus := eventbus.New(nil, nil)
	o := NewOrchestrator(Orchestrator{Events: bus})

	require.NotPanics(t, func() {
		o.persistFindings(context.Background(), "t1", model.StateDiff{
			NewOpenFindings: []model.Finding{{Fingerprint: "fp1"}},
		})
	})
	require.Empty(t, bus.Snapshot("t1"))
}

func TestPersistFindings_TagsMissingTaskID(t *testing.T) {
	store := memstore.New()
	o := NewOrchestrator(Orchestrator{Findings: store})

	o.persistFindings(context.Background(), "t1", model.StateDiff{
		NewOpenFindings: []model.Finding{{Fingerprint: "fp1"}},
	})

	stored, err := store.ListForTask(context.Background(), "t1")
	require.NoError(t, err)
	require.Len(t, stored, 1)
	require.Equal(t, "t1", stored[0].TaskID)
}
