package checkpoint

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	engineerrors "github.com/auditengine/engine/pkg/errors"
	"github.com/auditengine/engine/pkg/model"
	"github.com/auditengine/engine/pkg/ports/memstore"
)

func enabledConfig() *Config {
	return &Config{Enabled: true, IntervalIterations: 5, OnPhaseComplete: true, MaxPerTask: 3}
}

func TestManager_DisabledSaveIsNoop(t *testing.T) {
	store := memstore.New()
	m := NewManager(&Config{}, store, nil)
	require.False(t, m.IsEnabled())

	err := m.Save(context.Background(), "task-1", model.TriggerManual, model.AuditState{}, nil)
	require.NoError(t, err)

	_, _, _, err = m.Load(context.Background(), "task-1")
	require.Error(t, err)
	require.Equal(t, engineerrors.KindNotFound, engineerrors.KindOf(err))
}

func TestManager_SaveThenLoadRoundTrips(t *testing.T) {
	store := memstore.New()
	m := NewManager(enabledConfig(), store, nil)

	state := model.AuditState{CurrentPhase: model.PhaseAnalysis, Iteration: 2}
	findings := []model.Finding{{ID: "f1", VulnType: "sql_injection"}}

	require.NoError(t, m.Save(context.Background(), "task-1", model.TriggerIteration, state, findings))

	gotState, gotFindings, idx, err := m.Load(context.Background(), "task-1")
	require.NoError(t, err)
	require.Equal(t, state, gotState)
	require.Equal(t, findings, gotFindings)
	require.Equal(t, int64(0), idx)
}

func TestManager_IndicesAreMonotonic(t *testing.T) {
	store := memstore.New()
	m := NewManager(enabledConfig(), store, nil)

	for i := 0; i < 3; i++ {
		require.NoError(t, m.Save(context.Background(), "task-1", model.TriggerIteration,
			model.AuditState{Iteration: i}, nil))
	}

	_, _, idx, err := m.Load(context.Background(), "task-1")
	require.NoError(t, err)
	require.Equal(t, int64(2), idx)
}

func TestManager_PrunesToMaxPerTask(t *testing.T) {
	store := memstore.New()
	cfg := enabledConfig()
	m := NewManager(cfg, store, nil)

	for i := 0; i < cfg.MaxPerTask+5; i++ {
		require.NoError(t, m.Save(context.Background(), "task-1", model.TriggerIteration,
			model.AuditState{Iteration: i}, nil))
	}

	// Only the most recent max_per_task checkpoints should remain
	// retrievable (latest index is present); older ones have been pruned.
	_, _, idx, err := m.Load(context.Background(), "task-1")
	require.NoError(t, err)
	require.Equal(t, int64(cfg.MaxPerTask+4), idx)
}

func TestManager_LoadPrimesSequenceCounter(t *testing.T) {
	store := memstore.New()
	writer := NewManager(enabledConfig(), store, nil)
	require.NoError(t, writer.Save(context.Background(), "task-1", model.TriggerIteration, model.AuditState{}, nil))
	require.NoError(t, writer.Save(context.Background(), "task-1", model.TriggerIteration, model.AuditState{}, nil))

	// A fresh Manager (simulating a resumed worker process) must continue
	// the index series from where Load left off, not restart at 0.
	resumed := NewManager(enabledConfig(), store, nil)
	_, _, idx, err := resumed.Load(context.Background(), "task-1")
	require.NoError(t, err)
	require.Equal(t, int64(1), idx)

	require.NoError(t, resumed.Save(context.Background(), "task-1", model.TriggerIteration, model.AuditState{}, nil))
	_, _, idx, err = resumed.Load(context.Background(), "task-1")
	require.NoError(t, err)
	require.Equal(t, int64(2), idx)
}

func TestManager_ShouldCheckpointAtIteration(t *testing.T) {
	m := NewManager(enabledConfig(), memstore.New(), nil)
	require.False(t, m.ShouldCheckpointAtIteration(0))
	require.False(t, m.ShouldCheckpointAtIteration(3))
	require.True(t, m.ShouldCheckpointAtIteration(5))
	require.True(t, m.ShouldCheckpointAtIteration(10))
}

func TestManager_ShouldCheckpointOnPhaseBoundaryFollowsConfig(t *testing.T) {
	enabled := NewManager(enabledConfig(), memstore.New(), nil)
	require.True(t, enabled.ShouldCheckpointOnPhaseBoundary())

	optedOut := NewManager(&Config{Enabled: true, OnPhaseComplete: false}, memstore.New(), nil)
	require.False(t, optedOut.ShouldCheckpointOnPhaseBoundary())

	disabled := NewManager(&Config{}, memstore.New(), nil)
	require.False(t, disabled.ShouldCheckpointOnPhaseBoundary())
}
