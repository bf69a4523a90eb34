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

// Package checkpoint implements durable, versioned snapshots of an
// in-flight audit's AuditState, written on the cadence Config describes
// and pruned to a bounded history per task.
package checkpoint

import (
	"context"

	engineerrors "github.com/auditengine/engine/pkg/errors"
	"github.com/auditengine/engine/pkg/model"
	"github.com/auditengine/engine/pkg/ports"
)

// Manager is the orchestrator's only entry point for writing and
// recovering checkpoints. Its only state is the policy config and a
// per-task write-sequence counter; persistence is delegated to a
// ports.CheckpointStore (memstore or pgstore), keeping the manager
// storage-agnostic.
type Manager struct {
	config *Config
	store  ports.CheckpointStore
	clock  ports.Clock
	seq    map[string]int64
}

func NewManager(cfg *Config, store ports.CheckpointStore, clock ports.Clock) *Manager {
	if cfg == nil {
		cfg = &Config{}
	}
	cfg.SetDefaults()
	return &Manager{config: cfg, store: store, clock: clock, seq: map[string]int64{}}
}

func (m *Manager) IsEnabled() bool { return m.config.IsEnabled() }

// Save encodes state+findings and writes them under the next sequence
// index for taskID, then prunes to the configured max_per_task. A no-op
// when checkpointing is disabled so callers can invoke it
// unconditionally.
func (m *Manager) Save(ctx context.Context, taskID string, trigger model.CheckpointTrigger, state model.AuditState, findings []model.Finding) error {
	if !m.IsEnabled() {
		return nil
	}
	blob, err := Encode(state, findings)
	if err != nil {
		return err
	}

	idx := m.nextIndex(taskID)
	if err := m.store.Put(ctx, taskID, idx, blob); err != nil {
		return engineerrors.Wrap(engineerrors.KindCheckpoint, "put checkpoint", err)
	}
	if err := m.store.Prune(ctx, taskID, m.config.MaxPerTask); err != nil {
		return engineerrors.Wrap(engineerrors.KindCheckpoint, "prune checkpoints", err)
	}
	return nil
}

func (m *Manager) nextIndex(taskID string) int64 {
	idx, ok := m.seq[taskID]
	if !ok {
		m.seq[taskID] = 0
		return 0
	}
	next := idx + 1
	m.seq[taskID] = next
	return next
}

// Load retrieves and decodes the most recent checkpoint for a task. It
// returns engineerrors.KindNotFound when no checkpoint exists (the store
// adapters report absence as an error rather than a nil blob). A
// successful Load primes the write-sequence counter so a subsequent Save
// continues the index series instead of restarting at 0.
func (m *Manager) Load(ctx context.Context, taskID string) (model.AuditState, []model.Finding, int64, error) {
	blob, idx, err := m.store.GetLatest(ctx, taskID)
	if err != nil {
		return model.AuditState{}, nil, 0, engineerrors.Wrap(engineerrors.KindNotFound, "no checkpoint for task", err)
	}
	state, findings, err := Decode(blob)
	if err != nil {
		return model.AuditState{}, nil, 0, err
	}
	m.seq[taskID] = idx
	return state, findings, idx, nil
}

// ShouldCheckpointAtIteration reports whether the iteration-interval
// policy fires for this iteration.
func (m *Manager) ShouldCheckpointAtIteration(iteration int) bool {
	return m.config.ShouldCheckpointAtIteration(iteration)
}

// ShouldCheckpointAfterTools reports whether the tool-complete trigger
// is active under the current policy.
func (m *Manager) ShouldCheckpointAfterTools() bool {
	return m.config.ShouldCheckpointAfterTools()
}

// ShouldCheckpointOnPhaseBoundary reports whether checkpoints are taken
// whenever the orchestrator crosses a phase transition.
func (m *Manager) ShouldCheckpointOnPhaseBoundary() bool {
	return m.config.ShouldCheckpointOnPhaseBoundary()
}
