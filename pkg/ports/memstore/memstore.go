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

// Package memstore is an in-process implementation of every pkg/ports
// interface, backed by mutex-guarded maps. It is the reference adapter
// used by unit tests and single-node demo runs; pgstore is the
// production-grade counterpart.
package memstore

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/auditengine/engine/pkg/model"
	"github.com/auditengine/engine/pkg/ports"
)

// Store bundles TaskStore, FindingStore, EventStore, CheckpointStore,
// BlobStore, and Cache behind one shared mutex; a single-node run never
// has enough port traffic for finer-grained locking to matter.
type Store struct {
	mu sync.Mutex

	tasks    map[string]*model.Task
	leases   map[string]*ports.Lease
	findings map[string]map[string]model.Finding // taskID -> fingerprint -> finding
	events   map[string][]model.Event
	checkpoints map[string]map[int64][]byte // taskID -> index -> blob
	blobs    map[string][]byte
	cache    map[string]cacheEntry
}

type cacheEntry struct {
	value   []byte
	expires time.Time
}

// New constructs an empty in-memory store.
func New() *Store {
	return &Store{
		tasks:       map[string]*model.Task{},
		leases:      map[string]*ports.Lease{},
		findings:    map[string]map[string]model.Finding{},
		events:      map[string][]model.Event{},
		checkpoints: map[string]map[int64][]byte{},
		blobs:       map[string][]byte{},
		cache:       map[string]cacheEntry{},
	}
}

// Seed registers a task for subsequent Load calls; used by tests and by
// the task-submission boundary (out of scope) before handing a task to
// the engine.
func (s *Store) Seed(t *model.Task) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tasks[t.ID] = t
}

func (s *Store) Load(ctx context.Context, id string) (*model.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[id]
	if !ok {
		return nil, fmt.Errorf("task %s: not found", id)
	}
	cp := *t
	return &cp, nil
}

func (s *Store) UpdateStatus(ctx context.Context, id string, status model.Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[id]
	if !ok {
		return fmt.Errorf("task %s: not found", id)
	}
	t.Status = status
	now := time.Now()
	switch status {
	case model.StatusRunning:
		if t.StartedAt == nil {
			t.StartedAt = &now
		}
	case model.StatusSucceeded, model.StatusFailed, model.StatusCancelled:
		t.CompletedAt = &now
	}
	return nil
}

func (s *Store) UpdateProgress(ctx context.Context, id string, phase, step string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[id]
	if !ok {
		return fmt.Errorf("task %s: not found", id)
	}
	t.CurrentPhase = phase
	t.CurrentStep = step
	return nil
}

func (s *Store) UpdateCounters(ctx context.Context, id string, tokens int64, counts model.FindingCounts) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[id]
	if !ok {
		return fmt.Errorf("task %s: not found", id)
	}
	t.CumulativeTokensUsed += tokens
	t.Findings = counts
	return nil
}

func (s *Store) AcquireLock(ctx context.Context, id string) (*ports.Lease, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.leases[id]; ok && existing.Expiry.After(time.Now()) {
		return nil, ports.ErrBusy
	}
	lease := &ports.Lease{TaskID: id, Token: uuid.NewString(), Expiry: time.Now().Add(30 * time.Minute)}
	s.leases[id] = lease
	return lease, nil
}

func (s *Store) ReleaseLock(ctx context.Context, lease *ports.Lease) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.leases[lease.TaskID]; ok && existing.Token == lease.Token {
		delete(s.leases, lease.TaskID)
	}
	return nil
}

func (s *Store) UpsertByFingerprint(ctx context.Context, f model.Finding) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	byFP, ok := s.findings[f.TaskID]
	if !ok {
		byFP = map[string]model.Finding{}
		s.findings[f.TaskID] = byFP
	}
	existing, present := byFP[f.Fingerprint]
	if !present {
		byFP[f.Fingerprint] = f
		return true, nil
	}
	byFP[f.Fingerprint] = mergeFindings(existing, f)
	return false, nil
}

func mergeFindings(a, b model.Finding) model.Finding {
	merged := a
	merged.Severity = model.MaxSeverity(a.Severity, b.Severity)
	merged.VerificationStatus = model.MergeVerificationStatus(a.VerificationStatus, b.VerificationStatus)
	if merged.Description == "" {
		merged.Description = b.Description
	}
	if merged.CodeSnippet == "" {
		merged.CodeSnippet = b.CodeSnippet
	}
	return merged
}

func (s *Store) ListForTask(ctx context.Context, taskID string) ([]model.Finding, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	byFP := s.findings[taskID]
	out := make([]model.Finding, 0, len(byFP))
	for _, f := range byFP {
		out = append(out, f)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Fingerprint < out[j].Fingerprint })
	return out, nil
}

func (s *Store) AppendBatch(ctx context.Context, taskID string, events []model.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events[taskID] = append(s.events[taskID], events...)
	return nil
}

// EventsFor returns the persisted events for a task, for test assertions.
func (s *Store) EventsFor(taskID string) []model.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.Event, len(s.events[taskID]))
	copy(out, s.events[taskID])
	return out
}

func (s *Store) Put(ctx context.Context, taskID string, index int64, blob []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	byIndex, ok := s.checkpoints[taskID]
	if !ok {
		byIndex = map[int64][]byte{}
		s.checkpoints[taskID] = byIndex
	}
	byIndex[index] = blob
	return nil
}

func (s *Store) GetLatest(ctx context.Context, taskID string) ([]byte, int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	byIndex := s.checkpoints[taskID]
	if len(byIndex) == 0 {
		return nil, -1, fmt.Errorf("checkpoint: no checkpoints for task %s", taskID)
	}
	best := int64(-1)
	for idx := range byIndex {
		if idx > best {
			best = idx
		}
	}
	return byIndex[best], best, nil
}

func (s *Store) Prune(ctx context.Context, taskID string, keepN int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	byIndex := s.checkpoints[taskID]
	if len(byIndex) <= keepN {
		return nil
	}
	indices := make([]int64, 0, len(byIndex))
	for idx := range byIndex {
		indices = append(indices, idx)
	}
	sort.Slice(indices, func(i, j int) bool { return indices[i] > indices[j] })
	for _, idx := range indices[keepN:] {
		delete(byIndex, idx)
	}
	return nil
}

func (s *Store) BlobPut(ctx context.Context, key string, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.blobs[key] = data
	return nil
}

func (s *Store) BlobGet(ctx context.Context, key string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.blobs[key]
	if !ok {
		return nil, fmt.Errorf("blob %s: not found", key)
	}
	return v, nil
}

func (s *Store) BlobDelete(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.blobs, key)
	return nil
}

func (s *Store) BlobPresign(ctx context.Context, key string, ttl time.Duration) (string, error) {
	return "", nil
}

func (s *Store) Get(ctx context.Context, key string) ([]byte, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.cache[key]
	if !ok || e.expires.Before(time.Now()) {
		return nil, false, nil
	}
	return e.value, true, nil
}

func (s *Store) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cache[key] = cacheEntry{value: value, expires: time.Now().Add(ttl)}
	return nil
}

// Blobs adapts Store's blob methods to the ports.BlobStore interface shape
// without exposing the TaskStore/FindingStore methods under the same name.
type Blobs struct{ *Store }

func (b Blobs) Put(ctx context.Context, key string, data []byte) error { return b.BlobPut(ctx, key, data) }
func (b Blobs) Get(ctx context.Context, key string) ([]byte, error)    { return b.BlobGet(ctx, key) }
func (b Blobs) Delete(ctx context.Context, key string) error           { return b.BlobDelete(ctx, key) }
func (b Blobs) Presign(ctx context.Context, key string, ttl time.Duration) (string, error) {
	return b.BlobPresign(ctx, key, ttl)
}

var (
	_ ports.TaskStore       = (*Store)(nil)
	_ ports.FindingStore    = (*Store)(nil)
	_ ports.EventStore      = (*Store)(nil)
	_ ports.CheckpointStore = (*Store)(nil)
	_ ports.Cache           = (*Store)(nil)
	_ ports.BlobStore       = Blobs{}
)
