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

// Package ports declares the narrow external-state interfaces the engine
// core depends on. The core never imports a concrete store;
// it is constructed with these interfaces by the composition root in
// pkg/engine. Concrete implementations live in pkg/ports/memstore
// (in-process, for tests and single-node runs) and pkg/ports/pgstore
// (Postgres-backed, for production).
package ports

import (
	"context"
	"time"

	"github.com/auditengine/engine/pkg/model"
)

// Lease represents an advisory lock on a task row, held for the duration
// of one orchestrator's processing of that task.
type Lease struct {
	TaskID   string
	Token    string
	Expiry   time.Time
}

// ErrBusy is returned by AcquireLock when another worker already holds
// the lease for a task.
var ErrBusy = &busyError{}

type busyError struct{}

func (*busyError) Error() string { return "task lease held by another worker" }

// TaskStore is the engine's only view of task persistence.
type TaskStore interface {
	Load(ctx context.Context, id string) (*model.Task, error)
	UpdateStatus(ctx context.Context, id string, status model.Status) error
	UpdateProgress(ctx context.Context, id string, phase, step string) error
	UpdateCounters(ctx context.Context, id string, tokens int64, counts model.FindingCounts) error
	AcquireLock(ctx context.Context, id string) (*Lease, error)
	ReleaseLock(ctx context.Context, lease *Lease) error
}

// FindingStore is the engine's only view of finding persistence.
// Upserts are keyed by fingerprint so that at-least-once finding
// delivery converges to one stored record per distinct vulnerability.
type FindingStore interface {
	UpsertByFingerprint(ctx context.Context, f model.Finding) (committed bool, err error)
	ListForTask(ctx context.Context, taskID string) ([]model.Finding, error)
}

// EventStore receives batches from the event bus's persistence batcher.
type EventStore interface {
	AppendBatch(ctx context.Context, taskID string, events []model.Event) error
}

// CheckpointStore persists and prunes checkpoint blobs.
type CheckpointStore interface {
	Put(ctx context.Context, taskID string, index int64, blob []byte) error
	GetLatest(ctx context.Context, taskID string) ([]byte, int64, error)
	Prune(ctx context.Context, taskID string, keepN int) error
}

// BlobStore holds large artifacts (PoC outputs, oversized tool outputs)
// outside the primary stores. Presign returns a retrieval URL when the
// backing implementation supports it (object storage); local-FS backed
// implementations may return an empty string.
type BlobStore interface {
	Put(ctx context.Context, key string, data []byte) error
	Get(ctx context.Context, key string) ([]byte, error)
	Delete(ctx context.Context, key string) error
	Presign(ctx context.Context, key string, ttl time.Duration) (string, error)
}

// Cache is the plain KV port backing the LLM response cache.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
}

// Clock abstracts time so tests can control deadlines deterministically.
type Clock interface {
	Now() time.Time
	After(d time.Duration) <-chan time.Time
}

// Logger is the structured, level-filtered logging port; distinct from
// the event bus (logs are operational, events are domain progress).
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}
