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

package eventbus

import (
	"context"
	"time"

	"github.com/auditengine/engine/pkg/model"
	"github.com/auditengine/engine/pkg/ports"
)

// BatcherConfig tunes how often the persistence batcher flushes to the
// durable event store.
type BatcherConfig struct {
	FlushInterval time.Duration
	MaxBatch      int
}

func (c BatcherConfig) withDefaults() BatcherConfig {
	if c.FlushInterval <= 0 {
		c.FlushInterval = 2 * time.Second
	}
	if c.MaxBatch <= 0 {
		c.MaxBatch = 200
	}
	return c
}

// Batcher subscribes to a task's event stream and periodically flushes
// accumulated events to a durable ports.EventStore, so a crash between
// flushes loses at most one interval's worth of progress history (the
// AuditState/findings themselves are covered separately by
// pkg/checkpoint).
type Batcher struct {
	bus   *Bus
	store ports.EventStore
	cfg   BatcherConfig
	log   ports.Logger
}

func NewBatcher(bus *Bus, store ports.EventStore, cfg BatcherConfig, log ports.Logger) *Batcher {
	return &Batcher{bus: bus, store: store, cfg: cfg.withDefaults(), log: log}
}

// Run subscribes to taskID's events and flushes batches until ctx is
// cancelled, at which point it performs one final flush.
func (b *Batcher) Run(ctx context.Context, taskID string) {
	b.run(ctx, taskID, b.bus.Subscribe(ctx, taskID))
}

// Start subscribes immediately and returns the drain loop for the
// caller to run on its own goroutine, so no event published after Start
// returns can be missed while that goroutine is still being scheduled.
func (b *Batcher) Start(ctx context.Context, taskID string) func() {
	ch := b.bus.Subscribe(ctx, taskID)
	return func() { b.run(ctx, taskID, ch) }
}

func (b *Batcher) run(ctx context.Context, taskID string, ch <-chan model.Event) {
	ticker := time.NewTicker(b.cfg.FlushInterval)
	defer ticker.Stop()

	// Flushes write with a non-cancellable context so the final flush
	// after ctx is cancelled still lands in the store.
	flushCtx := context.WithoutCancel(ctx)
	pending := make([]model.Event, 0, b.cfg.MaxBatch)
	flush := func() {
		if len(pending) == 0 {
			return
		}
		if err := b.store.AppendBatch(flushCtx, taskID, pending); err != nil && b.log != nil {
			b.log.Warn("eventbus: flush failed", "task_id", taskID, "error", err)
		}
		pending = pending[:0]
	}

	for {
		select {
		case evt, ok := <-ch:
			if !ok {
				flush()
				return
			}
			pending = append(pending, evt)
			if len(pending) >= b.cfg.MaxBatch {
				flush()
			}
		case <-ticker.C:
			flush()
		case <-ctx.Done():
			// Drain whatever is still buffered on the subscription before
			// the final flush so cancellation doesn't lose the tail of the
			// stream (the terminal phase-complete/task-complete events are
			// usually in flight right when the task context ends).
			for {
				select {
				case evt, ok := <-ch:
					if !ok {
						flush()
						return
					}
					pending = append(pending, evt)
				default:
					flush()
					return
				}
			}
		}
	}
}
