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

// Package eventbus implements a bounded, per-task, monotonically
// sequenced event stream with fan-out to subscribers (SSE, a persistence
// batcher) and backpressure that always makes room for critical events.
package eventbus

import (
	"context"
	"sync"
	"time"

	"github.com/auditengine/engine/pkg/model"
	"github.com/auditengine/engine/pkg/ports"
)

// QueueSize is the bound on every task's in-memory event queue; the
// event.queue_max_size config key is not read. A full queue drops its
// oldest non-critical entry to make room, so critical events are kept.
const QueueSize = 256

type taskQueue struct {
	mu      sync.Mutex
	seq     int64
	buf     []model.Event
	subs    []chan model.Event
	dropped int64
}

// Bus fans out events for many tasks concurrently, one bounded queue
// per task.
type Bus struct {
	mu    sync.Mutex
	tasks map[string]*taskQueue
	store ports.EventStore
	clock ports.Clock
}

func New(store ports.EventStore, clock ports.Clock) *Bus {
	return &Bus{tasks: map[string]*taskQueue{}, store: store, clock: clock}
}

func (b *Bus) queueFor(taskID string) *taskQueue {
	b.mu.Lock()
	defer b.mu.Unlock()
	q, ok := b.tasks[taskID]
	if !ok {
		q = &taskQueue{}
		b.tasks[taskID] = q
	}
	return q
}

// Publish assigns the next sequence number for evt.TaskID, appends it
// to the bounded buffer (evicting the oldest non-critical entry if
// full), and fans out to live subscribers. Publish never blocks on a
// slow subscriber: subscriber channels are themselves buffered and a
// full subscriber channel just misses the event rather than stalling
// the producer.
func (b *Bus) Publish(ctx context.Context, evt model.Event) {
	q := b.queueFor(evt.TaskID)

	q.mu.Lock()
	q.seq++
	evt.Sequence = q.seq
	if evt.Timestamp.IsZero() {
		evt.Timestamp = b.now()
	}

	if len(q.buf) >= QueueSize {
		evictIdx := firstNonCritical(q.buf)
		if evictIdx >= 0 {
			q.buf = append(q.buf[:evictIdx], q.buf[evictIdx+1:]...)
		} else {
			q.buf = q.buf[1:]
		}
		if !evt.Kind.Critical() {
			q.dropped++
		}
	}
	q.buf = append(q.buf, evt)

	var dropNotice *model.Event
	if q.dropped > 0 && evt.Kind != model.EventEventsDropped {
		// The notice takes a slot too; make room so the bound holds.
		if len(q.buf) >= QueueSize {
			if evictIdx := firstNonCritical(q.buf); evictIdx >= 0 {
				q.buf = append(q.buf[:evictIdx], q.buf[evictIdx+1:]...)
				q.dropped++
			}
		}
		q.seq++
		notice := model.Event{
			TaskID:    evt.TaskID,
			Sequence:  q.seq,
			Kind:      model.EventEventsDropped,
			Message:   "events dropped under backpressure",
			Tokens:    q.dropped,
			Timestamp: evt.Timestamp,
		}
		q.buf = append(q.buf, notice)
		dropNotice = &notice
		q.dropped = 0
	}

	subs := append([]chan model.Event{}, q.subs...)
	q.mu.Unlock()

	for _, ch := range subs {
		select {
		case ch <- evt:
		default:
		}
		if dropNotice != nil {
			select {
			case ch <- *dropNotice:
			default:
			}
		}
	}
}

func firstNonCritical(buf []model.Event) int {
	for i, e := range buf {
		if !e.Kind.Critical() {
			return i
		}
	}
	return -1
}

func (b *Bus) now() time.Time {
	if b.clock != nil {
		return b.clock.Now()
	}
	return time.Now()
}

// Subscribe registers a new fan-out channel for taskID. The channel is
// closed when ctx is cancelled; callers must drain it promptly.
func (b *Bus) Subscribe(ctx context.Context, taskID string) <-chan model.Event {
	q := b.queueFor(taskID)
	ch := make(chan model.Event, 64)

	q.mu.Lock()
	q.subs = append(q.subs, ch)
	q.mu.Unlock()

	go func() {
		<-ctx.Done()
		q.mu.Lock()
		defer q.mu.Unlock()
		for i, c := range q.subs {
			if c == ch {
				q.subs = append(q.subs[:i], q.subs[i+1:]...)
				break
			}
		}
		close(ch)
	}()

	return ch
}

// Snapshot returns the currently buffered events for a task, for
// clients that connect after some events have already fired.
func (b *Bus) Snapshot(taskID string) []model.Event {
	q := b.queueFor(taskID)
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]model.Event, len(q.buf))
	copy(out, q.buf)
	return out
}
