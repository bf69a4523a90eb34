package eventbus

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/auditengine/engine/pkg/model"
)

func TestBus_SequenceNumbersAreMonotonicNoGaps(t *testing.T) {
	b := New(nil, nil)
	for i := 0; i < 10; i++ {
		b.Publish(context.Background(), model.Event{TaskID: "t1", Kind: model.EventAgentStep})
	}

	events := b.Snapshot("t1")
	require.Len(t, events, 10)
	for i, e := range events {
		require.Equal(t, int64(i+1), e.Sequence)
	}
}

func TestBus_SequencesAreIndependentPerTask(t *testing.T) {
	b := New(nil, nil)
	b.Publish(context.Background(), model.Event{TaskID: "t1", Kind: model.EventAgentStep})
	b.Publish(context.Background(), model.Event{TaskID: "t2", Kind: model.EventAgentStep})
	b.Publish(context.Background(), model.Event{TaskID: "t1", Kind: model.EventAgentStep})

	require.Len(t, b.Snapshot("t1"), 2)
	require.Len(t, b.Snapshot("t2"), 1)
	require.Equal(t, int64(1), b.Snapshot("t2")[0].Sequence)
}

func TestBus_SubscriberReceivesFIFO(t *testing.T) {
	b := New(nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ch := b.Subscribe(ctx, "t1")

	for i := 0; i < 5; i++ {
		b.Publish(context.Background(), model.Event{TaskID: "t1", Kind: model.EventAgentStep})
	}

	var seqs []int64
	for i := 0; i < 5; i++ {
		select {
		case e := <-ch:
			seqs = append(seqs, e.Sequence)
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for event")
		}
	}
	require.Equal(t, []int64{1, 2, 3, 4, 5}, seqs)
}

func TestBus_SlowSubscriberDoesNotBlockProducer(t *testing.T) {
	b := New(nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	_ = b.Subscribe(ctx, "t1") // never drained

	done := make(chan struct{})
	go func() {
		for i := 0; i < 200; i++ {
			b.Publish(context.Background(), model.Event{TaskID: "t1", Kind: model.EventAgentStep})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("producer blocked on slow subscriber")
	}
}

func TestBus_CriticalEventsNeverDropped(t *testing.T) {
	b := New(nil, nil)
	// Fill the queue past capacity with non-critical events.
	for i := 0; i < QueueSize+10; i++ {
		b.Publish(context.Background(), model.Event{TaskID: "t1", Kind: model.EventAgentStep})
	}
	b.Publish(context.Background(), model.Event{TaskID: "t1", Kind: model.EventTaskComplete})

	events := b.Snapshot("t1")
	var sawComplete bool
	for _, e := range events {
		if e.Kind == model.EventTaskComplete {
			sawComplete = true
		}
	}
	require.True(t, sawComplete, "critical event must survive queue pressure")
	require.LessOrEqual(t, len(events), QueueSize)
}

func TestBus_DropsInsertDroppedMarker(t *testing.T) {
	b := New(nil, nil)
	for i := 0; i < QueueSize+5; i++ {
		b.Publish(context.Background(), model.Event{TaskID: "t1", Kind: model.EventAgentStep})
	}

	events := b.Snapshot("t1")
	var sawDropped bool
	for _, e := range events {
		if e.Kind == model.EventEventsDropped {
			sawDropped = true
		}
	}
	require.True(t, sawDropped)
}

func TestBus_UnsubscribeStopsDelivery(t *testing.T) {
	b := New(nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	ch := b.Subscribe(ctx, "t1")
	cancel()

	// Give the unsubscribe goroutine a moment to run, then confirm the
	// channel is closed without blocking the poll loop.
	require.Eventually(t, func() bool {
		select {
		case _, ok := <-ch:
			return !ok
		default:
			return false
		}
	}, time.Second, 5*time.Millisecond)
}
