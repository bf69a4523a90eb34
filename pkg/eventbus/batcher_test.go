package eventbus

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/auditengine/engine/pkg/model"
	"github.com/auditengine/engine/pkg/ports/memstore"
)

func TestBatcher_PersistsPublishedEvents(t *testing.T) {
	store := memstore.New()
	bus := New(store, nil)
	b := NewBatcher(bus, store, BatcherConfig{FlushInterval: 10 * time.Millisecond, MaxBatch: 2}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	drain := b.Start(ctx, "t1")
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		drain()
	}()

	for i := 0; i < 5; i++ {
		bus.Publish(context.Background(), model.Event{TaskID: "t1", Kind: model.EventAgentStep})
	}
	bus.Publish(context.Background(), model.Event{TaskID: "t1", Kind: model.EventTaskComplete})

	cancel()
	wg.Wait()

	persisted := store.EventsFor("t1")
	require.Len(t, persisted, 6)
	require.Equal(t, model.EventTaskComplete, persisted[5].Kind)
}

func TestBatcher_FinalFlushDrainsBufferedTail(t *testing.T) {
	store := memstore.New()
	bus := New(store, nil)
	// A flush interval far longer than the test ensures nothing is
	// persisted until the cancellation path runs.
	b := NewBatcher(bus, store, BatcherConfig{FlushInterval: time.Hour, MaxBatch: 100}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	drain := b.Start(ctx, "t1")

	// Published before the drain loop even starts: the subscription from
	// Start is already live, so these sit in its channel buffer.
	bus.Publish(context.Background(), model.Event{TaskID: "t1", Kind: model.EventPhaseStart})
	bus.Publish(context.Background(), model.Event{TaskID: "t1", Kind: model.EventTaskComplete})
	cancel()

	drain()

	persisted := store.EventsFor("t1")
	require.Len(t, persisted, 2)
	require.Equal(t, model.EventTaskComplete, persisted[1].Kind)
}
