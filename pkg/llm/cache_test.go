package llm

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/auditengine/engine/pkg/ports/memstore"
)

func TestCachedPool_SecondIdenticalRequestHitsCache(t *testing.T) {
	provider := &stubProvider{resp: &Response{Content: "cached answer"}}
	pool := NewPool(provider, 2, nil, nil, "stub")
	store := memstore.New()
	cached := NewCachedPool(pool, store, "stub-model", time.Minute)

	req := Request{System: "sys", Messages: []Message{{Role: "user", Content: "hi"}}}

	first, err := cached.Generate(context.Background(), req, time.Time{})
	require.NoError(t, err)
	require.Equal(t, "cached answer", first.Content)
	require.Equal(t, 1, provider.calls)

	second, err := cached.Generate(context.Background(), req, time.Time{})
	require.NoError(t, err)
	require.Equal(t, "cached answer", second.Content)
	require.Equal(t, 1, provider.calls, "second identical request must be served from cache")
}

func TestCachedPool_DifferentRequestsDoNotShareCacheEntries(t *testing.T) {
	provider := &stubProvider{resp: &Response{Content: "answer"}}
	pool := NewPool(provider, 2, nil, nil, "stub")
	store := memstore.New()
	cached := NewCachedPool(pool, store, "stub-model", time.Minute)

	_, err := cached.Generate(context.Background(), Request{Messages: []Message{{Content: "a"}}}, time.Time{})
	require.NoError(t, err)
	_, err = cached.Generate(context.Background(), Request{Messages: []Message{{Content: "b"}}}, time.Time{})
	require.NoError(t, err)

	require.Equal(t, 2, provider.calls)
}

func TestCachedPool_NilCacheBypassesCachingEntirely(t *testing.T) {
	provider := &stubProvider{resp: &Response{Content: "answer"}}
	pool := NewPool(provider, 2, nil, nil, "stub")
	cached := NewCachedPool(pool, nil, "stub-model", time.Minute)

	req := Request{Messages: []Message{{Content: "same"}}}
	_, err := cached.Generate(context.Background(), req, time.Time{})
	require.NoError(t, err)
	_, err = cached.Generate(context.Background(), req, time.Time{})
	require.NoError(t, err)

	require.Equal(t, 2, provider.calls)
}

func TestCachedPool_ZeroOrNegativeTTLDefaultsToFifteenMinutes(t *testing.T) {
	pool := NewPool(&stubProvider{}, 2, nil, nil, "stub")
	cached := NewCachedPool(pool, memstore.New(), "stub-model", 0)
	require.Equal(t, 15*time.Minute, cached.ttl)
}
