package llm

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/auditengine/engine/pkg/circuitbreaker"
)

type stubProvider struct {
	calls int
	resp  *Response
	err   error
}

func (s *stubProvider) Name() string  { return "stub" }
func (s *stubProvider) Model() string { return "stub-model" }
func (s *stubProvider) Generate(ctx context.Context, req Request) (*Response, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	return s.resp, nil
}
func (s *stubProvider) GenerateStreaming(ctx context.Context, req Request) (<-chan StreamChunk, error) {
	ch := make(chan StreamChunk)
	close(ch)
	return ch, nil
}

func TestPool_GeneratePassesThroughResponse(t *testing.T) {
	provider := &stubProvider{resp: &Response{Content: "hello", InputTokens: 5, OutputTokens: 2}}
	pool := NewPool(provider, 2, nil, nil, "stub")

	resp, err := pool.Generate(context.Background(), Request{}, time.Time{})
	require.NoError(t, err)
	require.Equal(t, "hello", resp.Content)
	require.Equal(t, 1, provider.calls)
}

func TestPool_OnUsageFiresWithTokenCounts(t *testing.T) {
	provider := &stubProvider{resp: &Response{InputTokens: 10, OutputTokens: 20}}
	pool := NewPool(provider, 2, nil, nil, "stub")

	var gotIn, gotOut int
	pool.OnUsage(func(in, out int) { gotIn, gotOut = in, out })

	_, err := pool.Generate(context.Background(), Request{}, time.Time{})
	require.NoError(t, err)
	require.Equal(t, 10, gotIn)
	require.Equal(t, 20, gotOut)
}

func TestPool_ErrorFromProviderPropagates(t *testing.T) {
	provider := &stubProvider{err: errors.New("upstream failure")}
	pool := NewPool(provider, 2, nil, nil, "stub")

	_, err := pool.Generate(context.Background(), Request{}, time.Time{})
	require.Error(t, err)
}

func TestPool_CircuitBreakerOpensAfterRepeatedFailures(t *testing.T) {
	provider := &stubProvider{err: errors.New("upstream failure")}
	registry := circuitbreaker.NewRegistry(circuitbreaker.Settings{FailureThreshold: 2, RecoveryTimeout: time.Minute, HalfOpenMaxCalls: 1}, nil, nil)
	pool := NewPool(provider, 2, nil, registry, "stub")

	for i := 0; i < 2; i++ {
		_, err := pool.Generate(context.Background(), Request{}, time.Time{})
		require.Error(t, err)
	}

	callsBeforeOpen := provider.calls
	_, err := pool.Generate(context.Background(), Request{}, time.Time{})
	require.Error(t, err)
	require.Equal(t, callsBeforeOpen, provider.calls, "breaker should short-circuit without calling the provider again")
}

func TestPool_ZeroOrNegativeMaxInFlightDefaultsToFour(t *testing.T) {
	provider := &stubProvider{resp: &Response{}}
	pool := NewPool(provider, 0, nil, nil, "stub")

	for i := 0; i < 4; i++ {
		require.True(t, pool.sem.TryAcquire(1), "slot %d should be available under the default bound", i)
	}
	require.False(t, pool.sem.TryAcquire(1), "a fifth concurrent slot should exceed the default bound of 4")
}
