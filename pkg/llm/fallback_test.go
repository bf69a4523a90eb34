package llm

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/auditengine/engine/pkg/circuitbreaker"
	engineerrors "github.com/auditengine/engine/pkg/errors"
	"github.com/auditengine/engine/pkg/ratelimit"
)

func TestFallbackPool_FailsOverOnProviderError(t *testing.T) {
	primary := &stubProvider{err: engineerrors.New(engineerrors.KindProviderError, "upstream 500")}
	secondary := &stubProvider{resp: &Response{Content: "from fallback"}}
	f := NewFallbackPool(
		NewPool(primary, 2, nil, nil, "llm:primary"),
		NewPool(secondary, 2, nil, nil, "llm:secondary"),
	)

	resp, err := f.Generate(context.Background(), Request{}, time.Time{})
	require.NoError(t, err)
	require.Equal(t, "from fallback", resp.Content)
	require.Equal(t, 1, primary.calls)
	require.Equal(t, 1, secondary.calls)
}

func TestFallbackPool_FailsOverOnOpenBreaker(t *testing.T) {
	primary := &stubProvider{err: engineerrors.New(engineerrors.KindProviderError, "upstream 500")}
	secondary := &stubProvider{resp: &Response{Content: "from fallback"}}
	breakers := circuitbreaker.NewRegistry(circuitbreaker.Settings{FailureThreshold: 1, RecoveryTimeout: time.Minute, HalfOpenMaxCalls: 1}, nil, nil)
	f := NewFallbackPool(
		NewPool(primary, 2, nil, breakers, "llm:primary"),
		NewPool(secondary, 2, nil, breakers, "llm:secondary"),
	)

	// First call fails over on the provider error and trips the primary's
	// breaker; the second is rejected by the open breaker without the
	// primary provider being invoked again.
	for i := 0; i < 2; i++ {
		resp, err := f.Generate(context.Background(), Request{}, time.Time{})
		require.NoError(t, err)
		require.Equal(t, "from fallback", resp.Content)
	}
	require.Equal(t, 1, primary.calls)
	require.Equal(t, 2, secondary.calls)
}

func TestFallbackPool_DoesNotFailOverOnNonProviderFailure(t *testing.T) {
	primary := &stubProvider{err: engineerrors.New(engineerrors.KindValidation, "bad request")}
	secondary := &stubProvider{resp: &Response{Content: "unreached"}}
	f := NewFallbackPool(
		NewPool(primary, 2, nil, nil, "llm:primary"),
		NewPool(secondary, 2, nil, nil, "llm:secondary"),
	)

	_, err := f.Generate(context.Background(), Request{}, time.Time{})
	require.Error(t, err)
	require.Equal(t, engineerrors.KindValidation, engineerrors.KindOf(err))
	require.Equal(t, 0, secondary.calls)
}

func TestPool_OpenBreakerDoesNotConsumeRateLimiterToken(t *testing.T) {
	provider := &stubProvider{err: engineerrors.New(engineerrors.KindProviderError, "upstream 500")}
	limiter := ratelimit.New(ratelimit.NewMemoryStore())
	limiter.Configure("llm:stub", ratelimit.Rule{Capacity: 2, RefillPerSecond: 0.001})
	breakers := circuitbreaker.NewRegistry(circuitbreaker.Settings{FailureThreshold: 1, RecoveryTimeout: time.Minute, HalfOpenMaxCalls: 1}, nil, nil)
	pool := NewPool(provider, 2, limiter, breakers, "llm:stub")

	// First call consumes one token and trips the breaker.
	_, err := pool.Generate(context.Background(), Request{}, time.Time{})
	require.Error(t, err)

	// Rejections from the open breaker must not drain the bucket.
	for i := 0; i < 5; i++ {
		_, err := pool.Generate(context.Background(), Request{}, time.Time{})
		require.Equal(t, engineerrors.KindCircuitOpen, engineerrors.KindOf(err))
	}
	require.Equal(t, 1, provider.calls)

	// The bucket's one remaining token is still available immediately.
	deadline := time.Now().Add(50 * time.Millisecond)
	require.NoError(t, limiter.Acquire(context.Background(), "llm:stub", deadline))
}
