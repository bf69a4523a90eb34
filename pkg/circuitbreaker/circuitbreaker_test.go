package circuitbreaker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	engineerrors "github.com/auditengine/engine/pkg/errors"
)

func failingCall(ctx context.Context) (any, error) {
	return nil, errors.New("boom")
}

func okCall(ctx context.Context) (any, error) {
	return "ok", nil
}

func TestRegistry_ClosedPassesThrough(t *testing.T) {
	r := NewRegistry(Settings{FailureThreshold: 2, RecoveryTimeout: time.Minute, HalfOpenMaxCalls: 1}, nil, nil)
	result, err := r.Execute(context.Background(), "tool-a", nil, okCall)
	require.NoError(t, err)
	require.Equal(t, "ok", result)
}

func TestRegistry_OpensAfterConsecutiveFailures(t *testing.T) {
	// failure_threshold=2: two consecutive failures trips the breaker
	// within one state step.
	var transitions []string
	r := NewRegistry(Settings{FailureThreshold: 2, RecoveryTimeout: time.Minute, HalfOpenMaxCalls: 1}, nil,
		func(key string, from, to string) { transitions = append(transitions, from+"->"+to) })

	_, err1 := r.Execute(context.Background(), "semgrep_scan", nil, failingCall)
	require.Error(t, err1)
	require.NotEqual(t, engineerrors.KindCircuitOpen, engineerrors.KindOf(err1))

	_, err2 := r.Execute(context.Background(), "semgrep_scan", nil, failingCall)
	require.Error(t, err2)

	state, ok := r.State("semgrep_scan")
	require.True(t, ok)
	require.Equal(t, "open", state)

	// Third call short-circuits without invoking fn.
	called := false
	_, err3 := r.Execute(context.Background(), "semgrep_scan", nil, func(ctx context.Context) (any, error) {
		called = true
		return nil, nil
	})
	require.False(t, called)
	require.Equal(t, engineerrors.KindCircuitOpen, engineerrors.KindOf(err3))
	require.Contains(t, transitions, "closed->open")
}

func TestRegistry_HalfOpenRecoversToClosedOnSuccess(t *testing.T) {
	r := NewRegistry(Settings{FailureThreshold: 1, RecoveryTimeout: 20 * time.Millisecond, HalfOpenMaxCalls: 1}, nil, nil)

	_, err := r.Execute(context.Background(), "key", nil, failingCall)
	require.Error(t, err)
	state, _ := r.State("key")
	require.Equal(t, "open", state)

	time.Sleep(30 * time.Millisecond)

	result, err := r.Execute(context.Background(), "key", nil, okCall)
	require.NoError(t, err)
	require.Equal(t, "ok", result)

	state, _ = r.State("key")
	require.Equal(t, "closed", state)
}

func TestRegistry_HalfOpenReopensOnFailure(t *testing.T) {
	r := NewRegistry(Settings{FailureThreshold: 1, RecoveryTimeout: 20 * time.Millisecond, HalfOpenMaxCalls: 1}, nil, nil)

	r.Execute(context.Background(), "key", nil, failingCall)
	time.Sleep(30 * time.Millisecond)

	_, err := r.Execute(context.Background(), "key", nil, failingCall)
	require.Error(t, err)

	state, _ := r.State("key")
	require.Equal(t, "open", state)
}

func TestRegistry_PerKeySettingsOverrideDefault(t *testing.T) {
	r := NewRegistry(Settings{FailureThreshold: 10, RecoveryTimeout: time.Minute, HalfOpenMaxCalls: 1}, nil, nil)
	override := Settings{FailureThreshold: 1, RecoveryTimeout: time.Minute, HalfOpenMaxCalls: 1}

	_, err := r.Execute(context.Background(), "low-threshold", &override, failingCall)
	require.Error(t, err)

	state, ok := r.State("low-threshold")
	require.True(t, ok)
	require.Equal(t, "open", state)
}

func TestRegistry_UnknownKeyHasNoState(t *testing.T) {
	r := NewRegistry(Settings{FailureThreshold: 1, RecoveryTimeout: time.Minute, HalfOpenMaxCalls: 1}, nil, nil)
	_, ok := r.State("never-called")
	require.False(t, ok)
}
