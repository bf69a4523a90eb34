package tool

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/auditengine/engine/pkg/circuitbreaker"
	engineerrors "github.com/auditengine/engine/pkg/errors"
	"github.com/auditengine/engine/pkg/model"
	"github.com/auditengine/engine/pkg/ports"
	"github.com/auditengine/engine/pkg/ratelimit"
)

type stubTool struct {
	name        string
	resourceKey string
	calls       int
	errs        []error // one error per call, repeating the last entry once exhausted
	output      any
}

func (s *stubTool) Name() string               { return s.name }
func (s *stubTool) Description() string        { return "stub tool" }
func (s *stubTool) Schema() map[string]any     { return map[string]any{} }
func (s *stubTool) ResourceKey() string        { return s.resourceKey }
func (s *stubTool) Invoke(ctx context.Context, args map[string]any) (any, error) {
	idx := s.calls
	if idx >= len(s.errs) {
		idx = len(s.errs) - 1
	}
	s.calls++
	if idx >= 0 && s.errs[idx] != nil {
		return nil, s.errs[idx]
	}
	return s.output, nil
}

type capturingSink struct {
	events []model.Event
}

func (c *capturingSink) Publish(ctx context.Context, evt model.Event) {
	c.events = append(c.events, evt)
}

func newExecutor(registry *Registry, configs map[string]Config, sink EventSink) *Executor {
	return NewExecutor(registry, nil, nil, configs, sink, ports.SystemClock{}, nil)
}

func TestExecutor_UnknownToolReturnsToolError(t *testing.T) {
	e := newExecutor(NewRegistry(), nil, nil)
	res := e.Run(context.Background(), Call{Name: "nope"}, "t1", model.PhaseAnalysis, time.Time{})
	require.Equal(t, OutcomeToolError, res.Outcome)
	require.Equal(t, "tool not found", res.Error)
}

func TestExecutor_DisabledToolReturnsToolError(t *testing.T) {
	registry := NewRegistry()
	registry.Register(&stubTool{name: "search_code", errs: []error{nil}})
	e := newExecutor(registry, map[string]Config{"search_code": {Disabled: true}}, nil)

	res := e.Run(context.Background(), Call{Name: "search_code"}, "t1", model.PhaseAnalysis, time.Time{})
	require.Equal(t, OutcomeToolError, res.Outcome)
	require.Equal(t, "tool disabled", res.Error)
}

func TestExecutor_SuccessfulCallReturnsOKAndOutput(t *testing.T) {
	tl := &stubTool{name: "list_files", errs: []error{nil}, output: map[string]any{"files": []string{"a.go"}}}
	registry := NewRegistry()
	registry.Register(tl)
	sink := &capturingSink{}
	e := newExecutor(registry, map[string]Config{"list_files": {MaxRetries: 0}}, sink)

	res := e.Run(context.Background(), Call{ID: "c1", Name: "list_files"}, "t1", model.PhaseRecon, time.Time{})
	require.Equal(t, OutcomeOK, res.Outcome)
	require.Contains(t, string(res.Output), "a.go")
	require.Len(t, sink.events, 1)
	require.Equal(t, model.EventToolCall, sink.events[0].Kind)
}

func TestExecutor_RetriesRetryableErrorsUpToMaxRetries(t *testing.T) {
	tl := &stubTool{name: "semgrep", errs: []error{
		engineerrors.New(engineerrors.KindProviderError, "transient"),
		engineerrors.New(engineerrors.KindProviderError, "transient"),
		nil,
	}}
	registry := NewRegistry()
	registry.Register(tl)
	e := newExecutor(registry, map[string]Config{"semgrep": {MaxRetries: 3}}, nil)

	res := e.Run(context.Background(), Call{Name: "semgrep"}, "t1", model.PhaseAnalysis, time.Time{})
	require.Equal(t, OutcomeOK, res.Outcome)
	require.Equal(t, 3, tl.calls)
}

func TestExecutor_NonRetryableErrorStopsImmediately(t *testing.T) {
	tl := &stubTool{name: "validate_vulnerability", errs: []error{
		engineerrors.New(engineerrors.KindValidation, "bad input"),
	}}
	registry := NewRegistry()
	registry.Register(tl)
	e := newExecutor(registry, map[string]Config{"validate_vulnerability": {MaxRetries: 5}}, nil)

	res := e.Run(context.Background(), Call{Name: "validate_vulnerability"}, "t1", model.PhaseVerification, time.Time{})
	require.Equal(t, OutcomeToolError, res.Outcome)
	require.Equal(t, 1, tl.calls)
}

func TestExecutor_ExhaustingRetriesReturnsLastError(t *testing.T) {
	tl := &stubTool{name: "bandit", errs: []error{
		engineerrors.New(engineerrors.KindProviderError, "transient"),
	}}
	registry := NewRegistry()
	registry.Register(tl)
	e := newExecutor(registry, map[string]Config{"bandit": {MaxRetries: 1}}, nil)

	res := e.Run(context.Background(), Call{Name: "bandit"}, "t1", model.PhaseAnalysis, time.Time{})
	require.Equal(t, OutcomeToolError, res.Outcome)
	require.Equal(t, 2, tl.calls, "one initial attempt plus one retry")
}

func TestExecutor_OpenBreakerDoesNotConsumeRateLimiterToken(t *testing.T) {
	primary := &stubTool{name: "semgrep_scan", resourceKey: "scanner:semgrep", errs: []error{errors.New("boom")}}
	registry := NewRegistry()
	registry.Register(primary)

	limiter := ratelimit.New(ratelimit.NewMemoryStore())
	limiter.Configure("scanner:semgrep", ratelimit.Rule{Capacity: 2, RefillPerSecond: 0.001})
	breakers := circuitbreaker.NewRegistry(circuitbreaker.Settings{FailureThreshold: 1, RecoveryTimeout: time.Minute, HalfOpenMaxCalls: 1}, nil, nil)
	e := NewExecutor(registry, limiter, breakers, map[string]Config{"semgrep_scan": {MaxRetries: 0}}, nil, ports.SystemClock{}, nil)

	// First call consumes one token and trips the breaker.
	first := e.Run(context.Background(), Call{Name: "semgrep_scan"}, "t1", model.PhaseAnalysis, time.Time{})
	require.Equal(t, OutcomeToolError, first.Outcome)

	// Rejections from the open breaker must not drain the bucket.
	for i := 0; i < 5; i++ {
		res := e.Run(context.Background(), Call{Name: "semgrep_scan"}, "t1", model.PhaseAnalysis, time.Time{})
		require.Equal(t, OutcomeCircuitOpen, res.Outcome)
	}
	require.Equal(t, 1, primary.calls)

	// The bucket's one remaining token is still available immediately.
	deadline := time.Now().Add(50 * time.Millisecond)
	require.NoError(t, limiter.Acquire(context.Background(), "scanner:semgrep", deadline))
}

func TestExecutor_CircuitOpenWithFallbackDispatchesFallbackTool(t *testing.T) {
	primary := &stubTool{name: "osv_scanner", resourceKey: "scanner:osv"}
	fallback := &stubTool{name: "safety_check", output: "fallback result"}
	registry := NewRegistry()
	registry.Register(primary)
	registry.Register(fallback)

	breakers := circuitbreaker.NewRegistry(circuitbreaker.Settings{FailureThreshold: 1, RecoveryTimeout: time.Minute, HalfOpenMaxCalls: 1}, nil, nil)
	primary.errs = []error{errors.New("boom")}
	e := NewExecutor(registry, nil, breakers, map[string]Config{"osv_scanner": {FallbackTool: "safety_check", MaxRetries: 0}}, nil, ports.SystemClock{}, nil)

	// First call trips the breaker open.
	first := e.Run(context.Background(), Call{Name: "osv_scanner"}, "t1", model.PhaseAnalysis, time.Time{})
	require.Equal(t, OutcomeToolError, first.Outcome)

	// Second call observes the open breaker and should dispatch the fallback.
	second := e.Run(context.Background(), Call{Name: "osv_scanner"}, "t1", model.PhaseAnalysis, time.Time{})
	require.Equal(t, OutcomeFallbackUsed, second.Outcome)
	require.True(t, second.FallbackUsed)
	require.Contains(t, string(second.Output), "fallback result")
	require.Equal(t, 1, fallback.calls)
}

func TestExecutor_OutputTruncatedPastMaxOutputBytes(t *testing.T) {
	tl := &stubTool{name: "read_file", errs: []error{nil}, output: map[string]any{"content": "xxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxx"}}
	registry := NewRegistry()
	registry.Register(tl)
	e := newExecutor(registry, map[string]Config{"read_file": {MaxOutputBytes: 20}}, nil)

	res := e.Run(context.Background(), Call{Name: "read_file"}, "t1", model.PhaseRecon, time.Time{})
	require.Equal(t, OutcomeOK, res.Outcome)
	require.True(t, res.Truncated)
	require.Contains(t, string(res.Output), "...[truncated]")
}

func TestOutcomeFor_MapsErrorKindsToOutcomes(t *testing.T) {
	require.Equal(t, OutcomeRateLimited, outcomeFor(engineerrors.New(engineerrors.KindRateLimit, "x")))
	require.Equal(t, OutcomeCircuitOpen, outcomeFor(engineerrors.New(engineerrors.KindCircuitOpen, "x")))
	require.Equal(t, OutcomeTimeout, outcomeFor(engineerrors.New(engineerrors.KindTimeout, "x")))
	require.Equal(t, OutcomeToolError, outcomeFor(engineerrors.New(engineerrors.KindValidation, "x")))
}

func TestExecutor_RateLimitDeadlineExceededYieldsRateLimitedOutcome(t *testing.T) {
	tl := &stubTool{name: "semgrep", resourceKey: "scanner:semgrep", output: "ok"}
	registry := NewRegistry()
	registry.Register(tl)

	limiter := ratelimit.New(ratelimit.NewMemoryStore())
	limiter.Configure("scanner:semgrep", ratelimit.Rule{Capacity: 0, RefillPerSecond: 0.001})
	e := NewExecutor(registry, limiter, nil, map[string]Config{"semgrep": {MaxRetries: 0}}, nil, ports.SystemClock{}, nil)

	res := e.Run(context.Background(), Call{Name: "semgrep"}, "t1", model.PhaseAnalysis, time.Now().Add(10*time.Millisecond))
	require.Equal(t, OutcomeRateLimited, res.Outcome)
	require.Equal(t, 1, res.Attempts)
	require.False(t, res.FallbackUsed)
}

func TestExecutor_ResultRecordsAttemptCount(t *testing.T) {
	tl := &stubTool{name: "read_file", errs: []error{engineerrors.New(engineerrors.KindTimeout, "transient"), nil}, output: "done"}
	registry := NewRegistry()
	registry.Register(tl)
	e := newExecutor(registry, map[string]Config{"read_file": {MaxRetries: 1}}, nil)

	res := e.Run(context.Background(), Call{Name: "read_file"}, "t1", model.PhaseRecon, time.Time{})
	require.Equal(t, OutcomeOK, res.Outcome)
	require.Equal(t, 2, res.Attempts)
	require.False(t, res.FallbackUsed)
}
