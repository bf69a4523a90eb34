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

package tool

import (
	"context"
	"encoding/json"
	"math"
	"time"

	"github.com/auditengine/engine/pkg/circuitbreaker"
	engineerrors "github.com/auditengine/engine/pkg/errors"
	"github.com/auditengine/engine/pkg/model"
	"github.com/auditengine/engine/pkg/observability"
	"github.com/auditengine/engine/pkg/ports"
	"github.com/auditengine/engine/pkg/ratelimit"
)

// Config holds the per-tool settings the executor consults at steps 1-2.
type Config struct {
	Disabled       bool
	Timeout        time.Duration
	MaxRetries     int
	FallbackTool   string
	MaxOutputBytes int
}

// EventSink is the narrow publish surface the executor needs from the
// event bus; kept separate from ports.EventStore since the bus, not
// the executor, owns batching/sequencing/backpressure.
type EventSink interface {
	Publish(ctx context.Context, evt model.Event)
}

// Executor is the single entry point every tool invocation goes through. It
// wraps every Tool.Invoke with the rate-limit/breaker/retry/truncate/emit
// pipeline; tools themselves stay free of that cross-cutting concern.
type Executor struct {
	registry *Registry
	limiter  *ratelimit.Limiter
	breakers *circuitbreaker.Registry
	configs  map[string]Config
	events   EventSink
	clock    ports.Clock
	logger   ports.Logger
}

func NewExecutor(registry *Registry, limiter *ratelimit.Limiter, breakers *circuitbreaker.Registry, configs map[string]Config, events EventSink, clock ports.Clock, logger ports.Logger) *Executor {
	return &Executor{
		registry: registry,
		limiter:  limiter,
		breakers: breakers,
		configs:  configs,
		events:   events,
		clock:    clock,
		logger:   logger,
	}
}

// Run executes call against the registered tool: config lookup, deadline
// resolution, rate limit, breaker (with fallback dispatch when open),
// invoke, retry/classify, truncate, emit. phase identifies the caller for
// the emitted tool-call event; callerDeadline is the remaining caller
// budget folded into the per-call deadline.
func (e *Executor) Run(ctx context.Context, call Call, taskID string, phase model.Phase, callerDeadline time.Time) *Result {
	start := e.clock.Now()

	// Step 1: look up tool + config.
	t, ok := e.registry.Lookup(call.Name)
	if !ok {
		return e.finish(taskID, phase, call, start, OutcomeToolError, nil, false, "tool not found", 0, false)
	}
	cfg := e.configs[call.Name]
	if cfg.Disabled {
		return e.finish(taskID, phase, call, start, OutcomeToolError, nil, false, "tool disabled", 0, false)
	}

	// Step 2: per-call deadline = min(remaining caller budget, tool timeout).
	deadline := callerDeadline
	if cfg.Timeout > 0 {
		toolDeadline := start.Add(cfg.Timeout)
		if deadline.IsZero() || toolDeadline.Before(deadline) {
			deadline = toolDeadline
		}
	}
	callCtx := ctx
	var cancel context.CancelFunc
	if !deadline.IsZero() {
		callCtx, cancel = context.WithDeadline(ctx, deadline)
		defer cancel()
	}

	resourceKey := t.ResourceKey()
	attempts := 0
	fallbackUsed := false
	var lastErr error
	var output any

	for attempt := 0; ; attempt++ {
		attempts++

		var res any
		var err error
		if resourceKey != "" && e.breakers != nil && e.breakers.Open(resourceKey) {
			// An Open breaker rejects before the rate limiter runs, so a
			// call that cannot go through never consumes a token; the
			// fallback dispatch below still sees the circuit-open error.
			err = circuitbreaker.ErrOpen(resourceKey)
		} else {
			// Step 3a: rate limit.
			if resourceKey != "" && e.limiter != nil {
				if rlErr := e.limiter.Acquire(callCtx, resourceKey, deadline); rlErr != nil {
					lastErr = rlErr
					break
				}
			}

			invokeFn := func(c context.Context) (any, error) {
				return t.Invoke(c, call.Args)
			}

			// Step 3b-4: circuit breaker + invoke.
			if resourceKey != "" && e.breakers != nil {
				res, err = e.breakers.Execute(callCtx, resourceKey, nil, invokeFn)
			} else {
				res, err = invokeFn(callCtx)
			}
		}

		if err == nil {
			output = res
			lastErr = nil
			break
		}
		lastErr = err

		// Step 3c: circuit-open with a configured fallback dispatches once,
		// no recursion.
		if engineerrors.KindOf(err) == engineerrors.KindCircuitOpen && cfg.FallbackTool != "" {
			if fb, ok := e.registry.Lookup(cfg.FallbackTool); ok {
				fbRes, fbErr := fb.Invoke(callCtx, call.Args)
				if fbErr == nil {
					output = fbRes
					lastErr = nil
					fallbackUsed = true
				} else {
					lastErr = fbErr
				}
			}
			break
		}

		// Step 5: classify retryable vs permanent.
		if !engineerrors.Retryable(engineerrors.KindOf(err)) || attempt >= cfg.MaxRetries {
			break
		}

		backoff := time.Duration(math.Pow(2, float64(attempt))) * 100 * time.Millisecond
		timer := time.NewTimer(backoff)
		select {
		case <-timer.C:
		case <-callCtx.Done():
			timer.Stop()
			lastErr = callCtx.Err()
			goto done
		}
	}
done:

	if lastErr != nil {
		return e.finish(taskID, phase, call, start, outcomeFor(lastErr), nil, false, lastErr.Error(), attempts, false)
	}

	// Step 6: truncate output, preserving a marker.
	raw, marshalErr := json.Marshal(output)
	if marshalErr != nil {
		raw = []byte(`null`)
	}
	truncated := false
	maxBytes := cfg.MaxOutputBytes
	if maxBytes > 0 && len(raw) > maxBytes {
		marker := []byte(`...[truncated]`)
		cut := maxBytes - len(marker)
		if cut < 0 {
			cut = 0
		}
		raw = append(append([]byte{}, raw[:cut]...), marker...)
		truncated = true
	}

	outcome := OutcomeOK
	if fallbackUsed {
		outcome = OutcomeFallbackUsed
	}
	return e.finish(taskID, phase, call, start, outcome, raw, truncated, "", attempts, fallbackUsed)
}

// outcomeFor maps the closed error taxonomy onto the coarser outcome set
// the agent loop branches on.
func outcomeFor(err error) Outcome {
	switch engineerrors.KindOf(err) {
	case engineerrors.KindRateLimit:
		return OutcomeRateLimited
	case engineerrors.KindCircuitOpen:
		return OutcomeCircuitOpen
	case engineerrors.KindTimeout:
		return OutcomeTimeout
	default:
		return OutcomeToolError
	}
}

func (e *Executor) finish(taskID string, phase model.Phase, call Call, start time.Time, outcome Outcome, output json.RawMessage, truncated bool, errMsg string, attempts int, fallbackUsed bool) *Result {
	duration := e.clock.Now().Sub(start)

	metrics := observability.GetGlobalMetrics()
	metrics.RecordToolCall(call.Name, duration)
	if outcome != OutcomeOK && outcome != OutcomeFallbackUsed {
		metrics.RecordToolError(call.Name, string(outcome))
	}

	result := &Result{
		ToolCallID:   call.ID,
		ToolName:     call.Name,
		Outcome:      outcome,
		Output:       output,
		Truncated:    truncated,
		Error:        errMsg,
		DurationMS:   duration.Milliseconds(),
		Attempts:     attempts,
		FallbackUsed: fallbackUsed,
	}

	// Step 7: emit a tool-call event with all fields.
	if e.events != nil {
		evt := model.Event{
			TaskID:    taskID,
			Kind:      model.EventToolCall,
			Phase:     string(phase),
			ToolName:  call.Name,
			ToolInput: call.Args,
			Duration:  duration,
			Message:   errMsg,
			Metadata:  map[string]any{"attempts": attempts, "truncated": truncated, "fallback_used": fallbackUsed},
			Timestamp: e.clock.Now(),
		}
		e.events.Publish(context.Background(), evt)
	}

	// Step 8: ToolResult{outcome, output, duration, truncated?, attempts, fallback_used?}.
	return result
}
