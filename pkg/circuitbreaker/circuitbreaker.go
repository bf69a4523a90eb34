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

// Package circuitbreaker provides the per-resource-key three-state
// breaker (Closed/Open/HalfOpen), built on sony/gobreaker
// rather than hand-rolled, since gobreaker already implements exactly
// this state machine (consecutive-failure threshold, recovery timeout,
// bounded half-open admission) and is part of the dependency-grounding
// pack for this domain.
package circuitbreaker

import (
	"context"
	"sync"
	"time"

	"github.com/sony/gobreaker"

	engineerrors "github.com/auditengine/engine/pkg/errors"
	"github.com/auditengine/engine/pkg/ports"
)

// Settings configures one resource key's breaker (the circuit.* config keys).
type Settings struct {
	FailureThreshold   uint32
	RecoveryTimeout    time.Duration
	HalfOpenMaxCalls   uint32
}

// StateChangeFunc is invoked whenever a breaker transitions state, so the
// caller can emit a telemetry event for the transition.
type StateChangeFunc func(key string, from, to string)

// Registry holds one gobreaker.CircuitBreaker per resource key, created
// lazily from a Settings the first time that key is seen.
type Registry struct {
	mu         sync.Mutex
	breakers   map[string]*gobreaker.CircuitBreaker
	defaults   Settings
	onChange   StateChangeFunc
	logger     ports.Logger
}

func NewRegistry(defaults Settings, logger ports.Logger, onChange StateChangeFunc) *Registry {
	return &Registry{
		breakers: map[string]*gobreaker.CircuitBreaker{},
		defaults: defaults,
		onChange: onChange,
		logger:   logger,
	}
}

func (r *Registry) breakerFor(key string, s Settings) *gobreaker.CircuitBreaker {
	r.mu.Lock()
	defer r.mu.Unlock()

	if b, ok := r.breakers[key]; ok {
		return b
	}

	cfg := gobreaker.Settings{
		Name:        key,
		MaxRequests: s.HalfOpenMaxCalls,
		Interval:    0, // counts never reset except on state transition
		Timeout:     s.RecoveryTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= s.FailureThreshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			if r.onChange != nil {
				r.onChange(name, from.String(), to.String())
			}
			if r.logger != nil {
				r.logger.Info("circuit breaker state change", "key", name, "from", from.String(), "to", to.String())
			}
		},
	}

	b := gobreaker.NewCircuitBreaker(cfg)
	r.breakers[key] = b
	return b
}

// Execute runs fn through the breaker for key, using custom Settings if
// provided else the registry default. A breaker in Open state returns
// KindCircuitOpen immediately without invoking fn and without consuming
// a rate-limiter token (the caller is expected to have already consulted
// the rate limiter before calling Execute).
func (r *Registry) Execute(ctx context.Context, key string, settings *Settings, fn func(ctx context.Context) (any, error)) (any, error) {
	s := r.defaults
	if settings != nil {
		s = *settings
	}
	b := r.breakerFor(key, s)

	result, err := b.Execute(func() (interface{}, error) {
		return fn(ctx)
	})
	if err != nil {
		if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
			return nil, ErrOpen(key)
		}
		return nil, err
	}
	return result, nil
}

// Open reports whether key's breaker is currently in the Open state. A
// key with no breaker yet has never failed and counts as closed.
// Callers check this before spending other resources on a call the
// breaker would reject anyway; in particular, a call rejected by an
// Open breaker must never have consumed a rate-limiter token.
func (r *Registry) Open(key string) bool {
	state, ok := r.State(key)
	return ok && state == gobreaker.StateOpen.String()
}

// ErrOpen is the rejection returned for calls against an Open breaker.
func ErrOpen(key string) *engineerrors.Error {
	return engineerrors.New(engineerrors.KindCircuitOpen, "circuit breaker open for "+key).
		WithDetails(map[string]any{"service_name": key})
}

// State reports the current breaker state for a key, for observability.
func (r *Registry) State(key string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.breakers[key]
	if !ok {
		return "", false
	}
	return b.State().String(), true
}
