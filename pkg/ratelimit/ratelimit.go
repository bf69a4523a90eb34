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

// Package ratelimit implements the per-resource token-bucket limiter:
// one bucket per resource key (tool name, LLM provider name, or the
// global per-minute LLM bucket), capacity = burst, refill rate =
// per-second rate. Acquire blocks the caller until a token is available
// or the deadline passes, whichever is first.
//
// Continuous refill (rather than a discrete per-minute request counter)
// keeps the fairness bound `issued_tokens_in_window_W <= r*W + b` exact
// at window boundaries. Bucket state lives behind the Store interface so
// in-memory and Redis-shared deployments use the same Limiter.
package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	engineerrors "github.com/auditengine/engine/pkg/errors"
)

// Rule configures one resource key's bucket.
type Rule struct {
	// Capacity is the burst size: the maximum number of tokens the
	// bucket can hold.
	Capacity int64
	// RefillPerSecond is the steady-state refill rate.
	RefillPerSecond float64
}

// Store persists bucket state. Implementations must be safe for
// concurrent use; a single mutex per key is the expected granularity.
type Store interface {
	// Take attempts to remove n tokens from the bucket for key, refilling
	// it first based on elapsed time since the last recorded refill. It
	// returns whether the take succeeded and, if not, the wait duration
	// until it would.
	Take(ctx context.Context, key string, rule Rule, n int64, now time.Time) (ok bool, wait time.Duration, err error)
}

// Limiter is one per-process façade over a Store, used by both the tool
// executor and the LLM client pool.
type Limiter struct {
	store Store
	mu    sync.RWMutex
	rules map[string]Rule
}

// New constructs a Limiter backed by the given Store.
func New(store Store) *Limiter {
	return &Limiter{store: store, rules: map[string]Rule{}}
}

// Configure registers (or replaces) the bucket rule for a resource key.
func (l *Limiter) Configure(key string, rule Rule) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.rules[key] = rule
}

func (l *Limiter) ruleFor(key string) (Rule, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	r, ok := l.rules[key]
	return r, ok
}

// Acquire blocks until a token for key is available, the deadline
// passes, or ctx is cancelled. A key with no configured rule is
// unlimited and always succeeds immediately.
func (l *Limiter) Acquire(ctx context.Context, key string, deadline time.Time) error {
	rule, ok := l.ruleFor(key)
	if !ok {
		return nil
	}

	for {
		ok, wait, err := l.store.Take(ctx, key, rule, 1, time.Now())
		if err != nil {
			return engineerrors.Wrap(engineerrors.KindRateLimit, fmt.Sprintf("rate limiter store error for %q", key), err)
		}
		if ok {
			return nil
		}

		now := time.Now()
		if !deadline.IsZero() && now.Add(wait).After(deadline) {
			return engineerrors.New(engineerrors.KindRateLimit, fmt.Sprintf("rate limit deadline exceeded for %q", key)).
				WithDetails(map[string]any{"retry_after": int(wait.Seconds())})
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return engineerrors.Wrap(engineerrors.KindCancelled, "rate limiter wait cancelled", ctx.Err())
		case <-timer.C:
		}
	}
}
