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

package llm

import (
	"context"
	"time"

	engineerrors "github.com/auditengine/engine/pkg/errors"
)

// FallbackPool chains per-provider Pools in priority order: a request
// goes to the first pool, and only failures that indicate the provider
// itself is unavailable (circuit open, provider error, remote rate
// limit) advance to the next one. Each member pool keeps its own
// concurrency bound, rate-limit bucket, and circuit breaker, so a
// tripped primary fails over without the secondary inheriting its
// failure history.
type FallbackPool struct {
	pools []*Pool
}

func NewFallbackPool(pools ...*Pool) *FallbackPool {
	return &FallbackPool{pools: pools}
}

// Generate tries each pool in order until one succeeds or an error that
// fallback cannot help with (cancellation, a deadline already blown,
// invalid input) is hit.
func (f *FallbackPool) Generate(ctx context.Context, req Request, deadline time.Time) (*Response, error) {
	if len(f.pools) == 0 {
		return nil, engineerrors.New(engineerrors.KindConfiguration, "no llm providers configured")
	}

	var lastErr error
	for _, p := range f.pools {
		resp, err := p.Generate(ctx, req, deadline)
		if err == nil {
			return resp, nil
		}
		lastErr = err
		if !failsOver(err) {
			break
		}
	}
	return nil, lastErr
}

// GenerateStreaming opens a stream from the first pool whose provider
// admits the call; streams are restartable only from scratch, so a
// failure after the first chunk is not retried against a fallback.
func (f *FallbackPool) GenerateStreaming(ctx context.Context, req Request, deadline time.Time) (<-chan StreamChunk, error) {
	if len(f.pools) == 0 {
		return nil, engineerrors.New(engineerrors.KindConfiguration, "no llm providers configured")
	}

	var lastErr error
	for _, p := range f.pools {
		ch, err := p.GenerateStreaming(ctx, req, deadline)
		if err == nil {
			return ch, nil
		}
		lastErr = err
		if !failsOver(err) {
			break
		}
	}
	return nil, lastErr
}

// OnUsage registers the accounting callback on every member pool.
func (f *FallbackPool) OnUsage(fn func(inputTokens, outputTokens int)) {
	for _, p := range f.pools {
		p.OnUsage(fn)
	}
}

// failsOver reports whether an error means "this provider is down, try
// another one" as opposed to "this request can never succeed".
func failsOver(err error) bool {
	switch engineerrors.KindOf(err) {
	case engineerrors.KindCircuitOpen, engineerrors.KindProviderError, engineerrors.KindRateLimit:
		return true
	default:
		return false
	}
}
