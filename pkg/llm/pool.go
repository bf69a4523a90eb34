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

	"golang.org/x/sync/semaphore"

	"github.com/auditengine/engine/pkg/circuitbreaker"
	engineerrors "github.com/auditengine/engine/pkg/errors"
	"github.com/auditengine/engine/pkg/ratelimit"
)

// Pool bounds concurrent in-flight LLM calls per provider and layers
// rate limiting, circuit breaking, and a cost-accounting hook in front
// of Provider.Generate/GenerateStreaming, mirroring the run_tool
// pipeline in pkg/tool/executor.go but scoped to the single "call an
// LLM" operation instead of arbitrary tool invocations.
type Pool struct {
	provider  Provider
	sem       *semaphore.Weighted
	limiter   *ratelimit.Limiter
	breakers  *circuitbreaker.Registry
	resourceKey string
	onUsage   func(inputTokens, outputTokens int)
}

// NewPool wraps provider with a concurrency bound of maxInFlight,
// accounting calls against resourceKey in the shared rate limiter and
// circuit breaker registries.
func NewPool(provider Provider, maxInFlight int64, limiter *ratelimit.Limiter, breakers *circuitbreaker.Registry, resourceKey string) *Pool {
	if maxInFlight <= 0 {
		maxInFlight = 4
	}
	return &Pool{
		provider:    provider,
		sem:         semaphore.NewWeighted(maxInFlight),
		limiter:     limiter,
		breakers:    breakers,
		resourceKey: resourceKey,
	}
}

// OnUsage registers a callback invoked after every successful Generate
// with the token counts, for cost/budget accounting in the agent loop.
func (p *Pool) OnUsage(fn func(inputTokens, outputTokens int)) {
	p.onUsage = fn
}

func (p *Pool) Generate(ctx context.Context, req Request, deadline time.Time) (*Response, error) {
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return nil, engineerrors.Wrap(engineerrors.KindCancelled, "llm pool: acquire slot", err)
	}
	defer p.sem.Release(1)

	// An Open breaker rejects before the rate limiter runs, so a call
	// that cannot go through never consumes a token.
	if p.breakers != nil && p.breakers.Open(p.resourceKey) {
		return nil, circuitbreaker.ErrOpen(p.resourceKey)
	}

	if p.limiter != nil {
		if err := p.limiter.Acquire(ctx, p.resourceKey, deadline); err != nil {
			return nil, err
		}
	}

	invoke := func(c context.Context) (any, error) {
		return p.provider.Generate(c, req)
	}

	var res any
	var err error
	if p.breakers != nil {
		res, err = p.breakers.Execute(ctx, p.resourceKey, nil, invoke)
	} else {
		res, err = invoke(ctx)
	}
	if err != nil {
		return nil, err
	}

	resp := res.(*Response)
	if p.onUsage != nil {
		p.onUsage(resp.InputTokens, resp.OutputTokens)
	}
	return resp, nil
}

// GenerateStreaming bypasses the circuit breaker's synchronous Execute
// wrapper (streaming responses are long-lived) but still honors the
// concurrency and rate-limit gates before opening the stream.
func (p *Pool) GenerateStreaming(ctx context.Context, req Request, deadline time.Time) (<-chan StreamChunk, error) {
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return nil, engineerrors.Wrap(engineerrors.KindCancelled, "llm pool: acquire slot", err)
	}
	if p.breakers != nil && p.breakers.Open(p.resourceKey) {
		p.sem.Release(1)
		return nil, circuitbreaker.ErrOpen(p.resourceKey)
	}
	if p.limiter != nil {
		if err := p.limiter.Acquire(ctx, p.resourceKey, deadline); err != nil {
			p.sem.Release(1)
			return nil, err
		}
	}

	upstream, err := p.provider.GenerateStreaming(ctx, req)
	if err != nil {
		p.sem.Release(1)
		return nil, err
	}

	out := make(chan StreamChunk, 16)
	go func() {
		defer close(out)
		defer p.sem.Release(1)
		for chunk := range upstream {
			if chunk.Type == "done" && p.onUsage != nil {
				p.onUsage(0, chunk.Tokens)
			}
			out <- chunk
		}
	}()
	return out, nil
}
