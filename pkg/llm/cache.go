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
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"

	"github.com/auditengine/engine/pkg/ports"
)

// CachedPool memoizes identical requests to the same model behind a
// content hash, avoiding repeat spend when the agent loop re-issues the
// same recon prompt after a checkpoint resume. It wraps any Generator,
// so a single-provider Pool and a multi-provider FallbackPool cache the
// same way.
type CachedPool struct {
	pool  Generator
	cache ports.Cache
	ttl   time.Duration
	model string
}

func NewCachedPool(pool Generator, cache ports.Cache, model string, ttl time.Duration) *CachedPool {
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}
	return &CachedPool{pool: pool, cache: cache, ttl: ttl, model: model}
}

func (c *CachedPool) cacheKey(req Request) string {
	raw, _ := json.Marshal(req)
	sum := sha256.Sum256(append([]byte(c.model), raw...))
	return "llmcache:" + hex.EncodeToString(sum[:])
}

func (c *CachedPool) Generate(ctx context.Context, req Request, deadline time.Time) (*Response, error) {
	if c.cache == nil {
		return c.pool.Generate(ctx, req, deadline)
	}

	key := c.cacheKey(req)
	if hit, ok, err := c.cache.Get(ctx, key); err == nil && ok {
		var resp Response
		if err := json.Unmarshal(hit, &resp); err == nil {
			return &resp, nil
		}
	}

	resp, err := c.pool.Generate(ctx, req, deadline)
	if err != nil {
		return nil, err
	}

	if raw, err := json.Marshal(resp); err == nil {
		_ = c.cache.Set(ctx, key, raw, c.ttl)
	}
	return resp, nil
}
