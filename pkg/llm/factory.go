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
	"fmt"

	"github.com/auditengine/engine/pkg/config"
)

// New constructs the concrete Provider named by cfg.Provider. Only
// "anthropic" and "bedrock" are wired; other config.LLMProvider values
// from the generic config schema are rejected here rather than silently
// falling back, since only these two backends ship.
func New(ctx context.Context, cfg config.LLMConfig) (Provider, error) {
	switch cfg.Provider {
	case config.LLMProviderAnthropic, "":
		return NewAnthropicProvider(cfg)
	case config.LLMProviderBedrock:
		return NewBedrockProvider(ctx, cfg)
	default:
		return nil, fmt.Errorf("llm: unsupported provider %q (supported: anthropic, bedrock)", cfg.Provider)
	}
}
