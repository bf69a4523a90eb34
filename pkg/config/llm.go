// SPDX-License-Identifier: AGPL-3.0
// Copyright 2025 Kadir Pekel
//
// Licensed under the GNU Affero General Public License v3.0 (AGPL-3.0) (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     https://www.gnu.org/licenses/agpl-3.0.en.html
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package config

import (
	"fmt"
	"os"
)

// LLMProvider identifies the LLM provider type.
type LLMProvider string

const (
	LLMProviderAnthropic LLMProvider = "anthropic"
	LLMProviderBedrock   LLMProvider = "bedrock"
)

// LLMConfig configures an LLM provider.
type LLMConfig struct {
	// Provider type (anthropic, bedrock).
	Provider LLMProvider `yaml:"provider,omitempty" json:"provider,omitempty" jsonschema:"title=Provider,description=LLM provider,enum=anthropic,enum=bedrock,default=anthropic"`

	// Model name (e.g., "claude-sonnet-4-20250514", "gpt-4o").
	Model string `yaml:"model,omitempty" json:"model,omitempty" jsonschema:"title=Model,description=Model identifier"`

	// APIKey for authentication. Supports ${VAR} expansion.
	APIKey string `yaml:"api_key,omitempty" json:"api_key,omitempty" jsonschema:"title=API Key,description=API key for authentication (use ${ENV_VAR})"`

	// BaseURL overrides the default API endpoint.
	BaseURL string `yaml:"base_url,omitempty" json:"base_url,omitempty" jsonschema:"title=Base URL,description=Custom base URL for API endpoint"`

	// Temperature for generation (0.0 - 2.0).
	Temperature *float64 `yaml:"temperature,omitempty" json:"temperature,omitempty" jsonschema:"title=Temperature,description=Sampling temperature,minimum=0,maximum=2,default=0.7"`

	// MaxTokens limits response length.
	MaxTokens int `yaml:"max_tokens,omitempty" json:"max_tokens,omitempty" jsonschema:"title=Max Tokens,description=Maximum tokens to generate,minimum=1,default=4096"`

	// MaxConnections bounds concurrent in-flight calls to this provider.
	MaxConnections int `yaml:"max_connections,omitempty" json:"max_connections,omitempty" jsonschema:"title=Max Connections,description=Concurrent in-flight call bound,minimum=1,default=4"`

	// MaxRequestsPerMinute is this provider's own rate limit; each
	// provider gets its own bucket so one being throttled never starves
	// another.
	MaxRequestsPerMinute int `yaml:"max_requests_per_minute,omitempty" json:"max_requests_per_minute,omitempty" jsonschema:"title=Max Requests Per Minute,description=Per-provider rate limit,minimum=1,default=60"`

	// Thinking enables extended thinking (Claude).
	Thinking *ThinkingConfig `yaml:"thinking,omitempty" json:"thinking,omitempty" jsonschema:"title=Thinking Configuration,description=Extended thinking configuration (Claude)"`
}

// ThinkingConfig configures extended thinking (Claude).
type ThinkingConfig struct {
	// Enabled turns on extended thinking.
	Enabled *bool `yaml:"enabled,omitempty" json:"enabled,omitempty" jsonschema:"title=Enabled,description=Enable extended thinking,default=true"`

	// BudgetTokens is the token budget for thinking.
	BudgetTokens int `yaml:"budget_tokens,omitempty" json:"budget_tokens,omitempty" jsonschema:"title=Budget Tokens,description=Token budget for thinking,minimum=1,default=1024"`
}

// SetDefaults applies default values.
func (c *LLMConfig) SetDefaults() {
	// Auto-detect provider from environment if not set
	if c.Provider == "" {
		c.Provider = detectProviderFromEnv()
	}

	// Set default model per provider
	if c.Model == "" {
		switch c.Provider {
		case LLMProviderAnthropic:
			c.Model = "claude-sonnet-4-20250514"
		case LLMProviderBedrock:
			c.Model = "anthropic.claude-sonnet-4-20250514-v1:0"
		}
	}

	// Resolve ${VAR}/${VAR:-default} references (an operator may write
	// api_key: "${ANTHROPIC_API_KEY}" in audit.yaml instead of relying on
	// auto-detection), then fall back to the provider's well-known
	// environment variable if still unset.
	if c.APIKey != "" {
		c.APIKey = expandEnvVars(c.APIKey)
	}
	if c.APIKey == "" {
		c.APIKey = getAPIKeyFromEnv(c.Provider)
	}

	// Default temperature
	if c.Temperature == nil {
		temp := 0.7
		c.Temperature = &temp
	}

	// Default max tokens
	if c.MaxTokens == 0 {
		c.MaxTokens = 4096
	}

	// Default connection pool shape
	if c.MaxConnections == 0 {
		c.MaxConnections = 4
	}
	if c.MaxRequestsPerMinute == 0 {
		c.MaxRequestsPerMinute = 60
	}

	// Default thinking config
	if c.Thinking != nil {
		if c.Thinking.Enabled == nil {
			enabled := true
			c.Thinking.Enabled = &enabled
		}
		if c.Thinking.BudgetTokens == 0 {
			c.Thinking.BudgetTokens = 1024
		}
	}
}

// Validate checks the LLM configuration.
func (c *LLMConfig) Validate() error {
	validProviders := map[LLMProvider]bool{
		LLMProviderAnthropic: true,
		LLMProviderBedrock:   true,
	}

	if c.Provider != "" && !validProviders[c.Provider] {
		return fmt.Errorf("invalid provider %q (valid: anthropic, bedrock)", c.Provider)
	}

	// Bedrock authenticates via the AWS credential chain, not an API key.
	if c.Provider != LLMProviderBedrock && c.APIKey == "" {
		return fmt.Errorf("api_key is required for provider %q", c.Provider)
	}

	if c.Temperature != nil && (*c.Temperature < 0 || *c.Temperature > 2) {
		return fmt.Errorf("temperature must be between 0 and 2")
	}

	return nil
}

// detectProviderFromEnv detects provider based on available API keys.
func detectProviderFromEnv() LLMProvider {
	if os.Getenv("ANTHROPIC_API_KEY") != "" {
		return LLMProviderAnthropic
	}
	if os.Getenv("AWS_REGION") != "" || os.Getenv("AWS_PROFILE") != "" {
		return LLMProviderBedrock
	}
	// Default to Anthropic
	return LLMProviderAnthropic
}

// getAPIKeyFromEnv gets the API key for a provider from environment.
func getAPIKeyFromEnv(provider LLMProvider) string {
	switch provider {
	case LLMProviderAnthropic:
		return os.Getenv("ANTHROPIC_API_KEY")
	case LLMProviderBedrock:
		return "" // Bedrock authenticates via the AWS credential chain.
	default:
		return ""
	}
}
