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
	"strings"
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

// tokenCounter backs count_tokens: an approximate but stable
// count used for context-window budgeting in the agent loop, not a
// provider-exact bill. Neither Anthropic nor Bedrock expose a local
// tokenizer, so every model is counted against the closest available
// BPE encoding; encodings are cached per model since construction walks
// a vocab table.
type tokenCounter struct {
	mu         sync.RWMutex
	encodings  map[string]*tiktoken.Tiktoken
}

var tokenCounters = &tokenCounter{encodings: make(map[string]*tiktoken.Tiktoken)}

// CountTokens implements count_tokens for model, falling back to
// bytes/4 when no encoding can be resolved for it at all (the
// tiktoken-go vendor list is OpenAI-centric; Claude and Bedrock models
// never match by name and always take the cl100k_base approximation
// below, which is close enough for budget checks).
func CountTokens(text, model string) int {
	enc := tokenCounters.encodingFor(model)
	if enc == nil {
		return len(text) / 4
	}
	return len(enc.Encode(text, nil, nil))
}

func (c *tokenCounter) encodingFor(model string) *tiktoken.Tiktoken {
	name := encodingNameForModel(model)

	c.mu.RLock()
	enc, ok := c.encodings[name]
	c.mu.RUnlock()
	if ok {
		return enc
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if enc, ok := c.encodings[name]; ok {
		return enc
	}
	enc, err := tiktoken.GetEncoding(name)
	if err != nil {
		return nil
	}
	c.encodings[name] = enc
	return enc
}

// encodingNameForModel maps a provider model name to the closest BPE
// encoding. Claude and Bedrock model IDs fall through to cl100k_base,
// a stable approximation for non-OpenAI models.
func encodingNameForModel(model string) string {
	switch {
	case strings.Contains(model, "gpt-4o"):
		return "o200k_base"
	case strings.Contains(model, "gpt-4"), strings.Contains(model, "gpt-3.5"):
		return "cl100k_base"
	default:
		return "cl100k_base"
	}
}

// CountTokens estimates the token cost of a single text blob for this
// provider's model.
func (p *AnthropicProvider) CountTokens(text string) int {
	return CountTokens(text, p.model)
}

// CountTokens estimates the token cost of a single text blob for this
// provider's model.
func (p *BedrockProvider) CountTokens(text string) int {
	return CountTokens(text, p.model)
}
