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
	"encoding/json"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/auditengine/engine/pkg/config"
	engineerrors "github.com/auditengine/engine/pkg/errors"
)

// AnthropicProvider wraps anthropic-sdk-go's Messages API.
type AnthropicProvider struct {
	client anthropic.Client
	model  string
	cfg    config.LLMConfig
}

// NewAnthropicProvider builds a provider from the engine's LLM config.
func NewAnthropicProvider(cfg config.LLMConfig) (*AnthropicProvider, error) {
	if cfg.APIKey == "" {
		return nil, engineerrors.New(engineerrors.KindConfiguration, "anthropic: api_key is required")
	}
	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	return &AnthropicProvider{
		client: anthropic.NewClient(opts...),
		model:  cfg.Model,
		cfg:    cfg,
	}, nil
}

func (p *AnthropicProvider) Name() string  { return "anthropic" }
func (p *AnthropicProvider) Model() string { return p.model }

func (p *AnthropicProvider) buildParams(req Request) anthropic.MessageNewParams {
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(p.model),
		MaxTokens: int64(orDefault(req.MaxTokens, p.cfg.MaxTokens, 4096)),
		Messages:  toAnthropicMessages(req.Messages),
	}
	if req.System != "" {
		params.System = []anthropic.TextBlockParam{{Text: req.System}}
	}
	temp := req.Temperature
	if temp == nil {
		temp = p.cfg.Temperature
	}
	if temp != nil {
		params.Temperature = anthropic.Float(*temp)
	}
	if len(req.Tools) > 0 {
		params.Tools = toAnthropicTools(req.Tools)
	}
	return params
}

func orDefault(vals ...int) int {
	for _, v := range vals {
		if v > 0 {
			return v
		}
	}
	return 0
}

// Generate issues a single non-streaming completion.
func (p *AnthropicProvider) Generate(ctx context.Context, req Request) (*Response, error) {
	params := p.buildParams(req)
	msg, err := p.client.Messages.New(ctx, params)
	if err != nil {
		return nil, engineerrors.Wrap(engineerrors.KindProviderError, "anthropic: messages.new", err)
	}
	return anthropicToResponse(msg), nil
}

// GenerateStreaming issues a streaming completion, translating SSE
// deltas into StreamChunks on the returned channel. The channel is
// closed once the stream ends or ctx is cancelled.
func (p *AnthropicProvider) GenerateStreaming(ctx context.Context, req Request) (<-chan StreamChunk, error) {
	params := p.buildParams(req)
	stream := p.client.Messages.NewStreaming(ctx, params)

	out := make(chan StreamChunk, 16)
	go func() {
		defer close(out)
		var totalTokens int
		for stream.Next() {
			event := stream.Current()
			if event.Delta.Text != "" {
				out <- StreamChunk{Type: "text", Text: event.Delta.Text}
			}
			if event.Usage.OutputTokens > 0 {
				totalTokens = int(event.Usage.OutputTokens)
			}
		}
		if err := stream.Err(); err != nil {
			out <- StreamChunk{Type: "error", Error: engineerrors.Wrap(engineerrors.KindProviderError, "anthropic: stream", err)}
			return
		}
		out <- StreamChunk{Type: "done", Tokens: totalTokens}
	}()
	return out, nil
}

func toAnthropicMessages(msgs []Message) []anthropic.MessageParam {
	out := make([]anthropic.MessageParam, 0, len(msgs))
	for _, m := range msgs {
		switch m.Role {
		case "assistant":
			blocks := []anthropic.ContentBlockParamUnion{}
			if m.Content != "" {
				blocks = append(blocks, anthropic.NewTextBlock(m.Content))
			}
			for _, tc := range m.ToolCalls {
				blocks = append(blocks, anthropic.NewToolUseBlock(tc.ID, tc.Arguments, tc.Name))
			}
			out = append(out, anthropic.NewAssistantMessage(blocks...))
		case "tool":
			raw, _ := json.Marshal(m.Content)
			out = append(out, anthropic.NewUserMessage(anthropic.NewToolResultBlock(m.ToolCallID, string(raw), false)))
		default:
			out = append(out, anthropic.NewUserMessage(anthropic.NewTextBlock(m.Content)))
		}
	}
	return out
}

func toAnthropicTools(defs []ToolDefinition) []anthropic.ToolUnionParam {
	out := make([]anthropic.ToolUnionParam, 0, len(defs))
	for _, d := range defs {
		out = append(out, anthropic.ToolUnionParam{
			OfTool: &anthropic.ToolParam{
				Name:        d.Name,
				Description: anthropic.String(d.Description),
				InputSchema: anthropic.ToolInputSchemaParam{
					Properties: d.Parameters["properties"],
				},
			},
		})
	}
	return out
}

func anthropicToResponse(msg *anthropic.Message) *Response {
	resp := &Response{
		InputTokens:  int(msg.Usage.InputTokens),
		OutputTokens: int(msg.Usage.OutputTokens),
		StopReason:   string(msg.StopReason),
	}
	for _, block := range msg.Content {
		switch b := block.AsAny().(type) {
		case anthropic.TextBlock:
			resp.Content += b.Text
		case anthropic.ToolUseBlock:
			raw, _ := json.Marshal(b.Input)
			var args map[string]any
			_ = json.Unmarshal(raw, &args)
			resp.ToolCalls = append(resp.ToolCalls, ToolCall{
				ID:        b.ID,
				Name:      b.Name,
				Arguments: args,
				RawArgs:   string(raw),
			})
		}
	}
	return resp
}

var _ Provider = (*AnthropicProvider)(nil)
