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

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/document"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"

	"github.com/auditengine/engine/pkg/config"
	engineerrors "github.com/auditengine/engine/pkg/errors"
)

// BedrockProvider wraps the Bedrock Runtime Converse API as a second,
// independently-failing LLM backend,
// used for fallback-on-circuit-open from the primary Anthropic direct API.
type BedrockProvider struct {
	client *bedrockruntime.Client
	model  string
	cfg    config.LLMConfig
}

// NewBedrockProvider loads AWS credentials from the default provider
// chain (env, shared config, instance role) and targets modelID, which
// for Claude-on-Bedrock is an inference profile or foundation model ARN.
func NewBedrockProvider(ctx context.Context, cfg config.LLMConfig) (*BedrockProvider, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, engineerrors.Wrap(engineerrors.KindConfiguration, "bedrock: load aws config", err)
	}
	return &BedrockProvider{
		client: bedrockruntime.NewFromConfig(awsCfg),
		model:  cfg.Model,
		cfg:    cfg,
	}, nil
}

func (p *BedrockProvider) Name() string  { return "bedrock" }
func (p *BedrockProvider) Model() string { return p.model }

func (p *BedrockProvider) buildInput(req Request) *bedrockruntime.ConverseInput {
	input := &bedrockruntime.ConverseInput{
		ModelId:  aws.String(p.model),
		Messages: toBedrockMessages(req.Messages),
		InferenceConfig: &types.InferenceConfiguration{
			MaxTokens: aws.Int32(int32(orDefault(req.MaxTokens, p.cfg.MaxTokens, 4096))),
		},
	}
	if req.System != "" {
		input.System = []types.SystemContentBlock{&types.SystemContentBlockMemberText{Value: req.System}}
	}
	temp := req.Temperature
	if temp == nil {
		temp = p.cfg.Temperature
	}
	if temp != nil {
		input.InferenceConfig.Temperature = aws.Float32(float32(*temp))
	}
	if len(req.Tools) > 0 {
		input.ToolConfig = &types.ToolConfiguration{Tools: toBedrockTools(req.Tools)}
	}
	return input
}

func (p *BedrockProvider) Generate(ctx context.Context, req Request) (*Response, error) {
	out, err := p.client.Converse(ctx, p.buildInput(req))
	if err != nil {
		return nil, engineerrors.Wrap(engineerrors.KindProviderError, "bedrock: converse", err)
	}
	return bedrockToResponse(out), nil
}

// GenerateStreaming uses ConverseStream, translating content-block
// deltas into StreamChunks.
func (p *BedrockProvider) GenerateStreaming(ctx context.Context, req Request) (<-chan StreamChunk, error) {
	input := p.buildInput(req)
	streamOut, err := p.client.ConverseStream(ctx, &bedrockruntime.ConverseStreamInput{
		ModelId:         input.ModelId,
		Messages:        input.Messages,
		System:          input.System,
		InferenceConfig: input.InferenceConfig,
		ToolConfig:      input.ToolConfig,
	})
	if err != nil {
		return nil, engineerrors.Wrap(engineerrors.KindProviderError, "bedrock: converse_stream", err)
	}

	out := make(chan StreamChunk, 16)
	go func() {
		defer close(out)
		stream := streamOut.GetStream()
		defer stream.Close()

		var totalTokens int
		for event := range stream.Events() {
			switch v := event.(type) {
			case *types.ConverseStreamOutputMemberContentBlockDelta:
				if textDelta, ok := v.Value.Delta.(*types.ContentBlockDeltaMemberText); ok {
					out <- StreamChunk{Type: "text", Text: textDelta.Value}
				}
			case *types.ConverseStreamOutputMemberMetadata:
				if v.Value.Usage != nil && v.Value.Usage.OutputTokens != nil {
					totalTokens = int(*v.Value.Usage.OutputTokens)
				}
			}
		}
		if err := stream.Err(); err != nil {
			out <- StreamChunk{Type: "error", Error: engineerrors.Wrap(engineerrors.KindProviderError, "bedrock: stream", err)}
			return
		}
		out <- StreamChunk{Type: "done", Tokens: totalTokens}
	}()
	return out, nil
}

func toBedrockMessages(msgs []Message) []types.Message {
	out := make([]types.Message, 0, len(msgs))
	for _, m := range msgs {
		role := types.ConversationRoleUser
		var blocks []types.ContentBlock
		switch m.Role {
		case "assistant":
			role = types.ConversationRoleAssistant
			if m.Content != "" {
				blocks = append(blocks, &types.ContentBlockMemberText{Value: m.Content})
			}
			for _, tc := range m.ToolCalls {
				doc, _ := docFromArgs(tc.Arguments)
				blocks = append(blocks, &types.ContentBlockMemberToolUse{Value: types.ToolUseBlock{
					ToolUseId: aws.String(tc.ID),
					Name:      aws.String(tc.Name),
					Input:     doc,
				}})
			}
		case "tool":
			blocks = append(blocks, &types.ContentBlockMemberToolResult{Value: types.ToolResultBlock{
				ToolUseId: aws.String(m.ToolCallID),
				Content:   []types.ToolResultContentBlock{&types.ToolResultContentBlockMemberText{Value: m.Content}},
			}})
		default:
			blocks = append(blocks, &types.ContentBlockMemberText{Value: m.Content})
		}
		out = append(out, types.Message{Role: role, Content: blocks})
	}
	return out
}

func toBedrockTools(defs []ToolDefinition) []types.Tool {
	out := make([]types.Tool, 0, len(defs))
	for _, d := range defs {
		doc, _ := docFromArgs(d.Parameters)
		out = append(out, &types.ToolMemberToolSpec{Value: types.ToolSpecification{
			Name:        aws.String(d.Name),
			Description: aws.String(d.Description),
			InputSchema: &types.ToolInputSchemaMemberJson{Value: doc},
		}})
	}
	return out
}

// docFromArgs wraps a map as a smithy document.Interface, the type the
// Bedrock Converse API uses for free-form tool input/schema payloads.
func docFromArgs(args map[string]any) (document.Interface, error) {
	return document.NewLazyDocument(args), nil
}

func bedrockToResponse(out *bedrockruntime.ConverseOutput) *Response {
	resp := &Response{}
	if out.Usage != nil {
		if out.Usage.InputTokens != nil {
			resp.InputTokens = int(*out.Usage.InputTokens)
		}
		if out.Usage.OutputTokens != nil {
			resp.OutputTokens = int(*out.Usage.OutputTokens)
		}
	}
	resp.StopReason = string(out.StopReason)

	msgOut, ok := out.Output.(*types.ConverseOutputMemberMessage)
	if !ok {
		return resp
	}
	for _, block := range msgOut.Value.Content {
		switch b := block.(type) {
		case *types.ContentBlockMemberText:
			resp.Content += b.Value
		case *types.ContentBlockMemberToolUse:
			raw, _ := json.Marshal(b.Value.Input)
			var args map[string]any
			_ = json.Unmarshal(raw, &args)
			resp.ToolCalls = append(resp.ToolCalls, ToolCall{
				ID:        aws.ToString(b.Value.ToolUseId),
				Name:      aws.ToString(b.Value.Name),
				Arguments: args,
				RawArgs:   string(raw),
			})
		}
	}
	return resp
}

var _ Provider = (*BedrockProvider)(nil)
