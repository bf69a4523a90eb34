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

// Package llmtool implements the reasoning-support tools that are not
// backed by an external process: think (a
// scratchpad the agent uses to record intermediate reasoning without
// spending a full model round-trip), reflect (a self-critique round over
// a summary the agent supplies of its work so far), and chat (a bounded
// side-conversation with a second, often cheaper, model — used by the
// verification phase to cross-examine a finding without growing the
// primary transcript).
package llmtool

import (
	"context"
	"time"

	engineerrors "github.com/auditengine/engine/pkg/errors"
	"github.com/auditengine/engine/pkg/llm"
)

// Generator is the narrow LLM surface these tools need; *llm.Pool and
// *llm.CachedPool both satisfy it, matching pkg/agent.Generator.
type Generator interface {
	Generate(ctx context.Context, req llm.Request, deadline time.Time) (*llm.Response, error)
}

// ThinkTool records a reasoning note and returns it unchanged. It costs
// no LLM call; its only purpose is to give the model a place to externalize
// a plan before acting, the way a human auditor jots notes before using a
// tool, so the transcript preserves the "why" alongside the "what".
type ThinkTool struct{}

func NewThinkTool() *ThinkTool { return &ThinkTool{} }

func (t *ThinkTool) Name() string        { return "think" }
func (t *ThinkTool) ResourceKey() string { return "" }
func (t *ThinkTool) Description() string {
	return "Record a reasoning note before taking an action. Does not call the model or change any state."
}
func (t *ThinkTool) Schema() map[string]any {
	return map[string]any{
		"type":       "object",
		"properties": map[string]any{"thought": map[string]any{"type": "string"}},
		"required":   []string{"thought"},
	}
}

func (t *ThinkTool) Invoke(_ context.Context, args map[string]any) (any, error) {
	thought, _ := args["thought"].(string)
	if thought == "" {
		return nil, engineerrors.New(engineerrors.KindValidation, "thought parameter is required")
	}
	return map[string]any{"status": "ok", "recorded": thought}, nil
}

// ReflectTool asks the model to critique a caller-supplied summary of
// the work so far by answering one question, the caller's or by default
// "what have I missed, and should I continue or stop?". Its answer is
// returned as the tool result only.
type ReflectTool struct {
	llm         Generator
	resourceKey string
	timeout     time.Duration
}

func NewReflectTool(g Generator, resourceKey string, timeout time.Duration) *ReflectTool {
	return &ReflectTool{llm: g, resourceKey: resourceKey, timeout: timeout}
}

func (t *ReflectTool) Name() string        { return "reflect" }
func (t *ReflectTool) ResourceKey() string { return t.resourceKey }
func (t *ReflectTool) Description() string {
	return "Ask the model to critique a summary of progress so far by answering one question (by default: what was missed, and whether to continue or stop)."
}
func (t *ReflectTool) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"summary_so_far": map[string]any{"type": "string", "description": "a summary of work completed so far"},
			"question":       map[string]any{"type": "string", "description": "the specific self-critique question to answer"},
		},
		"required": []string{"summary_so_far"},
	}
}

func (t *ReflectTool) Invoke(ctx context.Context, args map[string]any) (any, error) {
	summary, _ := args["summary_so_far"].(string)
	question, _ := args["question"].(string)
	if question == "" {
		question = "What have I missed, and should I continue or stop?"
	}

	deadline := time.Time{}
	if t.timeout > 0 {
		deadline = time.Now().Add(t.timeout)
	}
	resp, err := t.llm.Generate(ctx, llm.Request{
		System: "You are a terse self-critic for a security auditing agent. " +
			"Given a summary of work done so far, answer the question directly in two or three sentences.",
		Messages: []llm.Message{{Role: "user", Content: summary + "\n\n" + question}},
	}, deadline)
	if err != nil {
		return nil, err
	}
	return map[string]any{"status": "ok", "reflection": resp.Content}, nil
}

// ChatTool runs one bounded side-conversation turn against the shared
// model pool without touching the calling agent's own transcript,
// letting the verification phase ask a focused yes/no question about a
// single finding instead of replaying the whole analysis history.
type ChatTool struct {
	llm         Generator
	resourceKey string
	timeout     time.Duration
}

func NewChatTool(g Generator, resourceKey string, timeout time.Duration) *ChatTool {
	return &ChatTool{llm: g, resourceKey: resourceKey, timeout: timeout}
}

func (t *ChatTool) Name() string        { return "chat" }
func (t *ChatTool) ResourceKey() string { return t.resourceKey }
func (t *ChatTool) Description() string {
	return "Ask the model one focused, stateless question and return its answer."
}
func (t *ChatTool) Schema() map[string]any {
	return map[string]any{
		"type":       "object",
		"properties": map[string]any{"message": map[string]any{"type": "string"}},
		"required":   []string{"message"},
	}
}

func (t *ChatTool) Invoke(ctx context.Context, args map[string]any) (any, error) {
	message, _ := args["message"].(string)
	if message == "" {
		return nil, engineerrors.New(engineerrors.KindValidation, "message parameter is required")
	}
	deadline := time.Time{}
	if t.timeout > 0 {
		deadline = time.Now().Add(t.timeout)
	}
	resp, err := t.llm.Generate(ctx, llm.Request{
		Messages: []llm.Message{{Role: "user", Content: message}},
	}, deadline)
	if err != nil {
		return nil, err
	}
	return map[string]any{"status": "ok", "response": resp.Content}, nil
}
