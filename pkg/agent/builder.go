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

package agent

import (
	"github.com/auditengine/engine/pkg/llm"
	"github.com/auditengine/engine/pkg/model"
	"github.com/auditengine/engine/pkg/ports"
	"github.com/auditengine/engine/pkg/tool"
)

// Builder holds everything common to every agent-loop invocation in a
// task (the LLM client, tool executor, tool set, event sink, checkpoint
// requester, clock), so the orchestrator only has to supply what
// differs per phase: the phase label, system prompt, and loop Config.
type Builder struct {
	LLM        Generator
	Executor   *tool.Executor
	Tools      []llm.ToolDefinition
	Events     tool.EventSink
	Checkpoint CheckpointRequester
	Clock      ports.Clock
}

// Build constructs one Agent ready to Run.
func (b Builder) Build(taskID string, phase model.Phase, systemPrompt string, cfg Config) *Agent {
	return &Agent{
		TaskID:       taskID,
		Phase:        phase,
		SystemPrompt: systemPrompt,
		LLM:          b.LLM,
		Executor:     b.Executor,
		Tools:        b.Tools,
		Events:       b.Events,
		Checkpoint:   b.Checkpoint,
		Clock:        b.Clock,
		Config:       cfg,
	}
}
