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

import "github.com/auditengine/engine/pkg/model"

// State is the working memory of one agent-loop invocation: an
// iteration counter, a bounded ring buffer of conversation turns, and
// remaining token budget. It is distinct from
// model.AuditState, which only the orchestrator mutates — a finished
// State is folded back into a model.StateDiff, never applied directly.
type State struct {
	Iteration          int
	MaxIterations      int
	TokensUsed         int
	TokenBudget        int
	MaxContextMessages int
	Messages           []model.AgentMessage
}

// NewState seeds a State with the orchestrator-supplied conversation
// history, truncated to MaxContextMessages exactly like
// model.AuditState.AppendMessage does.
func NewState(maxIterations, tokenBudget, maxContextMessages int, seed []model.AgentMessage) *State {
	if maxContextMessages <= 0 {
		maxContextMessages = 1
	}
	s := &State{
		MaxIterations:      maxIterations,
		TokenBudget:        tokenBudget,
		MaxContextMessages: maxContextMessages,
	}
	for _, m := range seed {
		s.Append(m)
	}
	return s
}

// Append adds a turn, evicting the oldest one first once at capacity.
func (s *State) Append(m model.AgentMessage) {
	s.Messages = append(s.Messages, m)
	if over := len(s.Messages) - s.MaxContextMessages; over > 0 {
		s.Messages = s.Messages[over:]
	}
}
