package agent

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/auditengine/engine/pkg/model"
)

func TestState_AppendEvictsOldestAtCapacity(t *testing.T) {
	s := NewState(10, 1000, 2, nil)
	s.Append(model.AgentMessage{Role: "user", Content: "one"})
	s.Append(model.AgentMessage{Role: "assistant", Content: "two"})
	s.Append(model.AgentMessage{Role: "user", Content: "three"})

	require.Len(t, s.Messages, 2)
	require.Equal(t, "two", s.Messages[0].Content)
	require.Equal(t, "three", s.Messages[1].Content)
}

func TestState_MaxContextMessagesOneEvictsEveryStep(t *testing.T) {
	// With max_context_messages=1, the
	// oldest turn is evicted before the new one is appended on every step.
	s := NewState(10, 1000, 1, nil)
	for i, content := range []string{"a", "b", "c"} {
		s.Append(model.AgentMessage{Role: "user", Content: content})
		require.Len(t, s.Messages, 1, "iteration %d", i)
		require.Equal(t, content, s.Messages[0].Content)
	}
}

func TestState_ZeroOrNegativeMaxContextMessagesClampsToOne(t *testing.T) {
	s := NewState(10, 1000, 0, nil)
	require.Equal(t, 1, s.MaxContextMessages)

	s2 := NewState(10, 1000, -5, nil)
	require.Equal(t, 1, s2.MaxContextMessages)
}

func TestState_SeedIsTruncatedToCapacity(t *testing.T) {
	seed := []model.AgentMessage{
		{Role: "user", Content: "1"},
		{Role: "user", Content: "2"},
		{Role: "user", Content: "3"},
	}
	s := NewState(10, 1000, 2, seed)
	require.Len(t, s.Messages, 2)
	require.Equal(t, "2", s.Messages[0].Content)
	require.Equal(t, "3", s.Messages[1].Content)
}

func TestAuditState_AppendMessageEvictsOldest(t *testing.T) {
	s := &model.AuditState{MaxContextMessages: 2}
	s.AppendMessage(model.AgentMessage{Content: "1"})
	s.AppendMessage(model.AgentMessage{Content: "2"})
	s.AppendMessage(model.AgentMessage{Content: "3"})

	require.Len(t, s.RecentMessages, 2)
	require.Equal(t, "2", s.RecentMessages[0].Content)
	require.Equal(t, "3", s.RecentMessages[1].Content)
}

func TestAuditState_TotalFindingsSumsAllBuckets(t *testing.T) {
	s := &model.AuditState{
		OpenFindings:     []model.Finding{{ID: "1"}},
		VerifiedFindings: []model.Finding{{ID: "2"}, {ID: "3"}},
		FalsePositives:   []model.Finding{{ID: "4"}},
	}
	require.Equal(t, 4, s.TotalFindings())
}

func TestAuditState_ApplyMergesStateDiff(t *testing.T) {
	s := &model.AuditState{}
	continueAnalysis := true
	score := 77.5
	s.Apply(model.StateDiff{
		NewOpenFindings:  []model.Finding{{ID: "1"}},
		ContinueAnalysis: &continueAnalysis,
		SecurityScore:    &score,
		SummaryText:      "summary",
	})

	require.Len(t, s.OpenFindings, 1)
	require.True(t, s.ContinueAnalysis)
	require.Equal(t, 77.5, s.SecurityScore)
	require.Equal(t, "summary", s.SummaryText)
}
