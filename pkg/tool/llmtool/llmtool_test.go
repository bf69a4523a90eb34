package llmtool

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/auditengine/engine/pkg/llm"
)

type stubGenerator struct {
	lastReq llm.Request
	resp    *llm.Response
	err     error
}

func (s *stubGenerator) Generate(_ context.Context, req llm.Request, _ time.Time) (*llm.Response, error) {
	s.lastReq = req
	if s.err != nil {
		return nil, s.err
	}
	return s.resp, nil
}

func TestThinkTool_RecordsThoughtWithoutCallingModel(t *testing.T) {
	tl := NewThinkTool()
	out, err := tl.Invoke(context.Background(), map[string]any{"thought": "check the auth middleware next"})
	require.NoError(t, err)
	res := out.(map[string]any)
	require.Equal(t, "check the auth middleware next", res["recorded"])
}

func TestThinkTool_RequiresThought(t *testing.T) {
	tl := NewThinkTool()
	_, err := tl.Invoke(context.Background(), map[string]any{})
	require.Error(t, err)
}

func TestReflectTool_AsksDefaultQuestionWhenNoneGiven(t *testing.T) {
	gen := &stubGenerator{resp: &llm.Response{Content: "you missed the upload handler"}}
	tl := NewReflectTool(gen, "llm:anthropic", time.Second)

	out, err := tl.Invoke(context.Background(), map[string]any{"summary_so_far": "scanned 10 files"})
	require.NoError(t, err)
	res := out.(map[string]any)
	require.Equal(t, "you missed the upload handler", res["reflection"])
	require.Contains(t, gen.lastReq.Messages[0].Content, "What have I missed")
	require.Equal(t, "llm:anthropic", tl.ResourceKey())
}

func TestReflectTool_UsesSuppliedQuestion(t *testing.T) {
	gen := &stubGenerator{resp: &llm.Response{Content: "ok"}}
	tl := NewReflectTool(gen, "", 0)

	_, err := tl.Invoke(context.Background(), map[string]any{
		"summary_so_far": "done",
		"question":       "Did I cover the entry points?",
	})
	require.NoError(t, err)
	require.Contains(t, gen.lastReq.Messages[0].Content, "Did I cover the entry points?")
}

func TestReflectTool_PropagatesGeneratorError(t *testing.T) {
	gen := &stubGenerator{err: context.DeadlineExceeded}
	tl := NewReflectTool(gen, "", 0)
	_, err := tl.Invoke(context.Background(), map[string]any{"summary_so_far": "x"})
	require.Error(t, err)
}

func TestChatTool_SendsMessageAndReturnsResponse(t *testing.T) {
	gen := &stubGenerator{resp: &llm.Response{Content: "this is exploitable"}}
	tl := NewChatTool(gen, "llm:anthropic", time.Second)

	out, err := tl.Invoke(context.Background(), map[string]any{"message": "is this SQL injection exploitable?"})
	require.NoError(t, err)
	res := out.(map[string]any)
	require.Equal(t, "this is exploitable", res["response"])
}

func TestChatTool_RequiresMessage(t *testing.T) {
	tl := NewChatTool(&stubGenerator{}, "", 0)
	_, err := tl.Invoke(context.Background(), map[string]any{})
	require.Error(t, err)
}
