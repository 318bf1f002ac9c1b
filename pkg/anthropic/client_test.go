package anthropic

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMessageResponse_Text(t *testing.T) {
	resp := &MessageResponse{
		Content: []ContentBlock{
			{Type: "text", Text: "Hello "},
			{Type: "tool_use", ToolName: "search_claims"},
			{Type: "text", Text: "world"},
		},
	}
	assert.Equal(t, "Hello world", resp.Text())
}

func TestMessageResponse_ToolUses(t *testing.T) {
	resp := &MessageResponse{
		Content: []ContentBlock{
			{Type: "text", Text: "thinking"},
			{Type: "tool_use", ToolID: "tu_1", ToolName: "search_claims", ToolInput: json.RawMessage(`{"query":"q"}`)},
		},
	}
	uses := resp.ToolUses()
	assert.Len(t, uses, 1)
	assert.Equal(t, "search_claims", uses[0].ToolName)
}

func TestTokenUsage_EstimateCost(t *testing.T) {
	u := TokenUsage{InputTokens: 1_000_000, OutputTokens: 1_000_000}
	assert.InDelta(t, 18.0, u.EstimateCost("claude-sonnet-4-5-20250929"), 1e-9)
	assert.Zero(t, u.EstimateCost("unknown-model"))
}

func TestToStringSlice(t *testing.T) {
	assert.Equal(t, []string{"a", "b"}, toStringSlice([]string{"a", "b"}))
	assert.Equal(t, []string{"a"}, toStringSlice([]any{"a", 1}))
	assert.Nil(t, toStringSlice(42))
}
