package canonical

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestTurnRoundTripTextContent(t *testing.T) {
	turn := Turn{Role: RoleUser, Content: []ContentBlock{TextBlock{Text: "hello"}}}

	data, err := json.Marshal(turn)
	require.NoError(t, err)
	require.JSONEq(t, `{"role":"user","content":"hello"}`, string(data))

	var decoded Turn
	require.NoError(t, json.Unmarshal(data, &decoded))
	require.Equal(t, turn, decoded)
}

func TestTurnRoundTripToolUseAndResult(t *testing.T) {
	turn := Turn{
		Role: RoleAssistant,
		Content: []ContentBlock{
			TextBlock{Text: "let me check"},
			ToolUseBlock{ID: "t1", Name: "WebSearch", Input: map[string]any{"query": "x"}},
		},
	}
	data, err := json.Marshal(turn)
	require.NoError(t, err)

	var decoded Turn
	require.NoError(t, json.Unmarshal(data, &decoded))
	require.Equal(t, turn.Role, decoded.Role)
	require.Len(t, decoded.Content, 2)
	require.Equal(t, KindText, decoded.Content[0].Kind())
	require.Equal(t, KindToolUse, decoded.Content[1].Kind())
	require.True(t, decoded.HasToolUse())

	result := Turn{Role: RoleUser, Content: []ContentBlock{NewTextResult("t1", "42", false)}}
	rdata, err := json.Marshal(result)
	require.NoError(t, err)

	var rdecoded Turn
	require.NoError(t, json.Unmarshal(rdata, &rdecoded))
	tr, ok := rdecoded.Content[0].(ToolResultBlock)
	require.True(t, ok)
	require.Equal(t, "t1", tr.ToolUseID)
	require.False(t, tr.IsError)
}

func TestIsEmptyTreatsToolUseAsNonEmpty(t *testing.T) {
	empty := Turn{Role: RoleAssistant, Content: nil}
	require.True(t, empty.IsEmpty())

	withToolUse := Turn{Role: RoleAssistant, Content: []ContentBlock{ToolUseBlock{ID: "a", Name: "n", Input: map[string]any{}}}}
	require.False(t, withToolUse.IsEmpty())
}

func TestToolCallSignatureIgnoresKeyOrder(t *testing.T) {
	a := ToolCall{Name: "Bash", Input: map[string]any{"command": "ls", "cwd": "/tmp"}}
	b := ToolCall{Name: "Bash", Input: map[string]any{"cwd": "/tmp", "command": "ls"}}
	require.Equal(t, a.Signature(), b.Signature())

	c := ToolCall{Name: "Bash", Input: map[string]any{"command": "ls -la", "cwd": "/tmp"}}
	require.NotEqual(t, a.Signature(), c.Signature())
}

func TestUsageTotals(t *testing.T) {
	u := Usage{InputTokens: 100, OutputTokens: 50, CacheReadInputTokens: 200, CacheCreationInputTokens: 10}
	require.Equal(t, 310, u.TotalInputTokens())
	require.Equal(t, 360, u.ContextWindowUsed())
}
