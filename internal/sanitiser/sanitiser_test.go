package sanitiser

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/lynkr/lynkr/internal/canonical"
)

func TestCleanSetsDefaultModel(t *testing.T) {
	req := &canonical.Request{
		Messages: []canonical.Turn{{Role: canonical.RoleUser, Content: []canonical.ContentBlock{canonical.TextBlock{Text: "hi"}}}},
	}
	clean := Clean(req, Options{DefaultModel: "claude-3-5-sonnet"})
	require.Equal(t, "claude-3-5-sonnet", clean.Model)
	require.Equal(t, "", req.Model, "original request must be untouched")
}

func TestCleanMergesConsecutiveSameRoleTurns(t *testing.T) {
	req := &canonical.Request{
		Messages: []canonical.Turn{
			{Role: canonical.RoleUser, Content: []canonical.ContentBlock{canonical.TextBlock{Text: "first"}}},
			{Role: canonical.RoleUser, Content: []canonical.ContentBlock{canonical.TextBlock{Text: "second"}}},
		},
	}
	clean := Clean(req, Options{})
	require.Len(t, clean.Messages, 1)
	text := clean.Messages[0].Content[0].(canonical.TextBlock).Text
	require.Contains(t, text, "first")
	require.Contains(t, text, "second")
}

func TestCleanRemovesEmptyTurns(t *testing.T) {
	req := &canonical.Request{
		Messages: []canonical.Turn{
			{Role: canonical.RoleUser, Content: []canonical.ContentBlock{canonical.TextBlock{Text: "hello"}}},
			{Role: canonical.RoleAssistant, Content: nil},
		},
	}
	clean := Clean(req, Options{})
	require.Len(t, clean.Messages, 1)
}

func TestCleanKeepsEmptyTurnWithToolUse(t *testing.T) {
	req := &canonical.Request{
		Messages: []canonical.Turn{
			{Role: canonical.RoleAssistant, Content: []canonical.ContentBlock{
				canonical.ToolUseBlock{ID: "call-1", Name: "read_file", Input: map[string]any{}},
			}},
		},
	}
	clean := Clean(req, Options{})
	require.Len(t, clean.Messages, 1)
}

func TestCleanStripsPlaceholderToolResultAndMatchingToolUse(t *testing.T) {
	req := &canonical.Request{
		Messages: []canonical.Turn{
			{Role: canonical.RoleAssistant, Content: []canonical.ContentBlock{
				canonical.ToolUseBlock{ID: "call-1", Name: "web_search", Input: map[string]any{"query": "go proxy"}},
			}},
			{Role: canonical.RoleUser, Content: []canonical.ContentBlock{
				canonical.NewTextResult("call-1", "Web search results for query: go proxy", false),
			}},
		},
	}
	clean := Clean(req, Options{})
	require.Empty(t, clean.Messages)
}

func TestCleanNormalizesToolSchemaType(t *testing.T) {
	req := &canonical.Request{
		Messages: []canonical.Turn{{Role: canonical.RoleUser, Content: []canonical.ContentBlock{canonical.TextBlock{Text: "hi"}}}},
		Tools:    []canonical.Tool{{Name: "read_file", InputSchema: nil}},
	}
	clean := Clean(req, Options{})
	require.Equal(t, "object", clean.Tools[0].InputSchema["type"])
}

func TestCleanStripsToolsForConversationalMessage(t *testing.T) {
	req := &canonical.Request{
		Messages: []canonical.Turn{{Role: canonical.RoleUser, Content: []canonical.ContentBlock{canonical.TextBlock{Text: "thanks"}}}},
		Tools:    []canonical.Tool{{Name: "read_file"}},
	}
	clean := Clean(req, Options{})
	require.Nil(t, clean.Tools)
}

func TestSmartToolSelectionFiltersByCategory(t *testing.T) {
	req := &canonical.Request{
		Messages: []canonical.Turn{{Role: canonical.RoleUser, Content: []canonical.ContentBlock{
			canonical.TextBlock{Text: "please fix the bug in this function and refactor the code"},
		}}},
		Tools: []canonical.Tool{
			{Name: "read_file"},
			{Name: "web_search"},
		},
	}
	clean := Clean(req, Options{ToolCategories: ClassifyRequest})
	require.Len(t, clean.Tools, 1)
	require.Equal(t, "read_file", clean.Tools[0].Name)
}

func TestSmartToolSelectionRemovesToolsFieldWhenSubsetEmpty(t *testing.T) {
	req := &canonical.Request{
		Messages: []canonical.Turn{{Role: canonical.RoleUser, Content: []canonical.ContentBlock{
			canonical.TextBlock{Text: "please search the latest news website for this"},
		}}},
		Tools: []canonical.Tool{{Name: "read_file"}},
	}
	clean := Clean(req, Options{ToolCategories: ClassifyRequest})
	require.Nil(t, clean.Tools)
}
