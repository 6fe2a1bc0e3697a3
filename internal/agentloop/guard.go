package agentloop

import (
	"strings"

	"github.com/lynkr/lynkr/internal/canonical"
)

// toolResultRunSinceLastUserText counts tool_result blocks appended since
// the most recent turn carrying real user text (as opposed to a turn made
// up entirely of tool_result blocks, which doesn't count as "the user
// spoke again").
func toolResultRunSinceLastUserText(messages []canonical.Turn) int {
	count := 0
	for i := len(messages) - 1; i >= 0; i-- {
		turn := messages[i]
		if turn.Role == canonical.RoleUser && hasUserText(turn) {
			break
		}
		for _, b := range turn.Content {
			if b.Kind() == canonical.KindToolResult {
				count++
			}
		}
	}
	return count
}

func hasUserText(turn canonical.Turn) bool {
	for _, b := range turn.Content {
		if tb, ok := b.(canonical.TextBlock); ok && strings.TrimSpace(tb.Text) != "" {
			return true
		}
	}
	return false
}

// summariseToolResults concatenates the text content of every tool_result
// block counted by the guard, truncated, so the synthesised assistant
// message gives the model something concrete to react to instead of a
// bare "stop asking for tools" instruction.
func summariseToolResults(messages []canonical.Turn, limit int) string {
	var sb strings.Builder
	for i := len(messages) - 1; i >= 0; i-- {
		turn := messages[i]
		if turn.Role == canonical.RoleUser && hasUserText(turn) {
			break
		}
		for _, b := range turn.Content {
			tr, ok := b.(canonical.ToolResultBlock)
			if !ok {
				continue
			}
			for _, c := range tr.Content {
				if tb, ok := c.(canonical.TextBlock); ok {
					sb.WriteString(tb.Text)
					sb.WriteString("\n")
				}
			}
		}
	}
	out := sb.String()
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

// checkToolLoopGuard implements the early, pre-sanitisation guard: if the
// conversation already carries a run of tool_result blocks at or above
// threshold since the last real user turn, short-circuit with a
// synthesised summary instead of making another upstream call.
func checkToolLoopGuard(messages []canonical.Turn, threshold int) (*canonical.Response, bool) {
	if toolResultRunSinceLastUserText(messages) < threshold {
		return nil, false
	}
	summary := summariseToolResults(messages, 4000)
	text := "Accumulated tool results without further user input:\n" + summary
	return &canonical.Response{
		Role:       canonical.RoleAssistant,
		Content:    []canonical.ContentBlock{canonical.TextBlock{Text: text}},
		StopReason: canonical.StopEndTurn,
	}, true
}
