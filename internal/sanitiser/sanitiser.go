// Package sanitiser normalises a raw canonical request into cleanPayload:
// a deep-cloned request safe to mutate and safe to send upstream.
package sanitiser

import (
	"regexp"
	"strings"

	"github.com/lynkr/lynkr/internal/canonical"
)

// Options configures the optional late-stage rules.
type Options struct {
	DefaultModel   string
	ToolCategories ToolCategoryFn // nil disables Smart Tool Selection
}

// ToolCategoryFn classifies a request's intent into a tool category label
// ("code-edit", "research", ...), or "" when no filtering should apply.
type ToolCategoryFn func(req *canonical.Request) string

// placeholderToolResult matches the historical "Web search results for
// query:" artifact the teacher's own web-search tool used to leave behind;
// stripped together with its matching tool_use to keep id-matching intact.
var placeholderToolResult = regexp.MustCompile(`^Web search results for query:`)

// Clean applies the sanitiser's ordered rule set and returns a new request
// safe to send upstream. req is never mutated.
func Clean(req *canonical.Request, opts Options) *canonical.Request {
	clean := req.Clone()

	clean.Model = strings.TrimSpace(clean.Model)
	if clean.Model == "" {
		clean.Model = opts.DefaultModel
	}

	dropNonPortableFields(clean)

	stripPlaceholderToolResults(clean)

	clean.Messages = removeEmptyTurns(clean.Messages)

	clean.Messages = mergeConsecutiveSameRole(clean.Messages)
	appendFocusInstructionIfNeeded(clean)

	normalizeToolSchemas(clean)

	if opts.ToolCategories != nil {
		applySmartToolSelection(clean, opts.ToolCategories)
	}

	if isConversational(lastUserText(clean.Messages)) {
		clean.Tools = nil
		clean.ToolChoice = nil
	}

	return clean
}

// dropNonPortableFields is a no-op on canonical.Request today: provider,
// api_type, beta, context_management, thinking, max_steps and
// max_duration_ms never survive the HTTP handler's decode into
// canonical.Request in the first place (they have no corresponding field),
// so there is nothing left here to strip by the time Clean runs. Kept as
// an explicit step so the rule ordering in this file mirrors the full rule
// list even where a rule is a structural no-op.
func dropNonPortableFields(_ *canonical.Request) {}

func stripPlaceholderToolResults(req *canonical.Request) {
	strip := map[string]bool{}
	for _, turn := range req.Messages {
		for _, b := range turn.Content {
			tr, ok := b.(canonical.ToolResultBlock)
			if !ok {
				continue
			}
			if len(tr.Content) == 1 {
				if tb, ok := tr.Content[0].(canonical.TextBlock); ok && placeholderToolResult.MatchString(tb.Text) {
					strip[tr.ToolUseID] = true
				}
			}
		}
	}
	if len(strip) == 0 {
		return
	}

	for i, turn := range req.Messages {
		var kept []canonical.ContentBlock
		for _, b := range turn.Content {
			switch block := b.(type) {
			case canonical.ToolResultBlock:
				if strip[block.ToolUseID] {
					continue
				}
			case canonical.ToolUseBlock:
				if strip[block.ID] {
					continue
				}
			}
			kept = append(kept, b)
		}
		req.Messages[i].Content = kept
	}
}

func removeEmptyTurns(turns []canonical.Turn) []canonical.Turn {
	out := make([]canonical.Turn, 0, len(turns))
	for _, turn := range turns {
		if turn.IsEmpty() {
			continue
		}
		out = append(out, turn)
	}
	return out
}

// mergeConsecutiveSameRole concatenates adjacent same-role turns'
// text content with a blank-line separator and appends any tool blocks,
// the same shape as the teacher's normalizeMistralConversation merge step.
func mergeConsecutiveSameRole(turns []canonical.Turn) []canonical.Turn {
	if len(turns) == 0 {
		return turns
	}

	merged := make([]canonical.Turn, 0, len(turns))
	for _, turn := range turns {
		if len(merged) == 0 {
			merged = append(merged, turn)
			continue
		}

		prev := &merged[len(merged)-1]
		if prev.Role != turn.Role {
			merged = append(merged, turn)
			continue
		}

		prev.Content = mergeTurnContent(prev.Content, turn.Content)
	}
	return merged
}

func mergeTurnContent(a, b []canonical.ContentBlock) []canonical.ContentBlock {
	aText, aRest := splitText(a)
	bText, bRest := splitText(b)

	var merged []canonical.ContentBlock
	switch {
	case aText != "" && bText != "":
		merged = append(merged, canonical.TextBlock{Text: aText + "\n\n" + bText})
	case aText != "":
		merged = append(merged, canonical.TextBlock{Text: aText})
	case bText != "":
		merged = append(merged, canonical.TextBlock{Text: bText})
	}
	merged = append(merged, aRest...)
	merged = append(merged, bRest...)
	return merged
}

func splitText(blocks []canonical.ContentBlock) (string, []canonical.ContentBlock) {
	var sb strings.Builder
	var rest []canonical.ContentBlock
	for _, b := range blocks {
		if tb, ok := b.(canonical.TextBlock); ok {
			if sb.Len() > 0 {
				sb.WriteString("\n")
			}
			sb.WriteString(tb.Text)
			continue
		}
		rest = append(rest, b)
	}
	return sb.String(), rest
}

// focusInstructionThreshold is the character length beyond which the last
// user turn earns an appended "answer the most recent request only" nudge.
const focusInstructionThreshold = 4000

const focusInstruction = "\n\n(Focus on the most recent request above; earlier context is for reference only.)"

func appendFocusInstructionIfNeeded(req *canonical.Request) {
	if len(req.Messages) == 0 {
		return
	}
	last := &req.Messages[len(req.Messages)-1]
	if last.Role != canonical.RoleUser || last.HasToolUse() {
		return
	}

	text, rest := splitText(last.Content)
	if len(text) <= focusInstructionThreshold {
		return
	}
	last.Content = append([]canonical.ContentBlock{canonical.TextBlock{Text: text + focusInstruction}}, rest...)
}

// normalizeToolSchemas ensures every tool declares input_schema.type=="object",
// the shape every adapter's upstream tool-call schema assumes.
func normalizeToolSchemas(req *canonical.Request) {
	for i, t := range req.Tools {
		schema := t.InputSchema
		if schema == nil {
			schema = map[string]any{}
		} else {
			clone := make(map[string]any, len(schema))
			for k, v := range schema {
				clone[k] = v
			}
			schema = clone
		}
		if _, ok := schema["type"]; !ok {
			schema["type"] = "object"
		}
		if _, ok := schema["properties"]; !ok {
			schema["properties"] = map[string]any{}
		}
		req.Tools[i].InputSchema = schema
	}
}

func lastUserText(turns []canonical.Turn) string {
	for i := len(turns) - 1; i >= 0; i-- {
		if turns[i].Role != canonical.RoleUser {
			continue
		}
		text, _ := splitText(turns[i].Content)
		return text
	}
	return ""
}

// conversationalPattern matches short greetings and small talk that never
// warrant a tool call.
var conversationalPattern = regexp.MustCompile(`(?i)^\s*(hi|hello|hey|thanks|thank you|ok|okay|cool|sure|yes|no|good morning|good night)\W*\s*$`)

func isConversational(text string) bool {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return false
	}
	if len(trimmed) > 40 {
		return false
	}
	return conversationalPattern.MatchString(trimmed)
}
