package sanitiser

import (
	"strings"

	"github.com/lynkr/lynkr/internal/canonical"
)

// toolCategories maps a lowercase tool-name substring to the request
// categories it belongs to. A tool can belong to more than one category;
// it is kept whenever the classified category matches any entry.
var toolCategories = map[string][]string{
	"read_file": {"code-edit"}, "write_file": {"code-edit"}, "edit_file": {"code-edit"},
	"replace_file": {"code-edit"}, "diff": {"code-edit"}, "shell": {"code-edit"}, "bash": {"code-edit"},
	"search": {"research"}, "web_search": {"research"}, "fetch": {"research"}, "browse": {"research"},
	"task": {"code-edit", "research"}, // subagent delegation is useful in either category
}

// ClassifyRequest is the default heuristic ToolCategoryFn: a cheap
// keyword scan over the last user turn, never an LLM call, matching
// spec §4.4's requirement that Smart Tool Selection stay a lightweight
// classifier rather than a round-trip to a model (the teacher's own
// filterToolSpecs asks a summarization model to choose tools; this
// generalises the "optional vs. critical, then filter" shape of that
// function without its model round-trip).
func ClassifyRequest(req *canonical.Request) string {
	text := strings.ToLower(lastUserText(req.Messages))
	if text == "" {
		return ""
	}

	codeMarkers := []string{"file", "function", "bug", "error", "code", "implement", "refactor", "test", "build", "compile"}
	researchMarkers := []string{"search", "find information", "look up", "research", "latest", "news", "website", "docs for"}

	codeScore, researchScore := 0, 0
	for _, m := range codeMarkers {
		if strings.Contains(text, m) {
			codeScore++
		}
	}
	for _, m := range researchMarkers {
		if strings.Contains(text, m) {
			researchScore++
		}
	}

	switch {
	case codeScore == 0 && researchScore == 0:
		return ""
	case codeScore >= researchScore:
		return "code-edit"
	default:
		return "research"
	}
}

// applySmartToolSelection retains only tools whose category membership
// includes the classified category. Tools absent from toolCategories are
// always treated as critical and kept. If classify returns "" (no
// confident classification) the tools are left unchanged; if the retained
// subset is empty, the tools field is removed entirely.
func applySmartToolSelection(req *canonical.Request, classify ToolCategoryFn) {
	if len(req.Tools) == 0 {
		return
	}
	category := classify(req)
	if category == "" {
		return
	}

	var kept []canonical.Tool
	for _, t := range req.Tools {
		categories, known := toolCategories[matchToolKey(t.Name)]
		if !known {
			kept = append(kept, t) // unclassified tools are treated as critical
			continue
		}
		for _, c := range categories {
			if c == category {
				kept = append(kept, t)
				break
			}
		}
	}

	if len(kept) == 0 {
		req.Tools = nil
		req.ToolChoice = nil
		return
	}
	req.Tools = kept
}

func matchToolKey(name string) string {
	lower := strings.ToLower(name)
	for key := range toolCategories {
		if strings.Contains(lower, key) {
			return key
		}
	}
	return lower
}
