// Package toolexec implements the three server-side tools §4.7 always
// executes locally regardless of ToolExecutionMode: task, web_search and
// web_fetch. In client and passthrough mode every other tool is returned
// to the client; in local mode the loop hands every call here, and other
// tools get an unsupported-tool result.
package toolexec

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/lynkr/lynkr/internal/agentloop"
	"github.com/lynkr/lynkr/internal/canonical"
)

const maxFetchBody = 64 * 1024

// Searcher performs a web search and returns a short result summary.
// Lynkr ships no bundled search provider; callers wire a real
// implementation (SERP API, internal index, ...) or leave Executor's
// Search field nil, in which case web_search calls fail with a clear
// is_error result rather than hanging.
type Searcher interface {
	Search(ctx context.Context, query string) (string, error)
}

// Executor implements agentloop.ToolExecutor for the server-side tool
// set. In client and passthrough mode the split in
// internal/agentloop/loop.go keeps client-side calls on the wire; in local
// mode every call reaches Execute.
type Executor struct {
	HTTPClient *http.Client
	Search     Searcher
}

// New builds an Executor with a keep-alive client sized for occasional
// outbound fetches, not sustained upstream traffic.
func New(client *http.Client, search Searcher) *Executor {
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	return &Executor{HTTPClient: client, Search: search}
}

// Execute dispatches call to the matching server-side handler by name.
func (e *Executor) Execute(ctx context.Context, call canonical.ToolUseBlock, execCtx agentloop.ExecutionContext) (agentloop.ToolOutcome, error) {
	switch strings.ToLower(call.Name) {
	case "web_fetch":
		return e.webFetch(ctx, call)
	case "web_search":
		return e.webSearch(ctx, call)
	case "task":
		return e.task(ctx, call, execCtx)
	default:
		return agentloop.ToolOutcome{ID: call.ID, Name: call.Name, OK: false, Status: "unsupported", Content: fmt.Sprintf("toolexec: %q is not a server-side tool", call.Name)}, nil
	}
}

func (e *Executor) webFetch(ctx context.Context, call canonical.ToolUseBlock) (agentloop.ToolOutcome, error) {
	url, _ := call.Input["url"].(string)
	if url == "" {
		return agentloop.ToolOutcome{ID: call.ID, Name: call.Name, OK: false, Status: "invalid_input", Content: "web_fetch requires a non-empty \"url\" argument"}, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return agentloop.ToolOutcome{ID: call.ID, Name: call.Name, OK: false, Status: "error", Content: err.Error()}, nil
	}
	resp, err := e.HTTPClient.Do(req)
	if err != nil {
		return agentloop.ToolOutcome{ID: call.ID, Name: call.Name, OK: false, Status: "error", Content: err.Error()}, nil
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxFetchBody))
	if err != nil {
		return agentloop.ToolOutcome{ID: call.ID, Name: call.Name, OK: false, Status: "error", Content: err.Error()}, nil
	}
	if resp.StatusCode >= 400 {
		return agentloop.ToolOutcome{ID: call.ID, Name: call.Name, OK: false, Status: "upstream_error", Content: fmt.Sprintf("fetch returned %d: %s", resp.StatusCode, string(body))}, nil
	}
	return agentloop.ToolOutcome{ID: call.ID, Name: call.Name, OK: true, Status: "ok", Content: string(body)}, nil
}

func (e *Executor) webSearch(ctx context.Context, call canonical.ToolUseBlock) (agentloop.ToolOutcome, error) {
	query, _ := call.Input["query"].(string)
	if query == "" {
		return agentloop.ToolOutcome{ID: call.ID, Name: call.Name, OK: false, Status: "invalid_input", Content: "web_search requires a non-empty \"query\" argument"}, nil
	}
	if e.Search == nil {
		return agentloop.ToolOutcome{ID: call.ID, Name: call.Name, OK: false, Status: "not_configured", Content: "web_search is not configured on this deployment"}, nil
	}
	result, err := e.Search.Search(ctx, query)
	if err != nil {
		return agentloop.ToolOutcome{ID: call.ID, Name: call.Name, OK: false, Status: "error", Content: err.Error()}, nil
	}
	return agentloop.ToolOutcome{ID: call.ID, Name: call.Name, OK: true, Status: "ok", Content: result}, nil
}

// task is the lightweight sub-agent tool. Lynkr's agent loop is itself
// the orchestrator a "task" call would normally recurse into; since
// this deployment has no nested session/session-store wiring, task
// reports the request back as an is_error result rather than silently
// no-op-ing, so the model doesn't keep retrying a call that can never
// succeed.
func (e *Executor) task(_ context.Context, call canonical.ToolUseBlock, execCtx agentloop.ExecutionContext) (agentloop.ToolOutcome, error) {
	description, _ := call.Input["description"].(string)
	payload, _ := json.Marshal(map[string]any{
		"description": description,
		"session_id":  execCtx.SessionID,
	})
	return agentloop.ToolOutcome{
		ID: call.ID, Name: call.Name, OK: false, Status: "not_implemented",
		Content:  "task sub-agent delegation is not available on this deployment",
		Metadata: map[string]any{"request": string(payload)},
	}, nil
}
