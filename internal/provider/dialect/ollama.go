package dialect

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/lynkr/lynkr/internal/canonical"
	"github.com/lynkr/lynkr/internal/stringsearch"
	"github.com/lynkr/lynkr/internal/transport"
)

// toolIncapableModels is the static list of name fragments (matched as
// substrings) of Ollama models known not to support tool calling; matched with the same hybrid
// chunked Aho-Corasick matcher the teacher uses for model-name search.
var toolIncapableModels = stringsearch.NewStringMatcher([]string{
	"llava", "codellama", "starcoder", "wizardcoder",
})

// OllamaAdapter targets Ollama's /api/chat, and doubles as the adapter
// for any other OpenAI-incompatible local runtime speaking the same
// NDJSON streaming wire format.
type OllamaAdapter struct {
	BaseURL string
	Client  *http.Client
	Policy  transport.RetryPolicy
}

func NewOllamaAdapter(baseURL string, client *http.Client) *OllamaAdapter {
	return &OllamaAdapter{BaseURL: normalizeOllamaBaseURL(baseURL), Client: client, Policy: transport.DefaultRetryPolicy()}
}

func normalizeOllamaBaseURL(base string) string {
	base = strings.TrimSuffix(strings.TrimSpace(base), "/")
	if base == "" {
		base = "http://localhost:11434"
	}
	return base
}

func (a *OllamaAdapter) Name() string { return "ollama" }

func (a *OllamaAdapter) Capabilities() Capabilities {
	return Capabilities{SupportsTools: true, SupportsStreaming: true, NativelyAnthropic: false}
}

// SupportsTools reports whether model is NOT on the tool-incapable list.
func SupportsTools(model string) bool {
	return !toolIncapableModels.Contains(strings.ToLower(model))
}

type ollamaMessage struct {
	Role      string          `json:"role"`
	Content   string          `json:"content"`
	ToolCalls []ollamaToolCall `json:"tool_calls,omitempty"`
}

type ollamaToolCall struct {
	Function struct {
		Name      string         `json:"name"`
		Arguments map[string]any `json:"arguments"`
	} `json:"function"`
}

type ollamaTool struct {
	Type     string `json:"type"`
	Function struct {
		Name        string         `json:"name"`
		Description string         `json:"description,omitempty"`
		Parameters  map[string]any `json:"parameters"`
	} `json:"function"`
}

type ollamaChatRequest struct {
	Model    string          `json:"model"`
	Messages []ollamaMessage `json:"messages"`
	Tools    []ollamaTool    `json:"tools,omitempty"`
	Stream   bool            `json:"stream"`
}

type ollamaChatResponse struct {
	Message ollamaMessage `json:"message"`
	Done    bool          `json:"done"`
}

func (a *OllamaAdapter) Invoke(ctx context.Context, req *canonical.Request) (*canonical.Response, error) {
	wire := a.buildRequest(req)

	var resp ollamaChatResponse
	_, err := transport.PerformJSONRequest(ctx, a.Client, a.Policy, transport.JSONRequest{
		URL:  a.BaseURL + "/api/chat",
		Body: wire,
	}, &resp)
	if err != nil {
		return nil, &TransportError{Err: err}
	}

	return a.parseResponse(req.Model, &resp)
}

// InvokeStream performs exactly one POST against /api/chat with
// stream:true and hands back Ollama's live NDJSON body; no retry, no
// buffering.
func (a *OllamaAdapter) InvokeStream(ctx context.Context, req *canonical.Request) (io.ReadCloser, string, error) {
	wire := a.buildRequest(req)
	wire.Stream = true

	resp, err := transport.PerformJSONRequest(ctx, a.Client, a.Policy, transport.JSONRequest{
		URL:    a.BaseURL + "/api/chat",
		Body:   wire,
		Stream: true,
	}, nil)
	if err != nil {
		return nil, "", &TransportError{Err: err}
	}
	return resp.Stream, resp.ContentType, nil
}

// buildRequest merges consecutive same-role turns (Ollama rejects
// adjacent same-role entries) and, for tool-incapable models, flattens
// every tool_use/tool_result block to plain text.
func (a *OllamaAdapter) buildRequest(req *canonical.Request) *ollamaChatRequest {
	toolsOK := SupportsTools(req.Model)

	var messages []ollamaMessage
	if req.System != "" {
		messages = append(messages, ollamaMessage{Role: "system", Content: req.System})
	}

	for _, turn := range req.Messages {
		content, toolCalls := flattenTurnForOllama(turn, toolsOK)
		role := string(turn.Role)
		if role == "tool" {
			role = "user" // Ollama has no "tool" role; fold tool results into user turns.
		}

		if len(messages) > 0 && messages[len(messages)-1].Role == role {
			last := &messages[len(messages)-1]
			last.Content = strings.TrimSpace(last.Content + "\n" + content)
			last.ToolCalls = append(last.ToolCalls, toolCalls...)
			continue
		}
		messages = append(messages, ollamaMessage{Role: role, Content: content, ToolCalls: toolCalls})
	}

	var tools []ollamaTool
	if toolsOK {
		for _, t := range req.Tools {
			var ot ollamaTool
			ot.Type = "function"
			ot.Function.Name = t.Name
			ot.Function.Description = t.Description
			ot.Function.Parameters = t.InputSchema
			tools = append(tools, ot)
		}
	}

	return &ollamaChatRequest{Model: req.Model, Messages: messages, Tools: tools, Stream: false}
}

func flattenTurnForOllama(turn canonical.Turn, toolsOK bool) (string, []ollamaToolCall) {
	var text strings.Builder
	var calls []ollamaToolCall

	for _, b := range turn.Content {
		switch block := b.(type) {
		case canonical.TextBlock:
			text.WriteString(block.Text)
		case canonical.InputTextBlock:
			text.WriteString(block.Text)
		case canonical.ToolUseBlock:
			if toolsOK {
				calls = append(calls, ollamaToolCall{Function: struct {
					Name      string         `json:"name"`
					Arguments map[string]any `json:"arguments"`
				}{Name: block.Name, Arguments: block.Input}})
			} else {
				enc, _ := json.Marshal(block.Input)
				fmt.Fprintf(&text, "[called %s with %s]", block.Name, enc)
			}
		case canonical.ToolResultBlock:
			content, _ := canonical.MarshalContentBlocks(block.Content)
			var plain string
			if err := json.Unmarshal(content, &plain); err != nil {
				plain = string(content)
			}
			text.WriteString(plain)
		}
	}
	return text.String(), calls
}

func (a *OllamaAdapter) parseResponse(model string, resp *ollamaChatResponse) (*canonical.Response, error) {
	var blocks []canonical.ContentBlock
	if resp.Message.Content != "" {
		blocks = append(blocks, canonical.TextBlock{Text: resp.Message.Content})
	}
	for i, tc := range resp.Message.ToolCalls {
		blocks = append(blocks, canonical.ToolUseBlock{
			ID:    fmt.Sprintf("ollama-call-%d", i),
			Name:  tc.Function.Name,
			Input: tc.Function.Arguments,
		})
	}

	stopReason := canonical.StopEndTurn
	if len(resp.Message.ToolCalls) > 0 {
		stopReason = canonical.StopToolUse
	}

	return &canonical.Response{
		Role:       canonical.RoleAssistant,
		Content:    blocks,
		Model:      model,
		StopReason: stopReason,
	}, nil
}
