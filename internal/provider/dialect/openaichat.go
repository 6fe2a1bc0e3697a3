package dialect

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/lynkr/lynkr/internal/canonical"
	"github.com/lynkr/lynkr/internal/transport"
)

// OpenAIChatAdapter targets the OpenAI-compatible /v1/chat/completions
// wire format (OpenAI itself, and any OpenAI-compatible local/self-hosted
// runtime that doesn't speak the Responses dialect).
type OpenAIChatAdapter struct {
	BaseURL string
	APIKey  string
	Client  *http.Client
	Policy  transport.RetryPolicy
}

func NewOpenAIChatAdapter(baseURL, apiKey string, client *http.Client) *OpenAIChatAdapter {
	return &OpenAIChatAdapter{BaseURL: baseURL, APIKey: apiKey, Client: client, Policy: transport.DefaultRetryPolicy()}
}

func (a *OpenAIChatAdapter) Name() string { return "openai-chat" }

func (a *OpenAIChatAdapter) Capabilities() Capabilities {
	return Capabilities{SupportsTools: true, SupportsStreaming: true, NativelyAnthropic: false}
}

type openAIChatMessage struct {
	Role       string            `json:"role"`
	Content    string            `json:"content,omitempty"`
	ToolCalls  []openAIToolCall  `json:"tool_calls,omitempty"`
	ToolCallID string            `json:"tool_call_id,omitempty"`
}

type openAIToolCall struct {
	ID       string             `json:"id"`
	Type     string             `json:"type"`
	Function openAIToolFunction `json:"function"`
}

type openAIToolFunction struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

type openAITool struct {
	Type     string             `json:"type"`
	Function openAIToolFunctionDecl `json:"function"`
}

type openAIToolFunctionDecl struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Parameters  map[string]any `json:"parameters"`
}

type openAIChatRequest struct {
	Model       string           `json:"model"`
	Messages    []openAIChatMessage `json:"messages"`
	Tools       []openAITool     `json:"tools,omitempty"`
	MaxTokens   int              `json:"max_tokens,omitempty"`
	Temperature *float64         `json:"temperature,omitempty"`
	TopP        *float64         `json:"top_p,omitempty"`
	Stream      bool             `json:"stream,omitempty"`
}

type openAIChatResponse struct {
	Choices []struct {
		Message      openAIChatMessage `json:"message"`
		FinishReason string            `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
}

func (a *OpenAIChatAdapter) Invoke(ctx context.Context, req *canonical.Request) (*canonical.Response, error) {
	wire, err := a.buildRequest(req)
	if err != nil {
		return nil, err
	}

	var resp openAIChatResponse
	_, err = transport.PerformJSONRequest(ctx, a.Client, a.Policy, transport.JSONRequest{
		URL: a.BaseURL + "/chat/completions",
		Headers: map[string]string{
			"Authorization": "Bearer " + a.APIKey,
		},
		Body: wire,
	}, &resp)
	if err != nil {
		return nil, &TransportError{Err: err}
	}

	return a.parseResponse(req.Model, &resp)
}

// InvokeStream performs exactly one POST with stream:true and hands back
// the live upstream body; PerformJSONRequest never retries or buffers a
// streaming call.
func (a *OpenAIChatAdapter) InvokeStream(ctx context.Context, req *canonical.Request) (io.ReadCloser, string, error) {
	wire, err := a.buildRequest(req)
	if err != nil {
		return nil, "", err
	}
	wire.Stream = true

	resp, err := transport.PerformJSONRequest(ctx, a.Client, a.Policy, transport.JSONRequest{
		URL: a.BaseURL + "/chat/completions",
		Headers: map[string]string{
			"Authorization": "Bearer " + a.APIKey,
		},
		Body:   wire,
		Stream: true,
	}, nil)
	if err != nil {
		return nil, "", &TransportError{Err: err}
	}
	return resp.Stream, resp.ContentType, nil
}

func (a *OpenAIChatAdapter) buildRequest(req *canonical.Request) (*openAIChatRequest, error) {
	var messages []openAIChatMessage
	if req.System != "" {
		messages = append(messages, openAIChatMessage{Role: "system", Content: req.System})
	}

	for _, turn := range req.Messages {
		msgs, err := convertTurnToOpenAI(turn)
		if err != nil {
			return nil, err
		}
		messages = append(messages, msgs...)
	}

	var tools []openAITool
	for _, t := range req.Tools {
		schema := t.InputSchema
		if schema == nil {
			schema = map[string]any{"type": "object", "properties": map[string]any{}}
		}
		tools = append(tools, openAITool{
			Type: "function",
			Function: openAIToolFunctionDecl{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  schema,
			},
		})
	}

	return &openAIChatRequest{
		Model:       req.Model,
		Messages:    messages,
		Tools:       tools,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
		TopP:        req.TopP,
	}, nil
}

// convertTurnToOpenAI may expand one canonical turn into several OpenAI
// messages: an assistant turn with N tool_use blocks becomes one
// assistant message with N tool_calls; a user turn with tool_result
// blocks becomes N separate role:"tool" messages, per the wire contract.
func convertTurnToOpenAI(turn canonical.Turn) ([]openAIChatMessage, error) {
	var text string
	var toolCalls []openAIToolCall
	var toolMessages []openAIChatMessage

	for _, b := range turn.Content {
		switch block := b.(type) {
		case canonical.TextBlock:
			text += block.Text
		case canonical.InputTextBlock:
			text += block.Text
		case canonical.ToolUseBlock:
			args, err := json.Marshal(block.Input)
			if err != nil {
				return nil, fmt.Errorf("dialect: encode tool_use arguments: %w", err)
			}
			toolCalls = append(toolCalls, openAIToolCall{
				ID:   block.ID,
				Type: "function",
				Function: openAIToolFunction{
					Name:      block.Name,
					Arguments: string(args),
				},
			})
		case canonical.ToolResultBlock:
			content, err := canonical.MarshalContentBlocks(block.Content)
			if err != nil {
				return nil, err
			}
			var plain string
			if err := json.Unmarshal(content, &plain); err != nil {
				plain = string(content)
			}
			toolMessages = append(toolMessages, openAIChatMessage{
				Role:       "tool",
				Content:    plain,
				ToolCallID: block.ToolUseID,
			})
		}
	}

	if len(toolMessages) > 0 {
		return toolMessages, nil
	}

	role := string(turn.Role)
	return []openAIChatMessage{{Role: role, Content: text, ToolCalls: toolCalls}}, nil
}

func (a *OpenAIChatAdapter) parseResponse(model string, resp *openAIChatResponse) (*canonical.Response, error) {
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("%w: no choices in openai chat response", ErrSchemaError)
	}
	choice := resp.Choices[0]

	var blocks []canonical.ContentBlock
	if choice.Message.Content != "" {
		blocks = append(blocks, canonical.TextBlock{Text: choice.Message.Content})
	}
	for _, tc := range choice.Message.ToolCalls {
		var input map[string]any
		if tc.Function.Arguments != "" {
			if err := json.Unmarshal([]byte(tc.Function.Arguments), &input); err != nil {
				input = map[string]any{}
			}
		}
		blocks = append(blocks, canonical.ToolUseBlock{ID: tc.ID, Name: tc.Function.Name, Input: input})
	}

	stopReason := canonical.StopEndTurn
	switch choice.FinishReason {
	case "tool_calls":
		stopReason = canonical.StopToolUse
	case "length":
		stopReason = canonical.StopMaxTokens
	case "stop":
		stopReason = canonical.StopEndTurn
	}

	return &canonical.Response{
		Role:       canonical.RoleAssistant,
		Content:    blocks,
		Model:      model,
		StopReason: stopReason,
		Usage: canonical.Usage{
			InputTokens:  resp.Usage.PromptTokens,
			OutputTokens: resp.Usage.CompletionTokens,
		},
	}, nil
}
