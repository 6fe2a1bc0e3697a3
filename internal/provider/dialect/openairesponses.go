package dialect

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/responses"
	"github.com/openai/openai-go/shared"

	"github.com/lynkr/lynkr/internal/canonical"
)

// OpenAIResponsesAdapter targets OpenAI's "responses" API, which
// rearranges message history into a flat input[] of typed items
// (message, function_call, function_call_output) rather than the
// chat-completions role/tool_calls shape.
type OpenAIResponsesAdapter struct {
	client responses.ResponseService
	model  string
}

func NewOpenAIResponsesAdapter(apiKey string) *OpenAIResponsesAdapter {
	client := openai.NewClient(option.WithAPIKey(apiKey))
	return &OpenAIResponsesAdapter{client: client.Responses}
}

func (a *OpenAIResponsesAdapter) Name() string { return "openai-responses" }

func (a *OpenAIResponsesAdapter) Capabilities() Capabilities {
	return Capabilities{SupportsTools: true, SupportsStreaming: true, NativelyAnthropic: false}
}

func (a *OpenAIResponsesAdapter) Invoke(ctx context.Context, req *canonical.Request) (*canonical.Response, error) {
	params, err := a.buildRequest(req)
	if err != nil {
		return nil, err
	}

	resp, err := a.client.New(ctx, params)
	if err != nil {
		return nil, &TransportError{Err: err}
	}

	return a.parseResponse(resp)
}

// responsesItem mirrors the minimal shape of the three item kinds this
// dialect exchanges; marshalled through responses.ResponseInputItemUnionParam.
type responsesItem struct {
	Type   string `json:"type,omitempty"`
	Role   string `json:"role,omitempty"`
	Content string `json:"content,omitempty"`

	// function_call
	CallID    string `json:"call_id,omitempty"`
	Name      string `json:"name,omitempty"`
	Arguments string `json:"arguments,omitempty"`

	// function_call_output
	Output string `json:"output,omitempty"`
}

func (a *OpenAIResponsesAdapter) buildRequest(req *canonical.Request) (responses.ResponseNewParams, error) {
	items, err := buildResponsesInput(req.Messages)
	if err != nil {
		return responses.ResponseNewParams{}, err
	}

	params := responses.ResponseNewParams{
		Model: shared.ResponsesModel(req.Model),
	}
	raw, err := json.Marshal(items)
	if err != nil {
		return responses.ResponseNewParams{}, fmt.Errorf("dialect: encode responses input: %w", err)
	}
	var inputList responses.ResponseNewParamsInputUnion
	if err := json.Unmarshal(raw, &inputList.OfInputItemList); err != nil {
		return responses.ResponseNewParams{}, fmt.Errorf("dialect: decode responses input: %w", err)
	}
	params.Input = inputList

	if req.System != "" {
		params.Instructions = openai.String(req.System)
	}
	if req.MaxTokens > 0 {
		params.MaxOutputTokens = openai.Int(int64(req.MaxTokens))
	}
	return params, nil
}

// buildResponsesInput flattens canonical turns into the flat item list.
// Each tool_result becomes a function_call_output item carrying that
// result's own tool_use_id; results are not paired with earlier calls by
// position, and pendingCalls is not read.
func buildResponsesInput(turns []canonical.Turn) ([]responsesItem, error) {
	var items []responsesItem
	pendingCalls := map[string]bool{}

	for _, turn := range turns {
		for _, b := range turn.Content {
			switch block := b.(type) {
			case canonical.TextBlock:
				if block.Text != "" {
					items = append(items, responsesItem{Type: "message", Role: string(turn.Role), Content: block.Text})
				}
			case canonical.InputTextBlock:
				items = append(items, responsesItem{Type: "message", Role: string(turn.Role), Content: block.Text})
			case canonical.ToolUseBlock:
				args, err := json.Marshal(block.Input)
				if err != nil {
					return nil, fmt.Errorf("dialect: encode function_call arguments: %w", err)
				}
				items = append(items, responsesItem{
					Type: "function_call", CallID: block.ID, Name: block.Name, Arguments: string(args),
				})
				pendingCalls[block.ID] = true
			case canonical.ToolResultBlock:
				content, _ := canonical.MarshalContentBlocks(block.Content)
				var plain string
				if err := json.Unmarshal(content, &plain); err != nil {
					plain = string(content)
				}
				items = append(items, responsesItem{Type: "function_call_output", CallID: block.ToolUseID, Output: plain})
				delete(pendingCalls, block.ToolUseID)
			}
		}
	}
	return items, nil
}

func (a *OpenAIResponsesAdapter) parseResponse(resp *responses.Response) (*canonical.Response, error) {
	var blocks []canonical.ContentBlock
	for _, item := range resp.Output {
		switch v := item.AsAny().(type) {
		case responses.ResponseOutputMessage:
			for _, c := range v.Content {
				if txt, ok := c.AsAny().(responses.ResponseOutputText); ok {
					blocks = append(blocks, canonical.TextBlock{Text: txt.Text})
				}
			}
		case responses.ResponseFunctionToolCall:
			var input map[string]any
			if v.Arguments != "" {
				if err := json.Unmarshal([]byte(v.Arguments), &input); err != nil {
					input = map[string]any{}
				}
			}
			blocks = append(blocks, canonical.ToolUseBlock{ID: v.CallID, Name: v.Name, Input: input})
		}
	}

	stopReason := canonical.StopEndTurn
	for _, b := range blocks {
		if b.Kind() == canonical.KindToolUse {
			stopReason = canonical.StopToolUse
			break
		}
	}

	return &canonical.Response{
		ID:         resp.ID,
		Role:       canonical.RoleAssistant,
		Content:    blocks,
		Model:      string(resp.Model),
		StopReason: stopReason,
		Usage: canonical.Usage{
			InputTokens:  int(resp.Usage.InputTokens),
			OutputTokens: int(resp.Usage.OutputTokens),
		},
	}, nil
}
