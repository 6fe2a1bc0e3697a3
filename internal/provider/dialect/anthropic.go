package dialect

import (
	"context"
	"errors"
	"io"
	"strings"

	anthropic "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/lynkr/lynkr/internal/canonical"
	"github.com/lynkr/lynkr/internal/consts"
)

var errStreamStartFailed = errors.New("dialect: anthropic streaming call returned no stream")

// AnthropicAdapter targets the native Beta Messages API and is also the
// passthrough path when the canonical request already targets an
// Anthropic-compatible host (NativelyAnthropic capability).
type AnthropicAdapter struct {
	client anthropic.Client
}

func NewAnthropicAdapter(apiKey string) *AnthropicAdapter {
	return &AnthropicAdapter{client: anthropic.NewClient(option.WithAPIKey(apiKey))}
}

func (a *AnthropicAdapter) Name() string { return "anthropic" }

func (a *AnthropicAdapter) Capabilities() Capabilities {
	return Capabilities{SupportsTools: true, SupportsStreaming: true, NativelyAnthropic: true}
}

func (a *AnthropicAdapter) Invoke(ctx context.Context, req *canonical.Request) (*canonical.Response, error) {
	params, err := a.buildRequest(req)
	if err != nil {
		return nil, err
	}

	msg, err := a.client.Beta.Messages.New(ctx, params)
	if err != nil {
		return nil, &TransportError{Err: err}
	}

	return a.parseResponse(msg)
}

// InvokeStream re-emits the SDK's typed server-sent-event stream as the
// same wire-format SSE the client already expects (the canonical schema
// is the Anthropic-style schema, so no translation happens here — every
// event is re-serialised from the exact bytes the upstream sent).
func (a *AnthropicAdapter) InvokeStream(ctx context.Context, req *canonical.Request) (io.ReadCloser, string, error) {
	params, err := a.buildRequest(req)
	if err != nil {
		return nil, "", err
	}

	stream := a.client.Beta.Messages.NewStreaming(ctx, params)
	if stream == nil {
		return nil, "", &TransportError{Err: errStreamStartFailed}
	}

	pr, pw := io.Pipe()
	go func() {
		defer stream.Close()
		for stream.Next() {
			event := stream.Current()
			frame := "event: " + string(event.Type) + "\ndata: " + event.RawJSON() + "\n\n"
			if _, err := io.WriteString(pw, frame); err != nil {
				pw.CloseWithError(err)
				return
			}
		}
		pw.CloseWithError(stream.Err())
	}()
	return pr, "text/event-stream", nil
}

func (a *AnthropicAdapter) buildRequest(req *canonical.Request) (anthropic.BetaMessageNewParams, error) {
	var messages []anthropic.BetaMessageParam
	for _, turn := range req.Messages {
		msg, err := convertTurnToAnthropic(turn)
		if err != nil {
			return anthropic.BetaMessageNewParams{}, err
		}
		if msg != nil {
			messages = append(messages, *msg)
		}
	}

	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = consts.DefaultMaxTokens
	}

	params := anthropic.BetaMessageNewParams{
		Model:     anthropic.Model(req.Model),
		MaxTokens: int64(maxTokens),
		Messages:  messages,
	}
	if req.System != "" {
		params.System = []anthropic.BetaTextBlockParam{{Text: req.System}}
	}
	if req.Temperature != nil {
		params.Temperature = anthropic.Float(*req.Temperature)
	}
	if req.TopP != nil {
		params.TopP = anthropic.Float(*req.TopP)
	}

	for _, t := range req.Tools {
		schema := t.InputSchema
		if schema == nil {
			schema = map[string]any{"type": "object"}
		}
		params.Tools = append(params.Tools, anthropic.BetaToolUnionParam{
			OfTool: &anthropic.BetaToolParam{
				Name:        t.Name,
				Description: anthropic.String(t.Description),
				InputSchema: anthropic.BetaToolInputSchemaParam{
					Properties: schema["properties"],
				},
			},
		})
	}

	return params, nil
}

func convertTurnToAnthropic(turn canonical.Turn) (*anthropic.BetaMessageParam, error) {
	role := anthropic.BetaMessageParamRoleUser
	if turn.Role == canonical.RoleAssistant {
		role = anthropic.BetaMessageParamRoleAssistant
	}

	var blocks []anthropic.BetaContentBlockParamUnion
	for _, b := range turn.Content {
		switch block := b.(type) {
		case canonical.TextBlock:
			if block.Text != "" {
				blocks = append(blocks, anthropic.NewBetaTextBlock(block.Text))
			}
		case canonical.ToolUseBlock:
			blocks = append(blocks, anthropic.NewBetaToolUseBlock(block.ID, block.Input, block.Name))
		case canonical.ToolResultBlock:
			content := toolResultText(block.Content)
			blocks = append(blocks, anthropic.NewBetaToolResultBlock(block.ToolUseID, content, block.IsError))
		}
	}
	if len(blocks) == 0 {
		return nil, nil
	}
	return &anthropic.BetaMessageParam{Role: role, Content: blocks}, nil
}

func toolResultText(blocks []canonical.ContentBlock) string {
	var sb strings.Builder
	for _, b := range blocks {
		if tb, ok := b.(canonical.TextBlock); ok {
			sb.WriteString(tb.Text)
		}
	}
	return sb.String()
}

func (a *AnthropicAdapter) parseResponse(msg *anthropic.BetaMessage) (*canonical.Response, error) {
	var blocks []canonical.ContentBlock
	for _, block := range msg.Content {
		switch b := block.AsAny().(type) {
		case anthropic.BetaTextBlock:
			blocks = append(blocks, canonical.TextBlock{Text: b.Text})
		case anthropic.BetaToolUseBlock:
			input, ok := b.Input.(map[string]any)
			if !ok {
				input = map[string]any{}
			}
			blocks = append(blocks, canonical.ToolUseBlock{ID: b.ID, Name: b.Name, Input: input})
		}
	}

	stopReason := canonical.StopEndTurn
	switch msg.StopReason {
	case anthropic.BetaStopReasonToolUse:
		stopReason = canonical.StopToolUse
	case anthropic.BetaStopReasonMaxTokens:
		stopReason = canonical.StopMaxTokens
	case anthropic.BetaStopReasonStopSequence:
		stopReason = canonical.StopSequence
	}

	return &canonical.Response{
		ID:         msg.ID,
		Role:       canonical.RoleAssistant,
		Content:    blocks,
		Model:      string(msg.Model),
		StopReason: stopReason,
		Usage: canonical.Usage{
			InputTokens:              int(msg.Usage.InputTokens),
			OutputTokens:             int(msg.Usage.OutputTokens),
			CacheCreationInputTokens: int(msg.Usage.CacheCreationInputTokens),
			CacheReadInputTokens:     int(msg.Usage.CacheReadInputTokens),
		},
	}, nil
}
