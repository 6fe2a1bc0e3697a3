// Package canonical defines the Anthropic-style canonical request/response
// schema the orchestrator consumes and every provider adapter converts
// to and from.
package canonical

import (
	"encoding/json"
	"fmt"
)

// BlockKind identifies the concrete type of a ContentBlock.
type BlockKind string

const (
	KindText       BlockKind = "text"
	KindToolUse    BlockKind = "tool_use"
	KindToolResult BlockKind = "tool_result"
	KindInputText  BlockKind = "input_text"
)

// ContentBlock is a closed tagged-variant union. isContentBlock is
// unexported so no type outside this package may implement it — callers
// must type-switch on Kind() rather than duck-type on a "type" field.
type ContentBlock interface {
	Kind() BlockKind
	isContentBlock()
}

// TextBlock carries plain assistant/user text.
type TextBlock struct {
	Text string `json:"text"`
}

func (TextBlock) Kind() BlockKind { return KindText }
func (TextBlock) isContentBlock() {}

// InputTextBlock mirrors the OpenAI Responses dialect's "input_text" item;
// it is distinct from TextBlock so adapters can round-trip the distinction
// without guessing from context.
type InputTextBlock struct {
	Text string `json:"text"`
}

func (InputTextBlock) Kind() BlockKind { return KindInputText }
func (InputTextBlock) isContentBlock() {}

// ToolUseBlock is emitted by the model to request a tool invocation.
// Input is always a decoded object; arguments are encoded to a JSON
// string only at the final adapter hop before the wire.
type ToolUseBlock struct {
	ID    string         `json:"id"`
	Name  string         `json:"name"`
	Input map[string]any `json:"input"`
}

func (ToolUseBlock) Kind() BlockKind { return KindToolUse }
func (ToolUseBlock) isContentBlock() {}

// ToolResultBlock carries the outcome of executing a tool call back to
// the model. Content is either a plain string or a nested []ContentBlock;
// to keep the union closed we store it as []ContentBlock and let callers
// pass a single TextBlock for the common string case.
type ToolResultBlock struct {
	ToolUseID string         `json:"tool_use_id"`
	Content   []ContentBlock `json:"content"`
	IsError   bool           `json:"is_error,omitempty"`
}

func (ToolResultBlock) Kind() BlockKind { return KindToolResult }
func (ToolResultBlock) isContentBlock() {}

// NewTextResult is a convenience constructor for the common case of a
// tool_result whose content is a single text string.
func NewTextResult(toolUseID, text string, isError bool) ToolResultBlock {
	return ToolResultBlock{
		ToolUseID: toolUseID,
		Content:   []ContentBlock{TextBlock{Text: text}},
		IsError:   isError,
	}
}

// wireBlock is the on-the-wire shape all block kinds marshal through.
type wireBlock struct {
	Type      BlockKind       `json:"type"`
	Text      string          `json:"text,omitempty"`
	ID        string          `json:"id,omitempty"`
	Name      string          `json:"name,omitempty"`
	Input     map[string]any  `json:"input,omitempty"`
	ToolUseID string          `json:"tool_use_id,omitempty"`
	Content   json.RawMessage `json:"content,omitempty"`
	IsError   bool            `json:"is_error,omitempty"`
}

// MarshalContentBlock encodes a single block to its tagged wire form.
func MarshalContentBlock(b ContentBlock) ([]byte, error) {
	switch v := b.(type) {
	case TextBlock:
		return json.Marshal(wireBlock{Type: KindText, Text: v.Text})
	case InputTextBlock:
		return json.Marshal(wireBlock{Type: KindInputText, Text: v.Text})
	case ToolUseBlock:
		return json.Marshal(wireBlock{Type: KindToolUse, ID: v.ID, Name: v.Name, Input: v.Input})
	case ToolResultBlock:
		content, err := MarshalContentBlocks(v.Content)
		if err != nil {
			return nil, err
		}
		return json.Marshal(wireBlock{
			Type:      KindToolResult,
			ToolUseID: v.ToolUseID,
			Content:   content,
			IsError:   v.IsError,
		})
	default:
		return nil, fmt.Errorf("canonical: unknown content block type %T", b)
	}
}

// MarshalContentBlocks encodes a slice of blocks to a JSON array. A plain
// string tool_result content (no nested blocks, single text entry) is
// collapsed to a bare JSON string to match the Anthropic wire shape.
func MarshalContentBlocks(blocks []ContentBlock) ([]byte, error) {
	if len(blocks) == 1 {
		if t, ok := blocks[0].(TextBlock); ok {
			return json.Marshal(t.Text)
		}
	}
	raw := make([]json.RawMessage, 0, len(blocks))
	for _, b := range blocks {
		enc, err := MarshalContentBlock(b)
		if err != nil {
			return nil, err
		}
		raw = append(raw, enc)
	}
	return json.Marshal(raw)
}

// MarshalContentBlocksArray encodes blocks as a JSON array unconditionally,
// never collapsing a lone TextBlock to a bare string. Response.Content
// always takes this form on the wire, unlike a tool_result's content.
func MarshalContentBlocksArray(blocks []ContentBlock) ([]byte, error) {
	raw := make([]json.RawMessage, 0, len(blocks))
	for _, b := range blocks {
		enc, err := MarshalContentBlock(b)
		if err != nil {
			return nil, err
		}
		raw = append(raw, enc)
	}
	return json.Marshal(raw)
}

// UnmarshalContentBlock decodes a single tagged wire block.
func UnmarshalContentBlock(data []byte) (ContentBlock, error) {
	var w wireBlock
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, fmt.Errorf("canonical: decode content block: %w", err)
	}
	switch w.Type {
	case KindText, "":
		return TextBlock{Text: w.Text}, nil
	case KindInputText:
		return InputTextBlock{Text: w.Text}, nil
	case KindToolUse:
		return ToolUseBlock{ID: w.ID, Name: w.Name, Input: w.Input}, nil
	case KindToolResult:
		blocks, err := UnmarshalContentBlocks(w.Content)
		if err != nil {
			return nil, err
		}
		return ToolResultBlock{ToolUseID: w.ToolUseID, Content: blocks, IsError: w.IsError}, nil
	default:
		return nil, fmt.Errorf("canonical: unrecognised content block type %q", w.Type)
	}
}

// UnmarshalContentBlocks decodes either a bare JSON string (treated as a
// single TextBlock) or a JSON array of tagged blocks.
func UnmarshalContentBlocks(data []byte) ([]ContentBlock, error) {
	if len(data) == 0 {
		return nil, nil
	}
	trimmed := trimSpace(data)
	if len(trimmed) > 0 && trimmed[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return nil, fmt.Errorf("canonical: decode string content: %w", err)
		}
		return []ContentBlock{TextBlock{Text: s}}, nil
	}
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("canonical: decode content array: %w", err)
	}
	out := make([]ContentBlock, 0, len(raw))
	for _, r := range raw {
		b, err := UnmarshalContentBlock(r)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, nil
}

func trimSpace(b []byte) []byte {
	i := 0
	for i < len(b) && (b[i] == ' ' || b[i] == '\t' || b[i] == '\n' || b[i] == '\r') {
		i++
	}
	return b[i:]
}
