package canonical

import "encoding/json"

// StopReason is the terminal disposition of a model turn.
type StopReason string

const (
	StopEndTurn   StopReason = "end_turn"
	StopToolUse   StopReason = "tool_use"
	StopMaxTokens StopReason = "max_tokens"
	StopSequence  StopReason = "stop_sequence"
)

// Usage reports token accounting, including Anthropic-style prompt-cache
// fields so adapters that don't populate them (most of OpenAI/Ollama) can
// simply leave them zero.
type Usage struct {
	InputTokens              int `json:"input_tokens"`
	OutputTokens             int `json:"output_tokens"`
	CacheCreationInputTokens int `json:"cache_creation_input_tokens,omitempty"`
	CacheReadInputTokens     int `json:"cache_read_input_tokens,omitempty"`
}

// TotalInputTokens sums the directly-billed and cache-accounted input.
func (u Usage) TotalInputTokens() int {
	return u.InputTokens + u.CacheCreationInputTokens + u.CacheReadInputTokens
}

// ContextWindowUsed is the total tokens (input + output) this turn
// consumed of the model's context window.
func (u Usage) ContextWindowUsed() int {
	return u.TotalInputTokens() + u.OutputTokens
}

// Response is the canonical assistant turn returned by a provider adapter.
type Response struct {
	ID         string         `json:"id"`
	Role       Role           `json:"role"`
	Content    []ContentBlock `json:"content"`
	Model      string         `json:"model"`
	StopReason StopReason     `json:"stop_reason"`
	Usage      Usage          `json:"usage"`
}

// MarshalJSON tags each content block with its "type" discriminator; the
// naked struct tags on TextBlock/ToolUseBlock/etc. are not enough on
// their own to round-trip through the wire.
func (r Response) MarshalJSON() ([]byte, error) {
	content, err := MarshalContentBlocksArray(r.Content)
	if err != nil {
		return nil, err
	}
	return json.Marshal(struct {
		ID         string          `json:"id"`
		Role       Role            `json:"role"`
		Content    json.RawMessage `json:"content"`
		Model      string          `json:"model"`
		StopReason StopReason      `json:"stop_reason"`
		Usage      Usage           `json:"usage"`
	}{ID: r.ID, Role: r.Role, Content: content, Model: r.Model, StopReason: r.StopReason, Usage: r.Usage})
}

// UnmarshalJSON decodes a response whose content is always a tagged
// block array (never the bare-string collapse Turn's content allows).
func (r *Response) UnmarshalJSON(data []byte) error {
	var wire struct {
		ID         string          `json:"id"`
		Role       Role            `json:"role"`
		Content    json.RawMessage `json:"content"`
		Model      string          `json:"model"`
		StopReason StopReason      `json:"stop_reason"`
		Usage      Usage           `json:"usage"`
	}
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}
	blocks, err := UnmarshalContentBlocks(wire.Content)
	if err != nil {
		return err
	}
	r.ID, r.Role, r.Content, r.Model, r.StopReason, r.Usage = wire.ID, wire.Role, blocks, wire.Model, wire.StopReason, wire.Usage
	return nil
}

// ToolUses returns every tool_use block in the response, in order.
func (r *Response) ToolUses() []ToolUseBlock {
	var out []ToolUseBlock
	for _, b := range r.Content {
		if tu, ok := b.(ToolUseBlock); ok {
			out = append(out, tu)
		}
	}
	return out
}

// Text concatenates every text block in the response.
func (r *Response) Text() string {
	var out string
	for _, b := range r.Content {
		if tb, ok := b.(TextBlock); ok {
			out += tb.Text
		}
	}
	return out
}
