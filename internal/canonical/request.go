package canonical

import "encoding/json"

// Role identifies the speaker of a Turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// Turn is one entry in Request.Messages.
type Turn struct {
	Role    Role
	Content []ContentBlock
}

// MarshalJSON emits {"role":..., "content": <blocks or string>}.
func (t Turn) MarshalJSON() ([]byte, error) {
	content, err := MarshalContentBlocks(t.Content)
	if err != nil {
		return nil, err
	}
	return json.Marshal(struct {
		Role    Role            `json:"role"`
		Content json.RawMessage `json:"content"`
	}{Role: t.Role, Content: content})
}

// UnmarshalJSON decodes a turn whose content is either a bare string or an
// array of tagged content blocks.
func (t *Turn) UnmarshalJSON(data []byte) error {
	var wire struct {
		Role    Role            `json:"role"`
		Content json.RawMessage `json:"content"`
	}
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}
	blocks, err := UnmarshalContentBlocks(wire.Content)
	if err != nil {
		return err
	}
	t.Role = wire.Role
	t.Content = blocks
	return nil
}

// HasToolUse reports whether the turn carries at least one tool_use block.
func (t Turn) HasToolUse() bool {
	for _, b := range t.Content {
		if b.Kind() == KindToolUse {
			return true
		}
	}
	return false
}

// IsEmpty reports whether the turn has no text content and no tool_use.
func (t Turn) IsEmpty() bool {
	if t.HasToolUse() {
		return false
	}
	for _, b := range t.Content {
		if tb, ok := b.(TextBlock); ok && tb.Text != "" {
			return false
		}
	}
	return true
}

// Tool is a single tool declaration offered to the model.
type Tool struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	InputSchema map[string]any `json:"input_schema"`
}

// ToolChoice hints how the model should pick a tool.
type ToolChoice struct {
	Mode string `json:"type"` // "auto", "none", "tool"
	Name string `json:"name,omitempty"`
}

// Request is the canonical chat/messages request the orchestrator
// consumes and every provider adapter converts from.
type Request struct {
	Model       string        `json:"model"`
	System      string        `json:"system,omitempty"`
	Messages    []Turn        `json:"messages"`
	Tools       []Tool        `json:"tools,omitempty"`
	ToolChoice  *ToolChoice   `json:"tool_choice,omitempty"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Temperature *float64      `json:"temperature,omitempty"`
	TopP        *float64      `json:"top_p,omitempty"`
	Stream      bool          `json:"stream,omitempty"`
}

// Clone returns a deep copy safe for independent mutation, used by the
// sanitiser to preserve the caller's original request untouched.
func (r *Request) Clone() *Request {
	out := *r
	out.Messages = make([]Turn, len(r.Messages))
	for i, m := range r.Messages {
		out.Messages[i] = Turn{Role: m.Role, Content: append([]ContentBlock(nil), m.Content...)}
	}
	out.Tools = append([]Tool(nil), r.Tools...)
	if r.ToolChoice != nil {
		tc := *r.ToolChoice
		out.ToolChoice = &tc
	}
	if r.Temperature != nil {
		t := *r.Temperature
		out.Temperature = &t
	}
	if r.TopP != nil {
		p := *r.TopP
		out.TopP = &p
	}
	return &out
}
