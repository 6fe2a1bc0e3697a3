package dialect

import (
	"context"
	"fmt"
	"strings"

	genai "google.golang.org/genai"

	"github.com/lynkr/lynkr/internal/canonical"
)

// GeminiAdapter targets Google's generateContent API via the official
// GenAI SDK.
type GeminiAdapter struct {
	client *genai.Client
}

func NewGeminiAdapter(ctx context.Context, apiKey string) (*GeminiAdapter, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{APIKey: apiKey, Backend: genai.BackendGeminiAPI})
	if err != nil {
		return nil, fmt.Errorf("dialect: create genai client: %w", err)
	}
	return &GeminiAdapter{client: client}, nil
}

func (a *GeminiAdapter) Name() string { return "gemini" }

func (a *GeminiAdapter) Capabilities() Capabilities {
	return Capabilities{SupportsTools: true, SupportsStreaming: true, NativelyAnthropic: false}
}

func (a *GeminiAdapter) Invoke(ctx context.Context, req *canonical.Request) (*canonical.Response, error) {
	contents, err := convertTurnsToGenAI(req.Messages)
	if err != nil {
		return nil, err
	}

	cfg := buildGenAIConfig(req)
	model := normalizeGeminiModelName(req.Model)

	resp, err := a.client.Models.GenerateContent(ctx, model, contents, cfg)
	if err != nil {
		return nil, &TransportError{Err: err}
	}

	return parseGenAIResponse(model, resp)
}

func normalizeGeminiModelName(name string) string {
	trimmed := strings.TrimSpace(name)
	if trimmed == "" {
		return "models/gemini-2.0-flash"
	}
	lowered := strings.ToLower(trimmed)
	if strings.HasPrefix(lowered, "models/") || strings.HasPrefix(lowered, "publishers/") {
		return trimmed
	}
	return "models/" + trimmed
}

func convertTurnsToGenAI(turns []canonical.Turn) ([]*genai.Content, error) {
	contents := make([]*genai.Content, 0, len(turns))
	for _, turn := range turns {
		parts, role, err := convertTurnToGenAIParts(turn)
		if err != nil {
			return nil, err
		}
		if len(parts) == 0 {
			continue
		}
		contents = append(contents, genai.NewContentFromParts(parts, role))
	}
	return contents, nil
}

func convertTurnToGenAIParts(turn canonical.Turn) ([]*genai.Part, genai.Role, error) {
	role := genai.RoleUser
	if turn.Role == canonical.RoleAssistant {
		role = genai.RoleModel
	}

	var parts []*genai.Part
	for _, b := range turn.Content {
		switch block := b.(type) {
		case canonical.TextBlock:
			if block.Text != "" {
				parts = append(parts, genai.NewPartFromText(block.Text))
			}
		case canonical.InputTextBlock:
			if block.Text != "" {
				parts = append(parts, genai.NewPartFromText(block.Text))
			}
		case canonical.ToolUseBlock:
			part := genai.NewPartFromFunctionCall(block.Name, block.Input)
			part.FunctionCall.ID = block.ID
			parts = append(parts, part)
		case canonical.ToolResultBlock:
			response := toolResultToResponseMap(block.Content)
			part := genai.NewPartFromFunctionResponse(block.ToolUseID, response)
			parts = append(parts, part)
		}
	}
	return parts, role, nil
}

func toolResultToResponseMap(blocks []canonical.ContentBlock) map[string]any {
	var sb strings.Builder
	for _, b := range blocks {
		if tb, ok := b.(canonical.TextBlock); ok {
			sb.WriteString(tb.Text)
		}
	}
	return map[string]any{"output": sb.String()}
}

func buildGenAIConfig(req *canonical.Request) *genai.GenerateContentConfig {
	cfg := &genai.GenerateContentConfig{}

	if req.System != "" {
		cfg.SystemInstruction = genai.NewContentFromText(req.System, genai.RoleUser)
	}
	if req.Temperature != nil {
		temp := float32(*req.Temperature)
		cfg.Temperature = &temp
	}
	if req.MaxTokens > 0 {
		cfg.MaxOutputTokens = int32(req.MaxTokens)
	}

	if len(req.Tools) > 0 {
		cfg.Tools = convertToolsToGenAITools(req.Tools)
		cfg.ToolConfig = &genai.ToolConfig{
			FunctionCallingConfig: &genai.FunctionCallingConfig{Mode: genai.FunctionCallingConfigModeAuto},
		}
	}

	return cfg
}

func convertToolsToGenAITools(tools []canonical.Tool) []*genai.Tool {
	result := make([]*genai.Tool, 0, len(tools))
	for _, t := range tools {
		decl := &genai.FunctionDeclaration{
			Name:                 t.Name,
			Description:          t.Description,
			ParametersJsonSchema: stripUnsupportedSchemaKeys(t.InputSchema),
		}
		result = append(result, &genai.Tool{FunctionDeclarations: []*genai.FunctionDeclaration{decl}})
	}
	return result
}

// stripUnsupportedSchemaKeys removes JSON-Schema keywords Gemini's function
// declaration parser rejects (additionalProperties, $schema, $ref,
// definitions). This has to recurse into every nested object and array
// schema, not just the top level, since a rejected keyword two levels
// down fails the whole declaration the same as one at the root.
func stripUnsupportedSchemaKeys(schema map[string]any) map[string]any {
	if schema == nil {
		return nil
	}
	return stripSchemaNode(schema).(map[string]any)
}

func stripSchemaNode(node any) any {
	switch v := node.(type) {
	case map[string]any:
		out := make(map[string]any, len(v))
		for key, val := range v {
			switch key {
			case "additionalProperties", "$schema", "$ref", "definitions":
				continue
			}
			out[key] = stripSchemaNode(val)
		}
		return out
	case []any:
		out := make([]any, len(v))
		for i, val := range v {
			out[i] = stripSchemaNode(val)
		}
		return out
	default:
		return v
	}
}

func parseGenAIResponse(model string, resp *genai.GenerateContentResponse) (*canonical.Response, error) {
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return &canonical.Response{Role: canonical.RoleAssistant, Model: model, StopReason: canonical.StopEndTurn}, nil
	}

	candidate := resp.Candidates[0]
	var blocks []canonical.ContentBlock
	for _, part := range candidate.Content.Parts {
		if part == nil {
			continue
		}
		if part.Text != "" {
			blocks = append(blocks, canonical.TextBlock{Text: part.Text})
		}
		if part.FunctionCall != nil {
			blocks = append(blocks, canonical.ToolUseBlock{
				ID:    part.FunctionCall.ID,
				Name:  part.FunctionCall.Name,
				Input: part.FunctionCall.Args,
			})
		}
	}

	stopReason := canonical.StopEndTurn
	switch candidate.FinishReason {
	case genai.FinishReasonMaxTokens:
		stopReason = canonical.StopMaxTokens
	case genai.FinishReasonStop:
		stopReason = canonical.StopEndTurn
	}
	for _, b := range blocks {
		if b.Kind() == canonical.KindToolUse {
			stopReason = canonical.StopToolUse
			break
		}
	}

	usage := canonical.Usage{}
	if resp.UsageMetadata != nil {
		usage.InputTokens = int(resp.UsageMetadata.PromptTokenCount)
		usage.OutputTokens = int(resp.UsageMetadata.CandidatesTokenCount)
	}

	return &canonical.Response{
		Role:       canonical.RoleAssistant,
		Content:    blocks,
		Model:      model,
		StopReason: stopReason,
		Usage:      usage,
	}, nil
}
