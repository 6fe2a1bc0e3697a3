package dialect

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/lynkr/lynkr/internal/canonical"
	"github.com/lynkr/lynkr/internal/transport"
)

const (
	sigV4Algorithm       = "AWS4-HMAC-SHA256"
	sigV4Service         = "bedrock"
	sigV4RequestType     = "aws4_request"
	sigV4TimeFormat      = "20060102T150405Z"
	sigV4ShortTimeFormat = "20060102"
)

// awsSigner signs a Bedrock Converse request with AWS Signature V4.
// Hand-rolled against stdlib crypto/hmac+crypto/sha256 rather than the AWS
// SDK: one POST per call doesn't warrant pulling in aws-sdk-go-v2's client
// machinery.
type awsSigner struct {
	accessKeyID     string
	secretAccessKey string
	sessionToken    string
	region          string
}

func (s *awsSigner) sign(req *http.Request, payload []byte, now time.Time) {
	req.Header.Set("Host", req.URL.Host)
	req.Header.Set("X-Amz-Date", now.Format(sigV4TimeFormat))
	if s.sessionToken != "" {
		req.Header.Set("X-Amz-Security-Token", s.sessionToken)
	}

	canonicalRequest := s.canonicalRequest(req, payload)
	scope := s.credentialScope(now)
	stringToSign := s.stringToSign(now, scope, canonicalRequest)
	signature := s.signature(now, stringToSign)

	req.Header.Set("Authorization", s.authHeader(now, scope, req.Header, signature))
}

func (s *awsSigner) canonicalRequest(req *http.Request, payload []byte) string {
	uri := req.URL.Path
	if uri == "" {
		uri = "/"
	}
	headers, signedHeaders := s.canonicalHeaders(req)
	hash := sha256.Sum256(payload)
	return fmt.Sprintf("%s\n%s\n%s\n%s\n%s\n%s", req.Method, uri, "", headers, signedHeaders, hex.EncodeToString(hash[:]))
}

func (s *awsSigner) canonicalHeaders(req *http.Request) (string, string) {
	lower := make(map[string]string, len(req.Header))
	for k, v := range req.Header {
		if len(v) > 0 {
			lower[strings.ToLower(k)] = strings.TrimSpace(v[0])
		}
	}
	keys := make([]string, 0, len(lower))
	for k := range lower {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var parts []string
	for _, k := range keys {
		parts = append(parts, k+":"+lower[k])
	}
	return strings.Join(parts, "\n") + "\n", strings.Join(keys, ";")
}

func (s *awsSigner) credentialScope(t time.Time) string {
	return fmt.Sprintf("%s/%s/%s/%s", t.Format(sigV4ShortTimeFormat), s.region, sigV4Service, sigV4RequestType)
}

func (s *awsSigner) stringToSign(t time.Time, scope, canonicalRequest string) string {
	hash := sha256.Sum256([]byte(canonicalRequest))
	return fmt.Sprintf("%s\n%s\n%s\n%s", sigV4Algorithm, t.Format(sigV4TimeFormat), scope, hex.EncodeToString(hash[:]))
}

func (s *awsSigner) signature(t time.Time, stringToSign string) string {
	kDate := hmacSum([]byte("AWS4"+s.secretAccessKey), []byte(t.Format(sigV4ShortTimeFormat)))
	kRegion := hmacSum(kDate, []byte(s.region))
	kService := hmacSum(kRegion, []byte(sigV4Service))
	kSigning := hmacSum(kService, []byte(sigV4RequestType))
	return hex.EncodeToString(hmacSum(kSigning, []byte(stringToSign)))
}

func hmacSum(key, data []byte) []byte {
	h := hmac.New(sha256.New, key)
	h.Write(data)
	return h.Sum(nil)
}

func (s *awsSigner) authHeader(t time.Time, scope string, headers http.Header, signature string) string {
	keys := make([]string, 0, len(headers))
	for k := range headers {
		keys = append(keys, strings.ToLower(k))
	}
	sort.Strings(keys)
	return fmt.Sprintf("%s Credential=%s/%s, SignedHeaders=%s, Signature=%s",
		sigV4Algorithm, s.accessKeyID, scope, strings.Join(keys, ";"), signature)
}

// BedrockAdapter targets the Bedrock Converse API for Anthropic models
// hosted behind Bedrock, reusing the canonical<->Anthropic-shape
// conversion helpers since Converse's message format tracks the native
// Messages API closely.
type BedrockAdapter struct {
	Endpoint string
	ModelID  string
	Client   *http.Client
	Policy   transport.RetryPolicy
	signer   *awsSigner
	now      func() time.Time
}

func NewBedrockAdapter(region, modelID, accessKeyID, secretAccessKey, sessionToken string, client *http.Client) *BedrockAdapter {
	endpoint := fmt.Sprintf("https://bedrock-runtime.%s.amazonaws.com", region)
	return &BedrockAdapter{
		Endpoint: endpoint,
		ModelID:  modelID,
		Client:   client,
		Policy:   transport.DefaultRetryPolicy(),
		signer: &awsSigner{
			accessKeyID:     accessKeyID,
			secretAccessKey: secretAccessKey,
			sessionToken:    sessionToken,
			region:          region,
		},
		now: time.Now,
	}
}

func (a *BedrockAdapter) Name() string { return "bedrock" }

func (a *BedrockAdapter) Capabilities() Capabilities {
	return Capabilities{SupportsTools: true, SupportsStreaming: true, NativelyAnthropic: true}
}

type converseMessage struct {
	Role    string          `json:"role"`
	Content []converseBlock `json:"content"`
}

type converseBlock struct {
	Text       string          `json:"text,omitempty"`
	ToolUse    *converseToolUse    `json:"toolUse,omitempty"`
	ToolResult *converseToolResult `json:"toolResult,omitempty"`
}

type converseToolUse struct {
	ToolUseID string         `json:"toolUseId"`
	Name      string         `json:"name"`
	Input     map[string]any `json:"input"`
}

type converseToolResult struct {
	ToolUseID string          `json:"toolUseId"`
	Content   []converseBlock `json:"content"`
	Status    string          `json:"status,omitempty"`
}

type converseRequest struct {
	Messages        []converseMessage `json:"messages"`
	System          []converseBlock   `json:"system,omitempty"`
	ToolConfig      *converseToolConfig `json:"toolConfig,omitempty"`
	InferenceConfig *converseInference  `json:"inferenceConfig,omitempty"`
}

type converseToolConfig struct {
	Tools []converseTool `json:"tools"`
}

type converseTool struct {
	ToolSpec converseToolSpec `json:"toolSpec"`
}

type converseToolSpec struct {
	Name        string             `json:"name"`
	Description string             `json:"description,omitempty"`
	InputSchema converseInputSchema `json:"inputSchema"`
}

type converseInputSchema struct {
	JSON map[string]any `json:"json"`
}

type converseInference struct {
	MaxTokens   int      `json:"maxTokens,omitempty"`
	Temperature *float64 `json:"temperature,omitempty"`
	TopP        *float64 `json:"topP,omitempty"`
}

type converseResponse struct {
	Output struct {
		Message converseMessage `json:"message"`
	} `json:"output"`
	StopReason string `json:"stopReason"`
	Usage      struct {
		InputTokens  int `json:"inputTokens"`
		OutputTokens int `json:"outputTokens"`
	} `json:"usage"`
}

func (a *BedrockAdapter) Invoke(ctx context.Context, req *canonical.Request) (*canonical.Response, error) {
	wire := a.buildRequest(req)
	body, err := json.Marshal(wire)
	if err != nil {
		return nil, fmt.Errorf("dialect: encode converse request: %w", err)
	}

	url := fmt.Sprintf("%s/model/%s/converse", a.Endpoint, a.ModelID)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, nil)
	if err != nil {
		return nil, fmt.Errorf("dialect: build converse request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	a.signer.sign(httpReq, body, a.now())

	var resp converseResponse
	_, err = transport.PerformJSONRequest(ctx, a.Client, a.Policy, transport.JSONRequest{
		URL:     url,
		Headers: headerMap(httpReq.Header),
		Body:    wire,
	}, &resp)
	if err != nil {
		return nil, &TransportError{Err: err}
	}

	return a.parseResponse(req.Model, &resp)
}

func headerMap(h http.Header) map[string]string {
	out := make(map[string]string, len(h))
	for k, v := range h {
		if len(v) > 0 {
			out[k] = v[0]
		}
	}
	return out
}

func (a *BedrockAdapter) buildRequest(req *canonical.Request) *converseRequest {
	wire := &converseRequest{}
	if req.System != "" {
		wire.System = []converseBlock{{Text: req.System}}
	}

	for _, turn := range req.Messages {
		wire.Messages = append(wire.Messages, convertTurnToConverse(turn))
	}

	if req.MaxTokens > 0 || req.Temperature != nil || req.TopP != nil {
		wire.InferenceConfig = &converseInference{
			MaxTokens:   req.MaxTokens,
			Temperature: req.Temperature,
			TopP:        req.TopP,
		}
	}

	if len(req.Tools) > 0 {
		var tools []converseTool
		for _, t := range req.Tools {
			schema := t.InputSchema
			if schema == nil {
				schema = map[string]any{"type": "object"}
			}
			tools = append(tools, converseTool{ToolSpec: converseToolSpec{
				Name: t.Name, Description: t.Description, InputSchema: converseInputSchema{JSON: schema},
			}})
		}
		wire.ToolConfig = &converseToolConfig{Tools: tools}
	}

	return wire
}

func convertTurnToConverse(turn canonical.Turn) converseMessage {
	role := "user"
	if turn.Role == canonical.RoleAssistant {
		role = "assistant"
	}

	var blocks []converseBlock
	for _, b := range turn.Content {
		switch block := b.(type) {
		case canonical.TextBlock:
			if block.Text != "" {
				blocks = append(blocks, converseBlock{Text: block.Text})
			}
		case canonical.ToolUseBlock:
			blocks = append(blocks, converseBlock{ToolUse: &converseToolUse{
				ToolUseID: block.ID, Name: block.Name, Input: block.Input,
			}})
		case canonical.ToolResultBlock:
			status := "success"
			if block.IsError {
				status = "error"
			}
			blocks = append(blocks, converseBlock{ToolResult: &converseToolResult{
				ToolUseID: block.ToolUseID,
				Content:   []converseBlock{{Text: toolResultText(block.Content)}},
				Status:    status,
			}})
		}
	}
	return converseMessage{Role: role, Content: blocks}
}

func (a *BedrockAdapter) parseResponse(model string, resp *converseResponse) (*canonical.Response, error) {
	var blocks []canonical.ContentBlock
	for _, b := range resp.Output.Message.Content {
		switch {
		case b.Text != "":
			blocks = append(blocks, canonical.TextBlock{Text: b.Text})
		case b.ToolUse != nil:
			blocks = append(blocks, canonical.ToolUseBlock{ID: b.ToolUse.ToolUseID, Name: b.ToolUse.Name, Input: b.ToolUse.Input})
		}
	}

	stopReason := canonical.StopEndTurn
	switch resp.StopReason {
	case "tool_use":
		stopReason = canonical.StopToolUse
	case "max_tokens":
		stopReason = canonical.StopMaxTokens
	case "stop_sequence":
		stopReason = canonical.StopSequence
	}

	return &canonical.Response{
		Role:       canonical.RoleAssistant,
		Content:    blocks,
		Model:      model,
		StopReason: stopReason,
		Usage: canonical.Usage{
			InputTokens:  resp.Usage.InputTokens,
			OutputTokens: resp.Usage.OutputTokens,
		},
	}, nil
}
