package agentloop

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/lynkr/lynkr/internal/canonical"
	"github.com/lynkr/lynkr/internal/dispatcher"
	"github.com/lynkr/lynkr/internal/policy"
	"github.com/lynkr/lynkr/internal/provider/dialect"
)

type stubDispatcher struct {
	responses []*canonical.Response
	errs      []error
	calls     int

	streamResult *dispatcher.StreamResult
	streamErr    error
}

func (s *stubDispatcher) Dispatch(ctx context.Context, req *canonical.Request, fallbackDisabled bool) (*dispatcher.Result, error) {
	i := s.calls
	s.calls++
	if i < len(s.errs) && s.errs[i] != nil {
		return nil, s.errs[i]
	}
	if i >= len(s.responses) {
		i = len(s.responses) - 1
	}
	return &dispatcher.Result{Response: s.responses[i], ActualProvider: "stub"}, nil
}

func (s *stubDispatcher) DispatchStream(ctx context.Context, req *canonical.Request, fallbackDisabled bool) (*dispatcher.StreamResult, error) {
	if s.streamErr != nil {
		return nil, s.streamErr
	}
	return s.streamResult, nil
}

type stubExecutor struct {
	outcome ToolOutcome
	err     error
}

func (s *stubExecutor) Execute(ctx context.Context, call canonical.ToolUseBlock, execCtx ExecutionContext) (ToolOutcome, error) {
	if s.err != nil {
		return ToolOutcome{}, s.err
	}
	return s.outcome, nil
}

func textRequest(text string) *canonical.Request {
	return &canonical.Request{
		Model: "m",
		Messages: []canonical.Turn{
			{Role: canonical.RoleUser, Content: []canonical.ContentBlock{canonical.TextBlock{Text: text}}},
		},
	}
}

func TestRunCompletesWithoutToolUse(t *testing.T) {
	disp := &stubDispatcher{responses: []*canonical.Response{
		{Role: canonical.RoleAssistant, Content: []canonical.ContentBlock{canonical.TextBlock{Text: "hi"}}, StopReason: canonical.StopEndTurn},
	}}
	out := Run(context.Background(), textRequest("hello"), disp, Options{})
	require.Equal(t, ReasonCompletion, out.TerminationReason)
	require.Equal(t, 200, out.StatusCode)
	require.Equal(t, "hi", out.Response.Text())
}

func TestRunExecutesToolAndLoops(t *testing.T) {
	toolUse := &canonical.Response{
		Role: canonical.RoleAssistant,
		Content: []canonical.ContentBlock{canonical.ToolUseBlock{ID: "1", Name: "search", Input: map[string]any{"q": "x"}}},
		StopReason: canonical.StopToolUse,
	}
	done := &canonical.Response{Role: canonical.RoleAssistant, Content: []canonical.ContentBlock{canonical.TextBlock{Text: "done"}}, StopReason: canonical.StopEndTurn}
	disp := &stubDispatcher{responses: []*canonical.Response{toolUse, done}}
	exec := &stubExecutor{outcome: ToolOutcome{ID: "1", Name: "search", OK: true, Content: "result"}}

	out := Run(context.Background(), textRequest("hello"), disp, Options{Executor: exec})
	require.Equal(t, ReasonCompletion, out.TerminationReason)
	require.Equal(t, 1, out.ToolCallsExecuted)
	require.Equal(t, "done", out.Response.Text())
}

func TestRunDeniesToolViaPolicy(t *testing.T) {
	toolUse := &canonical.Response{
		Role: canonical.RoleAssistant,
		Content: []canonical.ContentBlock{canonical.ToolUseBlock{ID: "1", Name: "shell", Input: map[string]any{}}},
		StopReason: canonical.StopToolUse,
	}
	done := &canonical.Response{Role: canonical.RoleAssistant, Content: []canonical.ContentBlock{canonical.TextBlock{Text: "done"}}, StopReason: canonical.StopEndTurn}
	disp := &stubDispatcher{responses: []*canonical.Response{toolUse, done}}
	exec := &stubExecutor{outcome: ToolOutcome{ID: "1", OK: true, Content: "should not run"}}
	gate := policy.New(policy.Config{DeniedTools: []string{"shell"}})

	out := Run(context.Background(), textRequest("hello"), disp, Options{Executor: exec, Policy: gate})
	require.Equal(t, ReasonCompletion, out.TerminationReason)
	require.Equal(t, 1, out.ToolCallsExecuted)
}

func TestRunTerminatesOnToolCallLoop(t *testing.T) {
	loopCall := func() *canonical.Response {
		return &canonical.Response{
			Role:       canonical.RoleAssistant,
			Content:    []canonical.ContentBlock{canonical.ToolUseBlock{ID: "1", Name: "search", Input: map[string]any{"q": "x"}}},
			StopReason: canonical.StopToolUse,
		}
	}
	disp := &stubDispatcher{responses: []*canonical.Response{loopCall(), loopCall(), loopCall(), loopCall(), loopCall()}}
	exec := &stubExecutor{outcome: ToolOutcome{ID: "1", OK: true, Content: "result"}}

	out := Run(context.Background(), textRequest("hello"), disp, Options{Executor: exec, MaxSteps: 10})
	require.Equal(t, ReasonToolCallLoop, out.TerminationReason)
	require.Equal(t, 500, out.StatusCode)
}

func TestRunTerminatesOnMaxSteps(t *testing.T) {
	toolUse := func() *canonical.Response {
		return &canonical.Response{
			Role:       canonical.RoleAssistant,
			Content:    []canonical.ContentBlock{canonical.ToolUseBlock{ID: "1", Name: "search", Input: map[string]any{"q": "distinct"}}},
			StopReason: canonical.StopToolUse,
		}
	}
	responses := make([]*canonical.Response, 0)
	for i := 0; i < 10; i++ {
		responses = append(responses, toolUse())
	}
	disp := &stubDispatcher{responses: responses}
	exec := &stubExecutor{outcome: ToolOutcome{ID: "1", OK: true, Content: "result"}}

	out := Run(context.Background(), textRequest("hello"), disp, Options{Executor: exec, MaxSteps: 2, ToolLoopTerminateThreshold: 100, ToolLoopWarnThreshold: 100})
	require.Equal(t, ReasonMaxSteps, out.TerminationReason)
	require.Equal(t, 504, out.StatusCode)
}

func TestRunReturnsErrorOnDispatchFailure(t *testing.T) {
	disp := &stubDispatcher{errs: []error{errors.New("boom")}}
	out := Run(context.Background(), textRequest("hello"), disp, Options{})
	require.Equal(t, ReasonAPIError, out.TerminationReason)
	require.Equal(t, 502, out.StatusCode)
}

func TestRunHonoursToolLoopGuardBeforeDispatch(t *testing.T) {
	messages := []canonical.Turn{
		{Role: canonical.RoleUser, Content: []canonical.ContentBlock{canonical.TextBlock{Text: "go"}}},
		{Role: canonical.RoleAssistant, Content: []canonical.ContentBlock{canonical.ToolUseBlock{ID: "1", Name: "x"}}},
		{Role: canonical.RoleUser, Content: []canonical.ContentBlock{canonical.NewTextResult("1", "r1", false)}},
		{Role: canonical.RoleAssistant, Content: []canonical.ContentBlock{canonical.ToolUseBlock{ID: "2", Name: "x"}}},
		{Role: canonical.RoleUser, Content: []canonical.ContentBlock{canonical.NewTextResult("2", "r2", false)}},
		{Role: canonical.RoleAssistant, Content: []canonical.ContentBlock{canonical.ToolUseBlock{ID: "3", Name: "x"}}},
		{Role: canonical.RoleUser, Content: []canonical.ContentBlock{canonical.NewTextResult("3", "r3", false)}},
	}
	req := &canonical.Request{Model: "m", Messages: messages}
	disp := &stubDispatcher{}

	out := Run(context.Background(), req, disp, Options{})
	require.Equal(t, ReasonToolLoopGuard, out.TerminationReason)
	require.Equal(t, 0, disp.calls)
}

func TestRunPassesThroughNonServerToolInClientMode(t *testing.T) {
	toolUse := &canonical.Response{
		Role: canonical.RoleAssistant,
		Content: []canonical.ContentBlock{canonical.ToolUseBlock{ID: "1", Name: "custom_tool", Input: map[string]any{}}},
		StopReason: canonical.StopToolUse,
	}
	disp := &stubDispatcher{responses: []*canonical.Response{toolUse}}

	out := Run(context.Background(), textRequest("hello"), disp, Options{ToolExecutionMode: ModeClient})
	require.Equal(t, ReasonToolUse, out.TerminationReason)
	require.Equal(t, 1, disp.calls)
}

func TestRunReturnsStreamBodyWhenClientRequestsStreaming(t *testing.T) {
	body := io.NopCloser(strings.NewReader("event: message_start\ndata: {}\n\n"))
	disp := &stubDispatcher{streamResult: &dispatcher.StreamResult{
		Stream: body, ContentType: "text/event-stream", ActualProvider: "anthropic",
	}}

	req := textRequest("hello")
	req.Stream = true

	out := Run(context.Background(), req, disp, Options{})
	require.Equal(t, ReasonStreaming, out.TerminationReason)
	require.Equal(t, 200, out.StatusCode)
	require.NotNil(t, out.StreamBody)
	require.Equal(t, "text/event-stream", out.StreamContentType)

	read, err := io.ReadAll(out.StreamBody)
	require.NoError(t, err)
	require.Equal(t, "event: message_start\ndata: {}\n\n", string(read))
}

func TestRunReturns501WhenProviderDoesNotSupportStreaming(t *testing.T) {
	disp := &stubDispatcher{streamErr: dialect.ErrStreamingUnsupported}

	req := textRequest("hello")
	req.Stream = true

	out := Run(context.Background(), req, disp, Options{})
	require.Equal(t, ReasonAPIError, out.TerminationReason)
	require.Equal(t, 501, out.StatusCode)
}
