package agentloop

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/lynkr/lynkr/internal/canonical"
	"github.com/lynkr/lynkr/internal/dispatcher"
	"github.com/lynkr/lynkr/internal/promptcache"
	"github.com/lynkr/lynkr/internal/provider/dialect"
)

// Run drives req through the iterative model-tool cycle described in
// §4.5, dispatching through disp, executing local tool calls through
// opts.Executor, and stopping at whichever guard or completion condition
// fires first.
func Run(ctx context.Context, req *canonical.Request, disp Dispatcher, opts Options) Outcome {
	start := time.Now()
	messages := append([]canonical.Turn(nil), req.Messages...)
	tracker := newSignatureTracker()
	toolCallsExecuted := 0

	execCtx := ExecutionContext{SessionID: opts.SessionID, WorkingDir: opts.WorkingDir}

	for step := 0; step < opts.maxSteps(); step++ {
		if opts.ShuttingDown != nil && opts.ShuttingDown() {
			return Outcome{StatusCode: 503, TerminationReason: ReasonShutdown, Steps: step, Messages: messages}
		}
		if time.Since(start) > opts.maxDuration() {
			return Outcome{StatusCode: 504, TerminationReason: ReasonMaxSteps, Steps: step, ToolCallsExecuted: toolCallsExecuted, Messages: messages}
		}

		if step == 0 {
			if resp, triggered := checkToolLoopGuard(messages, opts.guardThreshold()); triggered {
				return Outcome{Response: resp, StatusCode: 200, TerminationReason: ReasonToolLoopGuard, Steps: step, Messages: messages}
			}
		}

		workReq := req.Clone()
		workReq.Messages = messages
		if opts.Sanitise != nil {
			workReq = opts.Sanitise(workReq)
		}

		if workReq.Stream {
			streamResult, err := disp.DispatchStream(ctx, workReq, opts.FallbackDisabled)
			if err != nil {
				statusCode, reason := categorizeDispatchError(err)
				messages = append(messages, canonical.Turn{
					Role:    canonical.RoleAssistant,
					Content: []canonical.ContentBlock{canonical.TextBlock{Text: "upstream error: " + err.Error()}},
				})
				return Outcome{StatusCode: statusCode, TerminationReason: reason, Steps: step + 1, ToolCallsExecuted: toolCallsExecuted, Messages: messages}
			}
			return Outcome{
				StatusCode: 200, TerminationReason: ReasonStreaming,
				ActualProvider: streamResult.ActualProvider, Decision: streamResult.Decision,
				StreamBody: streamResult.Stream, StreamContentType: streamResult.ContentType,
				Steps: step + 1, ToolCallsExecuted: toolCallsExecuted, Messages: messages,
			}
		}

		var cacheKey string
		if opts.Cache != nil {
			if key, err := promptcache.ExactKey(workReq); err == nil {
				cacheKey = key
				if cached, ok := opts.Cache.Get(key); ok {
					return Outcome{Response: cached, StatusCode: 200, TerminationReason: ReasonCompletion, Steps: step + 1, ToolCallsExecuted: toolCallsExecuted, Messages: messages}
				}
			}
		}

		result, err := disp.Dispatch(ctx, workReq, opts.FallbackDisabled)
		if err != nil {
			statusCode, reason := categorizeDispatchError(err)
			messages = append(messages, canonical.Turn{
				Role:    canonical.RoleAssistant,
				Content: []canonical.ContentBlock{canonical.TextBlock{Text: "upstream error: " + err.Error()}},
			})
			return Outcome{StatusCode: statusCode, TerminationReason: reason, Steps: step + 1, ToolCallsExecuted: toolCallsExecuted, Messages: messages}
		}
		resp := result.Response

		toolUses := resp.ToolUses()
		if len(toolUses) == 0 {
			messages = append(messages, canonical.Turn{Role: canonical.RoleAssistant, Content: resp.Content})
			if opts.Cache != nil && cacheKey != "" && resp.StopReason != canonical.StopToolUse {
				opts.Cache.Put(cacheKey, resp)
			}
			return Outcome{
				Response: resp, StatusCode: 200, TerminationReason: ReasonCompletion,
				ActualProvider: result.ActualProvider, Decision: result.Decision,
				Steps: step + 1, ToolCallsExecuted: toolCallsExecuted, Messages: messages,
			}
		}

		messages = append(messages, canonical.Turn{Role: canonical.RoleAssistant, Content: resp.Content})

		mode := opts.ToolExecutionMode
		if mode != ModeLocal && hasNonServerTool(toolUses) {
			return Outcome{
				Response: resp, StatusCode: 200, TerminationReason: ReasonToolUse,
				ActualProvider: result.ActualProvider, Decision: result.Decision,
				Steps: step + 1, ToolCallsExecuted: toolCallsExecuted, Messages: messages,
			}
		}

		plans, warnings, term := planCalls(toolUses, opts.Policy, tracker, opts.SessionID, toolCallsExecuted, opts.warnThreshold(), opts.terminateThreshold())
		execCtx.RequestMessages = messages
		toolResults := runLocalTools(ctx, plans, opts.Executor, execCtx)

		resultBlocks := make([]canonical.ContentBlock, len(toolResults))
		for i, tr := range toolResults {
			resultBlocks[i] = tr
		}
		messages = append(messages, canonical.Turn{Role: canonical.RoleUser, Content: resultBlocks})
		messages = append(messages, warnings...)

		toolCallsExecuted += len(plans)
		if term != nil {
			return Outcome{StatusCode: term.statusCode, TerminationReason: term.reason, Steps: step + 1, ToolCallsExecuted: toolCallsExecuted, Messages: messages}
		}
		if toolCallsExecuted > opts.maxToolCalls() {
			return Outcome{StatusCode: 500, TerminationReason: ReasonMaxToolCallsExceeded, Steps: step + 1, ToolCallsExecuted: toolCallsExecuted, Messages: messages}
		}
	}

	return Outcome{StatusCode: 504, TerminationReason: ReasonMaxSteps, Steps: opts.maxSteps(), ToolCallsExecuted: toolCallsExecuted, Messages: messages}
}

// categorizeDispatchError maps a dispatch failure onto a status code and
// termination reason. The dialect adapters surface upstream failures as
// plain errors rather than typed HTTP statuses, so this is a heuristic
// string/type match, mirroring the dispatcher's own categorize().
func categorizeDispatchError(err error) (int, TerminationReason) {
	var circuitErr *dispatcher.ErrCircuitOpen
	if errors.As(err, &circuitErr) {
		return 503, ReasonAPIError
	}
	if errors.Is(err, dialect.ErrStreamingUnsupported) {
		return 501, ReasonAPIError
	}
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "json"), strings.Contains(msg, "decode"), strings.Contains(msg, "unmarshal"):
		return 502, ReasonNonJSONResponse
	case strings.Contains(msg, "malformed"):
		return 502, ReasonMalformedResponse
	default:
		return 502, ReasonAPIError
	}
}
