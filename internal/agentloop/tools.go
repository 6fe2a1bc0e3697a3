package agentloop

import (
	"context"
	"strings"
	"sync"

	"github.com/lynkr/lynkr/internal/canonical"
	"github.com/lynkr/lynkr/internal/policy"
)

func isServerSideTool(name string) bool {
	return serverSideTools[strings.ToLower(name)]
}

// hasNonServerTool reports whether any call in toolUses is not one of the
// three always-local server-side tools.
func hasNonServerTool(toolUses []canonical.ToolUseBlock) bool {
	for _, tu := range toolUses {
		if !isServerSideTool(tu.Name) {
			return true
		}
	}
	return false
}

// terminationSignal is returned by planCalls when a guard trips
// mid-turn; the loop stops immediately rather than dispatching again.
type terminationSignal struct {
	reason     TerminationReason
	statusCode int
}

// callPlan is the policy/dedup verdict for one tool call, decided
// up front (cheaply, no I/O) so the concurrency split below only needs
// to decide *whether* to execute, never whether it's allowed to.
type callPlan struct {
	call    canonical.ToolUseBlock
	index   int
	blocked bool
	result  canonical.ToolResultBlock
}

// planCalls evaluates policy and loop-detection for every call in order,
// since dedup counting must be deterministic regardless of later
// concurrent execution. Returns the plans and, if a call tripped the
// terminate threshold, a non-nil terminationSignal (plans for the calls
// before the tripping call are still valid and should be recorded; the
// tripping call itself gets no plan).
func planCalls(toolUses []canonical.ToolUseBlock, gate *policy.Gate, tracker *signatureTracker, sessionID string, toolCallsExecuted int, warnThreshold, terminateThreshold int) ([]callPlan, []canonical.Turn, *terminationSignal) {
	plans := make([]callPlan, 0, len(toolUses))
	var warnings []canonical.Turn

	for i, call := range toolUses {
		decision := gate.Evaluate(policy.Call{SessionID: sessionID, ToolName: call.Name, ToolCallsExecuted: toolCallsExecuted + i})

		_, count := tracker.observe(call)
		if count > terminateThreshold {
			return plans, warnings, &terminationSignal{reason: ReasonToolCallLoop, statusCode: 500}
		}
		if count == warnThreshold {
			warnings = append(warnings, canonical.Turn{
				Role: canonical.RoleUser,
				Content: []canonical.ContentBlock{canonical.TextBlock{
					Text: "Warning: tool call \"" + call.Name + "\" has been repeated with identical arguments. Consider a different approach.",
				}},
			})
		}

		if !decision.Allowed {
			plans = append(plans, callPlan{
				call: call, index: i, blocked: true,
				result: canonical.NewTextResult(call.ID, decision.Reason, true),
			})
			continue
		}
		plans = append(plans, callPlan{call: call, index: i})
	}
	return plans, warnings, nil
}

// runLocalTools executes every non-blocked plan, honouring the narrowed
// parallelism rule: when two or more "task" tool calls appear in the
// same turn they run concurrently (the teacher's own
// sync.WaitGroup-plus-indexed-results-slice shape from processToolCalls);
// every other call — and a lone task call — runs sequentially in order.
func runLocalTools(ctx context.Context, plans []callPlan, executor ToolExecutor, execCtx ExecutionContext) []canonical.ToolResultBlock {
	results := make([]canonical.ToolResultBlock, len(plans))
	for i, p := range plans {
		if p.blocked {
			results[i] = p.result
		}
	}

	var taskIdx []int
	for i, p := range plans {
		if !p.blocked && strings.EqualFold(p.call.Name, "task") {
			taskIdx = append(taskIdx, i)
		}
	}

	runOne := func(i int) {
		call := plans[i].call
		outcome, err := executor.Execute(ctx, call, execCtx)
		if err != nil {
			results[i] = canonical.NewTextResult(call.ID, err.Error(), true)
			return
		}
		results[i] = canonical.NewTextResult(outcome.ID, outcome.Content, !outcome.OK)
	}

	if len(taskIdx) >= 2 {
		var wg sync.WaitGroup
		for _, i := range taskIdx {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				runOne(i)
			}(i)
		}
		for i, p := range plans {
			if p.blocked || strings.EqualFold(p.call.Name, "task") {
				continue
			}
			runOne(i)
		}
		wg.Wait()
		return results
	}

	for i, p := range plans {
		if p.blocked {
			continue
		}
		runOne(i)
	}
	return results
}
