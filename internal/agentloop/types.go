// Package agentloop drives the iterative model-tool cycle: dispatch a
// request, inspect the response for tool_use blocks, execute the ones
// that belong to this process, feed results back, and repeat until the
// model stops asking for tools or a safety guard trips.
package agentloop

import (
	"context"
	"io"
	"time"

	"github.com/lynkr/lynkr/internal/canonical"
	"github.com/lynkr/lynkr/internal/consts"
	"github.com/lynkr/lynkr/internal/dispatcher"
	"github.com/lynkr/lynkr/internal/policy"
)

// TerminationReason is exposed to the caller alongside the final status
// code so operators can distinguish a clean completion from every guard
// and failure path.
type TerminationReason string

const (
	ReasonCompletion           TerminationReason = "completion"
	ReasonToolUse              TerminationReason = "tool_use"
	ReasonStreaming            TerminationReason = "streaming"
	ReasonNonJSONResponse      TerminationReason = "non_json_response"
	ReasonAPIError             TerminationReason = "api_error"
	ReasonMalformedResponse    TerminationReason = "malformed_response"
	ReasonToolCallLoop         TerminationReason = "tool_call_loop"
	ReasonToolLoopGuard        TerminationReason = "tool_loop_guard"
	ReasonMaxToolCallsExceeded TerminationReason = "max_tool_calls_exceeded"
	ReasonMaxSteps             TerminationReason = "max_steps"
	ReasonShutdown             TerminationReason = "shutdown"
)

// ToolExecutionMode controls whether non-server-side tools execute here
// or are returned to the caller for client-side execution.
type ToolExecutionMode string

const (
	ModeLocal       ToolExecutionMode = "local"
	ModePassthrough ToolExecutionMode = "passthrough"
	ModeClient      ToolExecutionMode = "client"
)

// serverSideTools always execute locally regardless of ToolExecutionMode;
// §4.7 carves these three out of the passthrough split.
var serverSideTools = map[string]bool{
	"task":        true,
	"web_search":  true,
	"web_fetch":   true,
}

// ToolOutcome is what a ToolExecutor reports back for one tool_use block.
type ToolOutcome struct {
	ID       string
	Name     string
	OK       bool
	Status   string
	Content  string
	Metadata map[string]any
}

// ExecutionContext carries the ambient state a tool executor needs beyond
// the call arguments themselves.
type ExecutionContext struct {
	SessionID       string
	WorkingDir      string
	RequestMessages []canonical.Turn
}

// ToolExecutor runs one tool call and returns its outcome. Implementations
// live outside this package (file, shell, search, subagent tools); the
// loop only knows how to invoke the interface.
type ToolExecutor interface {
	Execute(ctx context.Context, call canonical.ToolUseBlock, execCtx ExecutionContext) (ToolOutcome, error)
}

// Dispatcher is the subset of *dispatcher.Dispatcher the loop needs,
// narrowed to an interface so tests can substitute a stub.
type Dispatcher interface {
	Dispatch(ctx context.Context, req *canonical.Request, fallbackDisabledByCaller bool) (*dispatcher.Result, error)
	DispatchStream(ctx context.Context, req *canonical.Request, fallbackDisabledByCaller bool) (*dispatcher.StreamResult, error)
}

// Options configures one Run. Zero values fall back to the spec defaults
// from internal/consts.
type Options struct {
	MaxSteps                   int
	MaxDuration                time.Duration
	MaxToolCallsPerRequest     int
	ToolLoopWarnThreshold      int
	ToolLoopTerminateThreshold int
	ToolResultGuardThreshold   int

	ToolExecutionMode   ToolExecutionMode
	FallbackDisabled    bool
	SessionID           string
	WorkingDir          string

	Sanitise func(*canonical.Request) *canonical.Request
	Policy   *policy.Gate
	Cache    ExactCacher
	Executor ToolExecutor

	// ShuttingDown reports whether the process is draining; when true the
	// loop aborts on the next iteration boundary rather than starting a
	// new one.
	ShuttingDown func() bool
}

// ExactCacher is the subset of *promptcache.ExactCache the loop needs,
// narrowed to an interface to avoid a hard dependency on the cache's
// storage details.
type ExactCacher interface {
	Get(key string) (*canonical.Response, bool)
	Put(key string, resp *canonical.Response)
}

func (o Options) maxSteps() int {
	if o.MaxSteps > 0 {
		return o.MaxSteps
	}
	return consts.DefaultMaxSteps
}

func (o Options) maxDuration() time.Duration {
	if o.MaxDuration > 0 {
		return o.MaxDuration
	}
	return time.Duration(consts.DefaultMaxDurationMs) * time.Millisecond
}

func (o Options) maxToolCalls() int {
	if o.MaxToolCallsPerRequest > 0 {
		return o.MaxToolCallsPerRequest
	}
	return consts.DefaultMaxToolCallsPerRequest
}

func (o Options) warnThreshold() int {
	if o.ToolLoopWarnThreshold > 0 {
		return o.ToolLoopWarnThreshold
	}
	return consts.ToolLoopWarnThreshold
}

func (o Options) terminateThreshold() int {
	if o.ToolLoopTerminateThreshold > 0 {
		return o.ToolLoopTerminateThreshold
	}
	return consts.ToolLoopTerminateThreshold
}

func (o Options) guardThreshold() int {
	if o.ToolResultGuardThreshold > 0 {
		return o.ToolResultGuardThreshold
	}
	return consts.DefaultToolResultGuardThreshold
}

// Outcome is what Run returns: either a completed canonical response or a
// terminated-early status the HTTP layer maps onto a status code.
type Outcome struct {
	Response          *canonical.Response
	StatusCode        int
	TerminationReason TerminationReason
	ActualProvider    string
	Decision          dispatcher.Decision
	Steps             int
	ToolCallsExecuted int
	Messages          []canonical.Turn

	// StreamBody and StreamContentType are set instead of Response when
	// TerminationReason is ReasonStreaming and the routed provider
	// supports streaming passthrough. The caller owns closing StreamBody.
	StreamBody        io.ReadCloser
	StreamContentType string
}
