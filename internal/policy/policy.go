// Package policy gates tool calls before they reach the tool runner: a
// deny-list check and a per-tool-per-session rate limit, never a model
// call. A denial never aborts the agent loop — the caller synthesises an
// is_error tool_result from the returned Decision so the model can recover.
package policy

import (
	"strings"
	"sync"
	"time"
)

// Decision is the result of evaluating one tool call.
type Decision struct {
	Allowed bool
	Code    string // "denied_by_policy", "rate_limited", ""
	Reason  string
	Status  string // echoed back in the synthesised tool_result, e.g. "denied"
}

func allow() Decision { return Decision{Allowed: true} }

// Call is the minimal shape Evaluate needs from a pending tool invocation.
type Call struct {
	SessionID         string
	ToolName          string
	ToolCallsExecuted int
}

// Config configures the gate. A nil/zero-value Config allows everything,
// matching the teacher's safety.Evaluator "no model configured — allow by
// default" behavior.
type Config struct {
	// DeniedTools is matched case-insensitively against Call.ToolName.
	DeniedTools []string
	// RateLimits maps a tool name to its per-session token-bucket rate.
	RateLimits map[string]RateLimit
	// MaxToolCallsPerSession is compared against the caller-supplied
	// Call.ToolCallsExecuted regardless of per-tool limits; the Gate keeps
	// no count of its own. 0 disables the cap.
	MaxToolCallsPerSession int
}

// RateLimit describes a token bucket: Burst tokens refilled at Rate per
// Period.
type RateLimit struct {
	Burst  int
	Rate   int
	Period time.Duration
}

// Gate evaluates tool calls against Config. Safe for concurrent use.
type Gate struct {
	cfg     Config
	denied  map[string]bool
	mu      sync.Mutex
	buckets map[string]*bucket
}

// New builds a Gate. An empty Config allows every call — this is the
// gate's safe default, matching safety.Evaluator's unconfigured behavior.
func New(cfg Config) *Gate {
	denied := make(map[string]bool, len(cfg.DeniedTools))
	for _, name := range cfg.DeniedTools {
		denied[strings.ToLower(name)] = true
	}
	return &Gate{cfg: cfg, denied: denied, buckets: make(map[string]*bucket)}
}

// Evaluate checks call against the deny-list, the tool-call cap, and the
// per-tool-per-session rate limit, in that order.
func (g *Gate) Evaluate(call Call) Decision {
	if g == nil {
		return allow()
	}

	name := strings.ToLower(call.ToolName)
	if g.denied[name] {
		return Decision{
			Allowed: false,
			Code:    "denied_by_policy",
			Reason:  "tool \"" + call.ToolName + "\" is disabled by policy",
			Status:  "denied",
		}
	}

	if g.cfg.MaxToolCallsPerSession > 0 && call.ToolCallsExecuted >= g.cfg.MaxToolCallsPerSession {
		return Decision{
			Allowed: false,
			Code:    "rate_limited",
			Reason:  "session tool-call budget exhausted",
			Status:  "rate_limited",
		}
	}

	limit, ok := g.cfg.RateLimits[name]
	if !ok {
		return allow()
	}

	if !g.take(call.SessionID, name, limit) {
		return Decision{
			Allowed: false,
			Code:    "rate_limited",
			Reason:  "tool \"" + call.ToolName + "\" rate limit exceeded for this session",
			Status:  "rate_limited",
		}
	}
	return allow()
}

type bucket struct {
	tokens     float64
	lastRefill time.Time
}

func (g *Gate) take(sessionID, toolName string, limit RateLimit) bool {
	key := sessionID + "|" + toolName

	g.mu.Lock()
	defer g.mu.Unlock()

	b, ok := g.buckets[key]
	now := time.Now()
	if !ok {
		b = &bucket{tokens: float64(limit.Burst), lastRefill: now}
		g.buckets[key] = b
	} else if limit.Period > 0 {
		elapsed := now.Sub(b.lastRefill)
		refill := elapsed.Seconds() / limit.Period.Seconds() * float64(limit.Rate)
		b.tokens = minFloat(float64(limit.Burst), b.tokens+refill)
		b.lastRefill = now
	}

	if b.tokens < 1 {
		return false
	}
	b.tokens--
	return true
}

func minFloat(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}
