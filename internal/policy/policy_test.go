package policy

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestGateAllowsByDefaultWhenUnconfigured(t *testing.T) {
	g := New(Config{})
	d := g.Evaluate(Call{SessionID: "s1", ToolName: "shell"})
	require.True(t, d.Allowed)
}

func TestGateDeniesListedTool(t *testing.T) {
	g := New(Config{DeniedTools: []string{"shell"}})
	d := g.Evaluate(Call{SessionID: "s1", ToolName: "Shell"})
	require.False(t, d.Allowed)
	require.Equal(t, "denied_by_policy", d.Code)
}

func TestGateEnforcesSessionToolCallCap(t *testing.T) {
	g := New(Config{MaxToolCallsPerSession: 2})
	require.True(t, g.Evaluate(Call{SessionID: "s1", ToolName: "read_file", ToolCallsExecuted: 1}).Allowed)
	d := g.Evaluate(Call{SessionID: "s1", ToolName: "read_file", ToolCallsExecuted: 2})
	require.False(t, d.Allowed)
	require.Equal(t, "rate_limited", d.Code)
}

func TestGateRateLimitsPerToolPerSession(t *testing.T) {
	g := New(Config{RateLimits: map[string]RateLimit{
		"web_search": {Burst: 1, Rate: 1, Period: time.Hour},
	}})

	require.True(t, g.Evaluate(Call{SessionID: "s1", ToolName: "web_search"}).Allowed)
	d := g.Evaluate(Call{SessionID: "s1", ToolName: "web_search"})
	require.False(t, d.Allowed)
	require.Equal(t, "rate_limited", d.Code)

	// A different session has its own bucket.
	require.True(t, g.Evaluate(Call{SessionID: "s2", ToolName: "web_search"}).Allowed)
}

func TestGateEvaluateOnNilGateAllows(t *testing.T) {
	var g *Gate
	d := g.Evaluate(Call{SessionID: "s1", ToolName: "shell"})
	require.True(t, d.Allowed)
}
