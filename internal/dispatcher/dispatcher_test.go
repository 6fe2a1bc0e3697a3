package dispatcher

import (
	"context"
	"errors"
	"testing"

	"github.com/lynkr/lynkr/internal/canonical"
	"github.com/stretchr/testify/require"
)

type stubInvoker struct {
	resp *canonical.Response
	err  error
	n    int
}

func (s *stubInvoker) Invoke(ctx context.Context, req *canonical.Request) (*canonical.Response, error) {
	s.n++
	if s.err != nil {
		return nil, s.err
	}
	return s.resp, nil
}

func simpleRequest() *canonical.Request {
	return &canonical.Request{
		Model: "m",
		Messages: []canonical.Turn{
			{Role: canonical.RoleUser, Content: []canonical.ContentBlock{canonical.TextBlock{Text: "hi"}}},
		},
	}
}

func TestDispatchStaticRoutingNoFallback(t *testing.T) {
	ok := &stubInvoker{resp: &canonical.Response{StopReason: canonical.StopEndTurn}}
	d := New(NewRegistry(BreakerConfig{}), map[string]Invoker{"anthropic": ok}, RoutingPolicy{
		PreferLocal:    false,
		StaticProvider: "anthropic",
	})

	res, err := d.Dispatch(context.Background(), simpleRequest(), false)
	require.NoError(t, err)
	require.Equal(t, "anthropic", res.ActualProvider)
	require.Equal(t, MethodStatic, res.Decision.Method)
}

func TestDispatchFallsBackWhenLocalFails(t *testing.T) {
	failing := &stubInvoker{err: errors.New("connection refused")}
	ok := &stubInvoker{resp: &canonical.Response{StopReason: canonical.StopEndTurn}}

	d := New(NewRegistry(BreakerConfig{}), map[string]Invoker{"ollama": failing, "anthropic": ok}, RoutingPolicy{
		PreferLocal:      true,
		LocalProvider:    "ollama",
		StaticProvider:   "anthropic",
		FallbackEnabled:  true,
		FallbackProvider: "anthropic",
		ComplexityThreshold: 1.1, // force local routing
	})

	res, err := d.Dispatch(context.Background(), simpleRequest(), false)
	require.NoError(t, err)
	require.Equal(t, "anthropic", res.ActualProvider)
	require.Equal(t, MethodFallback, res.Decision.Method)
	require.Equal(t, 1, failing.n)
	require.Equal(t, 1, ok.n)
}

func TestDispatchNoFallbackWhenCallerDisabled(t *testing.T) {
	failing := &stubInvoker{err: errors.New("boom")}
	ok := &stubInvoker{resp: &canonical.Response{}}

	d := New(NewRegistry(BreakerConfig{}), map[string]Invoker{"ollama": failing, "anthropic": ok}, RoutingPolicy{
		PreferLocal:         true,
		LocalProvider:       "ollama",
		StaticProvider:      "anthropic",
		FallbackEnabled:     true,
		FallbackProvider:    "anthropic",
		ComplexityThreshold: 1.1,
	})

	_, err := d.Dispatch(context.Background(), simpleRequest(), true)
	require.Error(t, err)
	require.Equal(t, 0, ok.n)
}

func TestDispatchToolCountRoutesLocalWhenSupported(t *testing.T) {
	local := &stubInvoker{resp: &canonical.Response{}}
	cloud := &stubInvoker{resp: &canonical.Response{}}

	d := New(NewRegistry(BreakerConfig{}), map[string]Invoker{"ollama": local, "anthropic": cloud}, RoutingPolicy{
		PreferLocal:              true,
		LocalProvider:            "ollama",
		StaticProvider:           "anthropic",
		OllamaMaxToolsForRouting: 3,
		LocalSupportsTools:       true,
	})

	req := simpleRequest()
	req.Tools = []canonical.Tool{{Name: "WebSearch"}}

	res, err := d.Dispatch(context.Background(), req, false)
	require.NoError(t, err)
	require.Equal(t, "ollama", res.ActualProvider)
	require.Equal(t, MethodToolThreshold, res.Decision.Method)
}

func TestDispatchCircuitOpenRejectsImmediately(t *testing.T) {
	failing := &stubInvoker{err: errors.New("boom")}
	registry := NewRegistry(BreakerConfig{FailureThreshold: 1})
	d := New(registry, map[string]Invoker{"anthropic": failing}, RoutingPolicy{
		StaticProvider: "anthropic",
	})

	_, err := d.Dispatch(context.Background(), simpleRequest(), false)
	require.Error(t, err)
	require.Equal(t, 1, failing.n)

	_, err = d.Dispatch(context.Background(), simpleRequest(), false)
	require.Error(t, err)
	var openErr *ErrCircuitOpen
	require.ErrorAs(t, err, &openErr)
	require.Equal(t, 1, failing.n, "breaker should reject without invoking the adapter again")
}
