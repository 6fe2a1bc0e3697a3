package dispatcher

import (
	"context"
	"errors"
	"io"
	"strings"

	"github.com/lynkr/lynkr/internal/canonical"
	"github.com/lynkr/lynkr/internal/logger"
	"github.com/lynkr/lynkr/internal/provider/dialect"
)

// Method identifies how a provider was selected for a request.
type Method string

const (
	MethodStatic            Method = "static"
	MethodForce             Method = "force"
	MethodToolThreshold     Method = "tool_threshold"
	MethodComplexity        Method = "complexity"
	MethodFallbackDisabled  Method = "fallback_disabled"
	MethodFallback          Method = "fallback"
)

// Decision records why a provider was chosen, exposed via response
// headers by the HTTP layer.
type Decision struct {
	Provider  string
	Method    Method
	Score     float64
	Threshold float64
	Reason    string
}

// FailureCategory classifies a provider invocation failure for fallback
// decisioning.
type FailureCategory string

const (
	FailureCircuitBreaker     FailureCategory = "circuit_breaker"
	FailureTimeout            FailureCategory = "timeout"
	FailureServiceUnavailable FailureCategory = "service_unavailable"
	FailureToolIncompatible   FailureCategory = "tool_incompatible"
	FailureRateLimited        FailureCategory = "rate_limited"
	FailureError              FailureCategory = "error"
)

// Invoker is satisfied by a provider adapter: given a canonical request,
// perform the upstream call and return the canonical response.
type Invoker interface {
	Invoke(ctx context.Context, req *canonical.Request) (*canonical.Response, error)
}

// RoutingPolicy carries the configuration determineProvider reads.
type RoutingPolicy struct {
	PreferLocal                 bool
	LocalProvider                string
	StaticProvider                string
	ForceLocalPatterns           []string
	ForceCloudPatterns           []string
	OllamaMaxToolsForRouting     int
	OpenRouterMaxToolsForRouting int
	ComplexityThreshold          float64
	LocalSupportsTools           bool

	FallbackEnabled  bool
	FallbackProvider string
}

// Dispatcher selects a provider, runs it behind a circuit breaker, and
// retries via the fallback provider on qualifying failure.
type Dispatcher struct {
	registry  *Registry
	providers map[string]Invoker
	policy    RoutingPolicy
}

// New constructs a Dispatcher over the given provider map (name → adapter
// invoker) and routing policy.
func New(registry *Registry, providers map[string]Invoker, policy RoutingPolicy) *Dispatcher {
	return &Dispatcher{registry: registry, providers: providers, policy: policy}
}

// DetermineProvider implements §4.3's routing heuristic.
func (d *Dispatcher) DetermineProvider(req *canonical.Request, fallbackDisabledByCaller bool) Decision {
	p := d.policy

	if !p.PreferLocal {
		return Decision{Provider: p.StaticProvider, Method: MethodStatic, Reason: "static routing (prefer-local disabled)"}
	}

	lastUserText := lastUserText(req)
	for _, pattern := range p.ForceLocalPatterns {
		if pattern != "" && strings.Contains(lastUserText, pattern) {
			return Decision{Provider: p.LocalProvider, Method: MethodForce, Reason: "matched force-local pattern"}
		}
	}
	for _, pattern := range p.ForceCloudPatterns {
		if pattern != "" && strings.Contains(lastUserText, pattern) {
			return Decision{Provider: p.StaticProvider, Method: MethodForce, Reason: "matched force-cloud pattern"}
		}
	}

	toolCount := len(req.Tools)
	switch {
	case toolCount > 0 && toolCount <= p.OllamaMaxToolsForRouting && p.LocalSupportsTools:
		return Decision{
			Provider: p.LocalProvider, Method: MethodToolThreshold,
			Reason: "tool count within local routing threshold",
		}
	case toolCount > p.OllamaMaxToolsForRouting:
		return Decision{
			Provider: p.StaticProvider, Method: MethodToolThreshold,
			Reason: "tool count exceeds local routing threshold",
		}
	}

	score := complexityScore(req)
	threshold := p.ComplexityThreshold
	if threshold <= 0 {
		threshold = 0.5
	}
	provider := p.StaticProvider
	if score < threshold {
		provider = p.LocalProvider
	}
	return Decision{Provider: provider, Method: MethodComplexity, Score: score, Threshold: threshold, Reason: "complexity analyser"}
}

// complexityScore is a cheap, deterministic heuristic over request shape:
// longer conversations and longer last-user-turns skew toward "complex",
// normalised into [0,1].
func complexityScore(req *canonical.Request) float64 {
	score := 0.0
	score += float64(len(req.Messages)) * 0.02
	score += float64(len(lastUserText(req))) / 2000.0
	score += float64(len(req.Tools)) * 0.05
	if score > 1 {
		score = 1
	}
	return score
}

func lastUserText(req *canonical.Request) string {
	for i := len(req.Messages) - 1; i >= 0; i-- {
		m := req.Messages[i]
		if m.Role != canonical.RoleUser {
			continue
		}
		var sb strings.Builder
		for _, b := range m.Content {
			if t, ok := b.(canonical.TextBlock); ok {
				sb.WriteString(t.Text)
			}
		}
		return sb.String()
	}
	return ""
}

// ErrNoProvider is returned when a routing decision names a provider with
// no registered adapter.
var ErrNoProvider = errors.New("dispatcher: no adapter registered for provider")

// Result is what Dispatch returns to the agent loop.
type Result struct {
	Response       *canonical.Response
	ActualProvider string
	Decision       Decision
}

// Dispatch executes req against the routed provider inside its breaker,
// falling back to the configured fallback provider when the primary is
// local, fallback is enabled, and the caller didn't disable it.
func (d *Dispatcher) Dispatch(ctx context.Context, req *canonical.Request, fallbackDisabledByCaller bool) (*Result, error) {
	decision := d.DetermineProvider(req, fallbackDisabledByCaller)

	resp, err := d.invokeBreakered(ctx, decision.Provider, req)
	if err == nil {
		return &Result{Response: resp, ActualProvider: decision.Provider, Decision: decision}, nil
	}

	category := categorize(err)
	isLocal := decision.Provider == d.policy.LocalProvider
	canFallback := isLocal && d.policy.FallbackEnabled && !fallbackDisabledByCaller && d.policy.FallbackProvider != ""

	if !canFallback {
		if fallbackDisabledByCaller && isLocal {
			decision.Method = MethodFallbackDisabled
		}
		return nil, err
	}

	logger.WithPrefix("dispatcher").Warn("primary provider %s failed (%s), falling back to %s", decision.Provider, category, d.policy.FallbackProvider)

	fbResp, fbErr := d.invokeBreakered(ctx, d.policy.FallbackProvider, req)
	if fbErr != nil {
		return nil, fbErr
	}
	fbDecision := Decision{Provider: d.policy.FallbackProvider, Method: MethodFallback, Reason: "primary failed: " + string(category)}
	return &Result{Response: fbResp, ActualProvider: d.policy.FallbackProvider, Decision: fbDecision}, nil
}

// StreamResult is what DispatchStream returns to the agent loop: the raw
// upstream body, not a decoded canonical.Response.
type StreamResult struct {
	Stream         io.ReadCloser
	ContentType    string
	ActualProvider string
	Decision       Decision
}

// DispatchStream routes req the same way Dispatch does, but for the
// streaming case: exactly one POST against the chosen upstream, no
// retry, no fallback. A provider whose adapter doesn't implement
// dialect.StreamingAdapter fails with ErrStreamingUnsupported rather
// than silently falling back to a buffered response.
func (d *Dispatcher) DispatchStream(ctx context.Context, req *canonical.Request, fallbackDisabledByCaller bool) (*StreamResult, error) {
	decision := d.DetermineProvider(req, fallbackDisabledByCaller)

	invoker, ok := d.providers[decision.Provider]
	if !ok {
		return nil, ErrNoProvider
	}
	streamer, ok := invoker.(dialect.StreamingAdapter)
	if !ok {
		return nil, dialect.ErrStreamingUnsupported
	}

	breaker := d.registry.For(decision.Provider)
	if err := breaker.Allow(); err != nil {
		return nil, err
	}

	stream, contentType, err := streamer.InvokeStream(ctx, req)
	if err != nil {
		if errors.Is(ctx.Err(), context.Canceled) {
			breaker.RecordIndeterminate()
		} else {
			breaker.RecordFailure()
		}
		return nil, err
	}
	breaker.RecordSuccess()

	return &StreamResult{Stream: stream, ContentType: contentType, ActualProvider: decision.Provider, Decision: decision}, nil
}

func (d *Dispatcher) invokeBreakered(ctx context.Context, provider string, req *canonical.Request) (*canonical.Response, error) {
	invoker, ok := d.providers[provider]
	if !ok {
		return nil, ErrNoProvider
	}

	breaker := d.registry.For(provider)
	if err := breaker.Allow(); err != nil {
		return nil, err
	}

	resp, err := invoker.Invoke(ctx, req)
	if err != nil {
		if errors.Is(ctx.Err(), context.Canceled) {
			breaker.RecordIndeterminate()
			return nil, err
		}
		breaker.RecordFailure()
		return nil, err
	}
	breaker.RecordSuccess()
	return resp, nil
}

func categorize(err error) FailureCategory {
	var circuitErr *ErrCircuitOpen
	if errors.As(err, &circuitErr) {
		return FailureCircuitBreaker
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return FailureTimeout
	}
	msg := err.Error()
	switch {
	case strings.Contains(msg, "429"):
		return FailureRateLimited
	case strings.Contains(msg, "tool"):
		return FailureToolIncompatible
	case strings.Contains(msg, "503"), strings.Contains(msg, "unavailable"):
		return FailureServiceUnavailable
	default:
		return FailureError
	}
}
