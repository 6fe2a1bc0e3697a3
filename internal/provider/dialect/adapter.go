// Package dialect implements one provider adapter per upstream wire
// format: translating the canonical request/response schema to and from
// Anthropic, OpenAI (chat + responses), Ollama, Google Gemini, and AWS
// Bedrock Converse.
package dialect

import (
	"context"
	"errors"
	"io"
	"strconv"

	"github.com/lynkr/lynkr/internal/canonical"
)

// Capabilities describes what an adapter's upstream supports, as reported
// by Adapter.Capabilities. Neither the sanitiser nor the dispatcher reads
// it; tool-support routing uses the dispatcher's RoutingPolicy instead.
type Capabilities struct {
	SupportsTools     bool
	SupportsStreaming bool
	NativelyAnthropic bool
}

// Adapter translates between the canonical schema and one upstream's wire
// format. An adapter never retains per-request state; Invoke receives a
// fresh caller-owned context per call.
type Adapter interface {
	Name() string
	Capabilities() Capabilities
	Invoke(ctx context.Context, req *canonical.Request) (*canonical.Response, error)
}

// StreamingAdapter is implemented by adapters that can proxy the
// upstream's response stream directly: one POST, no retry, no buffering.
// Not every adapter implements it — some only expose a typed client with
// no raw body to forward, or speak a streaming wire format this module
// doesn't decode (see DESIGN.md). The dispatcher's DispatchStream returns
// ErrStreamingUnsupported for those.
type StreamingAdapter interface {
	InvokeStream(ctx context.Context, req *canonical.Request) (stream io.ReadCloser, contentType string, err error)
}

// Sentinel errors from §4.1's error taxonomy.
var (
	ErrProviderUnavailable   = errors.New("dialect: provider unavailable")
	ErrSchemaError           = errors.New("dialect: unrecognised upstream response shape")
	ErrStreamingUnsupported  = errors.New("dialect: provider does not support streaming passthrough")
)

// HTTPError wraps a non-2xx upstream response.
type HTTPError struct {
	Status int
	Body   string
}

func (e *HTTPError) Error() string {
	return "dialect: http " + strconv.Itoa(e.Status) + ": " + e.Body
}

// TransportError wraps a socket/DNS-level failure.
type TransportError struct {
	Err error
}

func (e *TransportError) Error() string { return "dialect: transport error: " + e.Err.Error() }
func (e *TransportError) Unwrap() error { return e.Err }
