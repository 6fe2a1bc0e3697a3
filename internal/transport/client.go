// Package transport provides the single HTTP primitive every raw-HTTP
// provider adapter (OpenAI chat, Ollama, Bedrock) dispatches through, plus
// the retry/backoff policy that PerformJSONRequest applies to non-streaming
// calls. The SDK-backed adapters (Anthropic, OpenAI Responses, Gemini) use
// their SDK clients and do not go through WithRetry.
package transport

import (
	"net"
	"net/http"
	"time"
)

// NewPooledClient returns a keep-alive HTTP client sized for proxying many
// concurrent upstream calls without exhausting ephemeral ports.
func NewPooledClient(requestTimeout time.Duration) *http.Client {
	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:        200,
		MaxIdleConnsPerHost: 50,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
	}
	return &http.Client{
		Transport: transport,
		Timeout:   requestTimeout,
	}
}
