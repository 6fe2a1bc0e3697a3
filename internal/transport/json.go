package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/lynkr/lynkr/internal/logger"
)

// JSONRequest is the input to PerformJSONRequest.
type JSONRequest struct {
	Method  string
	URL     string
	Headers map[string]string
	Body    any
	// Stream, when true, performs exactly one POST and returns the raw
	// response body for the caller to read incrementally — no retry, no
	// buffering, matching spec's "no retry on streaming" rule.
	Stream bool
}

// JSONResponse is what PerformJSONRequest hands back for every call. For a
// streaming call Stream holds the open body; for a non-streaming call the
// body is decoded into PerformJSONRequest's out argument instead.
type JSONResponse struct {
	OK          bool
	StatusCode  int
	ContentType string
	Stream      io.ReadCloser
}

// PerformJSONRequest is the single primitive every raw-HTTP provider
// adapter dispatches through. For req.Stream==true it performs exactly
// one POST and returns the live body; for req.Stream==false it decodes
// the JSON body into out and retries transient failures per policy.
func PerformJSONRequest(ctx context.Context, client *http.Client, policy RetryPolicy, req JSONRequest, out any) (*JSONResponse, error) {
	label := logger.WithPrefix("transport")

	if req.Stream {
		resp, err := doOnce(ctx, client, req)
		if err != nil {
			return nil, &RetryableError{Err: err}
		}
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			body, _ := io.ReadAll(resp.Body)
			resp.Body.Close()
			return nil, fmt.Errorf("transport: upstream %s returned %d: %s", req.URL, resp.StatusCode, truncate(body, 2048))
		}
		return &JSONResponse{
			OK:          true,
			StatusCode:  resp.StatusCode,
			ContentType: resp.Header.Get("Content-Type"),
			Stream:      resp.Body,
		}, nil
	}

	var result JSONResponse
	err := WithRetry(ctx, policy, func() error {
		resp, doErr := doOnce(ctx, client, req)
		if doErr != nil {
			return &RetryableError{Err: doErr}
		}
		defer resp.Body.Close()

		body, readErr := io.ReadAll(resp.Body)
		if readErr != nil {
			return &RetryableError{Err: readErr}
		}

		result.StatusCode = resp.StatusCode
		result.ContentType = resp.Header.Get("Content-Type")

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			retryAfter := parseRetryAfter(resp.Header.Get("Retry-After"))
			label.Debug("upstream %s returned status %d", req.URL, resp.StatusCode)
			return &RetryableError{
				Err:        fmt.Errorf("transport: upstream %s returned %d: %s", req.URL, resp.StatusCode, truncate(body, 2048)),
				StatusCode: resp.StatusCode,
				RetryAfter: retryAfter,
			}
		}

		result.OK = true
		if out != nil && len(body) > 0 {
			if err := json.Unmarshal(body, out); err != nil {
				return fmt.Errorf("transport: decode response from %s: %w", req.URL, err)
			}
		}
		return nil
	})
	if err != nil {
		return &result, err
	}
	return &result, nil
}

func doOnce(ctx context.Context, client *http.Client, req JSONRequest) (*http.Response, error) {
	var bodyReader io.Reader
	if req.Body != nil {
		enc, err := json.Marshal(req.Body)
		if err != nil {
			return nil, fmt.Errorf("transport: encode request body: %w", err)
		}
		bodyReader = bytes.NewReader(enc)
	}

	method := req.Method
	if method == "" {
		method = http.MethodPost
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, req.URL, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("transport: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	for k, v := range req.Headers {
		httpReq.Header.Set(k, v)
	}

	return client.Do(httpReq)
}

func parseRetryAfter(header string) time.Duration {
	if header == "" {
		return 0
	}
	if secs, err := strconv.Atoi(header); err == nil {
		return time.Duration(secs) * time.Second
	}
	if when, err := http.ParseTime(header); err == nil {
		return time.Until(when)
	}
	return 0
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "...(truncated)"
}
