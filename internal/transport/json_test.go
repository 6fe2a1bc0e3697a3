package transport

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestPerformJSONRequestDecodesSuccessBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	var out struct {
		OK bool `json:"ok"`
	}
	resp, err := PerformJSONRequest(context.Background(), srv.Client(), DefaultRetryPolicy(), JSONRequest{
		URL:  srv.URL,
		Body: map[string]string{"hello": "world"},
	}, &out)
	require.NoError(t, err)
	require.True(t, resp.OK)
	require.True(t, out.OK)
}

func TestPerformJSONRequestRetriesOn503ThenSucceeds(t *testing.T) {
	attempts := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		if attempts < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	policy := RetryPolicy{MaxRetries: 5, InitialDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond}
	var out map[string]any
	resp, err := PerformJSONRequest(context.Background(), srv.Client(), policy, JSONRequest{URL: srv.URL}, &out)
	require.NoError(t, err)
	require.True(t, resp.OK)
	require.Equal(t, 3, attempts)
}

func TestPerformJSONRequestDoesNotRetryOn400(t *testing.T) {
	attempts := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error":"bad request"}`))
	}))
	defer srv.Close()

	policy := RetryPolicy{MaxRetries: 5, InitialDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond}
	_, err := PerformJSONRequest(context.Background(), srv.Client(), policy, JSONRequest{URL: srv.URL}, nil)
	require.Error(t, err)
	require.Equal(t, 1, attempts)
}

func TestPerformJSONRequestStreamReturnsLiveBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("chunk1\nchunk2\n"))
	}))
	defer srv.Close()

	resp, err := PerformJSONRequest(context.Background(), srv.Client(), DefaultRetryPolicy(), JSONRequest{
		URL:    srv.URL,
		Stream: true,
	}, nil)
	require.NoError(t, err)
	require.NotNil(t, resp.Stream)
	defer resp.Stream.Close()
}
