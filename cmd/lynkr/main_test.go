package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/julienschmidt/httprouter"
	"github.com/stretchr/testify/require"

	"github.com/lynkr/lynkr/internal/audit"
	"github.com/lynkr/lynkr/internal/canonical"
	"github.com/lynkr/lynkr/internal/config"
	"github.com/lynkr/lynkr/internal/dispatcher"
	"github.com/lynkr/lynkr/internal/logger"
	"github.com/lynkr/lynkr/internal/promptcache"
	"github.com/lynkr/lynkr/internal/provider/dialect"
	"github.com/lynkr/lynkr/internal/sanitiser"
)

type stubDispatcher struct {
	resp *canonical.Response
	err  error
}

func (s *stubDispatcher) Dispatch(ctx context.Context, req *canonical.Request, fallbackDisabled bool) (*dispatcher.Result, error) {
	if s.err != nil {
		return nil, s.err
	}
	return &dispatcher.Result{Response: s.resp, ActualProvider: "stub", Decision: dispatcher.Decision{Provider: "stub", Method: dispatcher.MethodStatic}}, nil
}

func (s *stubDispatcher) DispatchStream(ctx context.Context, req *canonical.Request, fallbackDisabled bool) (*dispatcher.StreamResult, error) {
	return nil, dialect.ErrStreamingUnsupported
}

// newTestDeps returns a deps wired with tempdir-scoped dictionary/audit
// files, plus the audit log's own path so tests can assert against it.
func newTestDeps(t *testing.T, disp *stubDispatcher) (*deps, string) {
	t.Helper()
	log := logger.WithPrefix("test")
	registry := dispatcher.NewRegistry(dispatcher.BreakerConfig{})

	dir := t.TempDir()
	dict, err := audit.Open(filepath.Join(dir, "dictionary.jsonl"))
	require.NoError(t, err)
	t.Cleanup(func() { dict.Close() })
	sessionCache := audit.NewSessionCache(dict)
	auditLogPath := filepath.Join(dir, "audit.jsonl")
	rawAuditLogger, err := audit.OpenLogger(auditLogPath, sessionCache)
	require.NoError(t, err)
	auditLogger := audit.NewAsyncLogger(rawAuditLogger, 0, nil)
	t.Cleanup(func() { auditLogger.Close() })

	d := &deps{
		cfg:           config.DefaultConfig(),
		dispatcher:    disp,
		healthTracker: dispatcher.NewHealthTracker(registry, time.Second),
		sanitise: func(req *canonical.Request) *canonical.Request {
			return sanitiser.Clean(req, sanitiser.Options{DefaultModel: "stub-model"})
		},
		exactCache:   promptcache.NewExactCache(0),
		sessionCache: sessionCache,
		auditLogger:  auditLogger,
		log:          log,
	}
	return d, auditLogPath
}

func newRouter(d *deps) *httprouter.Router {
	router := httprouter.New()
	router.POST("/v1/messages", d.handleMessages)
	router.GET("/health/live", d.handleHealth)
	return router
}

func TestHandleMessagesReturnsCompletionResponse(t *testing.T) {
	endTurn := &canonical.Response{
		ID: "msg_1", Role: canonical.RoleAssistant,
		Content:    []canonical.ContentBlock{canonical.TextBlock{Text: "hello"}},
		StopReason: canonical.StopEndTurn,
	}
	d, _ := newTestDeps(t, &stubDispatcher{resp: endTurn})
	router := newRouter(d)

	body, err := json.Marshal(canonical.Request{
		Model:    "stub-model",
		Messages: []canonical.Turn{{Role: canonical.RoleUser, Content: []canonical.ContentBlock{canonical.TextBlock{Text: "hi"}}}},
	})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/v1/messages", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "completion", rec.Header().Get("X-Lynkr-Termination-Reason"))

	var got canonical.Response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	require.Equal(t, "hello", got.Text())
}

func TestHandleMessagesWritesAuditRecord(t *testing.T) {
	endTurn := &canonical.Response{
		ID: "msg_2", Role: canonical.RoleAssistant,
		Content:    []canonical.ContentBlock{canonical.TextBlock{Text: "audited reply"}},
		StopReason: canonical.StopEndTurn,
	}
	d, auditLogPath := newTestDeps(t, &stubDispatcher{resp: endTurn})
	router := newRouter(d)

	body, err := json.Marshal(canonical.Request{
		Model:  "stub-model",
		System: "be nice",
		Messages: []canonical.Turn{{Role: canonical.RoleUser, Content: []canonical.ContentBlock{
			canonical.TextBlock{Text: "say hello"},
		}}},
	})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/v1/messages", bytes.NewReader(body))
	req.Header.Set("X-Lynkr-Correlation-Id", "corr-test")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, d.auditLogger.Close())

	f, err := os.Open(auditLogPath)
	require.NoError(t, err)
	defer f.Close()

	records, err := audit.ReadRecords(f)
	require.NoError(t, err)
	require.Len(t, records, 1)
	require.Equal(t, "corr-test", records[0].CorrelationID)
	require.Equal(t, "stub", records[0].Provider)

	sysText, _, isRef, err := audit.DecodeField(records[0].SystemPrompt)
	require.NoError(t, err)
	require.False(t, isRef)
	require.Equal(t, "be nice", sysText)

	respText, _, isRef, err := audit.DecodeField(records[0].Response)
	require.NoError(t, err)
	require.False(t, isRef)
	require.Equal(t, "audited reply", respText)
}

func TestHandleMessagesStreamingUnsupportedProviderReturns501(t *testing.T) {
	d, _ := newTestDeps(t, &stubDispatcher{})
	router := newRouter(d)

	body, err := json.Marshal(canonical.Request{
		Model:  "stub-model",
		Stream: true,
		Messages: []canonical.Turn{{Role: canonical.RoleUser, Content: []canonical.ContentBlock{
			canonical.TextBlock{Text: "hi"},
		}}},
	})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/v1/messages", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusNotImplemented, rec.Code)
}

func TestHandleMessagesRejectsInvalidJSON(t *testing.T) {
	d, _ := newTestDeps(t, &stubDispatcher{})
	router := newRouter(d)

	req := httptest.NewRequest(http.MethodPost, "/v1/messages", bytes.NewReader([]byte("{not json")))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleHealthReportsOK(t *testing.T) {
	d, _ := newTestDeps(t, &stubDispatcher{})
	router := newRouter(d)

	req := httptest.NewRequest(http.MethodGet, "/health/live", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
}

func TestHandleHealthVerboseIncludesBreakerSnapshot(t *testing.T) {
	d, _ := newTestDeps(t, &stubDispatcher{})
	router := newRouter(d)

	req := httptest.NewRequest(http.MethodGet, "/health/live?verbose=1", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Contains(t, body, "breakers")
}

func TestHandleHealthReportsUnavailableWhileShuttingDown(t *testing.T) {
	d, _ := newTestDeps(t, &stubDispatcher{})
	d.shuttingDown.Store(true)
	router := newRouter(d)

	req := httptest.NewRequest(http.MethodGet, "/health/live", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
}
