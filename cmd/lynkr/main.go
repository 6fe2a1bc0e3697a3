package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/julienschmidt/httprouter"

	"github.com/lynkr/lynkr/internal/actor"
	"github.com/lynkr/lynkr/internal/agentloop"
	"github.com/lynkr/lynkr/internal/audit"
	"github.com/lynkr/lynkr/internal/canonical"
	"github.com/lynkr/lynkr/internal/config"
	"github.com/lynkr/lynkr/internal/dispatcher"
	"github.com/lynkr/lynkr/internal/logger"
	"github.com/lynkr/lynkr/internal/policy"
	"github.com/lynkr/lynkr/internal/promptcache"
	"github.com/lynkr/lynkr/internal/provider/dialect"
	"github.com/lynkr/lynkr/internal/sanitiser"
	"github.com/lynkr/lynkr/internal/session"
	"github.com/lynkr/lynkr/internal/toolexec"
	"github.com/lynkr/lynkr/internal/transport"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() (err error) {
	versionFlag := flag.Bool("version", false, "print version and exit")
	flag.Parse()
	if *versionFlag {
		fmt.Println("lynkr (dev build)")
		return nil
	}

	cfg := config.Load()

	if logErr := logger.Init(logger.ParseLevel(cfg.LogLevel), cfg.LogPath); logErr != nil {
		return fmt.Errorf("init logger: %w", logErr)
	}
	defer func() {
		if closeErr := logger.Global().Close(); closeErr != nil && err == nil {
			err = closeErr
		}
	}()
	log := logger.WithPrefix("main")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	deps, err := buildDeps(ctx, cfg, log)
	if err != nil {
		return fmt.Errorf("build dependencies: %w", err)
	}
	defer deps.close()

	router := httprouter.New()
	router.POST("/v1/messages", deps.handleMessages)
	router.GET("/health/live", deps.handleHealth)

	server := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	serveErrCh := make(chan error, 1)
	go func() {
		log.Info("listening on %s", cfg.ListenAddr)
		if serveErr := server.ListenAndServe(); serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
			serveErrCh <- serveErr
			return
		}
		serveErrCh <- nil
	}()

	select {
	case <-ctx.Done():
		log.Info("shutdown signal received, draining in-flight requests")
		deps.shuttingDown.Store(true)
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if shutdownErr := server.Shutdown(shutdownCtx); shutdownErr != nil {
			return fmt.Errorf("graceful shutdown: %w", shutdownErr)
		}
		return nil
	case serveErr := <-serveErrCh:
		return serveErr
	}
}

// deps holds every dependency the HTTP handlers close over, built once at
// startup so a handler is a pure function of (deps, request).
type deps struct {
	cfg           *config.Config
	dispatcher    agentloop.Dispatcher
	healthTracker *dispatcher.HealthTracker
	sanitise      func(*canonical.Request) *canonical.Request
	policyGate    *policy.Gate
	exactCache    *promptcache.ExactCache
	dictionary    *audit.Dictionary
	sessionCache  *audit.SessionCache
	auditLogger   *audit.AsyncLogger
	executor      *toolexec.Executor
	shuttingDown  atomic.Bool
	log           *logger.Logger
}

func (d *deps) close() {
	if d.auditLogger != nil {
		if err := d.auditLogger.Close(); err != nil {
			d.log.Warn("closing audit log: %v", err)
		}
	}
	if d.dictionary != nil {
		if err := d.dictionary.Close(); err != nil {
			d.log.Warn("closing dictionary: %v", err)
		}
	}
}

func buildDeps(ctx context.Context, cfg *config.Config, log *logger.Logger) (*deps, error) {
	providers := map[string]dispatcher.Invoker{}

	if pc := cfg.Providers["anthropic"]; pc.APIKey != "" {
		providers["anthropic"] = dialect.NewAnthropicAdapter(pc.APIKey)
	}
	if pc := cfg.Providers["openai"]; pc.APIKey != "" {
		client := transport.NewPooledClient(2 * time.Minute)
		baseURL := pc.Endpoint
		if baseURL == "" {
			baseURL = "https://api.openai.com/v1"
		}
		providers["openai-chat"] = dialect.NewOpenAIChatAdapter(baseURL, pc.APIKey, client)
	}
	if pc := cfg.Providers["openai_responses"]; pc.APIKey != "" {
		providers["openai-responses"] = dialect.NewOpenAIResponsesAdapter(pc.APIKey)
	}
	if pc := cfg.Providers["ollama"]; pc.Endpoint != "" || cfg.Routing.PreferOllama {
		client := transport.NewPooledClient(5 * time.Minute)
		providers["ollama"] = dialect.NewOllamaAdapter(pc.Endpoint, client)
	}
	if pc := cfg.Providers["gemini"]; pc.APIKey != "" {
		adapter, err := dialect.NewGeminiAdapter(context.Background(), pc.APIKey)
		if err != nil {
			return nil, fmt.Errorf("gemini adapter: %w", err)
		}
		providers["gemini"] = adapter
	}
	if pc := cfg.Providers["bedrock"]; pc.Model != "" {
		client := transport.NewPooledClient(2 * time.Minute)
		providers["bedrock"] = dialect.NewBedrockAdapter(
			envOrDefault("AWS_REGION", "us-east-1"),
			pc.Model,
			pc.APIKey,
			envOrDefault("AWS_SECRET_ACCESS_KEY", ""),
			envOrDefault("AWS_SESSION_TOKEN", ""),
			client,
		)
	}

	if pc := cfg.Providers["zai"]; pc.APIKey != "" {
		client := transport.NewPooledClient(2 * time.Minute)
		baseURL := pc.Endpoint
		if baseURL == "" {
			baseURL = "https://api.z.ai/api/paas/v4"
		}
		providers["zai"] = newConcurrencyLimitedInvoker(dialect.NewOpenAIChatAdapter(baseURL, pc.APIKey, client), cfg.ZAIMaxConcurrent)
	}

	staticProvider := cfg.Routing.ModelProvider
	if _, ok := providers[staticProvider]; !ok {
		log.Warn("configured MODEL_PROVIDER %q has no adapter wired (missing credentials?)", staticProvider)
	}

	registry := dispatcher.NewRegistry(dispatcher.BreakerConfig{
		FailureThreshold: cfg.CircuitBreaker.FailureThreshold,
		SuccessThreshold: cfg.CircuitBreaker.SuccessThreshold,
		OpenTimeout:      cfg.CircuitBreaker.OpenTimeout,
	})

	routingPolicy := dispatcher.RoutingPolicy{
		PreferLocal:                  cfg.Routing.PreferOllama,
		LocalProvider:                "ollama",
		StaticProvider:               staticProvider,
		OllamaMaxToolsForRouting:     cfg.Routing.OllamaMaxToolsForRouting,
		OpenRouterMaxToolsForRouting: cfg.Routing.OpenRouterMaxToolsForRouting,
		ComplexityThreshold:          cfg.Routing.ComplexityThreshold,
		LocalSupportsTools:           true,
		FallbackEnabled:              cfg.Routing.FallbackEnabled,
		FallbackProvider:             cfg.Routing.FallbackProvider,
	}
	disp := dispatcher.New(registry, providers, routingPolicy)

	sanitiseOpts := sanitiser.Options{DefaultModel: cfg.Providers[staticProvider].Model}
	sanitise := func(req *canonical.Request) *canonical.Request {
		return sanitiser.Clean(req, sanitiseOpts)
	}

	gate := policy.New(policy.Config{
		MaxToolCallsPerSession: cfg.AgentLoop.MaxToolCallsPerRequest,
	})

	dictionary, err := audit.Open(cfg.DictionaryPath)
	if err != nil {
		return nil, fmt.Errorf("open audit dictionary: %w", err)
	}
	sessionCache := audit.NewSessionCache(dictionary)

	rawAuditLogger, err := audit.OpenLogger(cfg.AuditLogPath, sessionCache)
	if err != nil {
		return nil, fmt.Errorf("open audit log: %w", err)
	}
	auditLogger := audit.NewAsyncLogger(rawAuditLogger, 0, func(recErr error) {
		log.Warn("audit record failed: %v", recErr)
	})

	oversizedCapture := audit.NewOversizedCapture(filepath.Dir(cfg.AuditLogPath), 0, 0)
	logger.SetOversizedSink(oversizedCapture)

	exactCache := promptcache.NewExactCache(cfg.PromptCache.TTL)

	healthTracker := dispatcher.NewHealthTracker(registry, 5*time.Second)
	system := actor.NewSystem()
	ref, err := system.Spawn(ctx, healthTracker.ID(), healthTracker, 8)
	if err != nil {
		return nil, fmt.Errorf("spawn health tracker: %w", err)
	}
	go dispatcher.Run(ctx, ref, 5*time.Second)

	d := &deps{
		cfg:           cfg,
		dispatcher:    disp,
		healthTracker: healthTracker,
		sanitise:      sanitise,
		policyGate:    gate,
		exactCache:    exactCache,
		dictionary:    dictionary,
		sessionCache:  sessionCache,
		auditLogger:   auditLogger,
		executor:      toolexec.New(nil, nil),
		log:           log,
	}
	return d, nil
}

// concurrencyLimitedInvoker bounds in-flight calls to a provider known to
// reject or throttle beyond a small concurrent request count (ZAI's free
// tier being the motivating case); Invoke blocks on the semaphore rather
// than failing fast, since the agent loop already has its own deadline.
type concurrencyLimitedInvoker struct {
	inner dispatcher.Invoker
	sem   chan struct{}
}

func newConcurrencyLimitedInvoker(inner dispatcher.Invoker, maxConcurrent int) dispatcher.Invoker {
	if maxConcurrent <= 0 {
		maxConcurrent = 1
	}
	return &concurrencyLimitedInvoker{inner: inner, sem: make(chan struct{}, maxConcurrent)}
}

func (c *concurrencyLimitedInvoker) Invoke(ctx context.Context, req *canonical.Request) (*canonical.Response, error) {
	select {
	case c.sem <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	defer func() { <-c.sem }()
	return c.inner.Invoke(ctx, req)
}

// InvokeStream forwards to inner's streaming path, still gated by the same
// semaphore, so the dispatcher's StreamingAdapter type assertion sees
// through the wrapper instead of falsely reporting ErrStreamingUnsupported
// for a provider whose underlying adapter does support it.
func (c *concurrencyLimitedInvoker) InvokeStream(ctx context.Context, req *canonical.Request) (io.ReadCloser, string, error) {
	streamer, ok := c.inner.(dialect.StreamingAdapter)
	if !ok {
		return nil, "", dialect.ErrStreamingUnsupported
	}
	select {
	case c.sem <- struct{}{}:
	case <-ctx.Done():
		return nil, "", ctx.Err()
	}
	defer func() { <-c.sem }()
	return streamer.InvokeStream(ctx, req)
}

// userMessagesText flattens every text block across every turn into one
// string for the audit log's userMessages field; tool_use/tool_result
// blocks carry their own structured payload and are not duplicated here.
func userMessagesText(req *canonical.Request) string {
	var sb strings.Builder
	for _, turn := range req.Messages {
		for _, block := range turn.Content {
			if text, ok := block.(canonical.TextBlock); ok {
				if sb.Len() > 0 {
					sb.WriteByte('\n')
				}
				sb.WriteString(text.Text)
			}
		}
	}
	return sb.String()
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func (d *deps) handleMessages(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	var req canonical.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "could not decode request body: "+err.Error())
		return
	}

	sessionID := r.Header.Get("X-Lynkr-Session-Id")
	fallbackDisabled := r.Header.Get("X-Lynkr-Fallback") == "disabled"

	toolMode := agentloop.ModeLocal
	if r.Header.Get("X-Lynkr-Tool-Execution") == "client" {
		toolMode = agentloop.ModeClient
	}

	opts := agentloop.Options{
		MaxSteps:                   d.cfg.AgentLoop.MaxSteps,
		MaxDuration:                time.Duration(d.cfg.AgentLoop.MaxDurationMs) * time.Millisecond,
		MaxToolCallsPerRequest:     d.cfg.AgentLoop.MaxToolCallsPerRequest,
		ToolLoopWarnThreshold:      d.cfg.AgentLoop.ToolLoopWarnThreshold,
		ToolLoopTerminateThreshold: d.cfg.AgentLoop.ToolLoopTerminateThreshold,
		ToolResultGuardThreshold:   d.cfg.AgentLoop.ToolResultGuardThreshold,
		ToolExecutionMode:          toolMode,
		FallbackDisabled:           fallbackDisabled,
		SessionID:                  sessionID,
		Sanitise:                   d.sanitise,
		Policy:                     d.policyGate,
		Cache:                      d.exactCache,
		Executor:                   d.executor,
		ShuttingDown:               d.shuttingDown.Load,
	}

	outcome := agentloop.Run(r.Context(), &req, d.dispatcher, opts)

	w.Header().Set("X-Lynkr-Provider", outcome.ActualProvider)
	w.Header().Set("X-Lynkr-Routing-Method", string(outcome.Decision.Method))
	w.Header().Set("X-Lynkr-Routing-Reason", outcome.Decision.Reason)
	if outcome.Decision.Threshold > 0 {
		w.Header().Set("X-Lynkr-Complexity-Score", strconv.FormatFloat(outcome.Decision.Score, 'f', 3, 64))
		w.Header().Set("X-Lynkr-Complexity-Threshold", strconv.FormatFloat(outcome.Decision.Threshold, 'f', 3, 64))
	}
	w.Header().Set("X-Lynkr-Termination-Reason", string(outcome.TerminationReason))

	if d.auditLogger != nil {
		responseText := ""
		if outcome.Response != nil {
			responseText = outcome.Response.Text()
		} else if outcome.StreamBody != nil {
			responseText = "(streamed)"
		}
		correlationID := r.Header.Get("X-Lynkr-Correlation-Id")
		if correlationID == "" {
			correlationID = session.GenerateID()
		}
		d.auditLogger.Enqueue(correlationID, sessionID, outcome.ActualProvider, req.System, userMessagesText(&req), responseText)
	}

	if outcome.StreamBody != nil {
		d.proxyStream(w, outcome)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(outcome.StatusCode)
	if outcome.Response == nil {
		json.NewEncoder(w).Encode(map[string]any{
			"error": map[string]any{
				"type":    string(outcome.TerminationReason),
				"message": "request terminated before completion",
			},
		})
		return
	}
	json.NewEncoder(w).Encode(outcome.Response)
}

// proxyStream copies a streaming upstream's raw body to the client
// verbatim: no retry, no buffering, one write per chunk read, matching
// §4's "no retry, no buffering" streaming rule.
func (d *deps) proxyStream(w http.ResponseWriter, outcome agentloop.Outcome) {
	defer outcome.StreamBody.Close()

	contentType := outcome.StreamContentType
	if contentType == "" {
		contentType = "text/event-stream"
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("X-Lynkr-Termination-Reason", string(outcome.TerminationReason))
	w.WriteHeader(http.StatusOK)

	flusher, canFlush := w.(http.Flusher)
	buf := make([]byte, 4096)
	for {
		n, readErr := outcome.StreamBody.Read(buf)
		if n > 0 {
			if _, writeErr := w.Write(buf[:n]); writeErr != nil {
				return
			}
			if canFlush {
				flusher.Flush()
			}
		}
		if readErr != nil {
			return
		}
	}
}

func (d *deps) handleHealth(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	if d.shuttingDown.Load() {
		writeError(w, http.StatusServiceUnavailable, "shutting_down", "draining in-flight requests")
		return
	}

	body := map[string]any{"status": "ok"}
	if r.URL.Query().Get("verbose") == "1" {
		body["breakers"] = d.healthTracker.Snapshot()
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{"type": code, "message": message},
	})
}
