// Package config loads Lynkr's runtime configuration from the process
// environment. Unlike a CLI tool's on-disk config file, a proxy server
// is deployed as a container with its settings injected as env vars, so
// Load reads os.Getenv directly rather than unmarshalling JSON from a
// config path; DefaultConfig still seeds every field with a safe value
// first, matching the teacher's "defaults, then override only what's
// provided" shape.
package config

import (
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"
)

// ProviderConfig is the endpoint/key/model triple §6 requires per
// upstream.
type ProviderConfig struct {
	Endpoint string
	APIKey   string
	Model    string
}

// CircuitBreakerConfig tunes every registered breaker identically; per-
// upstream overrides are not exposed as env vars, matching spec's single
// `CIRCUIT_BREAKER_*` family.
type CircuitBreakerConfig struct {
	FailureThreshold int
	SuccessThreshold int
	OpenTimeout      time.Duration
}

// LoadSheddingConfig bounds backpressure: when enabled and the process's
// heap exceeds MaxHeapMB, new requests are rejected while in-flight work
// completes normally.
type LoadSheddingConfig struct {
	Enabled  bool
	MaxHeapMB int
}

// AgentLoopConfig carries the §4.5 safety-guard defaults; zero fields
// fall back to internal/consts at the call site.
type AgentLoopConfig struct {
	MaxSteps                   int
	MaxDurationMs              int
	MaxToolCallsPerRequest     int
	ToolLoopWarnThreshold      int
	ToolLoopTerminateThreshold int
	ToolResultGuardThreshold   int
}

// RoutingConfig configures §4.3's DetermineProvider heuristic.
type RoutingConfig struct {
	ModelProvider                string
	FallbackEnabled              bool
	FallbackProvider              string
	PreferOllama                 bool
	OllamaMaxToolsForRouting     int
	OpenRouterMaxToolsForRouting int
	ComplexityThreshold          float64
}

// PromptCacheConfig configures §4.9's exact and semantic caches.
type PromptCacheConfig struct {
	Enabled             bool
	TTL                 time.Duration
	SemanticEnabled     bool
	SemanticThreshold   float64
	SemanticCacheSize   int
}

// Config is Lynkr's complete runtime configuration.
type Config struct {
	ListenAddr string
	LogLevel   string
	LogPath    string

	Providers map[string]ProviderConfig

	Routing       RoutingConfig
	CircuitBreaker CircuitBreakerConfig
	LoadShedding  LoadSheddingConfig
	AgentLoop     AgentLoopConfig
	PromptCache   PromptCacheConfig

	ZAIMaxConcurrent int

	AuditLogPath   string
	DictionaryPath string
}

// DefaultConfig returns a Config with every field set to a safe default,
// overridden field-by-field by Load.
func DefaultConfig() *Config {
	stateDir := defaultStateDir()

	return &Config{
		ListenAddr: ":8080",
		LogLevel:   "info",
		LogPath:    filepath.Join(stateDir, "lynkr.log"),

		Providers: map[string]ProviderConfig{},

		Routing: RoutingConfig{
			ModelProvider:                "anthropic",
			FallbackEnabled:              false,
			PreferOllama:                 false,
			OllamaMaxToolsForRouting:     3,
			OpenRouterMaxToolsForRouting: 8,
			ComplexityThreshold:          0.5,
		},
		CircuitBreaker: CircuitBreakerConfig{
			FailureThreshold: 5,
			SuccessThreshold: 2,
			OpenTimeout:      60 * time.Second,
		},
		LoadShedding: LoadSheddingConfig{
			Enabled:   false,
			MaxHeapMB: 0,
		},
		AgentLoop: AgentLoopConfig{
			MaxSteps:                   6,
			MaxDurationMs:              120_000,
			MaxToolCallsPerRequest:     20,
			ToolLoopWarnThreshold:      3,
			ToolLoopTerminateThreshold: 3,
			ToolResultGuardThreshold:   3,
		},
		PromptCache: PromptCacheConfig{
			Enabled:           false,
			TTL:               5 * time.Minute,
			SemanticEnabled:   false,
			SemanticThreshold: 0.92,
			SemanticCacheSize: 256,
		},
		ZAIMaxConcurrent: 2,

		AuditLogPath:   filepath.Join(stateDir, "audit.jsonl"),
		DictionaryPath: filepath.Join(stateDir, "dictionary.jsonl"),
	}
}

// Load builds a Config starting from DefaultConfig and overriding every
// field that has a corresponding environment variable set.
func Load() *Config {
	cfg := DefaultConfig()

	cfg.ListenAddr = getEnvString("LYNKR_LISTEN_ADDR", cfg.ListenAddr)
	cfg.LogLevel = getEnvString("LYNKR_LOG_LEVEL", cfg.LogLevel)
	cfg.LogPath = getEnvString("LYNKR_LOG_PATH", cfg.LogPath)

	cfg.Routing.ModelProvider = getEnvString("MODEL_PROVIDER", cfg.Routing.ModelProvider)
	cfg.Routing.FallbackEnabled = getEnvBool("FALLBACK_ENABLED", cfg.Routing.FallbackEnabled)
	cfg.Routing.FallbackProvider = getEnvString("FALLBACK_PROVIDER", cfg.Routing.FallbackProvider)
	cfg.Routing.PreferOllama = getEnvBool("PREFER_OLLAMA", cfg.Routing.PreferOllama)
	cfg.Routing.OllamaMaxToolsForRouting = getEnvInt("OLLAMA_MAX_TOOLS_FOR_ROUTING", cfg.Routing.OllamaMaxToolsForRouting)
	cfg.Routing.OpenRouterMaxToolsForRouting = getEnvInt("OPENROUTER_MAX_TOOLS_FOR_ROUTING", cfg.Routing.OpenRouterMaxToolsForRouting)
	cfg.Routing.ComplexityThreshold = getEnvFloat("COMPLEXITY_THRESHOLD", cfg.Routing.ComplexityThreshold)

	cfg.CircuitBreaker.FailureThreshold = getEnvInt("CIRCUIT_BREAKER_FAILURE_THRESHOLD", cfg.CircuitBreaker.FailureThreshold)
	cfg.CircuitBreaker.SuccessThreshold = getEnvInt("CIRCUIT_BREAKER_SUCCESS_THRESHOLD", cfg.CircuitBreaker.SuccessThreshold)
	cfg.CircuitBreaker.OpenTimeout = getEnvDuration("CIRCUIT_BREAKER_OPEN_TIMEOUT_MS", cfg.CircuitBreaker.OpenTimeout)

	cfg.LoadShedding.Enabled = getEnvBool("LOAD_SHEDDING_ENABLED", cfg.LoadShedding.Enabled)
	cfg.LoadShedding.MaxHeapMB = getEnvInt("LOAD_SHEDDING_MAX_HEAP_MB", cfg.LoadShedding.MaxHeapMB)

	cfg.AgentLoop.MaxSteps = getEnvInt("MAX_STEPS", cfg.AgentLoop.MaxSteps)
	cfg.AgentLoop.MaxDurationMs = getEnvInt("MAX_DURATION_MS", cfg.AgentLoop.MaxDurationMs)
	cfg.AgentLoop.MaxToolCallsPerRequest = getEnvInt("MAX_TOOL_CALLS_PER_REQUEST", cfg.AgentLoop.MaxToolCallsPerRequest)
	cfg.AgentLoop.ToolLoopWarnThreshold = getEnvInt("TOOL_LOOP_WARN_THRESHOLD", cfg.AgentLoop.ToolLoopWarnThreshold)
	cfg.AgentLoop.ToolLoopTerminateThreshold = getEnvInt("TOOL_LOOP_TERMINATE_THRESHOLD", cfg.AgentLoop.ToolLoopTerminateThreshold)
	cfg.AgentLoop.ToolResultGuardThreshold = getEnvInt("TOOL_RESULT_GUARD_THRESHOLD", cfg.AgentLoop.ToolResultGuardThreshold)

	cfg.PromptCache.Enabled = getEnvBool("ENABLE_PROMPT_CACHE", cfg.PromptCache.Enabled)
	cfg.PromptCache.TTL = getEnvDuration("PROMPT_CACHE_TTL_MS", cfg.PromptCache.TTL)
	cfg.PromptCache.SemanticEnabled = getEnvBool("ENABLE_SEMANTIC_CACHE", cfg.PromptCache.SemanticEnabled)
	cfg.PromptCache.SemanticThreshold = getEnvFloat("SEMANTIC_CACHE_THRESHOLD", cfg.PromptCache.SemanticThreshold)
	cfg.PromptCache.SemanticCacheSize = getEnvInt("SEMANTIC_CACHE_SIZE", cfg.PromptCache.SemanticCacheSize)

	cfg.ZAIMaxConcurrent = getEnvInt("ZAI_MAX_CONCURRENT", cfg.ZAIMaxConcurrent)

	cfg.AuditLogPath = getEnvString("LYNKR_AUDIT_LOG_PATH", cfg.AuditLogPath)
	cfg.DictionaryPath = getEnvString("LYNKR_DICTIONARY_PATH", cfg.DictionaryPath)

	for _, name := range providerNames {
		cfg.Providers[name] = loadProviderConfig(name)
	}

	return cfg
}

func defaultStateDir() string {
	switch runtime.GOOS {
	case "linux":
		if stateHome := strings.TrimSpace(os.Getenv("XDG_STATE_HOME")); stateHome != "" {
			return filepath.Join(stateHome, "lynkr")
		}
		homeDir, _ := os.UserHomeDir()
		return filepath.Join(homeDir, ".local", "state", "lynkr")
	case "windows":
		if localAppData := strings.TrimSpace(os.Getenv("LOCALAPPDATA")); localAppData != "" {
			return filepath.Join(localAppData, "lynkr")
		}
		homeDir, _ := os.UserHomeDir()
		return filepath.Join(homeDir, "AppData", "Local", "lynkr")
	default:
		homeDir, _ := os.UserHomeDir()
		return filepath.Join(homeDir, ".config", "lynkr")
	}
}
