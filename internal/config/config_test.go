package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestDefaultConfigHasSafeDefaults(t *testing.T) {
	cfg := DefaultConfig()
	require.Equal(t, ":8080", cfg.ListenAddr)
	require.Equal(t, 6, cfg.AgentLoop.MaxSteps)
	require.Equal(t, 120_000, cfg.AgentLoop.MaxDurationMs)
	require.Equal(t, 20, cfg.AgentLoop.MaxToolCallsPerRequest)
	require.Equal(t, 5, cfg.CircuitBreaker.FailureThreshold)
	require.False(t, cfg.Routing.FallbackEnabled)
}

func TestLoadOverridesFromEnv(t *testing.T) {
	t.Setenv("LYNKR_LISTEN_ADDR", ":9090")
	t.Setenv("MODEL_PROVIDER", "ollama")
	t.Setenv("FALLBACK_ENABLED", "true")
	t.Setenv("FALLBACK_PROVIDER", "anthropic")
	t.Setenv("MAX_STEPS", "10")
	t.Setenv("CIRCUIT_BREAKER_OPEN_TIMEOUT_MS", "5000")

	cfg := Load()
	require.Equal(t, ":9090", cfg.ListenAddr)
	require.Equal(t, "ollama", cfg.Routing.ModelProvider)
	require.True(t, cfg.Routing.FallbackEnabled)
	require.Equal(t, "anthropic", cfg.Routing.FallbackProvider)
	require.Equal(t, 10, cfg.AgentLoop.MaxSteps)
	require.Equal(t, 5*time.Second, cfg.CircuitBreaker.OpenTimeout)
}

func TestLoadResolvesProviderAPIKeyAliases(t *testing.T) {
	t.Setenv("GOOGLE_API_KEY", "g-key")
	t.Setenv("ANTHROPIC_API_KEY", "a-key")

	cfg := Load()
	require.Equal(t, "g-key", cfg.Providers["gemini"].APIKey)
	require.Equal(t, "a-key", cfg.Providers["anthropic"].APIKey)
}

func TestLoadPrefersFirstSetKeyAlias(t *testing.T) {
	t.Setenv("GEMINI_API_KEY", "gemini-specific")
	t.Setenv("GOOGLE_API_KEY", "google-fallback")

	cfg := Load()
	require.Equal(t, "gemini-specific", cfg.Providers["gemini"].APIKey)
}

func TestLoadMissingEnvFallsBackToDefault(t *testing.T) {
	cfg := Load()
	require.Equal(t, 3, cfg.AgentLoop.ToolLoopWarnThreshold)
	require.Equal(t, 3, cfg.AgentLoop.ToolLoopTerminateThreshold)
}
