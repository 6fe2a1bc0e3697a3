package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// providerNames lists every upstream dialect Lynkr dispatches to; Load
// iterates this to populate cfg.Providers.
var providerNames = []string{"anthropic", "openai", "openai_responses", "ollama", "gemini", "bedrock", "zai"}

// providerEnvVars maps a canonical provider name to the {key, endpoint,
// model} environment variables that configure it. Multiple key aliases
// match the teacher's own backwards-compatible-alias pattern
// (GEMINI_API_KEY / GOOGLE_API_KEY for the same provider).
var providerEnvVars = map[string]struct {
	keys      []string
	endpoint  string
	model     string
}{
	"anthropic":        {keys: []string{"ANTHROPIC_API_KEY"}, endpoint: "ANTHROPIC_BASE_URL", model: "ANTHROPIC_MODEL"},
	"openai":            {keys: []string{"OPENAI_API_KEY"}, endpoint: "OPENAI_BASE_URL", model: "OPENAI_MODEL"},
	"openai_responses":  {keys: []string{"OPENAI_API_KEY"}, endpoint: "OPENAI_RESPONSES_BASE_URL", model: "OPENAI_RESPONSES_MODEL"},
	"ollama":            {keys: nil, endpoint: "OLLAMA_ENDPOINT", model: "OLLAMA_MODEL"},
	"gemini":            {keys: []string{"GEMINI_API_KEY", "GOOGLE_API_KEY", "GOOGLE_GENAI_API_KEY"}, endpoint: "GEMINI_BASE_URL", model: "GEMINI_MODEL"},
	"bedrock":           {keys: []string{"AWS_ACCESS_KEY_ID"}, endpoint: "BEDROCK_ENDPOINT", model: "BEDROCK_MODEL"},
	"zai":               {keys: []string{"ZAI_API_KEY"}, endpoint: "ZAI_BASE_URL", model: "ZAI_MODEL"},
}

func loadProviderConfig(name string) ProviderConfig {
	spec := providerEnvVars[name]
	var apiKey string
	for _, envVar := range spec.keys {
		if v := strings.TrimSpace(os.Getenv(envVar)); v != "" {
			apiKey = v
			break
		}
	}
	return ProviderConfig{
		APIKey:   apiKey,
		Endpoint: strings.TrimSpace(os.Getenv(spec.endpoint)),
		Model:    strings.TrimSpace(os.Getenv(spec.model)),
	}
}

func getEnvString(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvInt(key string, fallback int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvFloat(key string, fallback float64) float64 {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	parsed, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return fallback
	}
	return parsed
}

// getEnvDuration reads key as milliseconds, matching the *_MS env var
// naming convention spec §6 uses for every timing knob.
func getEnvDuration(key string, fallback time.Duration) time.Duration {
	ms := getEnvInt(key, -1)
	if ms < 0 {
		return fallback
	}
	return time.Duration(ms) * time.Millisecond
}
