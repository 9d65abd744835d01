package config

import (
	"os"
	"time"
)

const (
	ProviderGemini = "gemini"
	ProviderOpenAI = "openai"
)

type LLMConfig struct {
	Provider string
	Model    string
}

type Config struct {
	HTTPAddr    string
	PostgresDSN string

	LLM           LLMConfig
	GeminiAPIKey  string
	OpenAIAPIKey  string
	OpenAIBaseURL string

	RequestTimeout time.Duration
}

func Load() Config {
	cfg := Config{
		HTTPAddr:       getEnv("HTTP_ADDR", ":8080"),
		PostgresDSN:    getEnv("POSTGRES_DSN", ""),
		GeminiAPIKey:   getEnv("GEMINI_API_KEY", ""),
		OpenAIAPIKey:   getEnv("OPENAI_API_KEY", ""),
		OpenAIBaseURL:  getEnv("OPENAI_BASE_URL", ""),
		RequestTimeout: getDuration("REQUEST_TIMEOUT", 60*time.Second),
	}

	cfg.LLM = LLMConfig{
		Provider: getEnv("LLM_PROVIDER", ProviderGemini),
		Model:    getEnv("LLM_MODEL", ""),
	}

	return cfg
}

// CredentialConfigured reports whether the selected provider has an API key.
// Without one the chat and suggestion flows run in a degraded, disabled mode
// instead of failing at startup.
func (c Config) CredentialConfigured() bool {
	switch c.LLM.Provider {
	case ProviderOpenAI:
		return c.OpenAIAPIKey != ""
	default:
		return c.GeminiAPIKey != ""
	}
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok && value != "" {
		return value
	}
	return fallback
}

func getDuration(key string, fallback time.Duration) time.Duration {
	value, ok := os.LookupEnv(key)
	if !ok || value == "" {
		return fallback
	}
	parsed, err := time.ParseDuration(value)
	if err != nil || parsed <= 0 {
		return fallback
	}
	return parsed
}
