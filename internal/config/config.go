package config

import (
	"os"
	"strconv"
	"time"
)

// Upstream kinds supported by the proxy
const (
	// UpstreamKindOpenAI - OpenAI-compatible /chat/completions endpoint;
	// chat-stream responses are produced by cosmetic chunking of the full text
	UpstreamKindOpenAI = "openai"

	// UpstreamKindGateway - another Quill-protocol gateway; chat-stream bodies
	// are NDJSON and relayed record by record
	UpstreamKindGateway = "gateway"
)

// Config holds all application configuration
type Config struct {
	Port    string
	Enabled bool // master switch for the assistant endpoints

	// Upstream generative-language API
	UpstreamBaseURL string
	UpstreamAPIKey  string
	UpstreamModel   string
	UpstreamKind    string // "openai" or "gateway"

	// Request budgets
	UpstreamTimeout time.Duration // non-streaming calls only
	UpstreamRate    float64       // requests/second towards the upstream

	// Explanation cache
	ExplainCacheCapacity int

	// Pending stream registry
	StreamTTL time.Duration

	AllowedOrigins string
}

// Load loads configuration from environment variables with defaults
func Load() *Config {
	return &Config{
		Port:    getEnv("PORT", "3001"),
		Enabled: getBoolEnv("ENABLED", true),

		UpstreamBaseURL: getEnv("UPSTREAM_BASE_URL", ""),
		UpstreamAPIKey:  getEnv("UPSTREAM_API_KEY", ""),
		UpstreamModel:   getEnv("UPSTREAM_MODEL", "gemini-2.0-flash"),
		UpstreamKind:    getEnv("UPSTREAM_KIND", UpstreamKindOpenAI),

		UpstreamTimeout: getDurationEnv("UPSTREAM_TIMEOUT", 10*time.Second),
		UpstreamRate:    getFloatEnv("UPSTREAM_RATE", 5),

		ExplainCacheCapacity: getIntEnv("EXPLAIN_CACHE_CAPACITY", 1000),

		StreamTTL: getDurationEnv("STREAM_TTL", 2*time.Minute),

		AllowedOrigins: getEnv("ALLOWED_ORIGINS", ""),
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getBoolEnv(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		parsed, err := strconv.ParseBool(value)
		if err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		parsed, err := strconv.Atoi(value)
		if err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getFloatEnv(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		parsed, err := strconv.ParseFloat(value, 64)
		if err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		parsed, err := time.ParseDuration(value)
		if err == nil {
			return parsed
		}
	}
	return defaultValue
}
