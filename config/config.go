package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	// Server
	Port string // default: 8080

	// Database
	PostgresDSN string

	// Cache
	RedisAddr string

	// Environment: "production" or "development"; development traffic
	// prefers local providers during routing.
	Environment string

	// System-level fallback provider credentials
	GroqAPIKey       string
	OpenRouterAPIKey string
	EnableLLM7       bool
	LocalLLMEndpoint string
	EnableLocalLLM   bool

	// Routing
	MaxRetries     int           // provider attempt budget per request, default: 3
	RequestTimeout time.Duration // hard ceiling above provider HTTP timeouts, default: 120s

	// Observability
	OTELExporterType     string // "stdout" or "otlp"
	OTELExporterEndpoint string // default: "localhost:4317"

	// Rate Limiting
	DefaultRateLimitTPM int64 // tokens per minute, default: 100000
}

func (c *Config) Production() bool {
	return c.Environment == "production"
}

func Load() (*Config, error) {
	// Load .env file if present (non-fatal if missing)
	_ = godotenv.Load()

	cfg := &Config{
		Port:                 getEnv("PORT", "8080"),
		PostgresDSN:          os.Getenv("POSTGRES_DSN"),
		RedisAddr:            os.Getenv("REDIS_ADDR"),
		Environment:          getEnv("ENVIRONMENT", "development"),
		GroqAPIKey:           os.Getenv("GROQ_API_KEY"),
		OpenRouterAPIKey:     os.Getenv("OPENROUTER_API_KEY"),
		EnableLLM7:           getEnv("ENABLE_LLM7", "true") == "true",
		LocalLLMEndpoint:     getEnv("LOCAL_LLM_ENDPOINT", "http://localhost:11434"),
		EnableLocalLLM:       getEnv("ENABLE_LOCAL_LLM", "false") == "true",
		OTELExporterType:     getEnv("OTEL_EXPORTER_TYPE", "stdout"),
		OTELExporterEndpoint: getEnv("OTEL_EXPORTER_ENDPOINT", "localhost:4317"),
	}

	retriesStr := getEnv("MAX_RETRIES", "3")
	retries, err := strconv.Atoi(retriesStr)
	if err != nil || retries < 1 {
		return nil, fmt.Errorf("invalid MAX_RETRIES: %q", retriesStr)
	}
	cfg.MaxRetries = retries

	timeoutStr := getEnv("REQUEST_TIMEOUT", "120s")
	timeout, err := time.ParseDuration(timeoutStr)
	if err != nil {
		return nil, fmt.Errorf("invalid REQUEST_TIMEOUT: %w", err)
	}
	cfg.RequestTimeout = timeout

	tpmStr := getEnv("DEFAULT_RATE_LIMIT_TPM", "100000")
	tpm, err := strconv.ParseInt(tpmStr, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid DEFAULT_RATE_LIMIT_TPM: %w", err)
	}
	cfg.DefaultRateLimitTPM = tpm

	// Validation
	if cfg.PostgresDSN == "" {
		return nil, fmt.Errorf("POSTGRES_DSN is required")
	}
	if cfg.RedisAddr == "" {
		return nil, fmt.Errorf("REDIS_ADDR is required")
	}

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}
