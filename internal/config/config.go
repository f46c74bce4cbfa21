package config

import (
	"os"
	"strconv"
)

// Config holds all configuration for the TaskNest backend.
type Config struct {
	Port      int
	Version   string
	Store     StoreConfig
	Resolver  ResolverConfig
	Auth      AuthConfig
	Telemetry TelemetryConfig
	Retention RetentionConfig
}

type RetentionConfig struct {
	// Days a deactivated conversation is kept before the janitor purges it.
	// Zero disables the janitor.
	Days            int
	IntervalMinutes int
}

type StoreConfig struct {
	// Kind selects the backend: "memory" or "sqlite".
	Kind       string
	SQLitePath string
}

type ResolverConfig struct {
	// Kind selects the intent strategy: "pattern" or "model".
	Kind string

	// Model resolver settings, ignored for the pattern resolver.
	OpenAIKey     string
	OpenAIBaseURL string
	Model         string
}

type AuthConfig struct {
	// Tokens maps bearer tokens to user ids, "token=user" pairs separated
	// by commas. Empty means auth is disabled (dev mode) and the identity
	// comes from the X-User-ID header.
	Tokens string
}

type TelemetryConfig struct {
	Enabled      bool
	OTLPEndpoint string
	ServiceName  string
}

// Load reads configuration from environment variables with sensible defaults.
func Load() *Config {
	return &Config{
		Port:    envInt("TASKNEST_PORT", 8080),
		Version: envStr("TASKNEST_VERSION", "0.2.0"),
		Store: StoreConfig{
			Kind:       envStr("TASKNEST_STORE", "memory"),
			SQLitePath: envStr("TASKNEST_SQLITE_PATH", "data/tasknest.db"),
		},
		Resolver: ResolverConfig{
			Kind:          envStr("TASKNEST_RESOLVER", "pattern"),
			OpenAIKey:     envStr("OPENAI_API_KEY", ""),
			OpenAIBaseURL: envStr("OPENAI_BASE_URL", ""),
			Model:         envStr("TASKNEST_MODEL", "gpt-4o-mini"),
		},
		Auth: AuthConfig{
			Tokens: envStr("TASKNEST_AUTH_TOKENS", ""),
		},
		Telemetry: TelemetryConfig{
			Enabled:      envBool("OTEL_ENABLED", false),
			OTLPEndpoint: envStr("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
			ServiceName:  envStr("OTEL_SERVICE_NAME", "tasknest"),
		},
		Retention: RetentionConfig{
			Days:            envInt("TASKNEST_RETENTION_DAYS", 30),
			IntervalMinutes: envInt("TASKNEST_RETENTION_INTERVAL_MINUTES", 60),
		},
	}
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}
