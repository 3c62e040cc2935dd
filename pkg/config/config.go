// Package config loads service configuration from environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config is the root configuration for the RAG core service.
type Config struct {
	ServiceName string `json:"service_name"`
	Environment string `json:"environment"`
	LogLevel    string `json:"log_level"`
	LogFormat   string `json:"log_format"`

	Redis     RedisConfig     `json:"redis"`
	Weaviate  WeaviateConfig  `json:"weaviate"`
	Embedding EndpointConfig  `json:"embedding"`
	LLM       EndpointConfig  `json:"llm"`
	Translate EndpointConfig  `json:"translate"`
	RateLimit RateLimitConfig `json:"rate_limit"`

	MetricsAddr string `json:"metrics_addr"`
}

// RedisConfig holds shared-store connection settings.
type RedisConfig struct {
	Address  string `json:"address"`
	Password string `json:"password"`
	Database int    `json:"database"`
	Enabled  bool   `json:"enabled"`
}

// WeaviateConfig holds vector index connection settings.
type WeaviateConfig struct {
	Host   string `json:"host"`
	Scheme string `json:"scheme"`
	APIKey string `json:"api_key"`
}

// EndpointConfig describes one external HTTP model endpoint.
type EndpointConfig struct {
	URL     string        `json:"url"`
	APIKey  string        `json:"api_key"`
	Model   string        `json:"model"`
	Timeout time.Duration `json:"timeout"`
}

// RateLimitConfig holds query admission limits.
type RateLimitConfig struct {
	QueriesPerMinute int `json:"queries_per_minute"`
	QueriesPerHour   int `json:"queries_per_hour"`
}

// LoadFromEnv builds the configuration from environment variables with
// sensible defaults for local development.
func LoadFromEnv() (*Config, error) {
	cfg := &Config{
		ServiceName: getEnv("SERVICE_NAME", "onboarding-rag"),
		Environment: getEnv("ENVIRONMENT", "development"),
		LogLevel:    getEnv("LOG_LEVEL", "info"),
		LogFormat:   getEnv("LOG_FORMAT", "json"),
		Redis: RedisConfig{
			Address:  getEnv("REDIS_ADDR", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			Database: getEnvInt("REDIS_DB", 0),
			Enabled:  getEnvBool("REDIS_ENABLED", true),
		},
		Weaviate: WeaviateConfig{
			Host:   getEnv("WEAVIATE_HOST", "localhost:8080"),
			Scheme: getEnv("WEAVIATE_SCHEME", "http"),
			APIKey: getEnv("WEAVIATE_API_KEY", ""),
		},
		Embedding: EndpointConfig{
			URL:     getEnv("EMBEDDING_API_URL", "https://api.openai.com/v1/embeddings"),
			APIKey:  getEnv("EMBEDDING_API_KEY", ""),
			Model:   getEnv("EMBEDDING_MODEL", "text-embedding-3-small"),
			Timeout: getEnvDuration("EMBEDDING_TIMEOUT", 30*time.Second),
		},
		LLM: EndpointConfig{
			URL:     getEnv("LLM_API_URL", "https://api.openai.com/v1/chat/completions"),
			APIKey:  getEnv("LLM_API_KEY", ""),
			Model:   getEnv("LLM_MODEL", "gpt-4o-mini"),
			Timeout: getEnvDuration("LLM_TIMEOUT", 60*time.Second),
		},
		Translate: EndpointConfig{
			URL:     getEnv("TRANSLATE_API_URL", ""),
			APIKey:  getEnv("TRANSLATE_API_KEY", ""),
			Model:   getEnv("TRANSLATE_MODEL", "gpt-4o-mini"),
			Timeout: getEnvDuration("TRANSLATE_TIMEOUT", 30*time.Second),
		},
		RateLimit: RateLimitConfig{
			QueriesPerMinute: getEnvInt("RATE_LIMIT_PER_MINUTE", 10),
			QueriesPerHour:   getEnvInt("RATE_LIMIT_PER_HOUR", 100),
		},
		MetricsAddr: getEnv("METRICS_ADDR", ":9090"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks required fields and value ranges.
func (c *Config) Validate() error {
	if c.Weaviate.Host == "" {
		return fmt.Errorf("weaviate host must be set")
	}
	if c.Embedding.URL == "" {
		return fmt.Errorf("embedding endpoint URL must be set")
	}
	if c.LLM.URL == "" {
		return fmt.Errorf("LLM endpoint URL must be set")
	}
	if c.RateLimit.QueriesPerMinute <= 0 || c.RateLimit.QueriesPerHour <= 0 {
		return fmt.Errorf("rate limits must be positive")
	}
	return nil
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
	}
	return fallback
}
