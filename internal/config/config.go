package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	// HTTP API
	APIAddr string
	APIKey  string
	DevMode bool

	// Analytical database
	DatabaseURL      string
	PGMaxConns       int
	PGMinConns       int
	StatementTimeout time.Duration

	// Query loop
	SQLMaxLimit   int
	MaxSQLRetries int

	// Model provider
	OpenRouterAPIKey string
	LLMModel         string
	LLMBaseURL       string

	// Schema registry
	SchemaRegistryPath string
	SchemaReconcile    bool

	// Redis settings
	RedisAddr string

	// ClickHouse settings
	ClickHouseAddr     string
	ClickHouseDatabase string
	ClickHouseUsername string
	ClickHousePassword string
	QueryLogEnabled    bool

	// Rate limiting for /v1/ai
	AIRateLimit float64
	AIRateBurst int
}

func Load() *Config {
	return &Config{
		// API
		APIAddr: getEnv("API_ADDR", ":8080"),
		APIKey:  getEnv("API_KEY", ""),
		DevMode: getBoolEnv("DEV_MODE", false),

		// Postgres
		DatabaseURL:      getEnv("DATABASE_URL", ""),
		PGMaxConns:       getIntEnv("PG_MAX_CONNS", 10),
		PGMinConns:       getIntEnv("PG_MIN_CONNS", 2),
		StatementTimeout: getDurationEnv("STATEMENT_TIMEOUT", 30*time.Second),

		// Loop
		SQLMaxLimit:   getIntEnv("SQL_MAX_LIMIT", 500),
		MaxSQLRetries: getIntEnv("MAX_SQL_RETRIES", 3),

		// LLM
		OpenRouterAPIKey: getEnv("OPENROUTER_API_KEY", ""),
		LLMModel:         getEnv("LLM_MODEL", "openai/gpt-4.1-mini"),
		LLMBaseURL:       getEnv("LLM_BASE_URL", "https://openrouter.ai/api/v1"),

		// Schema
		SchemaRegistryPath: getEnv("SCHEMA_REGISTRY_PATH", ""),
		SchemaReconcile:    getBoolEnv("SCHEMA_RECONCILE", false),

		// Redis
		RedisAddr: getEnv("REDIS_ADDR", "localhost:6379"),

		// ClickHouse
		ClickHouseAddr:     getEnv("CLICKHOUSE_ADDR", "localhost:9000"),
		ClickHouseDatabase: getEnv("CLICKHOUSE_DATABASE", "nlq"),
		ClickHouseUsername: getEnv("CLICKHOUSE_USERNAME", "default"),
		ClickHousePassword: getEnv("CLICKHOUSE_PASSWORD", ""),
		QueryLogEnabled:    getBoolEnv("QUERY_LOG_ENABLED", true),

		// Rate limit
		AIRateLimit: getFloatEnv("AI_RATE_LIMIT", 1),
		AIRateBurst: getIntEnv("AI_RATE_BURST", 3),
	}
}

// Validate reports every missing or out-of-range setting at once.
func (c *Config) Validate() error {
	var errs []error
	if c.DatabaseURL == "" {
		errs = append(errs, errors.New("DATABASE_URL is required"))
	}
	if c.OpenRouterAPIKey == "" {
		errs = append(errs, errors.New("OPENROUTER_API_KEY is required"))
	}
	if c.PGMaxConns <= 0 {
		errs = append(errs, fmt.Errorf("PG_MAX_CONNS must be positive, got %d", c.PGMaxConns))
	}
	if c.PGMinConns < 0 || c.PGMinConns > c.PGMaxConns {
		errs = append(errs, fmt.Errorf("PG_MIN_CONNS must be between 0 and PG_MAX_CONNS, got %d", c.PGMinConns))
	}
	if c.StatementTimeout <= 0 {
		errs = append(errs, errors.New("STATEMENT_TIMEOUT must be positive"))
	}
	if c.SQLMaxLimit <= 0 {
		errs = append(errs, fmt.Errorf("SQL_MAX_LIMIT must be positive, got %d", c.SQLMaxLimit))
	}
	if c.MaxSQLRetries < 0 {
		errs = append(errs, fmt.Errorf("MAX_SQL_RETRIES must not be negative, got %d", c.MaxSQLRetries))
	}
	if c.AIRateLimit <= 0 || c.AIRateBurst <= 0 {
		errs = append(errs, errors.New("AI_RATE_LIMIT and AI_RATE_BURST must be positive"))
	}
	return errors.Join(errs...)
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getIntEnv(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}

func getFloatEnv(key string, defaultVal float64) float64 {
	if val := os.Getenv(key); val != "" {
		if f, err := strconv.ParseFloat(val, 64); err == nil {
			return f
		}
	}
	return defaultVal
}

func getBoolEnv(key string, defaultVal bool) bool {
	switch strings.ToLower(strings.TrimSpace(os.Getenv(key))) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	}
	return defaultVal
}

func getDurationEnv(key string, defaultVal time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			return d
		}
	}
	return defaultVal
}
