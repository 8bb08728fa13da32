package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	for _, k := range []string{"API_ADDR", "PG_MAX_CONNS", "STATEMENT_TIMEOUT", "SQL_MAX_LIMIT", "MAX_SQL_RETRIES", "DEV_MODE", "QUERY_LOG_ENABLED"} {
		t.Setenv(k, "")
	}

	cfg := Load()
	assert.Equal(t, ":8080", cfg.APIAddr)
	assert.Equal(t, 10, cfg.PGMaxConns)
	assert.Equal(t, 2, cfg.PGMinConns)
	assert.Equal(t, 30*time.Second, cfg.StatementTimeout)
	assert.Equal(t, 500, cfg.SQLMaxLimit)
	assert.Equal(t, 3, cfg.MaxSQLRetries)
	assert.False(t, cfg.DevMode)
	assert.True(t, cfg.QueryLogEnabled)
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("STATEMENT_TIMEOUT", "5s")
	t.Setenv("SQL_MAX_LIMIT", "100")
	t.Setenv("DEV_MODE", "true")
	t.Setenv("QUERY_LOG_ENABLED", "off")
	t.Setenv("AI_RATE_LIMIT", "2.5")
	t.Setenv("PG_MAX_CONNS", "not-a-number")

	cfg := Load()
	assert.Equal(t, 5*time.Second, cfg.StatementTimeout)
	assert.Equal(t, 100, cfg.SQLMaxLimit)
	assert.True(t, cfg.DevMode)
	assert.False(t, cfg.QueryLogEnabled)
	assert.Equal(t, 2.5, cfg.AIRateLimit)
	assert.Equal(t, 10, cfg.PGMaxConns)
}

func TestValidate(t *testing.T) {
	t.Setenv("DATABASE_URL", "")
	t.Setenv("OPENROUTER_API_KEY", "")
	cfg := Load()

	err := cfg.Validate()
	require.Error(t, err)
	assert.ErrorContains(t, err, "DATABASE_URL")
	assert.ErrorContains(t, err, "OPENROUTER_API_KEY")

	cfg.DatabaseURL = "postgres://localhost/defi"
	cfg.OpenRouterAPIKey = "sk-test"
	assert.NoError(t, cfg.Validate())

	cfg.PGMinConns = 20
	assert.ErrorContains(t, cfg.Validate(), "PG_MIN_CONNS")
}
