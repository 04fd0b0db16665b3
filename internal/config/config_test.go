package config

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func validConfig() Config {
	cfg := Defaults()
	cfg.Auth.JWTSecret = testSecret
	return cfg
}

// ============================================
// Load Tests
// ============================================

func TestLoad_DefaultsWithoutFile(t *testing.T) {
	t.Setenv(EnvConfigPath, "")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Server.Addr)
	assert.Equal(t, BackendMemory, cfg.Store.Backend)
	assert.Equal(t, 5*time.Second, cfg.Server.LockWait.Duration)
	assert.False(t, cfg.Kafka.Enabled)
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	content := `
log_level = "DEBUG"

[server]
addr = ":9090"
lock_wait = "250ms"

[store]
backend = "Postgres"
dsn = "postgres://localhost/orders"

[kafka]
enabled = true
brokers = ["k1:9092", "k2:9092"]
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, ":9090", cfg.Server.Addr)
	assert.Equal(t, 250*time.Millisecond, cfg.Server.LockWait.Duration)
	assert.Equal(t, BackendPostgres, cfg.Store.Backend)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Kafka.Brokers)
	// untouched sections keep their defaults
	assert.Equal(t, "order-events", cfg.Kafka.EventsTopic)
}

func TestLoad_PathFromEnvironment(t *testing.T) {
	path := filepath.Join(t.TempDir(), "env.toml")
	require.NoError(t, os.WriteFile(path, []byte("[server]\naddr = \":7070\"\n"), 0o600))
	t.Setenv(EnvConfigPath, path)

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, ":7070", cfg.Server.Addr)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv(EnvConfigPath, "")
	t.Setenv("FULFILLMENT_AUTH_JWT_SECRET", testSecret)
	t.Setenv("FULFILLMENT_KAFKA_BROKERS", "a:1, b:2 ,")
	t.Setenv("FULFILLMENT_REDIS_LOCK_TTL", "10s")
	t.Setenv("FULFILLMENT_SERVER_RATINGS_PAGE_SIZE", "25")
	t.Setenv("FULFILLMENT_KAFKA_ENABLED", "true")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, testSecret, cfg.Auth.JWTSecret)
	assert.Equal(t, []string{"a:1", "b:2"}, cfg.Kafka.Brokers)
	assert.Equal(t, 10*time.Second, cfg.Redis.LockTTL.Duration)
	assert.Equal(t, 25, cfg.Server.RatingsPageSize)
	assert.True(t, cfg.Kafka.Enabled)
}

func TestLoad_InvalidEnvValuesReportedByValidate(t *testing.T) {
	t.Setenv(EnvConfigPath, "")
	t.Setenv("FULFILLMENT_AUTH_JWT_SECRET", testSecret)
	t.Setenv("FULFILLMENT_STORE_MAX_CONNS", "lots")
	t.Setenv("FULFILLMENT_KAFKA_ENABLED", "sometimes")
	t.Setenv("FULFILLMENT_REDIS_LOCK_TTL", "ten seconds")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 10, cfg.Store.MaxConns)

	err = cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "FULFILLMENT_STORE_MAX_CONNS")
	assert.Contains(t, err.Error(), "FULFILLMENT_KAFKA_ENABLED")
	assert.Contains(t, err.Error(), "FULFILLMENT_REDIS_LOCK_TTL")
}

func TestLoad_DatabaseURLIsFallback(t *testing.T) {
	t.Setenv(EnvConfigPath, "")
	t.Setenv("DATABASE_URL", "postgres://fallback/orders")

	t.Setenv("FULFILLMENT_STORE_DSN", "postgres://primary/orders")
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "postgres://primary/orders", cfg.Store.DSN)

	t.Setenv("FULFILLMENT_STORE_DSN", "")
	cfg, err = Load("")
	require.NoError(t, err)
	assert.Equal(t, "postgres://fallback/orders", cfg.Store.DSN)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.toml"))
	assert.Error(t, err)
}

// ============================================
// Validate Tests
// ============================================

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{"defaults with secret", func(c *Config) {}, ""},
		{"short secret", func(c *Config) { c.Auth.JWTSecret = "short" }, "jwt_secret"},
		{"unknown backend", func(c *Config) { c.Store.Backend = "mongo" }, "unknown backend"},
		{"postgres without dsn", func(c *Config) { c.Store.Backend = BackendPostgres }, "dsn is required"},
		{"postgres with dsn", func(c *Config) {
			c.Store.Backend = BackendPostgres
			c.Store.DSN = "postgres://localhost/orders"
		}, ""},
		{"dynamodb without table", func(c *Config) {
			c.Store.Backend = BackendDynamoDB
			c.Store.ClaimsTable = ""
		}, "table names"},
		{"kafka without brokers", func(c *Config) {
			c.Kafka.Enabled = true
			c.Kafka.Brokers = nil
		}, "brokers are required"},
		{"bad log level", func(c *Config) { c.LogLevel = "verbose" }, "log_level"},
		{"redis without ttl", func(c *Config) {
			c.Redis.Addr = "localhost:6379"
			c.Redis.LockTTL.Duration = 0
		}, "lock_ttl"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(&cfg)

			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestValidate_ReportsAllProblems(t *testing.T) {
	cfg := Defaults()
	cfg.Store.Backend = "mongo"
	cfg.LogLevel = "loud"

	err := cfg.Validate()
	require.Error(t, err)
	assert.Equal(t, 3, strings.Count(err.Error(), "\n  - "))
}

// ============================================
// Logger Tests
// ============================================

func TestNewLogger_RespectsLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&buf, "warn")

	logger.Info("hidden")
	logger.Warn("shown", "order_id", "o1")

	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), `"order_id":"o1"`)
}
