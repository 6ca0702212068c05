package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	for _, k := range []string{"APP_PORT", "DB_PATH", "REDIS_ADDR", "REDIS_DB", "LOG_LEVEL", "LOG_DEVELOPMENT",
		"ACCRUAL_INTERVAL", "IDEMPOTENCY_TTL_SECONDS", "LOCK_TTL_SECONDS", "CORS_ALLOWED_ORIGINS"} {
		t.Setenv(k, "")
	}

	c := Load()

	assert.Equal(t, "8080", c.AppPort)
	assert.Equal(t, "pledge.db", c.DBPath)
	assert.Empty(t, c.RedisAddr)
	assert.Equal(t, "info", c.LogLevel)
	assert.False(t, c.LogDevelopment)
	assert.Equal(t, 24*time.Hour, c.AccrualInterval)
	assert.Equal(t, 300*time.Second, c.IdempotencyTTL)
	assert.Equal(t, 30*time.Second, c.LockTTL)
	assert.Equal(t, []string{"*"}, c.CORSAllowedOrigins)
	assert.Equal(t, ":8080", c.Addr())
	require.NoError(t, c.Validate())
}

func TestLoad_FromEnvironment(t *testing.T) {
	t.Setenv("APP_PORT", "9090")
	t.Setenv("REDIS_ADDR", "localhost:6379")
	t.Setenv("REDIS_DB", "3")
	t.Setenv("LOG_DEVELOPMENT", "true")
	t.Setenv("ACCRUAL_INTERVAL", "1h")
	t.Setenv("LOCK_TTL_SECONDS", "5")
	t.Setenv("CORS_ALLOWED_ORIGINS", "https://a.example, https://b.example ,")

	c := Load()

	assert.Equal(t, "9090", c.AppPort)
	assert.Equal(t, "localhost:6379", c.RedisAddr)
	assert.Equal(t, 3, c.RedisDB)
	assert.True(t, c.LogDevelopment)
	assert.Equal(t, time.Hour, c.AccrualInterval)
	assert.Equal(t, 5*time.Second, c.LockTTL)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, c.CORSAllowedOrigins)
	require.NoError(t, c.Validate())
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"missing port", func(c *Config) { c.AppPort = "" }},
		{"bad port", func(c *Config) { c.AppPort = "99999" }},
		{"missing db", func(c *Config) { c.DBPath = "" }},
		{"zero interval", func(c *Config) { c.AccrualInterval = 0 }},
		{"zero lock ttl", func(c *Config) { c.LockTTL = 0 }},
		{"zero idempotency ttl", func(c *Config) { c.IdempotencyTTL = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("ACCRUAL_INTERVAL", "")
			t.Setenv("APP_PORT", "")
			t.Setenv("DB_PATH", "")
			c := Load()
			tt.mutate(c)
			assert.Error(t, c.Validate())
		})
	}
}
