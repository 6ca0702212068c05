// Package config reads service settings from the environment.
package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	AppPort string
	DBPath  string

	// RedisAddr empty means in-process locking and no idempotency cache.
	RedisAddr string
	RedisDB   int

	LogLevel       string
	LogDevelopment bool

	AccrualInterval time.Duration
	IdempotencyTTL  time.Duration
	LockTTL         time.Duration

	CORSAllowedOrigins []string
}

func getenv(k, d string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return d
}

func getint(k string, d int) int {
	if v := os.Getenv(k); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return d
}

// Load reads the environment. Unparseable numbers keep their defaults; an
// unparseable ACCRUAL_INTERVAL is left zero so Validate reports it.
func Load() *Config {
	c := &Config{
		AppPort:        getenv("APP_PORT", "8080"),
		DBPath:         getenv("DB_PATH", "pledge.db"),
		RedisAddr:      os.Getenv("REDIS_ADDR"),
		RedisDB:        getint("REDIS_DB", 0),
		LogLevel:       getenv("LOG_LEVEL", "info"),
		IdempotencyTTL: time.Duration(getint("IDEMPOTENCY_TTL_SECONDS", 300)) * time.Second,
		LockTTL:        time.Duration(getint("LOCK_TTL_SECONDS", 30)) * time.Second,
	}
	c.LogDevelopment, _ = strconv.ParseBool(getenv("LOG_DEVELOPMENT", "false"))
	c.AccrualInterval, _ = time.ParseDuration(getenv("ACCRUAL_INTERVAL", "24h"))
	for _, origin := range strings.Split(os.Getenv("CORS_ALLOWED_ORIGINS"), ",") {
		if origin = strings.TrimSpace(origin); origin != "" {
			c.CORSAllowedOrigins = append(c.CORSAllowedOrigins, origin)
		}
	}
	if len(c.CORSAllowedOrigins) == 0 {
		c.CORSAllowedOrigins = []string{"*"}
	}
	return c
}

func (c *Config) Validate() error {
	if c.AppPort == "" {
		return errors.New("missing APP_PORT")
	}
	if _, err := net.LookupPort("tcp", c.AppPort); err != nil {
		return fmt.Errorf("invalid APP_PORT %q: %w", c.AppPort, err)
	}
	if c.DBPath == "" {
		return errors.New("missing DB_PATH")
	}
	if c.AccrualInterval <= 0 {
		return errors.New("ACCRUAL_INTERVAL must be a positive duration")
	}
	if c.IdempotencyTTL <= 0 {
		return errors.New("IDEMPOTENCY_TTL_SECONDS must be positive")
	}
	if c.LockTTL <= 0 {
		return errors.New("LOCK_TTL_SECONDS must be positive")
	}
	return nil
}

// Addr is the listen address for the HTTP server.
func (c *Config) Addr() string { return ":" + c.AppPort }
