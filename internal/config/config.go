// Package config handles runner configuration and environment loading.
package config

import (
	"bufio"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
)

// Config holds the configuration for a runner daemon.
type Config struct {
	RunnerToken   string // pre-shared secret for the HTTP command surface (required)
	ListenAddr    string // HTTP listen address (default ":9444")
	MetastorePath string // path to the SQLite metastore (default "moonbox_meta.sqlite")
	Principal     string // identity used for insert-privilege checks (default "runner")

	// Pushdown source. Both must be set to enable the pushdown path.
	SourceAlias string // alias the source database is attached under
	SourceDSN   string // DuckDB-attachable path/DSN of the source

	SourceInsertable bool // source accepts direct system-to-system writes

	PoolSize    int64  // bounded worker pool size (default 8, capped at 10)
	MaxMemoryGB int    // DuckDB memory limit, 0 leaves the default
	LogLevel    string // debug, info, warn, error (default "info")

	// Rate limiting for the HTTP surface.
	RateLimitRPS   float64
	RateLimitBurst int
}

// SlogLevel maps the LogLevel string to an slog.Level.
func (c *Config) SlogLevel() slog.Level {
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// PushdownEnabled reports whether a pushdown source is configured.
func (c *Config) PushdownEnabled() bool {
	return c.SourceAlias != "" && c.SourceDSN != ""
}

// LoadFromEnv loads configuration from environment variables.
func LoadFromEnv() (*Config, error) {
	cfg := &Config{
		RunnerToken:      os.Getenv("RUNNER_TOKEN"),
		ListenAddr:       os.Getenv("LISTEN_ADDR"),
		MetastorePath:    os.Getenv("METASTORE_PATH"),
		Principal:        os.Getenv("RUNNER_PRINCIPAL"),
		SourceAlias:      os.Getenv("SOURCE_ALIAS"),
		SourceDSN:        os.Getenv("SOURCE_DSN"),
		SourceInsertable: strings.EqualFold(os.Getenv("SOURCE_INSERTABLE"), "true"),
		LogLevel:         os.Getenv("LOG_LEVEL"),
	}

	if v := os.Getenv("POOL_SIZE"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid POOL_SIZE: %w", err)
		}
		cfg.PoolSize = n
	}
	if v := os.Getenv("MAX_MEMORY_GB"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("invalid MAX_MEMORY_GB: %w", err)
		}
		cfg.MaxMemoryGB = n
	}
	if v := os.Getenv("RATE_LIMIT_RPS"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.RateLimitRPS = f
		}
	}
	if v := os.Getenv("RATE_LIMIT_BURST"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.RateLimitBurst = n
		}
	}

	if cfg.RunnerToken == "" {
		return nil, fmt.Errorf("RUNNER_TOKEN is required")
	}
	if (cfg.SourceAlias == "") != (cfg.SourceDSN == "") {
		return nil, fmt.Errorf("SOURCE_ALIAS and SOURCE_DSN must be set together")
	}

	// Defaults
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = ":9444"
	}
	if cfg.MetastorePath == "" {
		cfg.MetastorePath = "moonbox_meta.sqlite"
	}
	if cfg.Principal == "" {
		cfg.Principal = "runner"
	}
	if cfg.PoolSize == 0 {
		cfg.PoolSize = 8
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	if cfg.RateLimitRPS == 0 {
		cfg.RateLimitRPS = 100
	}
	if cfg.RateLimitBurst == 0 {
		cfg.RateLimitBurst = 200
	}

	return cfg, nil
}

// LoadDotEnv reads a .env file and sets any variables not already in the
// environment. Lines must be in KEY=VALUE format. Comments (#) and blank
// lines are skipped.
func LoadDotEnv(path string) error {
	f, err := os.Open(path) //nolint:gosec // path is caller-controlled
	if err != nil {
		if os.IsNotExist(err) {
			return nil // .env not found is not an error
		}
		return fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close() //nolint:errcheck

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		value = stripQuotes(strings.TrimSpace(value))
		// Env vars take precedence over .env entries
		if os.Getenv(key) == "" {
			if err := os.Setenv(key, value); err != nil {
				return fmt.Errorf("setenv %s: %w", key, err)
			}
		}
	}
	return scanner.Err()
}

// stripQuotes removes surrounding double or single quotes from a value.
func stripQuotes(s string) string {
	if len(s) >= 2 {
		if (s[0] == '"' && s[len(s)-1] == '"') || (s[0] == '\'' && s[len(s)-1] == '\'') {
			return s[1 : len(s)-1]
		}
	}
	return s
}
