package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadFromEnv_Defaults(t *testing.T) {
	t.Setenv("RUNNER_TOKEN", "secret")

	cfg, err := LoadFromEnv()
	require.NoError(t, err)

	assert.Equal(t, ":9444", cfg.ListenAddr)
	assert.Equal(t, "moonbox_meta.sqlite", cfg.MetastorePath)
	assert.Equal(t, "runner", cfg.Principal)
	assert.Equal(t, int64(8), cfg.PoolSize)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, 100.0, cfg.RateLimitRPS)
	assert.Equal(t, 200, cfg.RateLimitBurst)
	assert.False(t, cfg.PushdownEnabled())
}

func TestLoadFromEnv_TokenRequired(t *testing.T) {
	t.Setenv("RUNNER_TOKEN", "")

	_, err := LoadFromEnv()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "RUNNER_TOKEN")
}

func TestLoadFromEnv_SourceMustBeSetTogether(t *testing.T) {
	t.Setenv("RUNNER_TOKEN", "secret")
	t.Setenv("SOURCE_ALIAS", "src")
	t.Setenv("SOURCE_DSN", "")

	_, err := LoadFromEnv()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "SOURCE_ALIAS")
}

func TestLoadFromEnv_PushdownSource(t *testing.T) {
	t.Setenv("RUNNER_TOKEN", "secret")
	t.Setenv("SOURCE_ALIAS", "src")
	t.Setenv("SOURCE_DSN", "/data/source.duckdb")
	t.Setenv("SOURCE_INSERTABLE", "true")
	t.Setenv("POOL_SIZE", "4")
	t.Setenv("LOG_LEVEL", "debug")

	cfg, err := LoadFromEnv()
	require.NoError(t, err)
	assert.True(t, cfg.PushdownEnabled())
	assert.True(t, cfg.SourceInsertable)
	assert.Equal(t, int64(4), cfg.PoolSize)
	assert.Equal(t, "debug", cfg.LogLevel)
}

func TestLoadFromEnv_InvalidPoolSize(t *testing.T) {
	t.Setenv("RUNNER_TOKEN", "secret")
	t.Setenv("POOL_SIZE", "lots")

	_, err := LoadFromEnv()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "POOL_SIZE")
}

func TestSlogLevel(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "DEBUG", (&Config{LogLevel: "debug"}).SlogLevel().String())
	assert.Equal(t, "WARN", (&Config{LogLevel: "warning"}).SlogLevel().String())
	assert.Equal(t, "ERROR", (&Config{LogLevel: "error"}).SlogLevel().String())
	assert.Equal(t, "INFO", (&Config{LogLevel: ""}).SlogLevel().String())
}

func TestLoadDotEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	content := "# comment\nRUNNER_TOKEN=\"from-file\"\nLISTEN_ADDR=:7000\n\nbroken line\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	t.Setenv("RUNNER_TOKEN", "")
	t.Setenv("LISTEN_ADDR", ":8000") // env takes precedence

	require.NoError(t, LoadDotEnv(path))
	assert.Equal(t, "from-file", os.Getenv("RUNNER_TOKEN"))
	assert.Equal(t, ":8000", os.Getenv("LISTEN_ADDR"))
}

func TestLoadDotEnv_MissingFileIsNotAnError(t *testing.T) {
	require.NoError(t, LoadDotEnv(filepath.Join(t.TempDir(), "nope.env")))
}
