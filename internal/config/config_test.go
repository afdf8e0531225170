package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func chdirTemp(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) })
	return dir
}

func TestLoadDefaults(t *testing.T) {
	// Change to temp dir so no config.yaml or .env is found
	chdirTemp(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "sqlite", cfg.Store.Driver)
	assert.Equal(t, "contracts.db", cfg.Store.SQLitePath)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, int64(2000), cfg.Anthropic.MaxTokens)
	assert.InDelta(t, 0.1, cfg.Anthropic.Temperature, 0.0001)
	assert.Equal(t, 60, cfg.Anthropic.TimeoutSecs)
	assert.Equal(t, 8000, cfg.Anthropic.MaxPromptChars)
	assert.Equal(t, int64(10*1024*1024), cfg.Extract.MaxFileBytes)
	assert.False(t, cfg.Extract.UsePdfToText)
	assert.InDelta(t, 60.0, cfg.Extract.LowConfidenceThreshold, 0.001)
	assert.Equal(t, "none", cfg.Archive.Driver)
	assert.Equal(t, "contracts", cfg.Archive.Minio.Bucket)
	assert.Equal(t, 1, cfg.Batch.Concurrency)
	assert.Equal(t, 1, cfg.Batch.RetryAttempts)
	assert.False(t, cfg.AIEnabled())

	require.Contains(t, cfg.Pricing.Anthropic, "claude-sonnet-4-5-20250929")
	assert.InDelta(t, 3.0, cfg.Pricing.Anthropic["claude-sonnet-4-5-20250929"].Input, 0.001)
	assert.InDelta(t, 15.0, cfg.Pricing.Anthropic["claude-sonnet-4-5-20250929"].Output, 0.001)
}

func TestLoadFromYAML(t *testing.T) {
	dir := chdirTemp(t)

	yaml := `
store:
  driver: postgres
  database_url: postgres://localhost/contracts
log:
  level: debug
  format: console
server:
  port: 9090
batch:
  concurrency: 4
archive:
  driver: minio
  minio:
    endpoint: localhost:9000
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0644))

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Equal(t, "postgres://localhost/contracts", cfg.Store.DatabaseURL)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "console", cfg.Log.Format)
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, 4, cfg.Batch.Concurrency)
	assert.Equal(t, "minio", cfg.Archive.Driver)
	assert.Equal(t, "localhost:9000", cfg.Archive.Minio.Endpoint)
	// Defaults still apply for unset values
	assert.Equal(t, "contracts", cfg.Archive.Minio.Bucket)
	assert.Equal(t, 8000, cfg.Anthropic.MaxPromptChars)
}

func TestLoadEnvOverridesFile(t *testing.T) {
	dir := chdirTemp(t)

	yaml := `
store:
  driver: postgres
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0644))
	t.Setenv("CONTRACTS_STORE_DRIVER", "sqlite")
	t.Setenv("CONTRACTS_ANTHROPIC_KEY", "sk-test")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "sqlite", cfg.Store.Driver)
	assert.Equal(t, "sk-test", cfg.Anthropic.Key)
	assert.True(t, cfg.AIEnabled())
}

func TestLoadDotEnv(t *testing.T) {
	dir := chdirTemp(t)

	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("CONTRACTS_SERVER_PORT=7070\n"), 0644))
	t.Cleanup(func() { os.Unsetenv("CONTRACTS_SERVER_PORT") })

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 7070, cfg.Server.Port)
}

func TestLoadInvalidYAML(t *testing.T) {
	dir := chdirTemp(t)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte("store: [unclosed"), 0644))

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "config: read file")
}

func TestInitLoggerJSON(t *testing.T) {
	err := InitLogger(LogConfig{Level: "info", Format: "json"})
	require.NoError(t, err)

	logger := zap.L()
	assert.NotNil(t, logger)
}

func TestInitLoggerConsole(t *testing.T) {
	err := InitLogger(LogConfig{Level: "debug", Format: "console"})
	require.NoError(t, err)
}

func TestInitLoggerInvalidLevel(t *testing.T) {
	err := InitLogger(LogConfig{Level: "invalid", Format: "json"})
	assert.Error(t, err)
}

func validDefaults() *Config {
	return &Config{
		Store:     StoreConfig{Driver: "sqlite", SQLitePath: "contracts.db"},
		Anthropic: AnthropicConfig{Model: "claude-sonnet-4-5-20250929", TimeoutSecs: 60},
		Extract:   ExtractConfig{MaxFileBytes: 1024},
		Archive:   ArchiveConfig{Driver: "none"},
		Batch:     BatchConfig{Concurrency: 1},
		Server:    ServerConfig{Port: 8080},
	}
}

func TestValidate_Defaults(t *testing.T) {
	cfg := validDefaults()
	assert.NoError(t, cfg.Validate("store"))
	assert.NoError(t, cfg.Validate("process"))
	assert.NoError(t, cfg.Validate("serve"))
}

func TestValidate_Store(t *testing.T) {
	cfg := validDefaults()
	cfg.Store.Driver = "postgres"
	err := cfg.Validate("store")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "store.database_url is required")

	cfg.Store.Driver = "mysql"
	err = cfg.Validate("store")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "store.driver must be sqlite or postgres")
}

func TestValidate_Process(t *testing.T) {
	cfg := validDefaults()
	cfg.Anthropic.Key = "sk-test"
	cfg.Anthropic.Model = ""
	cfg.Archive.Driver = "minio"
	cfg.Batch.Concurrency = 0

	err := cfg.Validate("process")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "anthropic.model is required")
	assert.Contains(t, err.Error(), "archive.minio.endpoint is required")
	assert.Contains(t, err.Error(), "batch.concurrency must be at least 1")

	// Store-only commands don't care about extraction settings.
	assert.NoError(t, cfg.Validate("store"))
}

func TestValidate_ServePort(t *testing.T) {
	for _, port := range []int{0, -1, 70000} {
		cfg := validDefaults()
		cfg.Server.Port = port
		err := cfg.Validate("serve")
		require.Error(t, err, "port %d", port)
		assert.Contains(t, err.Error(), "server.port")
	}
}
