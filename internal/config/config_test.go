package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestLoadDefaults(t *testing.T) {
	// Change to temp dir so no config.yaml is found
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) })

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "sqlite", cfg.Store.Driver)
	assert.Equal(t, "data/deal-enrich.db", cfg.Checkpoint.Path)
	assert.Equal(t, "output", cfg.Output.Dir)
	assert.Equal(t, BackendNone, cfg.Remote.Backend)
	assert.Equal(t, "Deals", cfg.Remote.Sheets.Sheet)
	assert.InDelta(t, 3.0, cfg.Remote.Notion.RatePerSecond, 0.001)
	assert.Equal(t, 5, cfg.Sink.FailureThreshold)
	assert.Equal(t, 3, cfg.Sink.MaxAttempts)
	assert.Equal(t, 4, cfg.Inference.MaxAttempts)
	assert.Equal(t, int64(2048), cfg.Inference.MaxTokens)
	assert.Equal(t, 60, cfg.Inference.TimeoutSecs)
	assert.Equal(t, "claude-sonnet-4-5-20250929", cfg.Anthropic.Model)
	assert.Equal(t, "deal-enrich/1.0", cfg.Fetch.UserAgent)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.False(t, cfg.Monitoring.Enabled)
	assert.Equal(t, 24, cfg.Monitoring.LookbackWindowHours)
	assert.Equal(t, 100, cfg.Monitoring.DLQDepthThreshold)
}

func TestLoadFromYAML(t *testing.T) {
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) })

	yaml := `
store:
  driver: postgres
  database_url: postgres://localhost/deals
remote:
  backend: sheets
  sheets:
    spreadsheet_id: abc123
sink:
  failure_threshold: 8
log:
  level: debug
  format: console
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0644))

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Equal(t, "postgres://localhost/deals", cfg.Store.DatabaseURL)
	assert.Equal(t, BackendSheets, cfg.Remote.Backend)
	assert.Equal(t, "abc123", cfg.Remote.Sheets.SpreadsheetID)
	assert.Equal(t, 8, cfg.Sink.FailureThreshold)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "console", cfg.Log.Format)
	// Defaults still apply for unset values
	assert.Equal(t, "Deals", cfg.Remote.Sheets.Sheet)
	assert.Equal(t, 3, cfg.Sink.MaxAttempts)
}

func TestLoadEnvOverridesFile(t *testing.T) {
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) })

	yaml := `
store:
  driver: sqlite
log:
  level: debug
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0644))

	t.Setenv("DEALENRICH_STORE_DRIVER", "postgres")
	t.Setenv("DEALENRICH_LOG_LEVEL", "warn")

	cfg, err := Load()
	require.NoError(t, err)

	// Env overrides file
	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Equal(t, "warn", cfg.Log.Level)
}

func TestLoadEnvOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) })

	t.Setenv("DEALENRICH_SERVER_PORT", "3000")
	t.Setenv("DEALENRICH_ANTHROPIC_KEY", "sk-ant-test")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 3000, cfg.Server.Port)
	assert.Equal(t, "sk-ant-test", cfg.Anthropic.Key)
}

func TestLoadMalformedFile(t *testing.T) {
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) })

	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte("store: [unclosed"), 0644))

	_, err := Load()
	assert.Error(t, err)
}

func TestInitLoggerConsole(t *testing.T) {
	err := InitLogger(LogConfig{Level: "debug", Format: "console"})
	require.NoError(t, err)
	assert.NotNil(t, zap.L())
}

func TestInitLoggerJSON(t *testing.T) {
	err := InitLogger(LogConfig{Level: "info", Format: "json"})
	require.NoError(t, err)
	assert.NotNil(t, zap.L())
}

func TestInitLoggerInvalidLevel(t *testing.T) {
	err := InitLogger(LogConfig{Level: "invalid", Format: "json"})
	assert.Error(t, err)
}

// validDefaults returns a Config with all defaults populated for validation tests.
func validDefaults() *Config {
	cfg := &Config{}
	cfg.Store.Driver = "sqlite"
	cfg.Checkpoint.Path = "data/deal-enrich.db"
	cfg.Output.Dir = "output"
	cfg.Remote.Backend = BackendNone
	cfg.Inference.MaxAttempts = 4
	cfg.Inference.JitterFraction = 0.25
	cfg.Sink.MaxAttempts = 3
	cfg.Sink.FailureThreshold = 5
	cfg.Sink.JitterFraction = 0.25
	cfg.Server.Port = 8080
	cfg.Anthropic.Model = "claude-sonnet-4-5-20250929"
	return cfg
}

func TestValidateRun_AllPresent(t *testing.T) {
	cfg := validDefaults()
	cfg.Anthropic.Key = "sk-ant-key"

	assert.NoError(t, cfg.Validate("run"))
}

func TestValidateRun_MissingKey(t *testing.T) {
	cfg := validDefaults()

	err := cfg.Validate("run")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "anthropic.key is required")

	assert.NoError(t, cfg.Validate("offline"), "offline runs need no API key")
}

func TestValidateRun_RemoteBackends(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"sheets missing id", func(c *Config) { c.Remote.Backend = BackendSheets }, "remote.sheets.spreadsheet_id is required"},
		{"sheets ok", func(c *Config) {
			c.Remote.Backend = BackendSheets
			c.Remote.Sheets.SpreadsheetID = "abc"
			c.Remote.Sheets.Sheet = "Deals"
		}, ""},
		{"notion missing token", func(c *Config) {
			c.Remote.Backend = BackendNotion
			c.Remote.Notion.DatabaseID = "db"
		}, "remote.notion.token is required"},
		{"notion ok", func(c *Config) {
			c.Remote.Backend = BackendNotion
			c.Remote.Notion.Token = "ntn"
			c.Remote.Notion.DatabaseID = "db"
		}, ""},
		{"unknown backend", func(c *Config) { c.Remote.Backend = "airtable" }, "remote.backend must be"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validDefaults()
			tt.mutate(cfg)
			err := cfg.Validate("offline")
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestValidateRun_SinkBounds(t *testing.T) {
	cfg := validDefaults()
	cfg.Sink.FailureThreshold = 0
	cfg.Sink.JitterFraction = 1.5

	err := cfg.Validate("offline")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "sink.failure_threshold must be >= 1")
	assert.Contains(t, err.Error(), "jitter_fraction must be between 0 and 1")
}

func TestValidateStore(t *testing.T) {
	cfg := validDefaults()
	assert.NoError(t, cfg.Validate("store"))

	cfg.Store.Driver = "postgres"
	err := cfg.Validate("store")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "store.database_url is required")

	cfg.Store.DatabaseURL = "postgres://localhost/deals"
	assert.NoError(t, cfg.Validate("store"))

	cfg.Store.Driver = "mysql"
	assert.Error(t, cfg.Validate("store"))
}

func TestValidateServe_InvalidPort(t *testing.T) {
	cfg := validDefaults()
	cfg.Server.Port = 0

	err := cfg.Validate("serve")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "server.port must be > 0")
}

func TestValidateUnknownMode(t *testing.T) {
	cfg := validDefaults()
	err := cfg.Validate("unknown")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "unknown mode")
}

func TestValidateServe_MonitoringNeedsWebhook(t *testing.T) {
	cfg := validDefaults()
	cfg.Monitoring.Enabled = true

	err := cfg.Validate("serve")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "monitoring.webhook_url is required")

	cfg.Monitoring.WebhookURL = "https://hooks.example.com/alerts"
	assert.NoError(t, cfg.Validate("serve"))
}
