package config

import (
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Anthropic  AnthropicConfig  `yaml:"anthropic" mapstructure:"anthropic"`
	Inference  InferenceConfig  `yaml:"inference" mapstructure:"inference"`
	Store      StoreConfig      `yaml:"store" mapstructure:"store"`
	Checkpoint CheckpointConfig `yaml:"checkpoint" mapstructure:"checkpoint"`
	Output     OutputConfig     `yaml:"output" mapstructure:"output"`
	Remote     RemoteConfig     `yaml:"remote" mapstructure:"remote"`
	Sink       SinkConfig       `yaml:"sink" mapstructure:"sink"`
	Fetch      FetchConfig      `yaml:"fetch" mapstructure:"fetch"`
	Server     ServerConfig     `yaml:"server" mapstructure:"server"`
	Monitoring MonitoringConfig `yaml:"monitoring" mapstructure:"monitoring"`
	Log        LogConfig        `yaml:"log" mapstructure:"log"`
}

// AnthropicConfig holds Anthropic API settings.
type AnthropicConfig struct {
	Key     string `yaml:"key" mapstructure:"key"`
	Model   string `yaml:"model" mapstructure:"model"`
	BaseURL string `yaml:"base_url" mapstructure:"base_url"`
}

// InferenceConfig configures the inference client and prompts.
type InferenceConfig struct {
	MaxTokens        int64   `yaml:"max_tokens" mapstructure:"max_tokens"`
	Temperature      float64 `yaml:"temperature" mapstructure:"temperature"`
	TimeoutSecs      int     `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	MaxAttempts      int     `yaml:"max_attempts" mapstructure:"max_attempts"`
	InitialBackoffMs int     `yaml:"initial_backoff_ms" mapstructure:"initial_backoff_ms"`
	MaxBackoffMs     int     `yaml:"max_backoff_ms" mapstructure:"max_backoff_ms"`
	Multiplier       float64 `yaml:"multiplier" mapstructure:"multiplier"`
	JitterFraction   float64 `yaml:"jitter_fraction" mapstructure:"jitter_fraction"`
	RatePerSecond    float64 `yaml:"rate_per_second" mapstructure:"rate_per_second"`
	Burst            int     `yaml:"burst" mapstructure:"burst"`
	// PromptsFile overrides the built-in prompt templates.
	PromptsFile string `yaml:"prompts_file" mapstructure:"prompts_file"`
}

// StoreConfig configures the database backend for checkpoints, runs and
// the dead letter queue.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns    int32  `yaml:"min_conns" mapstructure:"min_conns"`
}

// CheckpointConfig configures the SQLite checkpoint file.
type CheckpointConfig struct {
	Path string `yaml:"path" mapstructure:"path"`
}

// OutputConfig configures the local sinks.
type OutputConfig struct {
	Dir string `yaml:"dir" mapstructure:"dir"`
}

// RemoteConfig selects and configures the remote table.
type RemoteConfig struct {
	Backend string       `yaml:"backend" mapstructure:"backend"`
	Sheets  SheetsConfig `yaml:"sheets" mapstructure:"sheets"`
	Notion  NotionConfig `yaml:"notion" mapstructure:"notion"`
}

// SheetsConfig addresses a Google Sheets worksheet.
type SheetsConfig struct {
	SpreadsheetID   string  `yaml:"spreadsheet_id" mapstructure:"spreadsheet_id"`
	Sheet           string  `yaml:"sheet" mapstructure:"sheet"`
	CredentialsFile string  `yaml:"credentials_file" mapstructure:"credentials_file"`
	RatePerSecond   float64 `yaml:"rate_per_second" mapstructure:"rate_per_second"`
}

// NotionConfig addresses a Notion database.
type NotionConfig struct {
	Token         string  `yaml:"token" mapstructure:"token"`
	DatabaseID    string  `yaml:"database_id" mapstructure:"database_id"`
	RatePerSecond float64 `yaml:"rate_per_second" mapstructure:"rate_per_second"`
}

// SinkConfig configures retries and the failure threshold for sink writes.
type SinkConfig struct {
	MaxAttempts      int     `yaml:"max_attempts" mapstructure:"max_attempts"`
	InitialBackoffMs int     `yaml:"initial_backoff_ms" mapstructure:"initial_backoff_ms"`
	MaxBackoffMs     int     `yaml:"max_backoff_ms" mapstructure:"max_backoff_ms"`
	Multiplier       float64 `yaml:"multiplier" mapstructure:"multiplier"`
	JitterFraction   float64 `yaml:"jitter_fraction" mapstructure:"jitter_fraction"`
	FailureThreshold int     `yaml:"failure_threshold" mapstructure:"failure_threshold"`
}

// FetchConfig configures downloads of remote feeds.
type FetchConfig struct {
	Dir           string  `yaml:"dir" mapstructure:"dir"`
	UserAgent     string  `yaml:"user_agent" mapstructure:"user_agent"`
	TimeoutSecs   int     `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	RatePerSecond float64 `yaml:"rate_per_second" mapstructure:"rate_per_second"`
}

// ServerConfig configures the status server.
type ServerConfig struct {
	Port int `yaml:"port" mapstructure:"port"`
}

// MonitoringConfig configures the alert checker run by serve.
type MonitoringConfig struct {
	Enabled                    bool    `yaml:"enabled" mapstructure:"enabled"`
	WebhookURL                 string  `yaml:"webhook_url" mapstructure:"webhook_url"`
	CheckIntervalSecs          int     `yaml:"check_interval_secs" mapstructure:"check_interval_secs"`
	LookbackWindowHours        int     `yaml:"lookback_window_hours" mapstructure:"lookback_window_hours"`
	RunFailureRateThreshold    float64 `yaml:"run_failure_rate_threshold" mapstructure:"run_failure_rate_threshold"`
	RecordFailureRateThreshold float64 `yaml:"record_failure_rate_threshold" mapstructure:"record_failure_rate_threshold"`
	DLQDepthThreshold          int     `yaml:"dlq_depth_threshold" mapstructure:"dlq_depth_threshold"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Remote backends.
const (
	BackendNone   = "none"
	BackendSheets = "sheets"
	BackendNotion = "notion"
)

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("DEALENRICH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Keys without a default are registered so env-only values unmarshal.
	for _, key := range []string{
		"anthropic.key",
		"anthropic.base_url",
		"inference.prompts_file",
		"store.database_url",
		"remote.sheets.spreadsheet_id",
		"remote.sheets.credentials_file",
		"remote.notion.token",
		"remote.notion.database_id",
		"monitoring.webhook_url",
	} {
		v.SetDefault(key, "")
	}

	// Defaults
	v.SetDefault("anthropic.model", "claude-sonnet-4-5-20250929")
	v.SetDefault("inference.max_tokens", 2048)
	v.SetDefault("inference.temperature", 0.0)
	v.SetDefault("inference.timeout_secs", 60)
	v.SetDefault("inference.max_attempts", 4)
	v.SetDefault("inference.initial_backoff_ms", 1000)
	v.SetDefault("inference.max_backoff_ms", 30000)
	v.SetDefault("inference.multiplier", 2.0)
	v.SetDefault("inference.jitter_fraction", 0.25)
	v.SetDefault("inference.rate_per_second", 1.0)
	v.SetDefault("inference.burst", 1)
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("checkpoint.path", "data/deal-enrich.db")
	v.SetDefault("output.dir", "output")
	v.SetDefault("remote.backend", BackendNone)
	v.SetDefault("remote.sheets.sheet", "Deals")
	v.SetDefault("remote.sheets.rate_per_second", 1.0)
	v.SetDefault("remote.notion.rate_per_second", 3.0)
	v.SetDefault("sink.max_attempts", 3)
	v.SetDefault("sink.initial_backoff_ms", 500)
	v.SetDefault("sink.max_backoff_ms", 10000)
	v.SetDefault("sink.multiplier", 2.0)
	v.SetDefault("sink.jitter_fraction", 0.25)
	v.SetDefault("sink.failure_threshold", 5)
	v.SetDefault("fetch.dir", "data/feeds")
	v.SetDefault("fetch.user_agent", "deal-enrich/1.0")
	v.SetDefault("fetch.timeout_secs", 120)
	v.SetDefault("fetch.rate_per_second", 2.0)
	v.SetDefault("server.port", 8080)
	v.SetDefault("monitoring.enabled", false)
	v.SetDefault("monitoring.check_interval_secs", 300)
	v.SetDefault("monitoring.lookback_window_hours", 24)
	v.SetDefault("monitoring.run_failure_rate_threshold", 0.2)
	v.SetDefault("monitoring.record_failure_rate_threshold", 0.25)
	v.SetDefault("monitoring.dlq_depth_threshold", 100)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
