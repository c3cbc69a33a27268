package config

import (
	"fmt"
	"strings"

	"github.com/rotisserie/eris"
)

// Validate checks the settings a command mode needs. Modes: "run",
// "offline" (run without the inference API), "serve" and "store".
func (c *Config) Validate(mode string) error {
	var errs []string
	add := func(format string, args ...any) {
		errs = append(errs, fmt.Sprintf(format, args...))
	}

	switch mode {
	case "run":
		if c.Anthropic.Key == "" {
			add("anthropic.key is required")
		}
		if c.Anthropic.Model == "" {
			add("anthropic.model is required")
		}
		errs = append(errs, c.validateRun()...)
	case "offline":
		errs = append(errs, c.validateRun()...)
	case "serve":
		if c.Server.Port <= 0 {
			add("server.port must be > 0")
		}
		if c.Monitoring.Enabled && c.Monitoring.WebhookURL == "" {
			add("monitoring.webhook_url is required when monitoring is enabled")
		}
		errs = append(errs, c.validateStore()...)
	case "store":
		errs = append(errs, c.validateStore()...)
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	if len(errs) > 0 {
		return eris.Errorf("config: %s", strings.Join(errs, "; "))
	}
	return nil
}

func (c *Config) validateRun() []string {
	errs := c.validateStore()
	if c.Output.Dir == "" {
		errs = append(errs, "output.dir is required")
	}
	if c.Inference.MaxAttempts < 1 {
		errs = append(errs, "inference.max_attempts must be >= 1")
	}
	if c.Sink.MaxAttempts < 1 {
		errs = append(errs, "sink.max_attempts must be >= 1")
	}
	if c.Sink.FailureThreshold < 1 {
		errs = append(errs, "sink.failure_threshold must be >= 1")
	}
	if c.Inference.JitterFraction < 0 || c.Inference.JitterFraction > 1 ||
		c.Sink.JitterFraction < 0 || c.Sink.JitterFraction > 1 {
		errs = append(errs, "jitter_fraction must be between 0 and 1")
	}

	switch c.Remote.Backend {
	case BackendNone, "":
	case BackendSheets:
		if c.Remote.Sheets.SpreadsheetID == "" {
			errs = append(errs, "remote.sheets.spreadsheet_id is required")
		}
		if c.Remote.Sheets.Sheet == "" {
			errs = append(errs, "remote.sheets.sheet is required")
		}
	case BackendNotion:
		if c.Remote.Notion.Token == "" {
			errs = append(errs, "remote.notion.token is required")
		}
		if c.Remote.Notion.DatabaseID == "" {
			errs = append(errs, "remote.notion.database_id is required")
		}
	default:
		errs = append(errs, fmt.Sprintf("remote.backend must be none, sheets or notion, got %q", c.Remote.Backend))
	}
	return errs
}

func (c *Config) validateStore() []string {
	switch c.Store.Driver {
	case "sqlite":
		if c.Checkpoint.Path == "" {
			return []string{"checkpoint.path is required for the sqlite driver"}
		}
	case "postgres":
		if c.Store.DatabaseURL == "" {
			return []string{"store.database_url is required for the postgres driver"}
		}
	default:
		return []string{fmt.Sprintf("store.driver must be sqlite or postgres, got %q", c.Store.Driver)}
	}
	return nil
}
