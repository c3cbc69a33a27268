package main

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/deal-enrich/internal/config"
	"github.com/sells-group/deal-enrich/internal/cost"
	"github.com/sells-group/deal-enrich/internal/inference"
	"github.com/sells-group/deal-enrich/internal/resilience"
	"github.com/sells-group/deal-enrich/internal/sink"
	"github.com/sells-group/deal-enrich/internal/store"
	anthropicpkg "github.com/sells-group/deal-enrich/pkg/anthropic"
	"github.com/sells-group/deal-enrich/pkg/google"
	"github.com/sells-group/deal-enrich/pkg/notion"
)

// initStore opens and migrates the configured store. Callers close it.
func initStore(ctx context.Context) (store.Store, error) {
	var st store.Store
	switch cfg.Store.Driver {
	case "sqlite":
		path := cfg.Checkpoint.Path
		if dir := filepath.Dir(path); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, eris.Wrapf(err, "create checkpoint dir %s", dir)
			}
		}
		s, err := store.NewSQLite(path)
		if err != nil {
			return nil, err
		}
		st = s
	case "postgres":
		s, err := store.NewPostgres(ctx, cfg.Store.DatabaseURL, &store.PoolConfig{
			MaxConns: cfg.Store.MaxConns,
			MinConns: cfg.Store.MinConns,
		})
		if err != nil {
			return nil, err
		}
		st = s
	default:
		return nil, eris.Errorf("unsupported store driver: %s", cfg.Store.Driver)
	}

	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "migrate store")
	}
	return st, nil
}

// initRemote returns the configured remote table, or nil for "none".
func initRemote(ctx context.Context) (sink.RemoteTable, error) {
	switch cfg.Remote.Backend {
	case config.BackendNone, "":
		return nil, nil
	case config.BackendSheets:
		opts := []google.Option{google.WithRateLimit(cfg.Remote.Sheets.RatePerSecond)}
		if cfg.Remote.Sheets.CredentialsFile != "" {
			opts = append(opts, google.WithCredentialsFile(cfg.Remote.Sheets.CredentialsFile))
		}
		client, err := google.NewSheetsClient(ctx, opts...)
		if err != nil {
			return nil, err
		}
		zap.L().Info("remote: google sheets",
			zap.String("spreadsheet_id", cfg.Remote.Sheets.SpreadsheetID),
			zap.String("sheet", cfg.Remote.Sheets.Sheet),
		)
		return sink.NewSheetsTable(client, cfg.Remote.Sheets.SpreadsheetID, cfg.Remote.Sheets.Sheet), nil
	case config.BackendNotion:
		client := notion.NewClient(cfg.Remote.Notion.Token, notion.WithRateLimit(cfg.Remote.Notion.RatePerSecond))
		zap.L().Info("remote: notion", zap.String("database_id", cfg.Remote.Notion.DatabaseID))
		return sink.NewNotionTable(client, cfg.Remote.Notion.DatabaseID), nil
	default:
		return nil, eris.Errorf("unsupported remote backend: %s", cfg.Remote.Backend)
	}
}

func sinkPolicy(c config.SinkConfig) resilience.Policy {
	return resilience.Policy{
		MaxAttempts:      c.MaxAttempts,
		InitialBackoffMs: c.InitialBackoffMs,
		MaxBackoffMs:     c.MaxBackoffMs,
		Multiplier:       c.Multiplier,
		JitterFraction:   c.JitterFraction,
		FailureThreshold: c.FailureThreshold,
	}
}

// initOrchestrator builds the inference stack. offline swaps the API for
// canned responses.
func initOrchestrator(offline bool) (*inference.Orchestrator, error) {
	ic := cfg.Inference

	var api anthropicpkg.Client
	if offline {
		api = &inference.OfflineClient{}
	} else {
		var opts []anthropicpkg.Option
		if cfg.Anthropic.BaseURL != "" {
			opts = append(opts, anthropicpkg.WithBaseURL(cfg.Anthropic.BaseURL))
		}
		api = anthropicpkg.NewClient(cfg.Anthropic.Key, opts...)
	}

	templates, err := inference.LoadTemplates(ic.PromptsFile)
	if err != nil {
		return nil, err
	}

	client := inference.NewClient(api, inference.ClientConfig{
		Model:       cfg.Anthropic.Model,
		MaxTokens:   ic.MaxTokens,
		Temperature: ic.Temperature,
		Timeout:     time.Duration(ic.TimeoutSecs) * time.Second,
		Retry: resilience.Policy{
			MaxAttempts:      ic.MaxAttempts,
			InitialBackoffMs: ic.InitialBackoffMs,
			MaxBackoffMs:     ic.MaxBackoffMs,
			Multiplier:       ic.Multiplier,
			JitterFraction:   ic.JitterFraction,
		}.Retry(),
		RatePerSecond: ic.RatePerSecond,
		Burst:         ic.Burst,
		Pricing:       cost.NewCalculator(cost.DefaultRates()),
	})
	return inference.NewOrchestrator(client, templates), nil
}
