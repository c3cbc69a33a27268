package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/deal-enrich/internal/config"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:          "deal-enrich",
	Short:        "Resumable enrichment of advertising inventory deals",
	Long:         "Enriches normalized deal feeds with taxonomy, brand safety, audience and commercial metadata, writing each record to a JSONL log, a TSV file and an optional remote table.",
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		cfg = c

		if err := config.InitLogger(cfg.Log); err != nil {
			return fmt.Errorf("init logger: %w", err)
		}

		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = zap.L().Sync()
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
