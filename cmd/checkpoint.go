package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/deal-enrich/internal/checkpoint"
)

var checkpointCmd = &cobra.Command{
	Use:   "checkpoint",
	Short: "Inspect and manage per-source checkpoints",
}

var checkpointShowCmd = &cobra.Command{
	Use:   "show <source>",
	Short: "Show the completed deal ids for a source",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		cp, err := checkpoint.Load(ctx, st, args[0])
		if err != nil {
			return err
		}

		if ids, _ := cmd.Flags().GetBool("ids"); !ids {
			fmt.Printf("%s: %d completed\n", cp.Source(), cp.Count())
			return nil
		}
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(cp.Entries())
	},
}

var checkpointResetCmd = &cobra.Command{
	Use:   "reset <source>",
	Short: "Delete every checkpoint entry for a source",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		n, err := st.ResetCheckpoints(ctx, args[0])
		if err != nil {
			return eris.Wrap(err, "checkpoint reset")
		}
		fmt.Printf("%s: removed %d entries\n", args[0], n)
		return nil
	},
}

var checkpointImportCmd = &cobra.Command{
	Use:   "import <source>",
	Short: "Import a legacy JSON checkpoint file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		file, _ := cmd.Flags().GetString("file")

		entries, err := checkpoint.ReadLegacyFile(file, args[0])
		if err != nil {
			return err
		}

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		n, err := st.ImportCheckpoints(ctx, entries)
		if err != nil {
			return eris.Wrap(err, "checkpoint import")
		}
		zap.L().Info("checkpoint: imported legacy file",
			zap.String("file", file),
			zap.String("source", args[0]),
			zap.Int("entries", len(entries)),
			zap.Int64("inserted", n),
		)
		fmt.Printf("%s: imported %d of %d ids\n", args[0], n, len(entries))
		return nil
	},
}

func init() {
	checkpointShowCmd.Flags().Bool("ids", false, "print every entry as JSON")
	checkpointImportCmd.Flags().String("file", "", "legacy checkpoint JSON file (required)")
	_ = checkpointImportCmd.MarkFlagRequired("file")

	checkpointCmd.AddCommand(checkpointShowCmd)
	checkpointCmd.AddCommand(checkpointResetCmd)
	checkpointCmd.AddCommand(checkpointImportCmd)
	rootCmd.AddCommand(checkpointCmd)
}
