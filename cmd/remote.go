package main

import (
	"fmt"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/deal-enrich/internal/sink"
)

var remoteCmd = &cobra.Command{
	Use:   "remote",
	Short: "Manage the remote table",
}

var remoteSyncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Upsert every row of a TSV output file into the remote table",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		path, _ := cmd.Flags().GetString("tsv")

		table, err := initRemote(ctx)
		if err != nil {
			return err
		}
		if table == nil {
			return eris.New("remote sync: remote.backend is none")
		}

		stats, err := sink.SyncTSV(ctx, path, sink.NewRemoteSink(table))
		if err != nil {
			return err
		}
		fmt.Printf("synced %d rows (%d skipped)\n", stats.Rows, stats.Skipped)
		return nil
	},
}

func init() {
	remoteSyncCmd.Flags().String("tsv", "", "TSV file written by a run (required)")
	_ = remoteSyncCmd.MarkFlagRequired("tsv")

	remoteCmd.AddCommand(remoteSyncCmd)
	rootCmd.AddCommand(remoteCmd)
}
