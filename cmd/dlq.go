package main

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/deal-enrich/internal/resilience"
)

var dlqCmd = &cobra.Command{
	Use:   "dlq",
	Short: "Inspect deals that failed and are pending retry",
}

var dlqListCmd = &cobra.Command{
	Use:   "list",
	Short: "List dead letter entries",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		source, _ := cmd.Flags().GetString("source")
		errType, _ := cmd.Flags().GetString("error-type")
		limit, _ := cmd.Flags().GetInt("limit")

		entries, err := st.ListDLQ(ctx, resilience.DLQFilter{
			Source:    source,
			ErrorType: errType,
			Limit:     limit,
		})
		if err != nil {
			return eris.Wrap(err, "dlq list")
		}
		if len(entries) == 0 {
			fmt.Fprintln(os.Stderr, "Dead letter queue is empty.")
			return nil
		}
		formatDLQ(os.Stdout, entries)
		return nil
	},
}

func init() {
	dlqListCmd.Flags().String("source", "", "filter by source tag")
	dlqListCmd.Flags().String("error-type", "", "filter by error kind (transient, permanent, timeout, enrichment_failed, sink)")
	dlqListCmd.Flags().Int("limit", 50, "max number of entries to display")

	dlqCmd.AddCommand(dlqListCmd)
	rootCmd.AddCommand(dlqCmd)
}

// formatDLQ writes a tabular list of dead letter entries to w.
func formatDLQ(out io.Writer, entries []resilience.DLQEntry) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "SOURCE\tDEAL_ID\tKIND\tPHASE\tRETRIES\tLAST_FAILED\tERROR")
	_, _ = fmt.Fprintln(w, "------\t-------\t----\t-----\t-------\t-----------\t-----")
	for _, e := range entries {
		msg := e.Error
		if len(msg) > 60 {
			msg = msg[:57] + "..."
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%s\t%s\n",
			e.Source,
			e.DealID,
			e.ErrorType,
			e.FailedPhase,
			e.RetryCount,
			e.LastFailedAt.Format("2006-01-02 15:04"),
			msg,
		)
	}
	_ = w.Flush()
}
