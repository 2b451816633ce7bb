package main

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/mylaniakea/unity/internal/storage"
)

func newCollectorsCmd(load configLoader) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "collectors",
		Short: "Inspect collector execution history",
	}

	var (
		outcome string
		limit   int
		offset  int
		asJSON  bool
	)
	historyCmd := &cobra.Command{
		Use:   "history <collector-id>",
		Short: "List persisted executions of a collector, newest first",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			parsed, err := parseOutcome(outcome)
			if err != nil {
				return err
			}

			cfg, logger, err := load()
			if err != nil {
				return err
			}
			defer logger.Sync()

			a, err := newApp(cfg, logger)
			if err != nil {
				return err
			}
			defer a.close()

			page, err := a.executionHistory(cmd.Context(), storage.ExecutionFilter{
				CollectorID: args[0],
				Outcome:     parsed,
			}, offset, limit)
			if err != nil {
				return err
			}

			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(page)
			}
			return printExecutions(cmd.OutOrStdout(), page)
		},
	}
	historyCmd.Flags().StringVar(&outcome, "outcome", "", "only show executions with this outcome (success, failure, timeout)")
	historyCmd.Flags().IntVar(&limit, "limit", defaultHistoryLimit, "maximum number of executions to show")
	historyCmd.Flags().IntVar(&offset, "offset", 0, "number of executions to skip")
	historyCmd.Flags().BoolVar(&asJSON, "json", false, "print JSON instead of a table")

	cmd.AddCommand(historyCmd)
	return cmd
}

func printExecutions(out io.Writer, page *executionPage) error {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "STARTED\tOUTCOME\tDURATION\tSAMPLES\tMANUAL\tERROR")
	for _, r := range page.Executions {
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%t\t%s\n",
			r.StartedAt.Local().Format(time.RFC3339),
			r.Outcome,
			r.Duration().Round(time.Millisecond),
			r.SampleCount,
			r.Manual,
			r.Error)
	}
	fmt.Fprintf(w, "\n%d of %d executions\n", len(page.Executions), page.Total)
	return w.Flush()
}
