package main

import (
	"fmt"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

func newCollectCmd(load configLoader) *cobra.Command {
	var show bool

	cmd := &cobra.Command{
		Use:   "collect <collector-id>",
		Short: "Run one collector immediately and store its samples",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
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

			record, err := a.scheduler.RunOnce(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%s: %s in %s, %d samples\n",
				record.CollectorID, record.Outcome, record.Duration().Round(time.Millisecond), record.SampleCount)
			if record.Error != "" {
				fmt.Fprintf(out, "error: %s\n", record.Error)
			}
			if !show || record.SampleCount == 0 {
				return nil
			}

			names, err := a.samples.Series(cmd.Context(), record.CollectorID)
			if err != nil {
				return err
			}
			sort.Strings(names)

			w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "METRIC\tVALUE")
			for _, metric := range names {
				latest, err := a.samples.Latest(cmd.Context(), record.CollectorID, metric)
				if err != nil {
					continue
				}
				fmt.Fprintf(w, "%s\t%g\n", metric, latest.Value)
			}
			return w.Flush()
		},
	}
	cmd.Flags().BoolVar(&show, "show", true, "print the latest value of every metric of the collector")
	return cmd
}
