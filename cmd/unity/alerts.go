package main

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/mylaniakea/unity/internal/model"
)

func newAlertsCmd(load configLoader) *cobra.Command {
	alertsCmd := &cobra.Command{
		Use:   "alerts",
		Short: "Query and manage alerts",
	}

	var (
		statuses   []string
		severities []string
		ruleID     string
		resourceID string
		since      time.Duration
		limit      int
		asJSON     bool
	)
	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List alerts, newest first",
		RunE: func(cmd *cobra.Command, _ []string) error {
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

			filter := model.AlertFilter{RuleID: ruleID, ResourceID: resourceID, Limit: limit}
			for _, s := range statuses {
				filter.Statuses = append(filter.Statuses, model.AlertStatus(s))
			}
			for _, s := range severities {
				filter.Severities = append(filter.Severities, model.AlertSeverity(s))
			}
			if since > 0 {
				filter.From = time.Now().Add(-since)
			}

			alerts, err := a.alerts.List(cmd.Context(), filter)
			if err != nil {
				return err
			}

			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(alerts)
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tRULE\tRESOURCE\tSEVERITY\tSTATUS\tTRIGGERED\tMESSAGE")
			for _, alert := range alerts {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
					alert.ID, alert.RuleID, alert.ResourceID, alert.Severity, alert.Status,
					alert.TriggeredAt.Local().Format(time.DateTime), alert.Message)
			}
			return w.Flush()
		},
	}
	listCmd.Flags().StringSliceVar(&statuses, "status", nil, "filter by status (active, acknowledged, snoozed, resolved)")
	listCmd.Flags().StringSliceVar(&severities, "severity", nil, "filter by severity (info, warning, critical)")
	listCmd.Flags().StringVar(&ruleID, "rule", "", "filter by rule id")
	listCmd.Flags().StringVar(&resourceID, "resource", "", "filter by resource id")
	listCmd.Flags().DurationVar(&since, "since", 0, "only alerts triggered within this window")
	listCmd.Flags().IntVar(&limit, "limit", 50, "maximum number of alerts")
	listCmd.Flags().BoolVar(&asJSON, "json", false, "print JSON instead of a table")

	statsCmd := &cobra.Command{
		Use:   "stats",
		Short: "Count alerts by status and severity",
		RunE: func(cmd *cobra.Command, _ []string) error {
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

			stats, err := a.alerts.Stats(cmd.Context())
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(stats)
		},
	}

	var actor string
	var snoozeFor time.Duration

	transition := func(use, short string, op func(a *app, cmd *cobra.Command, id string) (*model.Alert, error)) *cobra.Command {
		return &cobra.Command{
			Use:   use + " <alert-id>",
			Short: short,
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

				alert, err := op(a, cmd, args[0])
				if err != nil {
					return err
				}
				_, err = fmt.Fprintf(cmd.OutOrStdout(), "%s is now %s\n", alert.ID, alert.Status)
				return err
			},
		}
	}

	ackCmd := transition("ack", "Acknowledge an active alert", func(a *app, cmd *cobra.Command, id string) (*model.Alert, error) {
		return a.alerts.Acknowledge(cmd.Context(), id, actor)
	})
	resolveCmd := transition("resolve", "Resolve an open alert by hand", func(a *app, cmd *cobra.Command, id string) (*model.Alert, error) {
		return a.alerts.Resolve(cmd.Context(), id, actor)
	})
	snoozeCmd := transition("snooze", "Silence an alert for a while", func(a *app, cmd *cobra.Command, id string) (*model.Alert, error) {
		return a.alerts.Snooze(cmd.Context(), id, time.Now().Add(snoozeFor), actor)
	})
	snoozeCmd.Flags().DurationVar(&snoozeFor, "for", time.Hour, "snooze duration")

	for _, c := range []*cobra.Command{ackCmd, resolveCmd, snoozeCmd} {
		c.Flags().StringVar(&actor, "actor", "cli", "who performed the action")
	}

	alertsCmd.AddCommand(listCmd, statsCmd, ackCmd, resolveCmd, snoozeCmd)
	return alertsCmd
}
