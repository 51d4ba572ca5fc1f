package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

func newSessionsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "Inspect live conversational sessions",
	}
	cmd.AddCommand(newSessionsListCmd())
	return cmd
}

func newSessionsListCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List the sessions mirrored in the registry database",
		Long:  "Reads the registry database. Only a shared registry (mysql, or a sqlite file) shows the sessions of a running serve.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSessionsList(cmd, configPath)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to costdesk config file")
	return cmd
}

func runSessionsList(cmd *cobra.Command, configPath string) error {
	ctx := context.Background()
	a, err := newApp(ctx, configPath)
	if err != nil {
		return err
	}
	defer a.Close()

	rows, err := a.reg.List(ctx)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	if len(rows) == 0 {
		fmt.Fprintln(out, "No live sessions.")
		return nil
	}

	fmt.Fprintf(out, "%-40s %-8s %-10s %-5s %5s  %s\n", "KEY", "SURFACE", "VIEW", "BUSY", "MSGS", "IDLE")
	now := time.Now()
	for _, r := range rows {
		busy := "no"
		if r.Busy {
			busy = "yes"
		}
		fmt.Fprintf(out, "%-40s %-8s %-10s %-5s %5d  %s\n",
			r.Key, r.Surface, r.ActiveView, busy, r.MessageCount, formatIdle(now.Sub(r.LastActivity)))
	}
	return nil
}

// formatIdle renders an idle duration at minute resolution.
func formatIdle(d time.Duration) string {
	if d < time.Minute {
		return "<1m"
	}
	d = d.Truncate(time.Minute)
	if d < time.Hour {
		return fmt.Sprintf("%dm", int(d.Minutes()))
	}
	return fmt.Sprintf("%dh%02dm", int(d.Hours()), int(d.Minutes())%60)
}
