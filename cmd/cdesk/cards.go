package main

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"github.com/zulandar/costdesk/internal/catalog"
	"github.com/zulandar/costdesk/internal/chat"
)

func newCardsCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "cards [view]",
		Short: "List the dashboard cards and their questions",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var view chat.View
			if len(args) == 1 {
				v, err := chat.ParseView(args[0])
				if err != nil {
					return err
				}
				if !v.IsDashboard() {
					return fmt.Errorf("%q is not a dashboard view", args[0])
				}
				view = v
			}
			return runCards(cmd, configPath, view)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to costdesk config file")
	return cmd
}

func runCards(cmd *cobra.Command, configPath string, view chat.View) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	cat, err := catalog.Load(cfg.Catalog.Path)
	if err != nil {
		return err
	}
	printCards(cmd.OutOrStdout(), cat, view)
	return nil
}

// printCards lists the cards of one view, or of every view when view is
// empty.
func printCards(out io.Writer, cat *catalog.Catalog, view chat.View) {
	for _, d := range cat.Views {
		if view != "" && d.View != view {
			continue
		}
		fmt.Fprintf(out, "%s (%s)\n", d.Title, d.View)
		for _, c := range d.Cards {
			fmt.Fprintf(out, "  %-28s %s\n", c.ID, c.Title)
			fmt.Fprintf(out, "  %-28s %q\n", "", c.Question)
		}
	}
	if cat.CardHint != "" {
		fmt.Fprintf(out, "\n%s\n", cat.CardHint)
	}
}
