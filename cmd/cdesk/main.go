package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Version info set via ldflags at build time.
var (
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"
)

// defaultConfigPath is where every subcommand looks for configuration.
const defaultConfigPath = "costdesk.yaml"

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cdesk",
		Short: "costdesk: conversational cloud cost analysis",
		Long:  "costdesk puts a chat front end on a cloud cost analysis service, in the browser, in Slack or Discord, and in the terminal.",
	}

	cmd.AddCommand(newVersionCmd())
	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newAskCmd())
	cmd.AddCommand(newCardsCmd())
	cmd.AddCommand(newSessionsCmd())
	cmd.AddCommand(newTelegraphCmd())
	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "cdesk %s (commit: %s, built: %s)\n", Version, Commit, Date)
		},
	}
}

func execute(cmd *cobra.Command) int {
	if err := cmd.Execute(); err != nil {
		return 1
	}
	return 0
}

func main() {
	os.Exit(execute(newRootCmd()))
}
