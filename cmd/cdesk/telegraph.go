package main

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"github.com/zulandar/costdesk/internal/config"
	"github.com/zulandar/costdesk/internal/telegraph"
	discordadapter "github.com/zulandar/costdesk/internal/telegraph/discord"
	slackadapter "github.com/zulandar/costdesk/internal/telegraph/slack"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

func newTelegraphCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "telegraph",
		Aliases: []string{"tg"},
		Short:   "Run the Slack or Discord chat bridge",
		Long:    "Telegraph answers cost questions in Slack or Discord threads, one conversation per thread.",
	}

	cmd.AddCommand(newTelegraphStartCmd())
	return cmd
}

func newTelegraphStartCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "start",
		Short: "Start the Telegraph daemon",
		Long:  "Connects to the configured chat platform and serves conversations until interrupted. The browser API is not started.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTelegraphStart(cmd, configPath)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to costdesk config file")
	return cmd
}

func runTelegraphStart(cmd *cobra.Command, configPath string) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	if cfg.Telegraph.Platform == "" {
		return fmt.Errorf("telegraph: no platform configured in %s (add telegraph.platform)", configPath)
	}

	ctx, cancel := signalContext()
	defer cancel()

	a, err := newApp(ctx, configPath)
	if err != nil {
		return err
	}
	defer a.Close()

	daemon, err := newTelegraphDaemon(a, cmd.OutOrStdout())
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return daemon.Run(gctx) })
	g.Go(func() error { return a.reg.RunReaper(gctx, a.cfg.Registry.ReapCron) })
	return g.Wait()
}

// newTelegraphDaemon builds the daemon for the configured platform.
func newTelegraphDaemon(a *app, out io.Writer) (*telegraph.Daemon, error) {
	adapter, err := createAdapter(a.cfg, a.log)
	if err != nil {
		return nil, err
	}
	return telegraph.NewDaemon(telegraph.DaemonOpts{
		Registry: a.reg,
		Catalog:  a.cat,
		Adapter:  adapter,
		Platform: a.cfg.Telegraph.Platform,
		Channel:  a.cfg.Telegraph.Channel,
		Log:      a.log,
		Out:      out,
	})
}

// createAdapter builds a platform adapter from the config.
func createAdapter(cfg *config.Config, log *zap.Logger) (telegraph.Adapter, error) {
	switch cfg.Telegraph.Platform {
	case "slack":
		return slackadapter.New(slackadapter.AdapterOpts{
			AppToken:  cfg.Telegraph.Slack.AppToken,
			BotToken:  cfg.Telegraph.Slack.BotToken,
			ChannelID: cfg.Telegraph.Channel,
			Log:       log,
		})
	case "discord":
		return discordadapter.New(discordadapter.AdapterOpts{
			BotToken:  cfg.Telegraph.Discord.BotToken,
			ChannelID: cfg.Telegraph.Channel,
			Log:       log,
		})
	default:
		return nil, fmt.Errorf("telegraph: unsupported platform %q", cfg.Telegraph.Platform)
	}
}
