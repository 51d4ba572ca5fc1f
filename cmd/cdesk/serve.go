package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/zulandar/costdesk/internal/db"
	"github.com/zulandar/costdesk/internal/web"
	"golang.org/x/sync/errgroup"
)

func newServeCmd() *cobra.Command {
	var (
		configPath string
		port       int
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the browser API, the chat bridge, and the session reaper",
		Long: "Serves the browser API and, when telegraph.platform is configured, the Slack or Discord bridge. " +
			"Idle sessions are reaped on the registry.reap_cron schedule.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd, configPath, port)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to costdesk config file")
	cmd.Flags().IntVarP(&port, "port", "p", 0, "listen port (overrides server.port)")
	return cmd
}

func runServe(cmd *cobra.Command, configPath string, port int) error {
	ctx, cancel := signalContext()
	defer cancel()

	a, err := newApp(ctx, configPath)
	if err != nil {
		return err
	}
	defer a.Close()

	// A sqlite registry belongs to this process alone, so rows left by a
	// previous run are stale. A shared mysql registry is left untouched.
	if a.cfg.Registry.Driver == "sqlite" {
		if err := db.PurgeSessions(a.db); err != nil {
			return err
		}
	}

	if port > 0 {
		a.cfg.Server.Port = port
	}
	out := cmd.OutOrStdout()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return web.Start(gctx, web.StartOpts{
			Registry: a.reg,
			Catalog:  a.cat,
			Port:     a.cfg.Server.Port,
			Out:      out,
			Log:      a.log,
		})
	})
	g.Go(func() error {
		return a.reg.RunReaper(gctx, a.cfg.Registry.ReapCron)
	})

	if a.cfg.Telegraph.Platform != "" {
		daemon, err := newTelegraphDaemon(a, out)
		if err != nil {
			cancel()
			_ = g.Wait()
			return err
		}
		g.Go(func() error {
			return daemon.Run(gctx)
		})
	} else {
		fmt.Fprintln(out, "Telegraph disabled (no telegraph.platform configured)")
	}

	return g.Wait()
}
