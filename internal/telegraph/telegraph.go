package telegraph

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/zulandar/costdesk/internal/catalog"
	"github.com/zulandar/costdesk/internal/registry"
	"go.uber.org/zap"
)

// Daemon is the main telegraph process. It connects to a chat platform via
// an Adapter and pumps inbound messages through the Router until shutdown.
type Daemon struct {
	reg      *registry.Registry
	cat      *catalog.Catalog
	adapter  Adapter
	platform string
	channel  string
	log      *zap.Logger
	out      io.Writer
}

// DaemonOpts holds parameters for creating a new Daemon.
type DaemonOpts struct {
	Registry *registry.Registry
	Catalog  *catalog.Catalog // defaults to the built-in catalog
	Adapter  Adapter
	Platform string // "slack" or "discord"; used as the session surface
	Channel  string // optional channel for online/offline notices
	Log      *zap.Logger
	Out      io.Writer // defaults to os.Stdout
}

// NewDaemon creates a Daemon with the given options.
func NewDaemon(opts DaemonOpts) (*Daemon, error) {
	if opts.Registry == nil {
		return nil, fmt.Errorf("telegraph: registry is required")
	}
	if opts.Adapter == nil {
		return nil, fmt.Errorf("telegraph: adapter is required")
	}
	cat := opts.Catalog
	if cat == nil {
		cat = catalog.Default()
	}
	log := opts.Log
	if log == nil {
		log = zap.NewNop()
	}
	out := opts.Out
	if out == nil {
		out = os.Stdout
	}
	return &Daemon{
		reg:      opts.Registry,
		cat:      cat,
		adapter:  opts.Adapter,
		platform: opts.Platform,
		channel:  opts.Channel,
		log:      log,
		out:      out,
	}, nil
}

// Run connects the adapter, builds the router, and blocks until the context
// is cancelled or the adapter stops delivering messages. On shutdown it ends
// every thread session and closes the adapter.
func (d *Daemon) Run(ctx context.Context) error {
	fmt.Fprintf(d.out, "Telegraph connecting...\n")
	if err := d.adapter.Connect(ctx); err != nil {
		return fmt.Errorf("telegraph: connect: %w", err)
	}

	var botUserID string
	if bui, ok := d.adapter.(BotUserIDer); ok {
		botUserID = bui.BotUserID()
	}

	cmdHandler, err := NewCommandHandler(CommandHandlerOpts{Catalog: d.cat})
	if err != nil {
		d.closeAdapter()
		return fmt.Errorf("telegraph: build command handler: %w", err)
	}

	sessionMgr, err := NewSessionManager(SessionManagerOpts{
		Registry: d.reg,
		Adapter:  d.adapter,
		Catalog:  d.cat,
		Platform: d.platform,
		Log:      d.log,
	})
	if err != nil {
		d.closeAdapter()
		return fmt.Errorf("telegraph: build session manager: %w", err)
	}

	router, err := NewRouter(RouterOpts{
		SessionMgr: sessionMgr,
		CmdHandler: cmdHandler,
		Adapter:    d.adapter,
		BotUserID:  botUserID,
		Log:        d.log,
	})
	if err != nil {
		d.closeAdapter()
		return fmt.Errorf("telegraph: build router: %w", err)
	}

	inbound, err := d.adapter.Listen(ctx)
	if err != nil {
		d.closeAdapter()
		return fmt.Errorf("telegraph: listen: %w", err)
	}

	fmt.Fprintf(d.out, "Telegraph online (%s)\n", d.platform)
	d.log.Info("telegraph online", zap.String("platform", d.platform), zap.String("bot_user", botUserID))
	d.notice(ctx, "costdesk is online. Mention me with a question about your cloud costs.")

	for {
		select {
		case <-ctx.Done():
			fmt.Fprintf(d.out, "Telegraph shutting down...\n")
			d.notice(context.Background(), "costdesk is going offline.")
			sessionMgr.CloseAll()
			d.closeAdapter()
			fmt.Fprintf(d.out, "Telegraph stopped\n")
			return nil

		case msg, ok := <-inbound:
			if !ok {
				fmt.Fprintf(d.out, "Telegraph inbound channel closed\n")
				sessionMgr.CloseAll()
				return nil
			}
			router.Handle(ctx, msg)
		}
	}
}

// notice posts a status line to the configured channel, if any.
func (d *Daemon) notice(ctx context.Context, text string) {
	if d.channel == "" {
		return
	}
	if err := d.adapter.Send(ctx, OutboundMessage{ChannelID: d.channel, Text: text}); err != nil {
		d.log.Warn("send notice", zap.Error(err))
	}
}

func (d *Daemon) closeAdapter() {
	if err := d.adapter.Close(); err != nil {
		d.log.Warn("close adapter", zap.Error(err))
	}
}
