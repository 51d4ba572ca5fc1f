package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/zulandar/costdesk/internal/backend"
	"github.com/zulandar/costdesk/internal/catalog"
	"github.com/zulandar/costdesk/internal/config"
	"github.com/zulandar/costdesk/internal/db"
	"github.com/zulandar/costdesk/internal/logging"
	"github.com/zulandar/costdesk/internal/registry"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// app holds the components shared by the long-running subcommands.
type app struct {
	cfg *config.Config
	log *zap.Logger
	cat *catalog.Catalog
	db  *gorm.DB
	reg *registry.Registry
}

// loadConfig reads configPath, falling back to the defaults when the file
// does not exist.
func loadConfig(configPath string) (*config.Config, error) {
	cfg, err := config.LoadOrDefault(configPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

// newApp connects the registry database and builds the backend client and
// session registry. ctx bounds every backend request; cancelling it fails
// in-flight turns.
func newApp(ctx context.Context, configPath string) (*app, error) {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return nil, err
	}

	log, err := logging.New(cfg.Log.Level, cfg.Log.Development)
	if err != nil {
		return nil, err
	}

	cat, err := catalog.Load(cfg.Catalog.Path)
	if err != nil {
		return nil, err
	}

	client, err := backend.New(backend.ClientOpts{
		BaseURL:       cfg.Backend.BaseURL,
		ChatPath:      cfg.Backend.ChatPath,
		DashboardPath: cfg.Backend.DashboardPath,
		Token:         cfg.Backend.Token,
		Timeout:       cfg.Backend.Timeout(),
		Log:           log,
	})
	if err != nil {
		return nil, err
	}

	gormDB, err := db.Open(cfg.Registry)
	if err != nil {
		return nil, fmt.Errorf("open registry database: %w", err)
	}

	reg, err := registry.New(registry.Opts{
		DB:          gormDB,
		Backend:     client,
		Log:         log,
		IdleTimeout: cfg.Registry.IdleTimeout(),
		BaseContext: ctx,
	})
	if err != nil {
		_ = db.Close(gormDB)
		return nil, err
	}

	return &app{cfg: cfg, log: log, cat: cat, db: gormDB, reg: reg}, nil
}

// Close ends every live session and releases the database.
func (a *app) Close() {
	a.reg.Shutdown()
	if err := db.Close(a.db); err != nil {
		a.log.Warn("close registry database", zap.Error(err))
	}
	_ = a.log.Sync()
}

// signalContext returns a context cancelled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		defer signal.Stop(sigCh)
		select {
		case <-sigCh:
			cancel()
		case <-ctx.Done():
		}
	}()
	return ctx, cancel
}
