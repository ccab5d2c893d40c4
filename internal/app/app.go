// Package app provides the top-level application lifecycle management for the
// metamarket engine. It wires together the ledger, snapshot store, settlement
// provider, optional Postgres/Redis/S3 backends and the HTTP API, and starts
// the goroutines of the configured operating mode.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/alanyoungcy/metamarket/internal/config"
)

// Operating modes.
const (
	ModeServer  = "server"
	ModeArchive = "archive"
	ModeFull    = "full"
)

// App is the root application object. It owns the configuration, logger, and a
// list of cleanup functions that are called in reverse order on shutdown.
type App struct {
	cfg     *config.Config
	logger  *slog.Logger
	closers []func()
}

// New creates a new App from the given configuration and logger.
func New(cfg *config.Config, logger *slog.Logger) *App {
	return &App{
		cfg:    cfg,
		logger: logger.With(slog.String("component", "app")),
	}
}

// Run is the main entry point. It wires all dependencies, restores the
// ledger, starts the goroutines of the configured mode and blocks until the
// context is cancelled. Cleanup runs on Close.
func (a *App) Run(ctx context.Context) error {
	a.logger.InfoContext(ctx, "starting application",
		slog.String("mode", a.cfg.Mode),
		slog.String("log_level", a.cfg.LogLevel),
		slog.Any("config", config.RedactedConfig(a.cfg)),
	)

	mode := strings.ToLower(a.cfg.Mode)
	if !knownMode(mode) {
		return fmt.Errorf("app: unsupported mode %q", a.cfg.Mode)
	}

	deps, cleanup, err := Wire(ctx, a.cfg, a.logger)
	if err != nil {
		return fmt.Errorf("app: wire dependencies: %w", err)
	}
	a.closers = append(a.closers, cleanup)

	if err := a.prepare(ctx, mode, deps); err != nil {
		return err
	}

	switch mode {
	case ModeServer:
		return a.ServerMode(ctx, deps)
	case ModeArchive:
		return a.ArchiveMode(ctx, deps)
	default:
		return a.FullMode(ctx, deps)
	}
}

func knownMode(mode string) bool {
	switch mode {
	case ModeServer, ModeArchive, ModeFull:
		return true
	default:
		return false
	}
}

// Close tears down all resources in reverse registration order. It is safe to
// call multiple times; subsequent calls are no-ops.
func (a *App) Close() {
	a.logger.Info("shutting down application")
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
