package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/metamarket/internal/server"
	"github.com/alanyoungcy/metamarket/internal/server/handler"
	"github.com/alanyoungcy/metamarket/internal/server/ws"
)

const (
	shutdownTimeout = 10 * time.Second
	backfillTimeout = 30 * time.Second
)

// prepare restores the ledger from the snapshot store, seeds the default
// markets outside archive mode and backfills the restored trade window into
// the Postgres archive.
func (a *App) prepare(ctx context.Context, mode string, deps *Dependencies) error {
	if err := deps.Markets.Load(ctx); err != nil {
		return fmt.Errorf("app: %w", err)
	}
	if mode != ModeArchive {
		deps.Markets.SeedMarkets(ctx)
	}

	if deps.TradeStore != nil {
		trades := deps.Ledger.AllTrades()
		bctx, cancel := context.WithTimeout(ctx, backfillTimeout)
		defer cancel()
		if err := deps.TradeStore.InsertBatch(bctx, trades); err != nil {
			// The archive is a secondary copy; serving continues without it.
			a.logger.WarnContext(ctx, "trade archive backfill failed", slog.String("error", err.Error()))
		} else if len(trades) > 0 {
			a.logger.InfoContext(ctx, "trade archive backfilled", slog.Int("trades", len(trades)))
		}
	}
	return nil
}

// ServerMode serves the HTTP and WebSocket API.
func (a *App) ServerMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting server mode")

	g, ctx := errgroup.WithContext(ctx)

	if a.cfg.Server.Enabled {
		a.startHTTPServer(ctx, g, deps)
	} else {
		a.logger.WarnContext(ctx, "server.enabled is false, engine idles until shutdown")
		g.Go(func() error {
			<-ctx.Done()
			return nil
		})
	}

	return g.Wait()
}

// ArchiveMode runs only the periodic trade export and snapshot backup.
func (a *App) ArchiveMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting archive mode")

	g, ctx := errgroup.WithContext(ctx)
	if err := a.startArchiver(ctx, g, deps); err != nil {
		return fmt.Errorf("archive mode: %w", err)
	}
	return g.Wait()
}

// FullMode serves the API and, when archive.enabled is set, runs the
// archiver alongside it.
func (a *App) FullMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting full mode")

	g, ctx := errgroup.WithContext(ctx)

	if a.cfg.Server.Enabled {
		a.startHTTPServer(ctx, g, deps)
	}
	if a.cfg.Archive.Enabled {
		if err := a.startArchiver(ctx, g, deps); err != nil {
			return fmt.Errorf("full mode: %w", err)
		}
	}
	g.Go(func() error {
		<-ctx.Done()
		return nil
	})

	return g.Wait()
}

func (a *App) startHTTPServer(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	var hub *ws.Hub
	if a.cfg.Server.WSEnabled {
		hub = ws.NewHub(deps.SignalBus, a.logger)
		g.Go(func() error {
			return hub.Run(ctx)
		})
	}

	var audit handler.AuditLister
	if deps.AuditStore != nil {
		audit = deps.AuditStore
	}

	handlers := server.Handlers{
		Health:  handler.NewHealthHandler(a.cfg.Mode, deps.Settlement.Mode(), deps.Snapshots, deps.Ledger.Len),
		Markets: handler.NewMarketHandler(deps.Markets, a.logger),
		Trades:  handler.NewTradeHandler(deps.Markets, a.logger),
		Stats:   handler.NewStatsHandler(deps.Markets, audit, a.logger),
		Metrics: deps.Metrics.Handler(),
	}
	srv := server.NewServer(server.Config{
		Port:        a.cfg.Server.Port,
		CORSOrigins: a.cfg.Server.CORSOrigins,
		APIKey:      a.cfg.Server.APIKey,
		RateLimit:   a.cfg.Server.RateLimit,
		RateWindow:  a.cfg.Server.RateWindow.Duration,
	}, handlers, deps.RateLimiter, hub, a.logger)

	g.Go(func() error {
		a.logger.InfoContext(ctx, "HTTP server listening",
			slog.Int("port", a.cfg.Server.Port),
			slog.String("url", fmt.Sprintf("http://localhost:%d", a.cfg.Server.Port)),
			slog.Bool("ws", hub != nil),
		)
		return srv.Start()
	})

	g.Go(func() error {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutCtx)
	})
}

// startArchiver runs archiveOnce immediately and then every
// archive.interval until ctx is done. Failed runs are logged and retried on
// the next tick.
func (a *App) startArchiver(ctx context.Context, g *errgroup.Group, deps *Dependencies) error {
	if deps.Archiver == nil {
		return fmt.Errorf("archiver requires s3.enabled")
	}
	interval := a.cfg.Archive.Interval.Duration
	if interval <= 0 {
		interval = time.Hour
	}

	g.Go(func() error {
		runOnce := func() {
			if err := a.archiveOnce(ctx, deps, time.Now().UTC()); err != nil {
				a.logger.ErrorContext(ctx, "archive: run failed", slog.String("error", err.Error()))
			}
		}

		runOnce()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
				runOnce()
			}
		}
	})

	a.logger.InfoContext(ctx, "archive worker started",
		slog.Duration("interval", interval),
		slog.Int("retention_days", a.cfg.Archive.RetentionDays),
		slog.Bool("snapshot_backup", a.cfg.Archive.SnapshotBackup),
	)
	return nil
}

// archiveOnce exports trades older than the retention window and, when
// enabled, uploads the current ledger snapshot.
func (a *App) archiveOnce(ctx context.Context, deps *Dependencies, now time.Time) error {
	cutoff := archiveCutoff(now, a.cfg.Archive.RetentionDays)
	n, err := deps.Archiver.ArchiveTrades(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("export trades: %w", err)
	}
	a.logger.InfoContext(ctx, "archive: trades exported",
		slog.Int64("trades", n),
		slog.Time("before", cutoff),
	)

	if !a.cfg.Archive.SnapshotBackup {
		return nil
	}
	path, err := deps.Archiver.BackupSnapshot(ctx, deps.Ledger.Snapshot(now))
	if err != nil {
		return fmt.Errorf("backup snapshot: %w", err)
	}
	a.logger.InfoContext(ctx, "archive: snapshot backed up", slog.String("path", path))
	return nil
}

func archiveCutoff(now time.Time, retentionDays int) time.Time {
	if retentionDays < 0 {
		retentionDays = 0
	}
	return now.AddDate(0, 0, -retentionDays)
}
