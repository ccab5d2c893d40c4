package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	s3blob "github.com/alanyoungcy/metamarket/internal/blob/s3"
	"github.com/alanyoungcy/metamarket/internal/cache/redis"
	"github.com/alanyoungcy/metamarket/internal/config"
	"github.com/alanyoungcy/metamarket/internal/crypto"
	"github.com/alanyoungcy/metamarket/internal/domain"
	"github.com/alanyoungcy/metamarket/internal/ledger"
	"github.com/alanyoungcy/metamarket/internal/metrics"
	"github.com/alanyoungcy/metamarket/internal/notify"
	"github.com/alanyoungcy/metamarket/internal/server/middleware"
	"github.com/alanyoungcy/metamarket/internal/server/ws"
	"github.com/alanyoungcy/metamarket/internal/service"
	"github.com/alanyoungcy/metamarket/internal/settlement"
	"github.com/alanyoungcy/metamarket/internal/store/postgres"
	"github.com/alanyoungcy/metamarket/internal/store/snapshot"
)

// Dependencies bundles everything the application modes need. It is
// constructed by Wire and torn down by the returned cleanup function.
// Optional collaborators are nil when their backend is disabled.
type Dependencies struct {
	// Stores
	Snapshots  *snapshot.Store
	TradeStore *postgres.TradeStore
	AuditStore domain.AuditStore

	// Caches
	MarketCache domain.MarketCache
	RateLimiter domain.RateLimiter
	LockManager domain.LockManager
	SignalBus   domain.SignalBus

	// Blob storage
	Blob     *s3blob.Store
	Archiver domain.Archiver

	// Engine
	Ledger     *ledger.Ledger
	Settlement domain.SettlementProvider
	Stats      *service.StaticStats
	Markets    *service.MarketService
	Metrics    *metrics.Metrics
	Notifier   *notify.Notifier
}

// needsS3 reports whether object storage must be connected, either for the
// archive or for an s3:// snapshot location.
func needsS3(cfg *config.Config) bool {
	return cfg.S3.Enabled || strings.HasPrefix(cfg.Persistence.Location, "s3://")
}

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them together with a cleanup function that should
// be called on shutdown to release resources.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{
		Metrics: metrics.New(),
	}

	// ---- PostgreSQL ----
	if cfg.Supabase.Enabled {
		pgClient, err := postgres.New(ctx, postgres.ClientConfig{
			DSN:      cfg.Supabase.DSN,
			Host:     cfg.Supabase.Host,
			Port:     cfg.Supabase.Port,
			Database: cfg.Supabase.Database,
			User:     cfg.Supabase.User,
			Password: cfg.Supabase.Password,
			SSLMode:  cfg.Supabase.SSLMode,
			MaxConns: cfg.Supabase.PoolMaxConns,
			MinConns: cfg.Supabase.PoolMinConns,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: postgres: %w", err)
		}
		closers = append(closers, pgClient.Close)

		if cfg.Supabase.RunMigrations {
			if err := pgClient.RunMigrations(ctx); err != nil {
				cleanup()
				return nil, nil, fmt.Errorf("wire: postgres migrations: %w", err)
			}
		}

		deps.TradeStore = postgres.NewTradeStore(pgClient.Pool())
		deps.AuditStore = postgres.NewAuditStore(pgClient.Pool())
		logger.InfoContext(ctx, "wire: postgres connected")
	}

	// ---- Redis ----
	if cfg.Redis.Enabled {
		redisClient, err := redis.New(ctx, redis.ClientConfig{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			PoolSize:   cfg.Redis.PoolSize,
			MaxRetries: cfg.Redis.MaxRetries,
			TLSEnabled: cfg.Redis.TLSEnabled,
			KeyPrefix:  cfg.Redis.KeyPrefix,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: redis: %w", err)
		}
		closers = append(closers, func() { _ = redisClient.Close() })

		deps.MarketCache = redis.NewMarketCache(redisClient, cfg.Redis.MarketCacheTTL.Duration)
		deps.RateLimiter = redis.NewRateLimiter(redisClient)
		deps.SignalBus = redis.NewSignalBus(redisClient, cfg.Redis.StreamMaxLen)
		if cfg.Redis.DistributedLocks {
			deps.LockManager = redis.NewLockManager(redisClient, cfg.Redis.LockWait.Duration)
		}
		logger.InfoContext(ctx, "wire: redis connected", slog.String("addr", cfg.Redis.Addr))
	} else {
		deps.RateLimiter = middleware.NewLocalLimiter()
		deps.SignalBus = ws.NewLocalBus()
	}

	// ---- S3 ----
	if needsS3(cfg) {
		s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
			Prefix:         cfg.S3.Prefix,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: s3: %w", err)
		}
		deps.Blob = s3blob.NewStore(s3Client)

		var trades s3blob.TradeSource
		if deps.TradeStore != nil {
			trades = deps.TradeStore
		}
		deps.Archiver = s3blob.NewArchiver(deps.Blob, trades, deps.AuditStore, logger)
		logger.InfoContext(ctx, "wire: s3 configured", slog.String("bucket", s3Client.Bucket()))
	}

	// ---- Snapshot store ----
	snapOpts := snapshot.Options{
		QueueSize:    cfg.Persistence.QueueSize,
		OnQueueDepth: deps.Metrics.SetSnapshotQueueDepth,
		Logger:       logger,
	}
	if deps.Blob != nil {
		snapOpts.Blob = deps.Blob
	}
	snaps, err := snapshot.Open(ctx, cfg.Persistence.Location, snapOpts)
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: snapshot store: %w", err)
	}
	closers = append(closers, func() { _ = snaps.Close() })
	deps.Snapshots = snaps

	// ---- Settlement ----
	settler, err := buildSettlement(cfg.Settlement, logger)
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: %w", err)
	}
	deps.Settlement = settler

	// ---- Notifications ----
	deps.Notifier = buildNotifier(cfg.Notify, logger)

	// ---- Engine ----
	if cfg.Stats.Enabled {
		deps.Stats = service.NewStaticStats(domain.TournamentStats{
			TotalParticipants: cfg.Stats.TotalParticipants,
			CurrentPrizePool:  cfg.Stats.CurrentPrizePool,
			AverageScore:      cfg.Stats.AverageScore,
			ActiveContests:    cfg.Stats.ActiveContests,
		})
	}

	deps.Ledger = ledger.New(cfg.Ledger.HotTrades, logger)
	deps.Markets = service.NewMarketService(deps.Ledger, deps.Snapshots, deps.Settlement,
		service.MarketServiceConfig{
			DefaultLiquidity:       cfg.Market.DefaultLiquidity,
			DefaultResolutionHours: cfg.Market.DefaultResolutionHours,
			SettlementTimeout:      cfg.Settlement.Timeout.Duration,
			StrictPersistence:      cfg.Persistence.Strict,
			SeedMarkets:            cfg.Ledger.SeedMarkets,
		},
		marketServiceDeps(deps),
		logger,
	)

	return deps, cleanup, nil
}

// marketServiceDeps converts the optional collaborators into the service's
// dependency set, leaving interface fields nil for disabled backends.
func marketServiceDeps(deps *Dependencies) service.MarketServiceDeps {
	sd := service.MarketServiceDeps{
		Audit:    deps.AuditStore,
		Cache:    deps.MarketCache,
		Bus:      deps.SignalBus,
		Locks:    deps.LockManager,
		Notifier: deps.Notifier,
		Metrics:  deps.Metrics,
	}
	if deps.TradeStore != nil {
		sd.Archive = deps.TradeStore
	}
	if deps.Stats != nil {
		sd.Stats = deps.Stats
	}
	return sd
}

func buildSettlement(cfg config.SettlementConfig, logger *slog.Logger) (domain.SettlementProvider, error) {
	key, err := crypto.LoadKey(crypto.KeyConfig{
		RawPrivateKey:    cfg.OperatorKey,
		EncryptedKeyPath: cfg.EncryptedKeyPath,
		KeyPassword:      cfg.KeyPassword,
	})
	if err != nil {
		return nil, fmt.Errorf("settlement key: %w", err)
	}

	var signer *crypto.Signer
	if key != "" {
		signer, err = crypto.NewSigner(key)
		if err != nil {
			return nil, fmt.Errorf("settlement signer: %w", err)
		}
		logger.Info("wire: receipt signing enabled", slog.String("operator", signer.Address().Hex()))
	}

	return settlement.New(settlement.Options{
		Mode:         cfg.Mode,
		FailureRate:  cfg.FailureRate,
		Latency:      cfg.Latency.Duration,
		RelayerURL:   cfg.RelayerURL,
		RelayerKey:   cfg.RelayerKey,
		RelayerSec:   cfg.RelayerSecret,
		PollInterval: cfg.PollInterval.Duration,
		Signer:       signer,
	}, logger)
}

func buildNotifier(cfg config.NotifyConfig, logger *slog.Logger) *notify.Notifier {
	var senders []notify.Sender
	if cfg.TelegramToken != "" && cfg.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(notify.DefaultTelegramAPI, cfg.TelegramToken, cfg.TelegramChatID))
	}
	if cfg.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.DiscordWebhookURL))
	}
	return notify.NewNotifier(senders, cfg.Events, cfg.Tag, logger)
}
