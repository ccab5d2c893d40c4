package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies METAMARKET_* environment variable overrides, and
// returns the final Config. An empty path skips the file. The returned Config
// has NOT been validated; the caller should invoke Config.Validate() after
// Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return nil, err
		}
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known METAMARKET_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty). This lets operators inject secrets at deploy time without touching
// the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── Ledger ──
	setInt(&cfg.Ledger.HotTrades, "METAMARKET_LEDGER_HOT_TRADES")
	setBool(&cfg.Ledger.SeedMarkets, "METAMARKET_LEDGER_SEED_MARKETS")

	// ── Persistence ──
	setStr(&cfg.Persistence.Location, "METAMARKET_PERSISTENCE_LOCATION")
	setStr(&cfg.Persistence.Location, "META_MARKET_STORE") // compatibility alias
	setInt(&cfg.Persistence.QueueSize, "METAMARKET_PERSISTENCE_QUEUE_SIZE")
	setBool(&cfg.Persistence.Strict, "METAMARKET_PERSISTENCE_STRICT")

	// ── Market ──
	setFloat64(&cfg.Market.DefaultLiquidity, "METAMARKET_MARKET_DEFAULT_LIQUIDITY")
	setInt(&cfg.Market.DefaultResolutionHours, "METAMARKET_MARKET_DEFAULT_RESOLUTION_HOURS")

	// ── Settlement ──
	setStr(&cfg.Settlement.Mode, "METAMARKET_SETTLEMENT_MODE")
	setDuration(&cfg.Settlement.Timeout, "METAMARKET_SETTLEMENT_TIMEOUT")
	setFloat64(&cfg.Settlement.FailureRate, "METAMARKET_SETTLEMENT_FAILURE_RATE")
	setDuration(&cfg.Settlement.Latency, "METAMARKET_SETTLEMENT_LATENCY")
	setStr(&cfg.Settlement.RelayerURL, "METAMARKET_SETTLEMENT_RELAYER_URL")
	setStr(&cfg.Settlement.RelayerKey, "METAMARKET_SETTLEMENT_RELAYER_KEY")
	setStr(&cfg.Settlement.RelayerSecret, "METAMARKET_SETTLEMENT_RELAYER_SECRET")
	setDuration(&cfg.Settlement.PollInterval, "METAMARKET_SETTLEMENT_POLL_INTERVAL")
	setStr(&cfg.Settlement.OperatorKey, "METAMARKET_SETTLEMENT_OPERATOR_KEY")
	setStr(&cfg.Settlement.EncryptedKeyPath, "METAMARKET_SETTLEMENT_ENCRYPTED_KEY_PATH")
	setStr(&cfg.Settlement.KeyPassword, "METAMARKET_SETTLEMENT_KEY_PASSWORD")

	// ── Supabase ──
	setBool(&cfg.Supabase.Enabled, "METAMARKET_SUPABASE_ENABLED")
	setStr(&cfg.Supabase.DSN, "METAMARKET_SUPABASE_DSN")
	setStr(&cfg.Supabase.DSN, "METAMARKET_SUPABASE_URL") // compatibility alias
	setStr(&cfg.Supabase.Host, "METAMARKET_SUPABASE_HOST")
	setInt(&cfg.Supabase.Port, "METAMARKET_SUPABASE_PORT")
	setStr(&cfg.Supabase.Database, "METAMARKET_SUPABASE_DATABASE")
	setStr(&cfg.Supabase.User, "METAMARKET_SUPABASE_USER")
	setStr(&cfg.Supabase.Password, "METAMARKET_SUPABASE_PASSWORD")
	setStr(&cfg.Supabase.SSLMode, "METAMARKET_SUPABASE_SSL_MODE")
	setInt(&cfg.Supabase.PoolMaxConns, "METAMARKET_SUPABASE_POOL_MAX_CONNS")
	setInt(&cfg.Supabase.PoolMinConns, "METAMARKET_SUPABASE_POOL_MIN_CONNS")
	setBool(&cfg.Supabase.RunMigrations, "METAMARKET_SUPABASE_RUN_MIGRATIONS")

	// ── Redis ──
	setBool(&cfg.Redis.Enabled, "METAMARKET_REDIS_ENABLED")
	setStr(&cfg.Redis.Addr, "METAMARKET_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "METAMARKET_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "METAMARKET_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "METAMARKET_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "METAMARKET_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "METAMARKET_REDIS_TLS_ENABLED")
	setStr(&cfg.Redis.KeyPrefix, "METAMARKET_REDIS_KEY_PREFIX")
	setInt64(&cfg.Redis.StreamMaxLen, "METAMARKET_REDIS_STREAM_MAX_LEN")
	setDuration(&cfg.Redis.MarketCacheTTL, "METAMARKET_REDIS_MARKET_CACHE_TTL")
	setBool(&cfg.Redis.DistributedLocks, "METAMARKET_REDIS_DISTRIBUTED_LOCKS")
	setDuration(&cfg.Redis.LockWait, "METAMARKET_REDIS_LOCK_WAIT")

	// ── S3 ──
	setBool(&cfg.S3.Enabled, "METAMARKET_S3_ENABLED")
	setStr(&cfg.S3.Endpoint, "METAMARKET_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "METAMARKET_S3_REGION")
	setStr(&cfg.S3.Bucket, "METAMARKET_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "METAMARKET_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "METAMARKET_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "METAMARKET_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "METAMARKET_S3_FORCE_PATH_STYLE")
	setStr(&cfg.S3.Prefix, "METAMARKET_S3_PREFIX")

	// ── Archive ──
	setBool(&cfg.Archive.Enabled, "METAMARKET_ARCHIVE_ENABLED")
	setDuration(&cfg.Archive.Interval, "METAMARKET_ARCHIVE_INTERVAL")
	setInt(&cfg.Archive.RetentionDays, "METAMARKET_ARCHIVE_RETENTION_DAYS")
	setBool(&cfg.Archive.SnapshotBackup, "METAMARKET_ARCHIVE_SNAPSHOT_BACKUP")

	// ── Server ──
	setBool(&cfg.Server.Enabled, "METAMARKET_SERVER_ENABLED")
	setInt(&cfg.Server.Port, "METAMARKET_SERVER_PORT")
	setStr(&cfg.Server.APIKey, "METAMARKET_SERVER_API_KEY")
	setStringSlice(&cfg.Server.CORSOrigins, "METAMARKET_SERVER_CORS_ORIGINS")
	setInt(&cfg.Server.RateLimit, "METAMARKET_SERVER_RATE_LIMIT")
	setDuration(&cfg.Server.RateWindow, "METAMARKET_SERVER_RATE_WINDOW")
	setBool(&cfg.Server.WSEnabled, "METAMARKET_SERVER_WS_ENABLED")

	// ── Stats ──
	setBool(&cfg.Stats.Enabled, "METAMARKET_STATS_ENABLED")
	setInt(&cfg.Stats.TotalParticipants, "METAMARKET_STATS_TOTAL_PARTICIPANTS")
	setFloat64(&cfg.Stats.CurrentPrizePool, "METAMARKET_STATS_CURRENT_PRIZE_POOL")
	setFloat64(&cfg.Stats.AverageScore, "METAMARKET_STATS_AVERAGE_SCORE")
	setInt(&cfg.Stats.ActiveContests, "METAMARKET_STATS_ACTIVE_CONTESTS")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "METAMARKET_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "METAMARKET_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "METAMARKET_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "METAMARKET_NOTIFY_EVENTS")
	setStr(&cfg.Notify.Tag, "METAMARKET_NOTIFY_TAG")

	// ── Top-level ──
	setStr(&cfg.Mode, "METAMARKET_MODE")
	setStr(&cfg.LogLevel, "METAMARKET_LOG_LEVEL")
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.
// ---------------------------------------------------------------------------

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
