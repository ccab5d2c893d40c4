// Package config defines the top-level configuration for the metamarket
// engine and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by METAMARKET_* environment variables.
type Config struct {
	Ledger      LedgerConfig      `toml:"ledger"`
	Persistence PersistenceConfig `toml:"persistence"`
	Market      MarketConfig      `toml:"market"`
	Settlement  SettlementConfig  `toml:"settlement"`
	Supabase    SupabaseConfig    `toml:"supabase"`
	Redis       RedisConfig       `toml:"redis"`
	S3          S3Config          `toml:"s3"`
	Archive     ArchiveConfig     `toml:"archive"`
	Server      ServerConfig      `toml:"server"`
	Stats       StatsConfig       `toml:"stats"`
	Notify      NotifyConfig      `toml:"notify"`
	Mode        string            `toml:"mode"`
	LogLevel    string            `toml:"log_level"`
}

// LedgerConfig tunes the in-memory market ledger.
type LedgerConfig struct {
	// HotTrades is how many recent trades each market keeps in memory and in
	// the snapshot.
	HotTrades   int  `toml:"hot_trades"`
	SeedMarkets bool `toml:"seed_markets"`
}

// PersistenceConfig selects where snapshots are written.
type PersistenceConfig struct {
	// Location is "memory", a file path, or "s3://<key>".
	Location  string `toml:"location"`
	QueueSize int    `toml:"queue_size"`
	Strict    bool   `toml:"strict"`
}

// MarketConfig holds defaults for newly created markets.
type MarketConfig struct {
	DefaultLiquidity       float64 `toml:"default_liquidity"`
	DefaultResolutionHours int     `toml:"default_resolution_hours"`
}

// SettlementConfig selects and configures the settlement provider.
type SettlementConfig struct {
	Mode          string   `toml:"mode"`
	Timeout       duration `toml:"timeout"`
	FailureRate   float64  `toml:"failure_rate"`
	Latency       duration `toml:"latency"`
	RelayerURL    string   `toml:"relayer_url"`
	RelayerKey    string   `toml:"relayer_key"`
	RelayerSecret string   `toml:"relayer_secret"`
	PollInterval  duration `toml:"poll_interval"`
	// OperatorKey signs mock settlement receipts. EncryptedKeyPath with
	// KeyPassword is the alternative.
	OperatorKey      string `toml:"operator_key"`
	EncryptedKeyPath string `toml:"encrypted_key_path"`
	KeyPassword      string `toml:"key_password"`
}

// SupabaseConfig holds PostgreSQL / Supabase connection parameters.
type SupabaseConfig struct {
	Enabled       bool   `toml:"enabled"`
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Enabled          bool     `toml:"enabled"`
	Addr             string   `toml:"addr"`
	Password         string   `toml:"password"`
	DB               int      `toml:"db"`
	PoolSize         int      `toml:"pool_size"`
	MaxRetries       int      `toml:"max_retries"`
	TLSEnabled       bool     `toml:"tls_enabled"`
	KeyPrefix        string   `toml:"key_prefix"`
	StreamMaxLen     int64    `toml:"stream_max_len"`
	MarketCacheTTL   duration `toml:"market_cache_ttl"`
	DistributedLocks bool     `toml:"distributed_locks"`
	LockWait         duration `toml:"lock_wait"`
}

// S3Config holds S3-compatible object storage parameters.
type S3Config struct {
	Enabled        bool   `toml:"enabled"`
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
	Prefix         string `toml:"prefix"`
}

// ArchiveConfig controls the periodic trade export and snapshot backup.
type ArchiveConfig struct {
	Enabled        bool     `toml:"enabled"`
	Interval       duration `toml:"interval"`
	RetentionDays  int      `toml:"retention_days"`
	SnapshotBackup bool     `toml:"snapshot_backup"`
}

// duration is a wrapper around time.Duration that supports TOML string decoding
// (e.g. "5m", "30s").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings like "5m" or "30s".
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Enabled     bool     `toml:"enabled"`
	Port        int      `toml:"port"`
	APIKey      string   `toml:"api_key"`
	CORSOrigins []string `toml:"cors_origins"`
	// RateLimit is the number of trade and quote requests allowed per client
	// within RateWindow. Zero disables limiting.
	RateLimit  int      `toml:"rate_limit"`
	RateWindow duration `toml:"rate_window"`
	WSEnabled  bool     `toml:"ws_enabled"`
}

// StatsConfig seeds the static tournament stats provider.
type StatsConfig struct {
	Enabled           bool    `toml:"enabled"`
	TotalParticipants int     `toml:"total_participants"`
	CurrentPrizePool  float64 `toml:"current_prize_pool"`
	AverageScore      float64 `toml:"average_score"`
	ActiveContests    int     `toml:"active_contests"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
	Tag               string   `toml:"tag"`
}

// Defaults returns a Config populated with reasonable default values.
// These match the values in config.example.toml.
func Defaults() Config {
	return Config{
		Ledger: LedgerConfig{
			HotTrades:   50,
			SeedMarkets: true,
		},
		Persistence: PersistenceConfig{
			Location:  "data/meta-markets.json",
			QueueSize: 64,
		},
		Market: MarketConfig{
			DefaultLiquidity:       120,
			DefaultResolutionHours: 24,
		},
		Settlement: SettlementConfig{
			Mode:         "mock",
			Timeout:      duration{10 * time.Second},
			PollInterval: duration{500 * time.Millisecond},
		},
		Supabase: SupabaseConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "postgres",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Addr:           "localhost:6379",
			PoolSize:       20,
			MaxRetries:     3,
			KeyPrefix:      "metamarket:",
			StreamMaxLen:   10_000,
			MarketCacheTTL: duration{5 * time.Minute},
			LockWait:       duration{2 * time.Second},
		},
		S3: S3Config{
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "metamarket-data",
			ForcePathStyle: true,
		},
		Archive: ArchiveConfig{
			Interval:       duration{time.Hour},
			RetentionDays:  30,
			SnapshotBackup: true,
		},
		Server: ServerConfig{
			Enabled:     true,
			Port:        8080,
			CORSOrigins: []string{"*"},
			RateLimit:   60,
			RateWindow:  duration{time.Minute},
			WSEnabled:   true,
		},
		Stats: StatsConfig{
			Enabled:           true,
			TotalParticipants: 150,
			CurrentPrizePool:  2500,
			AverageScore:      42.5,
			ActiveContests:    3,
		},
		Notify: NotifyConfig{
			Events: []string{
				"market_resolved",
				"settlement_failed",
				"persistence_unavailable",
				"settlement_orphaned",
			},
			Tag: "metamarket",
		},
		Mode:     "server",
		LogLevel: "info",
	}
}

var validModes = map[string]bool{
	"server":  true,
	"archive": true,
	"full":    true,
}

var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

var validSettlementModes = map[string]bool{
	"mock":    true,
	"relayer": true,
	"testnet": true,
	"mainnet": true,
}

// Validate checks the Config for obviously invalid or missing values and
// returns every problem found in a single error.
func (c *Config) Validate() error {
	var errs []string

	if !validModes[c.Mode] {
		errs = append(errs, fmt.Sprintf("mode must be one of server, archive, full; got %q", c.Mode))
	}
	if !validLogLevels[c.LogLevel] {
		errs = append(errs, fmt.Sprintf("log_level must be one of debug, info, warn, error; got %q", c.LogLevel))
	}

	// Ledger
	if c.Ledger.HotTrades < 1 {
		errs = append(errs, "ledger: hot_trades must be >= 1")
	}

	// Persistence
	loc := strings.TrimSpace(c.Persistence.Location)
	switch {
	case loc == "":
		errs = append(errs, "persistence: location must not be empty")
	case strings.HasPrefix(loc, "s3://"):
		if strings.TrimPrefix(loc, "s3://") == "" {
			errs = append(errs, "persistence: s3 location needs an object key")
		}
		if !c.S3.Enabled {
			errs = append(errs, "persistence: s3 location requires s3.enabled")
		}
	}
	if c.Persistence.QueueSize < 1 {
		errs = append(errs, "persistence: queue_size must be >= 1")
	}

	// Market
	if c.Market.DefaultLiquidity <= 0 {
		errs = append(errs, "market: default_liquidity must be > 0")
	}
	if c.Market.DefaultResolutionHours < 1 {
		errs = append(errs, "market: default_resolution_hours must be >= 1")
	}

	// Settlement
	if !validSettlementModes[c.Settlement.Mode] {
		errs = append(errs, fmt.Sprintf("settlement: mode must be one of mock, relayer, testnet, mainnet; got %q", c.Settlement.Mode))
	}
	if c.Settlement.Mode == "relayer" {
		if c.Settlement.RelayerURL == "" {
			errs = append(errs, "settlement: relayer_url is required in relayer mode")
		}
	}
	if c.Settlement.RelayerURL != "" && (c.Settlement.RelayerKey == "" || c.Settlement.RelayerSecret == "") {
		errs = append(errs, "settlement: relayer_key and relayer_secret must be set with relayer_url")
	}
	if c.Settlement.Timeout.Duration <= 0 {
		errs = append(errs, "settlement: timeout must be > 0")
	}
	if c.Settlement.FailureRate < 0 || c.Settlement.FailureRate > 1 {
		errs = append(errs, fmt.Sprintf("settlement: failure_rate must be within [0,1], got %g", c.Settlement.FailureRate))
	}
	if c.Settlement.Latency.Duration < 0 {
		errs = append(errs, "settlement: latency must not be negative")
	}
	if c.Settlement.EncryptedKeyPath != "" && c.Settlement.KeyPassword == "" {
		errs = append(errs, "settlement: key_password is required when encrypted_key_path is set")
	}

	// Supabase
	if c.Supabase.Enabled {
		if strings.TrimSpace(c.Supabase.DSN) == "" {
			if c.Supabase.Host == "" {
				errs = append(errs, "supabase: host must not be empty when dsn is unset")
			}
			if c.Supabase.Port <= 0 || c.Supabase.Port > 65535 {
				errs = append(errs, fmt.Sprintf("supabase: port must be 1-65535, got %d", c.Supabase.Port))
			}
			if c.Supabase.Database == "" {
				errs = append(errs, "supabase: database must not be empty when dsn is unset")
			}
		}
		if c.Supabase.PoolMaxConns < 1 {
			errs = append(errs, "supabase: pool_max_conns must be >= 1")
		}
		if c.Supabase.PoolMinConns < 0 {
			errs = append(errs, "supabase: pool_min_conns must be >= 0")
		}
		if c.Supabase.PoolMinConns > c.Supabase.PoolMaxConns {
			errs = append(errs, "supabase: pool_min_conns must not exceed pool_max_conns")
		}
	}

	// Redis
	if c.Redis.Enabled {
		if c.Redis.Addr == "" {
			errs = append(errs, "redis: addr must not be empty")
		}
		if c.Redis.PoolSize < 1 {
			errs = append(errs, "redis: pool_size must be >= 1")
		}
		if c.Redis.StreamMaxLen < 0 {
			errs = append(errs, "redis: stream_max_len must not be negative")
		}
	}
	if c.Redis.DistributedLocks && !c.Redis.Enabled {
		errs = append(errs, "redis: distributed_locks requires redis.enabled")
	}

	// S3
	if c.S3.Enabled && c.S3.Bucket == "" {
		errs = append(errs, "s3: bucket must not be empty")
	}

	// Archive
	archiving := c.Mode == "archive" || (c.Mode == "full" && c.Archive.Enabled)
	if archiving {
		if c.Archive.Interval.Duration <= 0 {
			errs = append(errs, "archive: interval must be > 0")
		}
		if c.Archive.RetentionDays < 0 {
			errs = append(errs, "archive: retention_days must not be negative")
		}
		if !c.S3.Enabled {
			errs = append(errs, "archive: requires s3.enabled")
		}
		if !c.Supabase.Enabled && !c.Archive.SnapshotBackup {
			errs = append(errs, "archive: nothing to archive without supabase.enabled or snapshot_backup")
		}
	}

	// Server
	if c.Server.Enabled {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
		}
		if c.Server.RateLimit < 0 {
			errs = append(errs, "server: rate_limit must not be negative")
		}
		if c.Server.RateLimit > 0 && c.Server.RateWindow.Duration <= 0 {
			errs = append(errs, "server: rate_window must be > 0 when rate_limit is set")
		}
	}

	// Notify
	if (c.Notify.TelegramToken == "") != (c.Notify.TelegramChatID == "") {
		errs = append(errs, "notify: telegram_token and telegram_chat_id must be set together")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
