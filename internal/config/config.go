// Package config defines the top-level configuration for the position risk
// engine and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by PERPRISK_* environment variables.
type Config struct {
	Account  AccountConfig  `toml:"account"`
	Engine   EngineConfig   `toml:"engine"`
	Protocol ProtocolConfig `toml:"protocol"`
	Postgres PostgresConfig `toml:"postgres"`
	Redis    RedisConfig    `toml:"redis"`
	S3       S3Config       `toml:"s3"`
	Server   ServerConfig   `toml:"server"`
	Notify   NotifyConfig   `toml:"notify"`
	Mode     string         `toml:"mode"`
	LogLevel string         `toml:"log_level"`
}

// AccountConfig lists the accounts whose positions are refreshed on a timer.
// Other accounts are computed on first request.
type AccountConfig struct {
	Tracked []string `toml:"tracked"`
}

// EngineConfig holds recompute parameters.
type EngineConfig struct {
	// PendingUpdateMaxAge is how long a pending update hint is honoured.
	PendingUpdateMaxAge duration `toml:"pending_update_max_age"`
	// RefreshInterval re-runs every tracked account on a timer so snapshot
	// changes made outside the event stream are picked up.
	RefreshInterval duration `toml:"refresh_interval"`
	// UIFeeFactor is the interface fee as a fraction of size, e.g. "0.0005".
	UIFeeFactor     string   `toml:"ui_fee_factor"`
	ArchiveInterval duration `toml:"archive_interval"`
	// RecomputeLockTTL bounds the distributed per-account recompute lock
	// shared by replicas. Zero disables the lock.
	RecomputeLockTTL duration `toml:"recompute_lock_ttl"`
	// StreamBlock is how long one stream read waits for new entries.
	StreamBlock duration `toml:"stream_block"`
}

// ProtocolConfig holds the protocol-wide constants. USD values are decimal
// strings so they keep full precision.
type ProtocolConfig struct {
	MinCollateralUsd    string `toml:"min_collateral_usd"`
	MinPositionSizeUsd  string `toml:"min_position_size_usd"`
	MaxAutoCancelOrders int    `toml:"max_auto_cancel_orders"`
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
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
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
}

// S3Config holds S3-compatible object storage parameters.
type S3Config struct {
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	Prefix         string `toml:"prefix"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
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
	Enabled        bool     `toml:"enabled"`
	Port           int      `toml:"port"`
	CORSOrigins    []string `toml:"cors_origins"`
	RateLimitPerIP int      `toml:"rate_limit_per_ip"` // requests per minute, 0 disables
	APIKey         string   `toml:"api_key"`           // guards write endpoints; empty disables
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// Defaults returns a Config populated with reasonable default values.
// These match the values in config.example.toml.
func Defaults() Config {
	return Config{
		Engine: EngineConfig{
			PendingUpdateMaxAge: duration{600 * time.Second},
			RefreshInterval:     duration{30 * time.Second},
			UIFeeFactor:         "0",
			ArchiveInterval:     duration{time.Hour},
			RecomputeLockTTL:    duration{15 * time.Second},
			StreamBlock:         duration{2 * time.Second},
		},
		Protocol: ProtocolConfig{
			MinCollateralUsd:    "1",
			MinPositionSizeUsd:  "1",
			MaxAutoCancelOrders: 6,
		},
		Postgres: PostgresConfig{
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
			Addr:       "localhost:6379",
			PoolSize:   20,
			MaxRetries: 3,
		},
		S3: S3Config{
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "perprisk-data",
			Prefix:         "positions",
			ForcePathStyle: true,
		},
		Server: ServerConfig{
			Enabled:        true,
			Port:           8000,
			CORSOrigins:    []string{"http://localhost:3000", "http://localhost:5173"},
			RateLimitPerIP: 600,
		},
		Notify: NotifyConfig{
			Events: []string{"low_collateral", "error"},
		},
		Mode:     "full",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"engine":  true,
	"server":  true,
	"archive": true,
	"full":    true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Validate checks Config for obviously invalid or missing values and returns a
// combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: engine, server, archive, full)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Accounts
	for _, a := range c.Account.Tracked {
		if !common.IsHexAddress(a) {
			errs = append(errs, fmt.Sprintf("account: tracked entry %q is not a hex address", a))
		}
	}

	// Engine
	if c.Engine.PendingUpdateMaxAge.Duration <= 0 {
		errs = append(errs, "engine: pending_update_max_age must be > 0")
	}
	if c.Engine.RefreshInterval.Duration <= 0 {
		errs = append(errs, "engine: refresh_interval must be > 0")
	}
	if c.Engine.RecomputeLockTTL.Duration < 0 {
		errs = append(errs, "engine: recompute_lock_ttl must be >= 0")
	}
	if c.Engine.StreamBlock.Duration < 0 {
		errs = append(errs, "engine: stream_block must be >= 0")
	}
	if _, err := c.UIFeeFactor(); err != nil {
		errs = append(errs, "engine: "+err.Error())
	}
	if c.Mode == "archive" || c.Mode == "full" {
		if c.Engine.ArchiveInterval.Duration <= 0 {
			errs = append(errs, "engine: archive_interval must be > 0")
		}
	}

	// Protocol
	if _, err := c.ProtocolConstants(); err != nil {
		errs = append(errs, "protocol: "+err.Error())
	}
	if c.Protocol.MaxAutoCancelOrders < 0 {
		errs = append(errs, "protocol: max_auto_cancel_orders must be >= 0")
	}

	// Postgres
	if strings.TrimSpace(c.Postgres.DSN) == "" {
		if c.Postgres.Host == "" {
			errs = append(errs, "postgres: host must not be empty (or set postgres.dsn)")
		}
		if c.Postgres.Port <= 0 || c.Postgres.Port > 65535 {
			errs = append(errs, fmt.Sprintf("postgres: port must be 1-65535, got %d", c.Postgres.Port))
		}
		if c.Postgres.Database == "" {
			errs = append(errs, "postgres: database must not be empty")
		}
	}
	if c.Postgres.PoolMaxConns < 1 {
		errs = append(errs, "postgres: pool_max_conns must be >= 1")
	}
	if c.Postgres.PoolMinConns < 0 {
		errs = append(errs, "postgres: pool_min_conns must be >= 0")
	}
	if c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
		errs = append(errs, "postgres: pool_min_conns must not exceed pool_max_conns")
	}

	// Redis
	if c.Redis.Addr == "" {
		errs = append(errs, "redis: addr must not be empty")
	}
	if c.Redis.PoolSize < 1 {
		errs = append(errs, "redis: pool_size must be >= 1")
	}

	// S3
	if c.Mode == "archive" || c.Mode == "full" {
		if c.S3.Endpoint == "" {
			errs = append(errs, "s3: endpoint must not be empty")
		}
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty")
		}
	}

	// Server
	if c.Server.Enabled {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
		}
		if c.Server.RateLimitPerIP < 0 {
			errs = append(errs, "server: rate_limit_per_ip must be >= 0")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
