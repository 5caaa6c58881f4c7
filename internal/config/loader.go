package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path (skipped when empty), merges
// it on top of the built-in defaults, applies PERPRISK_* environment variable
// overrides, and returns the final Config. The returned Config has NOT been
// validated; the caller should invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return nil, fmt.Errorf("config: decode %s: %w", path, err)
		}
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known PERPRISK_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty). This lets operators inject secrets at deploy time without touching
// the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── Account ──
	setStringSlice(&cfg.Account.Tracked, "PERPRISK_ACCOUNT_TRACKED")

	// ── Engine ──
	setDuration(&cfg.Engine.PendingUpdateMaxAge, "PERPRISK_ENGINE_PENDING_UPDATE_MAX_AGE")
	setDuration(&cfg.Engine.RefreshInterval, "PERPRISK_ENGINE_REFRESH_INTERVAL")
	setStr(&cfg.Engine.UIFeeFactor, "PERPRISK_ENGINE_UI_FEE_FACTOR")
	setDuration(&cfg.Engine.ArchiveInterval, "PERPRISK_ENGINE_ARCHIVE_INTERVAL")
	setDuration(&cfg.Engine.RecomputeLockTTL, "PERPRISK_ENGINE_RECOMPUTE_LOCK_TTL")
	setDuration(&cfg.Engine.StreamBlock, "PERPRISK_ENGINE_STREAM_BLOCK")

	// ── Protocol ──
	setStr(&cfg.Protocol.MinCollateralUsd, "PERPRISK_PROTOCOL_MIN_COLLATERAL_USD")
	setStr(&cfg.Protocol.MinPositionSizeUsd, "PERPRISK_PROTOCOL_MIN_POSITION_SIZE_USD")
	setInt(&cfg.Protocol.MaxAutoCancelOrders, "PERPRISK_PROTOCOL_MAX_AUTO_CANCEL_ORDERS")

	// ── Postgres ──
	setStr(&cfg.Postgres.DSN, "PERPRISK_POSTGRES_DSN")
	setStr(&cfg.Postgres.DSN, "DATABASE_URL") // compatibility alias
	setStr(&cfg.Postgres.Host, "PERPRISK_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "PERPRISK_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "PERPRISK_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "PERPRISK_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "PERPRISK_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "PERPRISK_POSTGRES_SSL_MODE")
	setInt(&cfg.Postgres.PoolMaxConns, "PERPRISK_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "PERPRISK_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "PERPRISK_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setStr(&cfg.Redis.Addr, "PERPRISK_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "PERPRISK_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "PERPRISK_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "PERPRISK_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "PERPRISK_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "PERPRISK_REDIS_TLS_ENABLED")

	// ── S3 ──
	setStr(&cfg.S3.Endpoint, "PERPRISK_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "PERPRISK_S3_REGION")
	setStr(&cfg.S3.Bucket, "PERPRISK_S3_BUCKET")
	setStr(&cfg.S3.Prefix, "PERPRISK_S3_PREFIX")
	setStr(&cfg.S3.AccessKey, "PERPRISK_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "PERPRISK_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "PERPRISK_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "PERPRISK_S3_FORCE_PATH_STYLE")

	// ── Server ──
	setBool(&cfg.Server.Enabled, "PERPRISK_SERVER_ENABLED")
	setInt(&cfg.Server.Port, "PERPRISK_SERVER_PORT")
	setStringSlice(&cfg.Server.CORSOrigins, "PERPRISK_SERVER_CORS_ORIGINS")
	setInt(&cfg.Server.RateLimitPerIP, "PERPRISK_SERVER_RATE_LIMIT_PER_IP")
	setStr(&cfg.Server.APIKey, "PERPRISK_SERVER_API_KEY")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "PERPRISK_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "PERPRISK_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "PERPRISK_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "PERPRISK_NOTIFY_EVENTS")

	// ── Top-level ──
	setStr(&cfg.Mode, "PERPRISK_MODE")
	setStr(&cfg.LogLevel, "PERPRISK_LOG_LEVEL")
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
