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
// built-in defaults, applies POLYPAPER_* environment variable overrides, and
// returns the final Config. The returned Config has NOT been validated; the
// caller should invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, err
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known POLYPAPER_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty). This lets operators inject secrets at deploy time without touching
// the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── Venue ──
	setStr(&cfg.Venue.GammaHost, "POLYPAPER_VENUE_GAMMA_HOST")
	setStr(&cfg.Venue.ClobHost, "POLYPAPER_VENUE_CLOB_HOST")
	setStr(&cfg.Venue.WsHost, "POLYPAPER_VENUE_WS_HOST")
	setDuration(&cfg.Venue.HTTPTimeout, "POLYPAPER_VENUE_HTTP_TIMEOUT")

	// ── Postgres ──
	setStr(&cfg.Postgres.DSN, "POLYPAPER_POSTGRES_DSN")
	setStr(&cfg.Postgres.Host, "POLYPAPER_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "POLYPAPER_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "POLYPAPER_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "POLYPAPER_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "POLYPAPER_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "POLYPAPER_POSTGRES_SSL_MODE")
	setInt(&cfg.Postgres.PoolMaxConns, "POLYPAPER_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "POLYPAPER_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "POLYPAPER_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setStr(&cfg.Redis.Addr, "POLYPAPER_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "POLYPAPER_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "POLYPAPER_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "POLYPAPER_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "POLYPAPER_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "POLYPAPER_REDIS_TLS_ENABLED")

	// ── S3 ──
	setBool(&cfg.S3.Enabled, "POLYPAPER_S3_ENABLED")
	setStr(&cfg.S3.Endpoint, "POLYPAPER_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "POLYPAPER_S3_REGION")
	setStr(&cfg.S3.Bucket, "POLYPAPER_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "POLYPAPER_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "POLYPAPER_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "POLYPAPER_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "POLYPAPER_S3_FORCE_PATH_STYLE")

	// ── Cache ──
	setDuration(&cfg.Cache.EventsTTL, "POLYPAPER_CACHE_EVENTS_TTL")

	// ── Jobs ──
	setDuration(&cfg.Jobs.SyncInterval, "POLYPAPER_JOBS_SYNC_INTERVAL")
	setDuration(&cfg.Jobs.ReconcileInterval, "POLYPAPER_JOBS_RECONCILE_INTERVAL")
	setInt(&cfg.Jobs.ReconcileBatchSize, "POLYPAPER_JOBS_RECONCILE_BATCH_SIZE")
	setDuration(&cfg.Jobs.CleanupInterval, "POLYPAPER_JOBS_CLEANUP_INTERVAL")
	setDuration(&cfg.Jobs.PriceRetention, "POLYPAPER_JOBS_PRICE_RETENTION")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "POLYPAPER_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "POLYPAPER_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "POLYPAPER_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "POLYPAPER_NOTIFY_EVENTS")

	// ── Top-level ──
	setStr(&cfg.LogLevel, "POLYPAPER_LOG_LEVEL")
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
