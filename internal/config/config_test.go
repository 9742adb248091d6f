package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultsValidate(t *testing.T) {
	cfg := Defaults()
	assert.NoError(t, cfg.Validate())
}

func TestValidateCollectsProblems(t *testing.T) {
	cfg := Defaults()
	cfg.LogLevel = "loud"
	cfg.Venue.GammaHost = ""
	cfg.Redis.Addr = ""
	cfg.Jobs.SyncInterval.Duration = 0

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "log_level")
	assert.Contains(t, err.Error(), "gamma_host")
	assert.Contains(t, err.Error(), "redis: addr")
	assert.Contains(t, err.Error(), "sync_interval")
}

func TestValidateS3OnlyWhenEnabled(t *testing.T) {
	cfg := Defaults()
	cfg.S3.Enabled = false
	cfg.S3.Bucket = ""
	assert.NoError(t, cfg.Validate())

	cfg.S3.Enabled = true
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "s3: bucket")
}

func TestLoadMergesFileOverDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	data := `
log_level = "debug"

[postgres]
database = "elsewhere"

[jobs]
sync_interval = "90s"
`
	require.NoError(t, os.WriteFile(path, []byte(data), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "elsewhere", cfg.Postgres.Database)
	assert.Equal(t, 90*time.Second, cfg.Jobs.SyncInterval.Duration)
	// Untouched fields keep their defaults.
	assert.Equal(t, "https://clob.polymarket.com", cfg.Venue.ClobHost)
	assert.Equal(t, 5432, cfg.Postgres.Port)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("POLYPAPER_POSTGRES_PASSWORD", "hunter2")
	t.Setenv("POLYPAPER_REDIS_DB", "3")
	t.Setenv("POLYPAPER_S3_ENABLED", "true")
	t.Setenv("POLYPAPER_JOBS_PRICE_RETENTION", "168h")
	t.Setenv("POLYPAPER_NOTIFY_EVENTS", "fill, resolution ,")

	cfg := Defaults()
	applyEnvOverrides(&cfg)

	assert.Equal(t, "hunter2", cfg.Postgres.Password)
	assert.Equal(t, 3, cfg.Redis.DB)
	assert.True(t, cfg.S3.Enabled)
	assert.Equal(t, 7*24*time.Hour, cfg.Jobs.PriceRetention.Duration)
	assert.Equal(t, []string{"fill", "resolution"}, cfg.Notify.Events)
}

func TestRedactedConfigHidesSecrets(t *testing.T) {
	cfg := Defaults()
	cfg.Postgres.Password = "pg-secret"
	cfg.Redis.Password = "redis-secret"
	cfg.S3.SecretKey = "s3-secret"
	cfg.Notify.TelegramToken = "tg-token"

	out := RedactedConfig(&cfg)

	assert.Equal(t, "***", out.Postgres.Password)
	assert.Equal(t, "***", out.Redis.Password)
	assert.Equal(t, "***", out.S3.SecretKey)
	assert.Equal(t, "***", out.Notify.TelegramToken)
	// Original untouched.
	assert.Equal(t, "pg-secret", cfg.Postgres.Password)
	// Empty secrets stay empty rather than becoming placeholders.
	assert.Empty(t, out.S3.AccessKey)
}
