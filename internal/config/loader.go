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
// built-in defaults, applies PAPERTRADER_* environment variable overrides,
// and returns the final Config. An empty path skips the file. The returned
// Config has NOT been validated; the caller should invoke Config.Validate()
// after Load.
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

// applyEnvOverrides reads well-known PAPERTRADER_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty). This lets operators inject secrets at deploy time without touching
// the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── Redis ──
	setStr(&cfg.Redis.Addr, "PAPERTRADER_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "PAPERTRADER_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "PAPERTRADER_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "PAPERTRADER_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "PAPERTRADER_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "PAPERTRADER_REDIS_TLS_ENABLED")
	setInt64(&cfg.Redis.StreamMaxLen, "PAPERTRADER_REDIS_STREAM_MAX_LEN")

	// ── Postgres ──
	setBool(&cfg.Postgres.Enabled, "PAPERTRADER_POSTGRES_ENABLED")
	setStr(&cfg.Postgres.DSN, "PAPERTRADER_POSTGRES_DSN")
	setStr(&cfg.Postgres.DSN, "DATABASE_URL") // platform alias
	setStr(&cfg.Postgres.Host, "PAPERTRADER_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "PAPERTRADER_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "PAPERTRADER_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "PAPERTRADER_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "PAPERTRADER_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "PAPERTRADER_POSTGRES_SSL_MODE")
	setInt(&cfg.Postgres.PoolMaxConns, "PAPERTRADER_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "PAPERTRADER_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "PAPERTRADER_POSTGRES_RUN_MIGRATIONS")

	// ── S3 ──
	setBool(&cfg.S3.Enabled, "PAPERTRADER_S3_ENABLED")
	setStr(&cfg.S3.Endpoint, "PAPERTRADER_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "PAPERTRADER_S3_REGION")
	setStr(&cfg.S3.Bucket, "PAPERTRADER_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "PAPERTRADER_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "PAPERTRADER_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "PAPERTRADER_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "PAPERTRADER_S3_FORCE_PATH_STYLE")

	// ── Server ──
	setInt(&cfg.Server.Port, "PAPERTRADER_SERVER_PORT")
	setStringSlice(&cfg.Server.CORSOrigins, "PAPERTRADER_SERVER_CORS_ORIGINS")
	setStr(&cfg.Server.APIKey, "PAPERTRADER_SERVER_API_KEY")
	setInt(&cfg.Server.OpenRateLimit, "PAPERTRADER_SERVER_OPEN_RATE_LIMIT")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "PAPERTRADER_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "PAPERTRADER_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "PAPERTRADER_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "PAPERTRADER_NOTIFY_EVENTS")

	// ── Monitor ──
	setDuration(&cfg.Monitor.Interval, "PAPERTRADER_MONITOR_INTERVAL")
	setDuration(&cfg.Monitor.GracePeriod, "PAPERTRADER_MONITOR_GRACE_PERIOD")
	setDuration(&cfg.Monitor.CallTimeout, "PAPERTRADER_MONITOR_CALL_TIMEOUT")
	setFloat64(&cfg.Monitor.DrawdownFraction, "PAPERTRADER_MONITOR_DRAWDOWN_FRACTION")
	setInt(&cfg.Monitor.MaxWorkers, "PAPERTRADER_MONITOR_MAX_WORKERS")

	// ── OI ──
	setDuration(&cfg.OI.Interval, "PAPERTRADER_OI_INTERVAL")
	setInt(&cfg.OI.WindowSize, "PAPERTRADER_OI_WINDOW_SIZE")
	setInt(&cfg.OI.TriggerCount, "PAPERTRADER_OI_TRIGGER_COUNT")

	// ── Targets ──
	setIntSlice(&cfg.Targets.LotPercents, "PAPERTRADER_TARGETS_LOT_PERCENTS")
	setFloat64(&cfg.Targets.PriceCorrectionPct, "PAPERTRADER_TARGETS_PRICE_CORRECTION_PCT")
	setBool(&cfg.Targets.SmartTargets, "PAPERTRADER_TARGETS_SMART_TARGETS")
	setFloat64(&cfg.Targets.DefaultDelta, "PAPERTRADER_TARGETS_DEFAULT_DELTA")

	// ── Top-level ──
	setStr(&cfg.Mode, "PAPERTRADER_MODE")
	setStr(&cfg.LogLevel, "PAPERTRADER_LOG_LEVEL")
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

func splitList(v string) []string {
	parts := strings.Split(v, ",")
	cleaned := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			cleaned = append(cleaned, p)
		}
	}
	return cleaned
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		if cleaned := splitList(v); len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}

// setIntSlice leaves dst untouched unless every element parses.
func setIntSlice(dst *[]int, key string) {
	v := os.Getenv(key)
	if v == "" {
		return
	}
	parts := splitList(v)
	out := make([]int, 0, len(parts))
	for _, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil {
			return
		}
		out = append(out, n)
	}
	if len(out) > 0 {
		*dst = out
	}
}
