// Package config defines the top-level configuration of the paper-trading
// engine and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"
	_ "time/tzdata" // session time zones must resolve on hosts without zoneinfo

	"github.com/robfig/cron/v3"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by PAPERTRADER_* environment variables.
type Config struct {
	Redis    RedisConfig    `toml:"redis"`
	Postgres PostgresConfig `toml:"postgres"`
	S3       S3Config       `toml:"s3"`
	Server   ServerConfig   `toml:"server"`
	Notify   NotifyConfig   `toml:"notify"`
	Monitor  MonitorConfig  `toml:"monitor"`
	OI       OIConfig       `toml:"oi"`
	Targets  TargetsConfig  `toml:"targets"`
	EOD      EODConfig      `toml:"eod"`
	Mode     string         `toml:"mode"`
	LogLevel string         `toml:"log_level"`
}

// RedisConfig holds Redis connection parameters. Redis is the system of
// record for open positions and is always required.
type RedisConfig struct {
	Addr         string   `toml:"addr"`
	Password     string   `toml:"password"`
	DB           int      `toml:"db"`
	PoolSize     int      `toml:"pool_size"`
	MaxRetries   int      `toml:"max_retries"`
	TLSEnabled   bool     `toml:"tls_enabled"`
	DialTimeout  duration `toml:"dial_timeout"`
	StreamMaxLen int64    `toml:"stream_max_len"`
}

// PostgresConfig holds the outcome journal database. When disabled the
// journal is kept in memory.
type PostgresConfig struct {
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

// S3Config holds S3-compatible object storage parameters for the outcome
// archive.
type S3Config struct {
	Enabled        bool   `toml:"enabled"`
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Port        int      `toml:"port"`
	CORSOrigins []string `toml:"cors_origins"`
	// APIKey protects the mutating routes when set.
	APIKey string `toml:"api_key"`
	// OpenRateLimit caps POST /api/trades per client per minute; 0 disables.
	OpenRateLimit int `toml:"open_rate_limit"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// MonitorConfig tunes the position monitor loop.
type MonitorConfig struct {
	Interval         duration `toml:"interval"`
	GracePeriod      duration `toml:"grace_period"`
	CallTimeout      duration `toml:"call_timeout"`
	DrawdownWindow   duration `toml:"drawdown_window"`
	DrawdownFraction float64  `toml:"drawdown_fraction"`
	TrailBufferPct   float64  `toml:"trail_buffer_pct"`
	MaxWorkers       int      `toml:"max_workers"`
	LockTTL          duration `toml:"lock_ttl"`
	LockWait         duration `toml:"lock_wait"`
}

// OIConfig tunes the open-interest pattern monitor.
type OIConfig struct {
	Interval        duration `toml:"interval"`
	WindowSize      int      `toml:"window_size"`
	TriggerCount    int      `toml:"trigger_count"`
	MinConfidence   float64  `toml:"min_confidence"`
	CountConfidence float64  `toml:"count_confidence"`
}

// TargetsConfig tunes the opener.
type TargetsConfig struct {
	LotPercents        []int   `toml:"lot_percents"`
	PriceCorrectionPct float64 `toml:"price_correction_pct"`
	SmartTargets       bool    `toml:"smart_targets"`
	DefaultDelta       float64 `toml:"default_delta"`
}

// EODConfig lists the end-of-day sessions.
type EODConfig struct {
	Sessions []SessionConfig `toml:"sessions"`
}

// SessionConfig is one exchange family's close. Cron is a five-field spec
// evaluated in Timezone.
type SessionConfig struct {
	Name      string   `toml:"name"`
	Exchanges []string `toml:"exchanges"`
	Cron      string   `toml:"cron"`
	Timezone  string   `toml:"timezone"`
}

// Spec returns the session's cron expression with its time zone applied.
func (s SessionConfig) Spec() string {
	if s.Timezone == "" {
		return s.Cron
	}
	return "CRON_TZ=" + s.Timezone + " " + s.Cron
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

// Defaults returns a Config populated with reasonable default values.
// These match the values in config.example.toml.
func Defaults() Config {
	return Config{
		Redis: RedisConfig{
			Addr:         "localhost:6379",
			PoolSize:     20,
			MaxRetries:   3,
			DialTimeout:  duration{5 * time.Second},
			StreamMaxLen: 10000,
		},
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "papertrader",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  1,
			RunMigrations: true,
		},
		S3: S3Config{
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "papertrader-outcomes",
			ForcePathStyle: true,
		},
		Server: ServerConfig{
			Port:          8000,
			CORSOrigins:   []string{"http://localhost:3000", "http://localhost:5173"},
			OpenRateLimit: 30,
		},
		Notify: NotifyConfig{
			Events: []string{"trade_opened", "target_hit", "trade_closed"},
		},
		Monitor: MonitorConfig{
			Interval:         duration{2 * time.Second},
			GracePeriod:      duration{30 * time.Second},
			CallTimeout:      duration{1500 * time.Millisecond},
			DrawdownWindow:   duration{5 * time.Minute},
			DrawdownFraction: 0.01,
			TrailBufferPct:   0.01,
			MaxWorkers:       8,
			LockTTL:          duration{10 * time.Second},
			LockWait:         duration{5 * time.Second},
		},
		OI: OIConfig{
			Interval:        duration{time.Minute},
			WindowSize:      5,
			TriggerCount:    3,
			MinConfidence:   0.3,
			CountConfidence: 0.5,
		},
		Targets: TargetsConfig{
			LotPercents:        []int{40, 30, 20, 10},
			PriceCorrectionPct: 0.10,
			SmartTargets:       true,
			DefaultDelta:       0.5,
		},
		EOD: EODConfig{
			Sessions: []SessionConfig{
				{Name: "equity", Exchanges: []string{"NSE", "BSE", "NFO", "BFO"}, Cron: "25 15 * * 1-5", Timezone: "Asia/Kolkata"},
				{Name: "currency", Exchanges: []string{"CDS", "BCD"}, Cron: "55 16 * * 1-5", Timezone: "Asia/Kolkata"},
				{Name: "commodity", Exchanges: []string{"MCX"}, Cron: "25 23 * * 1-5", Timezone: "Asia/Kolkata"},
			},
		},
		Mode:     "full",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"full":   true,
	"engine": true,
	"server": true,
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
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: full, engine, server)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Redis
	if c.Redis.Addr == "" {
		errs = append(errs, "redis: addr must not be empty")
	}
	if c.Redis.PoolSize < 1 {
		errs = append(errs, "redis: pool_size must be >= 1")
	}

	// Postgres
	if c.Postgres.Enabled {
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
		if c.Postgres.PoolMinConns < 0 || c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
			errs = append(errs, "postgres: pool_min_conns must be between 0 and pool_max_conns")
		}
	}

	// S3
	if c.S3.Enabled && c.S3.Bucket == "" {
		errs = append(errs, "s3: bucket must not be empty when enabled")
	}

	// Server
	if c.Mode != "engine" && (c.Server.Port <= 0 || c.Server.Port > 65535) {
		errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
	}
	if c.Server.OpenRateLimit < 0 {
		errs = append(errs, "server: open_rate_limit must be >= 0")
	}

	// Notify
	if (c.Notify.TelegramToken == "") != (c.Notify.TelegramChatID == "") {
		errs = append(errs, "notify: telegram_token and telegram_chat_id must be set together")
	}

	// Monitor
	if c.Monitor.Interval.Duration <= 0 {
		errs = append(errs, "monitor: interval must be > 0")
	}
	if c.Monitor.GracePeriod.Duration < 0 {
		errs = append(errs, "monitor: grace_period must be >= 0")
	}
	if c.Monitor.DrawdownWindow.Duration <= 0 {
		errs = append(errs, "monitor: drawdown_window must be > 0")
	}
	if c.Monitor.DrawdownFraction < 0 || c.Monitor.DrawdownFraction >= 1 {
		errs = append(errs, "monitor: drawdown_fraction must be in [0, 1)")
	}
	if c.Monitor.TrailBufferPct < 0 {
		errs = append(errs, "monitor: trail_buffer_pct must be >= 0")
	}
	if c.Monitor.LockTTL.Duration <= 0 {
		errs = append(errs, "monitor: lock_ttl must be > 0")
	}

	// OI
	if c.OI.Interval.Duration <= 0 {
		errs = append(errs, "oi: interval must be > 0")
	}
	if c.OI.WindowSize < 1 {
		errs = append(errs, "oi: window_size must be >= 1")
	}
	if c.OI.TriggerCount < 1 || c.OI.TriggerCount > c.OI.WindowSize {
		errs = append(errs, "oi: trigger_count must be between 1 and window_size")
	}

	// Targets
	if n := len(c.Targets.LotPercents); n < 1 || n > 4 {
		errs = append(errs, fmt.Sprintf("targets: lot_percents needs 1-4 entries, got %d", n))
	}
	for _, p := range c.Targets.LotPercents {
		if p < 0 {
			errs = append(errs, "targets: lot_percents must not be negative")
			break
		}
	}
	if c.Targets.PriceCorrectionPct <= 0 {
		errs = append(errs, "targets: price_correction_pct must be > 0")
	}
	if c.Targets.DefaultDelta <= 0 || c.Targets.DefaultDelta > 1 {
		errs = append(errs, "targets: default_delta must be in (0, 1]")
	}

	// EOD
	seen := map[string]bool{}
	for i, s := range c.EOD.Sessions {
		if s.Name == "" {
			errs = append(errs, fmt.Sprintf("eod: session %d has no name", i))
		} else if seen[s.Name] {
			errs = append(errs, fmt.Sprintf("eod: duplicate session %q", s.Name))
		}
		seen[s.Name] = true
		if len(s.Exchanges) == 0 {
			errs = append(errs, fmt.Sprintf("eod: session %q lists no exchanges", s.Name))
		}
		if _, err := cron.ParseStandard(s.Spec()); err != nil {
			errs = append(errs, fmt.Sprintf("eod: session %q: %v", s.Name, err))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
