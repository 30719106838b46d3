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
// built-in defaults, applies ARBOT_* environment variable overrides, and
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

// applyEnvOverrides reads well-known ARBOT_* environment variables and
// overwrites the corresponding Config fields when a variable is set. This
// lets operators inject secrets at deploy time without touching the TOML
// file.
func applyEnvOverrides(cfg *Config) {
	// ── Venues ──
	setStr(&cfg.VenueA.Name, "ARBOT_VENUE_A_NAME")
	setFloat64(&cfg.VenueA.Fee, "ARBOT_VENUE_A_FEE")
	setStr(&cfg.VenueA.KeyPath, "ARBOT_VENUE_A_KEY_PATH")
	setStr(&cfg.VenueA.KeyPassword, "ARBOT_VENUE_A_KEY_PASSWORD")
	setStr(&cfg.VenueB.Name, "ARBOT_VENUE_B_NAME")
	setFloat64(&cfg.VenueB.Fee, "ARBOT_VENUE_B_FEE")
	setStr(&cfg.VenueB.KeyPath, "ARBOT_VENUE_B_KEY_PATH")
	setStr(&cfg.VenueB.KeyPassword, "ARBOT_VENUE_B_KEY_PASSWORD")

	// ── Engine ──
	setStr(&cfg.Engine.Symbol, "ARBOT_ENGINE_SYMBOL")
	setFloat64(&cfg.Engine.MaxVolume, "ARBOT_ENGINE_MAX_VOLUME")
	setFloat64(&cfg.Engine.MaxOverallLoss, "ARBOT_ENGINE_MAX_OVERALL_LOSS")
	setFloat64(&cfg.Engine.MaxBalanceDeviation, "ARBOT_ENGINE_MAX_BALANCE_DEVIATION")
	setDuration(&cfg.Engine.MaxStaleness, "ARBOT_ENGINE_MAX_STALENESS")
	setDuration(&cfg.Engine.IdleWait, "ARBOT_ENGINE_IDLE_WAIT")
	setDuration(&cfg.Engine.APIMinInterval, "ARBOT_ENGINE_API_MIN_INTERVAL")
	setInt(&cfg.Engine.MaxIterations, "ARBOT_ENGINE_MAX_ITERATIONS")
	setInt(&cfg.Engine.MaxRoundTrips, "ARBOT_ENGINE_MAX_ROUND_TRIPS")

	// ── Journal ──
	setStr(&cfg.Journal.Dir, "ARBOT_JOURNAL_DIR")
	setDuration(&cfg.Journal.ArchiveEvery, "ARBOT_JOURNAL_ARCHIVE_EVERY")
	setStr(&cfg.Journal.ArchivePrefix, "ARBOT_JOURNAL_ARCHIVE_PREFIX")

	// ── Postgres ──
	setBool(&cfg.Postgres.Enabled, "ARBOT_POSTGRES_ENABLED")
	setStr(&cfg.Postgres.DSN, "ARBOT_POSTGRES_DSN")
	setStr(&cfg.Postgres.Host, "ARBOT_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "ARBOT_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "ARBOT_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "ARBOT_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "ARBOT_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "ARBOT_POSTGRES_SSLMODE")
	setBool(&cfg.Postgres.RunMigrations, "ARBOT_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setBool(&cfg.Redis.Enabled, "ARBOT_REDIS_ENABLED")
	setStr(&cfg.Redis.Addr, "ARBOT_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "ARBOT_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "ARBOT_REDIS_DB")
	setBool(&cfg.Redis.TLSEnabled, "ARBOT_REDIS_TLS_ENABLED")

	// ── S3 ──
	setBool(&cfg.S3.Enabled, "ARBOT_S3_ENABLED")
	setStr(&cfg.S3.Endpoint, "ARBOT_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "ARBOT_S3_REGION")
	setStr(&cfg.S3.Bucket, "ARBOT_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "ARBOT_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "ARBOT_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "ARBOT_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "ARBOT_S3_FORCE_PATH_STYLE")

	// ── Metrics ──
	setBool(&cfg.Metrics.Enabled, "ARBOT_METRICS_ENABLED")
	setInt(&cfg.Metrics.Port, "ARBOT_METRICS_PORT")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "ARBOT_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "ARBOT_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "ARBOT_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "ARBOT_NOTIFY_EVENTS")

	// ── Top-level ──
	setStr(&cfg.Mode, "ARBOT_MODE")
	setStr(&cfg.LogLevel, "ARBOT_LOG_LEVEL")
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
