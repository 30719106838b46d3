// Package config defines the top-level configuration for the arbitration bot
// and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by ARBOT_* environment variables.
type Config struct {
	VenueA   VenueConfig    `toml:"venue_a"`
	VenueB   VenueConfig    `toml:"venue_b"`
	Engine   EngineConfig   `toml:"engine"`
	Journal  JournalConfig  `toml:"journal"`
	Postgres PostgresConfig `toml:"postgres"`
	Redis    RedisConfig    `toml:"redis"`
	S3       S3Config       `toml:"s3"`
	Metrics  MetricsConfig  `toml:"metrics"`
	Notify   NotifyConfig   `toml:"notify"`
	Paper    PaperConfig    `toml:"paper"`
	Mode     string         `toml:"mode"`
	LogLevel string         `toml:"log_level"`
}

// VenueConfig holds one venue's identity, fees, and API credentials. The key
// file either contains plaintext key and secret lines or an encrypted JSON
// envelope unlocked with key_password.
type VenueConfig struct {
	Name        string  `toml:"name"`
	Fee         float64 `toml:"fee"`
	TokenScheme string  `toml:"token_scheme"`
	KeyPath     string  `toml:"key_path"`
	KeyPassword string  `toml:"key_password"`
}

// TierConfig is one admission tier: the gain a trade must clear given how
// much of the account the buy side would consume.
type TierConfig struct {
	MinGain    float64 `toml:"min_gain"`
	MinReserve float64 `toml:"min_reserve"`
	MinBalance float64 `toml:"min_balance"`
}

// EngineConfig holds the trading loop parameters.
type EngineConfig struct {
	Symbol string `toml:"symbol"`
	Asset  string `toml:"asset"`
	Fiat   string `toml:"fiat"`

	MaxVolume       float64 `toml:"max_volume"`
	MinVolumeFactor float64 `toml:"min_volume_factor"`

	FiatScale  int `toml:"fiat_scale"`
	AssetScale int `toml:"asset_scale"`

	// Tier tables per direction, most restrictive first.
	TiersBuyASellB []TierConfig `toml:"tiers_buy_a_sell_b"`
	TiersBuyBSellA []TierConfig `toml:"tiers_buy_b_sell_a"`

	LimitPriceFactor float64 `toml:"limit_price_factor"`
	BuySafetyFactor  float64 `toml:"buy_safety_factor"`

	MaxStaleness      duration `toml:"max_staleness"`
	LocateTimeout     duration `toml:"locate_timeout"`
	OrderPollInterval duration `toml:"order_poll_interval"`
	IdleWait          duration `toml:"idle_wait"`
	APIMinInterval    duration `toml:"api_min_interval"`

	BalanceRefreshEvery int `toml:"balance_refresh_every"`

	GainTolerance       float64 `toml:"gain_tolerance"`
	MaxBalanceDeviation float64 `toml:"max_balance_deviation"`
	MaxOverallLoss      float64 `toml:"max_overall_loss"`

	RevalidateAfterReduce bool `toml:"revalidate_after_reduce"`

	MaxIterations int `toml:"max_iterations"`
	MaxRoundTrips int `toml:"max_round_trips"`
}

// JournalConfig holds the append-only trade journal parameters.
type JournalConfig struct {
	Dir string `toml:"dir"`
	// ArchiveEvery uploads and truncates the journals on this cadence when
	// S3 archiving is enabled; zero disables archiving.
	ArchiveEvery  duration `toml:"archive_every"`
	ArchivePrefix string   `toml:"archive_prefix"`
}

// PostgresConfig holds PostgreSQL connection parameters.
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

// RedisConfig holds Redis connection parameters for the cross-process pacer.
type RedisConfig struct {
	Enabled    bool   `toml:"enabled"`
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	TLSEnabled bool   `toml:"tls_enabled"`
}

// S3Config holds S3-compatible object storage parameters for journal
// archiving.
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

// MetricsConfig holds the Prometheus HTTP endpoint parameters.
type MetricsConfig struct {
	Enabled bool `toml:"enabled"`
	Port    int  `toml:"port"`
}

// PaperConfig seeds the in-memory venues used by paper mode.
type PaperConfig struct {
	FiatBalance  float64 `toml:"fiat_balance"`
	AssetBalance float64 `toml:"asset_balance"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// duration is a wrapper around time.Duration that supports TOML string
// decoding (e.g. "5m", "30s").
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
		VenueA: VenueConfig{
			Name:        "kraken",
			Fee:         0.0026,
			TokenScheme: "numeric",
		},
		VenueB: VenueConfig{
			Name:        "coinbase",
			Fee:         0.003,
			TokenScheme: "uuid",
		},
		Engine: EngineConfig{
			Symbol:          "ETH/EUR",
			Asset:           "ETH",
			Fiat:            "EUR",
			MaxVolume:       0.5,
			MinVolumeFactor: 1.0,
			FiatScale:       2,
			AssetScale:      8,
			TiersBuyASellB: []TierConfig{
				{MinGain: 0.020, MinReserve: 0.75, MinBalance: 0},
				{MinGain: 0.015, MinReserve: 0.60, MinBalance: 0},
				{MinGain: 0.010, MinReserve: 0.00, MinBalance: 0},
			},
			TiersBuyBSellA: []TierConfig{
				{MinGain: 0.020, MinReserve: 0.75, MinBalance: 0},
				{MinGain: 0.015, MinReserve: 0.60, MinBalance: 0},
				{MinGain: 0.010, MinReserve: 0.00, MinBalance: 0},
			},
			LimitPriceFactor:      1.05,
			BuySafetyFactor:       1.05,
			MaxStaleness:          duration{10 * time.Second},
			LocateTimeout:         duration{2 * time.Minute},
			OrderPollInterval:     duration{2 * time.Second},
			IdleWait:              duration{5 * time.Second},
			APIMinInterval:        duration{time.Second},
			BalanceRefreshEvery:   10,
			GainTolerance:         0.8,
			MaxBalanceDeviation:   0.01,
			MaxOverallLoss:        100.0,
			RevalidateAfterReduce: true,
		},
		Journal: JournalConfig{
			Dir:           "journal",
			ArchivePrefix: "journal",
		},
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "arbot",
			User:          "arbot",
			SSLMode:       "disable",
			PoolMaxConns:  5,
			PoolMinConns:  1,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Addr:     "localhost:6379",
			PoolSize: 10,
		},
		S3: S3Config{
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "arbot-data",
			ForcePathStyle: true,
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Port:    9090,
		},
		Notify: NotifyConfig{
			Events: []string{"round_trip", "warning", "fatal"},
		},
		Paper: PaperConfig{
			FiatBalance:  10_000,
			AssetBalance: 5,
		},
		Mode:     "live",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"live":     true,
	"simulate": true,
	"paper":    true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// validTokenSchemes enumerates the accepted values for VenueConfig.TokenScheme.
var validTokenSchemes = map[string]bool{
	"numeric": true,
	"uuid":    true,
}

// Validate checks Config for obviously invalid or missing values and returns
// a combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: live, simulate, paper)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	errs = append(errs, validateVenue("venue_a", c.VenueA, c.Mode)...)
	errs = append(errs, validateVenue("venue_b", c.VenueB, c.Mode)...)
	if c.VenueA.Name != "" && c.VenueA.Name == c.VenueB.Name {
		errs = append(errs, "venue_a and venue_b must name different venues")
	}

	// Engine
	e := &c.Engine
	if e.Symbol == "" {
		errs = append(errs, "engine: symbol must not be empty")
	}
	if e.MaxVolume <= 0 {
		errs = append(errs, "engine: max_volume must be > 0")
	}
	if e.MinVolumeFactor <= 0 {
		errs = append(errs, "engine: min_volume_factor must be > 0")
	}
	if e.LimitPriceFactor <= 1 {
		errs = append(errs, "engine: limit_price_factor must be > 1")
	}
	if e.BuySafetyFactor < 1 {
		errs = append(errs, "engine: buy_safety_factor must be >= 1")
	}
	if e.GainTolerance <= 0 || e.GainTolerance > 1 {
		errs = append(errs, "engine: gain_tolerance must be in (0, 1]")
	}
	if e.MaxStaleness.Duration <= 0 {
		errs = append(errs, "engine: max_staleness must be > 0")
	}
	if e.BalanceRefreshEvery < 1 {
		errs = append(errs, "engine: balance_refresh_every must be >= 1")
	}
	errs = append(errs, validateTiers("tiers_buy_a_sell_b", e.TiersBuyASellB)...)
	errs = append(errs, validateTiers("tiers_buy_b_sell_a", e.TiersBuyBSellA)...)

	// Journal
	if c.Journal.Dir == "" {
		errs = append(errs, "journal: dir must not be empty")
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
		if c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
			errs = append(errs, "postgres: pool_min_conns must not exceed pool_max_conns")
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
	}

	// S3
	if c.S3.Enabled {
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty")
		}
		if c.S3.Region == "" {
			errs = append(errs, "s3: region must not be empty")
		}
	}

	// Metrics
	if c.Metrics.Enabled {
		if c.Metrics.Port <= 0 || c.Metrics.Port > 65535 {
			errs = append(errs, fmt.Sprintf("metrics: port must be 1-65535, got %d", c.Metrics.Port))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

func validateVenue(section string, v VenueConfig, mode string) []string {
	var errs []string
	if v.Name == "" {
		errs = append(errs, section+": name must not be empty")
	}
	if v.Fee < 0 || v.Fee >= 1 {
		errs = append(errs, fmt.Sprintf("%s: fee must be in [0, 1), got %g", section, v.Fee))
	}
	if !validTokenSchemes[v.TokenScheme] {
		errs = append(errs, fmt.Sprintf("%s: token_scheme must be numeric or uuid, got %q", section, v.TokenScheme))
	}
	// Live and simulate both talk to the real exchange; only paper mode
	// runs without credentials.
	m := strings.ToLower(mode)
	if (m == "live" || m == "simulate") && v.KeyPath == "" {
		errs = append(errs, section+": key_path is required for mode "+mode)
	}
	return errs
}

func validateTiers(name string, tiers []TierConfig) []string {
	var errs []string
	if len(tiers) == 0 {
		errs = append(errs, fmt.Sprintf("engine: %s must define at least one tier", name))
		return errs
	}
	for i, t := range tiers {
		if t.MinGain <= 0 {
			errs = append(errs, fmt.Sprintf("engine: %s[%d]: min_gain must be > 0", name, i))
		}
		if t.MinReserve < 0 || t.MinReserve >= 1 {
			errs = append(errs, fmt.Sprintf("engine: %s[%d]: min_reserve must be in [0, 1)", name, i))
		}
		if t.MinBalance < 0 {
			errs = append(errs, fmt.Sprintf("engine: %s[%d]: min_balance must be >= 0", name, i))
		}
		if i > 0 && tiers[i-1].MinGain <= t.MinGain {
			errs = append(errs, fmt.Sprintf("engine: %s must be ordered by strictly decreasing min_gain", name))
			break
		}
	}
	return errs
}
