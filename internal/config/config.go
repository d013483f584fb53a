// Package config defines the top-level configuration for nadobot and
// provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/alanyoungcy/nadobot/internal/domain"
	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by NADOBOT_* environment variables.
type Config struct {
	Wallet   WalletConfig   `toml:"wallet"`
	Nado     NadoConfig     `toml:"nado"`
	Engine   EngineConfig   `toml:"engine"`
	Postgres PostgresConfig `toml:"postgres"`
	Redis    RedisConfig    `toml:"redis"`
	S3       S3Config       `toml:"s3"`
	Server   ServerConfig   `toml:"server"`
	Notify   NotifyConfig   `toml:"notify"`
	Mode     string         `toml:"mode"`
	LogLevel string         `toml:"log_level"`
}

// WalletConfig holds the signing key. A raw key wins over a keyfile.
type WalletConfig struct {
	PrivateKey  string `toml:"private_key"`
	KeyfilePath string `toml:"keyfile_path"`
	KeyPassword string `toml:"key_password"`
}

// NadoConfig holds gateway endpoints and chain parameters. Empty URLs and a
// zero chain id are filled from the selected network.
type NadoConfig struct {
	Network          string   `toml:"network"`
	GatewayURL       string   `toml:"gateway_url"`
	WSURL            string   `toml:"ws_url"`
	ArchiveURL       string   `toml:"archive_url"`
	ChainID          int64    `toml:"chain_id"`
	Subaccount       string   `toml:"subaccount"`
	EndpointAddr     string   `toml:"endpoint_addr"`
	KnownProducts    []uint32 `toml:"known_products"`
	RequestTimeout   duration `toml:"request_timeout"`
	OrdersPerSecond  int      `toml:"orders_per_second"`
	ReconnectBackoff duration `toml:"reconnect_backoff"`
}

// Network presets.
type networkPreset struct {
	gateway, ws, archive string
	chainID              int64
}

var networks = map[string]networkPreset{
	"mainnet": {
		gateway: "https://gateway.prod.nado.xyz/v1",
		ws:      "wss://gateway.prod.nado.xyz/v1/ws",
		archive: "https://archive.prod.nado.xyz/v1",
		chainID: 57073,
	},
	"testnet": {
		gateway: "https://gateway.test.nado.xyz/v1",
		ws:      "wss://gateway.test.nado.xyz/v1/ws",
		archive: "https://archive.test.nado.xyz/v1",
		chainID: 763373,
	},
}

// ResolveNetwork fills any unset endpoint or chain id from the network preset.
func (n *NadoConfig) ResolveNetwork() {
	p, ok := networks[strings.ToLower(n.Network)]
	if !ok {
		return
	}
	if n.GatewayURL == "" {
		n.GatewayURL = p.gateway
	}
	if n.WSURL == "" {
		n.WSURL = p.ws
	}
	if n.ArchiveURL == "" {
		n.ArchiveURL = p.archive
	}
	if n.ChainID == 0 {
		n.ChainID = p.chainID
	}
}

// EngineConfig holds the default trading session and the fixed risk
// parameters of the strategy engine.
type EngineConfig struct {
	Ticker         string   `toml:"ticker"`
	Quantity       float64  `toml:"quantity"`
	Spread         float64  `toml:"spread"`
	Interval       int      `toml:"interval"`
	BoostMode      bool     `toml:"boost_mode"`
	MaxExposure    float64  `toml:"max_exposure"`
	MaxLeverage    float64  `toml:"max_leverage"`
	DriftThreshold float64  `toml:"drift_threshold"`
	MaxErrors      int      `toml:"max_consecutive_errors"`
	StrikeLimit    int      `toml:"zero_position_strikes"`
	StatsInterval  duration `toml:"stats_interval"`

	// Autostart starts the configured session at boot in "run" mode.
	Autostart bool `toml:"autostart"`
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

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Enabled    bool   `toml:"enabled"`
	URL        string `toml:"url"`
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
}

// S3Config holds S3-compatible object storage parameters.
type S3Config struct {
	Enabled         bool     `toml:"enabled"`
	Endpoint        string   `toml:"endpoint"`
	Region          string   `toml:"region"`
	Bucket          string   `toml:"bucket"`
	AccessKey       string   `toml:"access_key"`
	SecretKey       string   `toml:"secret_key"`
	UseSSL          bool     `toml:"use_ssl"`
	ForcePathStyle  bool     `toml:"force_path_style"`
	ArchiveInterval duration `toml:"archive_interval"`
	RetentionDays   int      `toml:"retention_days"`
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

// ServerConfig holds HTTP control-surface parameters.
type ServerConfig struct {
	Enabled         bool     `toml:"enabled"`
	Port            int      `toml:"port"`
	CORSOrigins     []string `toml:"cors_origins"`
	APIKey          string   `toml:"api_key"`
	RateLimitPerMin int      `toml:"rate_limit_per_min"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
	Cooldown          duration `toml:"cooldown"`
}

// Defaults returns a Config populated with reasonable default values.
// These match the values in config.example.toml.
func Defaults() Config {
	return Config{
		Nado: NadoConfig{
			Network:          "mainnet",
			Subaccount:       "default",
			KnownProducts:    []uint32{4, 2, 34},
			RequestTimeout:   duration{30 * time.Second},
			OrdersPerSecond:  10,
			ReconnectBackoff: duration{5 * time.Second},
		},
		Engine: EngineConfig{
			Ticker:         "ETH",
			Quantity:       0.05,
			Spread:         0.0005,
			Interval:       5,
			MaxExposure:    200,
			MaxLeverage:    5,
			DriftThreshold: 0.0005,
			MaxErrors:      5,
			StrikeLimit:    3,
			StatsInterval:  duration{10 * time.Second},
		},
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "nadobot",
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
			Endpoint:        "http://localhost:9000",
			Region:          "us-east-1",
			Bucket:          "nadobot-archive",
			ForcePathStyle:  true,
			ArchiveInterval: duration{24 * time.Hour},
			RetentionDays:   30,
		},
		Server: ServerConfig{
			Enabled:         true,
			Port:            8000,
			CORSOrigins:     []string{"http://localhost:3000", "http://localhost:5173"},
			RateLimitPerMin: 120,
		},
		Notify: NotifyConfig{
			Events:   []string{"circuit_breaker", "panic_close", "engine_started", "engine_stopped"},
			Cooldown: duration{time.Minute},
		},
		Mode:     "server",
		LogLevel: "info",
	}
}

// Session builds the default trading session from the engine section.
func (e EngineConfig) Session() domain.SessionConfig {
	return domain.SessionConfig{
		Ticker:      e.Ticker,
		Quantity:    decimal.NewFromFloat(e.Quantity),
		Spread:      decimal.NewFromFloat(e.Spread),
		Interval:    e.Interval,
		BoostMode:   e.BoostMode,
		MaxExposure: decimal.NewFromFloat(e.MaxExposure),
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"server": true,
	"run":    true,
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
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: server, run)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Wallet
	if c.Wallet.PrivateKey == "" && c.Wallet.KeyfilePath == "" {
		errs = append(errs, "wallet: either private_key or keyfile_path must be set")
	}
	if c.Wallet.KeyfilePath != "" && c.Wallet.KeyPassword == "" {
		errs = append(errs, "wallet: key_password is required when keyfile_path is set")
	}

	// Nado
	if _, ok := networks[strings.ToLower(c.Nado.Network)]; !ok && (c.Nado.GatewayURL == "" || c.Nado.ChainID == 0) {
		errs = append(errs, fmt.Sprintf("nado: unknown network %q requires gateway_url and chain_id", c.Nado.Network))
	}
	if c.Nado.ChainID < 0 {
		errs = append(errs, "nado: chain_id must be positive")
	}
	if len(c.Nado.Subaccount) == 0 || len(c.Nado.Subaccount) > 12 {
		errs = append(errs, fmt.Sprintf("nado: subaccount must be 1-12 bytes, got %q", c.Nado.Subaccount))
	}
	if c.Nado.EndpointAddr != "" && !common.IsHexAddress(c.Nado.EndpointAddr) {
		errs = append(errs, fmt.Sprintf("nado: endpoint_addr %q is not an address", c.Nado.EndpointAddr))
	}
	if c.Nado.RequestTimeout.Duration <= 0 {
		errs = append(errs, "nado: request_timeout must be > 0")
	}
	if c.Nado.OrdersPerSecond < 0 {
		errs = append(errs, "nado: orders_per_second must be >= 0")
	}

	// Engine
	if c.Engine.MaxLeverage <= 0 {
		errs = append(errs, "engine: max_leverage must be > 0")
	}
	if c.Engine.DriftThreshold < 0 {
		errs = append(errs, "engine: drift_threshold must be >= 0")
	}
	if c.Engine.MaxErrors < 1 {
		errs = append(errs, "engine: max_consecutive_errors must be >= 1")
	}
	if c.Engine.StrikeLimit < 1 {
		errs = append(errs, "engine: zero_position_strikes must be >= 1")
	}
	if c.Engine.Quantity <= 0 {
		errs = append(errs, "engine: quantity must be > 0")
	}
	if c.Engine.MaxExposure <= 0 {
		errs = append(errs, "engine: max_exposure must be > 0")
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
		if c.Redis.Addr == "" && c.Redis.URL == "" {
			errs = append(errs, "redis: addr or url must be set")
		}
		if c.Redis.PoolSize < 1 {
			errs = append(errs, "redis: pool_size must be >= 1")
		}
	}

	// S3
	if c.S3.Enabled {
		if c.S3.Endpoint == "" {
			errs = append(errs, "s3: endpoint must not be empty")
		}
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty")
		}
		if !c.Postgres.Enabled {
			errs = append(errs, "s3: archiving requires postgres.enabled")
		}
		if c.S3.ArchiveInterval.Duration <= 0 {
			errs = append(errs, "s3: archive_interval must be > 0")
		}
	}

	// Server
	if c.Server.Enabled || strings.ToLower(c.Mode) == "server" {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
