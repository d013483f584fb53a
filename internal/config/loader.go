package config

import (
	"errors"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies NADOBOT_* environment variable overrides, and
// returns the final Config. A missing file is not an error when path is
// empty; the defaults plus environment are used instead. The returned Config
// has NOT been validated; the caller should invoke Config.Validate() after
// Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			if !errors.Is(err, fs.ErrNotExist) {
				return nil, err
			}
		}
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)
	cfg.Nado.ResolveNetwork()

	return &cfg, nil
}

// applyEnvOverrides reads well-known NADOBOT_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty). The bare NADO_* names used by earlier deployments are honoured
// first so the prefixed names win when both are set.
func applyEnvOverrides(cfg *Config) {
	// ── Legacy aliases ──
	setStr(&cfg.Wallet.PrivateKey, "NADO_PRIVATE_KEY")
	setStr(&cfg.Nado.Network, "NADO_NETWORK")
	setStr(&cfg.Nado.Subaccount, "NADO_SUBACCOUNT_NAME")

	// ── Wallet ──
	setStr(&cfg.Wallet.PrivateKey, "NADOBOT_WALLET_PRIVATE_KEY")
	setStr(&cfg.Wallet.KeyfilePath, "NADOBOT_WALLET_KEYFILE_PATH")
	setStr(&cfg.Wallet.KeyPassword, "NADOBOT_WALLET_KEY_PASSWORD")

	// ── Nado ──
	setStr(&cfg.Nado.Network, "NADOBOT_NADO_NETWORK")
	setStr(&cfg.Nado.GatewayURL, "NADOBOT_NADO_GATEWAY_URL")
	setStr(&cfg.Nado.WSURL, "NADOBOT_NADO_WS_URL")
	setStr(&cfg.Nado.ArchiveURL, "NADOBOT_NADO_ARCHIVE_URL")
	setInt64(&cfg.Nado.ChainID, "NADOBOT_NADO_CHAIN_ID")
	setStr(&cfg.Nado.Subaccount, "NADOBOT_NADO_SUBACCOUNT")
	setStr(&cfg.Nado.EndpointAddr, "NADOBOT_NADO_ENDPOINT_ADDR")
	setUint32Slice(&cfg.Nado.KnownProducts, "NADOBOT_NADO_KNOWN_PRODUCTS")
	setDuration(&cfg.Nado.RequestTimeout, "NADOBOT_NADO_REQUEST_TIMEOUT")
	setInt(&cfg.Nado.OrdersPerSecond, "NADOBOT_NADO_ORDERS_PER_SECOND")
	setDuration(&cfg.Nado.ReconnectBackoff, "NADOBOT_NADO_RECONNECT_BACKOFF")

	// ── Engine ──
	setStr(&cfg.Engine.Ticker, "NADOBOT_ENGINE_TICKER")
	setFloat64(&cfg.Engine.Quantity, "NADOBOT_ENGINE_QUANTITY")
	setFloat64(&cfg.Engine.Spread, "NADOBOT_ENGINE_SPREAD")
	setInt(&cfg.Engine.Interval, "NADOBOT_ENGINE_INTERVAL")
	setBool(&cfg.Engine.BoostMode, "NADOBOT_ENGINE_BOOST_MODE")
	setFloat64(&cfg.Engine.MaxExposure, "NADOBOT_ENGINE_MAX_EXPOSURE")
	setFloat64(&cfg.Engine.MaxLeverage, "NADOBOT_ENGINE_MAX_LEVERAGE")
	setFloat64(&cfg.Engine.DriftThreshold, "NADOBOT_ENGINE_DRIFT_THRESHOLD")
	setInt(&cfg.Engine.MaxErrors, "NADOBOT_ENGINE_MAX_CONSECUTIVE_ERRORS")
	setInt(&cfg.Engine.StrikeLimit, "NADOBOT_ENGINE_ZERO_POSITION_STRIKES")
	setDuration(&cfg.Engine.StatsInterval, "NADOBOT_ENGINE_STATS_INTERVAL")
	setBool(&cfg.Engine.Autostart, "NADOBOT_ENGINE_AUTOSTART")

	// ── Postgres ──
	setBool(&cfg.Postgres.Enabled, "NADOBOT_POSTGRES_ENABLED")
	setStr(&cfg.Postgres.DSN, "NADOBOT_POSTGRES_DSN")
	setStr(&cfg.Postgres.DSN, "DATABASE_URL") // compatibility alias
	setStr(&cfg.Postgres.Host, "NADOBOT_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "NADOBOT_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "NADOBOT_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "NADOBOT_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "NADOBOT_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "NADOBOT_POSTGRES_SSL_MODE")
	setInt(&cfg.Postgres.PoolMaxConns, "NADOBOT_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "NADOBOT_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "NADOBOT_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setBool(&cfg.Redis.Enabled, "NADOBOT_REDIS_ENABLED")
	setStr(&cfg.Redis.URL, "NADOBOT_REDIS_URL")
	setStr(&cfg.Redis.Addr, "NADOBOT_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "NADOBOT_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "NADOBOT_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "NADOBOT_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "NADOBOT_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "NADOBOT_REDIS_TLS_ENABLED")

	// ── S3 ──
	setBool(&cfg.S3.Enabled, "NADOBOT_S3_ENABLED")
	setStr(&cfg.S3.Endpoint, "NADOBOT_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "NADOBOT_S3_REGION")
	setStr(&cfg.S3.Bucket, "NADOBOT_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "NADOBOT_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "NADOBOT_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "NADOBOT_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "NADOBOT_S3_FORCE_PATH_STYLE")
	setDuration(&cfg.S3.ArchiveInterval, "NADOBOT_S3_ARCHIVE_INTERVAL")
	setInt(&cfg.S3.RetentionDays, "NADOBOT_S3_RETENTION_DAYS")

	// ── Server ──
	setBool(&cfg.Server.Enabled, "NADOBOT_SERVER_ENABLED")
	setInt(&cfg.Server.Port, "NADOBOT_SERVER_PORT")
	setStringSlice(&cfg.Server.CORSOrigins, "NADOBOT_SERVER_CORS_ORIGINS")
	setStr(&cfg.Server.APIKey, "NADOBOT_SERVER_API_KEY")
	setInt(&cfg.Server.RateLimitPerMin, "NADOBOT_SERVER_RATE_LIMIT_PER_MIN")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "NADOBOT_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "NADOBOT_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "NADOBOT_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "NADOBOT_NOTIFY_EVENTS")

	// ── Top-level ──
	setStr(&cfg.Mode, "NADOBOT_MODE")
	setStr(&cfg.LogLevel, "NADOBOT_LOG_LEVEL")
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

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		if cleaned := splitList(v); len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}

// setUint32Slice replaces dst only if every element parses.
func setUint32Slice(dst *[]uint32, key string) {
	v := os.Getenv(key)
	if v == "" {
		return
	}
	parts := splitList(v)
	out := make([]uint32, 0, len(parts))
	for _, p := range parts {
		n, err := strconv.ParseUint(p, 10, 32)
		if err != nil {
			return
		}
		out = append(out, uint32(n))
	}
	if len(out) > 0 {
		*dst = out
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
