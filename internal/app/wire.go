package app

import (
	"context"
	"fmt"
	"log/slog"

	s3blob "github.com/alanyoungcy/nadobot/internal/blob/s3"
	"github.com/alanyoungcy/nadobot/internal/cache/redis"
	"github.com/alanyoungcy/nadobot/internal/config"
	"github.com/alanyoungcy/nadobot/internal/crypto"
	"github.com/alanyoungcy/nadobot/internal/notify"
	"github.com/alanyoungcy/nadobot/internal/server/handler"
	"github.com/alanyoungcy/nadobot/internal/store/postgres"
)

// Dependencies bundles everything the modes need. Infrastructure is
// optional: a disabled section leaves its fields nil.
type Dependencies struct {
	// Signing
	Signer *crypto.Signer
	Sender string // sub-account in wire form

	// Stores
	Fills    *postgres.FillStore
	Audit    *postgres.AuditStore
	Sessions *postgres.SessionStore

	// Caches and bus
	Mirror      *redis.BookMirror
	Locker      *redis.LockManager
	Bus         *redis.SignalBus
	RateLimiter *redis.RateLimiter

	// Blob storage
	Archiver *s3blob.ArchiveImpl

	// Notifications; nil when no channel is configured.
	Notifier *notify.Notifier

	// Health probes for the enabled infrastructure.
	Checks map[string]handler.Check
}

// Wire constructs the concrete dependencies from cfg and returns them with a
// cleanup function that releases them in reverse order.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}
	fail := func(err error) (*Dependencies, func(), error) {
		cleanup()
		return nil, nil, err
	}

	deps := &Dependencies{Checks: make(map[string]handler.Check)}

	// --- Signing key ---
	keyHex, err := crypto.ResolveKey(crypto.KeySource{
		RawPrivateKey: cfg.Wallet.PrivateKey,
		KeyfilePath:   cfg.Wallet.KeyfilePath,
		Password:      cfg.Wallet.KeyPassword,
	})
	if err != nil {
		return fail(fmt.Errorf("wire: wallet: %w", err))
	}
	deps.Signer, err = crypto.NewSigner(keyHex, cfg.Nado.ChainID)
	if err != nil {
		return fail(fmt.Errorf("wire: signer: %w", err))
	}
	sender, err := crypto.EncodeSubaccount(deps.Signer.Address().Hex(), cfg.Nado.Subaccount)
	if err != nil {
		return fail(fmt.Errorf("wire: subaccount: %w", err))
	}
	deps.Sender = crypto.SubaccountHex(sender)
	logger.InfoContext(ctx, "wallet loaded",
		slog.String("address", deps.Signer.Address().Hex()),
		slog.String("subaccount", cfg.Nado.Subaccount),
	)

	// --- PostgreSQL ---
	if cfg.Postgres.Enabled {
		pgClient, err := postgres.New(ctx, postgres.ClientConfig{
			DSN:      cfg.Postgres.DSN,
			Host:     cfg.Postgres.Host,
			Port:     cfg.Postgres.Port,
			Database: cfg.Postgres.Database,
			User:     cfg.Postgres.User,
			Password: cfg.Postgres.Password,
			SSLMode:  cfg.Postgres.SSLMode,
			MaxConns: cfg.Postgres.PoolMaxConns,
			MinConns: cfg.Postgres.PoolMinConns,
		})
		if err != nil {
			return fail(fmt.Errorf("wire: postgres: %w", err))
		}
		closers = append(closers, pgClient.Close)

		if cfg.Postgres.RunMigrations {
			if err := pgClient.RunMigrations(ctx); err != nil {
				return fail(fmt.Errorf("wire: postgres migrations: %w", err))
			}
		}

		pool := pgClient.Pool()
		deps.Fills = postgres.NewFillStore(pool)
		deps.Audit = postgres.NewAuditStore(pool)
		deps.Sessions = postgres.NewSessionStore(pool)
		deps.Checks["postgres"] = pgClient.Ping
	}

	// --- Redis ---
	if cfg.Redis.Enabled {
		redisClient, err := redis.New(ctx, redis.ClientConfig{
			URL:        cfg.Redis.URL,
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			PoolSize:   cfg.Redis.PoolSize,
			MaxRetries: cfg.Redis.MaxRetries,
			TLSEnabled: cfg.Redis.TLSEnabled,
		})
		if err != nil {
			return fail(fmt.Errorf("wire: redis: %w", err))
		}
		closers = append(closers, func() { _ = redisClient.Close() })

		deps.Mirror = redis.NewBookMirror(redisClient)
		deps.Locker = redis.NewLockManager(redisClient)
		deps.Bus = redis.NewSignalBus(redisClient, logger)
		deps.RateLimiter = redis.NewRateLimiter(redisClient, cfg.Nado.OrdersPerSecond)
		deps.Checks["redis"] = redisClient.Ping
	}

	// --- S3 archive (validated to require Postgres) ---
	if cfg.S3.Enabled && deps.Fills != nil {
		s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
		if err != nil {
			return fail(fmt.Errorf("wire: s3: %w", err))
		}
		deps.Archiver = s3blob.NewArchiver(s3blob.NewWriter(s3Client), deps.Fills, deps.Audit, logger)
		deps.Checks["s3"] = s3Client.Health
	}

	// --- Notifications ---
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(
			cfg.Notify.TelegramToken,
			cfg.Notify.TelegramChatID,
		))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	if len(senders) > 0 {
		deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, cfg.Notify.Cooldown.Duration, logger)
	}

	return deps, cleanup, nil
}
