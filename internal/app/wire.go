package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	s3blob "github.com/alanyoungcy/paywatch/internal/blob/s3"
	"github.com/alanyoungcy/paywatch/internal/cache/redis"
	"github.com/alanyoungcy/paywatch/internal/config"
	"github.com/alanyoungcy/paywatch/internal/domain"
	"github.com/alanyoungcy/paywatch/internal/notify"
	"github.com/alanyoungcy/paywatch/internal/platform/solana"
	"github.com/alanyoungcy/paywatch/internal/server/handler"
	"github.com/alanyoungcy/paywatch/internal/store/memory"
	"github.com/alanyoungcy/paywatch/internal/store/postgres"
)

// Dependencies bundles the concrete adapters every command works with. It is
// constructed by Wire and torn down by the returned cleanup function.
type Dependencies struct {
	// Stores
	Invoices   domain.InvoiceStore
	Watermarks domain.WatermarkStore
	AuditStore domain.AuditStore
	Postgres   *postgres.Client
	// Migrated lists the migrations Wire applied, if it ran them.
	Migrated []string

	// Coordination
	LockManager domain.LockManager
	SignalBus   domain.SignalBus

	// Raw event archive, nil unless the audit sink includes s3.
	BlobWriter domain.BlobWriter

	Source   *solana.Source
	Notifier *notify.Notifier

	// Health lists the pingable dependencies by name.
	Health map[string]handler.Pinger
}

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them together with a cleanup function that should
// be called on shutdown to release resources.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{Health: map[string]handler.Pinger{}}

	// --- Invoice database ---
	switch strings.ToLower(cfg.Store.Driver) {
	case "memory":
		logger.WarnContext(ctx, "using in-memory stores, state is lost on exit")
		deps.Invoices = memory.NewInvoiceStore()
		deps.Watermarks = memory.NewWatermarkStore()
		deps.AuditStore = memory.NewAuditStore()
	default:
		pgClient, err := postgres.New(ctx, postgres.ClientConfig{
			DSN:            cfg.Postgres.DSN,
			Host:           cfg.Postgres.Host,
			Port:           cfg.Postgres.Port,
			Database:       cfg.Postgres.Database,
			User:           cfg.Postgres.User,
			Password:       cfg.Postgres.Password,
			SSLMode:        cfg.Postgres.SSLMode,
			MaxConns:       cfg.Postgres.PoolMaxConns,
			MinConns:       cfg.Postgres.PoolMinConns,
			ConnectTimeout: cfg.Postgres.ConnectTimeout.Duration,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: postgres: %w", err)
		}
		closers = append(closers, pgClient.Close)

		if cfg.Postgres.RunMigrations {
			applied, err := pgClient.RunMigrations(ctx)
			if err != nil {
				cleanup()
				return nil, nil, fmt.Errorf("wire: postgres migrations: %w", err)
			}
			for _, name := range applied {
				logger.InfoContext(ctx, "applied migration", slog.String("file", name))
			}
			deps.Migrated = applied
		}

		pool := pgClient.Pool()
		deps.Postgres = pgClient
		deps.Invoices = postgres.NewInvoiceStore(pool)
		deps.Watermarks = postgres.NewWatermarkStore(pool)
		deps.AuditStore = postgres.NewAuditStore(pool)
		deps.Health["postgres"] = pgClient.Ping
	}

	// --- Redis (optional) ---
	if cfg.Redis.Enabled {
		redisClient, err := redis.New(ctx, redis.ClientConfig{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			PoolSize:   cfg.Redis.PoolSize,
			MaxRetries: cfg.Redis.MaxRetries,
			TLSEnabled: cfg.Redis.TLSEnabled,
			KeyPrefix:  cfg.Redis.KeyPrefix,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: redis: %w", err)
		}
		closers = append(closers, func() { _ = redisClient.Close() })

		deps.LockManager = redis.NewLockManager(redisClient)
		deps.SignalBus = redis.NewSignalBus(redisClient, cfg.Redis.StreamMaxLen)
		deps.Health["redis"] = redisClient.Ping
	} else {
		deps.LockManager = memory.NewLockManager()
		deps.SignalBus = memory.NewSignalBus(int(cfg.Redis.StreamMaxLen))
	}

	// --- S3 raw event archive ---
	if cfg.Audit.WritesS3() {
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
			cleanup()
			return nil, nil, fmt.Errorf("wire: s3: %w", err)
		}
		deps.BlobWriter = s3blob.NewWriter(s3Client)
		deps.Health["s3"] = s3Client.Health
	}

	// --- Solana node ---
	rpc := solana.NewClient(solana.ClientConfig{
		RPCURL:     cfg.Solana.RPCURL,
		Commitment: cfg.Solana.Commitment,
		RPS:        cfg.Solana.RPS,
		Burst:      cfg.Solana.Burst,
		Timeout:    cfg.Solana.RequestTimeout.Duration,
	}, logger)
	ws := solana.NewWSClient(cfg.Solana.WSURL, cfg.Solana.Commitment, logger)
	deps.Source = solana.NewSource(rpc, ws, logger)
	deps.Health["solana"] = deps.Source.Ping

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
		deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, logger)
	}

	return deps, cleanup, nil
}
