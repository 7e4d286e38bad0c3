package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	s3blob "github.com/sajjadsiam/kalki-protocol/internal/blob/s3"
	"github.com/sajjadsiam/kalki-protocol/internal/cache/redis"
	"github.com/sajjadsiam/kalki-protocol/internal/chain"
	"github.com/sajjadsiam/kalki-protocol/internal/config"
	"github.com/sajjadsiam/kalki-protocol/internal/crypto"
	"github.com/sajjadsiam/kalki-protocol/internal/domain"
	"github.com/sajjadsiam/kalki-protocol/internal/evidence"
	"github.com/sajjadsiam/kalki-protocol/internal/notify"
	"github.com/sajjadsiam/kalki-protocol/internal/server/handler"
	"github.com/sajjadsiam/kalki-protocol/internal/store/postgres"
)

// Dependencies bundles what the modes need. Everything below Chain is
// optional and nil when its backend is disabled.
type Dependencies struct {
	Chain    *chain.Client
	Evidence *evidence.Aggregator

	Store    domain.ResolutionStore
	Audit    domain.AuditStore
	Cursors  domain.CursorStore
	Limiter  domain.RateLimiter
	Locks    domain.LockManager
	Bus      *redis.SignalBus
	Archive  *s3blob.Archiver
	Notifier *notify.Notifier

	// Checks are the dependency probes behind /api/health.
	Checks map[string]handler.Check
}

// Wire builds the concrete implementations for mode. The returned cleanup
// releases them in reverse order; it is safe to call on partial failure.
func Wire(ctx context.Context, cfg *config.Config, mode string, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}
	fail := func(what string, err error) (*Dependencies, func(), error) {
		cleanup()
		return nil, nil, fmt.Errorf("wire: %s: %w", what, err)
	}

	deps := &Dependencies{Checks: make(map[string]handler.Check)}
	var evidenceCache domain.EvidenceCache

	// --- Signing key and chain ---
	keyHex, err := crypto.LoadKey(crypto.KeySource{
		RawKey:   cfg.Agent.PrivateKey,
		KeyPath:  cfg.Agent.EncryptedKeyPath,
		Password: cfg.Agent.KeyPassword,
	})
	if err != nil {
		return fail("signing key", err)
	}
	chainClient, err := chain.Dial(ctx, cfg.Chain.RPCURL, cfg.Chain.ContractAddress, keyHex, chain.Options{
		CommitGasLimit:   cfg.Chain.CommitGasLimit,
		RegisterGasLimit: cfg.Chain.RegisterGasLimit,
		MaxBlockRange:    cfg.Watcher.MaxBlockRange,
		ReceiptTimeout:   cfg.Chain.ReceiptTimeout.Duration,
		ReceiptPoll:      cfg.Chain.ReceiptPoll.Duration,
	}, logger)
	if err != nil {
		return fail("chain", err)
	}
	closers = append(closers, chainClient.Close)
	deps.Chain = chainClient
	deps.Checks["chain"] = func(ctx context.Context) error {
		_, err := chainClient.Head(ctx)
		return err
	}

	// Registration and stats only need the chain.
	if mode != config.ModeAgent {
		return deps, cleanup, nil
	}

	// --- PostgreSQL ---
	if cfg.Database.Enabled {
		pg, err := postgres.New(ctx, postgres.ClientConfig{
			DSN:      cfg.Database.DSN,
			Host:     cfg.Database.Host,
			Port:     cfg.Database.Port,
			Database: cfg.Database.Database,
			User:     cfg.Database.User,
			Password: cfg.Database.Password,
			SSLMode:  cfg.Database.SSLMode,
			MaxConns: cfg.Database.PoolMaxConns,
			MinConns: cfg.Database.PoolMinConns,
		})
		if err != nil {
			return fail("postgres", err)
		}
		closers = append(closers, pg.Close)

		if cfg.Database.RunMigrations {
			if err := pg.RunMigrations(ctx); err != nil {
				return fail("postgres migrations", err)
			}
		}
		deps.Store = postgres.NewResolutionStore(pg.Pool())
		deps.Audit = postgres.NewAuditStore(pg.Pool())
		deps.Checks["postgres"] = pg.Ping
	}

	// --- Redis ---
	if cfg.Redis.Enabled {
		rc, err := redis.New(ctx, redis.ClientConfig{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			PoolSize:   cfg.Redis.PoolSize,
			MaxRetries: cfg.Redis.MaxRetries,
			TLSEnabled: cfg.Redis.TLSEnabled,
		})
		if err != nil {
			return fail("redis", err)
		}
		closers = append(closers, func() { _ = rc.Close() })

		deps.Cursors = redis.NewCursorStore(rc)
		deps.Limiter = redis.NewRateLimiter(rc)
		deps.Locks = redis.NewLockManager(rc)
		deps.Bus = redis.NewSignalBus(rc)
		evidenceCache = redis.NewEvidenceCache(rc)
		deps.Checks["redis"] = rc.Ping
	}

	// --- S3 evidence archive ---
	if cfg.S3.Enabled {
		sc, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
		if err != nil {
			return fail("s3", err)
		}
		deps.Archive = s3blob.NewArchiver(s3blob.NewWriter(sc), s3blob.NewReader(sc))
		deps.Checks["s3"] = sc.Health
	}

	// --- Evidence sources ---
	opts := evidence.Options{
		CoinGeckoURL:    cfg.Sources.CoinGeckoURL,
		BinanceURL:      cfg.Sources.BinanceURL,
		PerplexityURL:   cfg.Sources.PerplexityURL,
		PerplexityKey:   cfg.Sources.PerplexityAPIKey,
		PerplexityModel: cfg.Sources.PerplexityModel,
		HTTPClient:      &http.Client{Timeout: cfg.Sources.Timeout.Duration},
		CacheTTL:        cfg.Sources.CacheTTL.Duration,
		RateLimit:       cfg.Sources.RateLimitPerMinute,
	}
	if cfg.Redis.Enabled {
		opts.Cache = evidenceCache
		opts.Limiter = deps.Limiter
	}
	registry := evidence.NewDefaultRegistry(opts, logger)
	if err := registry.Validate(); err != nil {
		return fail("evidence registry", err)
	}
	deps.Evidence = evidence.NewAggregator(registry, cfg.Sources.Timeout.Duration, logger)

	// --- Notifications ---
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(cfg.Notify.TelegramToken, cfg.Notify.TelegramChatID))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	if len(senders) > 0 {
		deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, logger)
	}

	return deps, cleanup, nil
}
