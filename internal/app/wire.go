package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	s3blob "github.com/polypaper/polypaper/internal/blob/s3"
	"github.com/polypaper/polypaper/internal/cache/redis"
	"github.com/polypaper/polypaper/internal/config"
	"github.com/polypaper/polypaper/internal/domain"
	"github.com/polypaper/polypaper/internal/feed"
	"github.com/polypaper/polypaper/internal/ledger"
	"github.com/polypaper/polypaper/internal/notify"
	"github.com/polypaper/polypaper/internal/pipeline"
	"github.com/polypaper/polypaper/internal/platform/polymarket"
	"github.com/polypaper/polypaper/internal/pricing"
	"github.com/polypaper/polypaper/internal/reconcile"
	"github.com/polypaper/polypaper/internal/service"
	"github.com/polypaper/polypaper/internal/store/postgres"
	"github.com/polypaper/polypaper/internal/valuation"
)

// Dependencies bundles every constructed component. The services are the
// embedding surface (an HTTP or RPC layer calls them); the orchestrator
// owns all background jobs.
type Dependencies struct {
	// Stores
	FundStore     domain.FundStore
	PositionStore domain.PositionStore
	LedgerStore   domain.LedgerStore
	HistoryStore  domain.PriceHistoryStore
	SnapshotStore domain.SnapshotStore
	MarketStore   domain.MarketStore

	// Redis-backed infrastructure
	EventsCache domain.EventsCache
	RateLimiter domain.RateLimiter
	LockManager domain.LockManager
	SignalBus   domain.SignalBus

	// Services
	Funds      *service.FundService
	Trades     *service.TradeService
	Portfolios *service.PortfolioService
	Markets    *service.MarketService

	// Background jobs
	Orchestrator *pipeline.Orchestrator
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

	deps := &Dependencies{}

	// --- PostgreSQL ---
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
		cleanup()
		return nil, nil, fmt.Errorf("wire: postgres: %w", err)
	}
	closers = append(closers, pgClient.Close)

	if cfg.Postgres.RunMigrations {
		if err := pgClient.RunMigrations(ctx); err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: postgres migrations: %w", err)
		}
	}

	pool := pgClient.Pool()
	deps.FundStore = postgres.NewFundStore(pool)
	deps.PositionStore = postgres.NewPositionStore(pool)
	deps.LedgerStore = postgres.NewLedgerStore(pool)
	deps.HistoryStore = postgres.NewPriceHistoryStore(pool)
	deps.SnapshotStore = postgres.NewSnapshotStore(pool)
	deps.MarketStore = postgres.NewMarketStore(pool)

	// --- Redis ---
	redisClient, err := redis.New(ctx, redis.ClientConfig{
		Addr:       cfg.Redis.Addr,
		Password:   cfg.Redis.Password,
		DB:         cfg.Redis.DB,
		PoolSize:   cfg.Redis.PoolSize,
		MaxRetries: cfg.Redis.MaxRetries,
		TLSEnabled: cfg.Redis.TLSEnabled,
	})
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: redis: %w", err)
	}
	closers = append(closers, func() { _ = redisClient.Close() })

	deps.EventsCache = redis.NewEventsCache(redisClient, cfg.Cache.EventsTTL.Duration)
	deps.RateLimiter = redis.NewRateLimiter(redisClient)
	deps.LockManager = redis.NewLockManager(redisClient)
	deps.SignalBus = redis.NewSignalBus(redisClient)

	// --- Cold storage archiver (optional) ---
	var archiver valuation.Archiver
	if cfg.S3.Enabled {
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
		closers = append(closers, func() { _ = s3Client.Close() })

		archiver = s3blob.NewArchiver(s3blob.NewWriter(s3Client), logger)
	}

	// --- Venue clients ---
	gamma := polymarket.NewGammaClient(cfg.Venue.GammaHost, cfg.Venue.HTTPTimeout.Duration)
	clob := polymarket.NewClobClient(cfg.Venue.ClobHost, cfg.Venue.HTTPTimeout.Duration)
	wsURL := strings.TrimRight(cfg.Venue.WsHost, "/") + "/ws/market"
	stream := polymarket.NewMarketStream(wsURL, logger)

	// --- Pricing and feed ---
	priceCache := pricing.NewCache()
	flusher := pricing.NewFlusher(priceCache, deps.HistoryStore, logger)
	priceFeed := feed.NewPriceFeed(stream, priceCache, logger)

	// --- Ledger and valuation ---
	engine := ledger.NewEngine(pool, logger)
	valuer := valuation.NewValuer(deps.PositionStore, priceCache, deps.HistoryStore, clob)
	snapshotter := valuation.NewSnapshotter(deps.FundStore, valuer, deps.SnapshotStore, logger)
	cleaner := valuation.NewCleanup(
		deps.HistoryStore,
		deps.SnapshotStore,
		archiver,
		cfg.Jobs.PriceRetention.Duration,
		cfg.Jobs.CleanupInterval.Duration,
		logger,
	)

	// --- Background jobs ---
	marketSync := pipeline.NewMarketSync(deps.MarketStore, gamma, deps.RateLimiter, logger)
	reconciler := reconcile.NewReconciler(
		deps.MarketStore,
		gamma,
		deps.RateLimiter,
		deps.SignalBus,
		cfg.Jobs.ReconcileBatchSize,
		cfg.Jobs.ReconcileInterval.Duration,
		logger,
	)

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

	var worker pipeline.Worker
	if len(senders) > 0 {
		notifier := notify.NewNotifier(senders, cfg.Notify.Events, logger)
		worker = notify.NewWorker(deps.SignalBus, notifier, logger)
	}

	// --- Services ---
	deps.Funds = service.NewFundService(deps.FundStore, logger)
	deps.Trades = service.NewTradeService(deps.MarketStore, engine, clob, deps.RateLimiter, deps.SignalBus, logger)
	deps.Portfolios = service.NewPortfolioService(
		deps.FundStore,
		deps.PositionStore,
		deps.LedgerStore,
		deps.SnapshotStore,
		valuer,
		logger,
	)
	deps.Markets = service.NewMarketService(deps.MarketStore, deps.EventsCache, logger)

	deps.Orchestrator = pipeline.NewOrchestrator(
		priceFeed,
		flusher,
		marketSync,
		snapshotter,
		reconciler,
		cleaner,
		worker,
		deps.LockManager,
		cfg.Jobs.SyncInterval.Duration,
		logger,
	)

	return deps, cleanup, nil
}
