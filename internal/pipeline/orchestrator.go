package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/polypaper/polypaper/internal/domain"
	"github.com/polypaper/polypaper/internal/feed"
	"github.com/polypaper/polypaper/internal/pricing"
	"github.com/polypaper/polypaper/internal/reconcile"
	"github.com/polypaper/polypaper/internal/valuation"
)

// Worker is a long-running background consumer (the notification worker).
type Worker interface {
	Run(ctx context.Context) error
}

// Orchestrator schedules every background job as an independently
// cancellable goroutine: the price feed, the minute flush, market sync,
// portfolio snapshots, reconciliation, retention cleanup, and the notify
// worker. Venue-facing and destructive jobs take a distributed lock per
// pass so concurrent instances never overlap; per-instance idempotent
// loops (flush, snapshots) run unlocked.
type Orchestrator struct {
	priceFeed   *feed.PriceFeed
	flusher     *pricing.Flusher
	marketSync  *MarketSync
	snapshotter *valuation.Snapshotter
	reconciler  *reconcile.Reconciler
	cleanup     *valuation.Cleanup
	worker      Worker
	locks       domain.LockManager

	syncInterval time.Duration
	logger       *slog.Logger
}

// NewOrchestrator creates an Orchestrator. worker and locks may be nil.
func NewOrchestrator(
	priceFeed *feed.PriceFeed,
	flusher *pricing.Flusher,
	marketSync *MarketSync,
	snapshotter *valuation.Snapshotter,
	reconciler *reconcile.Reconciler,
	cleanup *valuation.Cleanup,
	worker Worker,
	locks domain.LockManager,
	syncInterval time.Duration,
	logger *slog.Logger,
) *Orchestrator {
	return &Orchestrator{
		priceFeed:    priceFeed,
		flusher:      flusher,
		marketSync:   marketSync,
		snapshotter:  snapshotter,
		reconciler:   reconciler,
		cleanup:      cleanup,
		worker:       worker,
		locks:        locks,
		syncInterval: syncInterval,
		logger:       logger.With(slog.String("component", "orchestrator")),
	}
}

// Run starts every job and blocks until ctx is cancelled or a job fails
// with a non-context error.
func (o *Orchestrator) Run(ctx context.Context) error {
	o.logger.Info("orchestrator starting",
		slog.Duration("sync_interval", o.syncInterval),
	)

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		err := o.flusher.Run(ctx)
		if ctx.Err() != nil {
			return nil // clean shutdown
		}
		return fmt.Errorf("price flusher: %w", err)
	})

	g.Go(func() error {
		err := o.snapshotter.Run(ctx)
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("snapshotter: %w", err)
	})

	g.Go(func() error {
		err := o.runSyncLoop(ctx)
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("market sync: %w", err)
	})

	g.Go(func() error {
		err := o.runReconcileLoop(ctx)
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("reconciler: %w", err)
	})

	g.Go(func() error {
		err := o.runCleanupLoop(ctx)
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("cleanup: %w", err)
	})

	if o.worker != nil {
		g.Go(func() error {
			err := o.worker.Run(ctx)
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("notify worker: %w", err)
		})
	}

	err := g.Wait()
	_ = o.priceFeed.Stop()
	if err != nil {
		o.logger.Error("orchestrator stopped with error", slog.String("error", err.Error()))
		return err
	}

	o.logger.Info("orchestrator stopped cleanly")
	return nil
}

// runSyncLoop mirrors the venue immediately on start and then on the sync
// interval. After every pass the feed is restarted if it is down or the
// active instrument set changed; this is the only feed-restart trigger.
func (o *Orchestrator) runSyncLoop(ctx context.Context) error {
	o.syncPass(ctx)

	ticker := time.NewTicker(o.syncInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			o.syncPass(ctx)
		}
	}
}

func (o *Orchestrator) syncPass(ctx context.Context) {
	var tokenIDs []string
	err := o.withLock(ctx, "jobs:market_sync", o.syncInterval, func() error {
		var err error
		tokenIDs, err = o.marketSync.Run(ctx)
		return err
	})
	if err != nil {
		o.logger.ErrorContext(ctx, "market sync failed", slog.String("error", err.Error()))
		return
	}
	if tokenIDs == nil {
		// Another instance held the lock; nothing to restart against.
		return
	}

	if o.priceFeed.Down() || !sameInstruments(o.priceFeed.AssetIDs(), tokenIDs) {
		if err := o.priceFeed.Restart(ctx, tokenIDs); err != nil {
			o.logger.ErrorContext(ctx, "feed restart failed",
				slog.Int("instruments", len(tokenIDs)),
				slog.String("error", err.Error()),
			)
			return
		}
		o.logger.InfoContext(ctx, "feed restarted",
			slog.Int("instruments", len(tokenIDs)),
		)
	}
}

func (o *Orchestrator) runReconcileLoop(ctx context.Context) error {
	ticker := time.NewTicker(o.reconciler.Interval())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			err := o.withLock(ctx, "jobs:reconcile", o.reconciler.Interval(), func() error {
				stats, err := o.reconciler.RunOnce(ctx)
				if err != nil {
					return err
				}
				o.logger.InfoContext(ctx, "reconciliation pass done",
					slog.Int("events_closed", stats.EventsClosed),
					slog.Int("markets_closed", stats.MarketsClosed),
					slog.Int("resolved", stats.Resolved),
					slog.Int("failures", stats.Failures),
				)
				return nil
			})
			if err != nil {
				o.logger.ErrorContext(ctx, "reconciliation failed", slog.String("error", err.Error()))
			}
		}
	}
}

func (o *Orchestrator) runCleanupLoop(ctx context.Context) error {
	ticker := time.NewTicker(o.cleanup.Interval())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			err := o.withLock(ctx, "jobs:cleanup", o.cleanup.Interval(), func() error {
				pruned, err := o.cleanup.RunOnce(ctx, time.Now().UTC())
				if err != nil {
					return err
				}
				if pruned > 0 {
					o.logger.InfoContext(ctx, "retention cleanup done",
						slog.Int64("rows_pruned", pruned),
					)
				}
				return nil
			})
			if err != nil {
				o.logger.ErrorContext(ctx, "cleanup failed", slog.String("error", err.Error()))
			}
		}
	}
}

// withLock runs fn under a distributed lock. A lock already held elsewhere
// skips the pass silently; no lock manager means no locking.
func (o *Orchestrator) withLock(ctx context.Context, key string, ttl time.Duration, fn func() error) error {
	if o.locks == nil {
		return fn()
	}

	unlock, err := o.locks.Acquire(ctx, key, ttl)
	if err != nil {
		if errors.Is(err, domain.ErrLockHeld) {
			o.logger.DebugContext(ctx, "job lock held elsewhere, skipping pass",
				slog.String("key", key),
			)
			return nil
		}
		return fmt.Errorf("acquire lock %s: %w", key, err)
	}
	defer unlock()

	return fn()
}

// sameInstruments reports whether two token ID sets are equal, ignoring
// order.
func sameInstruments(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	as := append([]string(nil), a...)
	bs := append([]string(nil), b...)
	sort.Strings(as)
	sort.Strings(bs)
	for i := range as {
		if as[i] != bs[i] {
			return false
		}
	}
	return true
}
