package valuation

import (
	"context"
	"log/slog"
	"time"

	"github.com/polypaper/polypaper/internal/domain"
)

// Archiver receives rows a pruning pass is about to delete. Nil archiver
// means prune without archiving.
type Archiver interface {
	ArchivePricePoints(ctx context.Context, points []domain.PricePoint) error
	ArchiveSnapshots(ctx context.Context, snaps []domain.PortfolioSnapshot) error
}

// Cleanup prunes price history and portfolio snapshots past their
// retention windows, archiving the pruned rows to cold storage first when
// an archiver is configured. Snapshots are pruned per resolution tier; the
// coarsest tier is kept forever.
type Cleanup struct {
	history        domain.PriceHistoryStore
	snaps          domain.SnapshotStore
	archiver       Archiver
	priceRetention time.Duration
	interval       time.Duration
	logger         *slog.Logger
}

// NewCleanup creates a Cleanup running every interval, pruning price
// history older than priceRetention.
func NewCleanup(
	history domain.PriceHistoryStore,
	snaps domain.SnapshotStore,
	archiver Archiver,
	priceRetention, interval time.Duration,
	logger *slog.Logger,
) *Cleanup {
	return &Cleanup{
		history:        history,
		snaps:          snaps,
		archiver:       archiver,
		priceRetention: priceRetention,
		interval:       interval,
		logger:         logger.With(slog.String("component", "cleanup")),
	}
}

// Interval returns how often the supervisor should schedule passes.
func (c *Cleanup) Interval() time.Duration {
	return c.interval
}

// RunOnce performs one pruning pass relative to now and returns the total
// rows removed. A failed archive aborts the corresponding delete so no row
// is lost before it reaches cold storage.
func (c *Cleanup) RunOnce(ctx context.Context, now time.Time) (int64, error) {
	var total int64

	n, err := c.prunePrices(ctx, now.Add(-c.priceRetention))
	if err != nil {
		return total, err
	}
	total += n

	for _, tier := range domain.ResolutionTiers {
		if tier.MaxAge == 0 {
			continue
		}
		n, err := c.pruneSnapshots(ctx, tier.Minutes, now.Add(-tier.MaxAge))
		if err != nil {
			return total, err
		}
		total += n
	}

	return total, nil
}

func (c *Cleanup) prunePrices(ctx context.Context, cutoff time.Time) (int64, error) {
	if c.archiver != nil {
		points, err := c.history.ListBefore(ctx, cutoff)
		if err != nil {
			return 0, err
		}
		if len(points) == 0 {
			return 0, nil
		}
		if err := c.archiver.ArchivePricePoints(ctx, points); err != nil {
			return 0, err
		}
	}
	return c.history.DeleteBefore(ctx, cutoff)
}

func (c *Cleanup) pruneSnapshots(ctx context.Context, resolution int, cutoff time.Time) (int64, error) {
	if c.archiver != nil {
		snaps, err := c.snaps.ListBefore(ctx, resolution, cutoff)
		if err != nil {
			return 0, err
		}
		if len(snaps) == 0 {
			return 0, nil
		}
		if err := c.archiver.ArchiveSnapshots(ctx, snaps); err != nil {
			return 0, err
		}
	}
	return c.snaps.DeleteBefore(ctx, resolution, cutoff)
}
