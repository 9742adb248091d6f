package valuation

import (
	"context"
	"log/slog"
	"time"

	"github.com/polypaper/polypaper/internal/domain"
)

// Snapshotter samples the value of every fund with open positions once per
// minute. A sampled minute produces one snapshot row per resolution tier
// whose grid contains it, so a single pass at minute 30 of the hour writes
// 1-minute, 5-minute and 30-minute rows with the same value.
type Snapshotter struct {
	funds  domain.FundStore
	valuer *Valuer
	snaps  domain.SnapshotStore
	logger *slog.Logger
}

// NewSnapshotter creates a Snapshotter.
func NewSnapshotter(funds domain.FundStore, valuer *Valuer, snaps domain.SnapshotStore, logger *slog.Logger) *Snapshotter {
	return &Snapshotter{
		funds:  funds,
		valuer: valuer,
		snaps:  snaps,
		logger: logger.With(slog.String("component", "snapshotter")),
	}
}

// Run samples at every minute boundary until ctx is cancelled.
func (s *Snapshotter) Run(ctx context.Context) error {
	for {
		timer := time.NewTimer(untilNextMinute(time.Now()))
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}

		at := time.Now().UTC().Truncate(time.Minute)
		written, failed, err := s.TakeAt(ctx, at)
		if err != nil {
			s.logger.ErrorContext(ctx, "snapshot pass failed",
				slog.String("error", err.Error()),
			)
			continue
		}
		if written > 0 || failed > 0 {
			s.logger.DebugContext(ctx, "snapshot pass done",
				slog.Int("rows", written),
				slog.Int("failed_funds", failed),
				slog.Time("at", at),
			)
		}
	}
}

// TakeAt runs one sampling pass stamped at the given minute. A fund whose
// valuation fails is counted and skipped; the pass continues. Returns the
// number of snapshot rows written and the number of funds that failed.
func (s *Snapshotter) TakeAt(ctx context.Context, at time.Time) (written, failed int, err error) {
	tiers := domain.TiersAt(at)
	if len(tiers) == 0 {
		return 0, 0, nil
	}

	funds, err := s.funds.ListWithOpenPositions(ctx)
	if err != nil {
		return 0, 0, err
	}
	if len(funds) == 0 {
		return 0, 0, nil
	}

	rows := make([]domain.PortfolioSnapshot, 0, len(funds)*len(tiers))
	for _, fund := range funds {
		value, skipped, err := s.valuer.FundValue(ctx, fund, at)
		if err != nil {
			failed++
			s.logger.WarnContext(ctx, "fund valuation failed",
				slog.String("fund_id", fund.ID.String()),
				slog.String("error", err.Error()),
			)
			continue
		}
		if skipped > 0 {
			s.logger.DebugContext(ctx, "positions without price skipped",
				slog.String("fund_id", fund.ID.String()),
				slog.Int("skipped", skipped),
			)
		}
		for _, resolution := range tiers {
			rows = append(rows, domain.PortfolioSnapshot{
				FundID:     fund.ID,
				Value:      value,
				Resolution: resolution,
				TakenAt:    at,
			})
		}
	}

	if err := s.snaps.InsertBatch(ctx, rows); err != nil {
		return 0, failed, err
	}
	return len(rows), failed, nil
}

// untilNextMinute returns the duration from now to the next wall-clock
// minute boundary.
func untilNextMinute(now time.Time) time.Duration {
	next := now.Truncate(time.Minute).Add(time.Minute)
	return next.Sub(now)
}
