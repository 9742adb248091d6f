package pricing

import (
	"context"
	"log/slog"
	"time"

	"github.com/polypaper/polypaper/internal/domain"
)

// Flusher persists the price cache to durable history once per minute,
// aligned to the wall-clock minute boundary, and clears it. A failed flush
// restores the entries so the next tick retries them.
type Flusher struct {
	cache   *Cache
	history domain.PriceHistoryStore
	logger  *slog.Logger
}

// NewFlusher creates a Flusher writing to the given history store.
func NewFlusher(cache *Cache, history domain.PriceHistoryStore, logger *slog.Logger) *Flusher {
	return &Flusher{
		cache:   cache,
		history: history,
		logger:  logger.With(slog.String("component", "price_flusher")),
	}
}

// Run flushes at every minute boundary until ctx is cancelled.
func (f *Flusher) Run(ctx context.Context) error {
	for {
		timer := time.NewTimer(untilNextMinute(time.Now()))
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}

		at := time.Now().UTC().Truncate(time.Minute)
		n, err := f.FlushOnce(ctx, at)
		if err != nil {
			f.logger.ErrorContext(ctx, "price flush failed",
				slog.String("error", err.Error()),
			)
			continue
		}
		if n > 0 {
			f.logger.DebugContext(ctx, "price cache flushed",
				slog.Int("points", n),
				slog.Time("at", at),
			)
		}
	}
}

// FlushOnce swaps the cache out and writes one history row per quote,
// stamped at the given time. An empty cache is a no-op. On store failure
// the swapped entries are restored and the error returned.
func (f *Flusher) FlushOnce(ctx context.Context, at time.Time) (int, error) {
	quotes := f.cache.Swap()
	if len(quotes) == 0 {
		return 0, nil
	}

	points := make([]domain.PricePoint, 0, len(quotes))
	for _, q := range quotes {
		points = append(points, domain.PricePoint{
			TokenID:   q.TokenID,
			BestBid:   q.BestBid,
			BestAsk:   q.BestAsk,
			Midpoint:  q.Midpoint(),
			LastTrade: q.LastTrade,
			At:        at,
		})
	}

	if err := f.history.InsertBatch(ctx, points); err != nil {
		f.cache.Restore(quotes)
		return 0, err
	}
	return len(points), nil
}

// untilNextMinute returns the duration from now to the next wall-clock
// minute boundary.
func untilNextMinute(now time.Time) time.Duration {
	next := now.Truncate(time.Minute).Add(time.Minute)
	return next.Sub(now)
}
