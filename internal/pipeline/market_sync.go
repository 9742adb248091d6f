// Package pipeline holds the background jobs and the orchestrator that
// schedules them.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/polypaper/polypaper/internal/domain"
	"github.com/polypaper/polypaper/internal/platform/polymarket"
)

// EventFetcher retrieves events from the Gamma API.
type EventFetcher interface {
	GetEvents(ctx context.Context, limit, offset int) ([]polymarket.APIEvent, error)
}

// MarketSync mirrors venue events and their binary markets into the local
// store. Non-binary markets are skipped entirely: the paper-trading ledger
// only understands two-outcome instruments.
type MarketSync struct {
	markets domain.MarketStore
	fetcher EventFetcher
	limiter domain.RateLimiter
	logger  *slog.Logger
}

// NewMarketSync creates a MarketSync. limiter may be nil to skip pacing.
func NewMarketSync(markets domain.MarketStore, fetcher EventFetcher, limiter domain.RateLimiter, logger *slog.Logger) *MarketSync {
	return &MarketSync{
		markets: markets,
		fetcher: fetcher,
		limiter: limiter,
		logger:  logger.With(slog.String("component", "market_sync")),
	}
}

// Run executes one full sync pass: paginate through venue events, upsert
// each event and its binary markets, then return the refreshed active
// instrument set for the price feed. Upsert failures are logged and the
// pass continues; a page fetch failure aborts the pass.
func (s *MarketSync) Run(ctx context.Context) ([]string, error) {
	const pageSize = 100
	offset := 0
	totalEvents, totalMarkets := 0, 0

	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if s.limiter != nil {
			if err := s.limiter.Wait(ctx, "gamma"); err != nil {
				return nil, err
			}
		}

		events, err := s.fetcher.GetEvents(ctx, pageSize, offset)
		if err != nil {
			return nil, fmt.Errorf("pipeline: fetch events at offset %d: %w", offset, err)
		}
		if len(events) == 0 {
			break
		}

		for i := range events {
			totalMarkets += s.syncEvent(ctx, &events[i])
		}
		totalEvents += len(events)

		if len(events) < pageSize {
			break
		}
		offset += pageSize
	}

	s.logger.InfoContext(ctx, "market sync complete",
		slog.Int("events", totalEvents),
		slog.Int("markets", totalMarkets),
	)

	tokenIDs, err := s.markets.ListActiveTokenIDs(ctx)
	if err != nil {
		return nil, fmt.Errorf("pipeline: list active token ids: %w", err)
	}
	return tokenIDs, nil
}

// syncEvent upserts one event and its binary markets, returning how many
// markets were mirrored.
func (s *MarketSync) syncEvent(ctx context.Context, apiEvent *polymarket.APIEvent) int {
	ev := apiEvent.ToDomainEvent()
	if err := s.markets.UpsertEvent(ctx, ev); err != nil {
		if !errors.Is(err, context.Canceled) {
			s.logger.ErrorContext(ctx, "upsert event failed",
				slog.String("event_id", ev.ID),
				slog.String("error", err.Error()),
			)
		}
		return 0
	}

	synced := 0
	for i := range apiEvent.Markets {
		mkt := &apiEvent.Markets[i]
		if mkt.ID == "" || !mkt.Binary() {
			continue
		}

		dm, outcomes := mkt.ToDomainMarket(ev.ID)
		if err := s.markets.UpsertMarket(ctx, dm, outcomes); err != nil {
			if !errors.Is(err, context.Canceled) {
				s.logger.ErrorContext(ctx, "upsert market failed",
					slog.String("market_id", dm.ID),
					slog.String("error", err.Error()),
				)
			}
			continue
		}
		synced++
	}
	return synced
}
