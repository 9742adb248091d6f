package service

import (
	"context"
	"fmt"
	"log/slog"

	"golang.org/x/sync/singleflight"

	"github.com/polypaper/polypaper/internal/domain"
)

// MarketService serves mirrored market and event metadata through a
// read-through cache. Concurrent misses for the same id collapse onto one
// store read via singleflight; every waiter gets that read's result. A
// failed refresh leaves any previously cached entry untouched.
type MarketService struct {
	markets domain.MarketStore
	cache   domain.EventsCache
	group   singleflight.Group
	logger  *slog.Logger
}

// NewMarketService creates a MarketService.
func NewMarketService(markets domain.MarketStore, cache domain.EventsCache, logger *slog.Logger) *MarketService {
	return &MarketService{
		markets: markets,
		cache:   cache,
		logger:  logger.With(slog.String("component", "market_service")),
	}
}

// GetEvent returns event metadata, cache first.
func (s *MarketService) GetEvent(ctx context.Context, id string) (domain.Event, error) {
	if e, err := s.cache.GetEvent(ctx, id); err == nil {
		return e, nil
	}

	v, err, _ := s.group.Do("event:"+id, func() (any, error) {
		e, err := s.markets.GetEvent(ctx, id)
		if err != nil {
			return nil, err
		}
		if cacheErr := s.cache.SetEvent(ctx, e); cacheErr != nil {
			s.logger.WarnContext(ctx, "cache event failed",
				slog.String("event_id", id),
				slog.String("error", cacheErr.Error()),
			)
		}
		return e, nil
	})
	if err != nil {
		return domain.Event{}, fmt.Errorf("market_service: get event %q: %w", id, err)
	}
	return v.(domain.Event), nil
}

// GetMarket returns market metadata, cache first.
func (s *MarketService) GetMarket(ctx context.Context, id string) (domain.Market, error) {
	if m, err := s.cache.GetMarket(ctx, id); err == nil {
		return m, nil
	}

	v, err, _ := s.group.Do("market:"+id, func() (any, error) {
		m, err := s.markets.GetMarket(ctx, id)
		if err != nil {
			return nil, err
		}
		if cacheErr := s.cache.SetMarket(ctx, m); cacheErr != nil {
			s.logger.WarnContext(ctx, "cache market failed",
				slog.String("market_id", id),
				slog.String("error", cacheErr.Error()),
			)
		}
		return m, nil
	})
	if err != nil {
		return domain.Market{}, fmt.Errorf("market_service: get market %q: %w", id, err)
	}
	return v.(domain.Market), nil
}

// ListEvents returns mirrored events straight from the store; list reads
// are not cached.
func (s *MarketService) ListEvents(ctx context.Context, opts domain.ListOpts) ([]domain.Event, error) {
	events, err := s.markets.ListEvents(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("market_service: list events: %w", err)
	}
	return events, nil
}

// Outcomes returns a market's outcomes, including the winning flag once
// reconciliation resolves it.
func (s *MarketService) Outcomes(ctx context.Context, marketID string) ([]domain.Outcome, error) {
	outcomes, err := s.markets.ListOutcomes(ctx, marketID)
	if err != nil {
		return nil, fmt.Errorf("market_service: outcomes for %q: %w", marketID, err)
	}
	return outcomes, nil
}

// Invalidate drops cached metadata for an id, forcing the next read
// through to the store.
func (s *MarketService) Invalidate(ctx context.Context, id string) {
	if err := s.cache.Invalidate(ctx, id); err != nil {
		s.logger.WarnContext(ctx, "cache invalidate failed",
			slog.String("id", id),
			slog.String("error", err.Error()),
		)
	}
}
