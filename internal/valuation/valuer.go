// Package valuation marks portfolios to market: the minute snapshot
// engine, the retention cleanup job, and the shared fund valuer.
package valuation

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/polypaper/polypaper/internal/domain"
	"github.com/polypaper/polypaper/internal/pricing"
)

// MidpointFetcher returns the venue's current midpoint for a token. It is
// the last pricing resort when neither the live cache nor stored history
// can mark a token.
type MidpointFetcher interface {
	GetMidpoint(ctx context.Context, tokenID string) (float64, error)
}

// Valuer computes the mark-to-market value of a fund: cash plus the sum of
// quantity times mark across open lots. The mark for a token is the live
// cache midpoint when both sides are known, otherwise the most recent
// durable midpoint at or before the valuation time, otherwise a one-off
// venue midpoint fetch.
type Valuer struct {
	positions domain.PositionStore
	cache     *pricing.Cache
	history   domain.PriceHistoryStore
	venue     MidpointFetcher
}

// NewValuer creates a Valuer. venue may be nil, in which case tokens with
// no cached or stored price are skipped.
func NewValuer(positions domain.PositionStore, cache *pricing.Cache, history domain.PriceHistoryStore, venue MidpointFetcher) *Valuer {
	return &Valuer{positions: positions, cache: cache, history: history, venue: venue}
}

// FundValue values a fund at time t. Lots whose token has no resolvable
// price on either path are skipped; skipped reports how many were. An
// error is returned only when the lots themselves cannot be read.
func (v *Valuer) FundValue(ctx context.Context, fund domain.Fund, t time.Time) (value float64, skipped int, err error) {
	lots, err := v.positions.ListByFund(ctx, fund.ID)
	if err != nil {
		return 0, 0, fmt.Errorf("valuation: list lots for fund %s: %w", fund.ID, err)
	}

	total := decimal.NewFromFloat(fund.Balance)
	for _, lot := range lots {
		mark := v.mark(ctx, lot.TokenID, t)
		if mark == nil {
			skipped++
			continue
		}
		total = total.Add(decimal.NewFromInt(lot.Quantity).Mul(decimal.NewFromFloat(*mark)))
	}

	f, _ := total.Float64()
	return f, skipped, nil
}

// mark resolves the price for one token: live cache midpoint first, then
// the latest durable midpoint at or before t, then the venue. Nil when
// nothing resolves.
func (v *Valuer) mark(ctx context.Context, tokenID string, t time.Time) *float64 {
	if mid := v.cache.Midpoint(tokenID); mid != nil {
		return mid
	}

	point, err := v.history.LatestBefore(ctx, tokenID, t)
	if err == nil && point.Midpoint != nil {
		return point.Midpoint
	}

	if v.venue == nil {
		return nil
	}
	mid, err := v.venue.GetMidpoint(ctx, tokenID)
	if err != nil || mid <= 0 || mid > 1 {
		return nil
	}
	return &mid
}
