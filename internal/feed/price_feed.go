// Package feed connects the venue's market data stream to the in-memory
// price cache and owns the stream's lifecycle.
package feed

import (
	"context"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/polypaper/polypaper/internal/platform/polymarket"
	"github.com/polypaper/polypaper/internal/pricing"
)

// PriceFeed owns the market data stream and routes its messages into the
// price cache. The feed never reconnects on its own: after a drop it stays
// down until the market sync job finishes its next pass and calls Restart
// with the current instrument set, so a restarted feed always subscribes
// to fresh token IDs.
type PriceFeed struct {
	stream *polymarket.MarketStream
	cache  *pricing.Cache
	logger *slog.Logger

	mu       sync.Mutex
	assetIDs []string
	down     bool
}

// NewPriceFeed creates a PriceFeed wired to the given stream and cache.
func NewPriceFeed(stream *polymarket.MarketStream, cache *pricing.Cache, logger *slog.Logger) *PriceFeed {
	f := &PriceFeed{
		stream: stream,
		cache:  cache,
		logger: logger.With(slog.String("component", "price_feed")),
	}
	stream.OnPriceChange(f.handlePriceChange)
	stream.OnLastTrade(f.handleLastTrade)
	stream.OnClose(f.handleClose)
	return f
}

// Start clears the cache and subscribes to the given asset IDs. The cache
// is cleared because a fresh subscription rebuilds quote state from
// scratch; stale entries from a previous connection must not linger.
func (f *PriceFeed) Start(ctx context.Context, assetIDs []string) error {
	f.mu.Lock()
	f.assetIDs = assetIDs
	f.down = false
	f.mu.Unlock()

	f.cache.Clear()
	if err := f.stream.Connect(ctx, assetIDs); err != nil {
		f.mu.Lock()
		f.down = true
		f.mu.Unlock()
		return err
	}
	return nil
}

// Stop disconnects the stream. Safe to call when already stopped.
func (f *PriceFeed) Stop() error {
	f.mu.Lock()
	f.down = true
	f.mu.Unlock()
	return f.stream.Disconnect()
}

// Restart tears down any existing connection and subscribes with a new
// instrument set. The market sync job calls this after each pass when the
// feed is down or the set of active tokens changed.
func (f *PriceFeed) Restart(ctx context.Context, assetIDs []string) error {
	if err := f.stream.Disconnect(); err != nil {
		f.logger.Warn("disconnect before restart failed", slog.String("error", err.Error()))
	}
	return f.Start(ctx, assetIDs)
}

// Down reports whether the feed needs a restart.
func (f *PriceFeed) Down() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.down
}

// AssetIDs returns the instrument set of the current (or last) subscription.
func (f *PriceFeed) AssetIDs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.assetIDs))
	copy(out, f.assetIDs)
	return out
}

func (f *PriceFeed) handlePriceChange(entries []polymarket.PriceChangeEntry, ts time.Time) {
	for _, e := range entries {
		if e.AssetID == "" {
			continue
		}
		bid := parsePrice(e.BestBid)
		ask := parsePrice(e.BestAsk)
		if bid == nil && ask == nil {
			continue
		}
		f.cache.UpdateBidAsk(e.AssetID, bid, ask, ts)
	}
}

func (f *PriceFeed) handleLastTrade(msg polymarket.LastTradePriceMessage, ts time.Time) {
	price := parsePrice(msg.Price)
	if price == nil {
		return
	}
	f.cache.UpdateLastTrade(msg.AssetID, *price, ts)
}

// parsePrice converts a decimal string from the stream to a float pointer,
// nil when empty or malformed.
func parsePrice(raw string) *float64 {
	if raw == "" {
		return nil
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return nil
	}
	return &v
}

// handleClose marks the feed as needing a restart. err is nil for a
// deliberate Stop, in which case down was already set.
func (f *PriceFeed) handleClose(err error) {
	if err == nil {
		return
	}
	f.mu.Lock()
	f.down = true
	f.mu.Unlock()
	f.logger.Warn("feed connection lost, waiting for market sync to restart",
		slog.String("error", err.Error()),
	)
}
