package feed

import (
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/polypaper/polypaper/internal/platform/polymarket"
	"github.com/polypaper/polypaper/internal/pricing"
)

func testFeed(t *testing.T) (*PriceFeed, *pricing.Cache) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	cache := pricing.NewCache()
	stream := polymarket.NewMarketStream("wss://unused.example/ws/market", logger)
	return NewPriceFeed(stream, cache, logger), cache
}

func TestHandlePriceChangeUpdatesCache(t *testing.T) {
	f, cache := testFeed(t)
	ts := time.Now()

	f.handlePriceChange([]polymarket.PriceChangeEntry{
		{AssetID: "tok-1", BestBid: "0.45", BestAsk: "0.47"},
		{AssetID: "tok-2", BestBid: "0.10", BestAsk: ""},
		{AssetID: "", BestBid: "0.50", BestAsk: "0.52"},
		{AssetID: "tok-3", BestBid: "", BestAsk: ""},
	}, ts)

	q, ok := cache.Quote("tok-1")
	require.True(t, ok)
	require.NotNil(t, q.BestBid)
	require.NotNil(t, q.BestAsk)
	assert.Equal(t, 0.45, *q.BestBid)
	assert.Equal(t, 0.47, *q.BestAsk)

	q, ok = cache.Quote("tok-2")
	require.True(t, ok)
	require.NotNil(t, q.BestBid)
	assert.Nil(t, q.BestAsk)

	_, ok = cache.Quote("tok-3")
	assert.False(t, ok, "entry with no prices should not create a quote")
	assert.Equal(t, 2, cache.Len())
}

func TestHandleLastTradePreservesBidAsk(t *testing.T) {
	f, cache := testFeed(t)
	ts := time.Now()

	f.handlePriceChange([]polymarket.PriceChangeEntry{
		{AssetID: "tok-1", BestBid: "0.45", BestAsk: "0.47"},
	}, ts)
	f.handleLastTrade(polymarket.LastTradePriceMessage{AssetID: "tok-1", Price: "0.46"}, ts)

	q, ok := cache.Quote("tok-1")
	require.True(t, ok)
	require.NotNil(t, q.LastTrade)
	assert.Equal(t, 0.46, *q.LastTrade)
	require.NotNil(t, q.BestBid)
	assert.Equal(t, 0.45, *q.BestBid)
}

func TestHandleLastTradeDropsMalformed(t *testing.T) {
	f, cache := testFeed(t)

	f.handleLastTrade(polymarket.LastTradePriceMessage{AssetID: "tok-1", Price: "n/a"}, time.Now())

	_, ok := cache.Quote("tok-1")
	assert.False(t, ok)
}

func TestHandleCloseMarksDown(t *testing.T) {
	f, _ := testFeed(t)

	assert.False(t, f.Down())
	f.handleClose(assert.AnError)
	assert.True(t, f.Down())

	// A nil error means a deliberate Stop already recorded the state.
	f2, _ := testFeed(t)
	f2.handleClose(nil)
	assert.False(t, f2.Down())
}
