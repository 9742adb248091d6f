package pricing

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/polypaper/polypaper/internal/domain"
)

func f64(v float64) *float64 { return &v }

func TestPriceChangePreservesLastTrade(t *testing.T) {
	c := NewCache()
	now := time.Now().UTC()

	c.UpdateLastTrade("tok", 0.42, now)
	c.UpdateBidAsk("tok", f64(0.40), f64(0.44), now.Add(time.Second))

	q, ok := c.Quote("tok")
	require.True(t, ok)
	require.NotNil(t, q.LastTrade)
	assert.Equal(t, 0.42, *q.LastTrade)
	assert.Equal(t, 0.40, *q.BestBid)
	assert.Equal(t, 0.44, *q.BestAsk)
	assert.Equal(t, now.Add(time.Second), q.UpdatedAt)
}

func TestLastTradePreservesBidAsk(t *testing.T) {
	c := NewCache()
	now := time.Now().UTC()

	c.UpdateBidAsk("tok", f64(0.30), f64(0.34), now)
	c.UpdateLastTrade("tok", 0.31, now.Add(time.Second))

	q, ok := c.Quote("tok")
	require.True(t, ok)
	assert.Equal(t, 0.30, *q.BestBid)
	assert.Equal(t, 0.34, *q.BestAsk)
	assert.Equal(t, 0.31, *q.LastTrade)
}

func TestPartialBidAskUpdate(t *testing.T) {
	c := NewCache()
	now := time.Now().UTC()

	c.UpdateBidAsk("tok", f64(0.50), f64(0.56), now)
	c.UpdateBidAsk("tok", f64(0.52), nil, now.Add(time.Second))

	q, _ := c.Quote("tok")
	assert.Equal(t, 0.52, *q.BestBid)
	assert.Equal(t, 0.56, *q.BestAsk)
}

func TestMidpoint(t *testing.T) {
	c := NewCache()
	now := time.Now().UTC()

	assert.Nil(t, c.Midpoint("missing"))

	c.UpdateBidAsk("half", f64(0.40), nil, now)
	assert.Nil(t, c.Midpoint("half"), "one-sided quote has no midpoint")

	c.UpdateBidAsk("full", f64(0.40), f64(0.50), now)
	mid := c.Midpoint("full")
	require.NotNil(t, mid)
	assert.InDelta(t, 0.45, *mid, 1e-12)
}

func TestSwapAndRestore(t *testing.T) {
	c := NewCache()
	now := time.Now().UTC()

	c.UpdateBidAsk("a", f64(0.10), f64(0.12), now)
	c.UpdateBidAsk("b", f64(0.20), f64(0.22), now)

	old := c.Swap()
	assert.Equal(t, 0, c.Len())
	assert.Len(t, old, 2)

	// An update that arrives between swap and restore must win.
	c.UpdateBidAsk("a", f64(0.11), f64(0.13), now.Add(time.Second))
	c.Restore(old)

	assert.Equal(t, 2, c.Len())
	q, _ := c.Quote("a")
	assert.Equal(t, 0.11, *q.BestBid)
	q, _ = c.Quote("b")
	assert.Equal(t, 0.20, *q.BestBid)
}

type recordingHistory struct {
	inserted [][]domain.PricePoint
	err      error
}

func (r *recordingHistory) InsertBatch(_ context.Context, points []domain.PricePoint) error {
	if r.err != nil {
		return r.err
	}
	r.inserted = append(r.inserted, points)
	return nil
}

func (r *recordingHistory) LatestBefore(context.Context, string, time.Time) (domain.PricePoint, error) {
	return domain.PricePoint{}, domain.ErrNotFound
}

func (r *recordingHistory) ListBefore(context.Context, time.Time) ([]domain.PricePoint, error) {
	return nil, nil
}

func (r *recordingHistory) DeleteBefore(context.Context, time.Time) (int64, error) {
	return 0, nil
}

func TestFlushEmptyCacheIsNoop(t *testing.T) {
	store := &recordingHistory{}
	f := NewFlusher(NewCache(), store, testLogger())

	n, err := f.FlushOnce(context.Background(), time.Now().UTC())
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Empty(t, store.inserted)
}

func TestFlushWritesAndClears(t *testing.T) {
	c := NewCache()
	store := &recordingHistory{}
	f := NewFlusher(c, store, testLogger())
	now := time.Now().UTC()

	c.UpdateBidAsk("tok", f64(0.40), f64(0.50), now)
	c.UpdateLastTrade("lonely", 0.77, now)

	at := now.Truncate(time.Minute)
	n, err := f.FlushOnce(context.Background(), at)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, 0, c.Len())

	require.Len(t, store.inserted, 1)
	byToken := map[string]domain.PricePoint{}
	for _, p := range store.inserted[0] {
		byToken[p.TokenID] = p
		assert.Equal(t, at, p.At)
	}

	require.NotNil(t, byToken["tok"].Midpoint)
	assert.InDelta(t, 0.45, *byToken["tok"].Midpoint, 1e-12)
	assert.Nil(t, byToken["lonely"].Midpoint, "one-sided quote flushes a null midpoint")
	require.NotNil(t, byToken["lonely"].LastTrade)
	assert.Equal(t, 0.77, *byToken["lonely"].LastTrade)
}

func TestFlushFailureKeepsEntries(t *testing.T) {
	c := NewCache()
	store := &recordingHistory{err: errors.New("db down")}
	f := NewFlusher(c, store, testLogger())

	c.UpdateBidAsk("tok", f64(0.40), f64(0.50), time.Now().UTC())

	_, err := f.FlushOnce(context.Background(), time.Now().UTC())
	require.Error(t, err)
	assert.Equal(t, 1, c.Len(), "entries survive a failed flush for the next tick")
}

func TestUntilNextMinute(t *testing.T) {
	now := time.Date(2025, 3, 1, 10, 15, 42, 500_000_000, time.UTC)
	d := untilNextMinute(now)
	assert.Equal(t, 17*time.Second+500*time.Millisecond, d)

	boundary := time.Date(2025, 3, 1, 10, 15, 0, 0, time.UTC)
	assert.Equal(t, time.Minute, untilNextMinute(boundary))
}
