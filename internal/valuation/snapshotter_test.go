package valuation

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/polypaper/polypaper/internal/domain"
	"github.com/polypaper/polypaper/internal/pricing"
)

func TestFundValueCashPlusMarks(t *testing.T) {
	fundID := uuid.New()
	positions := &fakePositionStore{lots: map[uuid.UUID][]domain.PositionLot{
		fundID: {
			{FundID: fundID, TokenID: "tok-a", Quantity: 100},
			{FundID: fundID, TokenID: "tok-b", Quantity: 50},
		},
	}}
	cache := pricing.NewCache()
	bid, ask := 0.40, 0.44
	cache.UpdateBidAsk("tok-a", &bid, &ask, time.Now())

	histMid := 0.20
	history := &fakeHistoryStore{latest: map[string]domain.PricePoint{
		"tok-b": {TokenID: "tok-b", Midpoint: &histMid},
	}}

	v := NewValuer(positions, cache, history, nil)
	value, skipped, err := v.FundValue(context.Background(), domain.Fund{ID: fundID, Balance: 1000}, time.Now())
	require.NoError(t, err)
	assert.Equal(t, 0, skipped)
	// 1000 cash + 100*0.42 (live mid) + 50*0.20 (history fallback)
	assert.InDelta(t, 1052.0, value, 1e-9)
}

func TestFundValueSkipsUnpriceable(t *testing.T) {
	fundID := uuid.New()
	positions := &fakePositionStore{lots: map[uuid.UUID][]domain.PositionLot{
		fundID: {
			{FundID: fundID, TokenID: "tok-a", Quantity: 100},
			{FundID: fundID, TokenID: "tok-ghost", Quantity: 10},
		},
	}}
	cache := pricing.NewCache()
	bid, ask := 0.50, 0.50
	cache.UpdateBidAsk("tok-a", &bid, &ask, time.Now())

	v := NewValuer(positions, cache, &fakeHistoryStore{}, nil)
	value, skipped, err := v.FundValue(context.Background(), domain.Fund{ID: fundID, Balance: 100}, time.Now())
	require.NoError(t, err)
	assert.Equal(t, 1, skipped)
	assert.InDelta(t, 150.0, value, 1e-9)
}

func TestFundValueOneSidedQuoteFallsBack(t *testing.T) {
	fundID := uuid.New()
	positions := &fakePositionStore{lots: map[uuid.UUID][]domain.PositionLot{
		fundID: {{FundID: fundID, TokenID: "tok-a", Quantity: 10}},
	}}
	cache := pricing.NewCache()
	bid := 0.30
	cache.UpdateBidAsk("tok-a", &bid, nil, time.Now())

	histMid := 0.35
	history := &fakeHistoryStore{latest: map[string]domain.PricePoint{
		"tok-a": {TokenID: "tok-a", Midpoint: &histMid},
	}}

	v := NewValuer(positions, cache, history, nil)
	value, skipped, err := v.FundValue(context.Background(), domain.Fund{ID: fundID}, time.Now())
	require.NoError(t, err)
	assert.Equal(t, 0, skipped)
	assert.InDelta(t, 3.5, value, 1e-9)
}

type fakeMidpointFetcher struct {
	mids  map[string]float64
	calls int
}

func (f *fakeMidpointFetcher) GetMidpoint(_ context.Context, tokenID string) (float64, error) {
	f.calls++
	mid, ok := f.mids[tokenID]
	if !ok {
		return 0, assert.AnError
	}
	return mid, nil
}

func TestFundValueVenueMidpointIsLastResort(t *testing.T) {
	fundID := uuid.New()
	positions := &fakePositionStore{lots: map[uuid.UUID][]domain.PositionLot{
		fundID: {
			{FundID: fundID, TokenID: "tok-cached", Quantity: 10},
			{FundID: fundID, TokenID: "tok-cold", Quantity: 20},
		},
	}}
	cache := pricing.NewCache()
	bid, ask := 0.50, 0.50
	cache.UpdateBidAsk("tok-cached", &bid, &ask, time.Now())

	venue := &fakeMidpointFetcher{mids: map[string]float64{"tok-cold": 0.25}}

	v := NewValuer(positions, cache, &fakeHistoryStore{}, venue)
	value, skipped, err := v.FundValue(context.Background(), domain.Fund{ID: fundID, Balance: 100}, time.Now())
	require.NoError(t, err)
	assert.Equal(t, 0, skipped)
	// 100 cash + 10*0.50 (live) + 20*0.25 (venue fetch)
	assert.InDelta(t, 110.0, value, 1e-9)
	// Only the token the cache and history could not mark hits the venue.
	assert.Equal(t, 1, venue.calls)
}

func TestFundValueSkipsWhenVenueHasNoPrice(t *testing.T) {
	fundID := uuid.New()
	positions := &fakePositionStore{lots: map[uuid.UUID][]domain.PositionLot{
		fundID: {{FundID: fundID, TokenID: "tok-ghost", Quantity: 5}},
	}}

	v := NewValuer(positions, pricing.NewCache(), &fakeHistoryStore{}, &fakeMidpointFetcher{})
	value, skipped, err := v.FundValue(context.Background(), domain.Fund{ID: fundID, Balance: 42}, time.Now())
	require.NoError(t, err)
	assert.Equal(t, 1, skipped)
	assert.InDelta(t, 42.0, value, 1e-9)
}

func TestTakeAtWritesOneRowPerQualifyingTier(t *testing.T) {
	fundID := uuid.New()
	funds := &fakeFundStore{funds: []domain.Fund{{ID: fundID, Balance: 500}}}
	positions := &fakePositionStore{lots: map[uuid.UUID][]domain.PositionLot{
		fundID: {{FundID: fundID, TokenID: "tok-a", Quantity: 10}},
	}}
	cache := pricing.NewCache()
	bid, ask := 0.50, 0.50
	cache.UpdateBidAsk("tok-a", &bid, &ask, time.Now())
	snaps := &fakeSnapshotStore{}

	s := NewSnapshotter(funds, NewValuer(positions, cache, &fakeHistoryStore{}, nil), snaps, testLogger())

	// Minute 30 of the UTC day qualifies for the 1, 5 and 30 minute tiers.
	at := time.Date(2026, 3, 1, 0, 30, 0, 0, time.UTC)
	written, failed, err := s.TakeAt(context.Background(), at)
	require.NoError(t, err)
	assert.Equal(t, 0, failed)
	assert.Equal(t, 3, written)

	require.Len(t, snaps.inserted, 3)
	resolutions := make([]int, 0, 3)
	for _, snap := range snaps.inserted {
		resolutions = append(resolutions, snap.Resolution)
		assert.Equal(t, fundID, snap.FundID)
		assert.InDelta(t, 505.0, snap.Value, 1e-9)
		assert.Equal(t, at, snap.TakenAt)
	}
	assert.ElementsMatch(t, []int{1, 5, 30}, resolutions)
}

func TestTakeAtMidnightHitsEveryTier(t *testing.T) {
	at := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	assert.ElementsMatch(t, []int{1, 5, 30, 180, 720}, domain.TiersAt(at))
}

func TestTakeAtCountsFailedFundAndContinues(t *testing.T) {
	goodID, badID := uuid.New(), uuid.New()
	funds := &fakeFundStore{funds: []domain.Fund{{ID: badID}, {ID: goodID, Balance: 50}}}
	positions := &fakePositionStore{
		lots: map[uuid.UUID][]domain.PositionLot{goodID: nil},
		err:  map[uuid.UUID]error{badID: assert.AnError},
	}
	snaps := &fakeSnapshotStore{}

	s := NewSnapshotter(funds, NewValuer(positions, pricing.NewCache(), &fakeHistoryStore{}, nil), snaps, testLogger())

	at := time.Date(2026, 3, 1, 10, 1, 0, 0, time.UTC)
	written, failed, err := s.TakeAt(context.Background(), at)
	require.NoError(t, err)
	assert.Equal(t, 1, failed)
	assert.Equal(t, 1, written)
	require.Len(t, snaps.inserted, 1)
	assert.Equal(t, goodID, snaps.inserted[0].FundID)
}
