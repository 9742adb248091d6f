package pipeline

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/polypaper/polypaper/internal/domain"
	"github.com/polypaper/polypaper/internal/platform/polymarket"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeMarketStore struct {
	events   []domain.Event
	markets  []domain.Market
	outcomes map[string][]domain.Outcome
}

func (f *fakeMarketStore) UpsertEvent(_ context.Context, e domain.Event) error {
	f.events = append(f.events, e)
	return nil
}

func (f *fakeMarketStore) UpsertMarket(_ context.Context, m domain.Market, outcomes []domain.Outcome) error {
	f.markets = append(f.markets, m)
	if f.outcomes == nil {
		f.outcomes = make(map[string][]domain.Outcome)
	}
	f.outcomes[m.ID] = outcomes
	return nil
}

func (f *fakeMarketStore) GetEvent(context.Context, string) (domain.Event, error) {
	return domain.Event{}, domain.ErrNotFound
}
func (f *fakeMarketStore) GetMarket(context.Context, string) (domain.Market, error) {
	return domain.Market{}, domain.ErrNotFound
}
func (f *fakeMarketStore) GetMarketByToken(context.Context, string) (domain.Market, error) {
	return domain.Market{}, domain.ErrNotFound
}
func (f *fakeMarketStore) ListEvents(context.Context, domain.ListOpts) ([]domain.Event, error) {
	return nil, nil
}
func (f *fakeMarketStore) ListOpenEvents(context.Context) ([]domain.Event, error)   { return nil, nil }
func (f *fakeMarketStore) ListOpenMarkets(context.Context) ([]domain.Market, error) { return nil, nil }
func (f *fakeMarketStore) ListOutcomes(context.Context, string) ([]domain.Outcome, error) {
	return nil, nil
}

func (f *fakeMarketStore) ListActiveTokenIDs(context.Context) ([]string, error) {
	var ids []string
	for _, m := range f.markets {
		for _, o := range f.outcomes[m.ID] {
			ids = append(ids, o.TokenID)
		}
	}
	return ids, nil
}

func (f *fakeMarketStore) MarkEventClosed(context.Context, string, time.Time) error  { return nil }
func (f *fakeMarketStore) MarkMarketClosed(context.Context, string, time.Time) error { return nil }
func (f *fakeMarketStore) SetWinningOutcome(context.Context, string, string) error   { return nil }

type fakeFetcher struct {
	pages [][]polymarket.APIEvent
	calls int
}

func (f *fakeFetcher) GetEvents(_ context.Context, limit, offset int) ([]polymarket.APIEvent, error) {
	f.calls++
	page := offset / limit
	if page >= len(f.pages) {
		return nil, nil
	}
	return f.pages[page], nil
}

func TestMarketSyncMirrorsBinaryMarketsOnly(t *testing.T) {
	store := &fakeMarketStore{}
	fetcher := &fakeFetcher{pages: [][]polymarket.APIEvent{{
		{
			ID:    "ev-1",
			Title: "Election",
			Markets: []polymarket.APIMarket{
				{
					ID:           "m-1",
					Outcomes:     `["Yes","No"]`,
					ClobTokenIDs: `["tok-y","tok-n"]`,
				},
				{
					// Three outcomes: not a binary market, skipped.
					ID:           "m-2",
					Outcomes:     `["A","B","C"]`,
					ClobTokenIDs: `["t1","t2","t3"]`,
				},
				{ID: ""},
			},
		},
	}}}

	sync := NewMarketSync(store, fetcher, nil, testLogger())
	tokenIDs, err := sync.Run(context.Background())
	require.NoError(t, err)

	require.Len(t, store.events, 1)
	assert.Equal(t, "ev-1", store.events[0].ID)
	require.Len(t, store.markets, 1)
	assert.Equal(t, "m-1", store.markets[0].ID)
	assert.Equal(t, "ev-1", store.markets[0].EventID)
	assert.ElementsMatch(t, []string{"tok-y", "tok-n"}, tokenIDs)
}

func TestMarketSyncPaginates(t *testing.T) {
	// A full first page forces a second fetch; the short second page stops.
	full := make([]polymarket.APIEvent, 100)
	for i := range full {
		full[i] = polymarket.APIEvent{ID: "ev"}
	}
	fetcher := &fakeFetcher{pages: [][]polymarket.APIEvent{full, {{ID: "ev-last"}}}}
	store := &fakeMarketStore{}

	sync := NewMarketSync(store, fetcher, nil, testLogger())
	_, err := sync.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 2, fetcher.calls)
	assert.Len(t, store.events, 101)
}

func TestSameInstruments(t *testing.T) {
	assert.True(t, sameInstruments([]string{"a", "b"}, []string{"b", "a"}))
	assert.False(t, sameInstruments([]string{"a"}, []string{"a", "b"}))
	assert.False(t, sameInstruments([]string{"a", "b"}, []string{"a", "c"}))
	assert.True(t, sameInstruments(nil, nil))
}
