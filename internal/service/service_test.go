package service

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/polypaper/polypaper/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeMarketStore struct {
	markets   map[string]domain.Market // by token id
	byID      map[string]domain.Market
	events    map[string]domain.Event
	getDelay  time.Duration
	getEvents atomic.Int64
}

func (f *fakeMarketStore) UpsertEvent(context.Context, domain.Event) error { return nil }
func (f *fakeMarketStore) UpsertMarket(context.Context, domain.Market, []domain.Outcome) error {
	return nil
}

func (f *fakeMarketStore) GetEvent(_ context.Context, id string) (domain.Event, error) {
	f.getEvents.Add(1)
	if f.getDelay > 0 {
		time.Sleep(f.getDelay)
	}
	e, ok := f.events[id]
	if !ok {
		return domain.Event{}, domain.ErrNotFound
	}
	return e, nil
}

func (f *fakeMarketStore) GetMarket(_ context.Context, id string) (domain.Market, error) {
	m, ok := f.byID[id]
	if !ok {
		return domain.Market{}, domain.ErrNotFound
	}
	return m, nil
}

func (f *fakeMarketStore) GetMarketByToken(_ context.Context, tokenID string) (domain.Market, error) {
	m, ok := f.markets[tokenID]
	if !ok {
		return domain.Market{}, domain.ErrNotFound
	}
	return m, nil
}

func (f *fakeMarketStore) ListEvents(context.Context, domain.ListOpts) ([]domain.Event, error) {
	return nil, nil
}
func (f *fakeMarketStore) ListOpenEvents(context.Context) ([]domain.Event, error)   { return nil, nil }
func (f *fakeMarketStore) ListOpenMarkets(context.Context) ([]domain.Market, error) { return nil, nil }
func (f *fakeMarketStore) ListOutcomes(context.Context, string) ([]domain.Outcome, error) {
	return nil, nil
}
func (f *fakeMarketStore) ListActiveTokenIDs(context.Context) ([]string, error)      { return nil, nil }
func (f *fakeMarketStore) MarkEventClosed(context.Context, string, time.Time) error  { return nil }
func (f *fakeMarketStore) MarkMarketClosed(context.Context, string, time.Time) error { return nil }
func (f *fakeMarketStore) SetWinningOutcome(context.Context, string, string) error   { return nil }

type fakePrices struct {
	price float64
	err   error
}

func (f *fakePrices) GetPrice(context.Context, string, string) (float64, error) {
	return f.price, f.err
}

type memEventsCache struct {
	mu      sync.Mutex
	events  map[string]domain.Event
	markets map[string]domain.Market
}

func newMemEventsCache() *memEventsCache {
	return &memEventsCache{
		events:  make(map[string]domain.Event),
		markets: make(map[string]domain.Market),
	}
}

func (c *memEventsCache) GetEvent(_ context.Context, id string) (domain.Event, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.events[id]
	if !ok {
		return domain.Event{}, domain.ErrNotFound
	}
	return e, nil
}

func (c *memEventsCache) SetEvent(_ context.Context, e domain.Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events[e.ID] = e
	return nil
}

func (c *memEventsCache) GetMarket(_ context.Context, id string) (domain.Market, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	m, ok := c.markets[id]
	if !ok {
		return domain.Market{}, domain.ErrNotFound
	}
	return m, nil
}

func (c *memEventsCache) SetMarket(_ context.Context, m domain.Market) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.markets[m.ID] = m
	return nil
}

func (c *memEventsCache) Invalidate(_ context.Context, id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.events, id)
	delete(c.markets, id)
	return nil
}

// --------------------------------------------------------------------------
// TradeService
// --------------------------------------------------------------------------

func openMarketStore(tokenID string) *fakeMarketStore {
	return &fakeMarketStore{markets: map[string]domain.Market{
		tokenID: {ID: "m-1", AcceptingOrders: true},
	}}
}

func TestPrepareOrderRejectsBadQuantity(t *testing.T) {
	s := NewTradeService(openMarketStore("tok"), nil, &fakePrices{price: 0.5}, nil, nil, testLogger())

	_, err := s.prepareOrder(context.Background(), "tok", 0, "BUY")
	assert.ErrorIs(t, err, domain.ErrInvalidOrder)

	_, err = s.prepareOrder(context.Background(), "tok", -5, "BUY")
	assert.ErrorIs(t, err, domain.ErrInvalidOrder)

	_, err = s.prepareOrder(context.Background(), "", 1, "BUY")
	assert.ErrorIs(t, err, domain.ErrInvalidOrder)
}

func TestPrepareOrderRejectsClosedMarket(t *testing.T) {
	store := &fakeMarketStore{markets: map[string]domain.Market{
		"tok": {ID: "m-1", Closed: true},
	}}
	s := NewTradeService(store, nil, &fakePrices{price: 0.5}, nil, nil, testLogger())

	_, err := s.prepareOrder(context.Background(), "tok", 1, "BUY")
	assert.ErrorIs(t, err, domain.ErrMarketClosed)
}

func TestPrepareOrderRejectsNotAcceptingOrders(t *testing.T) {
	store := &fakeMarketStore{markets: map[string]domain.Market{
		"tok": {ID: "m-1", AcceptingOrders: false},
	}}
	s := NewTradeService(store, nil, &fakePrices{price: 0.5}, nil, nil, testLogger())

	_, err := s.prepareOrder(context.Background(), "tok", 1, "BUY")
	assert.ErrorIs(t, err, domain.ErrMarketClosed)
}

func TestPrepareOrderMapsPriceFailures(t *testing.T) {
	s := NewTradeService(openMarketStore("tok"), nil, &fakePrices{err: errors.New("boom")}, nil, nil, testLogger())
	_, err := s.prepareOrder(context.Background(), "tok", 1, "BUY")
	assert.ErrorIs(t, err, domain.ErrNoPrice)

	s = NewTradeService(openMarketStore("tok"), nil, &fakePrices{price: 0}, nil, nil, testLogger())
	_, err = s.prepareOrder(context.Background(), "tok", 1, "SELL")
	assert.ErrorIs(t, err, domain.ErrNoPrice)

	s = NewTradeService(openMarketStore("tok"), nil, &fakePrices{price: 1.2}, nil, nil, testLogger())
	_, err = s.prepareOrder(context.Background(), "tok", 1, "SELL")
	assert.ErrorIs(t, err, domain.ErrNoPrice)
}

func TestPrepareOrderReturnsVenuePrice(t *testing.T) {
	s := NewTradeService(openMarketStore("tok"), nil, &fakePrices{price: 0.37}, nil, nil, testLogger())

	price, err := s.prepareOrder(context.Background(), "tok", 10, "BUY")
	require.NoError(t, err)
	assert.Equal(t, 0.37, price)
}

func TestPrepareOrderErrorsAreUserErrors(t *testing.T) {
	s := NewTradeService(openMarketStore("tok"), nil, &fakePrices{price: 0.5}, nil, nil, testLogger())

	_, err := s.prepareOrder(context.Background(), "tok", 0, "BUY")
	assert.True(t, domain.UserError(err), "invalid order must classify as user-correctable")
}

// --------------------------------------------------------------------------
// MarketService
// --------------------------------------------------------------------------

func TestMarketServiceReadThrough(t *testing.T) {
	store := &fakeMarketStore{events: map[string]domain.Event{
		"ev-1": {ID: "ev-1", Title: "Election"},
	}}
	cache := newMemEventsCache()
	s := NewMarketService(store, cache, testLogger())

	e, err := s.GetEvent(context.Background(), "ev-1")
	require.NoError(t, err)
	assert.Equal(t, "Election", e.Title)

	// Second read is served from the cache.
	_, err = s.GetEvent(context.Background(), "ev-1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), store.getEvents.Load())
}

func TestMarketServiceCollapsesConcurrentMisses(t *testing.T) {
	store := &fakeMarketStore{
		events:   map[string]domain.Event{"ev-1": {ID: "ev-1"}},
		getDelay: 20 * time.Millisecond,
	}
	s := NewMarketService(store, newMemEventsCache(), testLogger())

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.GetEvent(context.Background(), "ev-1")
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.LessOrEqual(t, store.getEvents.Load(), int64(2),
		"concurrent misses should collapse onto a shared refresh")
}

func TestMarketServiceMissPropagatesNotFound(t *testing.T) {
	s := NewMarketService(&fakeMarketStore{}, newMemEventsCache(), testLogger())

	_, err := s.GetMarket(context.Background(), "nope")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

// --------------------------------------------------------------------------
// FundService
// --------------------------------------------------------------------------

type recordingFundStore struct {
	created []domain.Fund
	primary [][2]uuid.UUID
}

func (f *recordingFundStore) Create(_ context.Context, fund domain.Fund) error {
	f.created = append(f.created, fund)
	return nil
}

func (f *recordingFundStore) GetByID(context.Context, uuid.UUID) (domain.Fund, error) {
	return domain.Fund{}, domain.ErrNotFound
}
func (f *recordingFundStore) ListByUser(context.Context, uuid.UUID) ([]domain.Fund, error) {
	return nil, nil
}

func (f *recordingFundStore) SetPrimary(_ context.Context, userID, fundID uuid.UUID) error {
	f.primary = append(f.primary, [2]uuid.UUID{userID, fundID})
	return nil
}

func (f *recordingFundStore) ListWithOpenPositions(context.Context) ([]domain.Fund, error) {
	return nil, nil
}

func TestFundServiceCreateSeedsBalance(t *testing.T) {
	store := &recordingFundStore{}
	s := NewFundService(store, testLogger())

	userID := uuid.New()
	fund, err := s.Create(context.Background(), userID, "  Main  ", 10_000, true)
	require.NoError(t, err)

	assert.Equal(t, "Main", fund.Name)
	assert.Equal(t, 10_000.0, fund.StartingBalance)
	assert.Equal(t, 10_000.0, fund.Balance)
	assert.True(t, fund.Primary)
	assert.NotEqual(t, uuid.Nil, fund.ID)
	require.Len(t, store.created, 1)
}

func TestFundServiceCreateValidates(t *testing.T) {
	s := NewFundService(&recordingFundStore{}, testLogger())

	_, err := s.Create(context.Background(), uuid.New(), "   ", 100, false)
	assert.ErrorIs(t, err, domain.ErrInvalidOrder)

	_, err = s.Create(context.Background(), uuid.New(), "Main", 0, false)
	assert.ErrorIs(t, err, domain.ErrInvalidOrder)

	_, err = s.Create(context.Background(), uuid.New(), "Main", -5, false)
	assert.ErrorIs(t, err, domain.ErrInvalidOrder)
}
