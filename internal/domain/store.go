package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// ListOpts provides pagination and time filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// FundStore persists funds. Balance mutations happen only inside the
// ledger engine's transactions, never through this interface.
type FundStore interface {
	Create(ctx context.Context, fund Fund) error
	GetByID(ctx context.Context, id uuid.UUID) (Fund, error)
	ListByUser(ctx context.Context, userID uuid.UUID) ([]Fund, error)
	// SetPrimary atomically clears the primary flag on all of the user's
	// funds and sets it on the given one.
	SetPrimary(ctx context.Context, userID, fundID uuid.UUID) error
	// ListWithOpenPositions returns every fund holding at least one lot.
	ListWithOpenPositions(ctx context.Context) ([]Fund, error)
}

// PositionStore reads position lots. Lot mutation is owned by the ledger
// engine.
type PositionStore interface {
	ListByFund(ctx context.Context, fundID uuid.UUID) ([]PositionLot, error)
	// ListByFundToken returns lots for one token ordered oldest first
	// (FIFO order).
	ListByFundToken(ctx context.Context, fundID uuid.UUID, tokenID string) ([]PositionLot, error)
}

// LedgerStore reads the append-only trade history.
type LedgerStore interface {
	ListPurchases(ctx context.Context, fundID uuid.UUID, opts ListOpts) ([]PurchaseOrder, error)
	ListSales(ctx context.Context, fundID uuid.UUID, opts ListOpts) ([]SaleOrder, error)
}

// PriceHistoryStore persists the append-only price time series.
type PriceHistoryStore interface {
	InsertBatch(ctx context.Context, points []PricePoint) error
	// LatestBefore returns the most recent point for a token at or before t.
	LatestBefore(ctx context.Context, tokenID string, t time.Time) (PricePoint, error)
	ListBefore(ctx context.Context, before time.Time) ([]PricePoint, error)
	DeleteBefore(ctx context.Context, before time.Time) (int64, error)
}

// SnapshotStore persists portfolio valuation snapshots.
type SnapshotStore interface {
	InsertBatch(ctx context.Context, snaps []PortfolioSnapshot) error
	List(ctx context.Context, fundID uuid.UUID, resolution int, since time.Time) ([]PortfolioSnapshot, error)
	ListBefore(ctx context.Context, resolution int, before time.Time) ([]PortfolioSnapshot, error)
	DeleteBefore(ctx context.Context, resolution int, before time.Time) (int64, error)
}

// MarketStore persists the mirrored event/market/outcome taxonomy.
type MarketStore interface {
	UpsertEvent(ctx context.Context, event Event) error
	UpsertMarket(ctx context.Context, market Market, outcomes []Outcome) error
	GetEvent(ctx context.Context, id string) (Event, error)
	GetMarket(ctx context.Context, id string) (Market, error)
	GetMarketByToken(ctx context.Context, tokenID string) (Market, error)
	ListEvents(ctx context.Context, opts ListOpts) ([]Event, error)
	ListOpenEvents(ctx context.Context) ([]Event, error)
	ListOpenMarkets(ctx context.Context) ([]Market, error)
	ListOutcomes(ctx context.Context, marketID string) ([]Outcome, error)
	// ListActiveTokenIDs returns the clob token IDs of all non-closed
	// markets, the instrument set the price feed subscribes to.
	ListActiveTokenIDs(ctx context.Context) ([]string, error)
	MarkEventClosed(ctx context.Context, id string, closedAt time.Time) error
	// MarkMarketClosed closes the market and turns order acceptance off.
	MarkMarketClosed(ctx context.Context, id string, closedAt time.Time) error
	// SetWinningOutcome clears the winning flag on every outcome of the
	// market and sets it on the outcome with the given token ID, as one
	// atomic update.
	SetWinningOutcome(ctx context.Context, marketID, tokenID string) error
}
