package domain

import (
	"time"

	"github.com/google/uuid"
)

// Fund is a user-owned virtual portfolio: fake cash plus position lots.
// The balance is mutated only by the ledger engine; exactly one fund per
// user may be primary at a time.
type Fund struct {
	ID              uuid.UUID
	UserID          uuid.UUID
	Name            string
	StartingBalance float64
	Balance         float64
	Primary         bool
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// PositionLot is one discrete purchase of an outcome token held by a fund.
// Lots for the same (fund, token) pair are never merged; they are consumed
// oldest-first at sell time. Quantity is always > 0 while the row exists.
type PositionLot struct {
	ID        uuid.UUID
	FundID    uuid.UUID
	TokenID   string
	Quantity  int64
	AvgCost   float64
	TotalCost float64
	CreatedAt time.Time
}

// PurchaseOrder is the immutable record of an executed buy.
type PurchaseOrder struct {
	ID        uuid.UUID
	FundID    uuid.UUID
	TokenID   string
	Quantity  int64
	Price     float64
	TotalCost float64
	CreatedAt time.Time
}

// SaleOrder is the immutable record of an executed sell, including the
// FIFO cost basis consumed and the realized profit or loss.
type SaleOrder struct {
	ID          uuid.UUID
	FundID      uuid.UUID
	TokenID     string
	Quantity    int64
	Price       float64
	Proceeds    float64
	CostBasis   float64
	RealizedPnL float64
	CreatedAt   time.Time
}

// BuyResult is returned by the ledger engine after a successful buy.
type BuyResult struct {
	Order      PurchaseOrder
	Lot        PositionLot
	NewBalance float64
}

// SellResult is returned by the ledger engine after a successful sell.
// PositionClosed is true when the sale consumed the fund's entire holding
// of the token.
type SellResult struct {
	Order          SaleOrder
	NewBalance     float64
	PositionClosed bool
}

// CostBasis is the result of the FIFO cost-basis query: the total quantity
// held across all lots and the cost of the oldest requested quantity.
type CostBasis struct {
	QuantityHeld int64
	Cost         float64
}
