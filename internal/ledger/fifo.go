package ledger

import (
	"github.com/shopspring/decimal"

	"github.com/polypaper/polypaper/internal/domain"
)

// lotConsumption describes what Sell does to a single lot: take units from
// it and either delete it (fully consumed) or shrink it. For a partial
// consumption the per-unit average cost is unchanged and the stored total
// cost becomes avgCost * remaining.
type lotConsumption struct {
	Lot          domain.PositionLot
	Take         int64
	Remaining    int64
	NewTotalCost decimal.Decimal
	Delete       bool
}

// planConsumption walks lots oldest-first and allocates the requested
// quantity across them, returning the per-lot plan and the total cost basis
// consumed. Lots must already be sorted by creation time ascending.
//
// It returns domain.ErrPositionNotFound when there are no lots at all, and
// domain.ErrConsistency when the lots run out before the requested quantity
// is covered: callers verify sufficient quantity before selling, so
// exhaustion here means a concurrent mutation slipped past that check.
func planConsumption(lots []domain.PositionLot, quantity int64) ([]lotConsumption, decimal.Decimal, error) {
	if len(lots) == 0 {
		return nil, decimal.Zero, domain.ErrPositionNotFound
	}

	plan := make([]lotConsumption, 0, len(lots))
	cost := decimal.Zero
	remaining := quantity

	for _, lot := range lots {
		if remaining <= 0 {
			break
		}

		take := lot.Quantity
		if take > remaining {
			take = remaining
		}

		avg := decimal.NewFromFloat(lot.AvgCost)
		cost = cost.Add(avg.Mul(decimal.NewFromInt(take)))

		c := lotConsumption{
			Lot:       lot,
			Take:      take,
			Remaining: lot.Quantity - take,
		}
		if c.Remaining == 0 {
			c.Delete = true
		} else {
			c.NewTotalCost = avg.Mul(decimal.NewFromInt(c.Remaining))
		}
		plan = append(plan, c)
		remaining -= take
	}

	if remaining > 0 {
		return nil, decimal.Zero, domain.ErrConsistency
	}
	return plan, cost, nil
}

// debitForPurchase computes the cost of buying quantity units at price and
// the fund balance after paying it. It returns domain.ErrInsufficientFunds
// when the balance cannot cover the cost; the balance never goes negative.
func debitForPurchase(balance float64, quantity int64, price float64) (newBalance, totalCost decimal.Decimal, err error) {
	totalCost = decimal.NewFromFloat(price).Mul(decimal.NewFromInt(quantity))
	newBalance = decimal.NewFromFloat(balance).Sub(totalCost)
	if newBalance.IsNegative() {
		return decimal.Zero, decimal.Zero, domain.ErrInsufficientFunds
	}
	return newBalance, totalCost, nil
}

// checkSellable verifies the fund can dispose of quantity units out of the
// given lots and returns the total units held. No lots at all is
// domain.ErrPositionNotFound; holding fewer units than requested is
// domain.ErrInsufficientShares.
func checkSellable(lots []domain.PositionLot, quantity int64) (held int64, err error) {
	if len(lots) == 0 {
		return 0, domain.ErrPositionNotFound
	}
	for _, lot := range lots {
		held += lot.Quantity
	}
	if held < quantity {
		return held, domain.ErrInsufficientShares
	}
	return held, nil
}

// costBasis computes the FIFO cost of selling quantity units out of the
// given lots (sorted oldest first), plus the total quantity held across all
// lots. When fewer units are held than requested, Cost covers only what is
// held; the caller compares QuantityHeld against the request.
func costBasis(lots []domain.PositionLot, quantity int64) domain.CostBasis {
	var held int64
	cost := decimal.Zero
	remaining := quantity

	for _, lot := range lots {
		held += lot.Quantity

		if remaining <= 0 {
			continue
		}
		take := lot.Quantity
		if take > remaining {
			take = remaining
		}
		cost = cost.Add(decimal.NewFromFloat(lot.AvgCost).Mul(decimal.NewFromInt(take)))
		remaining -= take
	}

	f, _ := cost.Float64()
	return domain.CostBasis{QuantityHeld: held, Cost: f}
}
