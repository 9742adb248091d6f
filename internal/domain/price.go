package domain

import "time"

// Quote is the latest in-memory price state for one token. Fields are
// pointers because the feed delivers bid/ask and last-trade independently;
// a quote may know one without the other.
type Quote struct {
	TokenID   string
	BestBid   *float64
	BestAsk   *float64
	LastTrade *float64
	UpdatedAt time.Time
}

// Midpoint returns (bid+ask)/2, or nil when either side is unknown.
func (q Quote) Midpoint() *float64 {
	if q.BestBid == nil || q.BestAsk == nil {
		return nil
	}
	mid := (*q.BestBid + *q.BestAsk) / 2
	return &mid
}

// PricePoint is one durable price-history row: the quote state for a token
// at a point in time. Rows are append-only and pruned by age.
type PricePoint struct {
	TokenID   string
	BestBid   *float64
	BestAsk   *float64
	Midpoint  *float64
	LastTrade *float64
	At        time.Time
}
