package domain

import "time"

// Event is a locally mirrored venue event. Events group related markets;
// only binary markets are mirrored underneath them.
type Event struct {
	ID          string
	Slug        string
	Title       string
	Description string
	Active      bool
	Closed      bool
	ClosedAt    *time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Market is a locally mirrored binary prediction market.
type Market struct {
	ID              string
	EventID         string
	Question        string
	Slug            string
	ConditionID     string
	Active          bool
	Closed          bool
	AcceptingOrders bool
	ClosedAt        *time.Time
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Outcome is one side of a binary market, identified by its clob token ID.
// Winning is set by reconciliation once the venue resolves the market; at
// most one outcome per market is ever winning.
type Outcome struct {
	ID       int64
	MarketID string
	TokenID  string
	Label    string
	Index    int
	Winning  bool
}
