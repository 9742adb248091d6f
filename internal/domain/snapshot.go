package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// PortfolioSnapshot is one point in a fund's valuation time series: cash
// plus mark-to-market open positions, tagged with the resolution tier it
// belongs to.
type PortfolioSnapshot struct {
	ID         int64
	FundID     uuid.UUID
	Value      float64
	Resolution int // minutes
	TakenAt    time.Time
}

// ResolutionTier pairs a snapshot sampling resolution (minutes) with the
// retention window for rows at that resolution. MaxAge zero means the tier
// is kept forever.
type ResolutionTier struct {
	Minutes int
	MaxAge  time.Duration
}

// ResolutionTiers lists all snapshot tiers, finest first. A single wall
// clock minute can qualify for several tiers at once, producing one row per
// qualifying tier for the same logical moment.
var ResolutionTiers = []ResolutionTier{
	{Minutes: 1, MaxAge: time.Hour},
	{Minutes: 5, MaxAge: 24 * time.Hour},
	{Minutes: 30, MaxAge: 7 * 24 * time.Hour},
	{Minutes: 180, MaxAge: 30 * 24 * time.Hour},
	{Minutes: 720, MaxAge: 0},
}

// TiersAt returns the resolutions whose sampling grid contains t, based on
// the minute of the UTC day. Minute 30 qualifies for tiers 1, 5 and 30.
func TiersAt(t time.Time) []int {
	minuteOfDay := t.UTC().Hour()*60 + t.UTC().Minute()
	var out []int
	for _, tier := range ResolutionTiers {
		if minuteOfDay%tier.Minutes == 0 {
			out = append(out, tier.Minutes)
		}
	}
	return out
}

// Window is a named query time-window for portfolio history.
type Window string

const (
	Window1H  Window = "1H"
	Window1D  Window = "1D"
	Window1W  Window = "1W"
	Window1M  Window = "1M"
	WindowMax Window = "MAX"
)

// Spec maps a window to the resolution tier it reads from and the maximum
// age of rows it spans. MaxAge zero means unbounded.
func (w Window) Spec() (resolution int, maxAge time.Duration, err error) {
	switch w {
	case Window1H:
		return 1, time.Hour, nil
	case Window1D:
		return 5, 24 * time.Hour, nil
	case Window1W:
		return 30, 168 * time.Hour, nil
	case Window1M:
		return 180, 720 * time.Hour, nil
	case WindowMax:
		return 720, 0, nil
	default:
		return 0, 0, fmt.Errorf("unknown window %q", string(w))
	}
}
