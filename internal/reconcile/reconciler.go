// Package reconcile keeps the local market mirror consistent with the
// venue: closing events and markets the venue has closed, and marking
// winning outcomes once markets resolve.
package reconcile

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/polypaper/polypaper/internal/domain"
	"github.com/polypaper/polypaper/internal/platform/polymarket"
)

// VenueAPI is the slice of the Gamma client the reconciler needs.
type VenueAPI interface {
	GetEventsByIDs(ctx context.Context, ids []string) ([]polymarket.APIEvent, error)
	GetMarketsByConditionIDs(ctx context.Context, conditionIDs []string) ([]polymarket.APIMarket, error)
}

// Stats aggregates the outcome of one reconciliation pass.
type Stats struct {
	EventsClosed  int
	MarketsClosed int
	Resolved      int
	Failures      int
}

// Reconciler runs the two-phase reconciliation: first events, then
// markets. Both phases work in batches; a failed batch is counted and the
// pass moves on. Outbound venue calls are paced through the rate limiter.
type Reconciler struct {
	markets   domain.MarketStore
	venue     VenueAPI
	limiter   domain.RateLimiter
	bus       domain.SignalBus
	batchSize int
	interval  time.Duration
	logger    *slog.Logger
}

// NewReconciler creates a Reconciler. limiter and bus may be nil, in which
// case pacing and resolution publishing are skipped.
func NewReconciler(
	markets domain.MarketStore,
	venue VenueAPI,
	limiter domain.RateLimiter,
	bus domain.SignalBus,
	batchSize int,
	interval time.Duration,
	logger *slog.Logger,
) *Reconciler {
	if batchSize <= 0 {
		batchSize = 50
	}
	return &Reconciler{
		markets:   markets,
		venue:     venue,
		limiter:   limiter,
		bus:       bus,
		batchSize: batchSize,
		interval:  interval,
		logger:    logger.With(slog.String("component", "reconciler")),
	}
}

// Interval returns how often the supervisor should schedule passes.
func (r *Reconciler) Interval() time.Duration {
	return r.interval
}

// RunOnce performs one full reconciliation pass. An error is returned only
// when the local open-set cannot be listed; venue-side batch failures are
// counted in Stats.Failures and the pass continues.
func (r *Reconciler) RunOnce(ctx context.Context) (Stats, error) {
	var stats Stats

	if err := r.reconcileEvents(ctx, &stats); err != nil {
		return stats, err
	}
	if err := r.reconcileMarkets(ctx, &stats); err != nil {
		return stats, err
	}
	return stats, nil
}

func (r *Reconciler) reconcileEvents(ctx context.Context, stats *Stats) error {
	open, err := r.markets.ListOpenEvents(ctx)
	if err != nil {
		return err
	}

	for start := 0; start < len(open); start += r.batchSize {
		end := start + r.batchSize
		if end > len(open) {
			end = len(open)
		}
		batch := open[start:end]

		ids := make([]string, 0, len(batch))
		for _, e := range batch {
			ids = append(ids, e.ID)
		}

		if err := r.pace(ctx); err != nil {
			return err
		}
		apiEvents, err := r.venue.GetEventsByIDs(ctx, ids)
		if err != nil {
			stats.Failures++
			r.logger.WarnContext(ctx, "event batch lookup failed",
				slog.Int("batch_size", len(ids)),
				slog.String("error", err.Error()),
			)
			continue
		}

		for _, apiEvent := range apiEvents {
			if !apiEvent.Closed {
				continue
			}
			ev := apiEvent.ToDomainEvent()
			closedAt := time.Now().UTC()
			if ev.ClosedAt != nil {
				closedAt = *ev.ClosedAt
			}
			if err := r.markets.MarkEventClosed(ctx, ev.ID, closedAt); err != nil {
				stats.Failures++
				r.logger.WarnContext(ctx, "close event failed",
					slog.String("event_id", ev.ID),
					slog.String("error", err.Error()),
				)
				continue
			}
			stats.EventsClosed++
		}
	}
	return nil
}

func (r *Reconciler) reconcileMarkets(ctx context.Context, stats *Stats) error {
	open, err := r.markets.ListOpenMarkets(ctx)
	if err != nil {
		return err
	}

	byCondition := make(map[string]domain.Market, len(open))
	for _, m := range open {
		if m.ConditionID != "" {
			byCondition[m.ConditionID] = m
		}
	}

	conditionIDs := make([]string, 0, len(byCondition))
	for id := range byCondition {
		conditionIDs = append(conditionIDs, id)
	}

	for start := 0; start < len(conditionIDs); start += r.batchSize {
		end := start + r.batchSize
		if end > len(conditionIDs) {
			end = len(conditionIDs)
		}
		batch := conditionIDs[start:end]

		if err := r.pace(ctx); err != nil {
			return err
		}
		apiMarkets, err := r.venue.GetMarketsByConditionIDs(ctx, batch)
		if err != nil {
			stats.Failures++
			r.logger.WarnContext(ctx, "market batch lookup failed",
				slog.Int("batch_size", len(batch)),
				slog.String("error", err.Error()),
			)
			continue
		}

		for _, apiMarket := range apiMarkets {
			local, ok := byCondition[apiMarket.ConditionID]
			if !ok {
				continue
			}
			r.reconcileMarket(ctx, local, apiMarket, stats)
		}
	}
	return nil
}

// reconcileMarket applies one venue market's state to its local mirror:
// close if the venue closed it, then detect a winner. Only a closed market
// can resolve; an open market quoting an outcome at "1" is still trading.
// A winner exists only when an outcome price is the exact string "1";
// near-1 floats are never treated as resolution.
func (r *Reconciler) reconcileMarket(ctx context.Context, local domain.Market, api polymarket.APIMarket, stats *Stats) {
	if !api.Closed {
		return
	}

	dm, _ := api.ToDomainMarket(local.EventID)
	closedAt := time.Now().UTC()
	if dm.ClosedAt != nil {
		closedAt = *dm.ClosedAt
	}
	if err := r.markets.MarkMarketClosed(ctx, local.ID, closedAt); err != nil {
		stats.Failures++
		r.logger.WarnContext(ctx, "close market failed",
			slog.String("market_id", local.ID),
			slog.String("error", err.Error()),
		)
		return
	}
	stats.MarketsClosed++

	winnerToken, ok := winningToken(api)
	if !ok {
		return
	}

	if err := r.markets.SetWinningOutcome(ctx, local.ID, winnerToken); err != nil {
		stats.Failures++
		r.logger.WarnContext(ctx, "set winning outcome failed",
			slog.String("market_id", local.ID),
			slog.String("token_id", winnerToken),
			slog.String("error", err.Error()),
		)
		return
	}
	stats.Resolved++
	r.publishResolution(ctx, local, winnerToken, api)
}

// winningToken returns the clob token ID of the winning outcome when
// exactly one outcome price is the literal string "1".
func winningToken(api polymarket.APIMarket) (string, bool) {
	prices := api.Prices()
	tokens := api.TokenIDs()
	if len(prices) != len(tokens) || len(prices) == 0 {
		return "", false
	}

	winner := -1
	for i, p := range prices {
		if p == "1" {
			if winner >= 0 {
				return "", false
			}
			winner = i
		}
	}
	if winner < 0 {
		return "", false
	}
	return tokens[winner], true
}

type resolutionEvent struct {
	MarketID string `json:"market_id"`
	Question string `json:"question"`
	TokenID  string `json:"token_id"`
	Label    string `json:"label"`
}

func (r *Reconciler) publishResolution(ctx context.Context, local domain.Market, tokenID string, api polymarket.APIMarket) {
	if r.bus == nil {
		return
	}

	ev := resolutionEvent{
		MarketID: local.ID,
		Question: local.Question,
		TokenID:  tokenID,
	}
	tokens := api.TokenIDs()
	labels := api.OutcomeLabels()
	for i, tok := range tokens {
		if tok == tokenID && i < len(labels) {
			ev.Label = labels[i]
		}
	}

	payload, err := json.Marshal(ev)
	if err != nil {
		return
	}
	if err := r.bus.Publish(ctx, "resolutions", payload); err != nil {
		r.logger.WarnContext(ctx, "publish resolution failed",
			slog.String("market_id", local.ID),
			slog.String("error", err.Error()),
		)
	}
}

// pace blocks until the rate limiter admits the next venue call.
func (r *Reconciler) pace(ctx context.Context) error {
	if r.limiter == nil {
		return nil
	}
	return r.limiter.Wait(ctx, "gamma")
}
