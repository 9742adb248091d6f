package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/polypaper/polypaper/internal/domain"
)

const (
	// fillsStream is the durable stream trade executions are appended to.
	fillsStream = "fills"

	// fillPollInterval is how often the worker polls the fills stream.
	fillPollInterval = 2 * time.Second

	// fillPollBatch bounds how many fills one poll drains.
	fillPollBatch = 100
)

// Worker forwards trade executions and market resolutions to the notifier.
// Fills come from a durable stream so executions queued while the worker is
// down are delivered after a restart; resolutions are ephemeral pub/sub.
// Malformed payloads are logged and dropped; the worker never stops over
// one bad message.
type Worker struct {
	bus          domain.SignalBus
	notifier     *Notifier
	pollInterval time.Duration
	logger       *slog.Logger
}

// NewWorker creates a Worker reading from the given bus.
func NewWorker(bus domain.SignalBus, notifier *Notifier, logger *slog.Logger) *Worker {
	return &Worker{
		bus:          bus,
		notifier:     notifier,
		pollInterval: fillPollInterval,
		logger:       logger.With(slog.String("component", "notify_worker")),
	}
}

// Run polls the fills stream and subscribes to the resolutions channel,
// dispatching until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) error {
	resolutions, err := w.bus.Subscribe(ctx, "resolutions")
	if err != nil {
		return fmt.Errorf("notify: subscribe resolutions: %w", err)
	}

	w.logger.Info("notify worker started")
	defer w.logger.Info("notify worker stopped")

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return w.pollFills(ctx) })
	g.Go(func() error { return w.consume(ctx, resolutions, w.handleResolution) })
	return g.Wait()
}

// pollFills drains the fills stream on a fixed interval, starting from the
// beginning so a backlog accumulated during downtime is worked off first.
// Read errors are logged and retried on the next tick; the cursor only
// advances past messages that were dispatched.
func (w *Worker) pollFills(ctx context.Context) error {
	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	lastID := "0"
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			msgs, err := w.bus.StreamRead(ctx, fillsStream, lastID, fillPollBatch)
			if err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				w.logger.WarnContext(ctx, "fill stream read failed",
					slog.String("error", err.Error()),
				)
				continue
			}
			for _, msg := range msgs {
				w.handleFill(ctx, msg.Payload)
				lastID = msg.ID
			}
		}
	}
}

func (w *Worker) consume(ctx context.Context, ch <-chan []byte, handle func(context.Context, []byte)) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case data, ok := <-ch:
			if !ok {
				return nil
			}
			handle(ctx, data)
		}
	}
}

type fillPayload struct {
	Side        string  `json:"side"`
	FundID      string  `json:"fund_id"`
	TokenID     string  `json:"token_id"`
	Quantity    int64   `json:"quantity"`
	Price       float64 `json:"price"`
	RealizedPnL float64 `json:"realized_pnl"`
}

func (w *Worker) handleFill(ctx context.Context, data []byte) {
	var fill fillPayload
	if err := json.Unmarshal(data, &fill); err != nil {
		w.logger.Debug("dropping bad fill payload", slog.String("error", err.Error()))
		return
	}

	title := fmt.Sprintf("%s %d @ %.4f", fill.Side, fill.Quantity, fill.Price)
	message := fmt.Sprintf("fund %s, token %s", fill.FundID, fill.TokenID)
	if fill.Side == "SELL" {
		message = fmt.Sprintf("%s, realized P&L %+.2f", message, fill.RealizedPnL)
	}

	if err := w.notifier.Notify(ctx, "fill", title, message); err != nil {
		w.logger.WarnContext(ctx, "fill notification failed", slog.String("error", err.Error()))
	}
}

type resolutionPayload struct {
	MarketID string `json:"market_id"`
	Question string `json:"question"`
	TokenID  string `json:"token_id"`
	Label    string `json:"label"`
}

func (w *Worker) handleResolution(ctx context.Context, data []byte) {
	var res resolutionPayload
	if err := json.Unmarshal(data, &res); err != nil {
		w.logger.Debug("dropping bad resolution payload", slog.String("error", err.Error()))
		return
	}

	title := "Market resolved"
	message := fmt.Sprintf("%s: winner %s", res.Question, res.Label)
	if res.Label == "" {
		message = fmt.Sprintf("%s: winning token %s", res.Question, res.TokenID)
	}

	if err := w.notifier.Notify(ctx, "resolution", title, message); err != nil {
		w.logger.WarnContext(ctx, "resolution notification failed", slog.String("error", err.Error()))
	}
}
