package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/polypaper/polypaper/internal/domain"
	"github.com/polypaper/polypaper/internal/ledger"
)

// PriceFetcher returns the current book price for one side of a token.
// side is "BUY" (what a buyer pays) or "SELL" (what a seller receives).
type PriceFetcher interface {
	GetPrice(ctx context.Context, tokenID, side string) (float64, error)
}

// TradeService executes paper trades. It re-validates every order even
// when an upstream layer already did (callers are not trusted), fetches
// the execution price from the venue's REST API at order time rather than
// the streaming cache, and delegates the atomic balance/lot mutation to
// the ledger engine.
type TradeService struct {
	markets domain.MarketStore
	engine  *ledger.Engine
	prices  PriceFetcher
	limiter domain.RateLimiter
	bus     domain.SignalBus
	logger  *slog.Logger
}

// NewTradeService creates a TradeService. limiter and bus may be nil.
func NewTradeService(
	markets domain.MarketStore,
	engine *ledger.Engine,
	prices PriceFetcher,
	limiter domain.RateLimiter,
	bus domain.SignalBus,
	logger *slog.Logger,
) *TradeService {
	return &TradeService{
		markets: markets,
		engine:  engine,
		prices:  prices,
		limiter: limiter,
		bus:     bus,
		logger:  logger.With(slog.String("component", "trade_service")),
	}
}

// Buy executes a market buy of quantity shares of the given outcome token.
func (s *TradeService) Buy(ctx context.Context, fundID uuid.UUID, tokenID string, quantity int64) (domain.BuyResult, error) {
	price, err := s.prepareOrder(ctx, tokenID, quantity, "BUY")
	if err != nil {
		return domain.BuyResult{}, err
	}

	result, err := s.engine.Buy(ctx, fundID, tokenID, quantity, price)
	if err != nil {
		return domain.BuyResult{}, fmt.Errorf("trade_service: buy: %w", err)
	}

	s.logger.InfoContext(ctx, "buy executed",
		slog.String("fund_id", fundID.String()),
		slog.String("token_id", tokenID),
		slog.Int64("quantity", quantity),
		slog.Float64("price", price),
	)
	s.publishFill(ctx, "BUY", fundID, tokenID, quantity, price, 0)
	return result, nil
}

// Sell executes a market sell. The FIFO cost basis is computed inside the
// ledger transaction with the lots locked, so concurrent sells can never
// consume the same shares twice.
func (s *TradeService) Sell(ctx context.Context, fundID uuid.UUID, tokenID string, quantity int64) (domain.SellResult, error) {
	price, err := s.prepareOrder(ctx, tokenID, quantity, "SELL")
	if err != nil {
		return domain.SellResult{}, err
	}

	result, err := s.engine.Sell(ctx, fundID, tokenID, quantity, price)
	if err != nil {
		return domain.SellResult{}, fmt.Errorf("trade_service: sell: %w", err)
	}

	s.logger.InfoContext(ctx, "sell executed",
		slog.String("fund_id", fundID.String()),
		slog.String("token_id", tokenID),
		slog.Int64("quantity", quantity),
		slog.Float64("price", price),
		slog.Float64("realized_pnl", result.Order.RealizedPnL),
	)
	s.publishFill(ctx, "SELL", fundID, tokenID, quantity, price, result.Order.RealizedPnL)
	return result, nil
}

// CostBasis previews the FIFO cost of selling quantity shares, without
// executing anything.
func (s *TradeService) CostBasis(ctx context.Context, fundID uuid.UUID, tokenID string, quantity int64) (domain.CostBasis, error) {
	basis, err := s.engine.CostBasis(ctx, fundID, tokenID, quantity)
	if err != nil {
		return domain.CostBasis{}, fmt.Errorf("trade_service: cost basis: %w", err)
	}
	return basis, nil
}

// prepareOrder validates the order shape, checks the market still accepts
// orders, and fetches the execution price from the venue.
func (s *TradeService) prepareOrder(ctx context.Context, tokenID string, quantity int64, side string) (float64, error) {
	if quantity <= 0 {
		return 0, fmt.Errorf("%w: quantity must be positive", domain.ErrInvalidOrder)
	}
	if tokenID == "" {
		return 0, fmt.Errorf("%w: token id required", domain.ErrInvalidOrder)
	}

	market, err := s.markets.GetMarketByToken(ctx, tokenID)
	if err != nil {
		return 0, fmt.Errorf("trade_service: lookup market for token %s: %w", tokenID, err)
	}
	if market.Closed || !market.AcceptingOrders {
		return 0, fmt.Errorf("%w: market %s", domain.ErrMarketClosed, market.ID)
	}

	if s.limiter != nil {
		if err := s.limiter.Wait(ctx, "clob"); err != nil {
			return 0, fmt.Errorf("trade_service: rate limit: %w", err)
		}
	}

	price, err := s.prices.GetPrice(ctx, tokenID, side)
	if err != nil {
		return 0, fmt.Errorf("%w: token %s: %v", domain.ErrNoPrice, tokenID, err)
	}
	if price <= 0 || price > 1 {
		return 0, fmt.Errorf("%w: token %s price %v outside (0,1]", domain.ErrNoPrice, tokenID, price)
	}
	return price, nil
}

type fillEvent struct {
	Side        string  `json:"side"`
	FundID      string  `json:"fund_id"`
	TokenID     string  `json:"token_id"`
	Quantity    int64   `json:"quantity"`
	Price       float64 `json:"price"`
	RealizedPnL float64 `json:"realized_pnl,omitempty"`
	ExecutedAt  string  `json:"executed_at"`
}

// publishFill appends an execution to the durable fills stream for the
// notification worker. The stream (rather than pub/sub) means fills queued
// while the worker is down are still delivered after a restart. Appending
// is best-effort; a bus outage never fails a trade.
func (s *TradeService) publishFill(ctx context.Context, side string, fundID uuid.UUID, tokenID string, quantity int64, price, pnl float64) {
	if s.bus == nil {
		return
	}

	payload, err := json.Marshal(fillEvent{
		Side:        side,
		FundID:      fundID.String(),
		TokenID:     tokenID,
		Quantity:    quantity,
		Price:       price,
		RealizedPnL: pnl,
		ExecutedAt:  time.Now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		return
	}
	if err := s.bus.StreamAppend(ctx, "fills", payload); err != nil {
		s.logger.WarnContext(ctx, "append fill failed",
			slog.String("token_id", tokenID),
			slog.String("error", err.Error()),
		)
	}
}
