package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/polypaper/polypaper/internal/domain"
	"github.com/polypaper/polypaper/internal/valuation"
)

// Portfolio is a fund's current state: cash, mark-to-market value, and the
// open lots behind it.
type Portfolio struct {
	Fund      domain.Fund
	Value     float64
	Unpriced  int
	Positions []domain.PositionLot
}

// PortfolioService answers portfolio queries: current valuation, history
// windows, and the trade ledger.
type PortfolioService struct {
	funds     domain.FundStore
	positions domain.PositionStore
	ledger    domain.LedgerStore
	snaps     domain.SnapshotStore
	valuer    *valuation.Valuer
	logger    *slog.Logger
}

// NewPortfolioService creates a PortfolioService.
func NewPortfolioService(
	funds domain.FundStore,
	positions domain.PositionStore,
	ledger domain.LedgerStore,
	snaps domain.SnapshotStore,
	valuer *valuation.Valuer,
	logger *slog.Logger,
) *PortfolioService {
	return &PortfolioService{
		funds:     funds,
		positions: positions,
		ledger:    ledger,
		snaps:     snaps,
		valuer:    valuer,
		logger:    logger.With(slog.String("component", "portfolio_service")),
	}
}

// Current values a fund right now: cash plus live marks on every open lot.
func (s *PortfolioService) Current(ctx context.Context, fundID uuid.UUID) (Portfolio, error) {
	fund, err := s.funds.GetByID(ctx, fundID)
	if err != nil {
		return Portfolio{}, fmt.Errorf("portfolio_service: get fund %s: %w", fundID, err)
	}

	value, skipped, err := s.valuer.FundValue(ctx, fund, time.Now().UTC())
	if err != nil {
		return Portfolio{}, fmt.Errorf("portfolio_service: value fund %s: %w", fundID, err)
	}

	lots, err := s.positions.ListByFund(ctx, fundID)
	if err != nil {
		return Portfolio{}, fmt.Errorf("portfolio_service: list lots for fund %s: %w", fundID, err)
	}

	return Portfolio{
		Fund:      fund,
		Value:     value,
		Unpriced:  skipped,
		Positions: lots,
	}, nil
}

// History returns the fund's valuation series for a named window, read
// from the resolution tier that window maps to.
func (s *PortfolioService) History(ctx context.Context, fundID uuid.UUID, window domain.Window) ([]domain.PortfolioSnapshot, error) {
	resolution, maxAge, err := window.Spec()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrInvalidOrder, err)
	}

	since := time.Time{}
	if maxAge > 0 {
		since = time.Now().UTC().Add(-maxAge)
	}

	snaps, err := s.snaps.List(ctx, fundID, resolution, since)
	if err != nil {
		return nil, fmt.Errorf("portfolio_service: history for fund %s window %s: %w", fundID, window, err)
	}
	return snaps, nil
}

// Purchases returns the fund's buy ledger, newest first.
func (s *PortfolioService) Purchases(ctx context.Context, fundID uuid.UUID, opts domain.ListOpts) ([]domain.PurchaseOrder, error) {
	orders, err := s.ledger.ListPurchases(ctx, fundID, opts)
	if err != nil {
		return nil, fmt.Errorf("portfolio_service: purchases for fund %s: %w", fundID, err)
	}
	return orders, nil
}

// Sales returns the fund's sell ledger, newest first.
func (s *PortfolioService) Sales(ctx context.Context, fundID uuid.UUID, opts domain.ListOpts) ([]domain.SaleOrder, error) {
	orders, err := s.ledger.ListSales(ctx, fundID, opts)
	if err != nil {
		return nil, fmt.Errorf("portfolio_service: sales for fund %s: %w", fundID, err)
	}
	return orders, nil
}
