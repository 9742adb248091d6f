// Package service holds the application services that callers (transport
// layers, jobs) talk to.
package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/polypaper/polypaper/internal/domain"
)

// FundService manages virtual funds: creation with seeded cash, the
// primary-fund toggle, and lookups.
type FundService struct {
	funds  domain.FundStore
	logger *slog.Logger
}

// NewFundService creates a FundService.
func NewFundService(funds domain.FundStore, logger *slog.Logger) *FundService {
	return &FundService{
		funds:  funds,
		logger: logger.With(slog.String("component", "fund_service")),
	}
}

// Create provisions a new fund seeded with the starting balance. The first
// fund of a user (markPrimary true) becomes their primary fund; user
// registration calls this with markPrimary set.
func (s *FundService) Create(ctx context.Context, userID uuid.UUID, name string, startingBalance float64, markPrimary bool) (domain.Fund, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return domain.Fund{}, fmt.Errorf("%w: fund name required", domain.ErrInvalidOrder)
	}
	if startingBalance <= 0 {
		return domain.Fund{}, fmt.Errorf("%w: starting balance must be positive", domain.ErrInvalidOrder)
	}

	fund := domain.Fund{
		ID:              uuid.New(),
		UserID:          userID,
		Name:            name,
		StartingBalance: startingBalance,
		Balance:         startingBalance,
		Primary:         markPrimary,
		CreatedAt:       time.Now().UTC(),
		UpdatedAt:       time.Now().UTC(),
	}

	if err := s.funds.Create(ctx, fund); err != nil {
		return domain.Fund{}, fmt.Errorf("fund_service: create: %w", err)
	}

	s.logger.InfoContext(ctx, "fund created",
		slog.String("fund_id", fund.ID.String()),
		slog.String("user_id", userID.String()),
		slog.Float64("starting_balance", startingBalance),
	)
	return fund, nil
}

// Get returns a single fund.
func (s *FundService) Get(ctx context.Context, id uuid.UUID) (domain.Fund, error) {
	fund, err := s.funds.GetByID(ctx, id)
	if err != nil {
		return domain.Fund{}, fmt.Errorf("fund_service: get %s: %w", id, err)
	}
	return fund, nil
}

// List returns all funds of a user, primary first.
func (s *FundService) List(ctx context.Context, userID uuid.UUID) ([]domain.Fund, error) {
	funds, err := s.funds.ListByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("fund_service: list for user %s: %w", userID, err)
	}
	return funds, nil
}

// SetPrimary makes the given fund the user's primary one. The store clears
// and sets the flag in one transaction so two funds are never primary at
// once.
func (s *FundService) SetPrimary(ctx context.Context, userID, fundID uuid.UUID) error {
	if err := s.funds.SetPrimary(ctx, userID, fundID); err != nil {
		return fmt.Errorf("fund_service: set primary %s: %w", fundID, err)
	}
	return nil
}
