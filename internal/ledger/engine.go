// Package ledger implements the order execution engine: buys and sells
// applied to a fund as all-or-nothing balance and position mutations, with
// FIFO cost-basis accounting and realized P&L.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/polypaper/polypaper/internal/domain"
)

// Engine executes buy and sell instructions inside single database
// transactions. The fund row is locked FOR UPDATE for the duration of each
// execution, so concurrent orders against the same fund serialize at the
// storage layer; the FIFO cost-basis read for a sell happens inside the
// same transaction as the lot mutations.
type Engine struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// NewEngine creates an Engine backed by the given connection pool.
func NewEngine(pool *pgxpool.Pool, logger *slog.Logger) *Engine {
	return &Engine{
		pool:   pool,
		logger: logger.With(slog.String("component", "ledger_engine")),
	}
}

const lotSelectForUpdate = `
	SELECT id, fund_id, token_id, quantity, avg_cost, total_cost, created_at
	FROM position_lots
	WHERE fund_id = $1 AND token_id = $2
	ORDER BY created_at ASC
	FOR UPDATE`

// Buy purchases quantity units of tokenID at price for the given fund:
// debit cash, append a purchase order, create a new lot. A new lot is
// always created even when lots for the token already exist. All monetary
// arithmetic is decimal; any failure rolls the whole transaction back.
func (e *Engine) Buy(ctx context.Context, fundID uuid.UUID, tokenID string, quantity int64, price float64) (domain.BuyResult, error) {
	if quantity <= 0 || price <= 0 {
		return domain.BuyResult{}, domain.ErrInvalidOrder
	}

	tx, err := e.pool.Begin(ctx)
	if err != nil {
		return domain.BuyResult{}, fmt.Errorf("ledger: begin buy tx: %w", err)
	}
	defer tx.Rollback(ctx)

	balance, err := e.lockFundBalance(ctx, tx, fundID)
	if err != nil {
		return domain.BuyResult{}, err
	}

	newBalance, totalCost, err := debitForPurchase(balance, quantity, price)
	if err != nil {
		return domain.BuyResult{}, err
	}

	now := time.Now().UTC()
	newBalanceF, _ := newBalance.Float64()
	totalCostF, _ := totalCost.Float64()

	if err := e.setFundBalance(ctx, tx, fundID, newBalanceF); err != nil {
		return domain.BuyResult{}, err
	}

	order := domain.PurchaseOrder{
		ID:        uuid.New(),
		FundID:    fundID,
		TokenID:   tokenID,
		Quantity:  quantity,
		Price:     price,
		TotalCost: totalCostF,
		CreatedAt: now,
	}
	if _, err := tx.Exec(ctx, `
		INSERT INTO purchase_orders (id, fund_id, token_id, quantity, price, total_cost, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		order.ID, order.FundID, order.TokenID, order.Quantity, order.Price, order.TotalCost, order.CreatedAt,
	); err != nil {
		return domain.BuyResult{}, fmt.Errorf("ledger: insert purchase order: %w", err)
	}

	lot := domain.PositionLot{
		ID:        uuid.New(),
		FundID:    fundID,
		TokenID:   tokenID,
		Quantity:  quantity,
		AvgCost:   price,
		TotalCost: totalCostF,
		CreatedAt: now,
	}
	if _, err := tx.Exec(ctx, `
		INSERT INTO position_lots (id, fund_id, token_id, quantity, avg_cost, total_cost, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		lot.ID, lot.FundID, lot.TokenID, lot.Quantity, lot.AvgCost, lot.TotalCost, lot.CreatedAt,
	); err != nil {
		return domain.BuyResult{}, fmt.Errorf("ledger: insert position lot: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return domain.BuyResult{}, fmt.Errorf("ledger: commit buy: %w", err)
	}

	e.logger.InfoContext(ctx, "buy executed",
		slog.String("fund_id", fundID.String()),
		slog.String("token_id", tokenID),
		slog.Int64("quantity", quantity),
		slog.Float64("price", price),
		slog.Float64("new_balance", newBalanceF),
	)

	return domain.BuyResult{Order: order, Lot: lot, NewBalance: newBalanceF}, nil
}

// Sell disposes of quantity units of tokenID at price for the given fund:
// credit the proceeds, append a sale order with realized P&L, and consume
// lots oldest-first. The cost basis is recomputed inside the transaction
// while the lots are locked, so two concurrent sells can never both consume
// the same units.
func (e *Engine) Sell(ctx context.Context, fundID uuid.UUID, tokenID string, quantity int64, price float64) (domain.SellResult, error) {
	if quantity <= 0 || price <= 0 {
		return domain.SellResult{}, domain.ErrInvalidOrder
	}

	tx, err := e.pool.Begin(ctx)
	if err != nil {
		return domain.SellResult{}, fmt.Errorf("ledger: begin sell tx: %w", err)
	}
	defer tx.Rollback(ctx)

	balance, err := e.lockFundBalance(ctx, tx, fundID)
	if err != nil {
		return domain.SellResult{}, err
	}

	lots, err := e.lockLots(ctx, tx, fundID, tokenID)
	if err != nil {
		return domain.SellResult{}, err
	}

	held, err := checkSellable(lots, quantity)
	if err != nil {
		return domain.SellResult{}, err
	}

	plan, cost, err := planConsumption(lots, quantity)
	if err != nil {
		// Exhaustion despite the check above means the lot rows changed
		// underneath us, which FOR UPDATE is supposed to rule out.
		e.logger.ErrorContext(ctx, "sell consumption failed",
			slog.String("fund_id", fundID.String()),
			slog.String("token_id", tokenID),
			slog.String("error", err.Error()),
		)
		return domain.SellResult{}, err
	}

	unit := decimal.NewFromFloat(price)
	proceeds := unit.Mul(decimal.NewFromInt(quantity))
	realized := proceeds.Sub(cost)
	newBalance := decimal.NewFromFloat(balance).Add(proceeds)

	now := time.Now().UTC()
	proceedsF, _ := proceeds.Float64()
	costF, _ := cost.Float64()
	realizedF, _ := realized.Float64()
	newBalanceF, _ := newBalance.Float64()

	if err := e.setFundBalance(ctx, tx, fundID, newBalanceF); err != nil {
		return domain.SellResult{}, err
	}

	order := domain.SaleOrder{
		ID:          uuid.New(),
		FundID:      fundID,
		TokenID:     tokenID,
		Quantity:    quantity,
		Price:       price,
		Proceeds:    proceedsF,
		CostBasis:   costF,
		RealizedPnL: realizedF,
		CreatedAt:   now,
	}
	if _, err := tx.Exec(ctx, `
		INSERT INTO sale_orders (id, fund_id, token_id, quantity, price, proceeds, cost_basis, realized_pnl, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		order.ID, order.FundID, order.TokenID, order.Quantity, order.Price,
		order.Proceeds, order.CostBasis, order.RealizedPnL, order.CreatedAt,
	); err != nil {
		return domain.SellResult{}, fmt.Errorf("ledger: insert sale order: %w", err)
	}

	positionClosed := held == quantity
	for _, c := range plan {
		if c.Delete {
			if _, err := tx.Exec(ctx,
				`DELETE FROM position_lots WHERE id = $1`, c.Lot.ID,
			); err != nil {
				return domain.SellResult{}, fmt.Errorf("ledger: delete lot %s: %w", c.Lot.ID, err)
			}
			continue
		}

		newTotal, _ := c.NewTotalCost.Float64()
		if _, err := tx.Exec(ctx,
			`UPDATE position_lots SET quantity = $2, total_cost = $3 WHERE id = $1`,
			c.Lot.ID, c.Remaining, newTotal,
		); err != nil {
			return domain.SellResult{}, fmt.Errorf("ledger: shrink lot %s: %w", c.Lot.ID, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return domain.SellResult{}, fmt.Errorf("ledger: commit sell: %w", err)
	}

	e.logger.InfoContext(ctx, "sell executed",
		slog.String("fund_id", fundID.String()),
		slog.String("token_id", tokenID),
		slog.Int64("quantity", quantity),
		slog.Float64("price", price),
		slog.Float64("realized_pnl", realizedF),
		slog.Float64("new_balance", newBalanceF),
	)

	return domain.SellResult{Order: order, NewBalance: newBalanceF, PositionClosed: positionClosed}, nil
}

// CostBasis computes the FIFO cost of selling quantity units plus the total
// quantity held, outside any transaction. The validation layer uses this
// for the sufficient-shares pre-check; Sell repeats the computation under
// lock before mutating anything.
func (e *Engine) CostBasis(ctx context.Context, fundID uuid.UUID, tokenID string, quantity int64) (domain.CostBasis, error) {
	rows, err := e.pool.Query(ctx, `
		SELECT id, fund_id, token_id, quantity, avg_cost, total_cost, created_at
		FROM position_lots
		WHERE fund_id = $1 AND token_id = $2
		ORDER BY created_at ASC`,
		fundID, tokenID,
	)
	if err != nil {
		return domain.CostBasis{}, fmt.Errorf("ledger: query lots: %w", err)
	}
	defer rows.Close()

	lots, err := scanLots(rows)
	if err != nil {
		return domain.CostBasis{}, fmt.Errorf("ledger: scan lots: %w", err)
	}
	return costBasis(lots, quantity), nil
}

func (e *Engine) lockFundBalance(ctx context.Context, tx pgx.Tx, fundID uuid.UUID) (float64, error) {
	var balance float64
	err := tx.QueryRow(ctx,
		`SELECT balance FROM funds WHERE id = $1 FOR UPDATE`, fundID,
	).Scan(&balance)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, domain.ErrNotFound
		}
		return 0, fmt.Errorf("ledger: lock fund %s: %w", fundID, err)
	}
	return balance, nil
}

func (e *Engine) setFundBalance(ctx context.Context, tx pgx.Tx, fundID uuid.UUID, balance float64) error {
	if _, err := tx.Exec(ctx,
		`UPDATE funds SET balance = $2, updated_at = NOW() WHERE id = $1`,
		fundID, balance,
	); err != nil {
		return fmt.Errorf("ledger: update fund balance: %w", err)
	}
	return nil
}

func (e *Engine) lockLots(ctx context.Context, tx pgx.Tx, fundID uuid.UUID, tokenID string) ([]domain.PositionLot, error) {
	rows, err := tx.Query(ctx, lotSelectForUpdate, fundID, tokenID)
	if err != nil {
		return nil, fmt.Errorf("ledger: lock lots: %w", err)
	}
	defer rows.Close()

	lots, err := scanLots(rows)
	if err != nil {
		return nil, fmt.Errorf("ledger: scan locked lots: %w", err)
	}
	return lots, nil
}

func scanLots(rows pgx.Rows) ([]domain.PositionLot, error) {
	var lots []domain.PositionLot
	for rows.Next() {
		var lot domain.PositionLot
		if err := rows.Scan(
			&lot.ID, &lot.FundID, &lot.TokenID,
			&lot.Quantity, &lot.AvgCost, &lot.TotalCost, &lot.CreatedAt,
		); err != nil {
			return nil, err
		}
		lots = append(lots, lot)
	}
	return lots, rows.Err()
}
