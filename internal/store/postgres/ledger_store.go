package postgres

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/polypaper/polypaper/internal/domain"
)

// LedgerStore implements domain.LedgerStore using PostgreSQL. The trade
// ledger is append-only; rows are written inside ledger transactions and
// only read here.
type LedgerStore struct {
	pool *pgxpool.Pool
}

// NewLedgerStore creates a new LedgerStore backed by the given connection
// pool.
func NewLedgerStore(pool *pgxpool.Pool) *LedgerStore {
	return &LedgerStore{pool: pool}
}

var _ domain.LedgerStore = (*LedgerStore)(nil)

// ListPurchases returns a fund's buy history, newest first.
func (s *LedgerStore) ListPurchases(ctx context.Context, fundID uuid.UUID, opts domain.ListOpts) ([]domain.PurchaseOrder, error) {
	query := `SELECT id, fund_id, token_id, quantity, price, total_cost, created_at
		 FROM purchase_orders WHERE fund_id = $1`
	args := []any{fundID}
	query, args = applyListOpts(query, args, "created_at", opts)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list purchases for fund %s: %w", fundID, err)
	}
	defer rows.Close()

	var orders []domain.PurchaseOrder
	for rows.Next() {
		var o domain.PurchaseOrder
		if err := rows.Scan(
			&o.ID, &o.FundID, &o.TokenID,
			&o.Quantity, &o.Price, &o.TotalCost, &o.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("postgres: scan purchase: %w", err)
		}
		orders = append(orders, o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: scan purchases: %w", err)
	}
	return orders, nil
}

// ListSales returns a fund's sell history, newest first.
func (s *LedgerStore) ListSales(ctx context.Context, fundID uuid.UUID, opts domain.ListOpts) ([]domain.SaleOrder, error) {
	query := `SELECT id, fund_id, token_id, quantity, price, proceeds, cost_basis, realized_pnl, created_at
		 FROM sale_orders WHERE fund_id = $1`
	args := []any{fundID}
	query, args = applyListOpts(query, args, "created_at", opts)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list sales for fund %s: %w", fundID, err)
	}
	defer rows.Close()

	var orders []domain.SaleOrder
	for rows.Next() {
		var o domain.SaleOrder
		if err := rows.Scan(
			&o.ID, &o.FundID, &o.TokenID,
			&o.Quantity, &o.Price, &o.Proceeds,
			&o.CostBasis, &o.RealizedPnL, &o.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("postgres: scan sale: %w", err)
		}
		orders = append(orders, o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: scan sales: %w", err)
	}
	return orders, nil
}

// applyListOpts appends time filtering, ordering and pagination clauses to
// a query whose args already hold $1..$(len(args)).
func applyListOpts(query string, args []any, timeCol string, opts domain.ListOpts) (string, []any) {
	argIdx := len(args) + 1

	if opts.Since != nil {
		query += fmt.Sprintf(" AND %s >= $%d", timeCol, argIdx)
		args = append(args, *opts.Since)
		argIdx++
	}
	if opts.Until != nil {
		query += fmt.Sprintf(" AND %s <= $%d", timeCol, argIdx)
		args = append(args, *opts.Until)
		argIdx++
	}

	query += fmt.Sprintf(" ORDER BY %s DESC", timeCol)

	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, opts.Limit)
		argIdx++
	}
	if opts.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argIdx)
		args = append(args, opts.Offset)
	}
	return query, args
}
