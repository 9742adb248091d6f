package postgres

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/polypaper/polypaper/internal/domain"
)

// PositionStore implements domain.PositionStore using PostgreSQL. It is
// read-only: lot rows are created and consumed inside ledger transactions.
type PositionStore struct {
	pool *pgxpool.Pool
}

// NewPositionStore creates a new PositionStore backed by the given
// connection pool.
func NewPositionStore(pool *pgxpool.Pool) *PositionStore {
	return &PositionStore{pool: pool}
}

var _ domain.PositionStore = (*PositionStore)(nil)

const lotSelectCols = `id, fund_id, token_id, quantity, avg_cost, total_cost, created_at`

func scanLotRows(rows pgx.Rows) ([]domain.PositionLot, error) {
	var lots []domain.PositionLot
	for rows.Next() {
		var l domain.PositionLot
		if err := rows.Scan(
			&l.ID, &l.FundID, &l.TokenID,
			&l.Quantity, &l.AvgCost, &l.TotalCost, &l.CreatedAt,
		); err != nil {
			return nil, err
		}
		lots = append(lots, l)
	}
	return lots, rows.Err()
}

// ListByFund returns all lots held by a fund, oldest first.
func (s *PositionStore) ListByFund(ctx context.Context, fundID uuid.UUID) ([]domain.PositionLot, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+lotSelectCols+` FROM position_lots
		 WHERE fund_id = $1
		 ORDER BY token_id, created_at ASC`, fundID)
	if err != nil {
		return nil, fmt.Errorf("postgres: list lots for fund %s: %w", fundID, err)
	}
	defer rows.Close()

	lots, err := scanLotRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan lots: %w", err)
	}
	return lots, nil
}

// ListByFundToken returns the lots a fund holds for one token in FIFO
// consumption order, oldest purchase first.
func (s *PositionStore) ListByFundToken(ctx context.Context, fundID uuid.UUID, tokenID string) ([]domain.PositionLot, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+lotSelectCols+` FROM position_lots
		 WHERE fund_id = $1 AND token_id = $2
		 ORDER BY created_at ASC`, fundID, tokenID)
	if err != nil {
		return nil, fmt.Errorf("postgres: list lots for fund %s token %s: %w", fundID, tokenID, err)
	}
	defer rows.Close()

	lots, err := scanLotRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan lots: %w", err)
	}
	return lots, nil
}
