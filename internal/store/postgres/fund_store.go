package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/polypaper/polypaper/internal/domain"
)

// FundStore implements domain.FundStore using PostgreSQL.
type FundStore struct {
	pool *pgxpool.Pool
}

// NewFundStore creates a new FundStore backed by the given connection pool.
func NewFundStore(pool *pgxpool.Pool) *FundStore {
	return &FundStore{pool: pool}
}

var _ domain.FundStore = (*FundStore)(nil)

const fundSelectCols = `id, user_id, name, starting_balance, balance,
	is_primary, created_at, updated_at`

func scanFundRow(row pgx.Row) (domain.Fund, error) {
	var f domain.Fund
	err := row.Scan(
		&f.ID, &f.UserID, &f.Name, &f.StartingBalance, &f.Balance,
		&f.Primary, &f.CreatedAt, &f.UpdatedAt,
	)
	return f, err
}

func scanFundRows(rows pgx.Rows) ([]domain.Fund, error) {
	var funds []domain.Fund
	for rows.Next() {
		f, err := scanFundRow(rows)
		if err != nil {
			return nil, err
		}
		funds = append(funds, f)
	}
	return funds, rows.Err()
}

// Create inserts a new fund.
func (s *FundStore) Create(ctx context.Context, f domain.Fund) error {
	const query = `
		INSERT INTO funds (
			id, user_id, name, starting_balance, balance,
			is_primary, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, NOW(), NOW())`

	_, err := s.pool.Exec(ctx, query,
		f.ID, f.UserID, f.Name, f.StartingBalance, f.Balance, f.Primary,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return fmt.Errorf("%w: fund %s", domain.ErrAlreadyExists, f.ID)
		}
		return fmt.Errorf("postgres: create fund %s: %w", f.ID, err)
	}
	return nil
}

// GetByID retrieves a single fund.
func (s *FundStore) GetByID(ctx context.Context, id uuid.UUID) (domain.Fund, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+fundSelectCols+` FROM funds WHERE id = $1`, id)

	f, err := scanFundRow(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Fund{}, domain.ErrNotFound
		}
		return domain.Fund{}, fmt.Errorf("postgres: get fund %s: %w", id, err)
	}
	return f, nil
}

// ListByUser returns all funds owned by a user, primary first.
func (s *FundStore) ListByUser(ctx context.Context, userID uuid.UUID) ([]domain.Fund, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+fundSelectCols+` FROM funds
		 WHERE user_id = $1
		 ORDER BY is_primary DESC, created_at ASC`, userID)
	if err != nil {
		return nil, fmt.Errorf("postgres: list funds for user %s: %w", userID, err)
	}
	defer rows.Close()

	funds, err := scanFundRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan funds: %w", err)
	}
	return funds, nil
}

// SetPrimary clears the primary flag across the user's funds and sets it on
// the given one, in a single transaction.
func (s *FundStore) SetPrimary(ctx context.Context, userID, fundID uuid.UUID) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres: begin set primary: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx,
		`UPDATE funds SET is_primary = FALSE, updated_at = NOW()
		 WHERE user_id = $1 AND is_primary`, userID); err != nil {
		return fmt.Errorf("postgres: clear primary for user %s: %w", userID, err)
	}

	tag, err := tx.Exec(ctx,
		`UPDATE funds SET is_primary = TRUE, updated_at = NOW()
		 WHERE id = $1 AND user_id = $2`, fundID, userID)
	if err != nil {
		return fmt.Errorf("postgres: set primary fund %s: %w", fundID, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres: commit set primary: %w", err)
	}
	return nil
}

// ListWithOpenPositions returns every fund that currently holds at least
// one position lot. The snapshot engine values these funds each minute.
func (s *FundStore) ListWithOpenPositions(ctx context.Context) ([]domain.Fund, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+fundSelectCols+` FROM funds
		 WHERE EXISTS (
			SELECT 1 FROM position_lots WHERE position_lots.fund_id = funds.id
		 )
		 ORDER BY created_at ASC`)
	if err != nil {
		return nil, fmt.Errorf("postgres: list funds with open positions: %w", err)
	}
	defer rows.Close()

	funds, err := scanFundRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan funds: %w", err)
	}
	return funds, nil
}
