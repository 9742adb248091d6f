package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/polypaper/polypaper/internal/domain"
)

// PriceHistoryStore implements domain.PriceHistoryStore using PostgreSQL.
type PriceHistoryStore struct {
	pool *pgxpool.Pool
}

// NewPriceHistoryStore creates a new PriceHistoryStore backed by the given
// connection pool.
func NewPriceHistoryStore(pool *pgxpool.Pool) *PriceHistoryStore {
	return &PriceHistoryStore{pool: pool}
}

var _ domain.PriceHistoryStore = (*PriceHistoryStore)(nil)

// InsertBatch writes one flush's worth of price points in a single batch.
func (s *PriceHistoryStore) InsertBatch(ctx context.Context, points []domain.PricePoint) error {
	if len(points) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	const query = `
		INSERT INTO price_history (token_id, best_bid, best_ask, midpoint, last_trade, at)
		VALUES ($1, $2, $3, $4, $5, $6)`
	for _, p := range points {
		batch.Queue(query, p.TokenID, p.BestBid, p.BestAsk, p.Midpoint, p.LastTrade, p.At)
	}

	results := s.pool.SendBatch(ctx, batch)
	defer results.Close()

	for range points {
		if _, err := results.Exec(); err != nil {
			return fmt.Errorf("postgres: insert price points: %w", err)
		}
	}
	return nil
}

// LatestBefore returns the most recent price point for a token at or
// before t.
func (s *PriceHistoryStore) LatestBefore(ctx context.Context, tokenID string, t time.Time) (domain.PricePoint, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT token_id, best_bid, best_ask, midpoint, last_trade, at
		 FROM price_history
		 WHERE token_id = $1 AND at <= $2
		 ORDER BY at DESC
		 LIMIT 1`, tokenID, t)

	var p domain.PricePoint
	err := row.Scan(&p.TokenID, &p.BestBid, &p.BestAsk, &p.Midpoint, &p.LastTrade, &p.At)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.PricePoint{}, fmt.Errorf("%w: no price for token %s", domain.ErrNoPrice, tokenID)
		}
		return domain.PricePoint{}, fmt.Errorf("postgres: latest price for token %s: %w", tokenID, err)
	}
	return p, nil
}

// ListBefore returns all price points strictly older than the cutoff, the
// rows a pruning pass is about to delete.
func (s *PriceHistoryStore) ListBefore(ctx context.Context, before time.Time) ([]domain.PricePoint, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT token_id, best_bid, best_ask, midpoint, last_trade, at
		 FROM price_history
		 WHERE at < $1
		 ORDER BY at ASC`, before)
	if err != nil {
		return nil, fmt.Errorf("postgres: list price points before %s: %w", before, err)
	}
	defer rows.Close()

	var points []domain.PricePoint
	for rows.Next() {
		var p domain.PricePoint
		if err := rows.Scan(&p.TokenID, &p.BestBid, &p.BestAsk, &p.Midpoint, &p.LastTrade, &p.At); err != nil {
			return nil, fmt.Errorf("postgres: scan price point: %w", err)
		}
		points = append(points, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: scan price points: %w", err)
	}
	return points, nil
}

// DeleteBefore prunes price points strictly older than the cutoff and
// returns how many rows were removed.
func (s *PriceHistoryStore) DeleteBefore(ctx context.Context, before time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM price_history WHERE at < $1`, before)
	if err != nil {
		return 0, fmt.Errorf("postgres: delete price points before %s: %w", before, err)
	}
	return tag.RowsAffected(), nil
}
