package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/polypaper/polypaper/internal/domain"
)

// SnapshotStore implements domain.SnapshotStore using PostgreSQL.
type SnapshotStore struct {
	pool *pgxpool.Pool
}

// NewSnapshotStore creates a new SnapshotStore backed by the given
// connection pool.
func NewSnapshotStore(pool *pgxpool.Pool) *SnapshotStore {
	return &SnapshotStore{pool: pool}
}

var _ domain.SnapshotStore = (*SnapshotStore)(nil)

// InsertBatch writes one sampling pass's snapshots in a single batch. A
// conflicting (fund, resolution, taken_at) row is left untouched so a
// retried pass never duplicates points.
func (s *SnapshotStore) InsertBatch(ctx context.Context, snaps []domain.PortfolioSnapshot) error {
	if len(snaps) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	const query = `
		INSERT INTO portfolio_snapshots (fund_id, value, resolution, taken_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT ON CONSTRAINT portfolio_snapshots_unique DO NOTHING`
	for _, snap := range snaps {
		batch.Queue(query, snap.FundID, snap.Value, snap.Resolution, snap.TakenAt)
	}

	results := s.pool.SendBatch(ctx, batch)
	defer results.Close()

	for range snaps {
		if _, err := results.Exec(); err != nil {
			return fmt.Errorf("postgres: insert snapshots: %w", err)
		}
	}
	return nil
}

// List returns a fund's snapshots at one resolution from since onward,
// oldest first, ready to chart.
func (s *SnapshotStore) List(ctx context.Context, fundID uuid.UUID, resolution int, since time.Time) ([]domain.PortfolioSnapshot, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, fund_id, value, resolution, taken_at
		 FROM portfolio_snapshots
		 WHERE fund_id = $1 AND resolution = $2 AND taken_at >= $3
		 ORDER BY taken_at ASC`, fundID, resolution, since)
	if err != nil {
		return nil, fmt.Errorf("postgres: list snapshots for fund %s: %w", fundID, err)
	}
	defer rows.Close()

	return scanSnapshotRows(rows)
}

// ListBefore returns snapshots at one resolution strictly older than the
// cutoff, the rows a pruning pass is about to delete.
func (s *SnapshotStore) ListBefore(ctx context.Context, resolution int, before time.Time) ([]domain.PortfolioSnapshot, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, fund_id, value, resolution, taken_at
		 FROM portfolio_snapshots
		 WHERE resolution = $1 AND taken_at < $2
		 ORDER BY taken_at ASC`, resolution, before)
	if err != nil {
		return nil, fmt.Errorf("postgres: list snapshots before %s: %w", before, err)
	}
	defer rows.Close()

	return scanSnapshotRows(rows)
}

// DeleteBefore prunes snapshots at one resolution strictly older than the
// cutoff and returns how many rows were removed.
func (s *SnapshotStore) DeleteBefore(ctx context.Context, resolution int, before time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM portfolio_snapshots WHERE resolution = $1 AND taken_at < $2`,
		resolution, before)
	if err != nil {
		return 0, fmt.Errorf("postgres: delete snapshots before %s: %w", before, err)
	}
	return tag.RowsAffected(), nil
}

func scanSnapshotRows(rows pgx.Rows) ([]domain.PortfolioSnapshot, error) {
	var snaps []domain.PortfolioSnapshot
	for rows.Next() {
		var snap domain.PortfolioSnapshot
		if err := rows.Scan(&snap.ID, &snap.FundID, &snap.Value, &snap.Resolution, &snap.TakenAt); err != nil {
			return nil, fmt.Errorf("postgres: scan snapshot: %w", err)
		}
		snaps = append(snaps, snap)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: scan snapshots: %w", err)
	}
	return snaps, nil
}
