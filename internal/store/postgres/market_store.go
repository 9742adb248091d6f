package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/polypaper/polypaper/internal/domain"
)

// MarketStore implements domain.MarketStore using PostgreSQL.
type MarketStore struct {
	pool *pgxpool.Pool
}

// NewMarketStore creates a new MarketStore backed by the given connection
// pool.
func NewMarketStore(pool *pgxpool.Pool) *MarketStore {
	return &MarketStore{pool: pool}
}

var _ domain.MarketStore = (*MarketStore)(nil)

const eventSelectCols = `id, slug, title, description, active, closed,
	closed_at, created_at, updated_at`

const marketSelectCols = `id, event_id, question, slug, condition_id,
	active, closed, accepting_orders, closed_at, created_at, updated_at`

func scanEventRow(row pgx.Row) (domain.Event, error) {
	var e domain.Event
	err := row.Scan(
		&e.ID, &e.Slug, &e.Title, &e.Description,
		&e.Active, &e.Closed, &e.ClosedAt, &e.CreatedAt, &e.UpdatedAt,
	)
	return e, err
}

func scanEventRows(rows pgx.Rows) ([]domain.Event, error) {
	var events []domain.Event
	for rows.Next() {
		e, err := scanEventRow(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

func scanMarketRow(row pgx.Row) (domain.Market, error) {
	var m domain.Market
	err := row.Scan(
		&m.ID, &m.EventID, &m.Question, &m.Slug, &m.ConditionID,
		&m.Active, &m.Closed, &m.AcceptingOrders,
		&m.ClosedAt, &m.CreatedAt, &m.UpdatedAt,
	)
	return m, err
}

func scanMarketRows(rows pgx.Rows) ([]domain.Market, error) {
	var markets []domain.Market
	for rows.Next() {
		m, err := scanMarketRow(rows)
		if err != nil {
			return nil, err
		}
		markets = append(markets, m)
	}
	return markets, rows.Err()
}

// UpsertEvent inserts or refreshes a mirrored event. A locally closed
// event is never reopened by a sync pass.
func (s *MarketStore) UpsertEvent(ctx context.Context, e domain.Event) error {
	const query = `
		INSERT INTO events (id, slug, title, description, active, closed, closed_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NOW(), NOW())
		ON CONFLICT (id) DO UPDATE SET
			slug        = EXCLUDED.slug,
			title       = EXCLUDED.title,
			description = EXCLUDED.description,
			active      = EXCLUDED.active,
			closed      = events.closed OR EXCLUDED.closed,
			closed_at   = COALESCE(events.closed_at, EXCLUDED.closed_at),
			updated_at  = NOW()`

	_, err := s.pool.Exec(ctx, query,
		e.ID, e.Slug, e.Title, e.Description, e.Active, e.Closed, e.ClosedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: upsert event %s: %w", e.ID, err)
	}
	return nil
}

// UpsertMarket inserts or refreshes a mirrored market and its outcomes in
// one transaction. Outcome winning flags survive refreshes; a locally
// closed market is never reopened.
func (s *MarketStore) UpsertMarket(ctx context.Context, m domain.Market, outcomes []domain.Outcome) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres: begin upsert market: %w", err)
	}
	defer tx.Rollback(ctx)

	const marketQuery = `
		INSERT INTO markets (id, event_id, question, slug, condition_id,
			active, closed, accepting_orders, closed_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, NOW(), NOW())
		ON CONFLICT (id) DO UPDATE SET
			event_id         = EXCLUDED.event_id,
			question         = EXCLUDED.question,
			slug             = EXCLUDED.slug,
			condition_id     = EXCLUDED.condition_id,
			active           = EXCLUDED.active,
			closed           = markets.closed OR EXCLUDED.closed,
			accepting_orders = EXCLUDED.accepting_orders AND NOT (markets.closed OR EXCLUDED.closed),
			closed_at        = COALESCE(markets.closed_at, EXCLUDED.closed_at),
			updated_at       = NOW()`

	if _, err := tx.Exec(ctx, marketQuery,
		m.ID, m.EventID, m.Question, m.Slug, m.ConditionID,
		m.Active, m.Closed, m.AcceptingOrders, m.ClosedAt,
	); err != nil {
		return fmt.Errorf("postgres: upsert market %s: %w", m.ID, err)
	}

	const outcomeQuery = `
		INSERT INTO outcomes (market_id, token_id, label, idx)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (market_id, token_id) DO UPDATE SET
			label = EXCLUDED.label,
			idx   = EXCLUDED.idx`

	for _, o := range outcomes {
		if _, err := tx.Exec(ctx, outcomeQuery, o.MarketID, o.TokenID, o.Label, o.Index); err != nil {
			return fmt.Errorf("postgres: upsert outcome %s/%s: %w", o.MarketID, o.TokenID, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres: commit upsert market %s: %w", m.ID, err)
	}
	return nil
}

// GetEvent retrieves a single event.
func (s *MarketStore) GetEvent(ctx context.Context, id string) (domain.Event, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+eventSelectCols+` FROM events WHERE id = $1`, id)

	e, err := scanEventRow(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Event{}, domain.ErrNotFound
		}
		return domain.Event{}, fmt.Errorf("postgres: get event %s: %w", id, err)
	}
	return e, nil
}

// GetMarket retrieves a single market.
func (s *MarketStore) GetMarket(ctx context.Context, id string) (domain.Market, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+marketSelectCols+` FROM markets WHERE id = $1`, id)

	m, err := scanMarketRow(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Market{}, domain.ErrNotFound
		}
		return domain.Market{}, fmt.Errorf("postgres: get market %s: %w", id, err)
	}
	return m, nil
}

// GetMarketByToken retrieves the market one of whose outcomes carries the
// given clob token ID.
func (s *MarketStore) GetMarketByToken(ctx context.Context, tokenID string) (domain.Market, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+qualify(marketSelectCols, "m")+`
		 FROM markets m
		 JOIN outcomes o ON o.market_id = m.id
		 WHERE o.token_id = $1`, tokenID)

	m, err := scanMarketRow(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Market{}, domain.ErrNotFound
		}
		return domain.Market{}, fmt.Errorf("postgres: get market by token %s: %w", tokenID, err)
	}
	return m, nil
}

// ListEvents returns mirrored events with pagination, newest first.
func (s *MarketStore) ListEvents(ctx context.Context, opts domain.ListOpts) ([]domain.Event, error) {
	query := `SELECT ` + eventSelectCols + ` FROM events WHERE TRUE`
	args := []any{}
	query, args = applyListOpts(query, args, "created_at", opts)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list events: %w", err)
	}
	defer rows.Close()

	events, err := scanEventRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan events: %w", err)
	}
	return events, nil
}

// ListOpenEvents returns all events not yet marked closed.
func (s *MarketStore) ListOpenEvents(ctx context.Context) ([]domain.Event, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+eventSelectCols+` FROM events WHERE NOT closed ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("postgres: list open events: %w", err)
	}
	defer rows.Close()

	events, err := scanEventRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan open events: %w", err)
	}
	return events, nil
}

// ListOpenMarkets returns all markets not yet marked closed.
func (s *MarketStore) ListOpenMarkets(ctx context.Context) ([]domain.Market, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+marketSelectCols+` FROM markets WHERE NOT closed ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("postgres: list open markets: %w", err)
	}
	defer rows.Close()

	markets, err := scanMarketRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan open markets: %w", err)
	}
	return markets, nil
}

// ListOutcomes returns a market's outcomes in display order.
func (s *MarketStore) ListOutcomes(ctx context.Context, marketID string) ([]domain.Outcome, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, market_id, token_id, label, idx, winning
		 FROM outcomes WHERE market_id = $1 ORDER BY idx`, marketID)
	if err != nil {
		return nil, fmt.Errorf("postgres: list outcomes for market %s: %w", marketID, err)
	}
	defer rows.Close()

	var outcomes []domain.Outcome
	for rows.Next() {
		var o domain.Outcome
		if err := rows.Scan(&o.ID, &o.MarketID, &o.TokenID, &o.Label, &o.Index, &o.Winning); err != nil {
			return nil, fmt.Errorf("postgres: scan outcome: %w", err)
		}
		outcomes = append(outcomes, o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: scan outcomes: %w", err)
	}
	return outcomes, nil
}

// ListActiveTokenIDs returns the clob token IDs across all non-closed
// markets, the instrument set the price feed subscribes to.
func (s *MarketStore) ListActiveTokenIDs(ctx context.Context) ([]string, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT o.token_id
		 FROM outcomes o
		 JOIN markets m ON m.id = o.market_id
		 WHERE NOT m.closed
		 ORDER BY o.token_id`)
	if err != nil {
		return nil, fmt.Errorf("postgres: list active token ids: %w", err)
	}
	defer rows.Close()

	var tokenIDs []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("postgres: scan token id: %w", err)
		}
		tokenIDs = append(tokenIDs, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: scan token ids: %w", err)
	}
	return tokenIDs, nil
}

// MarkEventClosed closes an event.
func (s *MarketStore) MarkEventClosed(ctx context.Context, id string, closedAt time.Time) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE events SET closed = TRUE, closed_at = COALESCE(closed_at, $2), updated_at = NOW()
		 WHERE id = $1`, id, closedAt)
	if err != nil {
		return fmt.Errorf("postgres: mark event %s closed: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// MarkMarketClosed closes a market and turns order acceptance off.
func (s *MarketStore) MarkMarketClosed(ctx context.Context, id string, closedAt time.Time) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE markets SET closed = TRUE, accepting_orders = FALSE,
			closed_at = COALESCE(closed_at, $2), updated_at = NOW()
		 WHERE id = $1`, id, closedAt)
	if err != nil {
		return fmt.Errorf("postgres: mark market %s closed: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// SetWinningOutcome clears every winning flag on the market's outcomes and
// sets it on the outcome carrying the given token ID, as one transaction.
func (s *MarketStore) SetWinningOutcome(ctx context.Context, marketID, tokenID string) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres: begin set winning outcome: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx,
		`UPDATE outcomes SET winning = FALSE WHERE market_id = $1`, marketID); err != nil {
		return fmt.Errorf("postgres: clear winners for market %s: %w", marketID, err)
	}

	tag, err := tx.Exec(ctx,
		`UPDATE outcomes SET winning = TRUE WHERE market_id = $1 AND token_id = $2`,
		marketID, tokenID)
	if err != nil {
		return fmt.Errorf("postgres: set winner %s for market %s: %w", tokenID, marketID, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres: commit set winning outcome: %w", err)
	}
	return nil
}

// qualify prefixes each comma-separated column with a table alias.
func qualify(cols, alias string) string {
	parts := strings.Split(cols, ",")
	for i, p := range parts {
		parts[i] = alias + "." + strings.TrimSpace(p)
	}
	return strings.Join(parts, ", ")
}
