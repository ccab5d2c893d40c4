package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/metamarket/internal/domain"
)

// TradeStore implements domain.TradeArchive using PostgreSQL. It keeps the
// full trade history; the ledger only holds the hot window.
type TradeStore struct {
	pool *pgxpool.Pool
}

var _ domain.TradeArchive = (*TradeStore)(nil)

// NewTradeStore creates a new TradeStore backed by the given connection pool.
func NewTradeStore(pool *pgxpool.Pool) *TradeStore {
	return &TradeStore{pool: pool}
}

const tradeSelectCols = `id, market_id, outcome, shares, flow_amount, is_buy,
	price, signer, prob_yes, prob_no, tx_id, tx_status, created_at`

const tradeInsert = `
	INSERT INTO trades (
		id, market_id, outcome, shares, flow_amount, is_buy,
		price, signer, prob_yes, prob_no, tx_id, tx_status, created_at
	) VALUES (
		$1, $2, $3, $4, $5, $6,
		$7, $8, $9, $10, $11, $12, $13
	) ON CONFLICT (id) DO NOTHING`

func tradeArgs(t domain.Trade) []any {
	return []any{
		t.ID, t.MarketID, string(t.Outcome), t.Shares, t.FlowAmount, t.IsBuy,
		t.Price, t.Signer, t.Probabilities[0], t.Probabilities[1],
		t.TxID, string(t.TxStatus), t.CreatedAt,
	}
}

func scanTradeRows(rows pgx.Rows) ([]domain.Trade, error) {
	var trades []domain.Trade
	for rows.Next() {
		var t domain.Trade
		var outcome, status string
		if err := rows.Scan(
			&t.ID, &t.MarketID, &outcome, &t.Shares, &t.FlowAmount, &t.IsBuy,
			&t.Price, &t.Signer, &t.Probabilities[0], &t.Probabilities[1],
			&t.TxID, &status, &t.CreatedAt,
		); err != nil {
			return nil, err
		}
		t.Outcome = domain.Outcome(outcome)
		t.TxStatus = domain.TxStatus(status)
		t.CreatedAt = t.CreatedAt.UTC()
		trades = append(trades, t)
	}
	return trades, rows.Err()
}

// Insert stores one trade. Re-inserting a known id is a no-op.
func (s *TradeStore) Insert(ctx context.Context, t domain.Trade) error {
	if _, err := s.pool.Exec(ctx, tradeInsert, tradeArgs(t)...); err != nil {
		return fmt.Errorf("postgres: insert trade %s: %w", t.ID, err)
	}
	return nil
}

// InsertBatch inserts multiple trades efficiently using pgx Batch.
// Known ids are skipped via ON CONFLICT DO NOTHING, so a restored ledger can
// be backfilled repeatedly.
func (s *TradeStore) InsertBatch(ctx context.Context, trades []domain.Trade) error {
	if len(trades) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for _, t := range trades {
		batch.Queue(tradeInsert, tradeArgs(t)...)
	}

	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()

	for i := range trades {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("postgres: insert trade batch item %d: %w", i, err)
		}
	}
	return nil
}

// ListByMarket returns trades for a given market, newest first, with
// pagination and optional time filtering.
func (s *TradeStore) ListByMarket(ctx context.Context, marketID string, opts domain.ListOpts) ([]domain.Trade, error) {
	query, args := filteredTradeQuery(`market_id = $1`, marketID, opts)
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list trades by market: %w", err)
	}
	defer rows.Close()

	trades, err := scanTradeRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan trades by market: %w", err)
	}
	return trades, nil
}

// ListBySigner returns trades placed by signer, newest first.
func (s *TradeStore) ListBySigner(ctx context.Context, signer string, opts domain.ListOpts) ([]domain.Trade, error) {
	query, args := filteredTradeQuery(`signer = $1`, signer, opts)
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list trades by signer: %w", err)
	}
	defer rows.Close()

	trades, err := scanTradeRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan trades by signer: %w", err)
	}
	return trades, nil
}

func filteredTradeQuery(where string, key any, opts domain.ListOpts) (string, []any) {
	query := `SELECT ` + tradeSelectCols + ` FROM trades WHERE ` + where
	args := []any{key}
	argIdx := 2

	if opts.Since != nil {
		query += fmt.Sprintf(" AND created_at >= $%d", argIdx)
		args = append(args, *opts.Since)
		argIdx++
	}
	if opts.Until != nil {
		query += fmt.Sprintf(" AND created_at <= $%d", argIdx)
		args = append(args, *opts.Until)
		argIdx++
	}

	query += " ORDER BY created_at DESC"

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

// ListBefore returns all trades created strictly before the given time,
// oldest first (for archiving).
func (s *TradeStore) ListBefore(ctx context.Context, before time.Time) ([]domain.Trade, error) {
	query := `SELECT ` + tradeSelectCols + ` FROM trades WHERE created_at < $1 ORDER BY created_at ASC`
	rows, err := s.pool.Query(ctx, query, before)
	if err != nil {
		return nil, fmt.Errorf("postgres: list trades before: %w", err)
	}
	defer rows.Close()
	return scanTradeRows(rows)
}

// Count returns the number of archived trades for a market.
func (s *TradeStore) Count(ctx context.Context, marketID string) (int64, error) {
	var n int64
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM trades WHERE market_id = $1`, marketID).Scan(&n); err != nil {
		return 0, fmt.Errorf("postgres: count trades: %w", err)
	}
	return n, nil
}
