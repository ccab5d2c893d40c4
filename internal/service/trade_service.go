package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/alanyoungcy/metamarket/internal/domain"
	"github.com/alanyoungcy/metamarket/internal/lmsr"
)

const defaultTradeLimit = 50

// QuoteTrade prices a buy without mutating anything.
func (s *MarketService) QuoteTrade(ctx context.Context, marketID string, outcome domain.Outcome, shares float64) (domain.Quote, error) {
	return s.quote(ctx, marketID, outcome, shares, true)
}

// QuoteSell prices a sell without mutating anything.
func (s *MarketService) QuoteSell(ctx context.Context, marketID string, outcome domain.Outcome, shares float64) (domain.Quote, error) {
	return s.quote(ctx, marketID, outcome, shares, false)
}

func (s *MarketService) quote(_ context.Context, marketID string, outcome domain.Outcome, shares float64, isBuy bool) (domain.Quote, error) {
	m, err := s.ledger.Get(marketID)
	if err != nil {
		return domain.Quote{}, fmt.Errorf("market_service: quote: %w", err)
	}
	q, err := priceTrade(m, outcome, shares, isBuy)
	if err != nil {
		return domain.Quote{}, fmt.Errorf("market_service: quote %q: %w", marketID, err)
	}
	return q, nil
}

func priceTrade(m domain.Market, outcome domain.Outcome, shares float64, isBuy bool) (domain.Quote, error) {
	idx := outcome.Index()
	if idx < 0 {
		return domain.Quote{}, domain.ErrInvalidOutcome
	}
	res, err := lmsr.Quote(m.Pool, idx, shares, isBuy)
	if err != nil {
		return domain.Quote{}, err
	}
	return domain.Quote{
		MarketID:      m.ID,
		Outcome:       outcome,
		Shares:        shares,
		IsBuy:         isBuy,
		FlowAmount:    res.FlowAmount,
		Price:         res.Price,
		Probabilities: res.Probabilities,
		Pool:          res.Pool,
	}, nil
}

// ExecuteTrade re-prices the trade against current state, settles it
// externally and only then commits it to the ledger.
//
// A returned error wrapping domain.ErrPersistenceUnavailable alongside a
// populated result means the trade is committed in memory but the snapshot
// write failed. Any other error means nothing changed.
func (s *MarketService) ExecuteTrade(ctx context.Context, req domain.TradeRequest) (domain.ExecutionResult, error) {
	unlock := s.ledger.Lock(req.MarketID)
	defer unlock()

	if s.deps.Locks != nil {
		release, err := s.deps.Locks.Acquire(ctx, "market:"+req.MarketID, s.cfg.LockTTL)
		if err != nil {
			return domain.ExecutionResult{}, fmt.Errorf("market_service: execute trade: lock: %w", err)
		}
		defer release()
	}

	m, err := s.ledger.Get(req.MarketID)
	if err != nil {
		return domain.ExecutionResult{}, fmt.Errorf("market_service: execute trade: %w", err)
	}
	if !m.Tradable() {
		return domain.ExecutionResult{}, fmt.Errorf("market_service: execute trade %q: %w", m.ID, domain.ErrMarketClosed)
	}
	q, err := priceTrade(m, req.Outcome, req.Shares, req.IsBuy)
	if err != nil {
		return domain.ExecutionResult{}, fmt.Errorf("market_service: execute trade %q: %w", m.ID, err)
	}

	settled, err := s.settle(ctx, m, q, req.Signer)
	if err != nil {
		return domain.ExecutionResult{}, err
	}

	now := s.now().UTC()
	trade := domain.Trade{
		ID:            uuid.NewString(),
		MarketID:      m.ID,
		Outcome:       req.Outcome,
		Shares:        req.Shares,
		FlowAmount:    q.FlowAmount,
		IsBuy:         req.IsBuy,
		Price:         q.Price,
		Signer:        req.Signer,
		CreatedAt:     now,
		Probabilities: q.Probabilities,
		TxID:          settled.TxID,
		TxStatus:      settled.Status,
	}
	trade = trade.Clone()

	next := m.Clone()
	next.Pool = q.Pool
	next.CurrentData.LastUpdate = now
	next.TradeVolume = lmsr.Round(m.TradeVolume + q.FlowAmount)
	next.TradeCount = m.TradeCount + 1
	next.YesPrice = q.Probabilities[0]
	next.NoPrice = q.Probabilities[1]
	next.LastTradeAt = &now

	result := domain.ExecutionResult{Market: next, Quote: q, Trade: trade, Settlement: settled}

	err = s.mutate(ctx,
		func(snap *domain.Snapshot) {
			replaceInSnapshot(snap, next)
			appendInSnapshot(snap, trade, s.ledger.HotCap())
		},
		func() error {
			_, err := s.ledger.Commit(next, trade)
			return err
		},
	)
	if err != nil && (s.cfg.StrictPersistence || !errors.Is(err, domain.ErrPersistenceUnavailable)) {
		s.logger.ErrorContext(ctx, "market_service: settled trade not committed",
			slog.String("market_id", m.ID),
			slog.String("tx_id", settled.TxID),
			slog.Float64("flow", q.FlowAmount),
			slog.String("error", err.Error()),
		)
		s.notify(ctx, EventSettlementOrphaned, "Settled trade not recorded",
			fmt.Sprintf("market %s tx %s flow %.8f: %v", m.ID, settled.TxID, q.FlowAmount, err))
		return domain.ExecutionResult{}, fmt.Errorf("market_service: execute trade %q: %w", m.ID, err)
	}

	s.afterTrade(ctx, next, trade)

	if err != nil {
		return result, fmt.Errorf("market_service: execute trade %q: %w", m.ID, err)
	}
	return result, nil
}

func (s *MarketService) settle(ctx context.Context, m domain.Market, q domain.Quote, signer *string) (domain.SettlementResult, error) {
	sctx, cancel := context.WithTimeout(ctx, s.cfg.SettlementTimeout)
	defer cancel()

	req := domain.SettlementRequest{
		MarketID: m.ID,
		Outcome:  q.Outcome,
		Amount:   q.FlowAmount,
		IsBuy:    q.IsBuy,
	}
	if signer != nil {
		req.Signer = *signer
	}

	start := time.Now()
	res, err := s.settler.Submit(sctx, req)
	ok := err == nil && res.Status == domain.TxSealed
	if s.deps.Metrics != nil {
		s.deps.Metrics.SettlementObserved(time.Since(start), ok)
	}
	if ok {
		return res, nil
	}

	cause := res.Error
	if err != nil {
		cause = err.Error()
	} else if cause == "" {
		cause = "status " + string(res.Status)
	}
	s.logger.WarnContext(ctx, "market_service: settlement failed",
		slog.String("market_id", m.ID),
		slog.String("provider", s.settler.Mode()),
		slog.String("tx_id", res.TxID),
		slog.String("error", cause),
	)
	s.notify(ctx, EventSettlementFailed, "Settlement failed", fmt.Sprintf("market %s: %s", m.ID, cause))
	if err != nil {
		return domain.SettlementResult{}, fmt.Errorf("market_service: execute trade %q: %w: %w", m.ID, domain.ErrSettlementFailed, err)
	}
	return domain.SettlementResult{}, fmt.Errorf("market_service: execute trade %q: %w: %s", m.ID, domain.ErrSettlementFailed, cause)
}

func (s *MarketService) afterTrade(ctx context.Context, m domain.Market, t domain.Trade) {
	if s.deps.Archive != nil {
		if err := s.deps.Archive.Insert(ctx, t); err != nil {
			s.logger.WarnContext(ctx, "market_service: archive insert failed",
				slog.String("trade_id", t.ID),
				slog.String("error", err.Error()),
			)
		}
	}
	if s.deps.Metrics != nil {
		s.deps.Metrics.TradeExecuted(string(t.Outcome), t.IsBuy, t.FlowAmount)
	}
	s.audit(ctx, "trade_executed", map[string]any{
		"market_id": m.ID,
		"trade_id":  t.ID,
		"tx_id":     t.TxID,
		"flow":      t.FlowAmount,
	})
	s.cacheMarket(ctx, m)
	s.publish(ctx, domain.ChannelTrades, "trade_executed", map[string]any{"trade": t})
	s.publish(ctx, domain.ChannelMarkets, "market_updated", map[string]any{"market": m})

	s.logger.InfoContext(ctx, "market_service: trade executed",
		slog.String("market_id", m.ID),
		slog.String("trade_id", t.ID),
		slog.String("outcome", string(t.Outcome)),
		slog.Bool("is_buy", t.IsBuy),
		slog.Float64("shares", t.Shares),
		slog.Float64("flow", t.FlowAmount),
	)
}

// ListTrades returns the most recent trades of a market, oldest first.
// limit <= 0 selects 50; the result never exceeds the hot window.
func (s *MarketService) ListTrades(_ context.Context, marketID string, limit int) ([]domain.Trade, error) {
	if limit <= 0 {
		limit = defaultTradeLimit
	}
	if limit > s.ledger.HotCap() {
		limit = s.ledger.HotCap()
	}
	trades, err := s.ledger.Trades(marketID, limit)
	if err != nil {
		return nil, fmt.Errorf("market_service: list trades: %w", err)
	}
	return trades, nil
}
