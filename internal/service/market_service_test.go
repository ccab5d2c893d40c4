package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/metamarket/internal/domain"
	"github.com/alanyoungcy/metamarket/internal/ledger"
	"github.com/alanyoungcy/metamarket/internal/store/snapshot"
)

var testClock = time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeSettler struct {
	mu     sync.Mutex
	status domain.TxStatus
	err    error
	calls  []domain.SettlementRequest
}

func (f *fakeSettler) Mode() string { return "fake" }

func (f *fakeSettler) Submit(_ context.Context, req domain.SettlementRequest) (domain.SettlementResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, req)
	if f.err != nil {
		return domain.SettlementResult{}, f.err
	}
	status := f.status
	if status == "" {
		status = domain.TxSealed
	}
	return domain.SettlementResult{
		TxID:      fmt.Sprintf("0x%064x", len(f.calls)),
		Status:    status,
		Timestamp: testClock,
	}, nil
}

func (f *fakeSettler) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

// failingStore accepts loads but rejects every write.
type failingStore struct{ saves int }

func (f *failingStore) Load(context.Context) (*domain.Snapshot, error) { return nil, nil }

func (f *failingStore) Save(context.Context, domain.Snapshot) error {
	f.saves++
	return fmt.Errorf("%w: disk full", domain.ErrPersistenceUnavailable)
}

func (f *failingStore) Enqueue(ctx context.Context, snap domain.Snapshot) (<-chan error, error) {
	done := make(chan error, 1)
	done <- f.Save(ctx, snap)
	return done, nil
}

func (f *failingStore) QueueDepth() int { return 0 }
func (f *failingStore) Close() error    { return nil }

type recordingNotifier struct {
	mu     sync.Mutex
	events []string
}

func (r *recordingNotifier) Notify(_ context.Context, event, _, _ string) error {
	r.mu.Lock()
	r.events = append(r.events, event)
	r.mu.Unlock()
	return nil
}

func (r *recordingNotifier) has(event string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.events {
		if e == event {
			return true
		}
	}
	return false
}

type harness struct {
	svc      *MarketService
	ledger   *ledger.Ledger
	store    domain.SnapshotStore
	settler  *fakeSettler
	notifier *recordingNotifier
	stats    *StaticStats
}

func newHarness(t *testing.T, cfg MarketServiceConfig, store domain.SnapshotStore) *harness {
	t.Helper()
	if store == nil {
		s, err := snapshot.Open(context.Background(), snapshot.LocationMemory, snapshot.Options{Logger: quietLogger()})
		require.NoError(t, err)
		t.Cleanup(func() { _ = s.Close() })
		store = s
	}
	h := &harness{
		ledger:   ledger.New(ledger.DefaultHotCap, quietLogger()),
		store:    store,
		settler:  &fakeSettler{},
		notifier: &recordingNotifier{},
		stats: NewStaticStats(domain.TournamentStats{
			TotalParticipants: 150,
			CurrentPrizePool:  2500,
			AverageScore:      42.5,
			ActiveContests:    3,
		}),
	}
	h.svc = NewMarketService(h.ledger, h.store, h.settler, cfg, MarketServiceDeps{
		Stats:    h.stats,
		Notifier: h.notifier,
	}, quietLogger())
	h.svc.now = func() time.Time { return testClock }
	return h
}

func (h *harness) createMarket(t *testing.T, title string) domain.Market {
	t.Helper()
	m, err := h.svc.CreateMarket(context.Background(), MarketSpec{Title: title, IDPrefix: "test:" + slugify(title)})
	require.NoError(t, err)
	return m
}

func buy(id string, outcome domain.Outcome, shares float64, signer string) domain.TradeRequest {
	req := domain.TradeRequest{MarketID: id, Outcome: outcome, Shares: shares, IsBuy: true}
	if signer != "" {
		req.Signer = &signer
	}
	return req
}

func TestCreateMarket_Defaults(t *testing.T) {
	h := newHarness(t, MarketServiceConfig{}, nil)
	m := h.createMarket(t, "Will it rain?")

	assert.Equal(t, fmt.Sprintf("test:will-it-rain:%d", testClock.UnixMilli()), m.ID)
	assert.Equal(t, 120.0, m.Pool.LiquidityParameter)
	assert.Equal(t, [2]float64{0, 0}, m.Pool.OutcomeSupply)
	assert.Equal(t, 0.5, m.YesPrice)
	assert.Equal(t, 0.5, m.NoPrice)
	assert.Equal(t, "24h", m.CurrentData.TimeRemaining)
	assert.Equal(t, testClock.Add(24*time.Hour), m.ResolutionTime)
	assert.True(t, m.Tradable())
	assert.True(t, h.notifier.has(EventMarketCreated))

	snap, err := h.store.Load(context.Background())
	require.NoError(t, err)
	require.NotNil(t, snap)
	require.Len(t, snap.Markets, 1)
	assert.Equal(t, m.ID, snap.Markets[0].ID)
}

func TestCreateMarket_IDCollisionAdvances(t *testing.T) {
	h := newHarness(t, MarketServiceConfig{}, nil)
	a := h.createMarket(t, "Same title")
	b := h.createMarket(t, "Same title")
	assert.NotEqual(t, a.ID, b.ID)
	assert.Equal(t, fmt.Sprintf("test:same-title:%d", testClock.UnixMilli()+1), b.ID)

	_, err := h.svc.CreateMarket(context.Background(), MarketSpec{ID: a.ID, Title: "dup"})
	assert.ErrorIs(t, err, domain.ErrAlreadyExists)
}

func TestCreateMarket_Invalid(t *testing.T) {
	h := newHarness(t, MarketServiceConfig{}, nil)
	_, err := h.svc.CreateMarket(context.Background(), MarketSpec{})
	assert.ErrorIs(t, err, domain.ErrInvalidInput)

	_, err = h.svc.CreateMarket(context.Background(), MarketSpec{Title: "x", LiquidityParameter: -1})
	assert.ErrorIs(t, err, domain.ErrInvalidLiquidity)
	assert.Equal(t, 0, h.ledger.Len())
}

func TestQuoteTrade_Pure(t *testing.T) {
	h := newHarness(t, MarketServiceConfig{}, nil)
	m := h.createMarket(t, "quote me")

	q1, err := h.svc.QuoteTrade(context.Background(), m.ID, domain.OutcomeYes, 10)
	require.NoError(t, err)
	q2, err := h.svc.QuoteTrade(context.Background(), m.ID, domain.OutcomeYes, 10)
	require.NoError(t, err)
	assert.Equal(t, q1, q2)
	assert.Equal(t, 5.10413654, q1.FlowAmount)
	assert.Equal(t, 0.51041365, q1.Price)

	after, err := h.svc.GetMarket(context.Background(), m.ID)
	require.NoError(t, err)
	assert.Equal(t, m.Pool, after.Pool)

	_, err = h.svc.QuoteTrade(context.Background(), "missing", domain.OutcomeYes, 1)
	assert.ErrorIs(t, err, domain.ErrMarketNotFound)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	_, err = h.svc.QuoteSell(context.Background(), m.ID, domain.OutcomeYes, 1)
	assert.ErrorIs(t, err, domain.ErrInsufficientSupply)
}

func TestExecuteTrade_BuyTenYes(t *testing.T) {
	h := newHarness(t, MarketServiceConfig{}, nil)
	m := h.createMarket(t, "ten yes")

	res, err := h.svc.ExecuteTrade(context.Background(), buy(m.ID, domain.OutcomeYes, 10, "0xalice"))
	require.NoError(t, err)

	assert.Equal(t, [2]float64{10, 0}, res.Market.Pool.OutcomeSupply)
	assert.Greater(t, res.Market.YesPrice, res.Market.NoPrice)
	assert.Equal(t, 5.10413654, res.Trade.FlowAmount)
	assert.Equal(t, 5.10413654, res.Market.TradeVolume)
	assert.Equal(t, 1, res.Market.TradeCount)
	require.NotNil(t, res.Market.LastTradeAt)
	assert.Equal(t, domain.TxSealed, res.Trade.TxStatus)
	assert.Equal(t, res.Settlement.TxID, res.Trade.TxID)
	require.Len(t, h.settler.calls, 1)
	assert.Equal(t, 5.10413654, h.settler.calls[0].Amount)
	assert.Equal(t, "0xalice", h.settler.calls[0].Signer)

	snap, err := h.store.Load(context.Background())
	require.NoError(t, err)
	require.Len(t, snap.Trades[m.ID], 1)
	assert.Equal(t, res.Trade.ID, snap.Trades[m.ID][0].ID)
	assert.Equal(t, [2]float64{10, 0}, snap.Markets[0].Pool.OutcomeSupply)
}

func TestExecuteTrade_SequentialBuysCostMore(t *testing.T) {
	h := newHarness(t, MarketServiceConfig{}, nil)
	m := h.createMarket(t, "convex")

	first, err := h.svc.ExecuteTrade(context.Background(), buy(m.ID, domain.OutcomeYes, 5, ""))
	require.NoError(t, err)
	second, err := h.svc.ExecuteTrade(context.Background(), buy(m.ID, domain.OutcomeYes, 5, ""))
	require.NoError(t, err)

	assert.Greater(t, second.Trade.Price, first.Trade.Price)
	cumulative := first.Trade.FlowAmount + second.Trade.FlowAmount
	assert.Greater(t, cumulative, 2*first.Trade.FlowAmount)
	assert.InDelta(t, 5.10413654, cumulative, 2e-8)
}

func TestExecuteTrade_InvalidQuantityLeavesStateUntouched(t *testing.T) {
	h := newHarness(t, MarketServiceConfig{}, nil)
	m := h.createMarket(t, "invalid")
	before, err := h.store.Load(context.Background())
	require.NoError(t, err)

	for _, shares := range []float64{0, -3} {
		_, err := h.svc.ExecuteTrade(context.Background(), buy(m.ID, domain.OutcomeYes, shares, ""))
		assert.ErrorIs(t, err, domain.ErrInvalidQuantity)
	}
	assert.Zero(t, h.settler.callCount())

	after, err := h.store.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, before.Markets, after.Markets)
	assert.Equal(t, before.UpdatedAt, after.UpdatedAt)
}

func TestExecuteTrade_SettlementFailureNoMutation(t *testing.T) {
	tests := []struct {
		name   string
		status domain.TxStatus
		err    error
	}{
		{name: "provider error", err: errors.New("relayer down")},
		{name: "failed status", status: domain.TxFailed},
		{name: "pending status", status: domain.TxPending},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, MarketServiceConfig{}, nil)
			m := h.createMarket(t, "settle")
			h.settler.status = tt.status
			h.settler.err = tt.err

			_, err := h.svc.ExecuteTrade(context.Background(), buy(m.ID, domain.OutcomeYes, 5, ""))
			require.ErrorIs(t, err, domain.ErrSettlementFailed)

			got, err := h.svc.GetMarket(context.Background(), m.ID)
			require.NoError(t, err)
			assert.Equal(t, m.Pool, got.Pool)
			assert.Zero(t, got.TradeCount)
			trades, err := h.svc.ListTrades(context.Background(), m.ID, 0)
			require.NoError(t, err)
			assert.Empty(t, trades)
			assert.True(t, h.notifier.has(EventSettlementFailed))
		})
	}
}

func TestExecuteTrade_ClosedMarket(t *testing.T) {
	h := newHarness(t, MarketServiceConfig{}, nil)
	m := h.createMarket(t, "closed")
	_, err := h.svc.ResolveMarket(context.Background(), m.ID, domain.OutcomeNo)
	require.NoError(t, err)

	_, err = h.svc.ExecuteTrade(context.Background(), buy(m.ID, domain.OutcomeYes, 1, ""))
	assert.ErrorIs(t, err, domain.ErrMarketClosed)
	assert.Zero(t, h.settler.callCount())

	_, err = h.svc.ExecuteTrade(context.Background(), buy("nope", domain.OutcomeYes, 1, ""))
	assert.ErrorIs(t, err, domain.ErrMarketNotFound)
}

func TestExecuteTrade_PersistenceFailureBestEffort(t *testing.T) {
	h := newHarness(t, MarketServiceConfig{}, &failingStore{})
	m, err := h.svc.CreateMarket(context.Background(), MarketSpec{Title: "best effort"})
	require.ErrorIs(t, err, domain.ErrPersistenceUnavailable)
	require.NotEmpty(t, m.ID)

	res, err := h.svc.ExecuteTrade(context.Background(), buy(m.ID, domain.OutcomeYes, 5, ""))
	require.ErrorIs(t, err, domain.ErrPersistenceUnavailable)
	assert.Equal(t, 2.52603978, res.Trade.FlowAmount)

	got, err := h.svc.GetMarket(context.Background(), m.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.TradeCount)
	assert.True(t, h.notifier.has(EventPersistenceUnavailable))
}

func TestExecuteTrade_StrictPersistenceAborts(t *testing.T) {
	store := &failingStore{}
	h := newHarness(t, MarketServiceConfig{StrictPersistence: true}, store)

	_, err := h.svc.CreateMarket(context.Background(), MarketSpec{Title: "strict"})
	require.ErrorIs(t, err, domain.ErrPersistenceUnavailable)
	assert.Equal(t, 0, h.ledger.Len())

	// Seed the ledger directly so the trade path can be exercised.
	m := domain.Market{ID: "strict:1", Title: "strict", IsActive: true, Pool: domain.PoolState{LiquidityParameter: 120}}
	require.NoError(t, h.ledger.Insert(m))

	_, err = h.svc.ExecuteTrade(context.Background(), buy(m.ID, domain.OutcomeYes, 5, ""))
	require.ErrorIs(t, err, domain.ErrPersistenceUnavailable)
	assert.Equal(t, 1, h.settler.callCount())
	assert.True(t, h.notifier.has(EventSettlementOrphaned))

	got, err := h.svc.GetMarket(context.Background(), m.ID)
	require.NoError(t, err)
	assert.Zero(t, got.TradeCount)
	assert.Equal(t, [2]float64{0, 0}, got.Pool.OutcomeSupply)
}

func TestResolveMarket_StrictPersistenceAborts(t *testing.T) {
	h := newHarness(t, MarketServiceConfig{StrictPersistence: true}, &failingStore{})
	m := domain.Market{ID: "strict:resolve", Title: "strict resolve", IsActive: true, Pool: domain.PoolState{LiquidityParameter: 120}}
	require.NoError(t, h.ledger.Insert(m))

	got, err := h.svc.ResolveMarket(context.Background(), m.ID, domain.OutcomeYes)
	require.ErrorIs(t, err, domain.ErrPersistenceUnavailable)
	assert.Equal(t, domain.Market{}, got)
	assert.False(t, h.notifier.has(EventMarketResolved))

	stored, err := h.ledger.Get(m.ID)
	require.NoError(t, err)
	assert.False(t, stored.IsResolved)
	assert.True(t, stored.IsActive)
	assert.Nil(t, stored.Outcome)
}

func TestResolveMarket_Terminal(t *testing.T) {
	h := newHarness(t, MarketServiceConfig{}, nil)
	m := h.createMarket(t, "terminal")

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		won      []domain.Outcome
		rejected int
	)
	for i := 0; i < 40; i++ {
		outcome := domain.OutcomeYes
		if i%2 == 1 {
			outcome = domain.OutcomeNo
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := h.svc.ResolveMarket(context.Background(), m.ID, outcome)
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				won = append(won, outcome)
				return
			}
			assert.ErrorIs(t, err, domain.ErrMarketClosed)
			rejected++
		}()
	}
	wg.Wait()
	require.Len(t, won, 1)
	assert.Equal(t, 39, rejected)

	got, err := h.svc.GetMarket(context.Background(), m.ID)
	require.NoError(t, err)
	require.NotNil(t, got.Outcome)
	assert.Equal(t, won[0], *got.Outcome)

	other := domain.OutcomeNo
	if won[0] == domain.OutcomeNo {
		other = domain.OutcomeYes
	}
	reopen := false
	_, err = h.svc.UpdateMarket(context.Background(), m.ID, domain.MarketPatch{IsResolved: &reopen})
	assert.ErrorIs(t, err, domain.ErrMarketClosed)
	_, err = h.svc.UpdateMarket(context.Background(), m.ID, domain.MarketPatch{Outcome: &other})
	assert.ErrorIs(t, err, domain.ErrMarketClosed)

	same := won[0]
	value := 3.5
	got, err = h.svc.UpdateMarket(context.Background(), m.ID, domain.MarketPatch{
		Outcome:     &same,
		CurrentData: &domain.CurrentDataPatch{Value: &value},
	})
	require.NoError(t, err, "data patches on a resolved market are allowed")
	assert.True(t, got.IsResolved)
	assert.Equal(t, 3.5, got.CurrentData.Value)
	assert.Equal(t, won[0], *got.Outcome)
}

func TestExecuteTrade_ConcurrentSameMarket(t *testing.T) {
	h := newHarness(t, MarketServiceConfig{}, nil)
	m := h.createMarket(t, "busy")

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := h.svc.ExecuteTrade(context.Background(), buy(m.ID, domain.OutcomeYes, 1, ""))
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	got, err := h.svc.GetMarket(context.Background(), m.ID)
	require.NoError(t, err)
	assert.Equal(t, 20, got.TradeCount)
	assert.Equal(t, [2]float64{20, 0}, got.Pool.OutcomeSupply)

	snap, err := h.store.Load(context.Background())
	require.NoError(t, err)
	assert.Len(t, snap.Trades[m.ID], 20)
	assert.Equal(t, 20, snap.Markets[0].TradeCount)
}

func TestLoad_RestoresAfterRestart(t *testing.T) {
	h := newHarness(t, MarketServiceConfig{}, nil)
	m := h.createMarket(t, "restart")
	_, err := h.svc.ExecuteTrade(context.Background(), buy(m.ID, domain.OutcomeNo, 3, "0xbob"))
	require.NoError(t, err)

	l := ledger.New(ledger.DefaultHotCap, quietLogger())
	restarted := NewMarketService(l, h.store, h.settler, MarketServiceConfig{}, MarketServiceDeps{}, quietLogger())
	require.NoError(t, restarted.Load(context.Background()))

	got, err := restarted.GetMarket(context.Background(), m.ID)
	require.NoError(t, err)
	assert.Equal(t, [2]float64{0, 3}, got.Pool.OutcomeSupply)
	trades, err := restarted.ListTrades(context.Background(), m.ID, 0)
	require.NoError(t, err)
	require.Len(t, trades, 1)
	assert.Equal(t, "0xbob", *trades[0].Signer)
}

func TestListTrades_LimitAndOrder(t *testing.T) {
	h := newHarness(t, MarketServiceConfig{}, nil)
	m := h.createMarket(t, "history")
	for i := 1; i <= 5; i++ {
		_, err := h.svc.ExecuteTrade(context.Background(), buy(m.ID, domain.OutcomeYes, float64(i), ""))
		require.NoError(t, err)
	}

	last, err := h.svc.ListTrades(context.Background(), m.ID, 2)
	require.NoError(t, err)
	require.Len(t, last, 2)
	assert.Equal(t, 4.0, last[0].Shares)
	assert.Equal(t, 5.0, last[1].Shares)

	all, err := h.svc.ListTrades(context.Background(), m.ID, 1000)
	require.NoError(t, err)
	assert.Len(t, all, 5)

	_, err = h.svc.ListTrades(context.Background(), "missing", 1)
	assert.ErrorIs(t, err, domain.ErrMarketNotFound)
}

func TestLeaderboard_TradeFlow(t *testing.T) {
	h := newHarness(t, MarketServiceConfig{}, nil)
	a := h.createMarket(t, "a")
	b := h.createMarket(t, "b")

	for _, req := range []domain.TradeRequest{
		buy(a.ID, domain.OutcomeYes, 5, "0xalice"),
		buy(b.ID, domain.OutcomeNo, 3, "0xbob"),
		buy(a.ID, domain.OutcomeYes, 5, "0xalice"),
		buy(b.ID, domain.OutcomeYes, 1, ""),
	} {
		_, err := h.svc.ExecuteTrade(context.Background(), req)
		require.NoError(t, err)
	}

	board := h.svc.Leaderboard(context.Background(), 0)
	require.Len(t, board, 2)
	assert.Equal(t, "0xalice", board[0].Address)
	assert.Equal(t, 1, board[0].Rank)
	assert.Equal(t, domain.BasisTradeFlow, board[0].Basis)
	assert.InDelta(t, 5.10413654, board[0].Score, 2e-8)
	assert.Equal(t, "0xbob", board[1].Address)
	assert.Equal(t, 2, board[1].Rank)

	top := h.svc.Leaderboard(context.Background(), 1)
	assert.Len(t, top, 1)
}

func TestLeaderboard_SyntheticFallback(t *testing.T) {
	h := newHarness(t, MarketServiceConfig{}, nil)
	assert.Empty(t, h.svc.Leaderboard(context.Background(), 0))

	participants := 90
	_, err := h.svc.CreateMarket(context.Background(), MarketSpec{Title: "low", CurrentValue: 10})
	require.NoError(t, err)
	_, err = h.svc.CreateMarket(context.Background(), MarketSpec{Title: "high", CurrentValue: 30, Participants: &participants})
	require.NoError(t, err)
	_, err = h.svc.CreateMarket(context.Background(), MarketSpec{Title: "negative", CurrentValue: -4})
	require.NoError(t, err)

	board := h.svc.Leaderboard(context.Background(), 0)
	require.Len(t, board, 3)
	for i, e := range board {
		assert.Equal(t, domain.BasisSynthetic, e.Basis)
		assert.Equal(t, i+1, e.Rank)
	}
	assert.Equal(t, "0xmeta0002", board[0].Address)
	assert.Equal(t, 60.0, board[0].Score)
	assert.Equal(t, "0xmeta0001", board[1].Address)
	assert.Equal(t, 10.0, board[1].Score)
	assert.Equal(t, "0xmeta0003", board[2].Address)
	assert.Zero(t, board[2].Score)
}

func TestUpdateAndResolveMarket(t *testing.T) {
	h := newHarness(t, MarketServiceConfig{}, nil)
	m := h.createMarket(t, "oracle")

	value := 47.25
	participants := 310
	observed := testClock.Add(-time.Hour)
	got, err := h.svc.UpdateMarket(context.Background(), m.ID, domain.MarketPatch{
		CurrentData: &domain.CurrentDataPatch{Value: &value, Participants: &participants, LastUpdate: observed},
	})
	require.NoError(t, err)
	assert.Equal(t, 47.25, got.CurrentData.Value)
	assert.Equal(t, 310, *got.CurrentData.Participants)
	assert.Equal(t, observed, got.CurrentData.LastUpdate)
	assert.Equal(t, "24h", got.CurrentData.TimeRemaining)

	resolved, err := h.svc.ResolveMarket(context.Background(), m.ID, domain.OutcomeYes)
	require.NoError(t, err)
	assert.True(t, resolved.IsResolved)
	assert.False(t, resolved.IsActive)
	require.NotNil(t, resolved.Outcome)
	assert.Equal(t, domain.OutcomeYes, *resolved.Outcome)
	require.NotNil(t, resolved.ResolvedAt)
	assert.True(t, h.notifier.has(EventMarketResolved))

	_, err = h.svc.ResolveMarket(context.Background(), m.ID, domain.OutcomeNo)
	assert.ErrorIs(t, err, domain.ErrMarketClosed)
	_, err = h.svc.ResolveMarket(context.Background(), m.ID, domain.Outcome("MAYBE"))
	assert.ErrorIs(t, err, domain.ErrInvalidOutcome)
	_, err = h.svc.UpdateMarket(context.Background(), "missing", domain.MarketPatch{})
	assert.ErrorIs(t, err, domain.ErrMarketNotFound)
}

func TestMarketTemplates(t *testing.T) {
	h := newHarness(t, MarketServiceConfig{}, nil)
	ctx := context.Background()
	ms := testClock.UnixMilli()

	avg, err := h.svc.CreateAverageScoreMarket(ctx, 45)
	require.NoError(t, err)
	assert.Equal(t, fmt.Sprintf("aisports:avg-score:45:%d", ms), avg.ID)
	assert.Equal(t, "Will the average fantasy score exceed 45?", avg.Title)
	assert.Equal(t, "Current value: 42.5. Data provided by aiSports Escrow", avg.Description)
	assert.Equal(t, domain.CategoryMeta, avg.Category)
	assert.Equal(t, "greater_than", avg.OracleConfig.ComparisonType)
	assert.True(t, avg.AccessRequirements.RequiresActiveParticipation)
	assert.Equal(t, 150, *avg.CurrentData.Participants)

	user, err := h.svc.CreateUserPerformanceMarket(ctx, "alice", "0xalice", "daily")
	require.NoError(t, err)
	assert.Equal(t, fmt.Sprintf("aisports:user:alice:%d", ms), user.ID)
	assert.Equal(t, "Will @alice reach the top 20% within the day?", user.Title)
	assert.Equal(t, testClock.Add(24*time.Hour), user.ResolutionTime)
	assert.Equal(t, 20.0, user.AccessRequirements.MinimumFantasyScore)

	weekly, err := h.svc.CreateUserPerformanceMarket(ctx, "bob", "0xbob", "")
	require.NoError(t, err)
	assert.Equal(t, "Will @bob reach the top 10% within the week?", weekly.Title)
	assert.Equal(t, testClock.Add(168*time.Hour), weekly.ResolutionTime)

	_, err = h.svc.CreateUserPerformanceMarket(ctx, "bob", "0xbob", "monthly")
	assert.ErrorIs(t, err, domain.ErrInvalidInput)

	nft, err := h.svc.CreateNftPerformanceMarket(ctx)
	require.NoError(t, err)
	assert.Equal(t, domain.CategoryNFT, nft.Category)
	assert.Len(t, nft.AccessRequirements.RequiredNftRarity, 5)

	community, err := h.svc.CreateCommunityMarket(ctx, MetricPrizePool, 3000)
	require.NoError(t, err)
	assert.Equal(t, "Will Prize pool size exceed 3000?", community.Title)
	assert.Equal(t, "Current value: 2500. Updated every 24 hours", community.Description)
	assert.Equal(t, "aiSports.community.prize_pool", community.OracleConfig.DataSource)

	_, err = h.svc.CreateCommunityMarket(ctx, "vibes", 1)
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestMarketTemplates_NoStats(t *testing.T) {
	h := newHarness(t, MarketServiceConfig{}, nil)
	h.svc.deps.Stats = nil

	_, err := h.svc.CreateAverageScoreMarket(context.Background(), 45)
	assert.ErrorIs(t, err, domain.ErrStatsUnavailable)
	_, err = h.svc.CreateCommunityMarket(context.Background(), MetricParticipants, 200)
	assert.ErrorIs(t, err, domain.ErrStatsUnavailable)
	_, err = h.svc.GetMarketsForAddress(context.Background(), "0xalice")
	assert.ErrorIs(t, err, domain.ErrStatsUnavailable)
	assert.Equal(t, 0, h.ledger.Len())
}

func TestSeedMarkets(t *testing.T) {
	h := newHarness(t, MarketServiceConfig{SeedMarkets: true}, nil)
	assert.Equal(t, 3, h.svc.SeedMarkets(context.Background()))
	assert.Equal(t, 3, h.ledger.Len())
	assert.Zero(t, h.svc.SeedMarkets(context.Background()))

	noStats := newHarness(t, MarketServiceConfig{SeedMarkets: true}, nil)
	noStats.svc.deps.Stats = nil
	assert.Equal(t, 1, noStats.svc.SeedMarkets(context.Background()))

	disabled := newHarness(t, MarketServiceConfig{}, nil)
	assert.Zero(t, disabled.svc.SeedMarkets(context.Background()))
}

func TestHasAccess(t *testing.T) {
	tests := []struct {
		name    string
		req     domain.AccessRequirements
		profile domain.UserProfile
		want    bool
	}{
		{name: "open market", want: true},
		{name: "score below minimum", req: domain.AccessRequirements{MinimumFantasyScore: 20}, profile: domain.UserProfile{FantasyScore: 19}},
		{name: "score at minimum", req: domain.AccessRequirements{MinimumFantasyScore: 20}, profile: domain.UserProfile{FantasyScore: 20}, want: true},
		{name: "juice below minimum", req: domain.AccessRequirements{MinimumJuiceBalance: 100}, profile: domain.UserProfile{JuiceBalance: 50}},
		{name: "rarity match", req: domain.AccessRequirements{RequiredNftRarity: []string{"Epic", "Legendary"}}, profile: domain.UserProfile{NftRarities: []string{"Common", "Epic"}}, want: true},
		{name: "rarity missing", req: domain.AccessRequirements{RequiredNftRarity: []string{"Epic"}}, profile: domain.UserProfile{NftRarities: []string{"Common"}}},
		{name: "inactive user", req: domain.AccessRequirements{RequiresActiveParticipation: true}},
		{name: "active by balance", req: domain.AccessRequirements{RequiresActiveParticipation: true}, profile: domain.UserProfile{JuiceBalance: 1}, want: true},
		{name: "active by nft", req: domain.AccessRequirements{RequiresActiveParticipation: true}, profile: domain.UserProfile{NftRarities: []string{"Rare"}}, want: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, HasAccess(domain.Market{AccessRequirements: tt.req}, tt.profile))
		})
	}
}

func TestGetMarketsForAddress(t *testing.T) {
	h := newHarness(t, MarketServiceConfig{}, nil)
	ctx := context.Background()
	_, err := h.svc.CreateAverageScoreMarket(ctx, 45)
	require.NoError(t, err)
	_, err = h.svc.CreateNftPerformanceMarket(ctx)
	require.NoError(t, err)
	h.createMarket(t, "open")

	h.stats.SetProfile(domain.UserProfile{Address: "0xalice", FantasyScore: 30})
	visible, err := h.svc.GetMarketsForAddress(ctx, "0xalice")
	require.NoError(t, err)
	assert.Len(t, visible, 2)

	visible, err = h.svc.GetMarketsForAddress(ctx, "0xnobody")
	require.NoError(t, err)
	require.Len(t, visible, 1)
	assert.Equal(t, "open", visible[0].Title)
}
