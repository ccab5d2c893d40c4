package ledger

import (
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/metamarket/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func market(id string) domain.Market {
	return domain.Market{
		ID:       id,
		Title:    "market " + id,
		Type:     domain.MarketTypeYesNo,
		IsActive: true,
		Pool:     domain.PoolState{LiquidityParameter: 120},
		YesPrice: 0.5,
		NoPrice:  0.5,
	}
}

func trade(marketID string, n int) domain.Trade {
	return domain.Trade{
		ID:         fmt.Sprintf("t-%d", n),
		MarketID:   marketID,
		Outcome:    domain.OutcomeYes,
		Shares:     1,
		FlowAmount: float64(n),
		IsBuy:      true,
		CreatedAt:  time.Unix(int64(n), 0).UTC(),
	}
}

func TestLedger_InsertGetList(t *testing.T) {
	l := New(0, testLogger())
	require.NoError(t, l.Insert(market("b")))
	require.NoError(t, l.Insert(market("a")))

	err := l.Insert(market("a"))
	require.ErrorIs(t, err, domain.ErrAlreadyExists)

	got, err := l.Get("a")
	require.NoError(t, err)
	assert.Equal(t, "market a", got.Title)

	_, err = l.Get("missing")
	require.ErrorIs(t, err, domain.ErrMarketNotFound)
	require.ErrorIs(t, err, domain.ErrNotFound)

	list := l.List()
	require.Len(t, list, 2)
	assert.Equal(t, "b", list[0].ID)
	assert.Equal(t, "a", list[1].ID)
}

func TestLedger_GetReturnsCopy(t *testing.T) {
	l := New(0, testLogger())
	m := market("x")
	p := 10
	m.CurrentData.Participants = &p
	require.NoError(t, l.Insert(m))

	got, err := l.Get("x")
	require.NoError(t, err)
	got.Title = "mutated"
	*got.CurrentData.Participants = 99

	again, err := l.Get("x")
	require.NoError(t, err)
	assert.Equal(t, "market x", again.Title)
	assert.Equal(t, 10, *again.CurrentData.Participants)
}

func TestLedger_HotWindowCap(t *testing.T) {
	l := New(3, testLogger())
	require.NoError(t, l.Insert(market("m")))

	var evicted []domain.Trade
	for i := 1; i <= 5; i++ {
		ev, err := l.AppendTrade("m", trade("m", i))
		require.NoError(t, err)
		evicted = append(evicted, ev...)
	}

	trades, err := l.Trades("m", 0)
	require.NoError(t, err)
	require.Len(t, trades, 3)
	assert.Equal(t, "t-3", trades[0].ID)
	assert.Equal(t, "t-5", trades[2].ID)

	require.Len(t, evicted, 2)
	assert.Equal(t, "t-1", evicted[0].ID)
	assert.Equal(t, "t-2", evicted[1].ID)

	last2, err := l.Trades("m", 2)
	require.NoError(t, err)
	require.Len(t, last2, 2)
	assert.Equal(t, "t-4", last2[0].ID)
	assert.Equal(t, "t-5", last2[1].ID)
}

func TestLedger_CommitIsAtomic(t *testing.T) {
	l := New(0, testLogger())
	require.NoError(t, l.Insert(market("m")))

	m, err := l.Get("m")
	require.NoError(t, err)
	m.TradeCount = 1
	m.TradeVolume = 2.5

	_, err = l.Commit(m, trade("m", 1))
	require.NoError(t, err)

	got, err := l.Get("m")
	require.NoError(t, err)
	assert.Equal(t, 1, got.TradeCount)
	trades, err := l.Trades("m", 0)
	require.NoError(t, err)
	assert.Len(t, trades, 1)

	_, err = l.Commit(market("nope"), trade("nope", 1))
	require.ErrorIs(t, err, domain.ErrMarketNotFound)
}

func TestLedger_SnapshotRestoreRoundTrip(t *testing.T) {
	l := New(0, testLogger())
	require.NoError(t, l.Insert(market("m1")))
	require.NoError(t, l.Insert(market("m2")))
	_, err := l.AppendTrade("m1", trade("m1", 1))
	require.NoError(t, err)

	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	snap := l.Snapshot(now)
	assert.Equal(t, domain.SnapshotVersion, snap.Version)
	assert.Equal(t, now, snap.UpdatedAt)
	require.Len(t, snap.Markets, 2)
	assert.Len(t, snap.Trades["m1"], 1)
	assert.Empty(t, snap.Trades["m2"])

	restored := New(0, testLogger())
	restored.Restore(snap)
	assert.Equal(t, l.List(), restored.List())
	assert.Equal(t, l.AllTrades(), restored.AllTrades())
}

func TestLedger_RestoreTrimsToHotCap(t *testing.T) {
	snap := domain.Snapshot{
		Version: 1,
		Markets: []domain.Market{market("m")},
		Trades:  map[string][]domain.Trade{"m": {trade("m", 1), trade("m", 2), trade("m", 3)}},
	}
	l := New(2, testLogger())
	l.Restore(snap)

	trades, err := l.Trades("m", 0)
	require.NoError(t, err)
	require.Len(t, trades, 2)
	assert.Equal(t, "t-2", trades[0].ID)
}

func TestLedger_LockSerialisesPerMarket(t *testing.T) {
	l := New(0, testLogger())
	require.NoError(t, l.Insert(market("m")))

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := l.Lock("m")
			defer unlock()

			m, err := l.Get("m")
			if err != nil {
				return
			}
			m.TradeCount++
			_ = l.ReplaceState("m", m)
		}()
	}
	wg.Wait()

	got, err := l.Get("m")
	require.NoError(t, err)
	assert.Equal(t, 50, got.TradeCount)
}
