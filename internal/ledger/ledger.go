// Package ledger holds the authoritative in-memory market state and the hot
// window of recent trades per market.
//
// Retention: each market keeps at most HotCap trades in memory and in the
// snapshot. Older trades are handed back to the caller on AppendTrade so they
// can be archived; when no archive is configured they are dropped.
package ledger

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/alanyoungcy/metamarket/internal/domain"
)

// DefaultHotCap is the default number of trades kept per market.
const DefaultHotCap = 50

type entry struct {
	market domain.Market
	trades []domain.Trade
	seq    int
}

// Ledger is safe for concurrent use. Reads take a shared lock; callers doing
// read-modify-write on one market must also hold that market's Lock.
type Ledger struct {
	mu      sync.RWMutex
	entries map[string]*entry
	nextSeq int

	locksMu sync.Mutex
	locks   map[string]*sync.Mutex

	hotCap int
	logger *slog.Logger
}

// New creates an empty ledger. A non-positive hotCap selects DefaultHotCap.
func New(hotCap int, logger *slog.Logger) *Ledger {
	if hotCap <= 0 {
		hotCap = DefaultHotCap
	}
	return &Ledger{
		entries: make(map[string]*entry),
		locks:   make(map[string]*sync.Mutex),
		hotCap:  hotCap,
		logger:  logger.With(slog.String("component", "ledger")),
	}
}

// HotCap returns the per-market trade window size.
func (l *Ledger) HotCap() int { return l.hotCap }

// Lock acquires the per-market execution mutex and returns its release func.
func (l *Ledger) Lock(id string) func() {
	l.locksMu.Lock()
	m, ok := l.locks[id]
	if !ok {
		m = &sync.Mutex{}
		l.locks[id] = m
	}
	l.locksMu.Unlock()

	m.Lock()
	return m.Unlock
}

// Get returns a copy of the market with the given id.
func (l *Ledger) Get(id string) (domain.Market, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	e, ok := l.entries[id]
	if !ok {
		return domain.Market{}, fmt.Errorf("ledger: get %q: %w", id, domain.ErrMarketNotFound)
	}
	return e.market.Clone(), nil
}

// List returns copies of all markets in creation order.
func (l *Ledger) List() []domain.Market {
	l.mu.RLock()
	defer l.mu.RUnlock()

	ordered := l.orderedLocked()
	out := make([]domain.Market, 0, len(ordered))
	for _, e := range ordered {
		out = append(out, e.market.Clone())
	}
	return out
}

// Len returns the number of markets.
func (l *Ledger) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.entries)
}

// Insert adds a new market with an empty trade list.
func (l *Ledger) Insert(m domain.Market) error {
	if m.ID == "" {
		return fmt.Errorf("ledger: insert: empty market id")
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.entries[m.ID]; ok {
		return fmt.Errorf("ledger: insert %q: %w", m.ID, domain.ErrAlreadyExists)
	}
	l.entries[m.ID] = &entry{market: m.Clone(), seq: l.nextSeq}
	l.nextSeq++
	return nil
}

// ReplaceState overwrites the stored market with m.
func (l *Ledger) ReplaceState(id string, m domain.Market) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	e, ok := l.entries[id]
	if !ok {
		return fmt.Errorf("ledger: replace %q: %w", id, domain.ErrMarketNotFound)
	}
	m.ID = id
	e.market = m.Clone()
	return nil
}

// AppendTrade appends a trade to the market's hot window and returns any
// trades evicted from the front of the window.
func (l *Ledger) AppendTrade(id string, t domain.Trade) ([]domain.Trade, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	e, ok := l.entries[id]
	if !ok {
		return nil, fmt.Errorf("ledger: append trade %q: %w", id, domain.ErrMarketNotFound)
	}
	return l.appendLocked(e, t), nil
}

// Commit replaces the market state and appends the trade in one critical
// section so readers never observe one without the other.
func (l *Ledger) Commit(m domain.Market, t domain.Trade) ([]domain.Trade, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	e, ok := l.entries[m.ID]
	if !ok {
		return nil, fmt.Errorf("ledger: commit %q: %w", m.ID, domain.ErrMarketNotFound)
	}
	e.market = m.Clone()
	return l.appendLocked(e, t), nil
}

func (l *Ledger) appendLocked(e *entry, t domain.Trade) []domain.Trade {
	e.trades = append(e.trades, t.Clone())
	if over := len(e.trades) - l.hotCap; over > 0 {
		evicted := make([]domain.Trade, over)
		copy(evicted, e.trades[:over])
		kept := make([]domain.Trade, l.hotCap)
		copy(kept, e.trades[over:])
		e.trades = kept
		l.logger.Debug("trades evicted from hot window",
			slog.String("market_id", e.market.ID),
			slog.Int("count", over),
		)
		return evicted
	}
	return nil
}

// Trades returns up to limit of the most recent trades, oldest first. A
// non-positive limit returns the whole hot window.
func (l *Ledger) Trades(id string, limit int) ([]domain.Trade, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	e, ok := l.entries[id]
	if !ok {
		return nil, fmt.Errorf("ledger: trades %q: %w", id, domain.ErrMarketNotFound)
	}
	src := e.trades
	if limit > 0 && limit < len(src) {
		src = src[len(src)-limit:]
	}
	return cloneTrades(src), nil
}

// AllTrades returns every hot trade across all markets, markets in creation
// order and trades oldest first within each market.
func (l *Ledger) AllTrades() []domain.Trade {
	l.mu.RLock()
	defer l.mu.RUnlock()

	var out []domain.Trade
	for _, e := range l.orderedLocked() {
		out = append(out, cloneTrades(e.trades)...)
	}
	return out
}

// Snapshot captures a consistent view of the whole ledger.
func (l *Ledger) Snapshot(now time.Time) domain.Snapshot {
	l.mu.RLock()
	defer l.mu.RUnlock()

	ordered := l.orderedLocked()
	snap := domain.Snapshot{
		Version:   domain.SnapshotVersion,
		UpdatedAt: now.UTC(),
		Markets:   make([]domain.Market, 0, len(ordered)),
		Trades:    make(map[string][]domain.Trade, len(ordered)),
	}
	for _, e := range ordered {
		snap.Markets = append(snap.Markets, e.market.Clone())
		snap.Trades[e.market.ID] = cloneTrades(e.trades)
	}
	return snap
}

// Restore replaces the ledger contents with snap. Trade lists longer than the
// hot window are trimmed to the most recent entries.
func (l *Ledger) Restore(snap domain.Snapshot) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.entries = make(map[string]*entry, len(snap.Markets))
	l.nextSeq = 0
	for _, m := range snap.Markets {
		trades := snap.Trades[m.ID]
		if over := len(trades) - l.hotCap; over > 0 {
			trades = trades[over:]
		}
		l.entries[m.ID] = &entry{
			market: m.Clone(),
			trades: cloneTrades(trades),
			seq:    l.nextSeq,
		}
		l.nextSeq++
	}
}

func (l *Ledger) orderedLocked() []*entry {
	out := make([]*entry, 0, len(l.entries))
	for _, e := range l.entries {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].seq < out[j].seq })
	return out
}

func cloneTrades(src []domain.Trade) []domain.Trade {
	out := make([]domain.Trade, len(src))
	for i, t := range src {
		out[i] = t.Clone()
	}
	return out
}
