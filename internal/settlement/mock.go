// Package settlement provides the external settlement providers that
// confirm the monetary side of each trade.
package settlement

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"
	mrand "math/rand/v2"
	"strconv"
	"sync"
	"time"

	"github.com/alanyoungcy/metamarket/internal/crypto"
	"github.com/alanyoungcy/metamarket/internal/domain"
)

const (
	mockStartHeight    = 1_000_000
	mockInitialBalance = 10_000.0
)

// MockConfig tunes the simulated provider.
type MockConfig struct {
	// FailureRate in [0,1] is the probability a submission comes back failed.
	FailureRate float64
	Latency     time.Duration
	// Signer, when set, signs every sealed receipt.
	Signer *crypto.Signer
	// Rand overrides the failure dice, for tests.
	Rand func() float64
	Now  func() time.Time
}

// Mock is an in-process settlement provider with simulated balances.
type Mock struct {
	cfg    MockConfig
	logger *slog.Logger

	mu       sync.Mutex
	height   uint64
	balances map[string]float64
	history  map[string]domain.SettlementResult
}

var _ domain.SettlementProvider = (*Mock)(nil)

// NewMock creates a mock provider.
func NewMock(cfg MockConfig, logger *slog.Logger) *Mock {
	if cfg.Rand == nil {
		cfg.Rand = mrand.Float64
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Mock{
		cfg:      cfg,
		logger:   logger.With(slog.String("component", "settlement_mock")),
		height:   mockStartHeight,
		balances: make(map[string]float64),
		history:  make(map[string]domain.SettlementResult),
	}
}

// Mode implements domain.SettlementProvider.
func (m *Mock) Mode() string { return "mock" }

// Submit simulates placing a bet. Failures are reported through the result
// status, not the error.
func (m *Mock) Submit(ctx context.Context, req domain.SettlementRequest) (domain.SettlementResult, error) {
	if m.cfg.Latency > 0 {
		t := time.NewTimer(m.cfg.Latency)
		defer t.Stop()
		select {
		case <-t.C:
		case <-ctx.Done():
			return domain.SettlementResult{}, fmt.Errorf("settlement/mock: submit: %w", ctx.Err())
		}
	}

	txID, err := newTxID()
	if err != nil {
		return domain.SettlementResult{}, fmt.Errorf("settlement/mock: tx id: %w", err)
	}
	signer := req.Signer
	if signer == "" {
		signer = "anonymous"
	}
	req.Signer = signer

	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.cfg.Now().UTC()
	res := domain.SettlementResult{TxID: txID, Timestamp: now}

	if m.cfg.FailureRate > 0 && m.cfg.Rand() < m.cfg.FailureRate {
		res.Status = domain.TxFailed
		res.Error = "simulated transaction failure"
		m.history[txID] = res
		m.logger.WarnContext(ctx, "simulated settlement failure",
			slog.String("tx_id", txID),
			slog.String("market_id", req.MarketID),
		)
		return res, nil
	}

	bal, ok := m.balances[signer]
	if !ok {
		bal = mockInitialBalance
	}
	if req.IsBuy {
		if bal < req.Amount {
			res.Status = domain.TxFailed
			res.Error = "insufficient balance"
			m.history[txID] = res
			return res, nil
		}
		bal -= req.Amount
	} else {
		bal += req.Amount
	}
	m.balances[signer] = bal

	m.height++
	height := m.height
	res.Status = domain.TxSealed
	res.BlockHeight = &height
	res.Events = []domain.SettlementEvent{{
		Type: "BetPlaced",
		Data: map[string]any{
			"marketId": req.MarketID,
			"outcome":  string(req.Outcome),
			"amount":   req.Amount,
			"user":     signer,
			"isBuy":    req.IsBuy,
		},
	}}

	if m.cfg.Signer != nil {
		sig, err := m.cfg.Signer.SignReceipt(ReceiptFor(req, res))
		if err != nil {
			return domain.SettlementResult{}, fmt.Errorf("settlement/mock: sign receipt: %w", err)
		}
		res.Signature = sig
	}

	m.history[txID] = res
	return res, nil
}

// Status looks up a previously submitted transaction.
func (m *Mock) Status(txID string) (domain.SettlementResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	res, ok := m.history[txID]
	if !ok {
		return domain.SettlementResult{}, fmt.Errorf("settlement/mock: transaction %s: %w", txID, domain.ErrNotFound)
	}
	return res, nil
}

// Balance returns the simulated balance of a signer.
func (m *Mock) Balance(signer string) float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	if b, ok := m.balances[signer]; ok {
		return b
	}
	return mockInitialBalance
}

// ReceiptFor builds the signed receipt payload for a sealed result.
func ReceiptFor(req domain.SettlementRequest, res domain.SettlementResult) crypto.Receipt {
	var h uint64
	if res.BlockHeight != nil {
		h = *res.BlockHeight
	}
	return crypto.Receipt{
		TxID:        res.TxID,
		MarketID:    req.MarketID,
		Outcome:     string(req.Outcome),
		Signer:      req.Signer,
		Amount:      strconv.FormatFloat(req.Amount, 'f', 8, 64),
		BlockHeight: h,
		Timestamp:   res.Timestamp.Unix(),
	}
}

func newTxID() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return "0x" + hex.EncodeToString(b), nil
}
