package handler

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/metamarket/internal/domain"
)

type fakeTrades struct {
	result domain.ExecutionResult
	err    error
	got    domain.TradeRequest
}

func (f *fakeTrades) QuoteTrade(context.Context, string, domain.Outcome, float64) (domain.Quote, error) {
	return domain.Quote{}, nil
}

func (f *fakeTrades) QuoteSell(context.Context, string, domain.Outcome, float64) (domain.Quote, error) {
	return domain.Quote{}, nil
}

func (f *fakeTrades) ExecuteTrade(_ context.Context, req domain.TradeRequest) (domain.ExecutionResult, error) {
	f.got = req
	return f.result, f.err
}

func (f *fakeTrades) ListTrades(context.Context, string, int) ([]domain.Trade, error) {
	return nil, nil
}

type fakeAudit struct {
	entries []domain.AuditEntry
	opts    domain.ListOpts
}

func (f *fakeAudit) List(_ context.Context, opts domain.ListOpts) ([]domain.AuditEntry, error) {
	f.opts = opts
	return f.entries, nil
}

type emptyBoard struct{}

func (emptyBoard) Leaderboard(context.Context, int) []domain.LeaderboardEntry { return nil }

func quietLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func postTrade(h *TradeHandler, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/api/markets/m1/trades", strings.NewReader(body))
	req.SetPathValue("id", "m1")
	rec := httptest.NewRecorder()
	h.ExecuteTrade(rec, req)
	return rec
}

func TestExecuteTradePersistenceWarning(t *testing.T) {
	fake := &fakeTrades{
		result: domain.ExecutionResult{Trade: domain.Trade{ID: "t1", MarketID: "m1"}},
		err:    fmt.Errorf("market_service: execute trade: %w", domain.ErrPersistenceUnavailable),
	}
	rec := postTrade(NewTradeHandler(fake, quietLogger()), `{"outcome":"no","shares":2,"side":"sell","signer":"0xbob"}`)

	require.Equal(t, http.StatusCreated, rec.Code)
	assert.NotEmpty(t, rec.Header().Get(PersistenceWarningHeader))
	assert.Equal(t, domain.OutcomeNo, fake.got.Outcome)
	assert.False(t, fake.got.IsBuy)
	require.NotNil(t, fake.got.Signer)
	assert.Equal(t, "0xbob", *fake.got.Signer)
	assert.Equal(t, "m1", fake.got.MarketID)
}

func TestExecuteTradeStrictPersistenceFailure(t *testing.T) {
	fake := &fakeTrades{err: fmt.Errorf("market_service: execute trade: %w", domain.ErrPersistenceUnavailable)}
	rec := postTrade(NewTradeHandler(fake, quietLogger()), `{"outcome":"yes","shares":2}`)

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Empty(t, rec.Header().Get(PersistenceWarningHeader))
}

func TestExecuteTradeSettlementFailure(t *testing.T) {
	fake := &fakeTrades{err: fmt.Errorf("x: %w: status failed", domain.ErrSettlementFailed)}
	rec := postTrade(NewTradeHandler(fake, quietLogger()), `{"outcome":"yes","shares":2}`)
	assert.Equal(t, http.StatusBadGateway, rec.Code)
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{domain.ErrInvalidQuantity, http.StatusBadRequest},
		{domain.ErrInvalidOutcome, http.StatusBadRequest},
		{domain.ErrInvalidLiquidity, http.StatusBadRequest},
		{domain.ErrMarketNotFound, http.StatusNotFound},
		{domain.ErrInsufficientSupply, http.StatusConflict},
		{domain.ErrMarketClosed, http.StatusConflict},
		{domain.ErrLockHeld, http.StatusConflict},
		{domain.ErrRateLimited, http.StatusTooManyRequests},
		{domain.ErrSettlementFailed, http.StatusBadGateway},
		{domain.ErrStatsUnavailable, http.StatusServiceUnavailable},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			assert.Equal(t, tt.want, statusFor(fmt.Errorf("wrapped: %w", tt.err)))
		})
	}
}

func TestAuditListing(t *testing.T) {
	audit := &fakeAudit{entries: []domain.AuditEntry{{
		ID:        7,
		Event:     "market_created",
		Detail:    map[string]any{"market_id": "m1"},
		CreatedAt: time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC),
	}}}
	h := NewStatsHandler(emptyBoard{}, audit, quietLogger())

	rec := httptest.NewRecorder()
	h.Audit(rec, httptest.NewRequest(http.MethodGet, "/api/audit?limit=900&offset=5", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"createdAt":"2026-05-04T10:00:00.000Z"`)
	assert.Equal(t, 500, audit.opts.Limit)
	assert.Equal(t, 5, audit.opts.Offset)

	rec = httptest.NewRecorder()
	h.Leaderboard(rec, httptest.NewRequest(http.MethodGet, "/api/leaderboard", nil))
	assert.JSONEq(t, `{"entries":[]}`, rec.Body.String())
}
