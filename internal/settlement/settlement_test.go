package settlement

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/metamarket/internal/crypto"
	"github.com/alanyoungcy/metamarket/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func buyReq(amount float64) domain.SettlementRequest {
	return domain.SettlementRequest{
		MarketID: "m1",
		Outcome:  domain.OutcomeYes,
		Amount:   amount,
		Signer:   "alice",
		IsBuy:    true,
	}
}

func TestMock_SubmitSeals(t *testing.T) {
	m := NewMock(MockConfig{}, testLogger())

	res, err := m.Submit(context.Background(), buyReq(2.5))
	require.NoError(t, err)
	assert.Equal(t, domain.TxSealed, res.Status)
	assert.True(t, strings.HasPrefix(res.TxID, "0x"))
	assert.Len(t, res.TxID, 66)
	require.NotNil(t, res.BlockHeight)
	assert.Equal(t, uint64(1_000_001), *res.BlockHeight)
	require.Len(t, res.Events, 1)
	assert.Equal(t, "BetPlaced", res.Events[0].Type)
	assert.Equal(t, 10_000-2.5, m.Balance("alice"))

	second, err := m.Submit(context.Background(), buyReq(1))
	require.NoError(t, err)
	assert.Equal(t, uint64(1_000_002), *second.BlockHeight)
	assert.NotEqual(t, res.TxID, second.TxID)

	got, err := m.Status(res.TxID)
	require.NoError(t, err)
	assert.Equal(t, res.TxID, got.TxID)

	_, err = m.Status("0xdead")
	require.ErrorIs(t, err, domain.ErrNotFound)
}

func TestMock_AnonymousSigner(t *testing.T) {
	m := NewMock(MockConfig{}, testLogger())
	req := buyReq(1)
	req.Signer = ""
	_, err := m.Submit(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, 10_000-1.0, m.Balance("anonymous"))
}

func TestMock_FailureRate(t *testing.T) {
	m := NewMock(MockConfig{FailureRate: 0.05, Rand: func() float64 { return 0.01 }}, testLogger())
	res, err := m.Submit(context.Background(), buyReq(1))
	require.NoError(t, err)
	assert.Equal(t, domain.TxFailed, res.Status)
	assert.NotEmpty(t, res.Error)
	assert.Nil(t, res.BlockHeight)
}

func TestMock_InsufficientBalance(t *testing.T) {
	m := NewMock(MockConfig{}, testLogger())
	res, err := m.Submit(context.Background(), buyReq(20_000))
	require.NoError(t, err)
	assert.Equal(t, domain.TxFailed, res.Status)
}

func TestMock_LatencyHonoursContext(t *testing.T) {
	m := NewMock(MockConfig{Latency: time.Second}, testLogger())
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err := m.Submit(ctx, buyReq(1))
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestMock_SignsReceipts(t *testing.T) {
	signer, err := crypto.NewSigner("4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318")
	require.NoError(t, err)
	m := NewMock(MockConfig{Signer: signer}, testLogger())

	req := buyReq(3)
	res, err := m.Submit(context.Background(), req)
	require.NoError(t, err)
	require.NotEmpty(t, res.Signature)

	addr, err := crypto.RecoverReceiptSigner(ReceiptFor(req, res), res.Signature)
	require.NoError(t, err)
	assert.Equal(t, signer.Address(), addr)
}

func TestRelayer_SubmitAndPoll(t *testing.T) {
	auth := &crypto.HMACAuth{Key: "k", Secret: "s"}
	var polls atomic.Int32

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		if err := auth.Verify(r.Method, r.URL.Path, string(body),
			r.Header.Get(crypto.HeaderTimestamp), r.Header.Get(crypto.HeaderSignature),
			time.Now(), time.Minute); err != nil {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/v1/settlements":
			var req domain.SettlementRequest
			_ = json.Unmarshal(body, &req)
			if req.Amount != 2.5 {
				w.WriteHeader(http.StatusBadRequest)
				return
			}
			_ = json.NewEncoder(w).Encode(domain.SettlementResult{TxID: "0xabc", Status: domain.TxPending})
		case r.Method == http.MethodGet && r.URL.Path == "/v1/settlements/0xabc":
			status := domain.TxPending
			if polls.Add(1) >= 2 {
				status = domain.TxSealed
			}
			h := uint64(7)
			_ = json.NewEncoder(w).Encode(domain.SettlementResult{TxID: "0xabc", Status: status, BlockHeight: &h})
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	r := NewRelayer(RelayerConfig{BaseURL: srv.URL, Key: "k", Secret: "s", PollInterval: time.Millisecond}, testLogger())
	res, err := r.Submit(context.Background(), buyReq(2.5))
	require.NoError(t, err)
	assert.Equal(t, domain.TxSealed, res.Status)
	assert.Equal(t, "0xabc", res.TxID)
	assert.GreaterOrEqual(t, polls.Load(), int32(2))
}

func TestRelayer_RejectedCredentials(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	r := NewRelayer(RelayerConfig{BaseURL: srv.URL}, testLogger())
	_, err := r.Submit(context.Background(), buyReq(1))
	require.ErrorIs(t, err, domain.ErrUnauthorized)
}

func TestRelayer_DeadlineWhilePending(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(domain.SettlementResult{TxID: "0x1", Status: domain.TxPending})
	}))
	defer srv.Close()

	r := NewRelayer(RelayerConfig{BaseURL: srv.URL, PollInterval: time.Millisecond}, testLogger())
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	_, err := r.Submit(ctx, buyReq(1))
	require.Error(t, err)
}

func TestNew_Modes(t *testing.T) {
	p, err := New(Options{Mode: "mock"}, testLogger())
	require.NoError(t, err)
	assert.Equal(t, "mock", p.Mode())

	p, err = New(Options{Mode: "mainnet"}, testLogger())
	require.NoError(t, err)
	assert.Equal(t, "mock", p.Mode())

	p, err = New(Options{Mode: "testnet", RelayerURL: "http://relayer"}, testLogger())
	require.NoError(t, err)
	assert.Equal(t, "relayer", p.Mode())

	_, err = New(Options{Mode: "relayer"}, testLogger())
	require.Error(t, err)

	_, err = New(Options{Mode: "carrier-pigeon"}, testLogger())
	require.Error(t, err)
}
