package domain

import (
	"context"
	"time"
)

// TxStatus is the lifecycle state of an external settlement transaction.
type TxStatus string

const (
	TxPending TxStatus = "pending"
	TxSealed  TxStatus = "sealed"
	TxFailed  TxStatus = "failed"
)

// SettlementRequest asks the provider to move Amount ledger tokens for a bet.
type SettlementRequest struct {
	MarketID string  `json:"marketId"`
	Outcome  Outcome `json:"outcome"`
	Amount   float64 `json:"amount"`
	Signer   string  `json:"signer"`
	IsBuy    bool    `json:"isBuy"`
}

// SettlementEvent is an event emitted by a settled transaction.
type SettlementEvent struct {
	Type string         `json:"type"`
	Data map[string]any `json:"data"`
}

// SettlementResult is the provider's answer for one submission.
type SettlementResult struct {
	TxID        string            `json:"txId"`
	Status      TxStatus          `json:"status"`
	Timestamp   time.Time         `json:"timestamp"`
	BlockHeight *uint64           `json:"blockHeight,omitempty"`
	Error       string            `json:"error,omitempty"`
	Events      []SettlementEvent `json:"events,omitempty"`
	Signature   string            `json:"signature,omitempty"`
}

// SettlementProvider finalises the monetary side of a trade outside the
// engine. Any error or non-sealed status is a hard failure for the caller.
type SettlementProvider interface {
	Submit(ctx context.Context, req SettlementRequest) (SettlementResult, error)
	Mode() string
}
