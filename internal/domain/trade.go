package domain

import "time"

// Trade is one executed, settled transaction against a market.
type Trade struct {
	ID            string     `json:"id"`
	MarketID      string     `json:"marketId"`
	Outcome       Outcome    `json:"outcome"`
	Shares        float64    `json:"shares"`
	FlowAmount    float64    `json:"flowAmount"`
	IsBuy         bool       `json:"isBuy"`
	Price         float64    `json:"price"`
	Signer        *string    `json:"signer"`
	CreatedAt     time.Time  `json:"createdAt"`
	Probabilities [2]float64 `json:"probabilities"`
	TxID          string     `json:"txId,omitempty"`
	TxStatus      TxStatus   `json:"txStatus,omitempty"`
}

// Clone returns a copy that does not share the signer pointer.
func (t Trade) Clone() Trade {
	out := t
	if t.Signer != nil {
		s := *t.Signer
		out.Signer = &s
	}
	return out
}

// Quote is an ephemeral price projection. It is never stored.
type Quote struct {
	MarketID      string     `json:"marketId"`
	Outcome       Outcome    `json:"outcome"`
	Shares        float64    `json:"shares"`
	IsBuy         bool       `json:"isBuy"`
	FlowAmount    float64    `json:"flowAmount"`
	Price         float64    `json:"price"`
	Probabilities [2]float64 `json:"probabilities"`
	Pool          PoolState  `json:"poolState"`
}

// TradeRequest is the input to trade execution.
type TradeRequest struct {
	MarketID string
	Outcome  Outcome
	Shares   float64
	IsBuy    bool
	Signer   *string
}

// ExecutionResult bundles everything produced by a successful execution.
type ExecutionResult struct {
	Market     Market           `json:"market"`
	Quote      Quote            `json:"quote"`
	Trade      Trade            `json:"trade"`
	Settlement SettlementResult `json:"txResult"`
}

// Leaderboard score bases.
const (
	BasisTradeFlow = "trade_flow"
	BasisSynthetic = "synthetic"
)

// LeaderboardEntry is one ranked trader. Basis distinguishes entries
// aggregated from real trades from the synthetic fallback.
type LeaderboardEntry struct {
	Address string  `json:"address"`
	Score   float64 `json:"score"`
	Rank    int     `json:"rank"`
	Basis   string  `json:"basis"`
}
