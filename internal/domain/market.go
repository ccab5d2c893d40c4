package domain

import (
	"strings"
	"time"
)

// Outcome is one side of a binary market.
type Outcome string

const (
	OutcomeYes Outcome = "YES"
	OutcomeNo  Outcome = "NO"
)

// ParseOutcome accepts "yes"/"no" in any case.
func ParseOutcome(s string) (Outcome, error) {
	switch Outcome(strings.ToUpper(strings.TrimSpace(s))) {
	case OutcomeYes:
		return OutcomeYes, nil
	case OutcomeNo:
		return OutcomeNo, nil
	default:
		return "", ErrInvalidOutcome
	}
}

// Index returns the position of the outcome in pool vectors (YES=0, NO=1),
// or -1 for an unknown outcome.
func (o Outcome) Index() int {
	switch o {
	case OutcomeYes:
		return 0
	case OutcomeNo:
		return 1
	default:
		return -1
	}
}

// Valid reports whether o is YES or NO.
func (o Outcome) Valid() bool { return o.Index() >= 0 }

// MarketType enumerates supported market shapes. Only binary markets exist.
type MarketType string

const MarketTypeYesNo MarketType = "yes_no"

// Market categories used by the built-in market templates.
const (
	CategoryMeta            = "aiSports_Meta"
	CategoryUserPerformance = "aiSports_User_Performance"
	CategoryNFT             = "aiSports_NFT"
	CategoryCommunity       = "aiSports_Community"
)

// PoolState is the numeric LMSR state of a market.
type PoolState struct {
	LiquidityParameter float64    `json:"liquidityParameter"`
	BVector            [2]float64 `json:"bVector"`
	OutcomeSupply      [2]float64 `json:"outcomeSupply"`
	TotalLiquidity     float64    `json:"totalLiquidity"`
}

// OracleConfig tells the external resolver how to settle a market.
type OracleConfig struct {
	DataSource         string   `json:"dataSource"`
	TargetValue        *float64 `json:"targetValue,omitempty"`
	ComparisonType     string   `json:"comparisonType"`
	ResolutionFunction string   `json:"resolutionFunction"`
}

// CurrentData is the latest observation of the metric a market tracks.
type CurrentData struct {
	Value         float64   `json:"value"`
	Participants  *int      `json:"participants,omitempty"`
	TimeRemaining string    `json:"timeRemaining"`
	LastUpdate    time.Time `json:"lastUpdate"`
}

// AccessRequirements gate which users may see a market.
type AccessRequirements struct {
	MinimumFantasyScore         float64  `json:"minimumFantasyScore,omitempty"`
	MinimumJuiceBalance         float64  `json:"minimumJuiceBalance,omitempty"`
	RequiredNftRarity           []string `json:"requiredNftRarity,omitempty"`
	RequiresActiveParticipation bool     `json:"requiresActiveParticipation,omitempty"`
}

// Market is one binary prediction market together with its denormalised
// trading aggregates.
type Market struct {
	ID                 string             `json:"id"`
	Title              string             `json:"title"`
	Description        string             `json:"description"`
	Category           string             `json:"category"`
	Type               MarketType         `json:"type"`
	ResolutionTime     time.Time          `json:"resolutionTime"`
	CreatedAt          time.Time          `json:"createdAt"`
	IsActive           bool               `json:"isActive"`
	IsResolved         bool               `json:"isResolved"`
	Outcome            *Outcome           `json:"outcome"`
	ResolvedAt         *time.Time         `json:"resolvedAt,omitempty"`
	OracleConfig       OracleConfig       `json:"oracleConfig"`
	CurrentData        CurrentData        `json:"currentData"`
	AccessRequirements AccessRequirements `json:"accessRequirements"`
	Pool               PoolState          `json:"poolState"`
	TradeVolume        float64            `json:"tradeVolume"`
	TradeCount         int                `json:"tradeCount"`
	YesPrice           float64            `json:"yesPrice"`
	NoPrice            float64            `json:"noPrice"`
	LastTradeAt        *time.Time         `json:"lastTradeAt"`
}

// Tradable reports whether the market currently accepts trades.
func (m Market) Tradable() bool {
	return m.IsActive && !m.IsResolved
}

// Clone returns a deep copy so callers never alias ledger-owned memory.
func (m Market) Clone() Market {
	out := m
	if m.Outcome != nil {
		o := *m.Outcome
		out.Outcome = &o
	}
	if m.ResolvedAt != nil {
		t := *m.ResolvedAt
		out.ResolvedAt = &t
	}
	if m.LastTradeAt != nil {
		t := *m.LastTradeAt
		out.LastTradeAt = &t
	}
	if m.OracleConfig.TargetValue != nil {
		v := *m.OracleConfig.TargetValue
		out.OracleConfig.TargetValue = &v
	}
	if m.CurrentData.Participants != nil {
		p := *m.CurrentData.Participants
		out.CurrentData.Participants = &p
	}
	if m.AccessRequirements.RequiredNftRarity != nil {
		out.AccessRequirements.RequiredNftRarity = append([]string(nil), m.AccessRequirements.RequiredNftRarity...)
	}
	return out
}

// MarketPatch is a partial update applied by the oracle resolver. Nil fields
// are left untouched.
type MarketPatch struct {
	Title       *string
	Description *string
	IsActive    *bool
	IsResolved  *bool
	Outcome     *Outcome
	CurrentData *CurrentDataPatch
}

// CurrentDataPatch merges into Market.CurrentData. A zero LastUpdate means
// "now".
type CurrentDataPatch struct {
	Value         *float64
	Participants  *int
	TimeRemaining *string
	LastUpdate    time.Time
}

// UserProfile is the slice of user state used by market access rules.
type UserProfile struct {
	Address      string
	FantasyScore float64
	JuiceBalance float64
	NftRarities  []string
}

// TournamentStats feeds the data-driven market templates.
type TournamentStats struct {
	TotalParticipants int
	CurrentPrizePool  float64
	AverageScore      float64
	ActiveContests    int
	Timestamp         time.Time
}
