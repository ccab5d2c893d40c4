// Package lmsr implements the Logarithmic Market Scoring Rule for binary
// markets. Every function is pure: it reads a PoolState and returns a new one
// without touching the input.
package lmsr

import (
	"fmt"
	"math"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/metamarket/internal/domain"
)

// Precision is the number of decimal places kept by Round.
const Precision = 8

var half = decimal.NewFromFloat(0.5)

// Round rounds v to Precision decimal places with ties going toward
// positive infinity, so Round(-0.000000005) is 0. Non-finite inputs are
// returned unchanged.
func Round(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return v
	}
	f, _ := decimal.NewFromFloat(v).Shift(Precision).Add(half).Floor().Shift(-Precision).Float64()
	return f
}

// logSumExp returns ln(e^(q0/b) + e^(q1/b)) shifted by the max exponent so
// large supplies do not overflow.
func logSumExp(q [2]float64, b float64) float64 {
	a0, a1 := q[0]/b, q[1]/b
	m := math.Max(a0, a1)
	return m + math.Log(math.Exp(a0-m)+math.Exp(a1-m))
}

// Cost is the LMSR cost function C(q) = b * ln(sum exp(q_i/b)).
func Cost(q [2]float64, b float64) float64 {
	return b * logSumExp(q, b)
}

// Probabilities returns the softmax of bVector/b. Degenerate pools (b <= 0,
// or any non-finite value) read as [0.5, 0.5]. The result is not rounded.
func Probabilities(pool domain.PoolState) [2]float64 {
	b := pool.LiquidityParameter
	q := pool.BVector
	if !(b > 0) || !finite(b) || !finite(q[0]) || !finite(q[1]) {
		return [2]float64{0.5, 0.5}
	}
	a0, a1 := q[0]/b, q[1]/b
	m := math.Max(a0, a1)
	e0, e1 := math.Exp(a0-m), math.Exp(a1-m)
	sum := e0 + e1
	if !(sum > 0) || !finite(sum) {
		return [2]float64{0.5, 0.5}
	}
	return [2]float64{e0 / sum, e1 / sum}
}

// RoundedProbabilities is Probabilities with each element passed through
// Round.
func RoundedProbabilities(pool domain.PoolState) [2]float64 {
	p := Probabilities(pool)
	return [2]float64{Round(p[0]), Round(p[1])}
}

// MaxLoss is the worst-case subsidy of a binary market maker, b*ln(2).
func MaxLoss(b float64) float64 {
	return b * math.Ln2
}

// Result is the outcome of applying one trade to a pool. Price is the
// average execution price flow/shares; Probabilities are post-trade.
type Result struct {
	Pool          domain.PoolState
	FlowAmount    float64
	Price         float64
	Probabilities [2]float64
}

// Quote applies a trade of shares on outcome index idx to pool and returns
// the post-trade pool, the flow exchanged, and post-trade prices. The input
// pool is never modified.
func Quote(pool domain.PoolState, idx int, shares float64, isBuy bool) (Result, error) {
	if err := validateState(pool); err != nil {
		return Result{}, err
	}
	if err := validateInput(pool, idx, shares, isBuy); err != nil {
		return Result{}, err
	}

	delta := shares
	if !isBuy {
		delta = -shares
	}

	next := pool
	next.BVector[idx] += delta
	next.OutcomeSupply[idx] += delta

	b := pool.LiquidityParameter
	flow := math.Abs(b * (logSumExp(next.BVector, b) - logSumExp(pool.BVector, b)))
	if !finite(flow) {
		return Result{}, fmt.Errorf("lmsr: quote: non-finite flow: %w", domain.ErrInvalidQuantity)
	}
	flow = Round(flow)

	if isBuy {
		next.TotalLiquidity = Round(pool.TotalLiquidity + flow)
	} else {
		next.TotalLiquidity = Round(pool.TotalLiquidity - flow)
	}

	probs := RoundedProbabilities(next)
	return Result{
		Pool:          next,
		FlowAmount:    flow,
		Price:         Round(flow / shares),
		Probabilities: probs,
	}, nil
}

func validateState(pool domain.PoolState) error {
	b := pool.LiquidityParameter
	if !(b > 0) || !finite(b) {
		return fmt.Errorf("lmsr: liquidity parameter %v: %w", b, domain.ErrInvalidLiquidity)
	}
	for i := 0; i < 2; i++ {
		if !finite(pool.BVector[i]) || !finite(pool.OutcomeSupply[i]) {
			return fmt.Errorf("lmsr: non-finite pool vector at %d: %w", i, domain.ErrInvalidLiquidity)
		}
	}
	return nil
}

func validateInput(pool domain.PoolState, idx int, shares float64, isBuy bool) error {
	if !(shares > 0) || !finite(shares) {
		return fmt.Errorf("lmsr: shares %v: %w", shares, domain.ErrInvalidQuantity)
	}
	if idx < 0 || idx > 1 {
		return fmt.Errorf("lmsr: outcome index %d: %w", idx, domain.ErrInvalidOutcome)
	}
	if !isBuy && pool.OutcomeSupply[idx] < shares {
		return fmt.Errorf("lmsr: sell %v of %v: %w", shares, pool.OutcomeSupply[idx], domain.ErrInsufficientSupply)
	}
	return nil
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
