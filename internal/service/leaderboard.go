package service

import (
	"context"
	"fmt"
	"math"
	"sort"

	"github.com/alanyoungcy/metamarket/internal/domain"
	"github.com/alanyoungcy/metamarket/internal/lmsr"
)

const defaultLeaderboardLimit = 20

// Leaderboard ranks signers by total flow across every market's hot trades.
// With no signed trades it falls back to a synthetic ranking derived from
// market data, marked with Basis "synthetic".
func (s *MarketService) Leaderboard(_ context.Context, limit int) []domain.LeaderboardEntry {
	if limit <= 0 {
		limit = defaultLeaderboardLimit
	}

	type total struct {
		address string
		score   float64
	}
	var totals []total
	index := make(map[string]int)
	for _, t := range s.ledger.AllTrades() {
		if t.Signer == nil || *t.Signer == "" {
			continue
		}
		i, ok := index[*t.Signer]
		if !ok {
			i = len(totals)
			index[*t.Signer] = i
			totals = append(totals, total{address: *t.Signer})
		}
		totals[i].score = lmsr.Round(totals[i].score + t.FlowAmount)
	}

	if len(totals) == 0 {
		return s.syntheticLeaderboard(limit)
	}

	sort.SliceStable(totals, func(i, j int) bool { return totals[i].score > totals[j].score })
	if len(totals) > limit {
		totals = totals[:limit]
	}
	out := make([]domain.LeaderboardEntry, len(totals))
	for i, t := range totals {
		out[i] = domain.LeaderboardEntry{
			Address: t.address,
			Score:   t.score,
			Rank:    i + 1,
			Basis:   domain.BasisTradeFlow,
		}
	}
	return out
}

func (s *MarketService) syntheticLeaderboard(limit int) []domain.LeaderboardEntry {
	markets := s.ledger.List()
	out := make([]domain.LeaderboardEntry, 0, len(markets))
	for i, m := range markets {
		modifier := 1.0
		if p := m.CurrentData.Participants; p != nil && *p > 0 {
			modifier = math.Log10(float64(*p) + 10)
		}
		out = append(out, domain.LeaderboardEntry{
			Address: fmt.Sprintf("0xmeta%04x", i+1),
			Score:   lmsr.Round(math.Max(0, m.CurrentData.Value) * modifier),
			Basis:   domain.BasisSynthetic,
		})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	if len(out) > limit {
		out = out[:limit]
	}
	for i := range out {
		out[i].Rank = i + 1
	}
	return out
}
