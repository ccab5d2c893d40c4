package service

import (
	"context"
	"fmt"

	"github.com/alanyoungcy/metamarket/internal/domain"
)

// HasAccess reports whether profile satisfies market's access requirements.
func HasAccess(m domain.Market, p domain.UserProfile) bool {
	req := m.AccessRequirements
	if req.MinimumFantasyScore > 0 && p.FantasyScore < req.MinimumFantasyScore {
		return false
	}
	if req.MinimumJuiceBalance > 0 && p.JuiceBalance < req.MinimumJuiceBalance {
		return false
	}
	if len(req.RequiredNftRarity) > 0 && !anyRarity(req.RequiredNftRarity, p.NftRarities) {
		return false
	}
	if req.RequiresActiveParticipation && p.FantasyScore <= 0 && p.JuiceBalance <= 0 && len(p.NftRarities) == 0 {
		return false
	}
	return true
}

func anyRarity(required, held []string) bool {
	for _, h := range held {
		for _, r := range required {
			if h == r {
				return true
			}
		}
	}
	return false
}

// GetMarketsForUser returns the markets profile may see.
func (s *MarketService) GetMarketsForUser(_ context.Context, profile domain.UserProfile) []domain.Market {
	var out []domain.Market
	for _, m := range s.ledger.List() {
		if HasAccess(m, profile) {
			out = append(out, m)
		}
	}
	return out
}

// GetMarketsForAddress resolves the user's profile through the stats
// provider and filters markets by it.
func (s *MarketService) GetMarketsForAddress(ctx context.Context, address string) ([]domain.Market, error) {
	if s.deps.Stats == nil {
		return nil, fmt.Errorf("market_service: markets for user: %w", domain.ErrStatsUnavailable)
	}
	profile, err := s.deps.Stats.UserProfile(ctx, address)
	if err != nil {
		return nil, fmt.Errorf("market_service: markets for user: %w: %w", domain.ErrStatsUnavailable, err)
	}
	return s.GetMarketsForUser(ctx, profile), nil
}
