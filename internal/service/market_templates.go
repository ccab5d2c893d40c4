package service

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/alanyoungcy/metamarket/internal/domain"
)

// Community market metrics.
const (
	MetricParticipants      = "participants"
	MetricPrizePool         = "prize_pool"
	MetricJuiceDistribution = "juice_distribution"
)

var nftRarities = []string{"Common", "Uncommon", "Rare", "Epic", "Legendary"}

func formatNumber(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func (s *MarketService) tournamentStats(ctx context.Context) (domain.TournamentStats, error) {
	if s.deps.Stats == nil {
		return domain.TournamentStats{}, domain.ErrStatsUnavailable
	}
	st, err := s.deps.Stats.TournamentStats(ctx)
	if err != nil {
		return domain.TournamentStats{}, fmt.Errorf("%w: %w", domain.ErrStatsUnavailable, err)
	}
	return st, nil
}

// CreateAverageScoreMarket opens "will the average fantasy score exceed
// target" using current tournament stats.
func (s *MarketService) CreateAverageScoreMarket(ctx context.Context, target float64) (domain.Market, error) {
	st, err := s.tournamentStats(ctx)
	if err != nil {
		return domain.Market{}, fmt.Errorf("market_service: average score market: %w", err)
	}
	participants := st.TotalParticipants
	return s.CreateMarket(ctx, MarketSpec{
		IDPrefix:    "aisports:avg-score:" + formatNumber(target),
		Title:       fmt.Sprintf("Will the average fantasy score exceed %s?", formatNumber(target)),
		Description: fmt.Sprintf("Current value: %.1f. Data provided by aiSports Escrow", st.AverageScore),
		Category:    domain.CategoryMeta,
		Oracle: domain.OracleConfig{
			DataSource:         "aiSports.tournament.averageScore",
			TargetValue:        &target,
			ComparisonType:     "greater_than",
			ResolutionFunction: "resolveAverageScoreMarket",
		},
		CurrentValue:          st.AverageScore,
		Participants:          &participants,
		Access:                domain.AccessRequirements{RequiresActiveParticipation: true},
		ResolutionOffsetHours: 24,
	})
}

// CreateUserPerformanceMarket opens a market on whether a user reaches the
// top 20% (daily) or 10% (weekly) of the leaderboard.
func (s *MarketService) CreateUserPerformanceMarket(ctx context.Context, username, address, timeframe string) (domain.Market, error) {
	if timeframe == "" {
		timeframe = "weekly"
	}
	var target float64
	var hours int
	var window string
	switch timeframe {
	case "daily":
		target, hours, window = 20, 24, "day"
	case "weekly":
		target, hours, window = 10, 168, "week"
	default:
		return domain.Market{}, fmt.Errorf("market_service: user performance market: timeframe %q: %w", timeframe, domain.ErrInvalidInput)
	}
	if s.deps.Stats == nil {
		return domain.Market{}, fmt.Errorf("market_service: user performance market: %w", domain.ErrStatsUnavailable)
	}
	user, err := s.deps.Stats.UserProfile(ctx, address)
	if err != nil {
		return domain.Market{}, fmt.Errorf("market_service: user performance market: %w: %w", domain.ErrStatsUnavailable, err)
	}

	return s.CreateMarket(ctx, MarketSpec{
		IDPrefix:    "aisports:user:" + username,
		Title:       fmt.Sprintf("Will @%s reach the top %s%% within the %s?", username, formatNumber(target), window),
		Description: fmt.Sprintf("Current fantasy score: %.1f. Source: aiSports leaderboard", user.FantasyScore),
		Category:    domain.CategoryUserPerformance,
		Oracle: domain.OracleConfig{
			DataSource:         "aiSports.leaderboard.position",
			TargetValue:        &target,
			ComparisonType:     "top_percentage",
			ResolutionFunction: "resolveUserPerformanceMarket",
		},
		CurrentValue:          user.FantasyScore,
		Access:                domain.AccessRequirements{MinimumFantasyScore: 20},
		ResolutionOffsetHours: hours,
	})
}

// CreateNftPerformanceMarket opens the rare-NFT advantage market. It needs
// no stats.
func (s *MarketService) CreateNftPerformanceMarket(ctx context.Context) (domain.Market, error) {
	return s.CreateMarket(ctx, MarketSpec{
		IDPrefix:    "aisports:nft-performance",
		Title:       "Will rare aiSports NFTs provide an advantage today?",
		Description: "Comparing average fantasy score of Epic/Legendary holders versus others",
		Category:    domain.CategoryNFT,
		Oracle: domain.OracleConfig{
			DataSource:         "aiSports.nft.performance",
			ComparisonType:     "greater_than",
			ResolutionFunction: "resolveNftPerformanceMarket",
		},
		Access:                domain.AccessRequirements{RequiredNftRarity: append([]string(nil), nftRarities...)},
		ResolutionOffsetHours: 24,
	})
}

// CreateCommunityMarket opens "will <metric> exceed target".
func (s *MarketService) CreateCommunityMarket(ctx context.Context, metric string, target float64) (domain.Market, error) {
	labels := map[string]string{
		MetricParticipants:      "Total participants",
		MetricPrizePool:         "Prize pool size",
		MetricJuiceDistribution: "$JUICE distribution",
	}
	label, ok := labels[metric]
	if !ok {
		return domain.Market{}, fmt.Errorf("market_service: community market: metric %q: %w", metric, domain.ErrInvalidInput)
	}
	st, err := s.tournamentStats(ctx)
	if err != nil {
		return domain.Market{}, fmt.Errorf("market_service: community market: %w", err)
	}

	var current float64
	switch metric {
	case MetricParticipants:
		current = float64(st.TotalParticipants)
	case MetricPrizePool:
		current = st.CurrentPrizePool
	default:
		current = st.AverageScore
	}
	participants := st.TotalParticipants

	return s.CreateMarket(ctx, MarketSpec{
		IDPrefix:    "aisports:community:" + metric,
		Title:       fmt.Sprintf("Will %s exceed %s?", label, formatNumber(target)),
		Description: fmt.Sprintf("Current value: %s. Updated every 24 hours", formatNumber(current)),
		Category:    domain.CategoryCommunity,
		Oracle: domain.OracleConfig{
			DataSource:         "aiSports.community." + metric,
			TargetValue:        &target,
			ComparisonType:     "greater_than",
			ResolutionFunction: "resolveCommunityMarket",
		},
		CurrentValue:          current,
		Participants:          &participants,
		ResolutionOffsetHours: 24,
	})
}

// SeedMarkets creates the default markets when seeding is enabled and the
// ledger is empty. Individual failures are logged and skipped.
func (s *MarketService) SeedMarkets(ctx context.Context) int {
	if !s.cfg.SeedMarkets || s.ledger.Len() > 0 {
		return 0
	}
	seeds := []struct {
		name string
		fn   func() (domain.Market, error)
	}{
		{"avg-score", func() (domain.Market, error) { return s.CreateAverageScoreMarket(ctx, 45) }},
		{"community-participants", func() (domain.Market, error) { return s.CreateCommunityMarket(ctx, MetricParticipants, 200) }},
		{"nft-performance", func() (domain.Market, error) { return s.CreateNftPerformanceMarket(ctx) }},
	}

	created := 0
	for _, seed := range seeds {
		m, err := seed.fn()
		if err != nil && m.ID == "" {
			s.logger.WarnContext(ctx, "market_service: seed market skipped",
				slog.String("seed", seed.name),
				slog.String("error", err.Error()),
			)
			continue
		}
		created++
	}
	s.logger.InfoContext(ctx, "market_service: seeded markets", slog.Int("count", created))
	return created
}
