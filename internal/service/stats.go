package service

import (
	"context"
	"sync"
	"time"

	"github.com/alanyoungcy/metamarket/internal/domain"
)

// StaticStats is a StatsProvider backed by fixed values, used when no live
// tournament feed is configured. Profiles unknown to it are returned empty.
type StaticStats struct {
	mu       sync.RWMutex
	stats    domain.TournamentStats
	profiles map[string]domain.UserProfile
}

var _ domain.StatsProvider = (*StaticStats)(nil)

// NewStaticStats creates a StaticStats serving stats.
func NewStaticStats(stats domain.TournamentStats) *StaticStats {
	return &StaticStats{stats: stats, profiles: make(map[string]domain.UserProfile)}
}

// TournamentStats returns the configured stats stamped with the current time.
func (s *StaticStats) TournamentStats(_ context.Context) (domain.TournamentStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st := s.stats
	if st.Timestamp.IsZero() {
		st.Timestamp = time.Now().UTC()
	}
	return st, nil
}

// UserProfile returns the stored profile for address.
func (s *StaticStats) UserProfile(_ context.Context, address string) (domain.UserProfile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.profiles[address]
	if !ok {
		return domain.UserProfile{Address: address}, nil
	}
	p.NftRarities = append([]string(nil), p.NftRarities...)
	return p, nil
}

// SetStats replaces the tournament stats.
func (s *StaticStats) SetStats(stats domain.TournamentStats) {
	s.mu.Lock()
	s.stats = stats
	s.mu.Unlock()
}

// SetProfile stores or replaces a user profile.
func (s *StaticStats) SetProfile(p domain.UserProfile) {
	s.mu.Lock()
	p.NftRarities = append([]string(nil), p.NftRarities...)
	s.profiles[p.Address] = p
	s.mu.Unlock()
}
