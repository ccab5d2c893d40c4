package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/alanyoungcy/metamarket/internal/domain"
	"github.com/alanyoungcy/metamarket/internal/ledger"
	"github.com/alanyoungcy/metamarket/internal/lmsr"
)

// Notification event types.
const (
	EventMarketCreated          = "market_created"
	EventMarketResolved         = "market_resolved"
	EventSettlementFailed       = "settlement_failed"
	EventPersistenceUnavailable = "persistence_unavailable"
	EventSettlementOrphaned     = "settlement_orphaned"
)

const (
	defaultLiquidity       = 120.0
	defaultResolutionHours = 24
	defaultSettleTimeout   = 10 * time.Second
	defaultLockTTL         = 30 * time.Second
)

// Notifier delivers operator alerts. *notify.Notifier satisfies it.
type Notifier interface {
	Notify(ctx context.Context, event, title, message string) error
}

// Recorder receives engine metrics. *metrics.Metrics satisfies it.
type Recorder interface {
	TradeExecuted(outcome string, isBuy bool, flow float64)
	SettlementObserved(d time.Duration, ok bool)
	PersistFailed()
	SetMarkets(n int)
}

// MarketServiceConfig tunes the orchestrator.
type MarketServiceConfig struct {
	DefaultLiquidity       float64
	DefaultResolutionHours int
	SettlementTimeout      time.Duration
	// StrictPersistence writes the snapshot before committing a mutation and
	// aborts the mutation when the write fails.
	StrictPersistence bool
	SeedMarkets       bool
	LockTTL           time.Duration
}

// MarketServiceDeps are optional collaborators. Nil fields are skipped.
type MarketServiceDeps struct {
	Archive  domain.TradeArchive
	Audit    domain.AuditStore
	Cache    domain.MarketCache
	Bus      domain.SignalBus
	Locks    domain.LockManager
	Stats    domain.StatsProvider
	Notifier Notifier
	Metrics  Recorder
}

// MarketService is the only component that mutates market state. It chains
// pricing, settlement, the ledger and the snapshot store.
type MarketService struct {
	ledger   *ledger.Ledger
	store    domain.SnapshotStore
	settler  domain.SettlementProvider
	cfg      MarketServiceConfig
	deps     MarketServiceDeps
	validate *validator.Validate
	logger   *slog.Logger
	now      func() time.Time

	// persistMu orders snapshot capture with enqueue.
	persistMu sync.Mutex
}

// NewMarketService creates a MarketService.
func NewMarketService(
	l *ledger.Ledger,
	store domain.SnapshotStore,
	settler domain.SettlementProvider,
	cfg MarketServiceConfig,
	deps MarketServiceDeps,
	logger *slog.Logger,
) *MarketService {
	if cfg.DefaultLiquidity <= 0 {
		cfg.DefaultLiquidity = defaultLiquidity
	}
	if cfg.DefaultResolutionHours <= 0 {
		cfg.DefaultResolutionHours = defaultResolutionHours
	}
	if cfg.SettlementTimeout <= 0 {
		cfg.SettlementTimeout = defaultSettleTimeout
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = defaultLockTTL
	}
	return &MarketService{
		ledger:   l,
		store:    store,
		settler:  settler,
		cfg:      cfg,
		deps:     deps,
		validate: validator.New(validator.WithRequiredStructEnabled()),
		logger:   logger.With(slog.String("component", "market_service")),
		now:      time.Now,
	}
}

// MarketSpec describes a market to create. An empty ID is generated as
// <IDPrefix>:<unix-ms>; an empty IDPrefix derives one from the title.
type MarketSpec struct {
	ID                    string `validate:"omitempty,max=200"`
	IDPrefix              string `validate:"omitempty,max=160"`
	Title                 string `validate:"required,max=300"`
	Description           string `validate:"max=2000"`
	Category              string `validate:"omitempty,max=64"`
	LiquidityParameter    float64
	ResolutionOffsetHours int `validate:"gte=0,lte=8760"`
	Oracle                domain.OracleConfig
	CurrentValue          float64
	Participants          *int
	Access                domain.AccessRequirements
}

// Load restores the ledger from the snapshot store. A corrupt snapshot is
// returned as an error so startup aborts instead of running empty.
func (s *MarketService) Load(ctx context.Context) error {
	snap, err := s.store.Load(ctx)
	if err != nil {
		return fmt.Errorf("market_service: load: %w", err)
	}
	if snap == nil {
		s.logger.InfoContext(ctx, "market_service: no snapshot found, starting empty")
		return nil
	}
	s.ledger.Restore(*snap)
	s.recordMarkets()

	trades := 0
	for _, ts := range snap.Trades {
		trades += len(ts)
	}
	s.logger.InfoContext(ctx, "market_service: snapshot loaded",
		slog.Int("markets", len(snap.Markets)),
		slog.Int("trades", trades),
		slog.Time("updated_at", snap.UpdatedAt),
	)
	return nil
}

// CreateMarket validates spec, inserts a fresh market and persists it.
func (s *MarketService) CreateMarket(ctx context.Context, spec MarketSpec) (domain.Market, error) {
	if err := s.validate.StructCtx(ctx, spec); err != nil {
		return domain.Market{}, fmt.Errorf("market_service: create market: %w: %v", domain.ErrInvalidInput, err)
	}
	b := spec.LiquidityParameter
	if b == 0 {
		b = s.cfg.DefaultLiquidity
	}
	if !(b > 0) || math.IsInf(b, 0) {
		return domain.Market{}, fmt.Errorf("market_service: create market: %w", domain.ErrInvalidLiquidity)
	}
	hours := spec.ResolutionOffsetHours
	if hours == 0 {
		hours = s.cfg.DefaultResolutionHours
	}

	now := s.now().UTC()
	m := s.buildMarket(spec, b, hours, now)

	explicitID := spec.ID != ""
	prefix := spec.IDPrefix
	if prefix == "" {
		prefix = "market:" + slugify(spec.Title)
	}
	ms := now.UnixMilli()
	for attempt := 0; ; attempt++ {
		if !explicitID {
			m.ID = fmt.Sprintf("%s:%d", prefix, ms+int64(attempt))
		}
		if _, err := s.ledger.Get(m.ID); err != nil {
			break
		}
		if explicitID || attempt >= 16 {
			return domain.Market{}, fmt.Errorf("market_service: create market %q: %w", m.ID, domain.ErrAlreadyExists)
		}
	}

	err := s.mutate(ctx,
		func(snap *domain.Snapshot) {
			snap.Markets = append(snap.Markets, m.Clone())
			snap.Trades[m.ID] = []domain.Trade{}
		},
		func() error { return s.ledger.Insert(m) },
	)
	if err != nil && (s.cfg.StrictPersistence || !errors.Is(err, domain.ErrPersistenceUnavailable)) {
		return domain.Market{}, fmt.Errorf("market_service: create market: %w", err)
	}

	s.recordMarkets()
	s.audit(ctx, "market_created", map[string]any{"market_id": m.ID, "title": m.Title, "category": m.Category})
	s.cacheMarket(ctx, m)
	s.publish(ctx, domain.ChannelMarkets, "market_created", map[string]any{"market": m})
	s.notify(ctx, EventMarketCreated, "Market created", fmt.Sprintf("%s\n%s", m.Title, m.ID))
	s.logger.InfoContext(ctx, "market_service: market created",
		slog.String("market_id", m.ID),
		slog.Float64("liquidity", b),
	)

	if err != nil {
		return m, fmt.Errorf("market_service: create market: %w", err)
	}
	return m, nil
}

func (s *MarketService) buildMarket(spec MarketSpec, b float64, hours int, now time.Time) domain.Market {
	pool := domain.PoolState{LiquidityParameter: b}
	probs := lmsr.RoundedProbabilities(pool)
	category := spec.Category
	if category == "" {
		category = domain.CategoryMeta
	}
	m := domain.Market{
		ID:             spec.ID,
		Title:          spec.Title,
		Description:    spec.Description,
		Category:       category,
		Type:           domain.MarketTypeYesNo,
		ResolutionTime: now.Add(time.Duration(hours) * time.Hour),
		CreatedAt:      now,
		IsActive:       true,
		OracleConfig:   spec.Oracle,
		CurrentData: domain.CurrentData{
			Value:         spec.CurrentValue,
			Participants:  spec.Participants,
			TimeRemaining: fmt.Sprintf("%dh", hours),
			LastUpdate:    now,
		},
		AccessRequirements: spec.Access,
		Pool:               pool,
		YesPrice:           probs[0],
		NoPrice:            probs[1],
	}
	return m.Clone()
}

// GetMarket returns one market.
func (s *MarketService) GetMarket(_ context.Context, id string) (domain.Market, error) {
	m, err := s.ledger.Get(id)
	if err != nil {
		return domain.Market{}, fmt.Errorf("market_service: get market: %w", err)
	}
	return m, nil
}

// GetMarkets returns every market in creation order.
func (s *MarketService) GetMarkets(_ context.Context) []domain.Market {
	return s.ledger.List()
}

// UpdateMarket applies an oracle patch. CurrentData fields are merged and
// LastUpdate defaults to now. A resolved market keeps its outcome: patches
// that reopen it or change the outcome fail with ErrMarketClosed.
func (s *MarketService) UpdateMarket(ctx context.Context, id string, patch domain.MarketPatch) (domain.Market, error) {
	if patch.Outcome != nil && !patch.Outcome.Valid() {
		return domain.Market{}, fmt.Errorf("market_service: update market: %w", domain.ErrInvalidOutcome)
	}

	unlock := s.ledger.Lock(id)
	defer unlock()

	m, err := s.ledger.Get(id)
	if err != nil {
		return domain.Market{}, fmt.Errorf("market_service: update market: %w", err)
	}
	if m.IsResolved && reopens(m, patch) {
		return domain.Market{}, fmt.Errorf("market_service: update market %q: resolved: %w", id, domain.ErrMarketClosed)
	}
	return s.updateLocked(ctx, m, patch, "update market")
}

// ResolveMarket closes a market with the given outcome.
func (s *MarketService) ResolveMarket(ctx context.Context, id string, outcome domain.Outcome) (domain.Market, error) {
	if !outcome.Valid() {
		return domain.Market{}, fmt.Errorf("market_service: resolve market: %w", domain.ErrInvalidOutcome)
	}

	unlock := s.ledger.Lock(id)
	defer unlock()

	current, err := s.ledger.Get(id)
	if err != nil {
		return domain.Market{}, fmt.Errorf("market_service: resolve market: %w", err)
	}
	if current.IsResolved {
		return domain.Market{}, fmt.Errorf("market_service: resolve market %q: already resolved: %w", id, domain.ErrMarketClosed)
	}

	resolved, inactive := true, false
	m, err := s.updateLocked(ctx, current, domain.MarketPatch{
		IsResolved: &resolved,
		IsActive:   &inactive,
		Outcome:    &outcome,
	}, "resolve market")
	if err != nil && (s.cfg.StrictPersistence || !errors.Is(err, domain.ErrPersistenceUnavailable)) {
		return domain.Market{}, err
	}
	if m.ID == "" {
		return domain.Market{}, err
	}

	s.audit(ctx, "market_resolved", map[string]any{"market_id": id, "outcome": string(outcome)})
	s.notify(ctx, EventMarketResolved, "Market resolved", fmt.Sprintf("%s\nOutcome: %s", m.Title, outcome))
	return m, err
}

// updateLocked applies patch to m and commits it. The caller holds the
// market lock.
func (s *MarketService) updateLocked(ctx context.Context, m domain.Market, patch domain.MarketPatch, op string) (domain.Market, error) {
	id := m.ID
	now := s.now().UTC()
	applyPatch(&m, patch, now)

	err := s.mutate(ctx,
		func(snap *domain.Snapshot) { replaceInSnapshot(snap, m) },
		func() error { return s.ledger.ReplaceState(id, m) },
	)
	if err != nil && (s.cfg.StrictPersistence || !errors.Is(err, domain.ErrPersistenceUnavailable)) {
		return domain.Market{}, fmt.Errorf("market_service: %s: %w", op, err)
	}

	s.audit(ctx, "market_updated", map[string]any{"market_id": id})
	s.cacheMarket(ctx, m)
	s.publish(ctx, domain.ChannelMarkets, "market_updated", map[string]any{"market": m})

	if err != nil {
		return m, fmt.Errorf("market_service: %s: %w", op, err)
	}
	return m.Clone(), nil
}

// reopens reports whether patch would undo a resolution.
func reopens(m domain.Market, p domain.MarketPatch) bool {
	if p.IsResolved != nil && !*p.IsResolved {
		return true
	}
	return p.Outcome != nil && (m.Outcome == nil || *m.Outcome != *p.Outcome)
}

func applyPatch(m *domain.Market, p domain.MarketPatch, now time.Time) {
	if p.Title != nil {
		m.Title = *p.Title
	}
	if p.Description != nil {
		m.Description = *p.Description
	}
	if p.IsActive != nil {
		m.IsActive = *p.IsActive
	}
	if p.IsResolved != nil {
		m.IsResolved = *p.IsResolved
	}
	if p.Outcome != nil {
		o := *p.Outcome
		m.Outcome = &o
	}
	if m.IsResolved && m.ResolvedAt == nil {
		t := now
		m.ResolvedAt = &t
	}
	if cd := p.CurrentData; cd != nil {
		if cd.Value != nil {
			m.CurrentData.Value = *cd.Value
		}
		if cd.Participants != nil {
			v := *cd.Participants
			m.CurrentData.Participants = &v
		}
		if cd.TimeRemaining != nil {
			m.CurrentData.TimeRemaining = *cd.TimeRemaining
		}
	}
	if p.CurrentData != nil && !p.CurrentData.LastUpdate.IsZero() {
		m.CurrentData.LastUpdate = p.CurrentData.LastUpdate.UTC()
	} else {
		m.CurrentData.LastUpdate = now
	}
}

// mutate runs commit and persists the result. In strict mode the snapshot,
// with apply folded in, is written first and commit only runs if the write
// succeeded.
func (s *MarketService) mutate(ctx context.Context, apply func(*domain.Snapshot), commit func() error) error {
	if s.cfg.StrictPersistence {
		s.persistMu.Lock()
		defer s.persistMu.Unlock()

		snap := s.ledger.Snapshot(s.now())
		apply(&snap)
		if err := s.store.Save(ctx, snap); err != nil {
			s.persistFailed(ctx, err)
			return err
		}
		return commit()
	}

	if err := commit(); err != nil {
		return err
	}
	return s.persist(ctx)
}

func (s *MarketService) persist(ctx context.Context) error {
	s.persistMu.Lock()
	snap := s.ledger.Snapshot(s.now())
	done, err := s.store.Enqueue(ctx, snap)
	s.persistMu.Unlock()
	if err == nil {
		err = <-done
	}
	if err != nil {
		s.persistFailed(ctx, err)
		if !errors.Is(err, domain.ErrPersistenceUnavailable) {
			err = fmt.Errorf("%w: %w", domain.ErrPersistenceUnavailable, err)
		}
		return err
	}
	return nil
}

func (s *MarketService) persistFailed(ctx context.Context, err error) {
	s.logger.ErrorContext(ctx, "market_service: snapshot persist failed",
		slog.String("error", err.Error()),
	)
	if s.deps.Metrics != nil {
		s.deps.Metrics.PersistFailed()
	}
	s.notify(ctx, EventPersistenceUnavailable, "Snapshot write failed", err.Error())
}

func replaceInSnapshot(snap *domain.Snapshot, m domain.Market) {
	for i := range snap.Markets {
		if snap.Markets[i].ID == m.ID {
			snap.Markets[i] = m.Clone()
			return
		}
	}
}

func appendInSnapshot(snap *domain.Snapshot, t domain.Trade, hotCap int) {
	trades := append(snap.Trades[t.MarketID], t.Clone())
	if over := len(trades) - hotCap; over > 0 {
		trades = trades[over:]
	}
	snap.Trades[t.MarketID] = trades
}

func (s *MarketService) recordMarkets() {
	if s.deps.Metrics != nil {
		s.deps.Metrics.SetMarkets(s.ledger.Len())
	}
}

func (s *MarketService) audit(ctx context.Context, event string, detail map[string]any) {
	if s.deps.Audit == nil {
		return
	}
	if err := s.deps.Audit.Log(ctx, event, detail); err != nil {
		s.logger.WarnContext(ctx, "market_service: audit log failed",
			slog.String("event", event),
			slog.String("error", err.Error()),
		)
	}
}

func (s *MarketService) cacheMarket(ctx context.Context, m domain.Market) {
	if s.deps.Cache == nil {
		return
	}
	if err := s.deps.Cache.Set(ctx, m); err != nil {
		s.logger.WarnContext(ctx, "market_service: cache set failed",
			slog.String("market_id", m.ID),
			slog.String("error", err.Error()),
		)
	}
}

func (s *MarketService) publish(ctx context.Context, channel, event string, fields map[string]any) {
	if s.deps.Bus == nil {
		return
	}
	fields["event"] = event
	fields["timestamp"] = s.now().UTC().Format(time.RFC3339Nano)
	payload, err := json.Marshal(fields)
	if err != nil {
		return
	}
	if err := s.deps.Bus.Publish(ctx, channel, payload); err != nil {
		s.logger.WarnContext(ctx, "market_service: publish event failed",
			slog.String("channel", channel),
			slog.String("error", err.Error()),
		)
	}
	if channel == domain.ChannelTrades {
		if err := s.deps.Bus.StreamAppend(ctx, domain.StreamTrades, payload); err != nil {
			s.logger.WarnContext(ctx, "market_service: stream append failed",
				slog.String("error", err.Error()),
			)
		}
	}
}

func (s *MarketService) notify(ctx context.Context, event, title, message string) {
	if s.deps.Notifier == nil {
		return
	}
	if err := s.deps.Notifier.Notify(ctx, event, title, message); err != nil {
		s.logger.WarnContext(ctx, "market_service: notify failed",
			slog.String("event", event),
			slog.String("error", err.Error()),
		)
	}
}

var nonSlug = regexp.MustCompile(`[^a-z0-9]+`)

func slugify(s string) string {
	slug := strings.Trim(nonSlug.ReplaceAllString(strings.ToLower(s), "-"), "-")
	if len(slug) > 48 {
		slug = strings.TrimRight(slug[:48], "-")
	}
	if slug == "" {
		slug = "untitled"
	}
	return slug
}
