package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/alanyoungcy/metamarket/internal/domain"
	"github.com/alanyoungcy/metamarket/internal/lmsr"
	"github.com/alanyoungcy/metamarket/internal/service"
)

// MarketService defines the methods that the market handler requires from the
// service layer. It is declared locally so the handler package does not depend
// on the concrete service implementation.
type MarketService interface {
	GetMarket(ctx context.Context, id string) (domain.Market, error)
	GetMarkets(ctx context.Context) []domain.Market
	GetMarketsForAddress(ctx context.Context, address string) ([]domain.Market, error)
	CreateMarket(ctx context.Context, spec service.MarketSpec) (domain.Market, error)
	UpdateMarket(ctx context.Context, id string, patch domain.MarketPatch) (domain.Market, error)
	ResolveMarket(ctx context.Context, id string, outcome domain.Outcome) (domain.Market, error)

	CreateAverageScoreMarket(ctx context.Context, target float64) (domain.Market, error)
	CreateUserPerformanceMarket(ctx context.Context, username, address, timeframe string) (domain.Market, error)
	CreateNftPerformanceMarket(ctx context.Context) (domain.Market, error)
	CreateCommunityMarket(ctx context.Context, metric string, target float64) (domain.Market, error)
}

// MarketHandler serves market-related HTTP endpoints.
type MarketHandler struct {
	markets MarketService
	logger  *slog.Logger
}

// NewMarketHandler creates a MarketHandler with the given service and logger.
func NewMarketHandler(markets MarketService, logger *slog.Logger) *MarketHandler {
	return &MarketHandler{
		markets: markets,
		logger:  logger.With(slog.String("handler", "market")),
	}
}

// marketView adds the market maker's worst-case subsidy to a market.
type marketView struct {
	domain.Market
	MaxLoss float64 `json:"maxLoss"`
}

func viewOf(m domain.Market) marketView {
	return marketView{Market: m, MaxLoss: lmsr.Round(lmsr.MaxLoss(m.Pool.LiquidityParameter))}
}

type listMarketsResponse struct {
	Markets []marketView `json:"markets"`
	Total   int          `json:"total"`
}

// ListMarkets returns markets in creation order. ?address= keeps only the
// markets that address may trade; ?category= and ?active=true filter further.
// GET /api/markets
func (h *MarketHandler) ListMarkets(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	var markets []domain.Market
	if addr := strings.TrimSpace(q.Get("address")); addr != "" {
		var err error
		markets, err = h.markets.GetMarketsForAddress(r.Context(), addr)
		if err != nil {
			h.fail(w, r, "list markets for address", err)
			return
		}
	} else {
		markets = h.markets.GetMarkets(r.Context())
	}

	category := q.Get("category")
	activeOnly := q.Get("active") == "true"
	out := make([]marketView, 0, len(markets))
	for _, m := range markets {
		if category != "" && !strings.EqualFold(m.Category, category) {
			continue
		}
		if activeOnly && !m.Tradable() {
			continue
		}
		out = append(out, viewOf(m))
	}

	writeJSON(w, http.StatusOK, listMarketsResponse{Markets: out, Total: len(out)})
}

// GetMarket returns a single market by its ID.
// GET /api/markets/{id}
func (h *MarketHandler) GetMarket(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	market, err := h.markets.GetMarket(r.Context(), id)
	if err != nil {
		h.fail(w, r, "get market", err)
		return
	}
	writeJSON(w, http.StatusOK, viewOf(market))
}

type createMarketRequest struct {
	ID                 string                    `json:"id" validate:"omitempty,max=200"`
	Title              string                    `json:"title" validate:"required,max=300"`
	Description        string                    `json:"description" validate:"max=2000"`
	Category           string                    `json:"category" validate:"max=64"`
	LiquidityParameter float64                   `json:"liquidityParameter" validate:"gte=0"`
	ResolutionHours    int                       `json:"resolutionHours" validate:"gte=0,lte=8760"`
	OracleConfig       domain.OracleConfig       `json:"oracleConfig"`
	CurrentValue       float64                   `json:"currentValue"`
	Participants       *int                      `json:"participants" validate:"omitempty,gte=0"`
	AccessRequirements domain.AccessRequirements `json:"accessRequirements"`
}

// CreateMarket opens a new market.
// POST /api/markets
func (h *MarketHandler) CreateMarket(w http.ResponseWriter, r *http.Request) {
	var req createMarketRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	m, err := h.markets.CreateMarket(r.Context(), service.MarketSpec{
		ID:                    req.ID,
		Title:                 req.Title,
		Description:           req.Description,
		Category:              req.Category,
		LiquidityParameter:    req.LiquidityParameter,
		ResolutionOffsetHours: req.ResolutionHours,
		Oracle:                req.OracleConfig,
		CurrentValue:          req.CurrentValue,
		Participants:          req.Participants,
		Access:                req.AccessRequirements,
	})
	h.respondMarket(w, r, "create market", http.StatusCreated, m, err)
}

type templateRequest struct {
	Type      string  `json:"type" validate:"required,oneof=average_score user_performance nft_performance community"`
	Target    float64 `json:"target"`
	Username  string  `json:"username" validate:"required_if=Type user_performance,max=64"`
	Address   string  `json:"address" validate:"max=128"`
	Timeframe string  `json:"timeframe" validate:"omitempty,oneof=daily weekly"`
	Metric    string  `json:"metric" validate:"required_if=Type community"`
}

// CreateFromTemplate opens one of the built-in data-driven markets.
// POST /api/markets/templates
func (h *MarketHandler) CreateFromTemplate(w http.ResponseWriter, r *http.Request) {
	var req templateRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	var (
		m   domain.Market
		err error
	)
	switch req.Type {
	case "average_score":
		m, err = h.markets.CreateAverageScoreMarket(r.Context(), req.Target)
	case "user_performance":
		m, err = h.markets.CreateUserPerformanceMarket(r.Context(), req.Username, req.Address, req.Timeframe)
	case "nft_performance":
		m, err = h.markets.CreateNftPerformanceMarket(r.Context())
	case "community":
		m, err = h.markets.CreateCommunityMarket(r.Context(), req.Metric, req.Target)
	}
	h.respondMarket(w, r, "create template market", http.StatusCreated, m, err)
}

type currentDataRequest struct {
	Value         *float64 `json:"value"`
	Participants  *int     `json:"participants" validate:"omitempty,gte=0"`
	TimeRemaining *string  `json:"timeRemaining" validate:"omitempty,max=64"`
}

type patchMarketRequest struct {
	Title       *string             `json:"title" validate:"omitempty,min=1,max=300"`
	Description *string             `json:"description" validate:"omitempty,max=2000"`
	IsActive    *bool               `json:"isActive"`
	CurrentData *currentDataRequest `json:"currentData"`
}

// UpdateMarket applies an oracle data update.
// PATCH /api/markets/{id}
func (h *MarketHandler) UpdateMarket(w http.ResponseWriter, r *http.Request) {
	var req patchMarketRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	patch := domain.MarketPatch{
		Title:       req.Title,
		Description: req.Description,
		IsActive:    req.IsActive,
	}
	if cd := req.CurrentData; cd != nil {
		patch.CurrentData = &domain.CurrentDataPatch{
			Value:         cd.Value,
			Participants:  cd.Participants,
			TimeRemaining: cd.TimeRemaining,
		}
	}

	m, err := h.markets.UpdateMarket(r.Context(), r.PathValue("id"), patch)
	h.respondMarket(w, r, "update market", http.StatusOK, m, err)
}

type resolveRequest struct {
	Outcome string `json:"outcome" validate:"required"`
}

// ResolveMarket closes a market with its outcome.
// POST /api/markets/{id}/resolve
func (h *MarketHandler) ResolveMarket(w http.ResponseWriter, r *http.Request) {
	var req resolveRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	outcome, err := domain.ParseOutcome(req.Outcome)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	m, err := h.markets.ResolveMarket(r.Context(), r.PathValue("id"), outcome)
	h.respondMarket(w, r, "resolve market", http.StatusOK, m, err)
}

// respondMarket writes m unless err is fatal. A committed change whose
// snapshot write failed is still returned, flagged by a warning header.
func (h *MarketHandler) respondMarket(w http.ResponseWriter, r *http.Request, op string, status int, m domain.Market, err error) {
	if err != nil && !(m.ID != "" && persistedWithWarning(w, err)) {
		h.fail(w, r, op, err)
		return
	}
	writeJSON(w, status, viewOf(m))
}

func (h *MarketHandler) fail(w http.ResponseWriter, r *http.Request, op string, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		h.logger.ErrorContext(r.Context(), "handler: "+op+" failed",
			slog.String("path", r.URL.Path),
			slog.String("error", err.Error()),
		)
	}
	writeError(w, status, err.Error())
}
