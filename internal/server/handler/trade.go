package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/alanyoungcy/metamarket/internal/domain"
)

// TradeService is the trading surface of the orchestrator.
type TradeService interface {
	QuoteTrade(ctx context.Context, marketID string, outcome domain.Outcome, shares float64) (domain.Quote, error)
	QuoteSell(ctx context.Context, marketID string, outcome domain.Outcome, shares float64) (domain.Quote, error)
	ExecuteTrade(ctx context.Context, req domain.TradeRequest) (domain.ExecutionResult, error)
	ListTrades(ctx context.Context, marketID string, limit int) ([]domain.Trade, error)
}

// TradeHandler serves quotes, trade execution and trade history.
type TradeHandler struct {
	trades TradeService
	logger *slog.Logger
}

// NewTradeHandler creates a TradeHandler.
func NewTradeHandler(trades TradeService, logger *slog.Logger) *TradeHandler {
	return &TradeHandler{trades: trades, logger: logger.With(slog.String("handler", "trade"))}
}

type quoteRequest struct {
	Outcome string  `json:"outcome" validate:"required"`
	Shares  float64 `json:"shares"`
	Side    string  `json:"side" validate:"omitempty,oneof=buy sell BUY SELL"`
}

type tradeRequest struct {
	Outcome string  `json:"outcome" validate:"required"`
	Shares  float64 `json:"shares"`
	Side    string  `json:"side" validate:"omitempty,oneof=buy sell BUY SELL"`
	Signer  *string `json:"signer" validate:"omitempty,min=1,max=128"`
}

func isBuy(side string) bool { return !strings.EqualFold(side, "sell") }

// Quote prices a trade without changing state.
// POST /api/markets/{id}/quote
func (h *TradeHandler) Quote(w http.ResponseWriter, r *http.Request) {
	var req quoteRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	outcome, err := domain.ParseOutcome(req.Outcome)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	id := r.PathValue("id")
	var q domain.Quote
	if isBuy(req.Side) {
		q, err = h.trades.QuoteTrade(r.Context(), id, outcome, req.Shares)
	} else {
		q, err = h.trades.QuoteSell(r.Context(), id, outcome, req.Shares)
	}
	if err != nil {
		h.fail(w, r, "quote", err)
		return
	}
	writeJSON(w, http.StatusOK, q)
}

// ExecuteTrade settles and commits a trade.
// POST /api/markets/{id}/trades
func (h *TradeHandler) ExecuteTrade(w http.ResponseWriter, r *http.Request) {
	var req tradeRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	outcome, err := domain.ParseOutcome(req.Outcome)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	res, err := h.trades.ExecuteTrade(r.Context(), domain.TradeRequest{
		MarketID: r.PathValue("id"),
		Outcome:  outcome,
		Shares:   req.Shares,
		IsBuy:    isBuy(req.Side),
		Signer:   req.Signer,
	})
	if err != nil && !(res.Trade.ID != "" && persistedWithWarning(w, err)) {
		h.fail(w, r, "execute trade", err)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

type listTradesResponse struct {
	Trades []domain.Trade `json:"trades"`
}

// ListTrades returns the recent trades of a market, oldest first.
// GET /api/markets/{id}/trades?limit=50
func (h *TradeHandler) ListTrades(w http.ResponseWriter, r *http.Request) {
	trades, err := h.trades.ListTrades(r.Context(), r.PathValue("id"), parseLimit(r, 50, 500))
	if err != nil {
		h.fail(w, r, "list trades", err)
		return
	}
	if trades == nil {
		trades = []domain.Trade{}
	}
	writeJSON(w, http.StatusOK, listTradesResponse{Trades: trades})
}

func (h *TradeHandler) fail(w http.ResponseWriter, r *http.Request, op string, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		h.logger.ErrorContext(r.Context(), "handler: "+op+" failed",
			slog.String("path", r.URL.Path),
			slog.String("error", err.Error()),
		)
	}
	writeError(w, status, err.Error())
}
