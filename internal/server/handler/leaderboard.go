package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/metamarket/internal/domain"
)

// LeaderboardService ranks traders.
type LeaderboardService interface {
	Leaderboard(ctx context.Context, limit int) []domain.LeaderboardEntry
}

// AuditLister reads the audit log.
type AuditLister interface {
	List(ctx context.Context, opts domain.ListOpts) ([]domain.AuditEntry, error)
}

// StatsHandler serves the leaderboard and, when configured, the audit log.
type StatsHandler struct {
	board  LeaderboardService
	audit  AuditLister
	logger *slog.Logger
}

// NewStatsHandler creates a StatsHandler. audit may be nil.
func NewStatsHandler(board LeaderboardService, audit AuditLister, logger *slog.Logger) *StatsHandler {
	return &StatsHandler{board: board, audit: audit, logger: logger.With(slog.String("handler", "stats"))}
}

type leaderboardResponse struct {
	Entries []domain.LeaderboardEntry `json:"entries"`
	Basis   string                    `json:"basis,omitempty"`
}

// Leaderboard returns the ranked traders.
// GET /api/leaderboard?limit=20
func (h *StatsHandler) Leaderboard(w http.ResponseWriter, r *http.Request) {
	entries := h.board.Leaderboard(r.Context(), parseLimit(r, 20, 100))
	resp := leaderboardResponse{Entries: entries}
	if resp.Entries == nil {
		resp.Entries = []domain.LeaderboardEntry{}
	}
	if len(entries) > 0 {
		resp.Basis = entries[0].Basis
	}
	writeJSON(w, http.StatusOK, resp)
}

type auditEntryResponse struct {
	ID        int64          `json:"id"`
	Event     string         `json:"event"`
	Detail    map[string]any `json:"detail,omitempty"`
	CreatedAt string         `json:"createdAt"`
}

// Audit returns audit entries, newest first.
// GET /api/audit?limit=50&offset=0
func (h *StatsHandler) Audit(w http.ResponseWriter, r *http.Request) {
	if h.audit == nil {
		writeError(w, http.StatusNotFound, "audit log is not configured")
		return
	}
	entries, err := h.audit.List(r.Context(), parseListOpts(r))
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: list audit failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to list audit entries")
		return
	}
	out := make([]auditEntryResponse, 0, len(entries))
	for _, e := range entries {
		out = append(out, auditEntryResponse{
			ID:        e.ID,
			Event:     e.Event,
			Detail:    e.Detail,
			CreatedAt: e.CreatedAt.UTC().Format("2006-01-02T15:04:05.000Z07:00"),
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": out})
}
