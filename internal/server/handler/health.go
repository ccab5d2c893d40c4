package handler

import (
	"net/http"
	"time"
)

// SnapshotStatus reports the persistence backend state. *snapshot.Store
// satisfies it.
type SnapshotStatus interface {
	Backend() string
	QueueDepth() int
}

// HealthHandler serves the health-check endpoint.
type HealthHandler struct {
	mode       string
	settlement string
	snapshots  SnapshotStatus
	markets    func() int
	now        func() time.Time
}

// NewHealthHandler creates a HealthHandler. snapshots and markets may be nil.
func NewHealthHandler(mode, settlementMode string, snapshots SnapshotStatus, markets func() int) *HealthHandler {
	return &HealthHandler{
		mode:       mode,
		settlement: settlementMode,
		snapshots:  snapshots,
		markets:    markets,
		now:        time.Now,
	}
}

// HealthCheck responds with a JSON status indicating the server is alive.
// GET /api/health
func (h *HealthHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	body := map[string]any{
		"status":     "ok",
		"timestamp":  h.now().UTC().Format(time.RFC3339),
		"mode":       h.mode,
		"settlement": h.settlement,
	}
	if h.snapshots != nil {
		body["persistence"] = map[string]any{
			"backend":     h.snapshots.Backend(),
			"queue_depth": h.snapshots.QueueDepth(),
		}
	}
	if h.markets != nil {
		body["markets"] = h.markets()
	}
	writeJSON(w, http.StatusOK, body)
}
