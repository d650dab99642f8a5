package handler

import (
	"net/http"

	"github.com/presswire/contentqueue/internal/service"
)

// StatsHandler serves a human-readable JSON snapshot of the queue.
// Raw Prometheus metrics are available at /metrics via promhttp and are
// separate from this endpoint. Each call also refreshes the queue gauge.
type StatsHandler struct {
	svc *service.ContentService
}

func NewStatsHandler(svc *service.ContentService) *StatsHandler {
	return &StatsHandler{svc: svc}
}

// GetStats handles GET /api/v1/queue/stats
func (h *StatsHandler) GetStats(w http.ResponseWriter, r *http.Request) {
	counts, err := h.svc.Stats(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to count queue items")
		return
	}
	total := 0
	for _, n := range counts {
		total += n
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"by_status": counts,
		"total":     total,
	})
}
