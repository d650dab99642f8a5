package handler

import (
	"context"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	apimw "github.com/presswire/contentqueue/internal/api/middleware"
	"github.com/presswire/contentqueue/internal/planner"
	"github.com/presswire/contentqueue/internal/worker"
)

// PlannerRunner runs one planning pass.
type PlannerRunner interface {
	Run(ctx context.Context) (*planner.RunResult, error)
}

// BatchRunner runs one worker batch of up to n items.
type BatchRunner interface {
	Run(ctx context.Context, n int) *worker.BatchResult
}

// TriggerHandler exposes the planner and the worker to external schedulers.
// Both runs are detached from the request context; the worker bounds itself
// with its own time budget.
type TriggerHandler struct {
	planner  PlannerRunner
	batches  BatchRunner
	maxBatch int
	logger   *zap.Logger
}

func NewTriggerHandler(p PlannerRunner, b BatchRunner, maxBatch int, logger *zap.Logger) *TriggerHandler {
	return &TriggerHandler{planner: p, batches: b, maxBatch: maxBatch, logger: logger}
}

// RunPlanner handles POST /api/v1/planner/run
func (h *TriggerHandler) RunPlanner(w http.ResponseWriter, r *http.Request) {
	res, err := h.planner.Run(context.WithoutCancel(r.Context()))
	if err != nil {
		h.logger.Error("planner run failed",
			zap.String("correlation_id", apimw.GetCorrelationID(r.Context())),
			zap.Error(err),
		)
		respondError(w, http.StatusInternalServerError, "planner run failed")
		return
	}
	respondJSON(w, http.StatusOK, res)
}

// RunWorker handles POST /api/v1/worker/run?batch_size=N. A missing
// batch_size uses the configured default.
func (h *TriggerHandler) RunWorker(w http.ResponseWriter, r *http.Request) {
	n := 0
	if s := r.URL.Query().Get("batch_size"); s != "" {
		v, err := strconv.Atoi(s)
		if err != nil || v <= 0 {
			respondError(w, http.StatusUnprocessableEntity, "batch_size must be a positive integer")
			return
		}
		n = v
	}
	if h.maxBatch > 0 && n > h.maxBatch {
		n = h.maxBatch
	}

	res := h.batches.Run(context.WithoutCancel(r.Context()), n)
	respondJSON(w, http.StatusOK, res)
}
