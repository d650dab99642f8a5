package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	apimw "github.com/presswire/contentqueue/internal/api/middleware"
	"github.com/presswire/contentqueue/internal/domain"
	"github.com/presswire/contentqueue/internal/service"
	"github.com/presswire/contentqueue/internal/worker"
)

// ItemProcessor executes a single queue item on demand.
type ItemProcessor interface {
	ProcessSingle(ctx context.Context, id string) (*worker.ItemOutcome, error)
}

// QueueHandler serves operator access to the content queue.
type QueueHandler struct {
	svc       *service.ContentService
	processor ItemProcessor
	logger    *zap.Logger
}

func NewQueueHandler(svc *service.ContentService, processor ItemProcessor, logger *zap.Logger) *QueueHandler {
	return &QueueHandler{svc: svc, processor: processor, logger: logger}
}

// Create handles POST /api/v1/queue
func (h *QueueHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req domain.ManualEnqueueRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	item, err := h.svc.QueueManual(r.Context(), req)
	if err != nil {
		h.logger.Warn("manual enqueue failed",
			zap.String("correlation_id", apimw.GetCorrelationID(r.Context())),
			zap.Error(err),
		)
		mapError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, item)
}

// GetByID handles GET /api/v1/queue/{id}
func (h *QueueHandler) GetByID(w http.ResponseWriter, r *http.Request) {
	item, err := h.svc.GetByID(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		mapError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, item)
}

// List handles GET /api/v1/queue
func (h *QueueHandler) List(w http.ResponseWriter, r *http.Request) {
	filter, err := parseListFilter(r)
	if err != nil {
		respondError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	items, total, err := h.svc.List(r.Context(), filter)
	if err != nil {
		h.logger.Error("list queue failed", zap.Error(err))
		respondError(w, http.StatusInternalServerError, "failed to list queue items")
		return
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"data":  items,
		"total": total,
		"page":  filter.Page,
		"limit": filter.Limit,
	})
}

// Process handles POST /api/v1/queue/{id}/process. The work runs detached
// from the request so a disconnecting client cannot strand a locked item.
func (h *QueueHandler) Process(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	out, err := h.processor.ProcessSingle(context.WithoutCancel(r.Context()), id)
	if err != nil {
		h.logger.Info("manual processing refused",
			zap.String("item_id", id),
			zap.String("correlation_id", apimw.GetCorrelationID(r.Context())),
			zap.Error(err),
		)
		mapError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, out)
}

func parseListFilter(r *http.Request) (domain.ListFilter, error) {
	q := r.URL.Query()
	filter := domain.ListFilter{Page: 1, Limit: 20}

	if p, err := strconv.Atoi(q.Get("page")); err == nil && p > 0 {
		filter.Page = p
	}
	if l, err := strconv.Atoi(q.Get("limit")); err == nil && l > 0 && l <= 100 {
		filter.Limit = l
	}
	if s := q.Get("status"); s != "" {
		st := domain.Status(s)
		if !st.IsValid() {
			return filter, errInvalidStatus(s)
		}
		filter.Status = &st
	}
	if ch := q.Get("channel"); ch != "" {
		c := domain.Channel(ch)
		filter.Channel = &c
	}
	if id := q.Get("context_id"); id != "" {
		filter.ContextID = &id
	}
	return filter, nil
}

type errInvalidStatus string

func (e errInvalidStatus) Error() string { return "unknown status " + strconv.Quote(string(e)) }
