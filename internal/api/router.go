package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/presswire/contentqueue/internal/api/handler"
	apimw "github.com/presswire/contentqueue/internal/api/middleware"
	"github.com/presswire/contentqueue/internal/service"
)

// Deps are the collaborators behind the HTTP surface.
type Deps struct {
	Service   *service.ContentService
	Planner   handler.PlannerRunner
	Batches   handler.BatchRunner
	Processor handler.ItemProcessor
	DB        handler.Pinger
	Gatherer  prometheus.Gatherer

	TriggerSecret string
	MaxBatchSize  int
}

// NewRouter wires the chi router, attaches all middleware, and registers
// every route. It is the single source of truth for the HTTP surface area.
func NewRouter(deps Deps, logger *zap.Logger) http.Handler {
	r := chi.NewRouter()

	r.Use(chimw.Recoverer)
	r.Use(chimw.RealIP)
	r.Use(chimw.RequestSize(1 << 20))
	r.Use(apimw.CorrelationID)
	r.Use(apimw.RequestLogger(logger, "/health", "/metrics"))

	qh := handler.NewQueueHandler(deps.Service, deps.Processor, logger)
	sh := handler.NewStatsHandler(deps.Service)
	th := handler.NewTriggerHandler(deps.Planner, deps.Batches, deps.MaxBatchSize, logger)
	hh := handler.NewHealthHandler(deps.DB)

	r.Get("/health", hh.Health)
	r.Handle("/metrics", promhttp.HandlerFor(deps.Gatherer, promhttp.HandlerOpts{}))

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(apimw.RequireSecret(deps.TriggerSecret))

		r.Post("/planner/run", th.RunPlanner)
		r.Post("/worker/run", th.RunWorker)

		// /queue/stats must be registered before /queue/{id} so chi does
		// not treat "stats" as an id.
		r.Get("/queue/stats", sh.GetStats)
		r.Post("/queue", qh.Create)
		r.Get("/queue", qh.List)
		r.Get("/queue/{id}", qh.GetByID)
		r.Post("/queue/{id}/process", qh.Process)
	})

	return r
}
